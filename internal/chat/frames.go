package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/ashureev/interviewd/internal/conversation"
	"github.com/ashureev/interviewd/internal/domain"
)

// Outbound frame types.
const (
	FrameUIConfig      = "ui_config"
	FrameAgentResponse = "agent_response"
	FrameUserMessage   = "user_message"
	FrameError         = "error"
)

// Close codes sent when a session cannot be served.
const (
	StatusInvalidContent  websocket.StatusCode = 4001
	StatusSessionInvalid  websocket.StatusCode = 4003
	StatusSessionNotFound websocket.StatusCode = 4004
)

// Close reasons paired with the codes above.
const (
	ReasonInvalidContent  = "invalid-content"
	ReasonSessionInvalid  = "session-invalid-or-expired"
	ReasonSessionNotFound = "session-not-found"
	ReasonInternal        = "internal-error"
)

// Frame is one outbound JSON message.
type Frame struct {
	Type      string    `json:"type"`
	Content   string    `json:"content,omitempty"`
	Data      any       `json:"data,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ResponseData is the payload of an agent_response frame.
type ResponseData struct {
	IsComplete bool              `json:"is_complete"`
	QuestionID string            `json:"question_id,omitempty"`
	AnswerType domain.AnswerType `json:"answerType,omitempty"`
	Options    []string          `json:"options,omitempty"`
	Summary    *domain.Summary   `json:"summary,omitempty"`
	Replay     bool              `json:"replay,omitempty"`
}

// UIConfigData is the payload of a ui_config frame.
type UIConfigData struct {
	Kind       string         `json:"kind"`
	ClientName string         `json:"client_name,omitempty"`
	Avatar     bool           `json:"avatar"`
	UI         map[string]any `json:"ui,omitempty"`
}

// ErrorData is the payload of an error frame.
type ErrorData struct {
	Code string `json:"code"`
}

// inbound is the only message shape a client sends.
type inbound struct {
	Content *string `json:"content"`
}

func uiConfigFrame(s *domain.Session) Frame {
	return Frame{
		Type: FrameUIConfig,
		Data: UIConfigData{
			Kind:       s.Kind,
			ClientName: s.Content.ClientName,
			Avatar:     s.Configs.Avatar,
			UI:         s.Configs.UI,
		},
		Timestamp: time.Now().UTC(),
	}
}

func responseFrame(msg conversation.Message) Frame {
	data := ResponseData{IsComplete: msg.IsComplete, Summary: msg.Summary}
	if q := msg.Question; q != nil {
		data.QuestionID = q.ID
		data.AnswerType = q.AnswerType
		data.Options = q.Options
	}
	return Frame{Type: FrameAgentResponse, Content: msg.Content, Data: data, Timestamp: time.Now().UTC()}
}

func replayFrames(history []domain.LogEntry) []Frame {
	frames := make([]Frame, 0, len(history))
	for _, e := range history {
		f := Frame{
			Type:      FrameAgentResponse,
			Content:   e.Text,
			Data:      ResponseData{QuestionID: e.QuestionID, Replay: true},
			Timestamp: e.Timestamp,
		}
		if e.Actor == domain.ActorUser {
			f.Type = FrameUserMessage
		}
		frames = append(frames, f)
	}
	return frames
}

func pendingFrame(q *domain.Question) Frame {
	return Frame{
		Type:      FrameAgentResponse,
		Data:      ResponseData{QuestionID: q.ID, AnswerType: q.AnswerType, Options: q.Options},
		Timestamp: time.Now().UTC(),
	}
}

func errorFrame(code, message string) Frame {
	return Frame{Type: FrameError, Content: message, Data: ErrorData{Code: code}, Timestamp: time.Now().UTC()}
}

// Transport is a live client channel bound to one session.
type Transport interface {
	Send(ctx context.Context, f Frame) error
	Close(code websocket.StatusCode, reason string) error
}

const writeTimeout = 10 * time.Second

// wsTransport sends frames over a WebSocket connection.
type wsTransport struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func newWSTransport(conn *websocket.Conn) *wsTransport {
	return &wsTransport{conn: conn}
}

func (t *wsTransport) Send(ctx context.Context, f Frame) error {
	payload, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := t.conn.Write(ctx, websocket.MessageText, payload); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrTransport, err)
	}
	return nil
}

func (t *wsTransport) Close(code websocket.StatusCode, reason string) error {
	return t.conn.Close(code, reason)
}
