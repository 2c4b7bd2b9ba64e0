package notify

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"net"
	"net/smtp"
	"strconv"
	"strings"

	"github.com/ashureev/interviewd/internal/domain"
)

var emailTemplate = template.Must(template.New("email").Parse(`<html>
<body>
<h2>Session {{.SessionID}} completed</h2>
<p>Type: {{.SessionType}}<br>Started: {{.CreatedAt.Format "2006-01-02 15:04:05 MST"}}<br>Completed: {{.CompletedAt.Format "2006-01-02 15:04:05 MST"}}</p>
{{if .Summary}}<p>Answered {{.Summary.QuestionsAsked}} of {{.Summary.TotalQuestions}} questions.</p>
<table border="1" cellpadding="6" cellspacing="0">
<tr><th>Question</th><th>Answer</th></tr>
{{range .Summary.Responses}}<tr><td>{{.Question}}</td><td>{{.Answer}}</td></tr>
{{end}}</table>{{end}}
</body>
</html>
`))

func renderEmail(p Payload) (subject, body string, err error) {
	var buf bytes.Buffer
	if err := emailTemplate.Execute(&buf, p); err != nil {
		return "", "", fmt.Errorf("render email: %w", err)
	}
	return fmt.Sprintf("Session %s completed", p.SessionID), buf.String(), nil
}

// SMTPConfig holds outgoing mail settings.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// SMTPMailer sends HTML mail through an SMTP relay with STARTTLS when offered.
type SMTPMailer struct {
	cfg  SMTPConfig
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewSMTPMailer creates a mailer. From defaults to Username.
func NewSMTPMailer(cfg SMTPConfig) *SMTPMailer {
	if cfg.From == "" {
		cfg.From = cfg.Username
	}
	return &SMTPMailer{cfg: cfg, send: smtp.SendMail}
}

// SendEmail delivers one message to to.
func (m *SMTPMailer) SendEmail(_ context.Context, to, subject, htmlBody string) error {
	if m.cfg.Host == "" || m.cfg.From == "" {
		return fmt.Errorf("%w: smtp is not configured", domain.ErrNotification)
	}
	if strings.ContainsAny(to, "\r\n") || strings.ContainsAny(subject, "\r\n") {
		return fmt.Errorf("%w: header contains line break", domain.ErrNotification)
	}

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "From: %s\r\n", m.cfg.From)
	fmt.Fprintf(&msg, "To: %s\r\n", to)
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/html; charset=\"UTF-8\"\r\n\r\n")
	msg.WriteString(htmlBody)

	var auth smtp.Auth
	if m.cfg.Username != "" {
		auth = smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
	}

	addr := net.JoinHostPort(m.cfg.Host, strconv.Itoa(m.cfg.Port))
	if err := m.send(addr, auth, m.cfg.From, []string{to}, msg.Bytes()); err != nil {
		return fmt.Errorf("%w: send mail to %s: %w", domain.ErrNotification, to, err)
	}
	return nil
}
