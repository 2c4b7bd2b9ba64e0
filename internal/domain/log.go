package domain

import "time"

// Actor identifies who produced a log entry.
type Actor string

const (
	ActorAgent Actor = "agent"
	ActorUser  Actor = "user"
)

// LogStatus records how an entry affected the conversation.
type LogStatus string

const (
	// LogAnswered marks agent output and accepted answers.
	LogAnswered LogStatus = "answered"
	// LogRetried marks answers that were rejected and re-prompted.
	LogRetried LogStatus = "retried"
)

// LogEntry is one persisted conversation turn.
type LogEntry struct {
	Actor      Actor     `json:"actor"`
	Text       string    `json:"text"`
	Timestamp  time.Time `json:"timestamp"`
	Status     LogStatus `json:"status"`
	QuestionID string    `json:"question_id,omitempty"`
	Attempts   int       `json:"attempts"`
}

func (e LogEntry) sameAs(other LogEntry) bool {
	return e.Actor == other.Actor &&
		e.Text == other.Text &&
		e.Status == other.Status &&
		e.QuestionID == other.QuestionID
}

// Log is the append-only conversation record of a session.
type Log []LogEntry

// Append adds entry unless it repeats the most recent entry from the same actor,
// in which case that entry's attempt counter is bumped in place. It reports
// whether a new entry was added.
func (l *Log) Append(entry LogEntry) bool {
	if entry.Attempts <= 0 {
		entry.Attempts = 1
	}
	for i := len(*l) - 1; i >= 0; i-- {
		last := &(*l)[i]
		if last.Actor != entry.Actor {
			continue
		}
		if last.sameAs(entry) {
			last.Attempts += entry.Attempts
			return false
		}
		break
	}
	*l = append(*l, entry)
	return true
}
