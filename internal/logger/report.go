package logger

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Severity is the category of a user-visible report.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityError
)

func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "INFO"
	case SeverityWarning:
		return "WARNING"
	case SeverityError:
		return "ERROR"
	default:
		return fmt.Sprintf("Severity(%d)", int(s))
	}
}

// Reporter receives user-visible messages.
type Reporter interface {
	Report(sev Severity, msg string)
}

// ReporterFunc adapts a function to Reporter.
type ReporterFunc func(sev Severity, msg string)

// Report implements Reporter.
func (f ReporterFunc) Report(sev Severity, msg string) { f(sev, msg) }

// Report logs msg on log at the level matching sev and forwards it to r.
// Either may be nil.
func Report(log *zap.Logger, r Reporter, sev Severity, msg string, fields ...zap.Field) {
	if log != nil {
		switch sev {
		case SeverityWarning:
			log.Warn(msg, fields...)
		case SeverityError:
			log.Error(msg, fields...)
		default:
			log.Info(msg, fields...)
		}
	}
	if r != nil {
		r.Report(sev, msg)
	}
}

// Message is one recorded report.
type Message struct {
	Severity Severity
	Text     string
}

// Recorder is a Reporter that keeps every message. Safe for concurrent use.
type Recorder struct {
	mu       sync.Mutex
	messages []Message
}

// Report implements Reporter.
func (r *Recorder) Report(sev Severity, msg string) {
	r.mu.Lock()
	r.messages = append(r.messages, Message{Severity: sev, Text: msg})
	r.mu.Unlock()
}

// Messages returns a copy of the recorded messages.
func (r *Recorder) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message(nil), r.messages...)
}

// Has reports whether a message with the given severity and text was seen.
func (r *Recorder) Has(sev Severity, text string) bool {
	for _, m := range r.Messages() {
		if m.Severity == sev && m.Text == text {
			return true
		}
	}
	return false
}
