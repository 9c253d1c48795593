// Package notify delivers operator alerts. The SMTP implementation is used in
// production; LogNotifier stands in when no mail relay is configured.
package notify

import (
	"context"
	"strings"

	"go.uber.org/zap"
)

// Field is one "key: value" line of an alert body.
type Field struct {
	Key   string
	Value string
}

// Message is a transport-neutral alert. Fields keep their order in the body.
type Message struct {
	Subject string
	Fields  []Field
}

// Body renders the fields as ordered "key: value" lines.
func (m Message) Body() string {
	var b strings.Builder
	for _, f := range m.Fields {
		b.WriteString(f.Key)
		b.WriteString(": ")
		b.WriteString(f.Value)
		b.WriteString("\r\n")
	}
	return b.String()
}

// Notifier sends a message to the configured recipients.
type Notifier interface {
	Send(ctx context.Context, msg Message) error
}

// Compile-time interface guards.
var (
	_ Notifier = (*LogNotifier)(nil)
	_ Notifier = (*SMTPNotifier)(nil)
)

// LogNotifier writes alerts to the log instead of sending them.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier creates a LogNotifier.
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Send(_ context.Context, msg Message) error {
	fields := make([]zap.Field, 0, len(msg.Fields)+1)
	fields = append(fields, zap.String("subject", msg.Subject))
	for _, f := range msg.Fields {
		fields = append(fields, zap.String(f.Key, f.Value))
	}
	n.logger.Warn("alert (mail relay not configured)", fields...)
	return nil
}
