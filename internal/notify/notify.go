// Package notify delivers account emails (welcome and password reset)
// through a configurable sender: the application log, SMTP, or an AMQP
// queue consumed by an external mail worker.
package notify

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"text/template"

	"go.uber.org/zap"

	"github.com/noah-isme/tour-booking-api/pkg/config"
	"github.com/noah-isme/tour-booking-api/pkg/jobs"
)

// Kind selects the template of a message.
type Kind string

const (
	KindWelcome       Kind = "welcome"
	KindPasswordReset Kind = "passwordReset"
)

// Message is an outbound email addressed to one user.
type Message struct {
	To   string            `json:"to"`
	Name string            `json:"name"`
	Kind Kind              `json:"kind"`
	Data map[string]string `json:"data,omitempty"`
}

// FirstName is the first word of the recipient name.
func (m Message) FirstName() string {
	if fields := strings.Fields(m.Name); len(fields) > 0 {
		return fields[0]
	}
	return m.Name
}

// Sender delivers messages.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

type mailTemplate struct {
	subject string
	body    *template.Template
}

var templates = map[Kind]mailTemplate{
	KindWelcome: {
		subject: "Welcome to the Tours family!",
		body: template.Must(template.New("welcome").Parse(`Hi {{.FirstName}},

Welcome to Tours, we're glad to have you on board.
Upload a profile photo and start exploring: {{index .Data "url"}}
`)),
	},
	KindPasswordReset: {
		subject: "Your password reset token (valid for 10 minutes)",
		body: template.Must(template.New("passwordReset").Parse(`Hi {{.FirstName}},

Forgot your password? Submit a PATCH request with your new password and
passwordConfirm to: {{index .Data "url"}}

If you didn't forget your password, please ignore this email.
`)),
	},
}

// Render produces the subject and plain-text body of msg.
func Render(msg Message) (string, string, error) {
	tmpl, ok := templates[msg.Kind]
	if !ok {
		return "", "", fmt.Errorf("unknown message kind %q", msg.Kind)
	}
	var body bytes.Buffer
	if err := tmpl.body.Execute(&body, msg); err != nil {
		return "", "", fmt.Errorf("render %s: %w", msg.Kind, err)
	}
	return tmpl.subject, body.String(), nil
}

// NewSender picks the sender configured by MAIL_SENDER.
func NewSender(cfg config.MailConfig, logger *zap.Logger) (Sender, error) {
	switch cfg.Sender {
	case config.MailSenderSMTP:
		return NewSMTPSender(cfg.SMTPHost, cfg.SMTPPort, cfg.From), nil
	case config.MailSenderAMQP:
		return NewAMQPSender(cfg.AMQPURL, cfg.Queue)
	default:
		return NewLogSender(logger), nil
	}
}

// JobHandler adapts a sender into a job queue handler.
func JobHandler(sender Sender) jobs.Handler[Message] {
	return func(ctx context.Context, job jobs.Job[Message]) error {
		return sender.Send(ctx, job.Payload)
	}
}
