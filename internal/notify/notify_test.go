package notify

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/smtp"
	"testing"
	"time"

	"github.com/emersion/go-message/mail"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/noah-isme/tour-booking-api/pkg/config"
	"github.com/noah-isme/tour-booking-api/pkg/jobs"
)

func resetMessage() Message {
	return Message{
		To:   "jonas@example.com",
		Name: "Jonas Schmedtmann",
		Kind: KindPasswordReset,
		Data: map[string]string{"url": "http://localhost:3000/api/v1/users/resetPassword/abc"},
	}
}

func TestRenderUsesFirstNameAndURL(t *testing.T) {
	subject, body, err := Render(resetMessage())
	require.NoError(t, err)
	assert.Contains(t, subject, "valid for 10 minutes")
	assert.Contains(t, body, "Hi Jonas,")
	assert.Contains(t, body, "/users/resetPassword/abc")
}

func TestRenderRejectsUnknownKind(t *testing.T) {
	_, _, err := Render(Message{Kind: "invoice"})
	require.Error(t, err)
}

func TestLogSenderWritesMessage(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	sender := NewLogSender(zap.New(core))

	require.NoError(t, sender.Send(context.Background(), resetMessage()))
	entries := logs.FilterMessage("mail").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "jonas@example.com", entries[0].ContextMap()["to"])
}

func TestSMTPSenderComposesMIMEMessage(t *testing.T) {
	sender := NewSMTPSender("mail.local", 2525, "Tours <hello@tours.local>")
	sender.now = func() time.Time { return time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC) }

	var (
		gotAddr string
		gotFrom string
		gotTo   []string
		gotRaw  []byte
	)
	sender.send = func(addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotFrom, gotTo, gotRaw = addr, from, to, msg
		return nil
	}

	require.NoError(t, sender.Send(context.Background(), resetMessage()))
	assert.Equal(t, "mail.local:2525", gotAddr)
	assert.Equal(t, "hello@tours.local", gotFrom)
	assert.Equal(t, []string{"jonas@example.com"}, gotTo)

	mr, err := mail.CreateReader(bytes.NewReader(gotRaw))
	require.NoError(t, err)
	subject, err := mr.Header.Subject()
	require.NoError(t, err)
	assert.Equal(t, "Your password reset token (valid for 10 minutes)", subject)

	part, err := mr.NextPart()
	require.NoError(t, err)
	body, err := io.ReadAll(part.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "/users/resetPassword/abc")
}

func TestSMTPSenderWrapsRelayFailure(t *testing.T) {
	sender := NewSMTPSender("mail.local", 25, "hello@tours.local")
	relayErr := errors.New("connection refused")
	sender.send = func(string, smtp.Auth, string, []string, []byte) error { return relayErr }

	err := sender.Send(context.Background(), resetMessage())
	require.ErrorIs(t, err, relayErr)
}

func TestPublishingIsPersistentJSON(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	pub, err := publishing(resetMessage(), now)
	require.NoError(t, err)
	assert.Equal(t, amqp.Persistent, pub.DeliveryMode)
	assert.Equal(t, "application/json", pub.ContentType)
	assert.Equal(t, string(KindPasswordReset), pub.Type)

	var decoded Message
	require.NoError(t, json.Unmarshal(pub.Body, &decoded))
	assert.Equal(t, resetMessage(), decoded)
}

func TestNewSenderDefaultsToLog(t *testing.T) {
	sender, err := NewSender(config.MailConfig{Sender: config.MailSenderLog}, nil)
	require.NoError(t, err)
	assert.IsType(t, &LogSender{}, sender)

	sender, err = NewSender(config.MailConfig{Sender: config.MailSenderSMTP, SMTPHost: "localhost", SMTPPort: 1025}, nil)
	require.NoError(t, err)
	assert.IsType(t, &SMTPSender{}, sender)
}

type recordingSender struct {
	sent []Message
}

func (r *recordingSender) Send(_ context.Context, msg Message) error {
	r.sent = append(r.sent, msg)
	return nil
}

func TestJobHandlerDeliversPayload(t *testing.T) {
	rec := &recordingSender{}
	handler := JobHandler(rec)
	require.NoError(t, handler(context.Background(), jobs.Job[Message]{ID: "1", Payload: resetMessage()}))
	require.Len(t, rec.sent, 1)
	assert.Equal(t, "jonas@example.com", rec.sent[0].To)
}
