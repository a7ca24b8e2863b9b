package notification

import (
	"context"
	"encoding/json"
	"errors"
	"net/smtp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"storefront/internal/service/shop/domain"
)

var email = domain.EmailEvent{
	TenantID: "t1",
	OrderID:  "o-1",
	From:     "Acme <shop@acme.test>",
	To:       "ada@example.com",
	Subject:  "[Acme] Order ACM-20250314-0042 confirmed",
	Body:     "Thanks!\nTotal: 27.50",
}

func TestSMTPSender_BuildsMessage(t *testing.T) {
	var (
		gotAddr string
		gotFrom string
		gotTo   []string
		gotMsg  string
		gotAuth smtp.Auth
	)
	s := NewSMTPSender(SMTPConfig{Host: "mail.test", Username: "u", Password: "p"})
	s.now = func() time.Time { return time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC) }
	s.send = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotAuth, gotFrom, gotTo, gotMsg = addr, a, from, to, string(msg)
		return nil
	}

	require.NoError(t, s.Send(context.Background(), email))
	assert.Equal(t, "mail.test:587", gotAddr)
	assert.NotNil(t, gotAuth)
	assert.Equal(t, "shop@acme.test", gotFrom)
	assert.Equal(t, []string{"ada@example.com"}, gotTo)
	assert.Contains(t, gotMsg, "From: \"Acme\" <shop@acme.test>\r\n")
	assert.Contains(t, gotMsg, "Subject: [Acme] Order ACM-20250314-0042 confirmed\r\n")
	assert.Contains(t, gotMsg, "Date: Fri, 14 Mar 2025 09:30:00 +0000\r\n")
	assert.True(t, strings.HasSuffix(gotMsg, "\r\n\r\nThanks!\r\nTotal: 27.50"))
}

func TestSMTPSender_RejectsBadAddress(t *testing.T) {
	s := NewSMTPSender(SMTPConfig{Host: "mail.test"})
	s.send = func(string, smtp.Auth, string, []string, []byte) error {
		t.Fatal("should not send")
		return nil
	}
	bad := email
	bad.To = "not an address"
	assert.Error(t, s.Send(context.Background(), bad))
}

type recordingSender struct {
	mu       sync.Mutex
	failures int
	sent     []domain.EmailEvent
	calls    int
}

func (r *recordingSender) Send(_ context.Context, e domain.EmailEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.calls <= r.failures {
		return errors.New("smtp down")
	}
	r.sent = append(r.sent, e)
	return nil
}

func message(t *testing.T, e domain.EmailEvent, offset int64) kafka.Message {
	t.Helper()
	data, err := json.Marshal(e)
	require.NoError(t, err)
	return kafka.Message{Topic: "shop-emails", Key: []byte(e.OrderID), Value: data, Offset: offset}
}

func newProcessor(s Sender) *Processor {
	p := NewProcessor(s, noop.NewTracerProvider().Tracer("test"))
	p.backoff = time.Millisecond
	return p
}

func TestProcessor_RetriesThenSends(t *testing.T) {
	s := &recordingSender{failures: 2}
	require.NoError(t, newProcessor(s).Process(context.Background(), message(t, email, 1)))
	assert.Equal(t, 3, s.calls)
	require.Len(t, s.sent, 1)
	assert.Equal(t, email, s.sent[0])

	s = &recordingSender{failures: 5}
	assert.Error(t, newProcessor(s).Process(context.Background(), message(t, email, 2)))
	assert.Equal(t, sendAttempts, s.calls)
}

func TestProcessor_RejectsMalformed(t *testing.T) {
	s := &recordingSender{}
	p := newProcessor(s)
	assert.Error(t, p.Process(context.Background(), kafka.Message{Value: []byte("{")}))
	noRecipient := email
	noRecipient.To = ""
	assert.Error(t, p.Process(context.Background(), message(t, noRecipient, 3)))
	assert.Zero(t, s.calls)
}

type fakeReader struct {
	mu        sync.Mutex
	queue     []kafka.Message
	committed []int64
	cancel    context.CancelFunc
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.queue) > 0 {
		m := r.queue[0]
		r.queue = r.queue[1:]
		r.mu.Unlock()
		return m, nil
	}
	r.mu.Unlock()
	r.cancel()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func TestProcessor_RunCommitsEverything(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	reader := &fakeReader{
		queue:  []kafka.Message{message(t, email, 10), {Value: []byte("garbage"), Offset: 11}, message(t, email, 12)},
		cancel: cancel,
	}
	s := &recordingSender{}

	require.NoError(t, newProcessor(s).Run(ctx, reader))
	assert.Equal(t, []int64{10, 11, 12}, reader.committed)
	assert.Len(t, s.sent, 2)
}

func TestLogSender(t *testing.T) {
	assert.NoError(t, LogSender{}.Send(context.Background(), email))
	assert.False(t, SMTPConfig{}.Enabled())
}
