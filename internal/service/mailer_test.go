package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/om-surushe/SMTP-Server/internal/domain"
	"github.com/om-surushe/SMTP-Server/internal/pool"
	"github.com/om-surushe/SMTP-Server/internal/status"
)

// fakeForwarder 可编程的投递桩。
type fakeForwarder struct {
	mu   sync.Mutex
	err  error
	msgs []*domain.ParsedMessage
}

func (f *fakeForwarder) Forward(_ context.Context, msg *domain.ParsedMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msg)
	return nil
}

func (f *fakeForwarder) forwarded() []*domain.ParsedMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*domain.ParsedMessage(nil), f.msgs...)
}

func newTestMailer(t *testing.T, forwarder Forwarder) (*MailerService, *status.Store, *pool.WorkerPool) {
	t.Helper()
	store := status.NewStore("gateway.test")
	p := pool.NewWorkerPool(2, 8, zap.NewNop())
	p.Start(context.Background())
	t.Cleanup(p.Stop)
	return NewMailerService(forwarder, store, p, nil, zap.NewNop(), 5*time.Second), store, p
}

const rawInbound = "From: alice@example.com\r\n" +
	"To: bob@example.org\r\n" +
	"Cc: carol@example.net\r\n" +
	"Subject: Hello\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"\r\n" +
	"hi there\r\n"

func TestMailer_HandleInboundSuccess(t *testing.T) {
	forwarder := &fakeForwarder{}
	m, _, _ := newTestMailer(t, forwarder)

	id, err := m.HandleInbound(context.Background(), []byte(rawInbound), "192.0.2.10:52000")
	require.NoError(t, err)
	require.NotEmpty(t, id)

	got, err := m.Status(id)
	require.NoError(t, err)
	assert.Equal(t, domain.StateSent, got.State)
	assert.Equal(t, []string{"bob@example.org", "carol@example.net"}, got.Recipients)
	assert.Equal(t, "Hello", got.Subject)
	assert.Contains(t, got.Details, "forward_elapsed_ms")

	msgs := forwarder.forwarded()
	require.Len(t, msgs, 1)
	assert.Equal(t, "alice@example.com", msgs[0].Sender())
	assert.Equal(t, "hi there\r\n", msgs[0].Text)
}

func TestMailer_HandleInboundForwardFailure(t *testing.T) {
	forwarder := &fakeForwarder{err: errors.New("relay refused")}
	m, _, _ := newTestMailer(t, forwarder)

	id, err := m.HandleInbound(context.Background(), []byte(rawInbound), "192.0.2.10:52000")
	require.Error(t, err)
	// 失败时 id 仍然可查
	require.NotEmpty(t, id)

	got, err := m.Status(id)
	require.NoError(t, err)
	assert.Equal(t, domain.StateFailed, got.State)
	assert.Contains(t, got.Error, "relay refused")
}

func TestMailer_HandleInboundParseFailure(t *testing.T) {
	forwarder := &fakeForwarder{}
	m, store, _ := newTestMailer(t, forwarder)

	_, err := m.HandleInbound(context.Background(), []byte("not a mime message"), "192.0.2.10:52000")
	require.Error(t, err)

	// 解析失败不登记状态
	assert.Equal(t, 0, store.Len())
	assert.Empty(t, forwarder.forwarded())
}

func TestMailer_SubmitAsync(t *testing.T) {
	forwarder := &fakeForwarder{}
	m, _, _ := newTestMailer(t, forwarder)

	id, err := m.Submit(SubmitInput{
		From:    "alice@example.com",
		To:      []string{"bob@example.org"},
		Bcc:     []string{"dave@example.io"},
		Subject: "Async",
		Text:    "queued body",
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	// 等待异步投递完成
	require.Eventually(t, func() bool {
		got, err := m.Status(id)
		return err == nil && got.State.Terminal()
	}, 2*time.Second, 10*time.Millisecond)

	got, err := m.Status(id)
	require.NoError(t, err)
	assert.Equal(t, domain.StateSent, got.State)
	assert.Equal(t, []string{"bob@example.org", "dave@example.io"}, got.Recipients)

	msgs := forwarder.forwarded()
	require.Len(t, msgs, 1)
	assert.Equal(t, "queued body", msgs[0].Text)
}

func TestMailer_SubmitValidation(t *testing.T) {
	forwarder := &fakeForwarder{}
	m, _, _ := newTestMailer(t, forwarder)

	_, err := m.Submit(SubmitInput{To: []string{"bob@example.org"}})
	assert.ErrorIs(t, err, ErrEmptySender)

	_, err = m.Submit(SubmitInput{From: "alice@example.com"})
	assert.ErrorIs(t, err, ErrNoRecipients)
}

func TestMailer_StatusOverview(t *testing.T) {
	forwarder := &fakeForwarder{err: errors.New("relay down")}
	m, _, _ := newTestMailer(t, forwarder)

	_, err := m.HandleInbound(context.Background(), []byte(rawInbound), "192.0.2.10:52000")
	require.Error(t, err)

	overview := m.StatusOverview()
	assert.Equal(t, 1, overview.Total)
	assert.Equal(t, 1, overview.States[domain.StateFailed])
}

func TestMailer_StatusUnknownID(t *testing.T) {
	m, _, _ := newTestMailer(t, &fakeForwarder{})

	_, err := m.Status("missing@gateway.test")
	assert.ErrorIs(t, err, status.ErrStatusNotFound)
}
