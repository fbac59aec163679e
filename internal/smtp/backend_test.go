package smtp

import (
	"context"
	"errors"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/emersion/go-sasl"
	gosmtp "github.com/emersion/go-smtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/om-surushe/SMTP-Server/internal/auth"
	"github.com/om-surushe/SMTP-Server/internal/domain"
	"github.com/om-surushe/SMTP-Server/internal/pool"
	"github.com/om-surushe/SMTP-Server/internal/service"
	"github.com/om-surushe/SMTP-Server/internal/status"
)

// stubForwarder 记录投递请求的桩。
type stubForwarder struct {
	mu   sync.Mutex
	err  error
	msgs []*domain.ParsedMessage
}

func (f *stubForwarder) Forward(_ context.Context, msg *domain.ParsedMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msg)
	return nil
}

func (f *stubForwarder) forwarded() []*domain.ParsedMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*domain.ParsedMessage(nil), f.msgs...)
}

type gatewayOptions struct {
	authenticator *auth.Authenticator
	forwarder     *stubForwarder
	maxBytes      int64
}

// startGateway 在随机端口启动网关 SMTP 服务。
func startGateway(t *testing.T, opts gatewayOptions) (addr string, store *status.Store) {
	t.Helper()

	if opts.forwarder == nil {
		opts.forwarder = &stubForwarder{}
	}

	store = status.NewStore("gateway.test")
	p := pool.NewWorkerPool(1, 4, zap.NewNop())
	p.Start(context.Background())
	t.Cleanup(p.Stop)

	mailer := service.NewMailerService(opts.forwarder, store, p, nil, zap.NewNop(), 5*time.Second)
	backend := NewBackend(mailer, opts.authenticator, NewConnectionLimiter(16, 100), nil, zap.NewNop())

	server := gosmtp.NewServer(backend)
	server.Domain = "gateway.test"
	server.AllowInsecureAuth = true
	server.ReadTimeout = 5 * time.Second
	server.WriteTimeout = 5 * time.Second
	if opts.maxBytes > 0 {
		server.MaxMessageBytes = opts.maxBytes
	}

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go server.Serve(l)
	t.Cleanup(func() { server.Close() })

	return l.Addr().String(), store
}

func dialGateway(t *testing.T, addr string) *gosmtp.Client {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
	require.NoError(t, err)
	c := gosmtp.NewClient(conn)
	t.Cleanup(func() { c.Close() })
	require.NoError(t, c.Hello("client.test"))
	return c
}

const testRawMail = "From: alice@example.com\r\n" +
	"To: bob@example.org\r\n" +
	"Subject: Wire test\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"\r\n" +
	"over the wire\r\n"

func TestSession_SendWithoutAuthWhenDisabled(t *testing.T) {
	forwarder := &stubForwarder{}
	addr, store := startGateway(t, gatewayOptions{forwarder: forwarder})

	c := dialGateway(t, addr)
	err := c.SendMail("alice@example.com", []string{"bob@example.org"}, strings.NewReader(testRawMail))
	require.NoError(t, err)

	msgs := forwarder.forwarded()
	require.Len(t, msgs, 1)
	assert.Equal(t, "Wire test", msgs[0].Subject)
	assert.Equal(t, 1, store.Len())
}

func TestSession_MailRejectedWithoutAuth(t *testing.T) {
	authenticator := auth.NewAuthenticator("gwuser", "gwpass")
	addr, _ := startGateway(t, gatewayOptions{authenticator: authenticator})

	c := dialGateway(t, addr)
	err := c.Mail("alice@example.com", nil)
	require.Error(t, err)

	var smtpErr *gosmtp.SMTPError
	require.ErrorAs(t, err, &smtpErr)
	assert.Equal(t, 530, smtpErr.Code)
}

func TestSession_AuthPlainThenSend(t *testing.T) {
	authenticator := auth.NewAuthenticator("gwuser", "gwpass")
	forwarder := &stubForwarder{}
	addr, store := startGateway(t, gatewayOptions{authenticator: authenticator, forwarder: forwarder})

	c := dialGateway(t, addr)
	require.NoError(t, c.Auth(sasl.NewPlainClient("", "gwuser", "gwpass")))

	err := c.SendMail("alice@example.com", []string{"bob@example.org"}, strings.NewReader(testRawMail))
	require.NoError(t, err)

	require.Len(t, forwarder.forwarded(), 1)

	counts := store.Counts()
	assert.Equal(t, 1, counts[domain.StateSent])
}

func TestSession_AuthLogin(t *testing.T) {
	authenticator := auth.NewAuthenticator("gwuser", "gwpass")
	addr, _ := startGateway(t, gatewayOptions{authenticator: authenticator})

	c := dialGateway(t, addr)
	require.NoError(t, c.Auth(sasl.NewLoginClient("gwuser", "gwpass")))
	require.NoError(t, c.Mail("alice@example.com", nil))
}

func TestSession_AuthBadCredentials(t *testing.T) {
	authenticator := auth.NewAuthenticator("gwuser", "gwpass")
	addr, _ := startGateway(t, gatewayOptions{authenticator: authenticator})

	c := dialGateway(t, addr)
	err := c.Auth(sasl.NewPlainClient("", "gwuser", "wrong"))
	require.Error(t, err)

	var smtpErr *gosmtp.SMTPError
	require.ErrorAs(t, err, &smtpErr)
	assert.Equal(t, 535, smtpErr.Code)
}

func TestSession_MessageTooLarge(t *testing.T) {
	addr, _ := startGateway(t, gatewayOptions{maxBytes: 128})

	big := testRawMail + strings.Repeat("x", 1024) + "\r\n"

	c := dialGateway(t, addr)
	err := c.SendMail("alice@example.com", []string{"bob@example.org"}, strings.NewReader(big))
	require.Error(t, err)
}

func TestSession_ForwardFailureReturns451(t *testing.T) {
	forwarder := &stubForwarder{err: errors.New("relay down")}
	addr, store := startGateway(t, gatewayOptions{forwarder: forwarder})

	c := dialGateway(t, addr)
	err := c.SendMail("alice@example.com", []string{"bob@example.org"}, strings.NewReader(testRawMail))
	require.Error(t, err)

	var smtpErr *gosmtp.SMTPError
	require.ErrorAs(t, err, &smtpErr)
	assert.Equal(t, 451, smtpErr.Code)

	// 失败也要留下状态记录
	counts := store.Counts()
	assert.Equal(t, 1, counts[domain.StateFailed])
}

func TestSession_MalformedDataReturns451(t *testing.T) {
	addr, store := startGateway(t, gatewayOptions{})

	c := dialGateway(t, addr)
	err := c.SendMail("alice@example.com", []string{"bob@example.org"}, strings.NewReader("no header separator"))
	require.Error(t, err)

	var smtpErr *gosmtp.SMTPError
	require.ErrorAs(t, err, &smtpErr)
	assert.Equal(t, 451, smtpErr.Code)
	assert.Equal(t, 0, store.Len())
}

func TestConnectionLimiter(t *testing.T) {
	t.Run("并发上限", func(t *testing.T) {
		l := NewConnectionLimiter(2, 100)
		assert.True(t, l.Acquire())
		assert.True(t, l.Acquire())
		assert.False(t, l.Acquire())

		l.Release()
		assert.True(t, l.Acquire())
		assert.Equal(t, 2, l.Current())
	})

	t.Run("速率上限", func(t *testing.T) {
		l := NewConnectionLimiter(100, 2)
		assert.True(t, l.Acquire())
		assert.True(t, l.Acquire())
		// 令牌耗尽
		assert.False(t, l.Acquire())
	})

	t.Run("释放不为负", func(t *testing.T) {
		l := NewConnectionLimiter(1, 10)
		l.Release()
		assert.Equal(t, 0, l.Current())
	})
}
