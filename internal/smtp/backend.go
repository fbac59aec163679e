package smtp

import (
	"context"
	"errors"
	"io"

	"github.com/emersion/go-sasl"
	gosmtp "github.com/emersion/go-smtp"
	"go.uber.org/zap"

	"github.com/om-surushe/SMTP-Server/internal/auth"
	"github.com/om-surushe/SMTP-Server/internal/monitoring"
	"github.com/om-surushe/SMTP-Server/internal/parser"
	"github.com/om-surushe/SMTP-Server/internal/service"
)

// Backend 实现 go-smtp 的 Backend 接口。
//
// 这是一个入站提交网关（Submission Gateway）：
// - 接收客户端提交的邮件，解析后转投上游中继
// - 认证开启时，未认证的会话不允许发起任何邮件事务
// - 单次尽力而为投递，结果通过状态接口查询
type Backend struct {
	mailer        *service.MailerService
	authenticator *auth.Authenticator // nil 表示关闭认证
	limiter       *ConnectionLimiter
	metrics       *monitoring.Metrics
	log           *zap.Logger
}

// NewBackend 创建 SMTP Backend。
func NewBackend(mailer *service.MailerService, authenticator *auth.Authenticator, limiter *ConnectionLimiter, metrics *monitoring.Metrics, log *zap.Logger) *Backend {
	return &Backend{
		mailer:        mailer,
		authenticator: authenticator,
		limiter:       limiter,
		metrics:       metrics,
		log:           log,
	}
}

// NewSession 创建新的 SMTP 会话。
func (b *Backend) NewSession(c *gosmtp.Conn) (gosmtp.Session, error) {
	peer := ""
	if conn := c.Conn(); conn != nil && conn.RemoteAddr() != nil {
		peer = conn.RemoteAddr().String()
	}

	if b.limiter != nil && !b.limiter.Acquire() {
		b.log.Warn("拒绝新连接", zap.String("peer", peer), zap.Int("active", b.limiter.Current()))
		return nil, &gosmtp.SMTPError{
			Code:         421,
			EnhancedCode: gosmtp.EnhancedCode{4, 3, 2},
			Message:      "too many connections, try again later",
		}
	}

	b.metrics.RecordSessionOpened()
	b.log.Debug("建立 SMTP 会话", zap.String("peer", peer))

	return &session{
		backend: b,
		conn:    c,
		peer:    peer,
	}, nil
}

type session struct {
	backend *Backend
	conn    *gosmtp.Conn
	peer    string

	authenticated bool
	from          string
	rcptCount     int
}

// requireAuth 认证开启且尚未通过时返回 530。
func (s *session) requireAuth() error {
	if s.backend.authenticator == nil || s.authenticated {
		return nil
	}
	s.backend.metrics.RecordMessageRejected("auth")
	return &gosmtp.SMTPError{
		Code:         530,
		EnhancedCode: gosmtp.EnhancedCode{5, 7, 0},
		Message:      "authentication required",
	}
}

// AuthMechanisms 返回支持的认证机制。
func (s *session) AuthMechanisms() []string {
	if s.backend.authenticator == nil {
		return nil
	}
	return []string{sasl.Plain, sasl.Login}
}

// Auth 处理 AUTH 命令。
func (s *session) Auth(mech string) (sasl.Server, error) {
	if s.backend.authenticator == nil {
		return nil, gosmtp.ErrAuthUnsupported
	}

	switch mech {
	case sasl.Plain:
		return sasl.NewPlainServer(func(_, username, password string) error {
			return s.authenticate(username, password)
		}), nil
	case sasl.Login:
		return newLoginServer(func(username, password string) error {
			return s.authenticate(username, password)
		}), nil
	default:
		s.backend.authenticator.Authenticate(auth.Unsupported{Mechanism: mech})
		return nil, &gosmtp.SMTPError{
			Code:         504,
			EnhancedCode: gosmtp.EnhancedCode{5, 5, 4},
			Message:      "unsupported authentication mechanism",
		}
	}
}

func (s *session) authenticate(username, password string) error {
	result := s.backend.authenticator.Authenticate(auth.LoginPassword{
		Username: username,
		Password: password,
	})
	if !result.Success {
		s.backend.metrics.RecordAuthFailure()
		s.backend.log.Warn("认证失败",
			zap.String("peer", s.peer),
			zap.String("username", username),
		)
		return &gosmtp.SMTPError{
			Code:         535,
			EnhancedCode: gosmtp.EnhancedCode{5, 7, 8},
			Message:      "authentication credentials invalid",
		}
	}

	s.authenticated = true
	s.backend.log.Info("认证成功",
		zap.String("peer", s.peer),
		zap.String("username", username),
	)
	return nil
}

// Mail 处理 MAIL 命令。
func (s *session) Mail(from string, _ *gosmtp.MailOptions) error {
	if err := s.requireAuth(); err != nil {
		return err
	}
	s.from = from
	return nil
}

// Rcpt 处理 RCPT 命令。
//
// 收件人不做本地校验，转发能否送达由上游中继决定。
func (s *session) Rcpt(to string, _ *gosmtp.RcptOptions) error {
	if err := s.requireAuth(); err != nil {
		return err
	}
	s.rcptCount++
	return nil
}

// Data 处理邮件内容。
func (s *session) Data(r io.Reader) error {
	raw, err := io.ReadAll(r)
	if err != nil {
		return err
	}

	id, err := s.backend.mailer.HandleInbound(context.Background(), raw, s.peer)
	if err != nil {
		if errors.Is(err, parser.ErrMalformedMessage) {
			return &gosmtp.SMTPError{
				Code:         451,
				EnhancedCode: gosmtp.EnhancedCode{4, 3, 0},
				Message:      "message could not be parsed",
			}
		}
		return &gosmtp.SMTPError{
			Code:         451,
			EnhancedCode: gosmtp.EnhancedCode{4, 3, 0},
			Message:      "forwarding to upstream relay failed",
		}
	}

	s.backend.log.Debug("邮件事务完成",
		zap.String("peer", s.peer),
		zap.String("id", id),
		zap.String("from", s.from),
		zap.Int("rcpt_count", s.rcptCount),
	)
	return nil
}

// Reset 重置事务状态。
func (s *session) Reset() {
	s.from = ""
	s.rcptCount = 0
}

// Logout 会话结束。
func (s *session) Logout() error {
	if s.backend.limiter != nil {
		s.backend.limiter.Release()
	}
	s.backend.metrics.RecordSessionClosed()
	return nil
}
