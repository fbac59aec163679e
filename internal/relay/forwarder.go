// Package relay 实现向上游 SMTP 中继的单次尽力转发。
//
// 没有重试、退避或持久化队列：瞬时网络故障与永久拒绝
// 统一上报为转发失败，由调用方记录状态。
package relay

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"

	"github.com/emersion/go-sasl"
	gosmtp "github.com/emersion/go-smtp"
	"go.uber.org/zap"

	"github.com/om-surushe/SMTP-Server/internal/config"
	"github.com/om-surushe/SMTP-Server/internal/domain"
)

// ErrNoRecipients 表示邮件没有任何信封收件人。
var ErrNoRecipients = errors.New("no recipients specified")

// Forwarder 持有上游中继的连接配置。
type Forwarder struct {
	cfg      config.RelayConfig
	hostname string // 用于 EHLO 与 Message-ID 生成
	log      *zap.Logger
}

// NewForwarder 创建中继转发器。
func NewForwarder(cfg config.RelayConfig, hostname string, log *zap.Logger) *Forwarder {
	if hostname == "" {
		hostname = "localhost"
	}
	return &Forwarder{cfg: cfg, hostname: hostname, log: log}
}

// Forward 将邮件重新序列化并提交给中继。
//
// 信封收件人为 To+Cc+Bcc 的全集。单次尝试，任何失败
// （连接失败、认证失败、中继拒绝）都以同一错误形式返回；
// 本方法不触碰状态存储。
func (f *Forwarder) Forward(ctx context.Context, msg *domain.ParsedMessage) error {
	recipients := msg.EnvelopeRecipients()
	if len(recipients) == 0 {
		return ErrNoRecipients
	}

	payload, err := serializeMessage(msg, f.hostname)
	if err != nil {
		return fmt.Errorf("serialize message: %w", err)
	}

	client, err := f.connect(ctx)
	if err != nil {
		return fmt.Errorf("connect relay %s: %w", f.cfg.RelayAddr(), err)
	}
	defer client.Close()

	if f.cfg.Username != "" {
		if err := client.Auth(sasl.NewPlainClient("", f.cfg.Username, f.cfg.Password)); err != nil {
			return fmt.Errorf("relay auth: %w", err)
		}
	}

	if err := client.SendMail(msg.Sender(), recipients, bytes.NewReader(payload)); err != nil {
		return fmt.Errorf("relay submit: %w", err)
	}

	if err := client.Quit(); err != nil {
		// 提交已被接受，QUIT 失败只记录不上报
		f.log.Debug("relay quit failed", zap.Error(err))
	}

	f.log.Info("message forwarded",
		zap.String("relay", f.cfg.RelayAddr()),
		zap.Int("recipients", len(recipients)),
	)
	return nil
}

// connect 按配置的传输模式建立到中继的连接。
func (f *Forwarder) connect(ctx context.Context) (*gosmtp.Client, error) {
	dialer := &net.Dialer{Timeout: f.cfg.Timeout}

	conn, err := dialer.DialContext(ctx, "tcp", f.cfg.RelayAddr())
	if err != nil {
		return nil, err
	}

	switch f.cfg.Mode {
	case config.TransportTLS:
		tlsConn := tls.Client(conn, f.tlsConfig())
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			conn.Close()
			return nil, err
		}
		conn = tlsConn
	case config.TransportStartTLS:
		// NewClientStartTLS 自行完成问候、EHLO 与 TLS 升级
		client, err := gosmtp.NewClientStartTLS(conn, f.tlsConfig())
		if err != nil {
			return nil, err
		}
		client.CommandTimeout = f.cfg.Timeout
		client.SubmissionTimeout = f.cfg.Timeout
		return client, nil
	}

	client := gosmtp.NewClient(conn)
	client.CommandTimeout = f.cfg.Timeout
	client.SubmissionTimeout = f.cfg.Timeout

	if err := client.Hello(f.hostname); err != nil {
		client.Close()
		return nil, err
	}

	return client, nil
}

// tlsConfig 构造面向中继的 TLS 客户端配置。
func (f *Forwarder) tlsConfig() *tls.Config {
	return &tls.Config{
		ServerName:         f.cfg.Host,
		InsecureSkipVerify: f.cfg.TLSSkipVerify,
	}
}
