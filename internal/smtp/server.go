package smtp

import (
	"crypto/tls"
	"fmt"

	gosmtp "github.com/emersion/go-smtp"

	"github.com/om-surushe/SMTP-Server/internal/config"
)

// NewServer 根据配置构造 go-smtp 服务器。
//
// tls_mode=starttls 时在明文端口上提供 STARTTLS 升级，
// tls_mode=tls 时整个连接走隐式 TLS，调用方需使用
// ListenAndServeTLS 启动。
func NewServer(cfg config.SMTPConfig, backend *Backend) (*gosmtp.Server, error) {
	server := gosmtp.NewServer(backend)
	server.Addr = cfg.ListenAddr()
	server.Domain = cfg.Hostname
	server.ReadTimeout = cfg.ReadTimeout
	server.WriteTimeout = cfg.WriteTimeout
	server.MaxMessageBytes = cfg.MaxMessageSize
	server.MaxRecipients = cfg.MaxRecipients
	server.EnableSMTPUTF8 = true
	// 明文会话上是否允许 AUTH
	server.AllowInsecureAuth = !cfg.AuthRequireTLS

	if cfg.TLSMode != config.TransportPlain {
		cert, err := tls.LoadX509KeyPair(cfg.TLSCertFile, cfg.TLSKeyFile)
		if err != nil {
			return nil, fmt.Errorf("load tls keypair: %w", err)
		}
		server.TLSConfig = &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		}
	}

	return server, nil
}
