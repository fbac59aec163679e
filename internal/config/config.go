package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// TransportMode 表示 SMTP 连接的传输模式。
type TransportMode string

const (
	TransportPlain    TransportMode = "plain"    // 明文连接
	TransportStartTLS TransportMode = "starttls" // 明文连接后升级 TLS
	TransportTLS      TransportMode = "tls"      // 隐式 TLS（SMTPS）
)

// ServerConfig 定义 HTTP 服务器的监听配置参数
type ServerConfig struct {
	Host string // 监听地址，默认 "0.0.0.0"
	Port int    // 监听端口，默认 8000
}

// SMTPConfig 定义入站 SMTP 服务器的配置
type SMTPConfig struct {
	Host           string        // 监听地址，默认 "0.0.0.0"
	Port           int           // 监听端口，默认 8025
	Hostname       string        // 服务器域名，用于 EHLO 响应与 message-id 生成
	TLSMode        TransportMode // 入站传输模式: plain / starttls / tls
	TLSCertFile    string        // TLS 证书路径（TLSMode != plain 时必填）
	TLSKeyFile     string        // TLS 私钥路径（TLSMode != plain 时必填）
	EnableAuth     bool          // 是否要求 AUTH
	Username       string        // 唯一的服务账号用户名
	Password       string        // 唯一的服务账号密码
	AuthRequireTLS bool          // 是否仅允许加密连接上的 AUTH，默认 false（兼容旧行为）
	MaxMessageSize int64         // DATA 阶段的字节上限，默认 25MB
	MaxRecipients  int           // 单事务最大收件人数
	MaxConnections int           // 最大并发会话数
	MaxConnRate    int           // 每秒最大新建连接数
	ReadTimeout    time.Duration // 协议行读超时
	WriteTimeout   time.Duration // 协议行写超时
}

// RelayConfig 定义上游中继的连接配置
type RelayConfig struct {
	Host     string        // 中继主机（必填）
	Port     int           // 中继端口，默认 587
	Mode     TransportMode // 传输模式: plain / starttls / tls
	Username string        // 中继认证用户名，留空表示不认证
	Password string        // 中继认证密码
	Timeout  time.Duration // 连接与单命令超时，默认 30s

	// 跳过中继证书校验，仅用于自签名证书的内网中继。
	TLSSkipVerify bool

}

// CORSConfig 定义跨域资源共享 (CORS) 配置
type CORSConfig struct {
	AllowedOrigins []string // 允许的来源列表，"*" 表示允许所有来源
}

// JWTConfig 定义 HTTP API 的 JWT 认证配置
type JWTConfig struct {
	Secret string        // 签名密钥，留空表示 API 不鉴权
	Issuer string        // 签发者标识，默认 "smtp-gateway"
	Expiry time.Duration // 令牌有效期，默认 30 天
}

// LogConfig 定义日志系统配置
type LogConfig struct {
	Level       string // 日志级别: debug, info, warn, error
	Development bool   // 开发模式: 启用彩色输出和详细堆栈信息
	File        string // 日志文件路径，留空表示仅输出到 stdout
}

// Config 是系统核心配置的根结构体，包含所有子系统的配置
type Config struct {
	Server ServerConfig // HTTP 服务器配置
	SMTP   SMTPConfig   // 入站 SMTP 配置
	Relay  RelayConfig  // 上游中继配置
	CORS   CORSConfig   // 跨域配置
	JWT    JWTConfig    // HTTP API 认证配置
	Log    LogConfig    // 日志配置
}

// Load 从环境变量和 .env 文件加载系统配置
//
// 配置加载优先级（从高到低）：
//  1. 系统环境变量（最高优先级）
//  2. .env 文件（如果存在）
//  3. 默认值
//
// 环境变量前缀: SMTPGW_
// 例如: SMTPGW_SMTP_PORT, SMTPGW_RELAY_HOST
//
// 返回值:
//   - *Config: 加载成功的配置对象
//   - error: 配置验证失败时返回错误（进程应拒绝启动）
func Load() (*Config, error) {
	// 尝试加载 .env 文件（静默失败，因为 .env 文件是可选的）
	loadEnvFile()

	viper.SetEnvPrefix("smtpgw")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8000)
	viper.SetDefault("smtp.host", "0.0.0.0")
	viper.SetDefault("smtp.port", 8025)
	viper.SetDefault("smtp.hostname", "localhost")
	viper.SetDefault("smtp.tls_mode", "plain")
	viper.SetDefault("smtp.tls_certfile", "")
	viper.SetDefault("smtp.tls_keyfile", "")
	viper.SetDefault("smtp.enable_auth", false)
	viper.SetDefault("smtp.username", "")
	viper.SetDefault("smtp.password", "")
	viper.SetDefault("smtp.auth_require_tls", false)
	viper.SetDefault("smtp.max_message_size", 25*1024*1024)
	viper.SetDefault("smtp.max_recipients", 50)
	viper.SetDefault("smtp.max_connections", 100)
	viper.SetDefault("smtp.max_conn_rate", 20)
	viper.SetDefault("smtp.read_timeout", "60s")
	viper.SetDefault("smtp.write_timeout", "10s")
	viper.SetDefault("relay.host", "")
	viper.SetDefault("relay.port", 587)
	viper.SetDefault("relay.mode", "starttls")
	viper.SetDefault("relay.username", "")
	viper.SetDefault("relay.password", "")
	viper.SetDefault("relay.timeout", "30s")
	viper.SetDefault("relay.tls_skip_verify", false)
	viper.SetDefault("cors.allowed_origins", "*")
	viper.SetDefault("jwt.secret", "")
	viper.SetDefault("jwt.issuer", "smtp-gateway")
	viper.SetDefault("jwt.expiry", "720h")
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.development", false)
	viper.SetDefault("log.file", "")

	corsOrigins := parseList(viper.GetString("cors.allowed_origins"))
	if len(corsOrigins) == 0 {
		corsOrigins = []string{"*"}
	}

	cfg := &Config{
		Server: ServerConfig{
			Host: viper.GetString("server.host"),
			Port: viper.GetInt("server.port"),
		},
		SMTP: SMTPConfig{
			Host:           viper.GetString("smtp.host"),
			Port:           viper.GetInt("smtp.port"),
			Hostname:       viper.GetString("smtp.hostname"),
			TLSMode:        TransportMode(strings.ToLower(viper.GetString("smtp.tls_mode"))),
			TLSCertFile:    viper.GetString("smtp.tls_certfile"),
			TLSKeyFile:     viper.GetString("smtp.tls_keyfile"),
			EnableAuth:     viper.GetBool("smtp.enable_auth"),
			Username:       viper.GetString("smtp.username"),
			Password:       viper.GetString("smtp.password"),
			AuthRequireTLS: viper.GetBool("smtp.auth_require_tls"),
			MaxMessageSize: viper.GetInt64("smtp.max_message_size"),
			MaxRecipients:  viper.GetInt("smtp.max_recipients"),
			MaxConnections: viper.GetInt("smtp.max_connections"),
			MaxConnRate:    viper.GetInt("smtp.max_conn_rate"),
			ReadTimeout:    parseDuration(viper.GetString("smtp.read_timeout"), 60*time.Second),
			WriteTimeout:   parseDuration(viper.GetString("smtp.write_timeout"), 10*time.Second),
		},
		Relay: RelayConfig{
			Host:     viper.GetString("relay.host"),
			Port:     viper.GetInt("relay.port"),
			Mode:     TransportMode(strings.ToLower(viper.GetString("relay.mode"))),
			Username: viper.GetString("relay.username"),
			Password: viper.GetString("relay.password"),
			Timeout:  parseDuration(viper.GetString("relay.timeout"), 30*time.Second),

			TLSSkipVerify: viper.GetBool("relay.tls_skip_verify"),
		},
		CORS: CORSConfig{
			AllowedOrigins: corsOrigins,
		},
		JWT: JWTConfig{
			Secret: viper.GetString("jwt.secret"),
			Issuer: viper.GetString("jwt.issuer"),
			Expiry: parseDuration(viper.GetString("jwt.expiry"), 30*24*time.Hour),
		},
		Log: LogConfig{
			Level:       viper.GetString("log.level"),
			Development: viper.GetBool("log.development"),
			File:        viper.GetString("log.file"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate 校验配置的完整性。
//
// 启用认证但缺少凭据、启用 TLS 但缺少证书材料、
// 中继地址为空等情况都是致命错误，进程拒绝启动。
func (c *Config) Validate() error {
	if c.SMTP.EnableAuth && (c.SMTP.Username == "" || c.SMTP.Password == "") {
		return fmt.Errorf("smtp.username and smtp.password must be set when authentication is enabled")
	}

	switch c.SMTP.TLSMode {
	case TransportPlain:
		// 无需证书
	case TransportStartTLS, TransportTLS:
		if c.SMTP.TLSCertFile == "" || c.SMTP.TLSKeyFile == "" {
			return fmt.Errorf("smtp.tls_certfile and smtp.tls_keyfile must be set when smtp.tls_mode=%s", c.SMTP.TLSMode)
		}
	default:
		return fmt.Errorf("invalid smtp.tls_mode: %q (expected plain, starttls or tls)", c.SMTP.TLSMode)
	}

	if c.Relay.Host == "" {
		return fmt.Errorf("relay.host must not be empty")
	}
	if c.Relay.Port <= 0 || c.Relay.Port > 65535 {
		return fmt.Errorf("invalid relay.port: %d", c.Relay.Port)
	}
	switch c.Relay.Mode {
	case TransportPlain, TransportStartTLS, TransportTLS:
	default:
		return fmt.Errorf("invalid relay.mode: %q (expected plain, starttls or tls)", c.Relay.Mode)
	}

	if c.SMTP.MaxMessageSize <= 0 {
		return fmt.Errorf("smtp.max_message_size must be positive")
	}

	// JWT secret 可以为空（表示 API 不鉴权），但设置时必须足够长
	if c.JWT.Secret != "" && len(c.JWT.Secret) < 32 {
		return fmt.Errorf("SECURITY ERROR: JWT secret must be at least 32 characters long")
	}

	return nil
}

// RelayAddr 返回中继的 host:port 形式地址。
func (c *RelayConfig) RelayAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// ListenAddr 返回 SMTP 监听地址。
func (c *SMTPConfig) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// parseDuration 解析时长字符串，失败时返回默认值。
func parseDuration(value string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// parseList 将逗号分隔的字符串解析为字符串切片
func parseList(value string) []string {
	parts := strings.Split(value, ",")
	items := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			items = append(items, trimmed)
		}
	}
	return items
}

// loadEnvFile 尝试加载 .env 文件
//
// 如果文件不存在，静默失败（.env 是可选的）；
// 已存在的环境变量不会被覆盖。
func loadEnvFile() {
	if err := godotenv.Load(".env"); err == nil {
		return
	}
	parentEnv := filepath.Join("..", ".env")
	if _, err := os.Stat(parentEnv); err == nil {
		_ = godotenv.Load(parentEnv)
	}
}
