// Package auth 实现 SMTP 会话认证。
//
// 网关只配置一对共享的服务账号凭据，认证是对该凭据的
// 精确匹配检查，没有用户表，也没有哈希存储。
package auth

import "crypto/subtle"

// Credentials 是认证机制的封闭变体类型。
//
// 协议层提交的凭据要么是 LOGIN/PLAIN 机制的用户名密码对，
// 要么是网关不支持的其他机制。
type Credentials interface {
	credentials()
}

// LoginPassword 表示 AUTH LOGIN / AUTH PLAIN 机制提交的用户名密码对。
type LoginPassword struct {
	Username string
	Password string
}

// Unsupported 表示网关未实现的认证机制。
type Unsupported struct {
	Mechanism string
}

func (LoginPassword) credentials() {}
func (Unsupported) credentials()   {}

// Result 表示一次认证检查的结果。
//
// Handled=false 表示机制本身未被处理，协议层应回退到
// 标准的"机制不支持"应答而不是认证失败应答。
type Result struct {
	Success bool
	Handled bool
}

// Authenticator 校验 SMTP 会话提交的登录凭据。
type Authenticator struct {
	username string
	password string
}

// NewAuthenticator 创建认证器。
func NewAuthenticator(username, password string) *Authenticator {
	return &Authenticator{username: username, password: password}
}

// Authenticate 对提交的凭据做同步纯检查，无副作用，不限制重试。
func (a *Authenticator) Authenticate(creds Credentials) Result {
	switch c := creds.(type) {
	case LoginPassword:
		userOK := subtle.ConstantTimeCompare([]byte(c.Username), []byte(a.username)) == 1
		passOK := subtle.ConstantTimeCompare([]byte(c.Password), []byte(a.password)) == 1
		return Result{Success: userOK && passOK, Handled: true}
	default:
		return Result{Success: false, Handled: false}
	}
}
