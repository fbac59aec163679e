package smtp

import (
	"github.com/emersion/go-sasl"
)

type loginState int

const (
	loginNotStarted loginState = iota
	loginWaitingUsername
	loginWaitingPassword
)

// loginServer 实现 AUTH LOGIN 的服务端质询流程。
//
// go-sasl 只提供 LOGIN 的客户端实现，服务端的
// Username/Password 两步质询（RFC 4954 风格的 base64
// 交互，编解码由协议层完成）在这里补齐。
type loginServer struct {
	state        loginState
	username     string
	authenticate func(username, password string) error
}

func newLoginServer(authenticate func(username, password string) error) sasl.Server {
	return &loginServer{authenticate: authenticate}
}

func (s *loginServer) Next(response []byte) (challenge []byte, done bool, err error) {
	switch s.state {
	case loginNotStarted:
		// AUTH LOGIN 允许把用户名作为 initial response 直接带上
		if response == nil {
			s.state = loginWaitingUsername
			return []byte("Username:"), false, nil
		}
		s.state = loginWaitingUsername
		fallthrough
	case loginWaitingUsername:
		s.username = string(response)
		s.state = loginWaitingPassword
		return []byte("Password:"), false, nil
	case loginWaitingPassword:
		err = s.authenticate(s.username, string(response))
		return nil, true, err
	default:
		return nil, false, sasl.ErrUnexpectedClientResponse
	}
}
