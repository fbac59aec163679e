package httptransport

import (
	"github.com/om-surushe/SMTP-Server/internal/service"
	"github.com/om-surushe/SMTP-Server/internal/status"
)

// 错误消息映射表（业务错误 -> 中文消息）
var errorMessages = map[error]string{
	service.ErrNoRecipients:  "收件人不能为空",
	service.ErrEmptySender:   "发件人不能为空",
	service.ErrQueueFull:     "投递队列已满，请稍后重试",
	status.ErrStatusNotFound: "邮件记录不存在",
}

// GetErrorMessage 获取错误的中文消息
func GetErrorMessage(err error) string {
	if msg, ok := errorMessages[err]; ok {
		return msg
	}
	return err.Error()
}

// 通用错误消息
const (
	MsgInvalidRequest = "请求参数格式错误"
	MsgAuthRequired   = "需要认证"
	MsgTokenInvalid   = "无效的访问令牌"
	MsgInternalError  = "服务器内部错误，请稍后重试"
)
