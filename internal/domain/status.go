package domain

import "time"

// EmailState 表示一封邮件的投递生命周期状态。
type EmailState string

const (
	StateQueued    EmailState = "queued"    // 已接收，等待转发
	StateSending   EmailState = "sending"   // 正在转发
	StateSent      EmailState = "sent"      // 中继已接受
	StateDelivered EmailState = "delivered" // 终端确认投递（预留）
	StateFailed    EmailState = "failed"    // 转发失败
)

// Terminal 报告该状态是否为终态。
func (s EmailState) Terminal() bool {
	switch s {
	case StateSent, StateDelivered, StateFailed:
		return true
	}
	return false
}

// EmailStatus 记录单封邮件的投递状态。
//
// 条目由状态存储独占持有，对外只暴露快照副本；
// 进程生命周期内不会删除（无持久化，重启即清空）。
type EmailStatus struct {
	ID         string         `json:"messageId"`
	State      EmailState     `json:"state"`
	Recipients []string       `json:"recipients"`
	Subject    string         `json:"subject"`
	CreatedAt  time.Time      `json:"createdAt"`
	UpdatedAt  time.Time      `json:"updatedAt"`
	Error      string         `json:"error,omitempty"`
	Details    map[string]any `json:"details,omitempty"`
}

// Clone 返回状态条目的深拷贝快照。
func (s *EmailStatus) Clone() *EmailStatus {
	out := *s
	out.Recipients = append([]string(nil), s.Recipients...)
	if s.Details != nil {
		out.Details = make(map[string]any, len(s.Details))
		for k, v := range s.Details {
			out.Details[k] = v
		}
	}
	return &out
}
