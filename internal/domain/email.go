package domain

// ParsedMessage 表示解析后的结构化邮件。
//
// 地址列表保持邮件中出现的顺序，重复地址不去重。
// Text 和 HTML 允许同时为空（空邮件体不是错误）。
type ParsedMessage struct {
	From        []string          `json:"from"`
	To          []string          `json:"to"`
	Cc          []string          `json:"cc,omitempty"`
	Bcc         []string          `json:"bcc,omitempty"`
	Subject     string            `json:"subject"`
	Text        string            `json:"text,omitempty"`
	HTML        string            `json:"html,omitempty"`
	Headers     map[string]string `json:"headers"`
	Attachments []*Attachment     `json:"attachments,omitempty"`
	RawSize     int64             `json:"rawSize"`
	Peer        string            `json:"peer,omitempty"` // 提交该邮件的客户端地址
}

// EnvelopeRecipients 返回转发用的信封收件人集合（To+Cc+Bcc，保序）。
func (m *ParsedMessage) EnvelopeRecipients() []string {
	out := make([]string, 0, len(m.To)+len(m.Cc)+len(m.Bcc))
	out = append(out, m.To...)
	out = append(out, m.Cc...)
	out = append(out, m.Bcc...)
	return out
}

// Sender 返回信封发件人，列表为空时返回空字符串。
func (m *ParsedMessage) Sender() string {
	if len(m.From) == 0 {
		return ""
	}
	return m.From[0]
}
