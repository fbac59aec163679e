package security

import (
	"path"
	"strings"
)

// 附件文件名的最大长度，超出部分截断（保留扩展名）。
const maxFilenameLength = 255

// SanitizeFilename 清理邮件头携带的附件文件名。
//
// 文件名来自远端 MIME 头，会被原样写回转发报文的
// Content-Disposition，必须去掉路径成分和控制字符。
func SanitizeFilename(name string) string {
	// 丢弃路径部分，反斜杠同样视为分隔符
	name = strings.ReplaceAll(name, "\\", "/")
	name = path.Base(name)

	var b strings.Builder
	for _, r := range name {
		switch {
		case r < 0x20 || r == 0x7f:
			// 控制字符直接丢弃
		case r == '"':
			b.WriteRune('\'')
		default:
			b.WriteRune(r)
		}
	}
	name = strings.TrimSpace(b.String())

	if name == "" || name == "." || name == ".." {
		return "attachment"
	}

	if len(name) > maxFilenameLength {
		ext := path.Ext(name)
		if len(ext) >= maxFilenameLength {
			ext = ""
		}
		// 截断不能落在多字节字符中间
		budget := maxFilenameLength - len(ext)
		stem := []rune(strings.TrimSuffix(name, ext))
		for len(stem) > 0 && len(string(stem)) > budget {
			stem = stem[:len(stem)-1]
		}
		name = string(stem) + ext
	}
	return name
}
