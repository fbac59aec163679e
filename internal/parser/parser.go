// Package parser 将原始 MIME 字节流解析为结构化邮件。
package parser

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"net/textproto"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/encoding/korean"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/encoding/traditionalchinese"
	"golang.org/x/text/transform"

	"github.com/om-surushe/SMTP-Server/internal/domain"
	"github.com/om-surushe/SMTP-Server/internal/security"
)

// ErrMalformedMessage 表示邮件结构无法解析。
var ErrMalformedMessage = errors.New("malformed mime message")

// Parse 解析邮件，提取地址、主题、正文和附件。
//
// 正文提取规则：multipart 邮件按文档顺序深度优先遍历，
// 跳过 Content-Disposition: attachment 的部分，
// 取第一个 text/plain 和第一个 text/html，后续同类部分忽略；
// 单部分邮件按声明的类型归入文本或 HTML，
// 未知类型按文本处理并替换非法字节。
// 正文缺失不是错误，Text 和 HTML 可以同时为空。
func Parse(raw []byte, peer string) (*domain.ParsedMessage, error) {
	msg, err := mail.ReadMessage(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}

	parsed := &domain.ParsedMessage{
		From:    parseAddressList(msg.Header.Get("From")),
		To:      parseAddressList(msg.Header.Get("To")),
		Cc:      parseAddressList(msg.Header.Get("Cc")),
		Bcc:     parseAddressList(msg.Header.Get("Bcc")),
		Subject: decodeHeader(msg.Header.Get("Subject")),
		Headers: flattenHeaders(msg.Header),
		RawSize: int64(len(raw)),
		Peer:    peer,
	}

	w := &bodyWalker{parsed: parsed}

	contentType := msg.Header.Get("Content-Type")
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		// 没有 Content-Type 或解析失败，当作纯文本处理
		body, _ := decodeBody(msg.Body, msg.Header.Get("Content-Transfer-Encoding"), "")
		w.setText(body)
		return parsed, nil
	}

	if strings.HasPrefix(mediaType, "multipart/") {
		boundary := params["boundary"]
		if boundary == "" {
			return nil, fmt.Errorf("%w: multipart message without boundary", ErrMalformedMessage)
		}
		mr := multipart.NewReader(msg.Body, boundary)
		if err := w.walkMultipart(mr); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
		}
	} else {
		body, err := decodeBody(msg.Body, msg.Header.Get("Content-Transfer-Encoding"), params["charset"])
		if err != nil {
			return nil, fmt.Errorf("%w: decode body: %v", ErrMalformedMessage, err)
		}
		switch mediaType {
		case "text/plain":
			w.setText(body)
		case "text/html":
			w.setHTML(body)
		default:
			// 未知类型按文本处理，非法 UTF-8 字节替换为 U+FFFD
			w.setText(strings.ToValidUTF8(body, "�"))
		}
	}

	return parsed, nil
}

// bodyWalker 记录正文槽位的填充状态。
//
// 第一个遇到的 text/plain / text/html 胜出，即使其内容为空，
// 后续同类部分也不会再覆盖。
type bodyWalker struct {
	parsed  *domain.ParsedMessage
	textSet bool
	htmlSet bool
}

func (w *bodyWalker) setText(body string) {
	if !w.textSet {
		w.parsed.Text = body
		w.textSet = true
	}
}

func (w *bodyWalker) setHTML(body string) {
	if !w.htmlSet {
		w.parsed.HTML = body
		w.htmlSet = true
	}
}

// walkMultipart 按文档顺序深度优先遍历多部分邮件。
func (w *bodyWalker) walkMultipart(mr *multipart.Reader) error {
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}

		contentType := part.Header.Get("Content-Type")
		mediaType, params, err := mime.ParseMediaType(contentType)
		if err != nil {
			mediaType = "text/plain"
		}

		// 附件不参与正文提取，但保留内容用于转发
		if disposition := part.Header.Get("Content-Disposition"); disposition != "" {
			dispType, dispParams, _ := mime.ParseMediaType(disposition)
			if dispType == "attachment" {
				w.collectAttachment(part, mediaType, params, dispParams)
				continue
			}
		}

		// 嵌套的 multipart 递归处理
		if strings.HasPrefix(mediaType, "multipart/") {
			if boundary := params["boundary"]; boundary != "" {
				if err := w.walkMultipart(multipart.NewReader(part, boundary)); err != nil {
					return err
				}
			}
			continue
		}

		body, err := decodeBody(part, part.Header.Get("Content-Transfer-Encoding"), params["charset"])
		if err != nil {
			continue
		}

		switch mediaType {
		case "text/plain":
			w.setText(body)
		case "text/html":
			w.setHTML(body)
		}
	}

	return nil
}

// collectAttachment 读取附件部分的元数据和内容。
func (w *bodyWalker) collectAttachment(part *multipart.Part, mediaType string, params, dispParams map[string]string) {
	filename := dispParams["filename"]
	if filename == "" {
		filename = params["name"]
	}
	if filename == "" {
		filename = "unnamed"
	}
	filename = security.SanitizeFilename(decodeHeader(filename))

	content, err := io.ReadAll(part)
	if err != nil {
		return
	}

	// base64 编码的附件内容需要解码
	if strings.EqualFold(strings.TrimSpace(part.Header.Get("Content-Transfer-Encoding")), "base64") {
		if decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(content))); err == nil {
			content = decoded
		}
	}

	w.parsed.Attachments = append(w.parsed.Attachments, &domain.Attachment{
		ID:          uuid.NewString(),
		Filename:    filename,
		ContentType: mediaType,
		Size:        int64(len(content)),
		Content:     content,
	})
}

// parseAddressList 解码并切分地址头。
//
// 先解码 encoded-word 语法再切分；解码或切分失败时降级为
// 原始字符串的逗号切分，绝不报错。出现顺序保持，不去重。
func parseAddressList(value string) []string {
	if strings.TrimSpace(value) == "" {
		return nil
	}

	decoded := decodeHeader(value)
	list, err := mail.ParseAddressList(decoded)
	if err != nil {
		// 降级：按逗号切分原始字符串
		var out []string
		for _, part := range strings.Split(decoded, ",") {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		return out
	}

	out := make([]string, 0, len(list))
	for _, addr := range list {
		out = append(out, addr.Address)
	}
	return out
}

// flattenHeaders 将完整头部压平为单值映射。
//
// 键使用规范化 MIME 形式（大小写不敏感查找），重复头保留最后一个值。
func flattenHeaders(header mail.Header) map[string]string {
	out := make(map[string]string, len(header))
	for key, values := range header {
		if len(values) == 0 {
			continue
		}
		out[textproto.CanonicalMIMEHeaderKey(key)] = values[len(values)-1]
	}
	return out
}

// decodeHeader 解码 encoded-word 头部，失败时返回原始字符串。
func decodeHeader(value string) string {
	if value == "" {
		return value
	}
	decoder := new(mime.WordDecoder)
	decoder.CharsetReader = charsetReader
	decoded, err := decoder.DecodeHeader(value)
	if err != nil {
		return value
	}
	return decoded
}

// decodeBody 根据传输编码与字符集解码邮件体。
func decodeBody(reader io.Reader, transferEncoding string, charset string) (string, error) {
	transferEncoding = strings.ToLower(strings.TrimSpace(transferEncoding))

	var decoded io.Reader
	switch transferEncoding {
	case "base64":
		decoded = base64.NewDecoder(base64.StdEncoding, reader)
	case "quoted-printable":
		decoded = quotedprintable.NewReader(reader)
	default:
		// 7bit / 8bit / binary / 未知编码直接读取
		decoded = reader
	}

	body, err := io.ReadAll(decoded)
	if err != nil {
		return "", err
	}

	// 字符集转换
	charset = strings.ToLower(strings.TrimSpace(charset))
	if charset != "" && charset != "utf-8" && charset != "us-ascii" {
		if enc := getCharsetEncoding(charset); enc != nil {
			converted, _, err := transform.Bytes(enc.NewDecoder(), body)
			if err == nil {
				body = converted
			}
		}
	}

	return string(body), nil
}

// charsetReader 为 encoded-word 解码提供非 UTF-8 字符集支持。
func charsetReader(charset string, input io.Reader) (io.Reader, error) {
	if enc := getCharsetEncoding(strings.ToLower(charset)); enc != nil {
		return transform.NewReader(input, enc.NewDecoder()), nil
	}
	return nil, fmt.Errorf("unhandled charset: %q", charset)
}

// getCharsetEncoding 根据字符集名称返回编码器
func getCharsetEncoding(charset string) encoding.Encoding {
	switch charset {
	case "gb2312", "gbk", "gb18030":
		return simplifiedchinese.GBK
	case "big5":
		return traditionalchinese.Big5
	case "iso-2022-jp", "shift_jis", "euc-jp":
		return japanese.ShiftJIS
	case "euc-kr", "ks_c_5601-1987":
		return korean.EUCKR
	default:
		return nil
	}
}
