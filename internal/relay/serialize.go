package relay

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/textproto"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/om-surushe/SMTP-Server/internal/domain"
)

// serializeMessage 将结构化邮件重新序列化为线路格式。
//
// 结构与入站邮件保持一致的语义：文本与 HTML 组成
// multipart/alternative，存在附件时外层再包一层 multipart/mixed。
func serializeMessage(msg *domain.ParsedMessage, hostname string) ([]byte, error) {
	var buf bytes.Buffer

	writeHeader := func(key, value string) {
		fmt.Fprintf(&buf, "%s: %s\r\n", key, value)
	}

	writeHeader("From", strings.Join(msg.From, ", "))
	writeHeader("To", strings.Join(msg.To, ", "))
	if len(msg.Cc) > 0 {
		writeHeader("Cc", strings.Join(msg.Cc, ", "))
	}
	if len(msg.Bcc) > 0 {
		writeHeader("Bcc", strings.Join(msg.Bcc, ", "))
	}
	writeHeader("Date", time.Now().Format(time.RFC1123Z))
	writeHeader("Subject", mime.QEncoding.Encode("utf-8", msg.Subject))
	writeHeader("Message-ID", fmt.Sprintf("<%s@%s>", strings.ReplaceAll(uuid.NewString(), "-", ""), hostname))
	writeHeader("MIME-Version", "1.0")

	switch {
	case len(msg.Attachments) > 0:
		if err := writeMixed(&buf, msg); err != nil {
			return nil, err
		}
	case msg.HTML != "":
		if err := writeAlternative(&buf, msg.Text, msg.HTML); err != nil {
			return nil, err
		}
	default:
		writeHeader("Content-Type", `text/plain; charset="utf-8"`)
		writeHeader("Content-Transfer-Encoding", "quoted-printable")
		buf.WriteString("\r\n")
		if err := writeQuotedPrintable(&buf, msg.Text); err != nil {
			return nil, err
		}
	}

	return buf.Bytes(), nil
}

// writeMixed 写出带附件的 multipart/mixed 结构。
func writeMixed(buf *bytes.Buffer, msg *domain.ParsedMessage) error {
	mw := multipart.NewWriter(buf)
	fmt.Fprintf(buf, "Content-Type: multipart/mixed; boundary=%q\r\n\r\n", mw.Boundary())

	// 正文作为嵌套的 alternative 部分
	var body bytes.Buffer
	inner := multipart.NewWriter(&body)
	if err := writeTextParts(inner, msg.Text, msg.HTML); err != nil {
		return err
	}
	if err := inner.Close(); err != nil {
		return err
	}

	bodyHeader := textproto.MIMEHeader{}
	bodyHeader.Set("Content-Type", fmt.Sprintf("multipart/alternative; boundary=%q", inner.Boundary()))
	part, err := mw.CreatePart(bodyHeader)
	if err != nil {
		return err
	}
	if _, err := part.Write(body.Bytes()); err != nil {
		return err
	}

	for _, att := range msg.Attachments {
		header := textproto.MIMEHeader{}
		contentType := att.ContentType
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		header.Set("Content-Type", fmt.Sprintf("%s; name=%q", contentType, att.Filename))
		header.Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", att.Filename))
		header.Set("Content-Transfer-Encoding", "base64")

		part, err := mw.CreatePart(header)
		if err != nil {
			return err
		}
		if err := writeBase64(part, att.Content); err != nil {
			return err
		}
	}

	return mw.Close()
}

// writeAlternative 写出 text+html 的 multipart/alternative 结构。
func writeAlternative(buf *bytes.Buffer, text, html string) error {
	mw := multipart.NewWriter(buf)
	fmt.Fprintf(buf, "Content-Type: multipart/alternative; boundary=%q\r\n\r\n", mw.Boundary())

	if err := writeTextParts(mw, text, html); err != nil {
		return err
	}
	return mw.Close()
}

// writeTextParts 依次写出文本与 HTML 部分（任一为空则跳过）。
func writeTextParts(mw *multipart.Writer, text, html string) error {
	if text != "" || html == "" {
		header := textproto.MIMEHeader{}
		header.Set("Content-Type", `text/plain; charset="utf-8"`)
		header.Set("Content-Transfer-Encoding", "quoted-printable")
		part, err := mw.CreatePart(header)
		if err != nil {
			return err
		}
		if err := writeQuotedPrintable(part, text); err != nil {
			return err
		}
	}

	if html != "" {
		header := textproto.MIMEHeader{}
		header.Set("Content-Type", `text/html; charset="utf-8"`)
		header.Set("Content-Transfer-Encoding", "quoted-printable")
		part, err := mw.CreatePart(header)
		if err != nil {
			return err
		}
		if err := writeQuotedPrintable(part, html); err != nil {
			return err
		}
	}

	return nil
}

func writeQuotedPrintable(w io.Writer, body string) error {
	qp := quotedprintable.NewWriter(w)
	if _, err := qp.Write([]byte(body)); err != nil {
		return err
	}
	return qp.Close()
}

// writeBase64 以 76 列换行写出 base64 内容。
func writeBase64(w io.Writer, content []byte) error {
	encoded := base64.StdEncoding.EncodeToString(content)
	for len(encoded) > 0 {
		n := 76
		if n > len(encoded) {
			n = len(encoded)
		}
		if _, err := w.Write([]byte(encoded[:n])); err != nil {
			return err
		}
		if _, err := w.Write([]byte("\r\n")); err != nil {
			return err
		}
		encoded = encoded[n:]
	}
	return nil
}
