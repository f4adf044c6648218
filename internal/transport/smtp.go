package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"mime"
	"mime/multipart"
	"net"
	"net/mail"
	"net/smtp"
	"net/textproto"
	"time"

	"github.com/meoying/email-ext/internal/task"
)

type SMTPTransport struct {
	// host:port
	addr string
	host string
	from string
	helo string
	auth smtp.Auth
}

func NewSMTPTransport(addr, from, helo string, auth smtp.Auth) (*SMTPTransport, error) {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("非法的 SMTP 地址 %w", err)
	}
	return &SMTPTransport{
		addr: addr,
		host: host,
		from: from,
		helo: helo,
		auth: auth,
	}, nil
}

func (s *SMTPTransport) Send(ctx context.Context, t task.Task) error {
	dialer := &net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", s.addr)
	if err != nil {
		return fmt.Errorf("连接邮件服务器失败 %w", err)
	}
	defer conn.Close()

	// 整个会话都受调用方的超时约束
	if deadline, ok := ctx.Deadline(); ok {
		if err = conn.SetDeadline(deadline); err != nil {
			return fmt.Errorf("设置超时失败 %w", err)
		}
	}

	client, err := smtp.NewClient(conn, s.host)
	if err != nil {
		return fmt.Errorf("创建 SMTP 客户端失败 %w", err)
	}
	defer client.Close()

	if err = client.Hello(s.helo); err != nil {
		return fmt.Errorf("HELO 失败 %w", err)
	}
	if ok, _ := client.Extension("STARTTLS"); ok {
		tlsConf := &tls.Config{
			ServerName: s.host,
			MinVersion: tls.VersionTLS12,
		}
		if err = client.StartTLS(tlsConf); err != nil {
			return fmt.Errorf("STARTTLS 失败 %w", err)
		}
	}
	if s.auth != nil {
		if ok, _ := client.Extension("AUTH"); ok {
			if err = client.Auth(s.auth); err != nil {
				return fmt.Errorf("认证失败 %w", err)
			}
		}
	}

	if err = client.Mail(s.from); err != nil {
		return fmt.Errorf("MAIL FROM 失败 %w", err)
	}
	if err = client.Rcpt(t.RecipientEmail); err != nil {
		return fmt.Errorf("RCPT TO 失败 %w", err)
	}
	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("DATA 失败 %w", err)
	}
	if _, err = w.Write(buildMessage(s.from, t)); err != nil {
		return fmt.Errorf("写入邮件内容失败 %w", err)
	}
	if err = w.Close(); err != nil {
		return fmt.Errorf("结束邮件内容失败 %w", err)
	}
	return client.Quit()
}

func buildMessage(from string, t task.Task) []byte {
	var buf bytes.Buffer
	to := mail.Address{Name: t.RecipientName, Address: t.RecipientEmail}
	fmt.Fprintf(&buf, "From: %s\r\n", from)
	fmt.Fprintf(&buf, "To: %s\r\n", to.String())
	fmt.Fprintf(&buf, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", t.Subject))
	fmt.Fprintf(&buf, "Date: %s\r\n", time.Now().Format(time.RFC1123Z))
	buf.WriteString("MIME-Version: 1.0\r\n")

	if len(t.Attachments) == 0 {
		buf.WriteString("Content-Type: text/html; charset=UTF-8\r\n\r\n")
		buf.WriteString(t.Content)
		return buf.Bytes()
	}

	mw := multipart.NewWriter(&buf)
	fmt.Fprintf(&buf, "Content-Type: multipart/mixed; boundary=%q\r\n\r\n", mw.Boundary())

	body, _ := mw.CreatePart(textproto.MIMEHeader{
		"Content-Type": {"text/html; charset=UTF-8"},
	})
	_, _ = body.Write([]byte(t.Content))

	for _, attachment := range t.Attachments {
		contentType := attachment.ContentType
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		part, _ := mw.CreatePart(textproto.MIMEHeader{
			"Content-Type":              {contentType},
			"Content-Transfer-Encoding": {"base64"},
			"Content-Disposition": {fmt.Sprintf("attachment; filename=%q",
				attachment.FileName)},
		})
		_, _ = part.Write([]byte(base64.StdEncoding.EncodeToString(attachment.Data)))
	}
	_ = mw.Close()
	return buf.Bytes()
}
