// internal/service/email/service.go
package email

import (
	"bytes"
	"crypto/tls"
	"fmt"
	"html/template"
	"net"
	"net/mail"
	"net/smtp"
	"strings"
	"time"
)

const dialTimeout = 15 * time.Second

var layout = template.Must(template.New("email").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8" />
<title>{{.Brand}}</title>
<style>
body { font-family: Arial, sans-serif; background-color: #f6f8fa; padding: 30px; }
.container { max-width: 600px; margin: auto; background: #fff; border-radius: 10px; overflow: hidden; }
.header { background: #0b7a5c; color: white; text-align: center; padding: 20px; font-size: 22px; font-weight: bold; }
.body { padding: 25px; color: #333; line-height: 1.6; }
.footer { background: #f1f1f1; color: #555; text-align: center; padding: 15px; font-size: 13px; }
a { display: inline-block; background: #0b7a5c; color: white; padding: 10px 20px; border-radius: 5px; text-decoration: none; }
</style>
</head>
<body>
<div class="container">
<div class="header">{{.Brand}}</div>
<div class="body">{{.Content}}</div>
<div class="footer"><p>You are receiving this because of activity on your {{.Brand}} subscription.</p></div>
</div>
</body>
</html>
`))

// EmailSender delivers billing emails over SMTP, with implicit TLS (465)
// or STARTTLS (587).
type EmailSender struct {
	host     string
	port     string
	username string
	password string
	fromName string
	secure   bool
	now      func() time.Time
}

func NewEmailSender(host, port, user, pass, fromName string, secure bool) *EmailSender {
	if fromName == "" {
		fromName = "Lingua"
	}
	return &EmailSender{
		host:     host,
		port:     port,
		username: user,
		password: pass,
		fromName: fromName,
		secure:   secure,
		now:      time.Now,
	}
}

// Configured reports whether an SMTP host was provided.
func (e *EmailSender) Configured() bool {
	return e != nil && e.host != ""
}

// Send delivers bodyHTML, already escaped by the caller, inside the branded layout.
func (e *EmailSender) Send(to, subject, bodyHTML string) error {
	msg, err := e.compose(to, subject, bodyHTML)
	if err != nil {
		return err
	}

	client, err := e.dial()
	if err != nil {
		return err
	}
	defer client.Close()

	if e.username != "" {
		if err := client.Auth(smtp.PlainAuth("", e.username, e.password, e.host)); err != nil {
			return fmt.Errorf("smtp auth failed: %w", err)
		}
	}
	if err := client.Mail(e.username); err != nil {
		return fmt.Errorf("MAIL FROM failed: %w", err)
	}
	if err := client.Rcpt(to); err != nil {
		return fmt.Errorf("RCPT TO failed: %w", err)
	}
	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("DATA failed: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("write failed: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close failed: %w", err)
	}
	return client.Quit()
}

func (e *EmailSender) dial() (*smtp.Client, error) {
	addr := net.JoinHostPort(e.host, e.port)
	tlsConfig := &tls.Config{ServerName: e.host}
	dialer := &net.Dialer{Timeout: dialTimeout}

	if e.secure {
		conn, err := tls.DialWithDialer(dialer, "tcp", addr, tlsConfig)
		if err != nil {
			return nil, fmt.Errorf("tls dial failed: %w", err)
		}
		client, err := smtp.NewClient(conn, e.host)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("smtp client failed: %w", err)
		}
		return client, nil
	}

	conn, err := dialer.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial failed: %w", err)
	}
	client, err := smtp.NewClient(conn, e.host)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("smtp client failed: %w", err)
	}
	if ok, _ := client.Extension("STARTTLS"); ok {
		if err := client.StartTLS(tlsConfig); err != nil {
			client.Close()
			return nil, fmt.Errorf("starttls failed: %w", err)
		}
	}
	return client, nil
}

// compose builds the RFC 5322 message.
func (e *EmailSender) compose(to, subject, bodyHTML string) ([]byte, error) {
	rcpt, err := mail.ParseAddress(to)
	if err != nil {
		return nil, fmt.Errorf("invalid recipient %q: %w", to, err)
	}

	var html bytes.Buffer
	err = layout.Execute(&html, struct {
		Brand   string
		Content template.HTML
	}{e.fromName, template.HTML(strings.TrimSpace(bodyHTML))})
	if err != nil {
		return nil, fmt.Errorf("failed to render email: %w", err)
	}

	from := &mail.Address{Name: e.fromName, Address: e.username}
	var b bytes.Buffer
	fmt.Fprintf(&b, "From: %s\r\n", from.String())
	fmt.Fprintf(&b, "To: %s\r\n", rcpt.String())
	fmt.Fprintf(&b, "Subject: %s\r\n", strings.NewReplacer("\r", "", "\n", "").Replace(subject))
	fmt.Fprintf(&b, "Date: %s\r\n", e.now().Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=\"utf-8\"\r\n\r\n")
	b.Write(html.Bytes())
	return b.Bytes(), nil
}
