package provider

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"net/textproto"
	"strconv"

	"github.com/sgunadhya/oxidesk/internal/domain"
)

// SMTP delivers through a submission server with STARTTLS. Credentials come
// from the inbox config, decrypted by the caller.
type SMTP struct {
	Host     string
	Port     int
	Username string
	Password string
}

// NewSMTP creates the SMTP provider.
func NewSMTP(host string, port int, username, password string) *SMTP {
	return &SMTP{Host: host, Port: port, Username: username, Password: password}
}

// Send composes and transmits the email. Permanent SMTP rejections (5xx)
// come back as fatal errors; everything else is transient.
func (p *SMTP) Send(ctx context.Context, e *OutboundEmail) (string, error) {
	raw, msgID, err := Compose(e)
	if err != nil {
		return "", domain.WrapError(domain.KindFatal, err, "compose email")
	}

	addr := net.JoinHostPort(p.Host, strconv.Itoa(p.Port))
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return "", domain.WrapError(domain.KindTransient, err, "dial %s", addr)
	}
	c, err := smtp.NewClient(conn, p.Host)
	if err != nil {
		conn.Close()
		return "", classify(err, "smtp handshake")
	}
	defer c.Close()

	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(&tls.Config{ServerName: p.Host}); err != nil {
			return "", classify(err, "starttls")
		}
	}
	if p.Username != "" {
		auth := smtp.PlainAuth("", p.Username, p.Password, p.Host)
		if err := c.Auth(auth); err != nil {
			return "", classify(err, "smtp auth")
		}
	}
	if err := c.Mail(e.FromAddress); err != nil {
		return "", classify(err, "mail from")
	}
	if err := c.Rcpt(e.ToAddress); err != nil {
		return "", classify(err, "rcpt to")
	}
	w, err := c.Data()
	if err != nil {
		return "", classify(err, "data")
	}
	if _, err := w.Write(raw); err != nil {
		w.Close()
		return "", classify(err, "write body")
	}
	if err := w.Close(); err != nil {
		return "", classify(err, "finish body")
	}
	c.Quit()
	return msgID, nil
}

// classify maps SMTP 5xx replies to fatal and everything else to transient.
func classify(err error, stage string) error {
	var te *textproto.Error
	if errors.As(err, &te) && te.Code >= 500 {
		return domain.WrapError(domain.KindFatal, err, "%s: %s", stage, fmt.Sprint(te))
	}
	return domain.WrapError(domain.KindTransient, err, "%s failed", stage)
}
