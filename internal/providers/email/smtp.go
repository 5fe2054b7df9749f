package email

import (
	"context"
	"errors"
	"fmt"
	"net/smtp"
	"net/textproto"
	"strings"

	"github.com/oklog/ulid/v2"
)

type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

type SMTPProvider struct {
	cfg  Config
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewSMTP(cfg Config) *SMTPProvider {
	return &SMTPProvider{cfg: cfg, send: smtp.SendMail}
}

func (p *SMTPProvider) Name() string { return "smtp" }

func (p *SMTPProvider) Send(ctx context.Context, msg Message) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	if msg.To == "" {
		return Result{}, &SendError{Code: "invalid_recipient", Message: "recipient is empty"}
	}

	var auth smtp.Auth
	if p.cfg.Username != "" {
		auth = smtp.PlainAuth("", p.cfg.Username, p.cfg.Password, p.cfg.Host)
	}
	addr := fmt.Sprintf("%s:%d", p.cfg.Host, p.cfg.Port)
	id := ulid.Make().String()

	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", p.cfg.From)
	fmt.Fprintf(&b, "To: %s\r\n", msg.To)
	fmt.Fprintf(&b, "Subject: %s\r\n", msg.Subject)
	fmt.Fprintf(&b, "Message-ID: <%s@%s>\r\n", id, p.cfg.Host)
	b.WriteString("MIME-Version: 1.0\r\nContent-Type: text/plain; charset=\"UTF-8\"\r\n\r\n")
	b.WriteString(msg.Text)

	if err := p.send(addr, auth, p.cfg.From, []string{msg.To}, []byte(b.String())); err != nil {
		return Result{}, classifySMTPError(err)
	}
	return Result{ProviderMessageID: id}, nil
}

// classifySMTPError maps SMTP replies: 4xx is transient, 5xx is permanent.
func classifySMTPError(err error) error {
	var protoErr *textproto.Error
	if errors.As(err, &protoErr) {
		return &SendError{
			Code:      fmt.Sprintf("smtp_%d", protoErr.Code),
			Message:   protoErr.Msg,
			Retryable: protoErr.Code < 500,
		}
	}
	return &SendError{Code: "smtp_unavailable", Message: err.Error(), Retryable: true}
}
