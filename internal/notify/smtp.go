package notify

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"github.com/google/uuid"
	"golang.org/x/xerrors"
)

var (
	ErrNoFromAddress = xerrors.New("no 'from' address defined")
	ErrNoToAddress   = xerrors.New("no 'to' address(es) defined")
	ErrNoSmarthost   = xerrors.New("smarthost is not defined")
)

type SMTPConfig struct {
	// Smarthost is host:port of the relay.
	Smarthost string
	From      string
	To        []string
	Username  string
	Password  string
}

// SMTP mails each alert to the configured recipients.
type SMTP struct {
	cfg SMTPConfig
	now func() time.Time
}

func NewSMTP(cfg SMTPConfig) (*SMTP, error) {
	switch {
	case cfg.Smarthost == "":
		return nil, ErrNoSmarthost
	case cfg.From == "":
		return nil, ErrNoFromAddress
	case len(cfg.To) == 0:
		return nil, ErrNoToAddress
	}
	return &SMTP{cfg: cfg, now: time.Now}, nil
}

func (s *SMTP) Notify(ctx context.Context, message string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var auth sasl.Client
	if s.cfg.Username != "" {
		auth = sasl.NewPlainClient("", s.cfg.Username, s.cfg.Password)
	}

	done := make(chan error, 1)
	go func() {
		done <- smtp.SendMail(s.cfg.Smarthost, auth, s.cfg.From, s.cfg.To, bytes.NewReader(s.compose(message)))
	}()
	select {
	case <-ctx.Done():
		return xerrors.Errorf("send mail: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return xerrors.Errorf("send mail via %s: %w", s.cfg.Smarthost, err)
		}
		return nil
	}
}

func (s *SMTP) compose(message string) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "From: %s\r\n", s.cfg.From)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(s.cfg.To, ", "))
	fmt.Fprintf(&b, "Subject: [wheel-tracker] %s\r\n", message)
	fmt.Fprintf(&b, "Date: %s\r\n", s.now().Format(time.RFC1123Z))
	fmt.Fprintf(&b, "Message-Id: <%s@wheel-tracker>\r\n", uuid.NewString())
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(message)
	b.WriteString("\r\n")
	return b.Bytes()
}
