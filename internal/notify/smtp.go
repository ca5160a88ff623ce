// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Pygmalion Contributors

package notify

import (
	"context"
	"crypto/tls"
	"mime"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/samber/oops"
)

// SMTPConfig holds the outbound mail server settings.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// Addr returns host:port.
func (c SMTPConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Validate checks the settings needed to send.
func (c SMTPConfig) Validate() error {
	if c.Host == "" {
		return oops.Code("SMTP_CONFIG_INVALID").Errorf("smtp host is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return oops.Code("SMTP_CONFIG_INVALID").With("port", c.Port).Errorf("smtp port out of range")
	}
	if c.From == "" {
		return oops.Code("SMTP_CONFIG_INVALID").Errorf("sender address is required")
	}
	return nil
}

// SMTPSender delivers messages over SMTP, upgrading with STARTTLS when the
// server offers it.
type SMTPSender struct {
	cfg  SMTPConfig
	now  func() time.Time
	dial func(ctx context.Context, network, addr string) (net.Conn, error)
}

// NewSMTPSender creates an SMTPSender.
func NewSMTPSender(cfg SMTPConfig) (*SMTPSender, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	var d net.Dialer
	return &SMTPSender{cfg: cfg, now: time.Now, dial: d.DialContext}, nil
}

// Send delivers msg. The context bounds dialing and the whole SMTP exchange.
func (s *SMTPSender) Send(ctx context.Context, msg Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}

	conn, err := s.dial(ctx, "tcp", s.cfg.Addr())
	if err != nil {
		return oops.Code("SMTP_DIAL_FAILED").With("addr", s.cfg.Addr()).Wrap(err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline) //nolint:errcheck // best effort on a fresh conn
	}

	c, err := smtp.NewClient(conn, s.cfg.Host)
	if err != nil {
		_ = conn.Close()
		return oops.Code("SMTP_HANDSHAKE_FAILED").With("addr", s.cfg.Addr()).Wrap(err)
	}
	defer c.Close() //nolint:errcheck // Quit already reported the outcome

	if err := s.exchange(c, msg); err != nil {
		return oops.Code("SMTP_SEND_FAILED").
			With("addr", s.cfg.Addr()).
			With("to", msg.To).
			Wrap(err)
	}
	return nil
}

func (s *SMTPSender) exchange(c *smtp.Client, msg Message) error {
	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(&tls.Config{ServerName: s.cfg.Host, MinVersion: tls.VersionTLS12}); err != nil {
			return oops.With("operation", "starttls").Wrap(err)
		}
	}
	if s.cfg.Username != "" {
		auth := smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
		if err := c.Auth(auth); err != nil {
			return oops.With("operation", "auth").Wrap(err)
		}
	}
	if err := c.Mail(s.cfg.From); err != nil {
		return oops.With("operation", "mail from").Wrap(err)
	}
	if err := c.Rcpt(msg.To); err != nil {
		return oops.With("operation", "rcpt to").Wrap(err)
	}
	w, err := c.Data()
	if err != nil {
		return oops.With("operation", "data").Wrap(err)
	}
	if _, err := w.Write(buildMIME(s.cfg.From, msg, s.now())); err != nil {
		_ = w.Close()
		return oops.With("operation", "write body").Wrap(err)
	}
	if err := w.Close(); err != nil {
		return oops.With("operation", "end data").Wrap(err)
	}
	return c.Quit() //nolint:wrapcheck // wrapped by Send
}

// buildMIME renders an HTML message with RFC 2047 encoded subject.
func buildMIME(from string, msg Message, date time.Time) []byte {
	var b strings.Builder
	header := func(k, v string) {
		b.WriteString(k)
		b.WriteString(": ")
		b.WriteString(v)
		b.WriteString("\r\n")
	}
	header("From", from)
	header("To", msg.To)
	header("Subject", mime.QEncoding.Encode("utf-8", msg.Subject))
	header("Date", date.Format(time.RFC1123Z))
	header("MIME-Version", "1.0")
	header("Content-Type", "text/html; charset=UTF-8")
	header("Content-Transfer-Encoding", "8bit")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(msg.HTMLBody, "\n", "\r\n"))
	return []byte(b.String())
}
