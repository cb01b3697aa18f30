package dispatch

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/tls"
	"encoding/hex"
	"fmt"
	"log/slog"
	"mime"
	"net"
	"net/smtp"
	"strconv"
	"time"

	"github.com/kiranshivaraju/bugnest/internal/config"
	"github.com/resend/resend-go/v2"
)

// NewEmailSender constructs the email provider named by cfg.EmailProvider.
// "none" returns a nil sender, which disables the email channel.
func NewEmailSender(cfg config.NotifierConfig) (EmailSender, error) {
	switch cfg.EmailProvider {
	case "none", "":
		return nil, nil
	case "smtp":
		return NewSMTPSender(cfg.SMTP, cfg.EmailFrom), nil
	case "resend":
		return NewResendSender(cfg.ResendAPIKey, cfg.EmailFrom), nil
	default:
		return nil, fmt.Errorf("unknown email provider %q: must be one of none, smtp, resend", cfg.EmailProvider)
	}
}

// ResendSender sends email through the Resend API.
type ResendSender struct {
	client *resend.Client
	from   string
}

func NewResendSender(apiKey, from string) *ResendSender {
	return &ResendSender{client: resend.NewClient(apiKey), from: from}
}

func (s *ResendSender) SendEmail(ctx context.Context, msg SendEmail) error {
	if msg.Email == "" {
		return fmt.Errorf("email recipient is required")
	}
	result, err := s.client.Emails.SendWithContext(ctx, &resend.SendEmailRequest{
		From:    s.from,
		To:      []string{msg.Email},
		Subject: msg.Title,
		Text:    msg.Text,
		Html:    msg.HTML,
	})
	if err != nil {
		return fmt.Errorf("resend send: %w", err)
	}
	slog.Debug("email sent via resend", "email_id", result.Id, "to", msg.Email)
	return nil
}

// SMTPSender sends email over SMTP. Port 465 uses implicit TLS; any other
// port upgrades with STARTTLS when the server offers it.
type SMTPSender struct {
	cfg  config.SMTPConfig
	from string
	now  func() time.Time
}

func NewSMTPSender(cfg config.SMTPConfig, from string) *SMTPSender {
	return &SMTPSender{cfg: cfg, from: from, now: time.Now}
}

func (s *SMTPSender) SendEmail(ctx context.Context, msg SendEmail) error {
	if msg.Email == "" {
		return fmt.Errorf("email recipient is required")
	}
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("connecting to smtp server: %w", err)
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	tlsConfig := &tls.Config{ServerName: s.cfg.Host}
	if s.cfg.Port == 465 {
		conn = tls.Client(conn, tlsConfig)
	}

	client, err := smtp.NewClient(conn, s.cfg.Host)
	if err != nil {
		return fmt.Errorf("creating smtp client: %w", err)
	}
	defer client.Close()

	if s.cfg.Port != 465 {
		if ok, _ := client.Extension("STARTTLS"); ok {
			if err := client.StartTLS(tlsConfig); err != nil {
				return fmt.Errorf("starting tls: %w", err)
			}
		}
	}
	if s.cfg.Username != "" {
		if err := client.Auth(smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}

	if err := client.Mail(s.from); err != nil {
		return fmt.Errorf("setting sender %s: %w", s.from, err)
	}
	if err := client.Rcpt(msg.Email); err != nil {
		return fmt.Errorf("setting recipient %s: %w", msg.Email, err)
	}
	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("opening data writer: %w", err)
	}
	if _, err := w.Write(buildMessage(s.from, msg, s.now())); err != nil {
		w.Close()
		return fmt.Errorf("writing message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("closing data writer: %w", err)
	}
	if err := client.Quit(); err != nil {
		slog.Warn("smtp quit failed", "error", err)
	}
	return nil
}

// buildMessage renders a multipart/alternative message with a plain-text and
// an HTML part.
func buildMessage(from string, msg SendEmail, now time.Time) []byte {
	boundary := newBoundary()
	var b bytes.Buffer
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", msg.Email)
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", msg.Title))
	fmt.Fprintf(&b, "Date: %s\r\n", now.Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	fmt.Fprintf(&b, "Content-Type: multipart/alternative; boundary=%q\r\n\r\n", boundary)

	fmt.Fprintf(&b, "--%s\r\n", boundary)
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\nContent-Transfer-Encoding: 8bit\r\n\r\n")
	b.WriteString(msg.Text + "\r\n")

	fmt.Fprintf(&b, "--%s\r\n", boundary)
	b.WriteString("Content-Type: text/html; charset=UTF-8\r\nContent-Transfer-Encoding: 8bit\r\n\r\n")
	b.WriteString(msg.HTML + "\r\n")

	fmt.Fprintf(&b, "--%s--\r\n", boundary)
	return b.Bytes()
}

func newBoundary() string {
	var buf [12]byte
	_, _ = rand.Read(buf[:])
	return "bugnest-" + hex.EncodeToString(buf[:])
}

var (
	_ EmailSender = (*SMTPSender)(nil)
	_ EmailSender = (*ResendSender)(nil)
)
