// Package mailer delivers the password-reset emails through the configured
// SMTP relay.
package mailer

import (
	"bytes"
	"context"
	"crypto/tls"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"mime"
	"mime/quotedprintable"
	"net"
	"net/mail"
	"net/smtp"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/iliyamo/sunnah-audio/internal/config"
	"github.com/iliyamo/sunnah-audio/internal/metrics"
)

// ErrMailerFailed wraps every delivery failure.
var ErrMailerFailed = errors.New("mailer failed")

const (
	subjectOTP          = "Password Reset OTP - Muryar Sunnah"
	subjectConfirmation = "Password Reset Successful - Muryar Sunnah"
)

//go:embed templates/*.html
var templateFS embed.FS

var templates = template.Must(template.ParseFS(templateFS, "templates/*.html"))

// Mailer sends HTML emails; one SMTP session per message.
type Mailer struct {
	cfg     config.SMTPConfig
	log     *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

func New(cfg config.SMTPConfig, log *zap.Logger, m *metrics.Metrics) *Mailer {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Mailer{cfg: cfg, log: log, metrics: m, now: time.Now}
}

// SendOTP delivers a password-reset code.
func (m *Mailer) SendOTP(ctx context.Context, to, code string) error {
	body, err := render("otp.html", map[string]interface{}{"Code": code, "ValidMinutes": 10})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMailerFailed, err)
	}
	err = m.send(ctx, to, subjectOTP, body)
	m.metrics.ObserveMail("otp", err)
	return err
}

// SendResetConfirmation tells the user their password was changed.
func (m *Mailer) SendResetConfirmation(ctx context.Context, to string) error {
	body, err := render("reset_confirmation.html", map[string]interface{}{
		"Email": to,
		"When":  m.now().UTC().Format("2 Jan 2006 15:04 MST"),
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMailerFailed, err)
	}
	err = m.send(ctx, to, subjectConfirmation, body)
	m.metrics.ObserveMail("reset_confirmation", err)
	return err
}

func render(name string, data interface{}) (string, error) {
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func (m *Mailer) send(ctx context.Context, to, subject, html string) error {
	if err := m.deliver(ctx, to, subject, html); err != nil {
		m.log.Warn("smtp delivery failed", zap.String("subject", subject), zap.Error(err))
		return fmt.Errorf("%w: %v", ErrMailerFailed, err)
	}
	m.log.Debug("smtp delivery ok", zap.String("subject", subject))
	return nil
}

func (m *Mailer) deliver(ctx context.Context, to, subject, html string) error {
	rcpt, err := mail.ParseAddress(to)
	if err != nil {
		return fmt.Errorf("recipient: %w", err)
	}
	msg, err := m.buildMessage(rcpt, subject, html)
	if err != nil {
		return err
	}

	// the whole session, dial included, must finish before the deadline
	deadline := time.Now().Add(m.cfg.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	dctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	addr := net.JoinHostPort(m.cfg.Host, strconv.Itoa(m.cfg.Port))
	var conn net.Conn
	if m.cfg.Port == 465 {
		d := &tls.Dialer{Config: &tls.Config{ServerName: m.cfg.Host, MinVersion: tls.VersionTLS12}}
		conn, err = d.DialContext(dctx, "tcp", addr)
	} else {
		var d net.Dialer
		conn, err = d.DialContext(dctx, "tcp", addr)
	}
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	if err := conn.SetDeadline(deadline); err != nil {
		_ = conn.Close()
		return err
	}
	// unblock a hung relay if the request is cancelled
	stop := context.AfterFunc(dctx, func() { _ = conn.SetDeadline(time.Now()) })
	defer stop()

	c, err := smtp.NewClient(conn, m.cfg.Host)
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("smtp handshake: %w", err)
	}
	defer c.Close()

	if m.cfg.Port == 587 || m.cfg.Port == 2525 {
		ok, _ := c.Extension("STARTTLS")
		if !ok {
			return errors.New("relay does not offer STARTTLS")
		}
		if err := c.StartTLS(&tls.Config{ServerName: m.cfg.Host, MinVersion: tls.VersionTLS12}); err != nil {
			return fmt.Errorf("starttls: %w", err)
		}
	}
	if m.cfg.Username != "" {
		if err := c.Auth(smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)); err != nil {
			return fmt.Errorf("auth: %w", err)
		}
	}
	if err := c.Mail(m.cfg.FromEmail); err != nil {
		return fmt.Errorf("mail from: %w", err)
	}
	if err := c.Rcpt(rcpt.Address); err != nil {
		return fmt.Errorf("rcpt to: %w", err)
	}
	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("data: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("write body: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("end data: %w", err)
	}
	return c.Quit()
}

func (m *Mailer) buildMessage(to *mail.Address, subject, html string) ([]byte, error) {
	from := mail.Address{Name: m.cfg.FromName, Address: m.cfg.FromEmail}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "From: %s\r\n", from.String())
	fmt.Fprintf(&buf, "To: %s\r\n", to.String())
	fmt.Fprintf(&buf, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", subject))
	fmt.Fprintf(&buf, "Date: %s\r\n", m.now().UTC().Format(time.RFC1123Z))
	buf.WriteString("MIME-Version: 1.0\r\n")
	buf.WriteString("Content-Type: text/html; charset=\"UTF-8\"\r\n")
	buf.WriteString("Content-Transfer-Encoding: quoted-printable\r\n\r\n")

	qp := quotedprintable.NewWriter(&buf)
	if _, err := qp.Write([]byte(html)); err != nil {
		return nil, err
	}
	if err := qp.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
