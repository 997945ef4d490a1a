package notify

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"mime"
	"net"
	"net/http"
	"net/smtp"
	"strings"
	"time"
)

// Mailer dispatches one message and reports success or failure. The
// trigger treats any error as transient.
type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

type MailerConfig struct {
	Provider     string // log, noop, fail, smtp, webhook, or a webhook URL
	From         string
	SMTPHost     string
	SMTPPort     int
	SMTPUser     string
	SMTPPass     string
	SMTPStartTLS bool // STARTTLS on 587; implicit TLS otherwise
	Timeout      time.Duration
	WebhookURL   string
	WebhookToken string
}

func NewMailer(cfg MailerConfig) Mailer {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	switch cfg.Provider {
	case "", "log":
		return logMailer{}
	case "noop":
		return noopMailer{}
	case "fail":
		return failMailer{}
	case "smtp":
		return &smtpMailer{cfg: cfg}
	case "webhook":
		if cfg.WebhookURL == "" {
			return logMailer{}
		}
		return &webhookMailer{url: cfg.WebhookURL, token: cfg.WebhookToken, timeout: cfg.Timeout}
	default:
		if strings.HasPrefix(cfg.Provider, "http://") || strings.HasPrefix(cfg.Provider, "https://") {
			return &webhookMailer{url: cfg.Provider, token: cfg.WebhookToken, timeout: cfg.Timeout}
		}
		return logMailer{}
	}
}

// logMailer is the dry-run default: nothing leaves the process.
type logMailer struct{}

func (logMailer) Send(ctx context.Context, to, subject, body string) error {
	snippet := body
	if len(snippet) > 40 {
		snippet = snippet[:40]
	}
	log.Printf("dry-run email to=%s subject=%q body=%q", to, subject, snippet)
	return nil
}

type noopMailer struct{}

func (noopMailer) Send(ctx context.Context, to, subject, body string) error {
	return nil
}

type failMailer struct{}

func (failMailer) Send(ctx context.Context, to, subject, body string) error {
	return errors.New("mailer failure")
}

type smtpMailer struct {
	cfg MailerConfig
}

func (m *smtpMailer) Send(ctx context.Context, to, subject, body string) error {
	addr := net.JoinHostPort(m.cfg.SMTPHost, fmt.Sprintf("%d", m.cfg.SMTPPort))
	dialer := &net.Dialer{Timeout: m.cfg.Timeout}

	var conn net.Conn
	var err error
	if m.cfg.SMTPStartTLS {
		conn, err = dialer.DialContext(ctx, "tcp", addr)
	} else {
		conn, err = tls.DialWithDialer(dialer, "tcp", addr, &tls.Config{ServerName: m.cfg.SMTPHost})
	}
	if err != nil {
		return err
	}
	_ = conn.SetDeadline(time.Now().Add(m.cfg.Timeout))

	client, err := smtp.NewClient(conn, m.cfg.SMTPHost)
	if err != nil {
		_ = conn.Close()
		return err
	}
	defer client.Close()

	if m.cfg.SMTPStartTLS {
		if err := client.StartTLS(&tls.Config{ServerName: m.cfg.SMTPHost}); err != nil {
			return err
		}
	}
	if m.cfg.SMTPUser != "" && m.cfg.SMTPPass != "" {
		auth := smtp.PlainAuth("", m.cfg.SMTPUser, m.cfg.SMTPPass, m.cfg.SMTPHost)
		if err := client.Auth(auth); err != nil {
			return err
		}
	}
	if err := client.Mail(m.cfg.From); err != nil {
		return err
	}
	if err := client.Rcpt(to); err != nil {
		return err
	}
	writer, err := client.Data()
	if err != nil {
		return err
	}
	if _, err := writer.Write(composeMessage(m.cfg.From, to, subject, body)); err != nil {
		return err
	}
	if err := writer.Close(); err != nil {
		return err
	}
	return client.Quit()
}

func composeMessage(from, to, subject, body string) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "From: %s\r\n", from)
	fmt.Fprintf(&buf, "To: %s\r\n", to)
	fmt.Fprintf(&buf, "Subject: %s\r\n", mime.QEncoding.Encode("UTF-8", subject))
	buf.WriteString("MIME-Version: 1.0\r\n")
	buf.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	buf.WriteString("\r\n")
	buf.WriteString(strings.ReplaceAll(body, "\n", "\r\n"))
	return buf.Bytes()
}

type webhookMailer struct {
	url     string
	token   string
	timeout time.Duration
}

func (m *webhookMailer) Send(ctx context.Context, to, subject, body string) error {
	payload := map[string]string{
		"recipient": to,
		"subject":   subject,
		"body":      body,
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.url, bytes.NewReader(encoded))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if m.token != "" {
		req.Header.Set("Authorization", "Bearer "+m.token)
	}
	client := &http.Client{Timeout: m.timeout}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return errors.New("mail webhook rejected request")
	}
	return nil
}
