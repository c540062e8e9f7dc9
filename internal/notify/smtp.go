package notify

import (
	"context"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/vaidashi/lavender-orders/internal/models"
)

// SMTPConfig holds the mail relay settings
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// SMTPNotifier sends notifications through a mail relay
type SMTPNotifier struct {
	cfg  SMTPConfig
	auth smtp.Auth
	send sendFunc
	now  func() time.Time
}

// NewSMTPNotifier creates a new SMTPNotifier
func NewSMTPNotifier(cfg SMTPConfig) *SMTPNotifier {
	var auth smtp.Auth

	if cfg.Username != "" {
		auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
	}

	return &SMTPNotifier{
		cfg:  cfg,
		auth: auth,
		send: smtp.SendMail,
		now:  time.Now,
	}
}

// Notify renders and sends the message. The context is checked before
// sending; net/smtp does not accept one.
func (n *SMTPNotifier) Notify(ctx context.Context, order *models.Order, kind Kind) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := Render(order, kind)

	if strings.TrimSpace(msg.To) == "" {
		return fmt.Errorf("order %s has no customer email", order.ID)
	}

	addr := net.JoinHostPort(n.cfg.Host, strconv.Itoa(n.cfg.Port))

	if err := n.send(addr, n.auth, n.cfg.From, []string{msg.To}, n.compose(msg)); err != nil {
		return fmt.Errorf("failed to send %s notification for order %s: %w", kind, order.ID, err)
	}

	return nil
}

// compose builds an RFC 5322 plain text message with CRLF line endings
func (n *SMTPNotifier) compose(msg Message) []byte {
	var b strings.Builder

	headers := [][2]string{
		{"From", n.cfg.From},
		{"To", msg.To},
		{"Subject", msg.Subject},
		{"Date", n.now().UTC().Format(time.RFC1123Z)},
		{"MIME-Version", "1.0"},
		{"Content-Type", "text/plain; charset=UTF-8"},
	}

	for _, h := range headers {
		fmt.Fprintf(&b, "%s: %s\r\n", h[0], stripNewlines(h[1]))
	}

	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(msg.Body, "\n", "\r\n"))

	return []byte(b.String())
}

func stripNewlines(s string) string {
	return strings.NewReplacer("\r", " ", "\n", " ").Replace(s)
}
