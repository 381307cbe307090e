package sender

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	gomail "gopkg.in/gomail.v2"
)

// SMTPConfig configures the direct-SMTP driver.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
}

// SMTPSender delivers mail over plain SMTP. It dials per send; campaign
// throughput is limited by the rate limiter long before connection reuse
// would matter.
type SMTPSender struct {
	cfg SMTPConfig
}

func NewSMTP(cfg SMTPConfig) *SMTPSender {
	return &SMTPSender{cfg: cfg}
}

func (s *SMTPSender) Send(ctx context.Context, msg Message) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	m := gomail.NewMessage()
	from := msg.From.Address
	if from == "" {
		from = s.cfg.Username
	}
	if msg.From.Name != "" {
		m.SetAddressHeader("From", from, msg.From.Name)
	} else {
		m.SetHeader("From", from)
	}
	m.SetHeader("To", msg.Recipient)
	m.SetHeader("Subject", msg.Subject)
	m.SetBody("text/html", msg.Body)

	d := gomail.NewDialer(s.cfg.Host, s.cfg.Port, s.cfg.Username, s.cfg.Password)
	if err := d.DialAndSend(m); err != nil {
		if isSMTPAuthErr(err) {
			return Result{}, Auth(fmt.Errorf("smtp: %w", err))
		}
		return Result{}, fmt.Errorf("smtp: %w", err)
	}
	return Result{StatusCode: http.StatusOK}, nil
}

// isSMTPAuthErr sniffs auth-class SMTP failures (535, bad credentials) so
// they fail the campaign instead of being retried per recipient.
func isSMTPAuthErr(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "535") ||
		strings.Contains(msg, "authentication failed") ||
		strings.Contains(msg, "username and password not accepted")
}
