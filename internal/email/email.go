// Package email is the external-collaborator interface for outbound
// notification: the spec treats sending mail as out of scope, so this
// package keeps the teacher's degrade-to-no-op-when-unconfigured texture
// rather than building out real delivery.
package email

import (
	"fmt"
	"net/smtp"
)

type Config struct {
	Host string
	Port string
	User string
	Pass string
	From string
}

// Notifier is the minimal interface for sending a password-reset message,
// so a sender can be faked in tests without an SMTP server. Service
// implements it; no package in this repository calls it.
type Notifier interface {
	SendPasswordReset(to, token string) error
}

type Service struct {
	cfg Config
}

func NewService(cfg Config) *Service {
	return &Service{cfg: cfg}
}

func (s *Service) enabled() bool {
	return s.cfg.Host != "" && s.cfg.Pass != ""
}

func (s *Service) SendPasswordReset(to, token string) error {
	if !s.enabled() {
		fmt.Printf("[email] SMTP not configured, skipping reset email to %s (simulated)\n", to)
		return nil
	}

	auth := smtp.PlainAuth("", s.cfg.User, s.cfg.Pass, s.cfg.Host)
	subject := "Subject: Password Reset Request\n"
	mime := "MIME-version: 1.0;\nContent-Type: text/plain; charset=\"UTF-8\";\n\n"
	body := fmt.Sprintf("A password reset was requested. Token: %s\nIf you did not request this, ignore this message.\n", token)
	msg := []byte(subject + mime + body)

	addr := fmt.Sprintf("%s:%s", s.cfg.Host, s.cfg.Port)
	if err := smtp.SendMail(addr, auth, s.cfg.From, []string{to}, msg); err != nil {
		return fmt.Errorf("email: send reset message: %w", err)
	}
	return nil
}
