package service

import (
	"context"
	"log/slog"
	"sync"
)

// Mailer delivers OTP codes.
type Mailer interface {
	SendOTP(ctx context.Context, email string, flow Flow, code string) error
}

// LogMailer writes codes to the log instead of sending mail.
type LogMailer struct {
	logger *slog.Logger
}

func NewLogMailer(logger *slog.Logger) *LogMailer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogMailer{logger: logger}
}

func (m *LogMailer) SendOTP(_ context.Context, email string, flow Flow, code string) error {
	m.logger.Info("otp issued", "email", email, "flow", flow, "code", code)
	return nil
}

type SentOTP struct {
	Email string
	Flow  Flow
	Code  string
}

// OutboxMailer records codes so tests can read them back.
type OutboxMailer struct {
	mu   sync.Mutex
	sent []SentOTP
}

func (m *OutboxMailer) SendOTP(_ context.Context, email string, flow Flow, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, SentOTP{Email: email, Flow: flow, Code: code})
	return nil
}

func (m *OutboxMailer) Last() (SentOTP, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		return SentOTP{}, false
	}
	return m.sent[len(m.sent)-1], true
}

func (m *OutboxMailer) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}
