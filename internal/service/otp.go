package service

import (
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"marketplace-auth/pkg/apierror"
)

type Flow string

const (
	FlowLogin    Flow = "login"
	FlowRegister Flow = "register"
)

const maxOTPAttempts = 5

type otpChallenge struct {
	flow      Flow
	code      string
	expiresAt time.Time
	attempts  int
}

// OTPStore holds at most one live challenge per email. Issuing a new code
// replaces the previous one.
type OTPStore struct {
	ttl   time.Duration
	fixed string

	mu         sync.Mutex
	challenges map[string]*otpChallenge
}

func NewOTPStore(ttl time.Duration, fixedCode string) *OTPStore {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &OTPStore{
		ttl:        ttl,
		fixed:      fixedCode,
		challenges: map[string]*otpChallenge{},
	}
}

func (s *OTPStore) Issue(email string, flow Flow, now time.Time) (string, error) {
	code := s.fixed
	if code == "" {
		var err error
		if code, err = randomCode(); err != nil {
			return "", fmt.Errorf("generate otp: %w", err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.challenges[otpKey(email)] = &otpChallenge{flow: flow, code: code, expiresAt: now.Add(s.ttl)}
	return code, nil
}

// Verify consumes the challenge on success. A challenge is dropped after too
// many wrong codes.
func (s *OTPStore) Verify(email string, flow Flow, code string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := otpKey(email)
	c, ok := s.challenges[key]
	if !ok || c.flow != flow {
		return apierror.New("OTP_NOT_FOUND", "No verification code is pending for this email", "", http.StatusBadRequest)
	}
	if !now.Before(c.expiresAt) {
		delete(s.challenges, key)
		return apierror.New("OTP_EXPIRED", "Verification code has expired", "", http.StatusBadRequest)
	}
	if subtle.ConstantTimeCompare([]byte(c.code), []byte(code)) != 1 {
		c.attempts++
		if c.attempts >= maxOTPAttempts {
			delete(s.challenges, key)
		}
		return apierror.New("INVALID_OTP", "Invalid verification code", "", http.StatusBadRequest)
	}

	delete(s.challenges, key)
	return nil
}

func (s *OTPStore) PendingFlow(email string, now time.Time) (Flow, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.challenges[otpKey(email)]
	if !ok || !now.Before(c.expiresAt) {
		return "", false
	}
	return c.flow, true
}

func randomCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

func otpKey(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
