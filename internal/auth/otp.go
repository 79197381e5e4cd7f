package auth

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/Anieshwar-Saravanan/TeenConnect/internal/normalize"
)

// OTP verification failures, reported to the client as otp_verify_error.
var (
	ErrOTPNotFound = errors.New("no code was requested for this email")
	ErrOTPExpired  = errors.New("code has expired, request a new one")
	ErrOTPMismatch = errors.New("incorrect code")
)

type otpEntry struct {
	code     string
	role     string
	issuedAt time.Time
}

// OTPStore holds one pending code per email. Re-issuing overwrites the
// prior slot; verification consumes the slot on success and on expiry
// detection. Expiry is evaluated lazily at verification time, no sweeper.
type OTPStore struct {
	mu    sync.Mutex
	codes map[string]otpEntry
	ttl   time.Duration
	now   func() time.Time
}

// NewOTPStore returns an OTPStore with the given code lifetime.
func NewOTPStore(ttl time.Duration) *OTPStore {
	return &OTPStore{
		codes: make(map[string]otpEntry),
		ttl:   ttl,
		now:   time.Now,
	}
}

// Issue generates a fresh six-digit code for the email, replacing any
// previously issued one.
func (s *OTPStore) Issue(email, role string) (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", err
	}
	code := fmt.Sprintf("%06d", n.Int64())

	s.mu.Lock()
	defer s.mu.Unlock()
	s.codes[normalize.Email(email)] = otpEntry{
		code:     code,
		role:     role,
		issuedAt: s.now(),
	}
	return code, nil
}

// Verify checks a submitted code. A matching, unexpired code is consumed
// so it cannot be replayed; an expired slot is discarded on detection.
// The role recorded at issue time is returned so login can proceed under it.
func (s *OTPStore) Verify(email, code string) (string, error) {
	key := normalize.Email(email)

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.codes[key]
	if !ok {
		return "", ErrOTPNotFound
	}
	if s.now().Sub(entry.issuedAt) > s.ttl {
		delete(s.codes, key)
		return "", ErrOTPExpired
	}
	if entry.code != normalize.Code(code) {
		return "", ErrOTPMismatch
	}

	delete(s.codes, key)
	return entry.role, nil
}
