package otp

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"math/big"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/jmerrifield20/kiosktrust/internal/envelope"
	"github.com/jmerrifield20/kiosktrust/internal/notify"
	"github.com/jmerrifield20/kiosktrust/internal/ratelimit"
)

// Defaults match the kiosk login flow.
const (
	DefaultLength        = 6
	DefaultTTL           = 5 * time.Minute
	DefaultMaxAttempts   = 5
	DefaultAttemptWindow = 5 * time.Minute

	maxLength = 18
)

// Config controls code shape and verification limits.
type Config struct {
	Length int
	TTL    time.Duration
	// MaxAttempts caps Verify calls per subject within AttemptWindow.
	// Zero disables attempt limiting.
	MaxAttempts   int
	AttemptWindow time.Duration
	// Debug returns the raw code in Challenge and logs it. Never enable in
	// production.
	Debug bool
}

// Challenge is what the caller may show after Issue.
type Challenge struct {
	// Code is only populated in debug mode.
	Code          string        `json:"code,omitempty"`
	ExpiresIn     time.Duration `json:"-"`
	MaskedSubject string        `json:"masked_subject"`
}

// Service issues and verifies challenges.
type Service struct {
	store    Store
	sender   notify.Sender
	attempts *ratelimit.Limiter
	cfg      Config
	logger   *zap.Logger
	rand     io.Reader
	onEvent  func(event string)
}

// NewService creates a Service. attempts may be nil to disable attempt
// limiting regardless of cfg.MaxAttempts.
func NewService(store Store, sender notify.Sender, attempts *ratelimit.Limiter, cfg Config, logger *zap.Logger) *Service {
	if cfg.Length <= 0 || cfg.Length > maxLength {
		cfg.Length = DefaultLength
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.AttemptWindow <= 0 {
		cfg.AttemptWindow = DefaultAttemptWindow
	}
	return &Service{
		store:    store,
		sender:   sender,
		attempts: attempts,
		cfg:      cfg,
		logger:   logger,
		rand:     rand.Reader,
	}
}

// SetMetricsRecord registers a callback receiving "issued", "verified",
// "mismatch", "expired", "not_found" and "throttled" events.
func (s *Service) SetMetricsRecord(fn func(event string)) { s.onEvent = fn }

func (s *Service) record(event string) {
	if s.onEvent != nil {
		s.onEvent(event)
	}
}

// Issue creates a fresh code for subject, replacing any outstanding one,
// and dispatches it by SMS.
func (s *Service) Issue(ctx context.Context, subject string) (*Challenge, error) {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return nil, ErrInvalidSubject
	}
	code, err := s.generate()
	if err != nil {
		return nil, fmt.Errorf("generate code: %w", err)
	}

	key := Key(subject)
	if err := s.store.Put(ctx, key, digest(key, code), s.cfg.TTL); err != nil {
		return nil, err
	}

	body := fmt.Sprintf("Your kiosk login code is %s. It expires in %d minutes.", code, int(s.cfg.TTL.Minutes()))
	if err := s.sender.Send(ctx, subject, body); err != nil {
		return nil, fmt.Errorf("dispatch code: %w", err)
	}
	s.record("issued")

	ch := &Challenge{ExpiresIn: s.cfg.TTL, MaskedSubject: envelope.MaskMobile(subject)}
	if s.cfg.Debug {
		ch.Code = code
		s.logger.Debug("otp issued", zap.String("subject", ch.MaskedSubject), zap.String("code", code))
	}
	return ch, nil
}

// Verify checks code against subject's outstanding challenge and consumes
// it on success.
func (s *Service) Verify(ctx context.Context, subject, code string) error {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return ErrInvalidSubject
	}
	key := Key(subject)

	if s.attempts != nil && s.cfg.MaxAttempts > 0 {
		if _, err := s.attempts.Check(ctx, "otp_verify", "attempts:"+key, s.cfg.MaxAttempts, s.cfg.AttemptWindow); err != nil {
			s.record("throttled")
			return err
		}
	}

	err := s.store.CompareAndDelete(ctx, key, digest(key, strings.TrimSpace(code)))
	switch {
	case err == nil:
		s.record("verified")
		if s.attempts != nil {
			if rerr := s.attempts.Reset(ctx, "attempts:"+key); rerr != nil {
				s.logger.Warn("reset otp attempts", zap.Error(rerr))
			}
		}
		return nil
	case errors.Is(err, ErrCredentialMismatch):
		s.record("mismatch")
	case errors.Is(err, ErrCredentialExpired):
		s.record("expired")
	case errors.Is(err, ErrCredentialNotFound):
		s.record("not_found")
	}
	return err
}

// generate returns a uniformly random numeric code of cfg.Length digits.
func (s *Service) generate() (string, error) {
	limit := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(s.cfg.Length)), nil)
	n, err := rand.Int(s.rand, limit)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", s.cfg.Length, n.Int64()), nil
}
