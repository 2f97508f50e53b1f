// README: Access code service issues, validates and redeems driver registration codes.
package accesscode

import (
	"context"
	"crypto/rand"
	"errors"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"tgtaxi/internal/modules/user"
	"tgtaxi/internal/types"
)

type DriverRegistrar interface {
	CheckDriverProfile(id types.ID, name, phone string) error
	BecomeDriver(ctx context.Context, id types.ID, name, phone string) (*user.User, error)
}

type Service struct {
	store    Store
	users    DriverRegistrar
	log      *zap.Logger
	now      func() time.Time
	generate func() (string, error)
}

func NewService(store Store, users DriverRegistrar, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{store: store, users: users, log: log, now: time.Now, generate: randomCode}
}

// Generate issues a fresh unused code. After maxAttempts collisions it derives the code from a
// uuid instead.
func (s *Service) Generate(ctx context.Context, issuedBy types.ID) (*AccessCode, error) {
	for i := 0; i < maxAttempts; i++ {
		code, err := s.generate()
		if err != nil {
			return nil, err
		}
		c, err := s.insert(ctx, code, issuedBy)
		if errors.Is(err, ErrExists) {
			continue
		}
		return c, err
	}
	s.log.Warn("access code collisions exhausted, using uuid fallback", zap.Int("attempts", maxAttempts))
	for {
		c, err := s.insert(ctx, fallbackCode(), issuedBy)
		if errors.Is(err, ErrExists) {
			continue
		}
		return c, err
	}
}

func (s *Service) insert(ctx context.Context, code string, issuedBy types.ID) (*AccessCode, error) {
	c := &AccessCode{
		Code:      code,
		IssuedBy:  issuedBy,
		CreatedAt: s.now(),
	}
	if err := s.store.Insert(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate looks the code up without changing it.
func (s *Service) Validate(ctx context.Context, code string) (*AccessCode, error) {
	return s.store.Get(ctx, normalize(code))
}

func (s *Service) MarkUsed(ctx context.Context, code string, userID types.ID) (bool, error) {
	return s.store.MarkUsed(ctx, normalize(code), userID, s.now())
}

func (s *Service) List(ctx context.Context, issuedBy types.ID) ([]*AccessCode, error) {
	return s.store.List(ctx, issuedBy)
}

// RegisterDriverWithCode redeems code for userID and turns the user into a driver. The profile is
// validated before the code is claimed, and the code is claimed before the user is touched, so a
// rejected request leaves both unchanged.
func (s *Service) RegisterDriverWithCode(ctx context.Context, userID types.ID, code, name, phone string) (*user.User, error) {
	if userID == "" {
		return nil, user.ErrBadRequest
	}
	if err := s.users.CheckDriverProfile(userID, name, phone); err != nil {
		return nil, err
	}
	c, err := s.Validate(ctx, code)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrInvalidCode
	}
	if err != nil {
		return nil, err
	}
	if c.IsUsed {
		return nil, ErrInvalidCode
	}
	ok, err := s.store.MarkUsed(ctx, c.Code, userID, s.now())
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrInvalidCode
	}
	u, err := s.users.BecomeDriver(ctx, userID, name, phone)
	if err != nil {
		s.log.Error("access code consumed but driver upsert failed",
			zap.String("code", c.Code), zap.String("user_id", userID.String()), zap.Error(err))
		return nil, err
	}
	s.log.Info("driver registered", zap.String("user_id", userID.String()), zap.String("issued_by", c.IssuedBy.String()))
	return u, nil
}

func normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func randomCode() (string, error) {
	max := big.NewInt(int64(len(Alphabet)))
	b := make([]byte, CodeLength)
	for i := range b {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b[i] = Alphabet[n.Int64()]
	}
	return string(b), nil
}

// fallbackCode maps uuid bytes onto Alphabet so the code stays unambiguous.
func fallbackCode() string {
	id := uuid.New()
	b := make([]byte, CodeLength)
	for i := range b {
		b[i] = Alphabet[int(id[i])%len(Alphabet)]
	}
	return string(b)
}
