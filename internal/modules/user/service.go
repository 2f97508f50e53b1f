// README: User service implements profile CRUD and admin actions (block, warnings, bonuses, roles).
package user

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"tgtaxi/internal/types"
)

type Service struct {
	store    Store
	admins   map[types.ID]bool
	validate *validator.Validate
	now      func() time.Time
}

func NewService(store Store, adminIDs []string) *Service {
	admins := make(map[types.ID]bool, len(adminIDs))
	for _, id := range adminIDs {
		if id = strings.TrimSpace(id); id != "" {
			admins[types.ID(id)] = true
		}
	}
	return &Service{store: store, admins: admins, validate: validator.New(), now: time.Now}
}

type CreateCommand struct {
	ID    types.ID `validate:"required"`
	Name  string   `validate:"max=100"`
	Phone string   `validate:"max=32"`
	Role  Role     `validate:"omitempty,oneof=client driver admin"`
}

type UpdateCommand struct {
	Name  *string `validate:"omitempty,max=100"`
	Phone *string `validate:"omitempty,max=32"`
}

func (s *Service) Get(ctx context.Context, id types.ID) (*User, error) {
	return s.store.Get(ctx, id)
}

func (s *Service) List(ctx context.Context, role Role) ([]*User, error) {
	return s.store.List(ctx, role)
}

// Ensure returns the user for id, creating a client on first contact. Configured admin ids are
// promoted to admin.
func (s *Service) Ensure(ctx context.Context, id types.ID, name string) (*User, error) {
	u, err := s.store.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		role := RoleClient
		if s.admins[id] {
			role = RoleAdmin
		}
		u, err = s.insert(ctx, CreateCommand{ID: id, Name: name, Role: role})
		if errors.Is(err, ErrExists) {
			u, err = s.store.Get(ctx, id)
		}
	}
	if err != nil {
		return nil, err
	}
	if s.admins[id] && u.Role != RoleAdmin {
		return s.SetRole(ctx, id, RoleAdmin)
	}
	return u, nil
}

func (s *Service) Create(ctx context.Context, cmd CreateCommand) (*User, error) {
	if cmd.Role == "" {
		cmd.Role = RoleClient
	}
	return s.insert(ctx, cmd)
}

func (s *Service) insert(ctx context.Context, cmd CreateCommand) (*User, error) {
	if err := s.validate.Struct(cmd); err != nil {
		return nil, ErrBadRequest
	}
	now := s.now()
	u := &User{
		ID:        cmd.ID,
		Role:      cmd.Role,
		Name:      strings.TrimSpace(cmd.Name),
		Phone:     strings.TrimSpace(cmd.Phone),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.Insert(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

func (s *Service) Update(ctx context.Context, id types.ID, cmd UpdateCommand) (*User, error) {
	if err := s.validate.Struct(cmd); err != nil {
		return nil, ErrBadRequest
	}
	return s.store.Update(ctx, id, func(u *User) error {
		if cmd.Name != nil {
			u.Name = strings.TrimSpace(*cmd.Name)
		}
		if cmd.Phone != nil {
			u.Phone = strings.TrimSpace(*cmd.Phone)
		}
		u.UpdatedAt = s.now()
		return nil
	})
}

// CheckDriverProfile applies the profile rules BecomeDriver enforces, without touching the store.
func (s *Service) CheckDriverProfile(id types.ID, name, phone string) error {
	cmd := CreateCommand{ID: id, Name: strings.TrimSpace(name), Phone: strings.TrimSpace(phone), Role: RoleDriver}
	if cmd.Name == "" || cmd.Phone == "" {
		return ErrBadRequest
	}
	if err := s.validate.Struct(cmd); err != nil {
		return ErrBadRequest
	}
	return nil
}

// BecomeDriver upserts the user with the driver role and the given contact details.
func (s *Service) BecomeDriver(ctx context.Context, id types.ID, name, phone string) (*User, error) {
	if err := s.CheckDriverProfile(id, name, phone); err != nil {
		return nil, err
	}
	name, phone = strings.TrimSpace(name), strings.TrimSpace(phone)
	apply := func(u *User) error {
		u.Role = RoleDriver
		u.Name = name
		u.Phone = phone
		u.UpdatedAt = s.now()
		return nil
	}
	u, err := s.store.Update(ctx, id, apply)
	if !errors.Is(err, ErrNotFound) {
		return u, err
	}
	u, err = s.insert(ctx, CreateCommand{ID: id, Name: name, Phone: phone, Role: RoleDriver})
	if errors.Is(err, ErrExists) {
		return s.store.Update(ctx, id, apply)
	}
	return u, err
}

func (s *Service) SetRole(ctx context.Context, id types.ID, role Role) (*User, error) {
	if _, err := ParseRole(string(role)); err != nil {
		return nil, err
	}
	return s.store.Update(ctx, id, func(u *User) error {
		u.Role = role
		u.UpdatedAt = s.now()
		return nil
	})
}

func (s *Service) Block(ctx context.Context, id types.ID, blocked bool) (*User, error) {
	return s.store.Update(ctx, id, func(u *User) error {
		u.IsBlocked = blocked
		u.UpdatedAt = s.now()
		return nil
	})
}

func (s *Service) AddWarning(ctx context.Context, id types.ID, text string) (*User, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrBadRequest
	}
	return s.store.Update(ctx, id, func(u *User) error {
		now := s.now()
		u.Warnings = append(u.Warnings, Warning{Text: text, CreatedAt: now})
		u.UpdatedAt = now
		return nil
	})
}

// AddBonus records the bonus and credits it to the balance.
func (s *Service) AddBonus(ctx context.Context, id types.ID, amount int64, reason string) (*User, error) {
	if amount <= 0 {
		return nil, ErrBadRequest
	}
	return s.store.Update(ctx, id, func(u *User) error {
		now := s.now()
		u.Bonuses = append(u.Bonuses, Bonus{Amount: amount, Reason: strings.TrimSpace(reason), CreatedAt: now})
		u.Balance += amount
		u.UpdatedAt = now
		return nil
	})
}
