// README: User aggregate with a closed role set.
package user

import (
	"errors"
	"time"

	"tgtaxi/internal/types"
)

type Role string

const (
	RoleClient Role = "client"
	RoleDriver Role = "driver"
	RoleAdmin  Role = "admin"
)

var (
	ErrNotFound   = errors.New("user not found")
	ErrBadRequest = errors.New("bad request")
	ErrExists     = errors.New("user already exists")
)

// ParseRole rejects anything outside the three known roles.
func ParseRole(s string) (Role, error) {
	switch r := Role(s); r {
	case RoleClient, RoleDriver, RoleAdmin:
		return r, nil
	}
	return "", ErrBadRequest
}

type Warning struct {
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"createdAt"`
}

type Bonus struct {
	Amount    int64     `json:"amount"`
	Reason    string    `json:"reason"`
	CreatedAt time.Time `json:"createdAt"`
}

type User struct {
	ID        types.ID
	Role      Role
	Name      string
	Phone     string
	IsBlocked bool
	Warnings  []Warning
	Bonuses   []Bonus
	Balance   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// CanDrive reports whether the user may accept orders.
func (u *User) CanDrive() bool {
	return u.Role == RoleDriver && !u.IsBlocked
}

func (u *User) clone() *User {
	cp := *u
	cp.Warnings = append([]Warning(nil), u.Warnings...)
	cp.Bonuses = append([]Bonus(nil), u.Bonuses...)
	return &cp
}
