package model

import (
	"slices"
	"strings"
	"time"
)

type Role string

const (
	RoleClient     Role = "CLIENT"
	RoleFreelancer Role = "FREELANCER"
	RoleAdmin      Role = "ADMIN"
)

// rolePriority is the fallback order when nothing else picks an active role.
var rolePriority = []Role{RoleAdmin, RoleClient, RoleFreelancer}

func ParseRole(raw string) (Role, bool) {
	switch Role(strings.ToUpper(strings.TrimSpace(raw))) {
	case RoleClient:
		return RoleClient, true
	case RoleFreelancer:
		return RoleFreelancer, true
	case RoleAdmin:
		return RoleAdmin, true
	default:
		return "", false
	}
}

type User struct {
	ID               string    `json:"id"`
	Email            string    `json:"email"`
	FirstName        string    `json:"firstName,omitempty"`
	LastName         string    `json:"lastName,omitempty"`
	Roles            []Role    `json:"roles"`
	ActiveRole       Role      `json:"activeRole,omitempty"`
	IsVerified       bool      `json:"isVerified"`
	ProfileCompleted bool      `json:"profileCompleted"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

func (u *User) HasRole(role Role) bool {
	if u == nil || role == "" {
		return false
	}
	return slices.Contains(u.Roles, role)
}

// ResolveActiveRole picks the role a user operates as. Candidates are tried in
// order: preferred, stored, the server-declared active role, the fixed
// ADMIN > CLIENT > FREELANCER priority, then the first granted role.
func ResolveActiveRole(user *User, preferred Role, stored Role) Role {
	if user == nil || len(user.Roles) == 0 {
		return ""
	}

	for _, candidate := range []Role{preferred, stored, user.ActiveRole} {
		if user.HasRole(candidate) {
			return candidate
		}
	}

	for _, candidate := range rolePriority {
		if user.HasRole(candidate) {
			return candidate
		}
	}

	return user.Roles[0]
}

type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type AuthTokens struct {
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken"`
	ExpiresIn    int64     `json:"expiresIn"`
	UserID       string    `json:"userId"`
	Email        string    `json:"email"`
	Roles        []Role    `json:"roles"`
	ActiveRole   Role      `json:"activeRole,omitempty"`
	IsVerified   bool      `json:"isVerified"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

type GoogleAuthOutcome struct {
	Auth                  AuthTokens `json:"auth"`
	RequiresRoleSelection bool       `json:"requiresRoleSelection"`
}
