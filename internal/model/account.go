package model

// Account is the stub backend's stored user: the public record plus the
// secrets that never leave the server.
type Account struct {
	User
	PasswordHash  string `json:"-"`
	GoogleSubject string `json:"-"`
}

// NeedsRoleSelection is true for Google sign-ups that have not picked a role.
func (a Account) NeedsRoleSelection() bool {
	return len(a.Roles) == 0
}

type AuthClaims struct {
	UserID  string
	Email   string
	Role    Role
	Type    string
	TokenID string
}
