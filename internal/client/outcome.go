package client

import "marketplace-auth/internal/model"

// LoginOutcome is either Authenticated or OTPRequired. Callers switch on the
// concrete type.
type LoginOutcome interface {
	loginOutcome()
}

type Authenticated struct {
	Tokens model.AuthTokens
}

type OTPRequired struct {
	Email string
}

func (Authenticated) loginOutcome() {}
func (OTPRequired) loginOutcome()   {}
