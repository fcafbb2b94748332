package authflow

import (
	"errors"
	"slices"
)

type State string

const (
	StateIdle                     State = "idle"
	StateLoginSubmitted           State = "login_submitted"
	StateRegisterSubmitted        State = "register_submitted"
	StateOTPPending               State = "otp_pending"
	StateGoogleCredentialReceived State = "google_credential_received"
	StateRoleSelectionPending     State = "role_selection_pending"
	StateAuthenticated            State = "authenticated"
)

type Dialog string

const (
	DialogLogin         Dialog = "login"
	DialogRegister      Dialog = "register"
	DialogOTP           Dialog = "otp"
	DialogRoleSelection Dialog = "role-selection"
)

type Flow string

const (
	FlowLogin    Flow = "login"
	FlowRegister Flow = "register"
)

// Form field names used in ValidationError.
const (
	FieldEmail           = "email"
	FieldPassword        = "password"
	FieldConfirmPassword = "confirmPassword"
	FieldFirstName       = "firstName"
	FieldLastName        = "lastName"
	FieldCode            = "code"
)

var (
	ErrSubmitInFlight         = errors.New("a submission is already in flight")
	ErrNoPendingChallenge     = errors.New("no pending otp challenge")
	ErrNoPendingRoleSelection = errors.New("no pending google role selection for this user")
	ErrDefensiveInvariant     = errors.New("google role selection requested again after a role was submitted")
	ErrDismissed              = errors.New("dialog dismissed before the response arrived")
)

// ValidationError is raised locally before any network call.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

// Challenge is the in-memory OTP challenge awaiting a code.
type Challenge struct {
	Email             string
	Flow              Flow
	CooldownRemaining int
}

type Snapshot struct {
	State               State
	Dialogs             []Dialog
	Challenge           *Challenge
	PendingGoogleUserID string
	OTPCode             string
	FieldError          *ValidationError
	Submitting          bool
}

func (s Snapshot) DialogOpen(d Dialog) bool {
	return slices.Contains(s.Dialogs, d)
}

// CooldownRemaining is zero when no challenge is pending.
func (s Snapshot) CooldownRemaining() int {
	if s.Challenge == nil {
		return 0
	}
	return s.Challenge.CooldownRemaining
}
