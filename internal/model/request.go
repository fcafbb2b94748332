package model

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type RegisterRequest struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
	Password  string `json:"password"`
}

type VerifyOTPRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

type ResendOTPRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type GoogleLoginRequest struct {
	IDToken string `json:"idToken"`
}

type GoogleRoleRequest struct {
	UserID string `json:"userId"`
	Role   Role   `json:"role"`
}

// LoginResponse is the wire shape of POST /auth/login. Exactly one of the
// embedded token fields or OTPSent is populated.
type LoginResponse struct {
	OTPSent bool   `json:"otpSent,omitempty"`
	Email   string `json:"email,omitempty"`
	*AuthTokens
}

type OTPSentResponse struct {
	OTPSent bool   `json:"otpSent"`
	Email   string `json:"email"`
}

type OKResponse struct {
	OK bool `json:"ok"`
}
