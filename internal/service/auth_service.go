package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"marketplace-auth/internal/model"
	"marketplace-auth/pkg/apierror"
)

const bcryptCost = 10

// signupRoles are granted to every password registration so the role
// switcher has something to switch between.
var signupRoles = []model.Role{model.RoleClient, model.RoleFreelancer}

type UserRepository interface {
	FindByID(ctx context.Context, id string) (model.Account, error)
	FindByEmail(ctx context.Context, email string) (model.Account, error)
	Create(ctx context.Context, a model.Account) error
	Update(ctx context.Context, a model.Account) error
}

type TokenRepository interface {
	Store(ctx context.Context, token string, userID string, expiresAt time.Time) error
	Validate(ctx context.Context, token string) (string, error)
	Revoke(ctx context.Context, token string) error
	RevokeAllForUser(ctx context.Context, userID string) error
}

type AuthConfig struct {
	JWTSecret       string
	AccessTTL       time.Duration
	RefreshTTL      time.Duration
	OTPTTL          time.Duration
	FixedOTP        string
	RequireLoginOTP bool
}

// AuthService implements the marketplace auth endpoints for local
// development: password accounts gated by emailed OTP codes, Google sign-in
// with a role-selection step, and rotating refresh tokens.
type AuthService struct {
	users           UserRepository
	tokens          TokenRepository
	otps            *OTPStore
	mailer          Mailer
	jwtSecret       []byte
	accessTTL       time.Duration
	refreshTTL      time.Duration
	requireLoginOTP bool
	now             func() time.Time
}

func NewAuthService(cfg AuthConfig, users UserRepository, tokens TokenRepository, mailer Mailer) (*AuthService, error) {
	if strings.TrimSpace(cfg.JWTSecret) == "" {
		return nil, errors.New("jwt secret is required")
	}
	if mailer == nil {
		mailer = NewLogMailer(nil)
	}

	return &AuthService{
		users:           users,
		tokens:          tokens,
		otps:            NewOTPStore(cfg.OTPTTL, cfg.FixedOTP),
		mailer:          mailer,
		jwtSecret:       []byte(cfg.JWTSecret),
		accessTTL:       cfg.AccessTTL,
		refreshTTL:      cfg.RefreshTTL,
		requireLoginOTP: cfg.RequireLoginOTP,
		now:             func() time.Time { return time.Now().UTC() },
	}, nil
}

// Login checks the password. Unverified accounts, or every account when
// RequireLoginOTP is set, get an emailed code instead of tokens.
func (s *AuthService) Login(ctx context.Context, email string, password string) (model.LoginResponse, error) {
	account, err := s.checkPassword(ctx, email, password)
	if err != nil {
		return model.LoginResponse{}, err
	}

	if s.requireLoginOTP || !account.IsVerified {
		if err := s.sendCode(ctx, account.Email, FlowLogin); err != nil {
			return model.LoginResponse{}, err
		}
		return model.LoginResponse{OTPSent: true, Email: account.Email}, nil
	}

	tokens, err := s.issueTokens(ctx, account)
	if err != nil {
		return model.LoginResponse{}, err
	}
	return model.LoginResponse{Email: account.Email, AuthTokens: &tokens}, nil
}

func (s *AuthService) Register(ctx context.Context, req model.RegisterRequest) (model.OTPSentResponse, error) {
	req.Email = strings.TrimSpace(req.Email)
	req.FirstName = strings.TrimSpace(req.FirstName)
	req.LastName = strings.TrimSpace(req.LastName)

	if req.Email == "" || req.Password == "" || req.FirstName == "" || req.LastName == "" {
		return model.OTPSentResponse{}, apierror.New(apierror.CodeBadRequest, "firstName, lastName, email and password are required", "", http.StatusBadRequest)
	}
	if !strings.Contains(req.Email, "@") {
		return model.OTPSentResponse{}, apierror.New(apierror.CodeBadRequest, "email is invalid", "email", http.StatusBadRequest)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcryptCost)
	if err != nil {
		return model.OTPSentResponse{}, err
	}

	now := s.now()
	existing, err := s.users.FindByEmail(ctx, req.Email)
	switch {
	case err == nil && existing.IsVerified:
		return model.OTPSentResponse{}, apierror.New("ALREADY_EXISTS", "An account with this email already exists", "", http.StatusConflict)
	case err == nil:
		// Unverified sign-ups may register again; the latest form wins.
		existing.FirstName = req.FirstName
		existing.LastName = req.LastName
		existing.PasswordHash = string(hash)
		existing.UpdatedAt = now
		if err := s.users.Update(ctx, existing); err != nil {
			return model.OTPSentResponse{}, err
		}
	case errors.Is(err, model.ErrUserNotFound):
		account := model.Account{
			User: model.User{
				ID:         uuid.NewString(),
				Email:      req.Email,
				FirstName:  req.FirstName,
				LastName:   req.LastName,
				Roles:      append([]model.Role(nil), signupRoles...),
				ActiveRole: signupRoles[0],
				CreatedAt:  now,
				UpdatedAt:  now,
			},
			PasswordHash: string(hash),
		}
		if err := s.users.Create(ctx, account); err != nil {
			return model.OTPSentResponse{}, err
		}
	default:
		return model.OTPSentResponse{}, err
	}

	if err := s.sendCode(ctx, req.Email, FlowRegister); err != nil {
		return model.OTPSentResponse{}, err
	}
	return model.OTPSentResponse{OTPSent: true, Email: req.Email}, nil
}

// VerifyOTP consumes the code of the given flow and issues tokens. Either
// flow marks the account verified.
func (s *AuthService) VerifyOTP(ctx context.Context, flow Flow, email string, code string) (model.AuthTokens, error) {
	email = strings.TrimSpace(email)
	if email == "" || strings.TrimSpace(code) == "" {
		return model.AuthTokens{}, apierror.New(apierror.CodeBadRequest, "email and code are required", "", http.StatusBadRequest)
	}

	if err := s.otps.Verify(email, flow, strings.TrimSpace(code), s.now()); err != nil {
		return model.AuthTokens{}, err
	}

	account, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		return model.AuthTokens{}, err
	}

	if !account.IsVerified {
		account.IsVerified = true
		account.UpdatedAt = s.now()
		if err := s.users.Update(ctx, account); err != nil {
			return model.AuthTokens{}, err
		}
	}

	return s.issueTokens(ctx, account)
}

// ResendOTP re-checks the credentials and sends a fresh code for whichever
// flow is pending. Without a pending challenge, unverified accounts get a
// register code and verified ones a login code.
func (s *AuthService) ResendOTP(ctx context.Context, email string, password string) error {
	account, err := s.checkPassword(ctx, email, password)
	if err != nil {
		return err
	}

	flow, ok := s.otps.PendingFlow(account.Email, s.now())
	if !ok {
		flow = FlowLogin
		if !account.IsVerified {
			flow = FlowRegister
		}
	}

	return s.sendCode(ctx, account.Email, flow)
}

func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (model.AuthTokens, error) {
	claims, err := s.ValidateToken(refreshToken, tokenTypeRefresh)
	if err != nil {
		return model.AuthTokens{}, err
	}

	ownerID, err := s.tokens.Validate(ctx, refreshToken)
	if err != nil || ownerID != claims.UserID {
		return model.AuthTokens{}, apierror.New(apierror.CodeUnauthorized, "refresh token is invalid", "", http.StatusUnauthorized)
	}
	if err := s.tokens.Revoke(ctx, refreshToken); err != nil {
		return model.AuthTokens{}, err
	}

	account, err := s.users.FindByID(ctx, claims.UserID)
	if err != nil {
		return model.AuthTokens{}, apierror.New(apierror.CodeUnauthorized, "user not found", "", http.StatusUnauthorized)
	}

	return s.issueTokens(ctx, account)
}

func (s *AuthService) Logout(ctx context.Context, userID string, refreshToken string) error {
	if refreshToken == "" {
		return s.tokens.RevokeAllForUser(ctx, userID)
	}
	return s.tokens.Revoke(ctx, refreshToken)
}

// LoginWithGoogle accepts a Google ID token. The stub reads its claims without
// checking Google's signature. First-time users have no role yet and are asked
// to pick one.
func (s *AuthService) LoginWithGoogle(ctx context.Context, idToken string) (model.GoogleAuthOutcome, error) {
	identity, err := parseGoogleIDToken(idToken, s.now())
	if err != nil {
		return model.GoogleAuthOutcome{}, err
	}

	account, err := s.users.FindByEmail(ctx, identity.Email)
	switch {
	case errors.Is(err, model.ErrUserNotFound):
		now := s.now()
		account = model.Account{
			User: model.User{
				ID:         uuid.NewString(),
				Email:      identity.Email,
				FirstName:  identity.GivenName,
				LastName:   identity.FamilyName,
				IsVerified: true,
				CreatedAt:  now,
				UpdatedAt:  now,
			},
			GoogleSubject: identity.Subject,
		}
		if err := s.users.Create(ctx, account); err != nil {
			return model.GoogleAuthOutcome{}, err
		}
	case err != nil:
		return model.GoogleAuthOutcome{}, err
	case account.GoogleSubject == "" || !account.IsVerified:
		account.GoogleSubject = identity.Subject
		account.IsVerified = true
		account.UpdatedAt = s.now()
		if err := s.users.Update(ctx, account); err != nil {
			return model.GoogleAuthOutcome{}, err
		}
	}

	if account.NeedsRoleSelection() {
		return model.GoogleAuthOutcome{
			Auth:                  model.AuthTokens{UserID: account.ID, Email: account.Email, IsVerified: true},
			RequiresRoleSelection: true,
		}, nil
	}

	tokens, err := s.issueTokens(ctx, account)
	if err != nil {
		return model.GoogleAuthOutcome{}, err
	}
	return model.GoogleAuthOutcome{Auth: tokens}, nil
}

// CompleteGoogleRole grants the first role to a Google sign-up. ADMIN cannot
// be self-selected.
func (s *AuthService) CompleteGoogleRole(ctx context.Context, userID string, role model.Role) (model.GoogleAuthOutcome, error) {
	parsed, ok := model.ParseRole(string(role))
	if !ok || parsed == model.RoleAdmin {
		return model.GoogleAuthOutcome{}, apierror.New(apierror.CodeBadRequest, "role must be CLIENT or FREELANCER", string(role), http.StatusBadRequest)
	}

	account, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return model.GoogleAuthOutcome{}, err
	}
	if account.GoogleSubject == "" {
		return model.GoogleAuthOutcome{}, apierror.New("FORBIDDEN", "account did not sign in with Google", "", http.StatusForbidden)
	}

	if account.NeedsRoleSelection() {
		account.Roles = []model.Role{parsed}
		account.ActiveRole = parsed
		account.UpdatedAt = s.now()
		if err := s.users.Update(ctx, account); err != nil {
			return model.GoogleAuthOutcome{}, err
		}
	}

	tokens, err := s.issueTokens(ctx, account)
	if err != nil {
		return model.GoogleAuthOutcome{}, err
	}
	return model.GoogleAuthOutcome{Auth: tokens}, nil
}

func (s *AuthService) CurrentUser(ctx context.Context, userID string) (model.User, error) {
	account, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return model.User{}, err
	}
	return account.User, nil
}

func (s *AuthService) SwitchRole(ctx context.Context, userID string, role model.Role) (model.User, error) {
	account, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return model.User{}, err
	}

	parsed, _ := model.ParseRole(string(role))
	if !account.HasRole(parsed) {
		return model.User{}, fmt.Errorf("switch to %q: %w", role, model.ErrRoleNotGranted)
	}

	account.ActiveRole = parsed
	account.UpdatedAt = s.now()
	if err := s.users.Update(ctx, account); err != nil {
		return model.User{}, err
	}
	return account.User, nil
}

func (s *AuthService) checkPassword(ctx context.Context, email string, password string) (model.Account, error) {
	invalid := apierror.New("INVALID_CREDENTIALS", "Invalid email or password", "", http.StatusUnauthorized)

	account, err := s.users.FindByEmail(ctx, email)
	if errors.Is(err, model.ErrUserNotFound) {
		return model.Account{}, invalid
	}
	if err != nil {
		return model.Account{}, err
	}
	if account.PasswordHash == "" {
		return model.Account{}, invalid
	}
	if err := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(password)); err != nil {
		return model.Account{}, invalid
	}
	return account, nil
}

func (s *AuthService) sendCode(ctx context.Context, email string, flow Flow) error {
	code, err := s.otps.Issue(email, flow, s.now())
	if err != nil {
		return err
	}
	if err := s.mailer.SendOTP(ctx, email, flow, code); err != nil {
		return fmt.Errorf("send otp: %w", err)
	}
	return nil
}
