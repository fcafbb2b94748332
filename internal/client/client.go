package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"marketplace-auth/internal/model"
	"marketplace-auth/pkg/apierror"
)

const requestIDHeader = "X-Request-ID"

// TokenSource supplies the bearer token for authenticated calls.
type TokenSource interface {
	AccessToken(ctx context.Context) (string, error)
}

type Options struct {
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client
	Tokens     TokenSource
	Logger     *slog.Logger
}

// Client issues the marketplace auth REST calls and maps responses into typed
// results or *apierror.APIError failures.
type Client struct {
	baseURL string
	http    *http.Client
	tokens  TokenSource
	logger  *slog.Logger
}

func New(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		http:    httpClient,
		tokens:  opts.Tokens,
		logger:  logger.With("component", "transport"),
	}
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *model.APIError `json:"error"`
}

func (c *Client) do(ctx context.Context, method string, path string, body any, authorized bool, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build %s %s: %w", method, path, err)
	}

	requestID := uuid.NewString()
	req.Header.Set(requestIDHeader, requestID)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if authorized {
		if c.tokens == nil {
			return apierror.New(apierror.CodeUnauthorized, "no credentials available", "", http.StatusUnauthorized)
		}
		token, err := c.tokens.AccessToken(ctx)
		if err != nil {
			return fmt.Errorf("load access token: %w", err)
		}
		if token == "" {
			return apierror.New(apierror.CodeUnauthorized, "no credentials available", "", http.StatusUnauthorized)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	started := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Debug("request failed", "request_id", requestID, "method", method, "path", path, "error", err)
		return apierror.Network(err)
	}
	defer resp.Body.Close()

	c.logger.Debug("request", "request_id", requestID, "method", method, "path", path,
		"status", resp.StatusCode, "duration_ms", time.Since(started).Milliseconds())

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return apierror.Network(err)
	}

	var env envelope
	decodeErr := json.Unmarshal(raw, &env)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 || (decodeErr == nil && !env.Success && env.Error != nil) {
		return toAPIError(resp.StatusCode, env, decodeErr)
	}

	if decodeErr != nil {
		return apierror.New("INVALID_RESPONSE", "unreadable server response", decodeErr.Error(), resp.StatusCode)
	}

	if out == nil || len(env.Data) == 0 {
		return nil
	}

	if err := json.Unmarshal(env.Data, out); err != nil {
		return apierror.New("INVALID_RESPONSE", "unexpected response shape", err.Error(), resp.StatusCode)
	}

	return nil
}

func toAPIError(status int, env envelope, decodeErr error) *apierror.APIError {
	if decodeErr == nil && env.Error != nil {
		return apierror.New(env.Error.Code, env.Error.Message, env.Error.Details, status)
	}

	code := fmt.Sprintf("HTTP_%d", status)
	if status == http.StatusUnauthorized {
		code = apierror.CodeUnauthorized
	}
	return apierror.New(code, http.StatusText(status), "", status)
}

func (c *Client) Login(ctx context.Context, creds model.Credentials) (LoginOutcome, error) {
	var resp model.LoginResponse
	if err := c.do(ctx, http.MethodPost, "/auth/login", model.LoginRequest(creds), false, &resp); err != nil {
		return nil, err
	}

	if resp.OTPSent {
		email := resp.Email
		if email == "" {
			email = creds.Email
		}
		return OTPRequired{Email: email}, nil
	}

	if resp.AuthTokens == nil || resp.AccessToken == "" {
		return nil, apierror.New("INVALID_RESPONSE", "login response carried neither tokens nor an otp challenge", "", http.StatusOK)
	}

	tokens := *resp.AuthTokens
	if tokens.Email == "" {
		// The envelope's top-level email shadows the embedded token field.
		tokens.Email = resp.Email
	}
	return Authenticated{Tokens: tokens}, nil
}

// Register never authenticates directly; success always means an OTP was sent.
func (c *Client) Register(ctx context.Context, req model.RegisterRequest) (OTPRequired, error) {
	var resp model.OTPSentResponse
	if err := c.do(ctx, http.MethodPost, "/auth/register", req, false, &resp); err != nil {
		return OTPRequired{}, err
	}

	email := resp.Email
	if email == "" {
		email = req.Email
	}
	return OTPRequired{Email: email}, nil
}

func (c *Client) VerifyLoginOTP(ctx context.Context, email string, code string) (model.AuthTokens, error) {
	return c.verify(ctx, "/auth/otp/verify-login", email, code)
}

func (c *Client) VerifyRegisterOTP(ctx context.Context, email string, code string) (model.AuthTokens, error) {
	return c.verify(ctx, "/auth/otp/verify-register", email, code)
}

func (c *Client) verify(ctx context.Context, path string, email string, code string) (model.AuthTokens, error) {
	var tokens model.AuthTokens
	if err := c.do(ctx, http.MethodPost, path, model.VerifyOTPRequest{Email: email, Code: code}, false, &tokens); err != nil {
		return model.AuthTokens{}, err
	}
	return tokens, nil
}

func (c *Client) ResendOTP(ctx context.Context, creds model.Credentials) error {
	var resp model.OKResponse
	if err := c.do(ctx, http.MethodPost, "/auth/otp/resend", model.ResendOTPRequest(creds), false, &resp); err != nil {
		return err
	}
	if !resp.OK {
		return apierror.New("RESEND_REJECTED", "verification code was not resent", "", http.StatusOK)
	}
	return nil
}

func (c *Client) Refresh(ctx context.Context, refreshToken string) (model.AuthTokens, error) {
	var tokens model.AuthTokens
	if err := c.do(ctx, http.MethodPost, "/auth/refresh", model.RefreshRequest{RefreshToken: refreshToken}, false, &tokens); err != nil {
		return model.AuthTokens{}, err
	}
	return tokens, nil
}

func (c *Client) LoginWithGoogle(ctx context.Context, idToken string) (model.GoogleAuthOutcome, error) {
	var outcome model.GoogleAuthOutcome
	if err := c.do(ctx, http.MethodPost, "/auth/google", model.GoogleLoginRequest{IDToken: idToken}, false, &outcome); err != nil {
		return model.GoogleAuthOutcome{}, err
	}
	return outcome, nil
}

func (c *Client) CompleteGoogleRole(ctx context.Context, userID string, role model.Role) (model.GoogleAuthOutcome, error) {
	var outcome model.GoogleAuthOutcome
	if err := c.do(ctx, http.MethodPost, "/auth/google/role", model.GoogleRoleRequest{UserID: userID, Role: role}, false, &outcome); err != nil {
		return model.GoogleAuthOutcome{}, err
	}
	return outcome, nil
}

func (c *Client) CurrentUser(ctx context.Context) (model.User, error) {
	var user model.User
	if err := c.do(ctx, http.MethodGet, "/users/me", nil, true, &user); err != nil {
		return model.User{}, err
	}
	return user, nil
}

func (c *Client) SwitchRole(ctx context.Context, role model.Role) (model.User, error) {
	path := "/users/profile/switch-role?newRole=" + url.QueryEscape(string(role))

	var user model.User
	if err := c.do(ctx, http.MethodPut, path, nil, true, &user); err != nil {
		return model.User{}, err
	}
	return user, nil
}

func (c *Client) Logout(ctx context.Context, refreshToken string) error {
	return c.do(ctx, http.MethodPost, "/auth/logout", model.RefreshRequest{RefreshToken: refreshToken}, true, nil)
}
