package authflow

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketplace-auth/internal/client"
	"marketplace-auth/internal/event"
	"marketplace-auth/internal/i18n"
	"marketplace-auth/internal/model"
	"marketplace-auth/internal/notify"
	"marketplace-auth/internal/session"
	"marketplace-auth/pkg/apierror"
)

type fakeTransport struct {
	mu    sync.Mutex
	calls map[string]int

	login        func(model.Credentials) (client.LoginOutcome, error)
	register     func(model.RegisterRequest) (client.OTPRequired, error)
	verify       func(email, code string) (model.AuthTokens, error)
	resend       func(model.Credentials) error
	google       func(string) (model.GoogleAuthOutcome, error)
	googleRole   func(string, model.Role) (model.GoogleAuthOutcome, error)
	resendCreds  []model.Credentials
	googleTokens []string
}

func newTransport() *fakeTransport {
	return &fakeTransport{calls: map[string]int{}}
}

func (f *fakeTransport) record(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[name]++
}

func (f *fakeTransport) count(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func (f *fakeTransport) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

func (f *fakeTransport) Login(_ context.Context, creds model.Credentials) (client.LoginOutcome, error) {
	f.record("login")
	return f.login(creds)
}

func (f *fakeTransport) Register(_ context.Context, req model.RegisterRequest) (client.OTPRequired, error) {
	f.record("register")
	return f.register(req)
}

func (f *fakeTransport) VerifyLoginOTP(_ context.Context, email string, code string) (model.AuthTokens, error) {
	f.record("verify-login")
	return f.verify(email, code)
}

func (f *fakeTransport) VerifyRegisterOTP(_ context.Context, email string, code string) (model.AuthTokens, error) {
	f.record("verify-register")
	return f.verify(email, code)
}

func (f *fakeTransport) ResendOTP(_ context.Context, creds model.Credentials) error {
	f.record("resend")
	f.mu.Lock()
	f.resendCreds = append(f.resendCreds, creds)
	f.mu.Unlock()
	if f.resend == nil {
		return nil
	}
	return f.resend(creds)
}

func (f *fakeTransport) LoginWithGoogle(_ context.Context, idToken string) (model.GoogleAuthOutcome, error) {
	f.record("google")
	f.mu.Lock()
	f.googleTokens = append(f.googleTokens, idToken)
	f.mu.Unlock()
	return f.google(idToken)
}

func (f *fakeTransport) CompleteGoogleRole(_ context.Context, userID string, role model.Role) (model.GoogleAuthOutcome, error) {
	f.record("google-role")
	return f.googleRole(userID, role)
}

type fakeSession struct {
	mu    sync.Mutex
	next  model.User
	err   error
	user  *model.User
	role  model.Role
	calls int
}

func (s *fakeSession) Establish(_ context.Context, tokens model.AuthTokens) (model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return model.User{}, s.err
	}
	u := s.next
	u.ID = tokens.UserID
	s.user = &u
	s.role = model.ResolveActiveRole(&u, "", "")
	return u, nil
}

func (s *fakeSession) Current() session.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return session.Snapshot{User: s.user, ActiveRole: s.role}
}

type fixture struct {
	orch      *Orchestrator
	transport *fakeTransport
	session   *fakeSession
	toasts    *notify.Recorder
	routes    []string
	bus       *event.InMemoryBus
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()

	f := &fixture{
		transport: newTransport(),
		session: &fakeSession{next: model.User{
			Email:            "a@b.com",
			Roles:            []model.Role{model.RoleFreelancer},
			ActiveRole:       model.RoleFreelancer,
			ProfileCompleted: true,
		}},
		toasts: &notify.Recorder{},
		bus:    event.NewBus(),
	}

	opts.Transport = f.transport
	opts.Session = f.session
	opts.Notifier = f.toasts
	opts.Bus = f.bus
	opts.Navigator = NavigatorFunc(func(route string) { f.routes = append(f.routes, route) })
	if opts.TickInterval == 0 {
		opts.TickInterval = time.Hour
	}

	f.orch = New(opts)
	t.Cleanup(f.orch.Close)
	return f
}

func otpRequired(email string) func(model.Credentials) (client.LoginOutcome, error) {
	return func(model.Credentials) (client.LoginOutcome, error) {
		return client.OTPRequired{Email: email}, nil
	}
}

func tokensFor(userID string) model.AuthTokens {
	return model.AuthTokens{AccessToken: "access-" + userID, RefreshToken: "refresh-" + userID, UserID: userID}
}

func (f *fixture) pendLogin(t *testing.T) {
	t.Helper()
	f.transport.login = otpRequired("a@b.com")
	require.NoError(t, f.orch.SubmitLogin(context.Background(), model.Credentials{Email: "a@b.com", Password: "x"}))
	f.toasts.Reset()
}

func TestSubmitLoginRejectsEmptyFields(t *testing.T) {
	cases := []struct {
		name  string
		creds model.Credentials
		field string
	}{
		{"empty email", model.Credentials{Password: "x"}, FieldEmail},
		{"blank email", model.Credentials{Email: "   ", Password: "x"}, FieldEmail},
		{"empty password", model.Credentials{Email: "a@b.com"}, FieldPassword},
		{"both empty", model.Credentials{}, FieldEmail},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, Options{})

			err := f.orch.SubmitLogin(context.Background(), tc.creds)

			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tc.field, verr.Field)
			assert.Zero(t, f.transport.total())
			assert.Equal(t, StateIdle, f.orch.Snapshot().State)
			require.Len(t, f.toasts.Toasts(), 1)
			assert.Equal(t, notify.LevelError, f.toasts.Toasts()[0].Level)
		})
	}
}

func TestSubmitLoginOTPRequired(t *testing.T) {
	f := newFixture(t, Options{})
	f.orch.OpenLogin()
	f.transport.login = otpRequired("a@b.com")

	err := f.orch.SubmitLogin(context.Background(), model.Credentials{Email: "a@b.com", Password: "x"})
	require.NoError(t, err)

	snap := f.orch.Snapshot()
	assert.Equal(t, StateOTPPending, snap.State)
	assert.False(t, snap.DialogOpen(DialogLogin))
	assert.True(t, snap.DialogOpen(DialogOTP))
	require.NotNil(t, snap.Challenge)
	assert.Equal(t, "a@b.com", snap.Challenge.Email)
	assert.Equal(t, FlowLogin, snap.Challenge.Flow)
	assert.Equal(t, 60, snap.CooldownRemaining())
	assert.False(t, snap.Submitting)

	assert.Zero(t, f.session.calls)
	assert.Nil(t, f.session.Current().User)
	assert.Len(t, f.toasts.Toasts(), 1)
}

func TestSubmitLoginAuthenticated(t *testing.T) {
	f := newFixture(t, Options{})
	f.orch.OpenLogin()
	f.transport.login = func(model.Credentials) (client.LoginOutcome, error) {
		return client.Authenticated{Tokens: tokensFor("u1")}, nil
	}

	require.NoError(t, f.orch.SubmitLogin(context.Background(), model.Credentials{Email: "a@b.com", Password: "x"}))

	snap := f.orch.Snapshot()
	assert.Equal(t, StateAuthenticated, snap.State)
	assert.Empty(t, snap.Dialogs)
	assert.Nil(t, snap.Challenge)
	require.NotNil(t, f.session.Current().User)
	assert.Equal(t, "u1", f.session.Current().User.ID)

	toast, ok := f.toasts.Last()
	require.True(t, ok)
	assert.Equal(t, notify.LevelSuccess, toast.Level)
	assert.Len(t, f.toasts.Toasts(), 1)
}

func TestSubmitLoginTransportFailure(t *testing.T) {
	catalog := i18n.MustLoad()

	cases := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "server message",
			err:  apierror.New("INVALID_CREDENTIALS", "Wrong email or password", "", http.StatusUnauthorized),
			want: "Wrong email or password",
		},
		{
			name: "network failure falls back",
			err:  apierror.Network(errors.New("dial tcp: refused")),
			want: catalog.Message(false, "login.failed"),
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, Options{})
			f.transport.login = func(model.Credentials) (client.LoginOutcome, error) {
				return nil, tc.err
			}

			err := f.orch.SubmitLogin(context.Background(), model.Credentials{Email: "a@b.com", Password: "x"})
			require.Error(t, err)

			snap := f.orch.Snapshot()
			assert.Equal(t, StateIdle, snap.State)
			assert.False(t, snap.Submitting)

			toasts := f.toasts.Toasts()
			require.Len(t, toasts, 1)
			assert.Equal(t, tc.want, toasts[0].Message)
		})
	}
}

func TestSubmitRegisterValidation(t *testing.T) {
	valid := RegisterInput{FirstName: "Ada", LastName: "L", Email: "a@b.com", Password: "pw", ConfirmPassword: "pw"}

	cases := []struct {
		name  string
		edit  func(*RegisterInput)
		field string
	}{
		{"first name", func(in *RegisterInput) { in.FirstName = "" }, FieldFirstName},
		{"last name", func(in *RegisterInput) { in.LastName = " " }, FieldLastName},
		{"email", func(in *RegisterInput) { in.Email = "" }, FieldEmail},
		{"password", func(in *RegisterInput) { in.Password, in.ConfirmPassword = "", "" }, FieldPassword},
		{"mismatch", func(in *RegisterInput) { in.ConfirmPassword = "other" }, FieldConfirmPassword},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, Options{})
			in := valid
			tc.edit(&in)

			var verr *ValidationError
			require.ErrorAs(t, f.orch.SubmitRegister(context.Background(), in), &verr)
			assert.Equal(t, tc.field, verr.Field)
			assert.Zero(t, f.transport.total())
		})
	}
}

func TestSubmitRegisterAlwaysPendsOTP(t *testing.T) {
	f := newFixture(t, Options{})
	f.orch.OpenRegister()
	f.transport.register = func(req model.RegisterRequest) (client.OTPRequired, error) {
		assert.Equal(t, "Ada", req.FirstName)
		return client.OTPRequired{Email: req.Email}, nil
	}

	err := f.orch.SubmitRegister(context.Background(), RegisterInput{
		FirstName: "Ada", LastName: "L", Email: "a@b.com", Password: "pw", ConfirmPassword: "pw",
	})
	require.NoError(t, err)

	snap := f.orch.Snapshot()
	assert.Equal(t, StateOTPPending, snap.State)
	assert.False(t, snap.DialogOpen(DialogRegister))
	assert.True(t, snap.DialogOpen(DialogOTP))
	assert.Equal(t, FlowRegister, snap.Challenge.Flow)
	assert.Equal(t, 60, snap.CooldownRemaining())
	assert.Zero(t, f.session.calls)
}

func TestVerifyOTPEstablishesSessionAndNavigates(t *testing.T) {
	cases := []struct {
		name     string
		register bool
		user     model.User
		want     string
	}{
		{
			name: "login with complete profile",
			user: model.User{Roles: []model.Role{model.RoleFreelancer}, ProfileCompleted: true},
			want: RouteFreelancerDashboard,
		},
		{
			name: "login as client",
			user: model.User{Roles: []model.Role{model.RoleClient}, ProfileCompleted: true},
			want: RouteClientDashboard,
		},
		{
			name: "login as admin",
			user: model.User{Roles: []model.Role{model.RoleAdmin, model.RoleClient}, ProfileCompleted: true},
			want: RouteAdminDashboard,
		},
		{
			name: "login with incomplete profile",
			user: model.User{Roles: []model.Role{model.RoleClient}},
			want: RouteOnboarding,
		},
		{
			name:     "register ignores profile flag",
			register: true,
			user:     model.User{Roles: []model.Role{model.RoleClient}, ProfileCompleted: true},
			want:     RouteOnboarding,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, Options{})
			f.session.next = tc.user
			f.transport.verify = func(email, code string) (model.AuthTokens, error) {
				assert.Equal(t, "a@b.com", email)
				assert.Equal(t, "123456", code)
				return tokensFor("u1"), nil
			}

			if tc.register {
				f.transport.register = func(req model.RegisterRequest) (client.OTPRequired, error) {
					return client.OTPRequired{Email: req.Email}, nil
				}
				require.NoError(t, f.orch.SubmitRegister(context.Background(), RegisterInput{
					FirstName: "A", LastName: "B", Email: "a@b.com", Password: "pw", ConfirmPassword: "pw",
				}))
				f.toasts.Reset()
			} else {
				f.pendLogin(t)
			}

			require.NoError(t, f.orch.VerifyOTP(context.Background(), "123456"))

			snap := f.orch.Snapshot()
			assert.Equal(t, StateAuthenticated, snap.State)
			assert.Nil(t, snap.Challenge)
			assert.False(t, snap.DialogOpen(DialogOTP))
			assert.Empty(t, snap.OTPCode)
			assert.NotNil(t, f.session.Current().User)
			assert.Equal(t, []string{tc.want}, f.routes)
			assert.Len(t, f.toasts.Toasts(), 1)

			if tc.register {
				assert.Equal(t, 1, f.transport.count("verify-register"))
				assert.Zero(t, f.transport.count("verify-login"))
			} else {
				assert.Equal(t, 1, f.transport.count("verify-login"))
				assert.Zero(t, f.transport.count("verify-register"))
			}
		})
	}
}

func TestVerifyOTPRejectedCodeKeepsDialogOpen(t *testing.T) {
	f := newFixture(t, Options{})
	f.pendLogin(t)
	f.transport.verify = func(string, string) (model.AuthTokens, error) {
		return model.AuthTokens{}, apierror.New("INVALID_OTP", "Code is invalid", "", http.StatusBadRequest)
	}

	err := f.orch.VerifyOTP(context.Background(), "000000")
	require.Error(t, err)

	snap := f.orch.Snapshot()
	assert.Nil(t, f.session.Current().User)
	assert.Equal(t, StateOTPPending, snap.State)
	assert.True(t, snap.DialogOpen(DialogOTP))
	assert.Equal(t, "000000", snap.OTPCode)
	require.NotNil(t, snap.FieldError)
	assert.Equal(t, FieldCode, snap.FieldError.Field)
	assert.Equal(t, "Code is invalid", snap.FieldError.Message)
	assert.Len(t, f.toasts.Toasts(), 1)

	f.orch.EditOTPCode("00000")
	snap = f.orch.Snapshot()
	assert.Nil(t, snap.FieldError)
	assert.Equal(t, "00000", snap.OTPCode)
}

func TestVerifyOTPRequiresCode(t *testing.T) {
	f := newFixture(t, Options{})
	f.pendLogin(t)

	var verr *ValidationError
	require.ErrorAs(t, f.orch.VerifyOTP(context.Background(), "  "), &verr)
	assert.Equal(t, FieldCode, verr.Field)
	assert.Zero(t, f.transport.count("verify-login"))
	assert.NotNil(t, f.orch.Snapshot().FieldError)
}

func TestVerifyOTPWithoutChallenge(t *testing.T) {
	f := newFixture(t, Options{})
	require.ErrorIs(t, f.orch.VerifyOTP(context.Background(), "123456"), ErrNoPendingChallenge)
}

func TestResendDuringCooldownIsNoop(t *testing.T) {
	f := newFixture(t, Options{})
	f.pendLogin(t)

	require.NoError(t, f.orch.ResendOTP(context.Background()))

	assert.Zero(t, f.transport.count("resend"))
	assert.Equal(t, 60, f.orch.Snapshot().CooldownRemaining())
	assert.Empty(t, f.toasts.Toasts())
}

func TestResendWithoutPendingCredentialsIsNoop(t *testing.T) {
	f := newFixture(t, Options{CooldownSeconds: 1, TickInterval: 5 * time.Millisecond})
	f.orch.OpenOTP("a@b.com")

	require.Eventually(t, func() bool { return f.orch.Snapshot().CooldownRemaining() == 0 }, time.Second, 5*time.Millisecond)
	require.NoError(t, f.orch.ResendOTP(context.Background()))
	assert.Zero(t, f.transport.count("resend"))
}

func TestResendAfterCooldownResetsIt(t *testing.T) {
	f := newFixture(t, Options{CooldownSeconds: 2, TickInterval: 10 * time.Millisecond})
	f.pendLogin(t)

	require.Eventually(t, func() bool { return f.orch.Snapshot().CooldownRemaining() == 0 }, time.Second, 5*time.Millisecond)

	f.orch.mu.Lock()
	f.orch.tick = time.Hour
	f.orch.mu.Unlock()
	require.NoError(t, f.orch.ResendOTP(context.Background()))

	assert.Equal(t, 1, f.transport.count("resend"))
	assert.Equal(t, []model.Credentials{{Email: "a@b.com", Password: "x"}}, f.transport.resendCreds)
	assert.Equal(t, 2, f.orch.Snapshot().CooldownRemaining())

	toast, ok := f.toasts.Last()
	require.True(t, ok)
	assert.Equal(t, notify.LevelSuccess, toast.Level)
}

func TestResendInRegisterFlowUsesRegisterCredentials(t *testing.T) {
	f := newFixture(t, Options{CooldownSeconds: 1, TickInterval: 5 * time.Millisecond})
	f.transport.register = func(req model.RegisterRequest) (client.OTPRequired, error) {
		return client.OTPRequired{Email: req.Email}, nil
	}
	require.NoError(t, f.orch.SubmitRegister(context.Background(), RegisterInput{
		FirstName: "A", LastName: "B", Email: "new@b.com", Password: "pw", ConfirmPassword: "pw",
	}))

	require.Eventually(t, func() bool { return f.orch.Snapshot().CooldownRemaining() == 0 }, time.Second, 5*time.Millisecond)
	require.NoError(t, f.orch.ResendOTP(context.Background()))

	assert.Equal(t, []model.Credentials{{Email: "new@b.com", Password: "pw"}}, f.transport.resendCreds)
}

func TestResendFailureKeepsDialogState(t *testing.T) {
	f := newFixture(t, Options{CooldownSeconds: 1, TickInterval: 5 * time.Millisecond})
	f.pendLogin(t)
	f.transport.resend = func(model.Credentials) error {
		return apierror.Network(errors.New("offline"))
	}

	require.Eventually(t, func() bool { return f.orch.Snapshot().CooldownRemaining() == 0 }, time.Second, 5*time.Millisecond)
	require.Error(t, f.orch.ResendOTP(context.Background()))

	snap := f.orch.Snapshot()
	assert.Equal(t, StateOTPPending, snap.State)
	assert.True(t, snap.DialogOpen(DialogOTP))
	assert.Equal(t, 0, snap.CooldownRemaining())

	toast, ok := f.toasts.Last()
	require.True(t, ok)
	assert.Equal(t, notify.LevelError, toast.Level)
	assert.Equal(t, i18n.MustLoad().Message(false, "otp.resend_failed"), toast.Message)
}

func TestGoogleRoleSelectionHandshake(t *testing.T) {
	f := newFixture(t, Options{})
	f.orch.OpenLogin()
	f.transport.google = func(string) (model.GoogleAuthOutcome, error) {
		return model.GoogleAuthOutcome{RequiresRoleSelection: true, Auth: model.AuthTokens{UserID: "u1"}}, nil
	}
	f.transport.googleRole = func(userID string, role model.Role) (model.GoogleAuthOutcome, error) {
		assert.Equal(t, "u1", userID)
		assert.Equal(t, model.RoleClient, role)
		return model.GoogleAuthOutcome{Auth: tokensFor("u1")}, nil
	}
	f.session.next = model.User{Roles: []model.Role{model.RoleClient}}

	require.NoError(t, f.orch.HandleGoogleCredential(context.Background(), "opaque.jwt.value"))

	snap := f.orch.Snapshot()
	assert.Equal(t, StateRoleSelectionPending, snap.State)
	assert.True(t, snap.DialogOpen(DialogRoleSelection))
	assert.Equal(t, "u1", snap.PendingGoogleUserID)
	assert.Nil(t, f.session.Current().User)
	assert.Equal(t, []string{"opaque.jwt.value"}, f.transport.googleTokens)

	require.NoError(t, f.orch.CompleteGoogleRoleSelection(context.Background(), "u1", model.RoleClient))

	snap = f.orch.Snapshot()
	assert.Equal(t, StateAuthenticated, snap.State)
	assert.False(t, snap.DialogOpen(DialogRoleSelection))
	assert.False(t, snap.DialogOpen(DialogLogin))
	assert.Empty(t, snap.PendingGoogleUserID)
	require.NotNil(t, f.session.Current().User)
	assert.Equal(t, "u1", f.session.Current().User.ID)
}

func TestGoogleWithoutRoleSelectionEstablishesSession(t *testing.T) {
	f := newFixture(t, Options{})
	f.orch.OpenLogin()
	f.transport.google = func(string) (model.GoogleAuthOutcome, error) {
		return model.GoogleAuthOutcome{Auth: tokensFor("u2")}, nil
	}

	require.NoError(t, f.orch.HandleGoogleCredential(context.Background(), "cred"))

	snap := f.orch.Snapshot()
	assert.Equal(t, StateAuthenticated, snap.State)
	assert.False(t, snap.DialogOpen(DialogLogin))
	assert.Equal(t, "u2", f.session.Current().User.ID)
}

func TestCompleteGoogleRoleSelectionRequiresMatchingUser(t *testing.T) {
	f := newFixture(t, Options{})
	require.ErrorIs(t, f.orch.CompleteGoogleRoleSelection(context.Background(), "u1", model.RoleClient), ErrNoPendingRoleSelection)

	f.transport.google = func(string) (model.GoogleAuthOutcome, error) {
		return model.GoogleAuthOutcome{RequiresRoleSelection: true, Auth: model.AuthTokens{UserID: "u1"}}, nil
	}
	require.NoError(t, f.orch.HandleGoogleCredential(context.Background(), "cred"))

	require.ErrorIs(t, f.orch.CompleteGoogleRoleSelection(context.Background(), "u9", model.RoleClient), ErrNoPendingRoleSelection)
	assert.Zero(t, f.transport.count("google-role"))
}

func TestCompleteGoogleRoleSelectionRequestedAgain(t *testing.T) {
	f := newFixture(t, Options{})
	f.transport.google = func(string) (model.GoogleAuthOutcome, error) {
		return model.GoogleAuthOutcome{RequiresRoleSelection: true, Auth: model.AuthTokens{UserID: "u1"}}, nil
	}
	f.transport.googleRole = func(string, model.Role) (model.GoogleAuthOutcome, error) {
		return model.GoogleAuthOutcome{RequiresRoleSelection: true, Auth: model.AuthTokens{UserID: "u1"}}, nil
	}
	require.NoError(t, f.orch.HandleGoogleCredential(context.Background(), "cred"))
	f.toasts.Reset()

	err := f.orch.CompleteGoogleRoleSelection(context.Background(), "u1", model.RoleFreelancer)
	require.ErrorIs(t, err, ErrDefensiveInvariant)

	snap := f.orch.Snapshot()
	assert.Equal(t, StateRoleSelectionPending, snap.State)
	assert.Equal(t, "u1", snap.PendingGoogleUserID)
	assert.True(t, snap.DialogOpen(DialogRoleSelection))
	assert.Equal(t, 1, f.transport.count("google-role"))
	assert.Zero(t, f.session.calls)
	assert.Len(t, f.toasts.Toasts(), 1)
}

func TestDismissDropsLateResponse(t *testing.T) {
	f := newFixture(t, Options{})
	f.orch.OpenLogin()

	release := make(chan struct{})
	f.transport.login = func(model.Credentials) (client.LoginOutcome, error) {
		<-release
		return client.OTPRequired{Email: "a@b.com"}, nil
	}

	done := make(chan error, 1)
	go func() {
		done <- f.orch.SubmitLogin(context.Background(), model.Credentials{Email: "a@b.com", Password: "x"})
	}()

	require.Eventually(t, func() bool { return f.orch.Snapshot().Submitting }, time.Second, time.Millisecond)
	require.ErrorIs(t, f.orch.SubmitLogin(context.Background(), model.Credentials{Email: "a@b.com", Password: "x"}), ErrSubmitInFlight)

	f.orch.Dismiss(DialogLogin)
	close(release)

	require.ErrorIs(t, <-done, ErrDismissed)

	snap := f.orch.Snapshot()
	assert.Equal(t, StateIdle, snap.State)
	assert.Nil(t, snap.Challenge)
	assert.False(t, snap.DialogOpen(DialogOTP))
	assert.Empty(t, f.toasts.Toasts())
}

func TestDismissOtherDialogKeepsVerifyInFlight(t *testing.T) {
	f := newFixture(t, Options{})
	f.pendLogin(t)

	release := make(chan struct{})
	f.transport.verify = func(string, string) (model.AuthTokens, error) {
		<-release
		return tokensFor("u1"), nil
	}

	done := make(chan error, 1)
	go func() {
		done <- f.orch.VerifyOTP(context.Background(), "123456")
	}()

	require.Eventually(t, func() bool { return f.orch.Snapshot().Submitting }, time.Second, time.Millisecond)

	f.orch.Dismiss(DialogRegister)
	assert.True(t, f.orch.Snapshot().Submitting)
	close(release)

	require.NoError(t, <-done)

	snap := f.orch.Snapshot()
	assert.Equal(t, StateAuthenticated, snap.State)
	assert.False(t, snap.DialogOpen(DialogOTP))
	assert.Nil(t, snap.Challenge)
	assert.Equal(t, 1, f.session.calls)

	toast, ok := f.toasts.Last()
	require.True(t, ok)
	assert.Equal(t, notify.LevelSuccess, toast.Level)
}

func TestSubmitLoginFailureKeepsPendingChallenge(t *testing.T) {
	f := newFixture(t, Options{})
	f.pendLogin(t)
	f.orch.OpenLogin()
	f.transport.login = func(model.Credentials) (client.LoginOutcome, error) {
		return nil, apierror.Network(errors.New("dial tcp: refused"))
	}

	err := f.orch.SubmitLogin(context.Background(), model.Credentials{Email: "a@b.com", Password: "x"})
	require.Error(t, err)

	snap := f.orch.Snapshot()
	assert.Equal(t, StateOTPPending, snap.State)
	assert.False(t, snap.Submitting)
	require.NotNil(t, snap.Challenge)
	assert.Equal(t, "a@b.com", snap.Challenge.Email)
	assert.True(t, snap.DialogOpen(DialogOTP))
}

func TestGoogleSignInClosesOTPDialog(t *testing.T) {
	f := newFixture(t, Options{})
	f.pendLogin(t)
	f.orch.OpenLogin()
	f.transport.google = func(string) (model.GoogleAuthOutcome, error) {
		return model.GoogleAuthOutcome{Auth: tokensFor("u2")}, nil
	}

	require.NoError(t, f.orch.HandleGoogleCredential(context.Background(), "cred"))

	snap := f.orch.Snapshot()
	assert.Equal(t, StateAuthenticated, snap.State)
	assert.Nil(t, snap.Challenge)
	assert.False(t, snap.DialogOpen(DialogOTP))
	assert.False(t, snap.DialogOpen(DialogLogin))
}

func TestDismissOTPResetsTransientState(t *testing.T) {
	f := newFixture(t, Options{})
	f.pendLogin(t)
	f.orch.EditOTPCode("12")

	f.orch.Dismiss(DialogOTP)

	snap := f.orch.Snapshot()
	assert.Equal(t, StateIdle, snap.State)
	assert.Nil(t, snap.Challenge)
	assert.Empty(t, snap.OTPCode)
	assert.Nil(t, snap.FieldError)
	assert.Equal(t, 0, snap.CooldownRemaining())

	require.NoError(t, f.orch.ResendOTP(context.Background()))
	assert.Zero(t, f.transport.count("resend"))
}

func TestListenAppliesDialogEvents(t *testing.T) {
	f := newFixture(t, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go f.orch.Listen(ctx)
	require.Eventually(t, func() bool { return f.bus.SubscriberCount() == 1 }, time.Second, time.Millisecond)

	event.OpenRegister(f.bus)
	require.Eventually(t, func() bool { return f.orch.Snapshot().DialogOpen(DialogRegister) }, time.Second, time.Millisecond)

	event.OpenLogin(f.bus)
	require.Eventually(t, func() bool {
		snap := f.orch.Snapshot()
		return snap.DialogOpen(DialogLogin) && !snap.DialogOpen(DialogRegister)
	}, time.Second, time.Millisecond)

	event.OpenOTP(f.bus, "x@y.com")
	require.Eventually(t, func() bool {
		snap := f.orch.Snapshot()
		return snap.Challenge != nil && snap.Challenge.Email == "x@y.com"
	}, time.Second, time.Millisecond)
}

func TestToastsFollowRTLFlag(t *testing.T) {
	f := newFixture(t, Options{RTL: true})

	_ = f.orch.SubmitLogin(context.Background(), model.Credentials{})

	toast, ok := f.toasts.Last()
	require.True(t, ok)
	assert.True(t, toast.RTL)
	assert.Equal(t, i18n.MustLoad().Message(true, "validation.required"), toast.Message)

	f.orch.SetRTL(false)
	_ = f.orch.SubmitLogin(context.Background(), model.Credentials{})
	toast, _ = f.toasts.Last()
	assert.False(t, toast.RTL)
}
