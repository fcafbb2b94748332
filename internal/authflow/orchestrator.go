package authflow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"marketplace-auth/internal/client"
	"marketplace-auth/internal/event"
	"marketplace-auth/internal/i18n"
	"marketplace-auth/internal/model"
	"marketplace-auth/internal/notify"
	"marketplace-auth/internal/session"
	"marketplace-auth/pkg/apierror"
)

const DefaultCooldownSeconds = 60

// Transport is the part of client.Client the orchestrator drives.
type Transport interface {
	Login(ctx context.Context, creds model.Credentials) (client.LoginOutcome, error)
	Register(ctx context.Context, req model.RegisterRequest) (client.OTPRequired, error)
	VerifyLoginOTP(ctx context.Context, email string, code string) (model.AuthTokens, error)
	VerifyRegisterOTP(ctx context.Context, email string, code string) (model.AuthTokens, error)
	ResendOTP(ctx context.Context, creds model.Credentials) error
	LoginWithGoogle(ctx context.Context, idToken string) (model.GoogleAuthOutcome, error)
	CompleteGoogleRole(ctx context.Context, userID string, role model.Role) (model.GoogleAuthOutcome, error)
}

// SessionManager is implemented by *session.Provider.
type SessionManager interface {
	Establish(ctx context.Context, tokens model.AuthTokens) (model.User, error)
	Current() session.Snapshot
}

type Options struct {
	Transport Transport
	Session   SessionManager
	Bus       event.Bus
	Notifier  notify.Notifier
	Messages  *i18n.Catalog
	Navigator Navigator
	Logger    *slog.Logger
	RTL       bool

	CooldownSeconds int
	TickInterval    time.Duration
}

type RegisterInput struct {
	FirstName       string
	LastName        string
	Email           string
	Password        string
	ConfirmPassword string
}

// Orchestrator gates the login, register, OTP and Google role-selection
// dialogs on the outcomes of the auth transport. Its state lives in memory for
// the lifetime of the process only.
//
// The mutex is never held across a network call. Dismissing the dialog that
// owns the submission in flight bumps the generation; a response that arrives
// for an older generation is dropped.
type Orchestrator struct {
	transport Transport
	session   SessionManager
	bus       event.Bus
	notifier  notify.Notifier
	messages  *i18n.Catalog
	navigator Navigator
	logger    *slog.Logger
	cooldown  int
	tick      time.Duration

	mu                  sync.Mutex
	rtl                 bool
	state               State
	dialogs             map[Dialog]bool
	challenge           *Challenge
	pendingCreds        *model.Credentials
	pendingGoogleUserID string
	otpCode             string
	fieldErr            *ValidationError
	submitting          bool
	inflight            Dialog
	resume              State
	generation          uint64
	cooldownSeq         uint64
	stopCooldown        func()
}

func New(opts Options) *Orchestrator {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	messages := opts.Messages
	if messages == nil {
		messages = i18n.MustLoad()
	}
	notifier := opts.Notifier
	if notifier == nil {
		notifier = notify.NewLogNotifier(logger)
	}
	navigator := opts.Navigator
	if navigator == nil {
		navigator = NavigatorFunc(func(string) {})
	}
	cooldown := opts.CooldownSeconds
	if cooldown <= 0 {
		cooldown = DefaultCooldownSeconds
	}
	tick := opts.TickInterval
	if tick <= 0 {
		tick = time.Second
	}

	return &Orchestrator{
		transport: opts.Transport,
		session:   opts.Session,
		bus:       opts.Bus,
		notifier:  notifier,
		messages:  messages,
		navigator: navigator,
		logger:    logger.With("component", "authflow"),
		cooldown:  cooldown,
		tick:      tick,
		rtl:       opts.RTL,
		state:     StateIdle,
		dialogs:   make(map[Dialog]bool),
	}
}

func (o *Orchestrator) SetRTL(rtl bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.rtl = rtl
}

func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()

	snap := Snapshot{
		State:               o.state,
		PendingGoogleUserID: o.pendingGoogleUserID,
		OTPCode:             o.otpCode,
		Submitting:          o.submitting,
	}
	for _, d := range []Dialog{DialogLogin, DialogRegister, DialogOTP, DialogRoleSelection} {
		if o.dialogs[d] {
			snap.Dialogs = append(snap.Dialogs, d)
		}
	}
	if o.challenge != nil {
		c := *o.challenge
		snap.Challenge = &c
	}
	if o.fieldErr != nil {
		fe := *o.fieldErr
		snap.FieldError = &fe
	}
	return snap
}

// SubmitLogin posts the credentials. An OTP challenge keeps them as the resend
// payload; a direct authentication establishes the session.
func (o *Orchestrator) SubmitLogin(ctx context.Context, creds model.Credentials) error {
	creds.Email = strings.TrimSpace(creds.Email)
	switch {
	case creds.Email == "":
		return o.invalid(FieldEmail, "validation.required")
	case creds.Password == "":
		return o.invalid(FieldPassword, "validation.required")
	}

	gen, err := o.begin(StateLoginSubmitted, DialogLogin)
	if err != nil {
		return err
	}

	outcome, err := o.transport.Login(ctx, creds)
	if err != nil {
		if !o.fail(gen, true) {
			return ErrDismissed
		}
		o.toast(notify.LevelError, apierror.MessageOr(err, o.msg("login.failed")))
		return fmt.Errorf("login: %w", err)
	}

	switch out := outcome.(type) {
	case client.OTPRequired:
		o.mu.Lock()
		if !o.endLocked(gen) {
			o.mu.Unlock()
			return ErrDismissed
		}
		o.pendLocked(out.Email, FlowLogin, &creds)
		o.dialogs[DialogLogin] = false
		o.mu.Unlock()

		o.toast(notify.LevelInfo, o.msg("login.otp_sent"))
		return nil

	case client.Authenticated:
		if _, err := o.establish(ctx, gen, out.Tokens, true, "login.failed"); err != nil {
			return err
		}
		o.mu.Lock()
		o.dialogs[DialogLogin] = false
		o.mu.Unlock()
		o.toast(notify.LevelSuccess, o.msg("login.success"))
		return nil

	default:
		o.fail(gen, true)
		return fmt.Errorf("login: unexpected outcome %T", outcome)
	}
}

// SubmitRegister creates the account; registration always ends in an OTP
// challenge. The register form's email and password become the resend payload.
func (o *Orchestrator) SubmitRegister(ctx context.Context, in RegisterInput) error {
	in.FirstName = strings.TrimSpace(in.FirstName)
	in.LastName = strings.TrimSpace(in.LastName)
	in.Email = strings.TrimSpace(in.Email)

	switch {
	case in.FirstName == "":
		return o.invalid(FieldFirstName, "validation.required")
	case in.LastName == "":
		return o.invalid(FieldLastName, "validation.required")
	case in.Email == "":
		return o.invalid(FieldEmail, "validation.required")
	case in.Password == "":
		return o.invalid(FieldPassword, "validation.required")
	case in.Password != in.ConfirmPassword:
		return o.invalid(FieldConfirmPassword, "validation.password_mismatch")
	}

	gen, err := o.begin(StateRegisterSubmitted, DialogRegister)
	if err != nil {
		return err
	}

	out, err := o.transport.Register(ctx, model.RegisterRequest{
		FirstName: in.FirstName,
		LastName:  in.LastName,
		Email:     in.Email,
		Password:  in.Password,
	})
	if err != nil {
		if !o.fail(gen, true) {
			return ErrDismissed
		}
		o.toast(notify.LevelError, apierror.MessageOr(err, o.msg("register.failed")))
		return fmt.Errorf("register: %w", err)
	}

	email := out.Email
	if email == "" {
		email = in.Email
	}

	o.mu.Lock()
	if !o.endLocked(gen) {
		o.mu.Unlock()
		return ErrDismissed
	}
	o.pendLocked(email, FlowRegister, &model.Credentials{Email: in.Email, Password: in.Password})
	o.dialogs[DialogRegister] = false
	o.mu.Unlock()

	o.toast(notify.LevelInfo, o.msg("register.otp_sent"))
	return nil
}

// EditOTPCode records what the user typed and clears the field error.
func (o *Orchestrator) EditOTPCode(code string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.otpCode = code
	o.fieldErr = nil
}

// VerifyOTP submits the code against the endpoint of the pending flow. On
// failure the dialog stays open with the code and a field error.
func (o *Orchestrator) VerifyOTP(ctx context.Context, code string) error {
	code = strings.TrimSpace(code)

	o.mu.Lock()
	if o.challenge == nil {
		o.mu.Unlock()
		return ErrNoPendingChallenge
	}
	o.otpCode = code
	if code == "" {
		verr := &ValidationError{Field: FieldCode, Message: o.msgLocked("validation.code_required")}
		o.fieldErr = verr
		o.mu.Unlock()
		return verr
	}
	if o.submitting {
		o.mu.Unlock()
		return ErrSubmitInFlight
	}
	o.submitting = true
	o.inflight = DialogOTP
	o.fieldErr = nil
	gen := o.generation
	challenge := *o.challenge
	o.mu.Unlock()

	verify := o.transport.VerifyLoginOTP
	if challenge.Flow == FlowRegister {
		verify = o.transport.VerifyRegisterOTP
	}

	var user model.User
	tokens, err := verify(ctx, challenge.Email, code)
	if err == nil {
		if !o.isCurrent(gen) {
			o.fail(gen, false)
			return ErrDismissed
		}
		user, err = o.session.Establish(ctx, tokens)
	}

	o.mu.Lock()
	if !o.endLocked(gen) {
		o.mu.Unlock()
		return ErrDismissed
	}
	if err != nil {
		message := apierror.MessageOr(err, o.msgLocked("otp.invalid"))
		o.fieldErr = &ValidationError{Field: FieldCode, Message: message}
		o.mu.Unlock()

		o.toast(notify.LevelError, message)
		return fmt.Errorf("verify otp: %w", err)
	}

	o.clearChallengeLocked()
	o.dialogs[DialogOTP] = false
	o.state = StateAuthenticated
	o.mu.Unlock()

	o.toast(notify.LevelSuccess, o.msg("otp.verified"))
	o.navigator.Navigate(RouteAfterVerify(challenge.Flow, user, o.session.Current().ActiveRole))
	return nil
}

// ResendOTP is a no-op while the cooldown runs or when nothing is pending.
func (o *Orchestrator) ResendOTP(ctx context.Context) error {
	o.mu.Lock()
	if o.challenge == nil || o.pendingCreds == nil || o.challenge.CooldownRemaining > 0 {
		o.mu.Unlock()
		return nil
	}
	if o.submitting {
		o.mu.Unlock()
		return ErrSubmitInFlight
	}
	o.submitting = true
	o.inflight = DialogOTP
	gen := o.generation
	creds := *o.pendingCreds
	o.mu.Unlock()

	err := o.transport.ResendOTP(ctx, creds)

	o.mu.Lock()
	if !o.endLocked(gen) {
		o.mu.Unlock()
		return ErrDismissed
	}
	if err != nil {
		o.mu.Unlock()
		o.toast(notify.LevelError, apierror.MessageOr(err, o.msg("otp.resend_failed")))
		return fmt.Errorf("resend otp: %w", err)
	}
	o.startCooldownLocked()
	o.mu.Unlock()

	o.toast(notify.LevelSuccess, o.msg("otp.resent"))
	return nil
}

// HandleGoogleCredential forwards the identity widget's credential untouched.
func (o *Orchestrator) HandleGoogleCredential(ctx context.Context, credential string) error {
	gen, err := o.begin(StateGoogleCredentialReceived, DialogLogin)
	if err != nil {
		return err
	}

	outcome, err := o.transport.LoginWithGoogle(ctx, credential)
	if err != nil {
		if !o.fail(gen, true) {
			return ErrDismissed
		}
		o.toast(notify.LevelError, apierror.MessageOr(err, o.msg("google.failed")))
		return fmt.Errorf("google login: %w", err)
	}

	if outcome.RequiresRoleSelection {
		o.mu.Lock()
		if !o.endLocked(gen) {
			o.mu.Unlock()
			return ErrDismissed
		}
		o.state = StateRoleSelectionPending
		o.pendingGoogleUserID = outcome.Auth.UserID
		o.dialogs[DialogRoleSelection] = true
		o.mu.Unlock()

		o.toast(notify.LevelInfo, o.msg("google.role_required"))
		return nil
	}

	return o.completeGoogle(ctx, gen, outcome.Auth, true)
}

// CompleteGoogleRoleSelection submits the chosen role for the pending Google
// user. A response that asks for role selection again is reported as
// ErrDefensiveInvariant and leaves the selection pending.
func (o *Orchestrator) CompleteGoogleRoleSelection(ctx context.Context, userID string, role model.Role) error {
	o.mu.Lock()
	if o.state != StateRoleSelectionPending || userID == "" || o.pendingGoogleUserID != userID {
		o.mu.Unlock()
		return ErrNoPendingRoleSelection
	}
	if o.submitting {
		o.mu.Unlock()
		return ErrSubmitInFlight
	}
	o.submitting = true
	o.inflight = DialogRoleSelection
	gen := o.generation
	o.mu.Unlock()

	outcome, err := o.transport.CompleteGoogleRole(ctx, userID, role)
	if err != nil {
		if !o.fail(gen, false) {
			return ErrDismissed
		}
		o.toast(notify.LevelError, apierror.MessageOr(err, o.msg("google.failed")))
		return fmt.Errorf("complete google role: %w", err)
	}

	if outcome.RequiresRoleSelection {
		if !o.fail(gen, false) {
			return ErrDismissed
		}
		o.logger.Error("role selection requested again", "user_id", userID, "role", role)
		o.toast(notify.LevelError, o.msg("google.role_incomplete"))
		return ErrDefensiveInvariant
	}

	return o.completeGoogle(ctx, gen, outcome.Auth, false)
}

func (o *Orchestrator) completeGoogle(ctx context.Context, gen uint64, tokens model.AuthTokens, settle bool) error {
	if _, err := o.establish(ctx, gen, tokens, settle, "google.failed"); err != nil {
		return err
	}

	o.mu.Lock()
	o.dialogs[DialogLogin] = false
	o.dialogs[DialogRoleSelection] = false
	o.pendingGoogleUserID = ""
	o.mu.Unlock()

	o.toast(notify.LevelSuccess, o.msg("google.success"))
	return nil
}

// establish hands fresh tokens to the session. On success the state is
// Authenticated and any pending challenge is gone; on failure an error toast is
// shown and, with settle, the state falls back to whatever is still pending.
func (o *Orchestrator) establish(ctx context.Context, gen uint64, tokens model.AuthTokens, settle bool, fallbackKey string) (model.User, error) {
	if !o.isCurrent(gen) {
		o.fail(gen, false)
		return model.User{}, ErrDismissed
	}

	user, err := o.session.Establish(ctx, tokens)

	o.mu.Lock()
	current := o.endLocked(gen)
	if err != nil {
		if current && settle {
			o.settleLocked(o.resume)
		}
		o.mu.Unlock()
		if !current {
			return model.User{}, ErrDismissed
		}
		o.toast(notify.LevelError, apierror.MessageOr(err, o.msg(fallbackKey)))
		return model.User{}, fmt.Errorf("establish session: %w", err)
	}
	o.state = StateAuthenticated
	o.clearChallengeLocked()
	o.dialogs[DialogOTP] = false
	o.mu.Unlock()

	return user, nil
}

func (o *Orchestrator) OpenLogin() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.dialogs[DialogLogin] = true
	o.dialogs[DialogRegister] = false
	o.fieldErr = nil
}

func (o *Orchestrator) OpenRegister() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.dialogs[DialogRegister] = true
	o.dialogs[DialogLogin] = false
	o.fieldErr = nil
}

// OpenOTP shows the OTP dialog for a code another surface already had sent.
// No credentials are pending, so resend stays unavailable.
func (o *Orchestrator) OpenOTP(email string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.pendLocked(email, FlowRegister, nil)
}

// Dismiss closes a dialog and resets everything it owned. A submission made
// from that dialog is ignored when its response arrives; one made from another
// dialog is left to finish.
func (o *Orchestrator) Dismiss(d Dialog) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.dialogs[d] = false
	if o.submitting && o.inflight == d {
		o.generation++
		o.submitting = false
		o.inflight = ""
	}
	o.fieldErr = nil

	switch d {
	case DialogOTP:
		o.clearChallengeLocked()
	case DialogRoleSelection:
		o.pendingGoogleUserID = ""
	}

	if o.state != StateAuthenticated && !o.submitting {
		o.settleLocked(StateIdle)
	}
}

// Listen applies dialog bus events until ctx is done.
func (o *Orchestrator) Listen(ctx context.Context) {
	if o.bus == nil {
		return
	}

	events, unsubscribe := o.bus.Subscribe()
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			switch e.Type {
			case event.TypeOpenLogin:
				o.OpenLogin()
			case event.TypeOpenRegister:
				o.OpenRegister()
			case event.TypeOpenOTP:
				o.OpenOTP(e.Email)
			case event.TypeSessionLoggedOut:
				o.mu.Lock()
				if o.state == StateAuthenticated {
					o.state = StateIdle
				}
				o.mu.Unlock()
			}
		}
	}
}

// Close stops the cooldown and drops anything still in flight.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.generation++
	o.submitting = false
	o.inflight = ""
	o.clearChallengeLocked()
	o.pendingGoogleUserID = ""
	clear(o.dialogs)
	if o.state != StateAuthenticated {
		o.state = StateIdle
	}
}

// begin marks a submission from owner as in flight and remembers the state to
// fall back to if it fails.
func (o *Orchestrator) begin(next State, owner Dialog) (uint64, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.submitting {
		return 0, ErrSubmitInFlight
	}
	o.submitting = true
	o.inflight = owner
	o.fieldErr = nil
	o.resume = o.state
	o.state = next
	return o.generation, nil
}

func (o *Orchestrator) isCurrent(gen uint64) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return gen == o.generation
}

// endLocked clears the submitting flag if gen is still current and reports
// whether it was.
func (o *Orchestrator) endLocked(gen uint64) bool {
	if gen != o.generation {
		return false
	}
	o.submitting = false
	o.inflight = ""
	return true
}

// fail ends a submission. With settle the state falls back to whatever is
// still pending.
func (o *Orchestrator) fail(gen uint64, settle bool) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.endLocked(gen) {
		return false
	}
	if settle {
		o.settleLocked(o.resume)
	}
	return true
}

// settleLocked picks the state for what is still pending: an OTP challenge
// first, then a Google role selection, then fallback.
func (o *Orchestrator) settleLocked(fallback State) {
	switch {
	case o.challenge != nil:
		o.state = StateOTPPending
	case o.pendingGoogleUserID != "":
		o.state = StateRoleSelectionPending
	case fallback == StateAuthenticated:
		o.state = StateAuthenticated
	default:
		o.state = StateIdle
	}
}

func (o *Orchestrator) pendLocked(email string, flow Flow, creds *model.Credentials) {
	o.clearChallengeLocked()
	o.challenge = &Challenge{Email: email, Flow: flow}
	o.pendingCreds = creds
	o.state = StateOTPPending
	o.dialogs[DialogOTP] = true
	o.startCooldownLocked()
}

func (o *Orchestrator) clearChallengeLocked() {
	if o.stopCooldown != nil {
		o.stopCooldown()
		o.stopCooldown = nil
	}
	o.cooldownSeq++
	o.challenge = nil
	o.pendingCreds = nil
	o.otpCode = ""
	o.fieldErr = nil
}

func (o *Orchestrator) startCooldownLocked() {
	if o.stopCooldown != nil {
		o.stopCooldown()
	}
	o.cooldownSeq++
	seq := o.cooldownSeq
	o.challenge.CooldownRemaining = o.cooldown

	o.stopCooldown = startCooldown(o.cooldown, o.tick, func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		if seq != o.cooldownSeq || o.challenge == nil || o.challenge.CooldownRemaining == 0 {
			return
		}
		o.challenge.CooldownRemaining--
	})
}

func (o *Orchestrator) invalid(field string, key string) error {
	verr := &ValidationError{Field: field, Message: o.msg(key)}
	o.toast(notify.LevelError, verr.Message)
	return verr
}

func (o *Orchestrator) toast(level notify.Level, message string) {
	o.mu.Lock()
	rtl := o.rtl
	o.mu.Unlock()
	o.notifier.Notify(notify.Toast{Level: level, Message: message, RTL: rtl})
}

func (o *Orchestrator) msg(key string) string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.msgLocked(key)
}

func (o *Orchestrator) msgLocked(key string) string {
	return o.messages.Message(o.rtl, key)
}
