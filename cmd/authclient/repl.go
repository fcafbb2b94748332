package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"marketplace-auth/internal/authflow"
	"marketplace-auth/internal/event"
	"marketplace-auth/internal/identity"
	"marketplace-auth/internal/model"
	"marketplace-auth/internal/session"
)

const helpText = `commands:
  login <email> <password>
  register <first> <last> <email> <password> <confirm>
  otp <code>            verify the pending code
  edit <code>           change the code without submitting
  resend                request a new code once the cooldown ends
  google <id-token>     sign in with a Google credential (after open-login)
  role <CLIENT|FREELANCER>
  switch <role>         change the active role
  whoami | status
  open-login | open-register | open-otp <email>
  dismiss <login|register|otp|role-selection>
  lang <ltr|rtl>
  logout
  quit`

type sessionControl interface {
	Current() session.Snapshot
	SetActiveRole(ctx context.Context, role model.Role) error
	Logout(ctx context.Context)
}

type shell struct {
	out     io.Writer
	orch    *authflow.Orchestrator
	session sessionControl
	bus     event.Bus
	google  *identity.ManualProvider
	rtl     bool
}

var errQuit = errors.New("quit")

func (s *shell) run(ctx context.Context, in io.Reader) error {
	scanner := bufio.NewScanner(in)
	fmt.Fprint(s.out, "> ")

	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}

		err := s.exec(ctx, scanner.Text())
		if errors.Is(err, errQuit) {
			return nil
		}
		if err != nil {
			fmt.Fprintf(s.out, "error: %v\n", err)
		}
		fmt.Fprint(s.out, "> ")
	}

	return scanner.Err()
}

func (s *shell) exec(ctx context.Context, line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	cmd, args := strings.ToLower(fields[0]), fields[1:]

	switch cmd {
	case "help", "?":
		fmt.Fprintln(s.out, helpText)
		return nil
	case "quit", "exit":
		return errQuit
	case "whoami", "status":
		s.printStatus()
		return nil
	}

	if err := s.dispatch(ctx, cmd, args); err != nil {
		return err
	}
	s.printFlow()
	return nil
}

func (s *shell) dispatch(ctx context.Context, cmd string, args []string) error {
	switch cmd {
	case "login":
		if err := need(args, 2, "login <email> <password>"); err != nil {
			return err
		}
		return s.orch.SubmitLogin(ctx, model.Credentials{Email: args[0], Password: args[1]})
	case "register":
		if err := need(args, 5, "register <first> <last> <email> <password> <confirm>"); err != nil {
			return err
		}
		return s.orch.SubmitRegister(ctx, authflow.RegisterInput{
			FirstName:       args[0],
			LastName:        args[1],
			Email:           args[2],
			Password:        args[3],
			ConfirmPassword: args[4],
		})
	case "otp":
		code := ""
		if len(args) > 0 {
			code = args[0]
		}
		return s.orch.VerifyOTP(ctx, code)
	case "edit":
		s.orch.EditOTPCode(strings.Join(args, ""))
		return nil
	case "resend":
		return s.orch.ResendOTP(ctx)
	case "google":
		if err := need(args, 1, "google <id-token>"); err != nil {
			return err
		}
		return s.google.Submit(args[0])
	case "role":
		if err := need(args, 1, "role <CLIENT|FREELANCER>"); err != nil {
			return err
		}
		return s.orch.CompleteGoogleRoleSelection(ctx, s.orch.Snapshot().PendingGoogleUserID, model.Role(strings.ToUpper(args[0])))
	case "switch":
		if err := need(args, 1, "switch <role>"); err != nil {
			return err
		}
		role, ok := model.ParseRole(args[0])
		if !ok {
			return fmt.Errorf("unknown role %q", args[0])
		}
		return s.session.SetActiveRole(ctx, role)
	case "logout":
		s.session.Logout(ctx)
		return nil
	case "open-login":
		event.OpenLogin(s.bus)
		return nil
	case "open-register":
		event.OpenRegister(s.bus)
		return nil
	case "open-otp":
		if err := need(args, 1, "open-otp <email>"); err != nil {
			return err
		}
		event.OpenOTP(s.bus, args[0])
		return nil
	case "dismiss":
		if err := need(args, 1, "dismiss <dialog>"); err != nil {
			return err
		}
		s.orch.Dismiss(authflow.Dialog(strings.ToLower(args[0])))
		return nil
	case "lang":
		if err := need(args, 1, "lang <ltr|rtl>"); err != nil {
			return err
		}
		s.rtl = strings.EqualFold(args[0], "rtl")
		s.orch.SetRTL(s.rtl)
		return nil
	default:
		return fmt.Errorf("unknown command %q (try help)", cmd)
	}
}

func need(args []string, n int, usage string) error {
	if len(args) < n {
		return fmt.Errorf("usage: %s", usage)
	}
	return nil
}

func (s *shell) printStatus() {
	snap := s.session.Current()
	if !snap.Authenticated() {
		fmt.Fprintln(s.out, "signed out")
		return
	}
	fmt.Fprintf(s.out, "signed in as %s (%s) roles=%v\n", snap.User.Email, snap.ActiveRole, snap.User.Roles)
}

func (s *shell) printFlow() {
	snap := s.orch.Snapshot()
	line := fmt.Sprintf("state=%s dialogs=%v", snap.State, snap.Dialogs)
	if snap.Challenge != nil {
		line += fmt.Sprintf(" otp=%s(%s) cooldown=%ds", snap.Challenge.Email, snap.Challenge.Flow, snap.CooldownRemaining())
	}
	if snap.PendingGoogleUserID != "" {
		line += " awaiting-role=" + snap.PendingGoogleUserID
	}
	if snap.FieldError != nil {
		line += fmt.Sprintf(" invalid=%s", snap.FieldError.Field)
	}
	fmt.Fprintln(s.out, line)
}
