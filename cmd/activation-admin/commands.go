package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"

	auth "github.com/healthapp/go-auth"
)

const adminTokenEnv = "ACTIVATION_ADMIN_TOKEN"

// command runs one CLI verb. token is the admin access token from the
// environment, args are the remaining command line arguments.
type command func(ctx context.Context, a *app, out io.Writer, token string, args []string) error

var commands = map[string]command{
	"pending":         cmdPending,
	"count":           cmdCount,
	"approve":         cmdDecide(auth.ActionApprove),
	"reject":          cmdDecide(auth.ActionReject),
	"status":          cmdStatus,
	"processed":       cmdProcessed,
	"reconcile":       cmdReconcile,
	"create-admin":    cmdCreateAdmin,
	"register-doctor": cmdRegisterDoctor,
	"login":           cmdLogin,
}

func cmdPending(ctx context.Context, a *app, out io.Writer, token string, _ []string) error {
	ctx, err := a.adminContext(ctx, token)
	if err != nil {
		return err
	}

	queue, err := a.workflow.GetPendingDoctorRequests(ctx)
	if err != nil {
		return err
	}
	if len(queue) == 0 {
		color.New(color.FgGreen).Fprintln(out, "No doctors awaiting activation.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "DOCTOR ID\tNAME\tEMAIL\tLICENSE\tSPECIALIZATION\tREGISTERED\tREQUEST")
	for _, d := range queue {
		request := color.New(color.FgRed).Sprint("MISSING")
		if d.HasLedgerEntry() {
			request = *d.RequestID
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			d.DoctorID, d.FullName, d.Email, d.MedicalLicenseNumber, d.Specialization,
			d.RegisteredAt.Format(time.RFC3339), request)
	}
	return w.Flush()
}

func cmdCount(ctx context.Context, a *app, out io.Writer, token string, _ []string) error {
	ctx, err := a.adminContext(ctx, token)
	if err != nil {
		return err
	}
	n, err := a.workflow.CountPendingDoctorRequests(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, n)
	return nil
}

func cmdDecide(action auth.ActivationAction) command {
	return func(ctx context.Context, a *app, out io.Writer, token string, args []string) error {
		if len(args) < 1 {
			return fmt.Errorf("usage: %s <doctor-id> [notes]", strings.ToLower(string(action)))
		}
		ctx, err := a.adminContext(ctx, token)
		if err != nil {
			return err
		}

		result, err := a.process.Handle(ctx, auth.ProcessActivationMessage{
			DoctorID: args[0],
			Action:   string(action),
			Notes:    strings.Join(args[1:], " "),
		})
		if err != nil {
			if auth.IsPartialActivationFailure(err) {
				color.New(color.FgRed, color.Bold).Fprintln(out, "Account activated but the request was not resolved. Run `reconcile`.")
			}
			return err
		}

		color.New(color.FgGreen).Fprintf(out, "Doctor %s %s.\n", result.Account.ID, strings.ToLower(string(result.Request.State())))
		return nil
	}
}

func cmdStatus(ctx context.Context, a *app, out io.Writer, token string, args []string) error {
	if len(args) < 1 {
		return errors.New("usage: status <doctor-id>")
	}
	ctx, err := a.adminContext(ctx, token)
	if err != nil {
		return err
	}

	view, err := a.workflow.ActivationStatus(ctx, args[0])
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Status:\t%s\n", view.Status)
	fmt.Fprintf(w, "State:\t%s\n", view.State)
	fmt.Fprintf(w, "Message:\t%s\n", view.Message)
	if view.ActivationRequestDate != nil {
		fmt.Fprintf(w, "Requested:\t%s\n", view.ActivationRequestDate.Format(time.RFC3339))
	}
	if view.ActivationDate != nil {
		fmt.Fprintf(w, "Activated:\t%s\n", view.ActivationDate.Format(time.RFC3339))
	}
	return w.Flush()
}

func cmdProcessed(ctx context.Context, a *app, out io.Writer, token string, args []string) error {
	ctx, err := a.adminContext(ctx, token)
	if err != nil {
		return err
	}
	adminID := ""
	if len(args) > 0 {
		adminID = args[0]
	} else if claims, ok := auth.GetClaims(ctx); ok {
		adminID = claims.UserID()
	}

	entries, err := a.workflow.RequestsProcessedBy(ctx, adminID)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "DOCTOR ID\tNAME\tOUTCOME\tPROCESSED\tNOTES")
	for _, e := range entries {
		processed := ""
		if e.ProcessedAt != nil {
			processed = e.ProcessedAt.Format(time.RFC3339)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", e.DoctorID, e.DoctorFullName, e.State(), processed, e.ProcessingNotes)
	}
	return w.Flush()
}

func cmdReconcile(ctx context.Context, a *app, out io.Writer, token string, _ []string) error {
	ctx, err := a.adminContext(ctx, token)
	if err != nil {
		return err
	}
	report, err := a.workflow.ReconcileActivations(ctx)
	if report != nil {
		for _, r := range report.Repaired {
			fmt.Fprintf(out, "resolved %s for doctor %s\n", r.ID, r.DoctorID)
		}
		for _, r := range report.Conflicts {
			color.New(color.FgRed).Fprintf(out, "conflict: doctor %s is activated but request %s was rejected by %s\n", r.DoctorID, r.ID, r.ProcessedBy)
		}
	}
	if err != nil {
		return err
	}
	color.New(color.FgGreen).Fprintf(out, "%d request(s) reconciled.\n", len(report.Repaired))
	if len(report.Conflicts) > 0 {
		color.New(color.FgYellow).Fprintf(out, "%d conflict(s) need review.\n", len(report.Conflicts))
	}
	return nil
}

// cmdCreateAdmin bootstraps an admin account. Admins are never
// self-registered so this is the only way to create one.
func cmdCreateAdmin(ctx context.Context, a *app, out io.Writer, _ string, args []string) error {
	fs := flag.NewFlagSet("create-admin", flag.ContinueOnError)
	fs.SetOutput(out)
	first := fs.String("first-name", "System", "first name")
	last := fs.String("last-name", "Admin", "last name")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 2 {
		return errors.New("usage: create-admin [-first-name x] [-last-name y] <email> <password>")
	}

	email := auth.NormalizeEmail(fs.Arg(0))
	if _, err := a.accounts.FindByEmail(ctx, email); err == nil {
		return auth.ErrEmailAlreadyExists
	} else if !auth.IsNotFound(err) {
		return err
	}

	hash, err := a.hasher.Hash(fs.Arg(1))
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	admin := &auth.Account{
		ID:             uuid.NewString(),
		Email:          email,
		PasswordHash:   hash,
		FirstName:      *first,
		LastName:       *last,
		Roles:          auth.NewRoleSet(auth.RoleAdmin),
		Status:         auth.AccountStatusActive,
		EmailVerified:  true,
		IsActivated:    true,
		ActivationDate: &now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := a.accounts.Save(ctx, admin); err != nil {
		return err
	}

	color.New(color.FgGreen).Fprintf(out, "Admin %s created (%s).\n", admin.Email, admin.ID)
	return nil
}

func cmdRegisterDoctor(ctx context.Context, a *app, out io.Writer, _ string, args []string) error {
	fs := flag.NewFlagSet("register-doctor", flag.ContinueOnError)
	fs.SetOutput(out)
	msg := auth.RegisterAccountMessage{Role: string(auth.RoleDoctor)}
	fs.StringVar(&msg.FirstName, "first-name", "", "first name")
	fs.StringVar(&msg.LastName, "last-name", "", "last name")
	fs.StringVar(&msg.Email, "email", "", "email address")
	fs.StringVar(&msg.Password, "password", "", "password")
	fs.StringVar(&msg.Phone, "phone", "", "phone number")
	fs.StringVar(&msg.MedicalLicenseNumber, "license", "", "medical license number")
	fs.StringVar(&msg.Specialization, "specialization", "", "specialization")
	fs.StringVar(&msg.HospitalAffiliation, "hospital", "", "hospital affiliation")
	fs.IntVar(&msg.YearsOfExperience, "years", 0, "years of experience")
	if err := fs.Parse(args); err != nil {
		return err
	}

	account, err := a.register.Register(ctx, msg)
	if err != nil {
		return err
	}
	color.New(color.FgGreen).Fprintf(out, "Doctor %s registered (%s), awaiting activation.\n", account.Email, account.ID)
	return nil
}

func cmdLogin(ctx context.Context, a *app, out io.Writer, _ string, args []string) error {
	if len(args) < 2 {
		return errors.New("usage: login <email> <password>")
	}
	result, err := a.authn.Login(ctx, args[0], args[1])
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Account:\t%s\n", result.Account.ID)
	fmt.Fprintf(w, "Roles:\t%s\n", strings.Join(result.Account.Roles.Strings(), ", "))
	fmt.Fprintf(w, "Access token:\t%s\n", result.Tokens.AccessToken)
	fmt.Fprintf(w, "Expires:\t%s\n", result.Tokens.AccessExpiresAt.Format(time.RFC3339))
	fmt.Fprintf(w, "Refresh token:\t%s\n", result.Tokens.RefreshToken)
	return w.Flush()
}
