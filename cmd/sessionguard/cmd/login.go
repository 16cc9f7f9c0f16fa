package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmcleod/sessionguard/auth"
	"github.com/jmcleod/sessionguard/identity"
	"github.com/jmcleod/sessionguard/session"
	"github.com/jmcleod/sessionguard/throttle"
)

var (
	loginIdentifier string
	loginSecret     string
	loginFresh      bool
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in and keep the session alive",
	Long: `Signs in against the backend (or resumes a persisted session), then refreshes
the access token before it expires until the session ends.

Press Enter to register activity, or type "rotate" to replace the session
with a new one. SIGINT signs out and clears the stored
credential; SIGTERM stops without signing out so a later login can resume.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		out := cmd.OutOrStdout()
		in := bufio.NewReader(cmd.InOrStdin())
		logger := newLogger(os.Stderr)

		p, err := openPersistence(ctx, logger)
		if err != nil {
			return err
		}
		defer p.Close()

		coord, err := newCoordinator(ctx, p, logger)
		if err != nil {
			return err
		}
		defer coord.Close()

		ended := make(chan session.Reason, 1)
		coord.OnForcedLogout(func(r session.Reason) {
			select {
			case ended <- r:
			default:
			}
		})
		coord.OnIdleWarning(func(remaining time.Duration) {
			fmt.Fprintf(out, "Idle: the session ends in %s unless you press Enter.\n", remaining.Round(time.Second))
		})

		device := identity.Device{UserAgent: "sessionguard-cli/" + Version}
		resumed := false
		if !loginFresh {
			if resumed, err = coord.Resume(ctx, device); err != nil {
				return err
			}
		}
		if resumed {
			fmt.Fprintln(out, "Resumed the stored session.")
		} else if err := signIn(ctx, coord, in, out, device); err != nil {
			return err
		}

		if sess, ok := coord.Session(); ok {
			fmt.Fprintf(out, "Session %s active", identity.ShortID(sess.SessionID))
			if due, ok := coord.NextRefresh(); ok {
				fmt.Fprintf(out, ", next refresh at %s", due.Format(time.RFC3339))
			}
			fmt.Fprintln(out)
		}

		go func() {
			for {
				line, err := in.ReadString('\n')
				if err != nil {
					return
				}
				coord.RecordActivity()
				if strings.TrimSpace(line) != "rotate" {
					continue
				}
				sess, err := coord.RotateSession(ctx)
				if err != nil {
					fmt.Fprintf(out, "Rotation failed: %v\n", err)
					continue
				}
				fmt.Fprintf(out, "Session rotated to %s\n", identity.ShortID(sess.SessionID))
			}
		}()

		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			if sig == syscall.SIGTERM {
				fmt.Fprintln(out, "\nStopping; the session can be resumed.")
				return nil
			}
			if err := coord.SignOut(context.Background()); err != nil {
				return fmt.Errorf("signing out: %w", err)
			}
			fmt.Fprintln(out, "\nSigned out.")
			return nil
		case reason := <-ended:
			fmt.Fprintf(out, "Session ended: %s\n", reason)
			if reason == session.ReasonRefreshFailed {
				return errors.New("token refresh failed")
			}
			return nil
		}
	},
}

func signIn(ctx context.Context, coord *session.Coordinator, in *bufio.Reader, out io.Writer, device identity.Device) error {
	if loginIdentifier == "" {
		return errors.New("no stored session; --identifier is required")
	}
	secret := loginSecret
	if secret == "" {
		fmt.Fprint(out, "Secret: ")
		line, err := in.ReadString('\n')
		if err != nil && line == "" {
			return fmt.Errorf("reading secret: %w", err)
		}
		secret = strings.TrimRight(line, "\r\n")
	}

	res, err := coord.SignIn(ctx, session.Request{Identifier: loginIdentifier, Secret: secret, Device: device})
	if err != nil {
		return err
	}
	switch res.Outcome {
	case session.OutcomeLocked:
		return fmt.Errorf("%s is locked out for another %s", loginIdentifier, res.RemainingLockout())
	case session.OutcomeFailed:
		return fmt.Errorf("invalid credentials (%d consecutive failures)", res.Status.FailureCount)
	}
	fmt.Fprintln(out, "Signed in.")
	return nil
}

// newCoordinator wires the persisted stores and configured policy into a
// session Coordinator.
func newCoordinator(ctx context.Context, p *persistence, logger *slog.Logger) (*session.Coordinator, error) {
	store, err := p.credentialStore(ctx)
	if err != nil {
		return nil, err
	}
	thr, err := newThrottle(p, logger)
	if err != nil {
		return nil, err
	}
	client, err := auth.NewClient(cfg.BackendURL, auth.WithTimeout(cfg.RequestTimeout), auth.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	return session.New(client,
		session.WithConfig(cfg.Session()),
		session.WithCredentialStore(store),
		session.WithThrottle(thr),
		session.WithLogger(logger),
		session.WithAlertFunc(func(e session.AlertEvent) {
			logger.Warn("security alert", "type", string(e.Type), "count", e.Count, "threshold", e.Threshold)
		}),
	), nil
}

func newThrottle(p *persistence, logger *slog.Logger) (*throttle.Throttle, error) {
	store, err := p.throttleStore()
	if err != nil {
		return nil, err
	}
	return throttle.New(
		throttle.WithStore(store),
		throttle.WithThreshold(cfg.LockoutThreshold),
		throttle.WithLockoutDuration(cfg.LockoutDuration),
		throttle.WithFailureWindow(cfg.FailureWindow),
		throttle.WithLogger(logger)), nil
}

func init() {
	rootCmd.AddCommand(loginCmd)
	loginCmd.Flags().StringVarP(&loginIdentifier, "identifier", "u", "", "Account identifier")
	loginCmd.Flags().StringVar(&loginSecret, "secret", "", "Account secret (prompted when empty)")
	loginCmd.Flags().BoolVar(&loginFresh, "fresh", false, "Ignore any stored session and sign in again")
	loginCmd.Flags().StringVar(&passphrase, "passphrase", "", "Passphrase protecting stored data (or SESSIONGUARD_PASSPHRASE)")
}
