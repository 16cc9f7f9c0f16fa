package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"

	"github.com/jmcleod/sessionguard/auth/authtest"
)

var (
	devPort      int
	devAccounts  []string
	devAccessTTL time.Duration
	devRotate    bool
)

var devserverCmd = &cobra.Command{
	Use:   "devserver",
	Short: "Run a fake authentication backend for local development",
	Long: `Serves /auth/signin, /auth/refresh and /auth/signout from a fixed account
table, with the API document at /openapi.yaml and a browsable UI at /docs.
Access tokens are HS256 JWTs signed with a key generated at startup.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := []authtest.Option{
			authtest.WithAccessTTL(devAccessTTL),
			authtest.WithLogger(newLogger(os.Stderr)),
		}
		for _, acct := range devAccounts {
			id, secret, ok := strings.Cut(acct, ":")
			if !ok || id == "" || secret == "" {
				return fmt.Errorf("invalid --account %q, want identifier:secret", acct)
			}
			opts = append(opts, authtest.WithAccount(id, secret))
		}
		if devRotate {
			opts = append(opts, authtest.WithRotatingRefreshTokens())
		}
		backend := authtest.NewServer(opts...)

		r := chi.NewRouter()
		r.Use(middleware.Logger)
		r.Use(middleware.Recoverer)

		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("OK"))
		})
		r.Mount("/", backend.Router())

		server := &http.Server{
			Addr:              fmt.Sprintf("127.0.0.1:%d", devPort),
			Handler:           r,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		}

		// Graceful shutdown on SIGINT/SIGTERM.
		done := make(chan error, 1)
		go func() {
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				done <- fmt.Errorf("server failed: %w", err)
				return
			}
			done <- nil
		}()

		printBanner(cmd.OutOrStdout())
		fmt.Fprintf(cmd.OutOrStdout(), "Fake backend listening on http://%s (%d accounts, docs at /docs)\n", server.Addr, len(devAccounts))

		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			fmt.Fprintf(cmd.OutOrStdout(), "\nReceived %s, shutting down...\n", sig)
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := server.Shutdown(ctx); err != nil {
				return fmt.Errorf("server shutdown failed: %w", err)
			}
			return nil
		case err := <-done:
			return err
		}
	},
}

func init() {
	rootCmd.AddCommand(devserverCmd)
	devserverCmd.Flags().IntVarP(&devPort, "port", "p", 8080, "Port to listen on")
	devserverCmd.Flags().StringArrayVar(&devAccounts, "account", []string{"demo@example.com:demo"}, "Account as identifier:secret (repeatable)")
	devserverCmd.Flags().DurationVar(&devAccessTTL, "access-ttl", authtest.DefaultAccessTTL, "Lifetime of issued access tokens")
	devserverCmd.Flags().BoolVar(&devRotate, "rotate-refresh", false, "Issue a new refresh token on every refresh")
}
