package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status <identifier>",
	Short: "Show lockout status for an identifier and whether a session is stored",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		out := cmd.OutOrStdout()
		logger := newLogger(os.Stderr)

		p, err := openPersistence(ctx, logger)
		if err != nil {
			return err
		}
		defer p.Close()

		thr, err := newThrottle(p, logger)
		if err != nil {
			return err
		}
		st := thr.Status(ctx, args[0])
		fmt.Fprintf(out, "Failed attempts: %d of %d\n", st.FailureCount, cfg.LockoutThreshold)
		if st.RemainingLockoutSeconds > 0 {
			fmt.Fprintf(out, "Locked out:      %s remaining\n", time.Duration(st.RemainingLockoutSeconds)*time.Second)
		} else {
			fmt.Fprintln(out, "Locked out:      no")
		}

		store, err := p.credentialStore(ctx)
		if err != nil {
			return err
		}
		if c, ok := store.Get(ctx); ok {
			fmt.Fprintf(out, "Stored session:  access token valid until %s\n", c.AccessExpiresAt.Format(time.RFC3339))
		} else {
			fmt.Fprintln(out, "Stored session:  none")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().StringVar(&passphrase, "passphrase", "", "Passphrase protecting stored data (or SESSIONGUARD_PASSPHRASE)")
}
