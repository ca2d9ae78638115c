package commands

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func sessionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sessions",
		Short: "List live and recently expired sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sessions, err := client.Sessions(cmd.Context())
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "SESSION\tSTATE\tNEGOTIATIONS\tCOMPROMISED\tCREATED")
			for _, s := range sessions {
				fmt.Fprintf(w, "%s\t%s\t%d\t%t\t%s\n", s.SessionID, s.State, s.Negotiations, s.Compromised, s.CreatedAt.Format("15:04:05"))
			}
			return w.Flush()
		},
	}
}

// expire <session-id>: force a session into expired, aborting its waiters.
func expireCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "expire <session-id>",
		Short: "Expire one session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := client.Expire(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "expired")
			return nil
		},
	}
}

func expireAllCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "expire-all",
		Short: "Expire every live session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := client.ExpireAll(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "expired %d sessions\n", n)
			return nil
		},
	}
}
