package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"oobind/internal/agent"
)

// bind: run the browser leg of a ceremony and print the released result.
func bindCmd() *cobra.Command {
	var origin string
	cmd := &cobra.Command{
		Use:   "bind",
		Short: "Start a binding ceremony and wait for the companion",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			res, err := client.Bind(cmd.Context(), agent.BindOptions{
				Origin: origin,
				OnSession: func(id string) {
					fmt.Fprintf(out, "session: %s\n", id)
				},
				Code: promptCode(cmd.InOrStdin(), out),
			})
			if err != nil {
				return err
			}
			if res.Compromised {
				fmt.Fprintln(out, "WARNING: session was negotiated more than once")
			}
			fmt.Fprintln(out, string(res.Result))
			return nil
		},
	}
	cmd.Flags().StringVar(&origin, "origin", "", "requesting origin sent in the handshake")
	return cmd
}
