package commands

import (
	"fmt"
	"mime"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"oobind/internal/model"
)

// send <file>: companion leg of a transfer. Negotiates the session shown by
// `bindctl receive`, prints the pairing code and uploads the file.
func sendCmd() *cobra.Command {
	var sessionID string
	cmd := &cobra.Command{
		Use:   "send <file>",
		Short: "Send a file to a waiting receiver through the relay",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			st, err := f.Stat()
			if err != nil {
				return err
			}

			name := filepath.Base(args[0])
			resp, err := client.NegotiateTransfer(cmd.Context(), sessionID, model.FileMetadata{
				FileName: name,
				FileSize: st.Size(),
				FileType: mime.TypeByExtension(filepath.Ext(name)),
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "pairing code: %s\n", resp.PairingCode)
			fmt.Fprintln(out, "waiting for the receiver...")
			n, err := client.Upload(cmd.Context(), resp.StreamID, resp.UploadSecret, f)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "sent %d bytes\n", n)
			return nil
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "session id shown by the receiver")
	_ = cmd.MarkFlagRequired("session")
	return cmd
}
