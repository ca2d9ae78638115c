package commands

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"oobind/internal/agent"
	"oobind/internal/model"
)

type transferResult struct {
	FileMetadata model.FileMetadata `json:"fileMetadata"`
	StreamID     string             `json:"streamId"`
}

// receive: browser leg of a transfer. Registers a fresh download key, waits
// for the sender's pairing code and downloads the file into --out.
func receiveCmd() *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "receive",
		Short: "Wait for a file sent with bindctl send",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			pub, key, err := ed25519.GenerateKey(rand.Reader)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			res, err := client.Bind(cmd.Context(), agent.BindOptions{
				PreNegotiate: agent.RegisterDownloadKey(pub),
				OnSession: func(id string) {
					fmt.Fprintf(out, "session: %s\n", id)
				},
				Code: promptCode(cmd.InOrStdin(), out),
			})
			if err != nil {
				return err
			}
			if res.Compromised {
				fmt.Fprintln(out, "WARNING: session was negotiated more than once, not downloading")
				return nil
			}

			var tr transferResult
			if err := json.Unmarshal(res.Result, &tr); err != nil {
				return fmt.Errorf("decode transfer result: %w", err)
			}

			path := filepath.Join(dir, filepath.Base(tr.FileMetadata.FileName))
			f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
			if err != nil {
				return err
			}
			defer f.Close()

			info, err := client.Download(cmd.Context(), tr.StreamID, key, f)
			if err != nil {
				_ = os.Remove(path)
				return err
			}
			fmt.Fprintf(out, "received %s (%d bytes)\n", path, info.Bytes)
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "out", ".", "directory to write the received file into")
	return cmd
}
