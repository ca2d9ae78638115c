// Package commands implements the bindctl CLI: operator actions against a
// binding service and both legs of a ceremony from the terminal.
package commands

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"oobind/internal/agent"
)

var (
	serverURL string
	token     string
	client    *agent.Client
)

func Execute() error {
	root := &cobra.Command{
		Use:          "bindctl",
		Short:        "Drive and administer out-of-band device binding",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if token == "" {
				token = os.Getenv("BINDCTL_TOKEN")
			}
			client = agent.New(serverURL, nil).WithToken(token)
			return nil
		},
	}

	root.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:3000", "binding service base URL")
	root.PersistentFlags().StringVar(&token, "token", "", "admin bearer token (default $BINDCTL_TOKEN)")

	root.AddCommand(
		tokenCmd(),
		sessionsCmd(),
		expireCmd(),
		expireAllCmd(),
		bindCmd(),
		sendCmd(),
		receiveCmd(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	return root.ExecuteContext(ctx)
}

// promptCode reads pairing codes from in, one per line.
func promptCode(in io.Reader, out io.Writer) agent.CodeSource {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			lines <- strings.TrimSpace(sc.Text())
		}
	}()

	attempt := 0
	return func(ctx context.Context) (string, error) {
		attempt++
		if attempt > 1 {
			fmt.Fprintln(out, "code rejected")
		}
		fmt.Fprint(out, "pairing code: ")
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case line, ok := <-lines:
			if !ok {
				return "", io.EOF
			}
			return line, nil
		}
	}
}
