package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"releasebot/internal/app"
	"releasebot/internal/config"
	"releasebot/internal/signature"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	cancel()
	if err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfgPath string
	root := &cobra.Command{
		Use:           "releasebot",
		Short:         "Relay GitHub release webhooks to Telegram chats",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), cfgPath)
		},
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", "./config.json", "path to config (JSON or YAML)")

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the webhook server and retention sweep (default)",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runServe(cmd.Context(), cfgPath)
			},
		},
		&cobra.Command{
			Use:   "cleanup",
			Short: "Run one retention sweep and exit",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runCleanup(cmd.Context(), cmd.OutOrStdout(), cfgPath)
			},
		},
		newSignCmd(&cfgPath),
	)
	return root
}

func runServe(ctx context.Context, cfgPath string) error {
	a, err := app.New(cfgPath)
	if err != nil {
		return err
	}
	if err := a.Start(ctx); err != nil {
		a.Close()
		return err
	}

	<-a.Done()
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer stopCancel()
	if err := a.Stop(stopCtx); err != nil {
		return err
	}
	return a.Err()
}

func runCleanup(ctx context.Context, out io.Writer, cfgPath string) error {
	a, err := app.New(cfgPath)
	if err != nil {
		return err
	}
	defer a.Close()
	rep, err := a.Sweep(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "scanned=%d removed=%d kept=%d\n", rep.Scanned, rep.Removed, rep.Kept)
	return nil
}

// newSignCmd prints the X-Hub-Signature-256 value for a body, for replaying
// deliveries by hand.
func newSignCmd(cfgPath *string) *cobra.Command {
	var secret string
	cmd := &cobra.Command{
		Use:   "sign [file]",
		Short: "Print the webhook signature header for a request body (stdin when no file)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := readBody(cmd.InOrStdin(), args)
			if err != nil {
				return err
			}
			if secret == "" {
				m := config.NewManager(*cfgPath)
				if cfg, err := m.Load(); err == nil {
					secret = cfg.WebhookSecret
				}
			}
			if config.IsPlaceholder(secret) {
				return fmt.Errorf("no webhook secret: pass --secret or set webhook_secret")
			}
			fmt.Fprintln(cmd.OutOrStdout(), signature.Sign(body, secret))
			return nil
		},
	}
	cmd.Flags().StringVar(&secret, "secret", "", "webhook secret (default: from config)")
	return cmd
}

func readBody(stdin io.Reader, args []string) ([]byte, error) {
	if len(args) == 0 || args[0] == "-" {
		return io.ReadAll(stdin)
	}
	return os.ReadFile(args[0])
}
