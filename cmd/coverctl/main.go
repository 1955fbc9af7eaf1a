// Command coverctl runs the bridge operations from a terminal, straight
// against a Feishu table: export the Gaoding archive, inspect an image ZIP,
// or attach its images to the table records.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/hazyhaar/coverbridge/config"
	"github.com/hazyhaar/coverbridge/feishu"
)

type options struct {
	creds    feishu.Credentials
	baseURL  string
	timeout  time.Duration
	logLevel string
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:          "coverctl",
		Short:        "Feishu Bitable ↔ Gaoding cover tooling",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			lvl, err := config.ParseLevel(opts.logLevel)
			if err != nil {
				return err
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: lvl})))
			return nil
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&opts.creds.AppID, "app-id", os.Getenv("FEISHU_APP_ID"), "Feishu app ID (or FEISHU_APP_ID)")
	pf.StringVar(&opts.creds.AppSecret, "app-secret", os.Getenv("FEISHU_APP_SECRET"), "Feishu app secret (or FEISHU_APP_SECRET)")
	pf.StringVar(&opts.creds.AppToken, "app-token", os.Getenv("FEISHU_APP_TOKEN"), "Bitable app token (or FEISHU_APP_TOKEN)")
	pf.StringVar(&opts.creds.TableID, "table-id", os.Getenv("FEISHU_TABLE_ID"), "Bitable table ID (or FEISHU_TABLE_ID)")
	pf.StringVar(&opts.baseURL, "base-url", envOr("FEISHU_BASE_URL", feishu.DefaultBaseURL), "Open Platform base URL")
	pf.DurationVar(&opts.timeout, "timeout", 30*time.Second, "Per-request timeout")
	pf.StringVar(&opts.logLevel, "log-level", "warn", "debug, info, warn or error")

	root.AddCommand(newExportCmd(opts))
	root.AddCommand(newParseCmd())
	root.AddCommand(newUploadCmd(opts))
	return root
}

// client builds a table client from the flags.
func (o *options) client() (*feishu.Client, error) {
	cl, err := feishu.New(o.creds,
		feishu.WithBaseURL(o.baseURL),
		feishu.WithTimeout(o.timeout),
		feishu.WithLogger(slog.Default()),
	)
	if err != nil {
		return nil, fmt.Errorf("%w (set --app-id, --app-secret, --app-token, --table-id)", err)
	}
	return cl, nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
