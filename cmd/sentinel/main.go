package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/samvad-hq/sentinel-go/internal/config"
	"github.com/samvad-hq/sentinel-go/internal/logger"
	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "sentinel: %v\n", err)
		os.Exit(1)
	}
}

// env carries what every subcommand needs once config is loaded.
type env struct {
	cfg *config.Config
	log *logger.Zap
	out io.Writer
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	e := &env{out: stdout}

	root := &cobra.Command{
		Use:           "sentinel",
		Short:         "Client for the Sentinel threat analysis and policy validation API",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			e.cfg = cfg
			e.log = logger.New(cfg.LogLevel, stderr)
			e.log.DebugObj("config loaded", "config", cfg.Redacted())
			return nil
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			_ = e.log.Sync()
		},
	}
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	root.AddCommand(
		newAnalyzeCmd(e),
		newValidateCmd(e),
		newChatCmd(e),
		newHealthCmd(e),
		newVersionCmd(e),
		newScanCmd(e),
	)

	return root.ExecuteContext(ctx)
}
