package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/user/rag-service/internal/app"
	"github.com/user/rag-service/pkg/config"
	"github.com/user/rag-service/pkg/logger"
)

// globalOpts are the flags every command shares.
type globalOpts struct {
	tenantsFile string
	logLevel    string
}

func main() {
	var opts globalOpts
	root := &cobra.Command{
		Use:           "ragctl",
		Short:         "Operate the RAG service from the command line",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&opts.tenantsFile, "tenants", "t", "", "YAML tenant file synced into the store before the command runs")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn", "log level")

	root.AddCommand(
		migrateCMD(),
		tenantsCMD(&opts),
		crawlCMD(&opts),
		searchCMD(&opts),
		askCMD(&opts),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}

// openApp loads configuration and assembles the service for one command.
func openApp(ctx context.Context, opts *globalOpts) (*app.App, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	log, err := logger.New(opts.logLevel, "console")
	if err != nil {
		return nil, nil, err
	}
	a, err := app.New(ctx, cfg, log)
	if err != nil {
		return nil, nil, err
	}
	if opts.tenantsFile != "" {
		if _, err := syncTenantsFile(ctx, a.Tenants, opts.tenantsFile); err != nil {
			a.Close()
			return nil, nil, err
		}
	}
	return a, log, nil
}
