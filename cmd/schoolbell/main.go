// Command schoolbell runs the bell engine and offers data maintenance commands.
//
// Usage:
//
//	schoolbell serve --config ./config.yaml
//	schoolbell school create --name "North High"
//	schoolbell token --school <id> --user admin@north
//	schoolbell generate --start 08:30 --lessons 45/10,45/15,45/0 --day Monday
//	schoolbell export --schedule <id> --out week.xlsx
//	schoolbell migrate
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"schoolbell/internal/app"
	"schoolbell/internal/config"
	logx "schoolbell/pkg/logx"
)

func main() {
	// Load .env if present
	_ = godotenv.Load(".env")

	var cfgPath string
	root := &cobra.Command{
		Use:           "schoolbell",
		Short:         "Per-school bell scheduling engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", "./config.yaml", "path to config file (yaml or json)")

	root.AddCommand(serveCmd(&cfgPath))
	root.AddCommand(schoolCmd(&cfgPath))
	root.AddCommand(tokenCmd(&cfgPath))
	root.AddCommand(generateCmd(&cfgPath))
	root.AddCommand(exportCmd(&cfgPath))
	root.AddCommand(migrateCmd(&cfgPath))

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func serveCmd(cfgPath *string) *cobra.Command {
	var stopTimeout time.Duration
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler, dispatcher and HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
			defer signal.Stop(sigCh)

			a, err := app.NewApp(*cfgPath)
			if err != nil {
				return err
			}
			if err := a.Start(context.Background()); err != nil {
				stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
				defer cancel()
				_ = a.Stop(stopCtx, app.StopFatalError)
				return fmt.Errorf("start: %w", err)
			}

			reason := app.StopAppStop
			select {
			case sig := <-sigCh:
				reason = app.ReasonForSignal(sig)
			case <-a.Done():
				reason = app.StopFatalError
			}
			runErr := a.Err()

			stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
			defer cancel()
			if err := a.Stop(stopCtx, reason); err != nil {
				return errors.Join(runErr, err)
			}
			return runErr
		},
	}
	cmd.Flags().DurationVar(&stopTimeout, "stop-timeout", 10*time.Second, "upper bound for graceful shutdown")
	return cmd
}

// loadConfig reads the file once, without watching it.
func loadConfig(path string) (*config.Config, error) {
	return config.NewConfigManager(path).Load()
}

func cliLogger() logx.Logger {
	return logx.NewConsole("warn").With(logx.String("comp", "cli"))
}
