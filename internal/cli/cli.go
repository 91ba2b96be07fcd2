package cli

import (
	"context"

	"github.com/sportball/sidecar/internal/app"

	"github.com/spf13/cobra"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
)

var rootCmd = &cobra.Command{
	Use:   "sidecar",
	Short: "Manage image sidecar metadata files across formats",
}

// Execute runs the CLI.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		logutil.GetLogger(context.Background()).Error("exec cmd failed", zap.Error(err))
		return err
	}
	return nil
}

func init() {
	for _, name := range app.RunnerList() {
		runner := app.MustResolveRunner(name)
		subcmd := &cobra.Command{
			Use:   runner.Name(),
			Short: runner.Desc(),
			RunE: func(cmd *cobra.Command, args []string) error {
				ctx := commandContext(cmd)
				if err := runner.PreRun(ctx); err != nil {
					return err
				}
				if err := runner.Run(ctx); err != nil {
					return err
				}
				return runner.PostRun(ctx)
			},
		}
		runner.Init(subcmd.Flags())
		rootCmd.AddCommand(subcmd)
	}
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
