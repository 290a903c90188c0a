package cli

import (
	"context"
	"encoding/json"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var checkCommand = &cobra.Command{
	Use:   "check",
	Short: "Run one compliance and SLA sweep and print the summary",
	Long: `Evaluates every active job once, records the results and sends any
alerts, then prints the sweep summary as JSON. The command exits non-zero
when any job is non-compliant or could not be evaluated.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger := newLogger(cfg, os.Stderr)

		ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
		defer cancel()

		app, err := newApplication(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer app.Close()

		summary, err := app.engine.Sweep(ctx)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(summary); err != nil {
			return errors.Wrap(err, "writing summary")
		}

		if summary.NonCompliant > 0 || summary.Errored > 0 {
			return errors.Errorf("%d non-compliant and %d unevaluated jobs", summary.NonCompliant, summary.Errored)
		}
		return nil
	},
}

func init() {
	rootCommand.AddCommand(checkCommand)
}
