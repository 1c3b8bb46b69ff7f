package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/katbot/modgate/core/pipeline"
	"github.com/katbot/modgate/core/schema/validate"
	schemamod "github.com/katbot/modgate/core/schema/v1/modification"
)

func newValidateCmd(c *cli) *cobra.Command {
	var (
		contextPath     string
		observationPath string
		stage           string
		stages          []string
	)

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Run a modification through the validation pipeline",
		Long: `Validate reads a modification context document (JSON), runs it through
the configured pipeline, and writes the validation report to stdout.

The exit code carries the verdict: 0 when the change can proceed, 2 when it
is blocked, 3 when it is held for human review.`,
		Example: `  modgate validate --context change.json
  cat change.json | modgate validate --stage post --observation trial.json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readInput(contextPath)
			if err != nil {
				return fmt.Errorf("read context: %w", err)
			}
			mctx, err := validate.ParseContext(data)
			if err != nil {
				return fmt.Errorf("parse context: %w", err)
			}

			var obs *schemamod.RuntimeObservation
			if observationPath != "" {
				raw, err := readInput(observationPath)
				if err != nil {
					return fmt.Errorf("read observation: %w", err)
				}
				obs = &schemamod.RuntimeObservation{}
				if err := json.Unmarshal(raw, obs); err != nil {
					return fmt.Errorf("parse observation: %w", err)
				}
			}

			p := pipeline.New(c.cfg, pipeline.WithLogger(c.logger))
			ctx := cmd.Context()

			var report schemamod.ValidationReport
			switch {
			case len(stages) > 0:
				report, err = p.RunCustom(ctx, mctx, obs, stages)
			case stage == "pre":
				report, err = p.RunPreModification(ctx, mctx)
			case stage == "post":
				report, err = p.RunPostModification(ctx, mctx, obs)
			default:
				return fmt.Errorf("unknown stage %q (want pre or post)", stage)
			}
			if err != nil {
				return err
			}
			if err := printJSON(cmd.OutOrStdout(), report); err != nil {
				return err
			}
			if !report.CanProceed {
				if report.RecommendedAction == schemamod.ActionReject {
					return &exitError{code: exitBlocked, msg: "modification blocked"}
				}
				return &exitError{code: exitReviewRequired, msg: "modification held for human review"}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&contextPath, "context", "-", "modification context JSON file (- for stdin)")
	cmd.Flags().StringVar(&observationPath, "observation", "", "runtime observation JSON file for post-stage validation")
	cmd.Flags().StringVar(&stage, "stage", "pre", "validation phase: pre or post")
	cmd.Flags().StringSliceVar(&stages, "stages", nil, "explicit pipeline stages to run, overriding --stage")
	return cmd
}
