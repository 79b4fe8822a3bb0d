package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/underwriter/internal/analysis"
	"github.com/sells-group/underwriter/internal/report"
)

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return eris.Wrap(enc.Encode(v), "encode json")
}

func addOutputFlags(cmd *cobra.Command) {
	cmd.Flags().Bool("json", false, "print the full result as JSON")
	cmd.Flags().StringSlice("set", nil, "session override param=value (repeatable)")
}

// -- valuate --

var valuateCmd = &cobra.Command{
	Use:   "valuate <deal-file>",
	Short: "Value a facility with the deal's effective parameters",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		deal, err := loadDeal(args[0])
		if err != nil {
			return err
		}
		env, err := initEnv(ctx, "recalc")
		if err != nil {
			return err
		}
		defer env.Close()

		sets, _ := cmd.Flags().GetStringSlice("set")
		req, err := deal.request(sets)
		if err != nil {
			return err
		}
		entry, err := env.Recalc.Recalculate(ctx, req)
		if err != nil {
			return eris.Wrap(err, "valuate")
		}

		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return printJSON(os.Stdout, entry)
		}
		fmt.Fprint(os.Stdout, report.FormatValuation(entry.Valuation))
		for _, r := range entry.Parameters.Rejected {
			fmt.Fprintf(os.Stderr, "ignored %s=%v: %s\n", r.Path, r.Value, r.Reason)
		}
		return nil
	},
}

// -- assess --

var assessCmd = &cobra.Command{
	Use:   "assess <deal-file>",
	Short: "Score deal risk and evaluate deal-breakers",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("local"); err != nil {
			return err
		}
		deal, err := loadDeal(args[0])
		if err != nil {
			return err
		}
		engine, err := newRiskEngine()
		if err != nil {
			return err
		}
		out := engine.Assess(deal.evalData())

		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return printJSON(os.Stdout, out)
		}
		fmt.Fprint(os.Stdout, report.FormatRisk(out))
		return nil
	},
}

// -- analyze --

var analyzeCmd = &cobra.Command{
	Use:   "analyze <deal-file>",
	Short: "Run the full analysis: CMS enrichment, risk, valuation and synthesis",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		deal, err := loadDeal(args[0])
		if err != nil {
			return err
		}
		env, err := initEnv(ctx, "recalc")
		if err != nil {
			return err
		}
		defer env.Close()

		sets, _ := cmd.Flags().GetStringSlice("set")
		inputs, err := parseSets(sets)
		if err != nil {
			return err
		}
		for k, v := range deal.Overrides {
			if _, ok := inputs[k]; !ok {
				inputs[k] = v
			}
		}

		quiet, _ := cmd.Flags().GetBool("quiet")
		progress := func(p analysis.Progress) {
			if !quiet {
				fmt.Fprintf(os.Stderr, "[%3d%%] %-13s %s\n", p.Percent, p.Stage, p.Message)
			}
		}

		res, err := env.Orchestrator().Run(ctx, analysis.Request{
			DealID:     deal.DealID,
			Extraction: deal.extraction(),
			Inputs:     inputs,
			AsOf:       deal.AsOf,
		}, progress)
		if err != nil {
			return eris.Wrap(err, "analyze")
		}
		zap.L().Info("analysis complete",
			zap.String("deal_id", deal.DealID),
			zap.String("analysis_id", res.AnalysisID),
			zap.Duration("duration", res.Duration),
		)

		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return printJSON(os.Stdout, res)
		}
		fmt.Fprint(os.Stdout, report.FormatAnalysis(res))
		return nil
	},
}

func init() {
	addOutputFlags(valuateCmd)
	assessCmd.Flags().Bool("json", false, "print the full result as JSON")
	addOutputFlags(analyzeCmd)
	analyzeCmd.Flags().BoolP("quiet", "q", false, "suppress progress output")

	rootCmd.AddCommand(valuateCmd, assessCmd, analyzeCmd)
}
