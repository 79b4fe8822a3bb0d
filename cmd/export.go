package main

import (
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/underwriter/internal/recalc"
	"github.com/sells-group/underwriter/internal/report"
)

var exportCmd = &cobra.Command{
	Use:   "export <deal-file>",
	Short: "Write the valuation, risk and parameter workbook to XLSX",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		out, _ := cmd.Flags().GetString("output")

		deal, err := loadDeal(args[0])
		if err != nil {
			return err
		}
		if out == "" {
			out = deal.DealID + ".xlsx"
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
			return eris.Wrap(err, "export: recalc")
		}

		exp := report.Export{
			Title:      deal.Facility.Name,
			Valuation:  entry.Valuation,
			Risk:       env.Risk.Assess(deal.evalData()),
			Parameters: entry.Parameters,
		}

		if names, _ := cmd.Flags().GetStringSlice("tornado"); len(names) > 0 {
			inputs, err := tornadoInputs(names)
			if err != nil {
				return err
			}
			if exp.Tornado, err = env.Recalc.Tornado(ctx, req, inputs); err != nil {
				return eris.Wrap(err, "export: tornado")
			}
		}

		if file, _ := cmd.Flags().GetString("montecarlo"); file != "" {
			sim, err := loadSimulation(file)
			if err != nil {
				return err
			}
			var mc *recalc.MonteCarloResult
			if mc, err = env.Recalc.MonteCarlo(ctx, req, sim); err != nil {
				return eris.Wrap(err, "export: monte carlo")
			}
			exp.MonteCarlo = mc
		}

		if err := report.SaveWorkbook(out, exp); err != nil {
			return err
		}
		zap.L().Info("workbook written", zap.String("deal_id", deal.DealID), zap.String("path", out))
		fmt.Fprintf(os.Stdout, "wrote %s\n", out)
		return nil
	},
}

func init() {
	exportCmd.Flags().StringP("output", "o", "", "output path (default: <deal-id>.xlsx)")
	exportCmd.Flags().StringSlice("set", nil, "session override param=value (repeatable)")
	exportCmd.Flags().StringSlice("tornado", nil, "add a tornado sheet over these parameters")
	exportCmd.Flags().String("montecarlo", "", "add a Monte Carlo sheet from this simulation file")
	rootCmd.AddCommand(exportCmd)
}
