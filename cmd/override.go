package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/underwriter/internal/model"
)

var overrideCmd = &cobra.Command{
	Use:   "override",
	Short: "Manage persistent deal parameter overrides",
}

var overrideSetCmd = &cobra.Command{
	Use:   "set <deal-id> <param> <value>",
	Short: "Save an override, e.g. set deal-42 cap_rate.base_rate.snf 0.13",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx, "store")
		if err != nil {
			return err
		}
		defer env.Close()

		by, _ := cmd.Flags().GetString("by")
		reason, _ := cmd.Flags().GetString("reason")
		o, err := env.Resolver.SaveOverride(ctx, args[0], args[1], args[2], by, reason)
		if err != nil {
			return eris.Wrap(err, "save override")
		}
		zap.L().Info("override saved",
			zap.String("deal_id", o.DealID),
			zap.String("param", o.Path()),
			zap.String("by", by),
		)
		fmt.Fprintf(os.Stdout, "%s = %s\n", o.Path(), o.Value)
		return nil
	},
}

var overrideRmCmd = &cobra.Command{
	Use:     "rm <deal-id> <param>",
	Aliases: []string{"remove"},
	Short:   "Deactivate an override; the parameter falls back to its preset or default",
	Args:    cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx, "store")
		if err != nil {
			return err
		}
		defer env.Close()

		by, _ := cmd.Flags().GetString("by")
		if err := env.Resolver.RemoveOverride(ctx, args[0], args[1], by); err != nil {
			return eris.Wrap(err, "remove override")
		}
		fmt.Fprintf(os.Stdout, "removed %s\n", args[1])
		return nil
	},
}

var overrideLsCmd = &cobra.Command{
	Use:     "ls <deal-id>",
	Aliases: []string{"list"},
	Short:   "List a deal's overrides",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx, "store")
		if err != nil {
			return err
		}
		defer env.Close()

		history, _ := cmd.Flags().GetBool("history")
		rows, err := env.Resolver.Overrides(ctx, args[0], history)
		if err != nil {
			return eris.Wrap(err, "list overrides")
		}
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return printJSON(os.Stdout, rows)
		}
		if len(rows) == 0 {
			fmt.Fprintln(os.Stdout, "no overrides")
			return nil
		}
		return writeOverrides(rows)
	},
}

func writeOverrides(rows []model.ParameterOverride) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PARAM\tVALUE\tACTIVE\tUPDATED BY\tUPDATED\tREASON")
	for _, o := range rows {
		fmt.Fprintf(w, "%s\t%s\t%t\t%s\t%s\t%s\n",
			o.Path(), o.Value, o.Active, o.UpdatedBy, o.UpdatedAt.Format("2006-01-02 15:04"), o.Reason)
	}
	return w.Flush()
}

func init() {
	overrideSetCmd.Flags().String("by", "cli", "who made the change")
	overrideSetCmd.Flags().String("reason", "", "why the value differs from the default")
	overrideRmCmd.Flags().String("by", "cli", "who made the change")
	overrideLsCmd.Flags().Bool("history", false, "include deactivated overrides")
	overrideLsCmd.Flags().Bool("json", false, "print as JSON")

	overrideCmd.AddCommand(overrideSetCmd, overrideRmCmd, overrideLsCmd)
	rootCmd.AddCommand(overrideCmd)
}
