package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/underwriter/internal/model"
)

var presetCmd = &cobra.Command{
	Use:   "preset",
	Short: "Manage named parameter presets",
}

var presetImportCmd = &cobra.Command{
	Use:   "import <file.yaml>",
	Short: "Import a preset from a YAML settings file",
	Long: `Imports a partial settings document as a named preset. Deals select it
with: underwriter override set <deal-id> preset.name <name>`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		data, err := os.ReadFile(args[0])
		if err != nil {
			return eris.Wrap(err, "read preset file")
		}

		name, _ := cmd.Flags().GetString("name")
		if name == "" {
			name = strings.TrimSuffix(filepath.Base(args[0]), filepath.Ext(args[0]))
		}
		desc, _ := cmd.Flags().GetString("description")
		by, _ := cmd.Flags().GetString("by")
		assetFlag, _ := cmd.Flags().GetString("asset-type")
		asset := model.AssetType(strings.ToUpper(assetFlag))
		if asset != "" && !asset.Valid() {
			return eris.Errorf("invalid --asset-type %q", assetFlag)
		}

		env, err := initEnv(ctx, "store")
		if err != nil {
			return err
		}
		defer env.Close()

		p, err := env.Resolver.ImportPresetYAML(ctx, name, desc, asset, data, by)
		if err != nil {
			return eris.Wrap(err, "import preset")
		}
		zap.L().Info("preset imported", zap.String("name", p.Name), zap.String("id", p.ID))
		fmt.Fprintf(os.Stdout, "imported preset %s\n", p.Name)
		return nil
	},
}

var presetLsCmd = &cobra.Command{
	Use:     "ls",
	Aliases: []string{"list"},
	Short:   "List presets",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx, "store")
		if err != nil {
			return err
		}
		defer env.Close()

		presets, err := env.Store.ListPresets(ctx)
		if err != nil {
			return eris.Wrap(err, "list presets")
		}
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return printJSON(os.Stdout, presets)
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tASSET\tCREATED BY\tCREATED\tDESCRIPTION")
		for _, p := range presets {
			asset := string(p.AssetType)
			if asset == "" {
				asset = "-"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
				p.Name, asset, p.CreatedBy, p.CreatedAt.Format("2006-01-02"), p.Description)
		}
		return w.Flush()
	},
}

func init() {
	presetImportCmd.Flags().String("name", "", "preset name (default: file name)")
	presetImportCmd.Flags().String("description", "", "preset description")
	presetImportCmd.Flags().String("asset-type", "", "restrict the preset to SNF, ALF or ILF")
	presetImportCmd.Flags().String("by", "cli", "who imported the preset")
	presetLsCmd.Flags().Bool("json", false, "print as JSON")

	presetCmd.AddCommand(presetImportCmd, presetLsCmd)
	rootCmd.AddCommand(presetCmd)
}
