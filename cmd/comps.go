package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/underwriter/internal/fetcher"
	"github.com/sells-group/underwriter/internal/model"
	"github.com/sells-group/underwriter/internal/report"
	"github.com/sells-group/underwriter/internal/resilience"
	"github.com/sells-group/underwriter/internal/store"
)

var compsCmd = &cobra.Command{
	Use:   "comps",
	Short: "Import and list comparable sales",
}

var compsImportCmd = &cobra.Command{
	Use:   "import <file-or-url>",
	Short: "Import comparable sales from CSV, XLSX, JSON or a ZIP of them",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		opts, err := compOptions(cmd)
		if err != nil {
			return err
		}

		var imp *fetcher.CompImport
		src := args[0]
		if strings.HasPrefix(src, "http://") || strings.HasPrefix(src, "https://") {
			f := fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
				Timeout: time.Duration(cfg.CMS.TimeoutSecs) * time.Second,
				Retry:   resilience.FromConfig(cfg.Retry),
			})
			imp, err = fetcher.DownloadComparables(ctx, f, src, opts)
		} else {
			imp, err = fetcher.ReadComparables(ctx, src, opts)
		}
		if err != nil {
			return eris.Wrapf(err, "read comparables from %s", src)
		}
		for _, s := range imp.Skipped {
			fmt.Fprintf(os.Stderr, "row %d skipped: %s\n", s.Row, s.Reason)
		}

		if dry, _ := cmd.Flags().GetBool("dry-run"); dry {
			return writeComparables(imp.Comparables)
		}

		env, err := initEnv(ctx, "store")
		if err != nil {
			return err
		}
		defer env.Close()

		n, err := env.Store.UpsertComparables(ctx, imp.Comparables)
		if err != nil {
			return eris.Wrap(err, "store comparables")
		}
		zap.L().Info("comparables imported",
			zap.String("source", src),
			zap.Int64("imported", n),
			zap.Int("skipped", len(imp.Skipped)),
		)
		fmt.Fprintf(os.Stdout, "imported %d comparables (%d rows skipped)\n", n, len(imp.Skipped))
		return nil
	},
}

func compOptions(cmd *cobra.Command) (fetcher.CompOptions, error) {
	assetFlag, _ := cmd.Flags().GetString("asset-type")
	asset := model.AssetType(strings.ToUpper(assetFlag))
	if asset != "" && !asset.Valid() {
		return fetcher.CompOptions{}, eris.Errorf("invalid --asset-type %q", assetFlag)
	}
	source, _ := cmd.Flags().GetString("source")
	sheet, _ := cmd.Flags().GetString("sheet")
	return fetcher.CompOptions{DefaultAssetType: asset, Source: source, Sheet: sheet}, nil
}

var compsLsCmd = &cobra.Command{
	Use:     "ls",
	Aliases: []string{"list"},
	Short:   "List stored comparable sales, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		assetFlag, _ := cmd.Flags().GetString("asset-type")
		state, _ := cmd.Flags().GetString("state")
		limit, _ := cmd.Flags().GetInt("limit")
		filter := store.CompFilter{
			AssetType: model.AssetType(strings.ToUpper(assetFlag)),
			State:     strings.ToUpper(state),
			Limit:     limit,
		}

		env, err := initEnv(ctx, "store")
		if err != nil {
			return err
		}
		defer env.Close()

		comps, err := env.Store.ListComparables(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "list comparables")
		}
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return printJSON(os.Stdout, comps)
		}
		return writeComparables(comps)
	},
}

func writeComparables(comps []model.ComparableSale) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tASSET\tSTATE\tBEDS\tPRICE\tPER BED\tCAP RATE\tSOLD")
	for _, c := range comps {
		capRate := "-"
		if c.CapRate > 0 {
			capRate = report.Rate(c.CapRate)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\t%s\t%s\n",
			c.Name, c.AssetType, c.State, c.Beds,
			report.Currency(c.Price), report.Currency(c.PricePerBed), capRate,
			c.SaleDate.Format("2006-01-02"))
	}
	return w.Flush()
}

func init() {
	compsImportCmd.Flags().String("asset-type", "", "asset type for rows without one (SNF, ALF or ILF)")
	compsImportCmd.Flags().String("source", "", "source label; re-imports with the same label update rows")
	compsImportCmd.Flags().String("sheet", "", "XLSX worksheet name (default: first sheet)")
	compsImportCmd.Flags().Bool("dry-run", false, "parse and print without storing")

	compsLsCmd.Flags().String("asset-type", "", "filter by asset type")
	compsLsCmd.Flags().String("state", "", "filter by two-letter state")
	compsLsCmd.Flags().Int("limit", 50, "maximum rows")
	compsLsCmd.Flags().Bool("json", false, "print as JSON")

	compsCmd.AddCommand(compsImportCmd, compsLsCmd)
	rootCmd.AddCommand(compsCmd)
}
