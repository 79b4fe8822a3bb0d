package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/underwriter/internal/config"
)

var cfg *config.Config

var (
	configFile string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "underwriter",
	Short: "Senior care acquisition underwriting",
	Long:  "Values skilled nursing, assisted living and independent living facilities, scores deal risk, and runs what-if analyses over deal parameters.",
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		c, err := config.Load(configFile)
		if err != nil {
			return eris.Wrap(err, "load config")
		}
		if logLevel != "" {
			c.Log.Level = logLevel
		}
		if err := config.InitLogger(c.Log); err != nil {
			return eris.Wrap(err, "init logger")
		}
		cfg = c
		zap.L().Debug("underwriter: config loaded",
			zap.String("command", cmd.CommandPath()),
			zap.String("store", cfg.Store.Driver),
			zap.String("cache", cfg.Recalc.CacheBackend),
		)
		return nil
	},
	PersistentPostRun: func(*cobra.Command, []string) {
		_ = zap.L().Sync()
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (default ./config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log.level (debug, info, warn, error)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
