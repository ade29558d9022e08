package cmd

import (
	"github.com/spf13/cobra"

	"github.com/rustyeddy/breakout/config"
)

var rootCmd = &cobra.Command{
	Use:   "breakout",
	Short: "Channel breakout trading bot for OANDA",
	Long: `Breakout trades channel breakouts on a single instrument through OANDA.

It watches completed candles and live prices for breaks of the recent
high/low channel, refines entries on pullbacks, and manages the open
position with staged take-profit and a trailing stop.

Credentials are read from the environment (or a .env file):
  OANDA_TOKEN, OANDA_ACCOUNT_ID, TELEGRAM_TOKEN, DISCORD_WEBHOOK`,
	SilenceUsage: true,
}

var cfgPath string

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "path to config file (YAML or JSON); defaults apply when empty")
}

func loadConfig() (*config.Config, error) {
	return config.Load(cfgPath)
}
