package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/breakout/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Generate or validate configuration files",
	Long: `Manage configuration files.

Subcommands:
  init     - Generate a default configuration file
  validate - Validate the configuration (file, .env and environment)

Examples:
  breakout config init -o breakout.yaml
  breakout config validate -c breakout.yaml`,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Generate a default configuration file",
	Args:  cobra.NoArgs,
	RunE:  runConfigInit,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration",
	Args:  cobra.NoArgs,
	RunE:  runConfigValidate,
}

var (
	configInitOutput    string
	configValidateCreds bool
)

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configValidateCmd)

	configInitCmd.Flags().StringVarP(&configInitOutput, "output", "o", "breakout.yaml", "output config file path")
	configValidateCmd.Flags().BoolVar(&configValidateCreds, "credentials", false, "also require broker credentials")
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	cfg := config.Default()
	if err := cfg.SaveToFile(configInitOutput); err != nil {
		return fmt.Errorf("save config: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "✓ Created default configuration: %s\n", configInitOutput)
	fmt.Fprintln(out, "\nSet OANDA_TOKEN and OANDA_ACCOUNT_ID, then run with:")
	fmt.Fprintf(out, "  breakout run -c %s\n", configInitOutput)
	return nil
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	if configValidateCreds {
		if err := cfg.ValidateCredentials(); err != nil {
			return fmt.Errorf("validation failed: %w", err)
		}
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "✓ Configuration valid\n")
	fmt.Fprintf(out, "  Instrument: %s (%s / %s)\n", cfg.Instrument, cfg.Timeframes.Signal, cfg.Timeframes.Pullback)
	fmt.Fprintf(out, "  Broker: %s (%s)\n", cfg.Broker.Type, cfg.Broker.Environment)
	if cfg.Position.RiskPercent > 0 {
		fmt.Fprintf(out, "  Sizing: %.2f%% risk\n", cfg.Position.RiskPercent)
	} else {
		fmt.Fprintf(out, "  Sizing: %g units\n", cfg.Position.Units)
	}
	fmt.Fprintf(out, "  State: %s\n", cfg.State.Type)
	fmt.Fprintf(out, "  Journal: %s\n", cfg.Journal.Type)
	return nil
}
