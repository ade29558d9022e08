package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/breakout/journal"
)

var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "Query the trade journal",
	Long: `Query closed trades from the SQLite journal.

Subcommands:
  trade  - Details of a specific trade by ID
  today  - Trades closed today
  day    - Trades closed on a specific day
  recent - The most recent trades with a summary

Examples:
  breakout journal trade <trade-id>
  breakout journal today
  breakout journal day 2026-03-02
  breakout journal recent -n 20`,
}

var journalTradeCmd = &cobra.Command{
	Use:   "trade <trade-id>",
	Short: "Get details of a specific trade",
	Args:  cobra.ExactArgs(1),
	RunE:  runJournalTrade,
}

var journalTodayCmd = &cobra.Command{
	Use:   "today",
	Short: "List trades closed today",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return listDay(cmd, time.Now().In(time.Local).Format("2006-01-02"))
	},
}

var journalDayCmd = &cobra.Command{
	Use:   "day <YYYY-MM-DD>",
	Short: "List trades closed on a specific day",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return listDay(cmd, args[0])
	},
}

var journalRecentCmd = &cobra.Command{
	Use:   "recent",
	Short: "List the most recent trades",
	Args:  cobra.NoArgs,
	RunE:  runJournalRecent,
}

var (
	journalDBPath  string
	journalRecentN int
)

func init() {
	rootCmd.AddCommand(journalCmd)
	journalCmd.AddCommand(journalTradeCmd)
	journalCmd.AddCommand(journalTodayCmd)
	journalCmd.AddCommand(journalDayCmd)
	journalCmd.AddCommand(journalRecentCmd)

	journalCmd.PersistentFlags().StringVarP(&journalDBPath, "db", "d", "", "path to SQLite journal DB (default from config)")
	journalRecentCmd.Flags().IntVarP(&journalRecentN, "count", "n", 10, "number of trades")
}

func openJournalDB() (*journal.SQLite, error) {
	path := journalDBPath
	if path == "" {
		cfg, err := loadConfig()
		if err != nil {
			return nil, err
		}
		if cfg.Journal.Type != "sqlite" {
			return nil, fmt.Errorf("journal queries need a sqlite journal, config has %q", cfg.Journal.Type)
		}
		path = cfg.Journal.Path
	}
	j, err := journal.NewSQLite(path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	return j, nil
}

func runJournalTrade(cmd *cobra.Command, args []string) error {
	j, err := openJournalDB()
	if err != nil {
		return err
	}
	defer j.Close()

	rec, err := j.GetTrade(args[0])
	if err != nil {
		return fmt.Errorf("get trade: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), journal.FormatTradeOrg(rec))
	return nil
}

func listDay(cmd *cobra.Command, day string) error {
	j, err := openJournalDB()
	if err != nil {
		return err
	}
	defer j.Close()

	start, end, err := dayBounds(time.Local, day)
	if err != nil {
		return fmt.Errorf("date: %w", err)
	}
	recs, err := j.ListTradesClosedBetween(start, end)
	if err != nil {
		return fmt.Errorf("query trades: %w", err)
	}
	printTrades(cmd, recs)
	return nil
}

func runJournalRecent(cmd *cobra.Command, args []string) error {
	j, err := openJournalDB()
	if err != nil {
		return err
	}
	defer j.Close()

	recs, err := j.Recent(journalRecentN)
	if err != nil {
		return fmt.Errorf("query trades: %w", err)
	}
	printTrades(cmd, recs)
	return nil
}

func printTrades(cmd *cobra.Command, recs []journal.TradeRecord) {
	out := cmd.OutOrStdout()
	if len(recs) == 0 {
		fmt.Fprintln(out, "no trades")
		return
	}
	fmt.Fprintln(out, journal.FormatTradesOrg(recs))
	s := journal.Summarize(recs)
	fmt.Fprintf(out, "\n%d trades, %d wins, %d losses, net %.2f", s.Trades, s.Wins, s.Losses, s.NetPL)
	if s.ProfitFactor > 0 {
		fmt.Fprintf(out, ", profit factor %.2f", s.ProfitFactor)
	}
	fmt.Fprintln(out)
}

func dayBounds(loc *time.Location, day string) (time.Time, time.Time, error) {
	t, err := time.ParseInLocation("2006-01-02", day, loc)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	start := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
	return start, start.AddDate(0, 0, 1), nil
}
