package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/songzhibin97/quantaguard/internal/models"
	"github.com/songzhibin97/quantaguard/internal/risk"
)

var decisionLimit int

var decisionsCmd = &cobra.Command{
	Use:   "decisions",
	Short: "Print the most recent agent decisions",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := bootstrap()
		if err != nil {
			return err
		}
		defer logger.Sync()

		store, err := openStorage(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		records, err := store.RecentDecisions(cmd.Context(), decisionLimit)
		if err != nil {
			return err
		}
		renderDecisions(os.Stdout, records)
		return nil
	},
}

var riskCmd = &cobra.Command{
	Use:   "risk",
	Short: "Print the effective risk configuration and the context seeded from history",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := bootstrap()
		if err != nil {
			return err
		}
		defer logger.Sync()

		ctx := cmd.Context()
		store, err := openStorage(ctx, cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		now := time.Now()
		dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
		value, _, err := store.DayOpeningValue(ctx, dayStart)
		if err != nil {
			logger.Warn("no day opening value, daily pnl pct stays zero", zap.Error(err))
		}

		rm := risk.NewBasicRiskManager(risk.NewEngine(cfg.Risk, risk.DefaultRules(), logger), logger)
		rm.Seed(ctx, store, value)
		renderRisk(os.Stdout, rm.Config(), rm.Snapshot())
		return nil
	},
}

func init() {
	decisionsCmd.Flags().IntVarP(&decisionLimit, "limit", "n", 20, "number of decisions")
}

func renderDecisions(w io.Writer, records []models.DecisionRecord) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle("RECENT DECISIONS")
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"ID", "Time", "Action", "Conf", "OK", "Dry", "Tx", "Reasoning"})

	for _, r := range records {
		status := "yes"
		if !r.Success {
			status = "no"
			if r.Error != "" {
				status = "no: " + r.Error
			}
		}
		t.AppendRow(table.Row{
			r.ID,
			r.CreatedAt.Local().Format("01-02 15:04:05"),
			r.Action,
			fmt.Sprintf("%.2f", r.Confidence),
			status,
			r.DryRun,
			r.TxRef,
			strings.ReplaceAll(r.Reasoning, "\n", " "),
		})
	}
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 4, Align: text.AlignRight},
		{Number: 5, WidthMax: 30},
		{Number: 7, WidthMax: 20},
		{Number: 8, WidthMax: 60},
	})
	t.AppendFooter(table.Row{"", "", "", "", "", "", "Total", len(records)})
	t.Render()
}

func renderRisk(w io.Writer, cfg risk.Config, rc risk.Context) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle("RISK")
	t.SetStyle(table.StyleRounded)

	t.AppendRows([]table.Row{
		{"Max position size", fmt.Sprintf("%.2f%%", cfg.MaxPositionSizePct*100)},
		{"Perp stop-loss", fmt.Sprintf("%.2f%%", cfg.PerpStopLossPct*100)},
		{"Max leverage", fmt.Sprintf("%.1fx", cfg.MaxLeverage)},
		{"Daily loss limit", fmt.Sprintf("%.2f%%", cfg.DailyLossLimitPct*100)},
		{"Min reserve balance", fmt.Sprintf("%.4f", cfg.MinReserveBalance)},
		{"Cooldown after losses", cfg.CooldownAfterLosses},
	})
	t.AppendSeparator()
	t.AppendRows([]table.Row{
		{"Daily P&L", fmt.Sprintf("$%.2f", rc.DailyPnl)},
		{"Daily P&L pct", fmt.Sprintf("%.2f%%", rc.DailyPnlPct*100)},
		{"Consecutive losses", rc.ConsecutiveLosses},
		{"Day", rc.Day.Format("2006-01-02")},
	})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, WidthMin: 22, Align: text.AlignLeft},
		{Number: 2, Align: text.AlignRight},
	})
	t.Render()
}
