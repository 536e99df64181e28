package main

import (
	"fmt"
	"io"
	"os"

	"sigtrack/internal/app"
	"sigtrack/internal/logger"
	"sigtrack/internal/report"

	"github.com/spf13/cobra"
)

func newExportTransitionsCmd() *cobra.Command {
	var (
		flags  filterFlags
		id     string
		output string
	)
	cmd := &cobra.Command{
		Use:   "export-transitions",
		Short: "Export the outcome transition log as CSV",
		RunE: func(cmd *cobra.Command, _ []string) error {
			f, err := flags.filter()
			if err != nil {
				return err
			}
			cfg, closeLog, err := loadConfig()
			if err != nil {
				return err
			}
			defer closeLog()
			r, err := report.Open(cfg.Store.Path)
			if err != nil {
				return err
			}
			defer r.Close()
			rows, err := r.Transitions(cmd.Context(), report.Filter{
				SignalID:  id,
				Symbol:    f.Symbol,
				Timeframe: f.Timeframe,
				Since:     f.Since,
				Until:     f.Until,
			})
			if err != nil {
				return err
			}
			w, done, err := openOutput(output)
			if err != nil {
				return err
			}
			defer done()
			if err := report.WriteTransitionsCSV(w, rows); err != nil {
				return fmt.Errorf("write csv: %w", err)
			}
			logger.Infof("exported %d transitions", len(rows))
			return nil
		},
	}
	flags.bind(cmd)
	// 迁移日志不记录 owner，limit 只作用于排行
	_ = cmd.Flags().MarkHidden("owner")
	_ = cmd.Flags().MarkHidden("limit")
	cmd.Flags().StringVar(&id, "id", "", "only this signal")
	cmd.Flags().StringVarP(&output, "output", "o", "-", "output file, - for stdout")
	return cmd
}

func newReportChartCmd() *cobra.Command {
	var (
		flags  filterFlags
		output string
	)
	cmd := &cobra.Command{
		Use:   "report-chart",
		Short: "Render the confidence calibration chart as HTML",
		RunE: func(cmd *cobra.Command, _ []string) error {
			f, err := flags.filter()
			if err != nil {
				return err
			}
			return withApp(nil, func(a *app.App) error {
				rep, err := a.Tracker().Stats(cmd.Context(), f)
				if err != nil {
					return err
				}
				w, done, err := openOutput(output)
				if err != nil {
					return err
				}
				defer done()
				title := fmt.Sprintf("Confidence calibration (%d decided)", rep.Summary.Decided())
				return report.RenderCalibration(w, title, rep.Calibration)
			})
		},
	}
	flags.bind(cmd)
	cmd.Flags().StringVarP(&output, "output", "o", "calibration.html", "output file, - for stdout")
	return cmd
}

func openOutput(path string) (io.Writer, func(), error) {
	if path == "" || path == "-" {
		return os.Stdout, func() {}, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, err
	}
	return f, func() { _ = f.Close() }, nil
}
