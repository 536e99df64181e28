package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"sigtrack/internal/app"
	"sigtrack/internal/stats"
	"sigtrack/internal/store"

	"github.com/spf13/cobra"
)

type filterFlags struct {
	symbol    string
	timeframe string
	ownerID   int64
	since     string
	until     string
	limit     int
}

func (f *filterFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.symbol, "symbol", "", "symbol filter")
	cmd.Flags().StringVar(&f.timeframe, "timeframe", "", "timeframe filter")
	cmd.Flags().Int64Var(&f.ownerID, "owner", 0, "owner id filter")
	cmd.Flags().StringVar(&f.since, "since", "", "window start (RFC3339 or 2006-01-02)")
	cmd.Flags().StringVar(&f.until, "until", "", "window end (RFC3339 or 2006-01-02)")
	cmd.Flags().IntVar(&f.limit, "limit", 5, "best/worst list length")
}

func (f *filterFlags) filter() (stats.Filter, error) {
	out := stats.Filter{
		Filter: store.Filter{Symbol: f.symbol, Timeframe: f.timeframe, OwnerID: f.ownerID},
		Limit:  f.limit,
	}
	var err error
	if out.Since, err = parseFlagTime("since", f.since); err != nil {
		return out, err
	}
	if out.Until, err = parseFlagTime("until", f.until); err != nil {
		return out, err
	}
	return out, nil
}

func parseFlagTime(name, v string) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if ts, err := time.Parse(layout, v); err == nil {
			ts = ts.UTC()
			return &ts, nil
		}
	}
	return nil, fmt.Errorf("--%s: cannot parse %q", name, v)
}

func newStatsCmd() *cobra.Command {
	var flags filterFlags
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Print performance statistics as JSON",
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
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(rep)
			})
		},
	}
	flags.bind(cmd)
	return cmd
}
