package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"sigtrack/internal/app"
	"sigtrack/internal/config"

	"github.com/spf13/cobra"
)

func newEvaluateCmd() *cobra.Command {
	var id string
	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Evaluate one signal (--id) or run a single pass over all non-terminal signals",
		RunE: func(cmd *cobra.Command, _ []string) error {
			// 单次执行总是需要队列
			enable := func(c *config.Config) { c.Scheduler.Enabled = true }
			return withApp(enable, func(a *app.App) error {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				if id != "" {
					out, err := a.Tracker().Evaluate(cmd.Context(), id, time.Now().UTC())
					if err != nil {
						return fmt.Errorf("evaluate %s: %w", id, err)
					}
					return enc.Encode(out)
				}
				rep, err := a.Queue().RunPass(cmd.Context())
				if err != nil {
					return err
				}
				return enc.Encode(rep)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "signal id (default: all non-terminal signals)")
	return cmd
}
