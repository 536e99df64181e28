package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"sigtrack/internal/app"
	"sigtrack/internal/signal"
	"sigtrack/internal/tracker"

	"github.com/spf13/cobra"
)

func newSubmitCmd() *cobra.Command {
	var (
		file      string
		raw       bool
		ownerID   int64
		timeframe string
	)
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a signal from a JSON file (strict draft or --raw generator payload)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			data, err := readInput(file)
			if err != nil {
				return err
			}
			return withApp(nil, func(a *app.App) error {
				var sig signal.Signal
				if raw {
					sig, err = a.Tracker().SubmitPayload(cmd.Context(), data, tracker.PayloadMeta{OwnerID: ownerID, Timeframe: timeframe})
				} else {
					var d signal.Draft
					if err := json.Unmarshal(data, &d); err != nil {
						return fmt.Errorf("decode draft: %w", err)
					}
					if d.OwnerID == 0 {
						d.OwnerID = ownerID
					}
					sig, err = a.Tracker().Submit(cmd.Context(), d)
				}
				if err != nil {
					return err
				}
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(sig)
			})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "JSON file, - for stdin")
	cmd.Flags().BoolVar(&raw, "raw", false, "treat the file as a raw generator payload")
	cmd.Flags().Int64Var(&ownerID, "owner", 0, "owner id")
	cmd.Flags().StringVar(&timeframe, "timeframe", "", "timeframe when the payload has none")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func readInput(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}
