package main

import (
	"fmt"
	"time"

	"github.com/lisuiheng/hulaloop-go/core"
	"github.com/spf13/cobra"
)

func recordCommand(cfg *core.Config) *cobra.Command {
	var (
		delay    time.Duration
		duration time.Duration
		output   string
	)
	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record system audio to a WAV file",
		Long:  "Record from the active input device, then export the take to --output. Without --duration the recording runs until interrupted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), *cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			tr := a.transport
			if duration <= 0 {
				duration = core.InfiniteRecord
			}
			if !tr.Record(delay, duration) {
				return fmt.Errorf("failed to start recording: %w", tr.LastError())
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Recording... press Ctrl+C to stop")

			var timeout <-chan time.Time
			if duration > 0 {
				timer := time.NewTimer(delay + duration)
				defer timer.Stop()
				timeout = timer.C
			}
			select {
			case <-cmd.Context().Done():
			case <-timeout:
			}

			if !tr.Stop() {
				return fmt.Errorf("failed to stop recording: %w", tr.LastError())
			}
			if err := tr.ExportFile(output); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Saved %s\n", output)
			tr.Discard()
			return nil
		},
	}
	cmd.Flags().DurationVar(&delay, "delay", 0, "Discard audio captured during this initial delay")
	cmd.Flags().DurationVar(&duration, "duration", 0, "Recording length, 0 records until interrupted")
	cmd.Flags().StringVarP(&output, "output", "o", "recording.wav", "Exported WAV file")
	return cmd
}
