package cli

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/daz2208/adaptive-memory/internal/feedback"
	"github.com/daz2208/adaptive-memory/internal/model"
)

func init() {
	cmd := &cobra.Command{
		Use:   "observe [dimension] [value]",
		Short: "Record a behavioral observation",
		Long:  "Record one behavioral trace. A single observation never changes learned state; a trend only forms once the same value repeats enough times inside the window.",
		Args:  cobra.ExactArgs(2),
		Run:   runObserve,
	}

	cmd.Flags().Duration("window", 0, "Trend window (default: configured lookback)")

	RootCmd.AddCommand(cmd)
}

func runObserve(cmd *cobra.Command, args []string) {
	window, _ := cmd.Flags().GetDuration("window")

	s, cfg, logger, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	in := feedback.New(s, cfg, logger)
	updates, err := in.Integrate(cmd.Context(), model.FeedbackEvent{
		Kind:       model.FeedbackObservation,
		OccurredAt: time.Now().UTC(),
		Observation: &model.BehavioralObservation{
			Dimension: args[0],
			Value:     args[1],
			Window:    window,
		},
	})
	if err != nil {
		exitErr("observe", err)
	}

	if len(updates) == 0 {
		fmt.Println("[]")
		return
	}
	b, _ := json.MarshalIndent(updates, "", "  ")
	fmt.Println(string(b))
}
