package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/daz2208/adaptive-memory/internal/feedback"
	"github.com/daz2208/adaptive-memory/internal/model"
)

func init() {
	cmd := &cobra.Command{
		Use:   "correct",
		Short: "Correct a wrong behavior",
		Long:  "Record an explicit correction. The corrected behavior becomes an explicit preference and everything that implied the wrong behavior is weakened.",
		Run:   runCorrect,
	}

	cmd.Flags().String("wrong", "", "The behavior that was wrong")
	cmd.Flags().String("right", "", "The behavior that should happen instead (required)")
	cmd.Flags().String("tone", "", "Optional tone annotation")
	cmd.MarkFlagRequired("right")

	RootCmd.AddCommand(cmd)
}

func runCorrect(cmd *cobra.Command, args []string) {
	wrong, _ := cmd.Flags().GetString("wrong")
	right, _ := cmd.Flags().GetString("right")
	tone, _ := cmd.Flags().GetString("tone")

	s, cfg, logger, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	in := feedback.New(s, cfg, logger)
	updates, err := in.Integrate(cmd.Context(), model.FeedbackEvent{
		Kind:       model.FeedbackCorrection,
		Correction: &model.Correction{Wrong: wrong, Right: right, Tone: tone},
	})
	if err != nil {
		exitErr("correct", err)
	}

	b, _ := json.MarshalIndent(updates, "", "  ")
	fmt.Println(string(b))
}
