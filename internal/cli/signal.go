package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/daz2208/adaptive-memory/internal/feedback"
	"github.com/daz2208/adaptive-memory/internal/model"
)

func init() {
	cmd := &cobra.Command{
		Use:   "signal [suggestion]",
		Short: "Record a reaction to a suggestion",
		Long:  "Record how a delivered suggestion was received. Accepted suggestions reinforce the pattern, ignored ones decay it, modified ones split kept from removed portions.",
		Args:  cobra.MinimumNArgs(1),
		Run:   runSignal,
	}

	cmd.Flags().StringP("outcome", "o", "", "Outcome: accepted, modified, ignored (required)")
	cmd.Flags().String("kept", "", "Portion kept after modification")
	cmd.Flags().String("removed", "", "Portion removed after modification")
	cmd.MarkFlagRequired("outcome")

	RootCmd.AddCommand(cmd)
}

func runSignal(cmd *cobra.Command, args []string) {
	outcome, _ := cmd.Flags().GetString("outcome")
	kept, _ := cmd.Flags().GetString("kept")
	removed, _ := cmd.Flags().GetString("removed")
	suggestion := strings.Join(args, " ")

	s, cfg, logger, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	in := feedback.New(s, cfg, logger)
	updates, err := in.Integrate(cmd.Context(), model.FeedbackEvent{
		Kind: model.FeedbackImplicit,
		Implicit: &model.ImplicitSignal{
			SuggestionID:   suggestion,
			Outcome:        model.Outcome(outcome),
			KeptPortion:    kept,
			RemovedPortion: removed,
		},
	})
	if err != nil {
		exitErr("signal", err)
	}

	b, _ := json.MarshalIndent(updates, "", "  ")
	fmt.Println(string(b))
}
