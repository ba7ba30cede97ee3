package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/daz2208/adaptive-memory/internal/align"
	"github.com/daz2208/adaptive-memory/internal/engine"
	"github.com/daz2208/adaptive-memory/internal/model"
)

func init() {
	cmd := &cobra.Command{
		Use:   "decide [stimulus]",
		Short: "Resolve a stimulus into a decision",
		Long:  "Run the full deliberation for a stimulus: retrieve relevant state, score confidence, gate the candidate action, and resolve an action mode.",
		Args:  cobra.MinimumNArgs(1),
		Run:   runDecide,
	}

	cmd.Flags().String("stakes", "normal", "Stakes: low, normal, high")
	cmd.Flags().StringSliceP("tag", "t", nil, "Stimulus tags")

	RootCmd.AddCommand(cmd)
}

func runDecide(cmd *cobra.Command, args []string) {
	stakes, _ := cmd.Flags().GetString("stakes")
	tags, _ := cmd.Flags().GetStringSlice("tag")
	text := strings.Join(args, " ")

	s, cfg, logger, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	gate := align.NewGate(cfg.Alignment, s, logger)
	eng := engine.New(s, gate, cfg, logger)
	d, err := eng.ProcessStimulus(cmd.Context(), model.Stimulus{
		Text:   text,
		Stakes: model.Stakes(stakes),
		Tags:   tags,
	})
	if err != nil {
		exitErr("decide", err)
	}

	b, _ := json.MarshalIndent(d, "", "  ")
	fmt.Println(string(b))
}
