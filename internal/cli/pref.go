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
	prefCmd := &cobra.Command{
		Use:   "pref",
		Short: "Manage preferences",
	}

	setCmd := &cobra.Command{
		Use:   "set [statement]",
		Short: "State a preference",
		Long:  "State a preference explicitly. Explicit statements override implicit and behavioral signals on the same topic.",
		Args:  cobra.MinimumNArgs(1),
		Run:   runPrefSet,
	}
	setCmd.Flags().String("category", "general", "Preference category")
	setCmd.Flags().Float64("strength", 0, "Strength in (0,1] (default: explicit tier confidence)")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List preferences",
		Run:   runPrefList,
	}

	prefCmd.AddCommand(setCmd, listCmd)
	RootCmd.AddCommand(prefCmd)
}

func runPrefSet(cmd *cobra.Command, args []string) {
	category, _ := cmd.Flags().GetString("category")
	strength, _ := cmd.Flags().GetFloat64("strength")
	text := strings.Join(args, " ")

	s, cfg, logger, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	in := feedback.New(s, cfg, logger)
	updates, err := in.Integrate(cmd.Context(), model.FeedbackEvent{
		Kind: model.FeedbackPreference,
		Preference: &model.PreferenceStatement{
			Category: category,
			Text:     text,
			Strength: strength,
		},
	})
	if err != nil {
		exitErr("pref set", err)
	}

	b, _ := json.MarshalIndent(updates, "", "  ")
	fmt.Println(string(b))
}

func runPrefList(cmd *cobra.Command, args []string) {
	s, _, _, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	prefs := s.ListPreferences(cmd.Context())
	if len(prefs) == 0 {
		fmt.Println("[]")
		return
	}
	b, _ := json.MarshalIndent(prefs, "", "  ")
	fmt.Println(string(b))
}
