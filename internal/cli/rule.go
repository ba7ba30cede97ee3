package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/daz2208/adaptive-memory/internal/feedback"
	"github.com/daz2208/adaptive-memory/internal/model"
)

func init() {
	ruleCmd := &cobra.Command{
		Use:   "rule",
		Short: "Manage condition-action rules",
	}

	addCmd := &cobra.Command{
		Use:   "add",
		Short: "Define a rule",
		Long:  "Define a rule. Contradicting rules are resolved by specificity and recency; near-duplicate conditions merge.",
		Run:   runRuleAdd,
	}
	addCmd.Flags().String("when", "", "Condition (required)")
	addCmd.Flags().String("then", "", "Action (required)")
	addCmd.MarkFlagRequired("when")
	addCmd.MarkFlagRequired("then")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List rules",
		Run:   runRuleList,
	}

	ruleCmd.AddCommand(addCmd, listCmd)
	RootCmd.AddCommand(ruleCmd)
}

func runRuleAdd(cmd *cobra.Command, args []string) {
	condition, _ := cmd.Flags().GetString("when")
	action, _ := cmd.Flags().GetString("then")

	s, cfg, logger, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	in := feedback.New(s, cfg, logger)
	updates, err := in.Integrate(cmd.Context(), model.FeedbackEvent{
		Kind: model.FeedbackRule,
		Rule: &model.RuleDefinition{Condition: condition, Action: action},
	})
	if err != nil {
		exitErr("rule add", err)
	}

	b, _ := json.MarshalIndent(updates, "", "  ")
	fmt.Println(string(b))
}

func runRuleList(cmd *cobra.Command, args []string) {
	s, _, _, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	rules := s.ListRules(cmd.Context())
	if len(rules) == 0 {
		fmt.Println("[]")
		return
	}
	b, _ := json.MarshalIndent(rules, "", "  ")
	fmt.Println(string(b))
}
