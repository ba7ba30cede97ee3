package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/daz2208/adaptive-memory/internal/model"
	"github.com/daz2208/adaptive-memory/internal/store"
)

func init() {
	cmd := &cobra.Command{
		Use:   "recall [query]",
		Short: "Recall memories by similarity",
		Long:  "Recall the memories most similar to the query. Access tracking updates on every returned entry.",
		Args:  cobra.MinimumNArgs(1),
		Run:   runRecall,
	}

	cmd.Flags().IntP("limit", "l", 0, "Max results (default: configured top_k)")
	cmd.Flags().String("kind", "", "Restrict to one kind")

	RootCmd.AddCommand(cmd)
}

func runRecall(cmd *cobra.Command, args []string) {
	limit, _ := cmd.Flags().GetInt("limit")
	kind, _ := cmd.Flags().GetString("kind")
	query := strings.Join(args, " ")

	s, _, _, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	results, err := s.Recall(cmd.Context(), store.RecallParams{
		Query: query,
		K:     limit,
		Kind:  model.Kind(kind),
	})
	if err != nil {
		exitErr("recall", err)
	}

	if len(results) == 0 {
		fmt.Println("[]")
		return
	}
	b, _ := json.MarshalIndent(results, "", "  ")
	fmt.Println(string(b))
}
