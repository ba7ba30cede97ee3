package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "evict",
		Short: "List or delete low-importance memories",
		Long:  "List unprotected entries below the eviction floor. Nothing is deleted unless --apply is given.",
		Run:   runEvict,
	}

	cmd.Flags().Float64("floor", 0, "Importance floor (default: configured eviction_floor)")
	cmd.Flags().Bool("apply", false, "Delete the candidates")

	RootCmd.AddCommand(cmd)
}

func runEvict(cmd *cobra.Command, args []string) {
	floor, _ := cmd.Flags().GetFloat64("floor")
	apply, _ := cmd.Flags().GetBool("apply")

	s, cfg, _, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	if floor <= 0 {
		floor = cfg.Scheduler.EvictionFloor
	}
	candidates := s.EvictCandidates(cmd.Context(), floor)
	if apply {
		for _, e := range candidates {
			if err := s.Evict(cmd.Context(), e.ID); err != nil {
				exitErr("evict", err)
			}
		}
		fmt.Printf("evicted %d entries\n", len(candidates))
		return
	}

	if len(candidates) == 0 {
		fmt.Println("[]")
		return
	}
	b, _ := json.MarshalIndent(candidates, "", "  ")
	fmt.Println(string(b))
}
