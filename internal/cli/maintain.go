package cli

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/daz2208/adaptive-memory/internal/scheduler"
)

func init() {
	cmd := &cobra.Command{
		Use:   "maintain",
		Short: "Run a maintenance sweep",
		Long:  "Run one decay sweep: unprotected entries lose importance by time since last access, critical entries are auto-protected and scheduled for rehearsal. With --loop, keep sweeping on the configured interval until interrupted.",
		Run:   runMaintain,
	}

	cmd.Flags().Bool("loop", false, "Keep sweeping on the configured interval")

	RootCmd.AddCommand(cmd)
}

func runMaintain(cmd *cobra.Command, args []string) {
	loop, _ := cmd.Flags().GetBool("loop")

	s, cfg, logger, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	sc := scheduler.New(cfg.Scheduler, s, logger)
	if loop {
		if err := sc.Run(cmd.Context()); err != nil {
			exitErr("maintain", err)
		}
		return
	}

	stats, err := sc.Sweep(cmd.Context(), time.Now().UTC())
	if err != nil {
		exitErr("maintain", err)
	}
	b, _ := json.MarshalIndent(stats, "", "  ")
	fmt.Println(string(b))
}
