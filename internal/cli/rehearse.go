package cli

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/daz2208/adaptive-memory/internal/scheduler"
)

func init() {
	rehearseCmd := &cobra.Command{
		Use:   "rehearse",
		Short: "Manage spaced rehearsals",
	}

	dueCmd := &cobra.Command{
		Use:   "due",
		Short: "List rehearsals due now",
		Run:   runRehearseDue,
	}

	doneCmd := &cobra.Command{
		Use:   "done [memory-id]",
		Short: "Mark a rehearsal completed",
		Long:  "Mark a rehearsal completed. The memory is reinforced and the next interval grows by the spacing factor; a badly overdue rehearsal resets to the base interval.",
		Args:  cobra.ExactArgs(1),
		Run:   runRehearseDone,
	}

	rehearseCmd.AddCommand(dueCmd, doneCmd)
	RootCmd.AddCommand(rehearseCmd)
}

func runRehearseDue(cmd *cobra.Command, args []string) {
	s, cfg, logger, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	sc := scheduler.New(cfg.Scheduler, s, logger)
	due, err := sc.DueRehearsals(cmd.Context(), time.Now().UTC())
	if err != nil {
		exitErr("rehearse due", err)
	}
	if len(due) == 0 {
		fmt.Println("[]")
		return
	}
	b, _ := json.MarshalIndent(due, "", "  ")
	fmt.Println(string(b))
}

func runRehearseDone(cmd *cobra.Command, args []string) {
	s, cfg, logger, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	sc := scheduler.New(cfg.Scheduler, s, logger)
	r, err := sc.MarkRehearsed(cmd.Context(), args[0], time.Now().UTC())
	if err != nil {
		exitErr("rehearse done", err)
	}
	b, _ := json.Marshal(r)
	fmt.Println(string(b))
}
