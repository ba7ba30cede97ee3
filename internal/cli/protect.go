package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	protectCmd := &cobra.Command{
		Use:   "protect [id]",
		Short: "Protect a memory from decay and eviction",
		Args:  cobra.ExactArgs(1),
		Run:   runProtect,
	}

	unprotectCmd := &cobra.Command{
		Use:   "unprotect [id]",
		Short: "Clear a memory's protection flag",
		Args:  cobra.ExactArgs(1),
		Run:   runUnprotect,
	}

	RootCmd.AddCommand(protectCmd, unprotectCmd)
}

func runProtect(cmd *cobra.Command, args []string) {
	s, _, _, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	if err := s.Protect(cmd.Context(), args[0]); err != nil {
		exitErr("protect", err)
	}
	fmt.Println("protected", args[0])
}

func runUnprotect(cmd *cobra.Command, args []string) {
	s, _, _, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	if err := s.Unprotect(cmd.Context(), args[0]); err != nil {
		exitErr("unprotect", err)
	}
	fmt.Println("unprotected", args[0])
}
