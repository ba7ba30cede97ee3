package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/daz2208/adaptive-memory/internal/model"
	"github.com/daz2208/adaptive-memory/internal/store"
)

func init() {
	cmd := &cobra.Command{
		Use:   "remember [content]",
		Short: "Store a memory entry",
		Long:  "Store a memory entry. Content can be a positional arg or piped via stdin.",
		Run:   runRemember,
	}

	cmd.Flags().StringP("kind", "k", "semantic", "Kind: episodic, semantic, procedural, preference")
	cmd.Flags().Float64P("importance", "i", 0.5, "Initial importance in [0,1]")

	RootCmd.AddCommand(cmd)
}

func runRemember(cmd *cobra.Command, args []string) {
	kind, _ := cmd.Flags().GetString("kind")
	importance, _ := cmd.Flags().GetFloat64("importance")

	// Content: positional arg first, then stdin.
	var content string
	if len(args) > 0 {
		content = strings.Join(args, " ")
	} else {
		stat, _ := os.Stdin.Stat()
		if (stat.Mode() & os.ModeCharDevice) == 0 {
			b, err := io.ReadAll(os.Stdin)
			if err != nil {
				exitErr("read stdin", err)
			}
			content = string(b)
		}
	}
	if strings.TrimSpace(content) == "" {
		exitErr("remember", fmt.Errorf("content is required (positional arg or stdin)"))
	}

	s, _, _, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	e, err := s.Store(cmd.Context(), store.StoreParams{
		Kind:           model.Kind(kind),
		Content:        strings.TrimSpace(content),
		ImportanceHint: importance,
	})
	if err != nil {
		exitErr("remember", err)
	}

	b, _ := json.Marshal(e)
	fmt.Println(string(b))
}
