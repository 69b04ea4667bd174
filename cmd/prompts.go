package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/reppyfit/reppy/internal/prompt"
)

var promptsCmd = &cobra.Command{
	Use:   "prompts",
	Short: "List the available prompt templates",
	RunE: func(*cobra.Command, []string) error {
		return runPrompts()
	},
}

func init() {
	rootCmd.AddCommand(promptsCmd)
}

func runPrompts() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	dir := cfg.PromptDir
	if dir == "" {
		dir = "prompts"
	}
	infos, err := prompt.NewLoader(dir).List()
	if err != nil {
		return fmt.Errorf("listing prompts: %w", err)
	}

	if len(infos) == 0 {
		fmt.Printf("No prompt templates found in %s\n", dir)
		return nil
	}

	fmt.Printf("%-20s %-10s %-8s %s\n", "KEY", "VERSION", "TOOLS", "VARIABLES")
	for _, info := range infos {
		fmt.Printf("%-20s %-10s %-8d %s\n",
			info.Key, info.Version, len(info.Tools), strings.Join(info.Variables, ", "))
	}
	return nil
}
