package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/reppyfit/reppy/internal/router"
)

var routeCmd = &cobra.Command{
	Use:   "route [text]",
	Short: "Classify an input offline with the pattern router",
	Long: `Runs the pattern router on the given text and prints the selected
prompt key. Useful for checking routing behavior without a model or any
backing services.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRoute(cmd, strings.Join(args, " "))
	},
}

func init() {
	rootCmd.AddCommand(routeCmd)
}

func runRoute(cmd *cobra.Command, input string) error {
	rt := router.NewPatternRouter(router.DefaultPrompts, newLogger())
	decision, err := rt.Route(cmd.Context(), input, nil)
	if err != nil {
		return fmt.Errorf("routing input: %w", err)
	}

	fmt.Printf("prompt_key: %s\n", decision.PromptKey)
	fmt.Printf("method:     %s\n", decision.Method)
	if len(decision.Scores) > 0 {
		fmt.Println("scores:")
		for key, score := range decision.Scores {
			fmt.Printf("  %-18s %.2f\n", key, score)
		}
	}
	return nil
}
