package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/chronoquery/chronoquery"
	"github.com/chronoquery/chronoquery/pkg/config"
	"github.com/chronoquery/chronoquery/pkg/logger"
	"github.com/chronoquery/chronoquery/pkg/types"
)

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Answer a single question from the command line",
	Long: `Answer a single natural-language question against the configured
event and causal stores, then print the answer, its evidence chain,
and its sources.`,
	Args: cobra.ExactArgs(1),
	RunE: runAsk,
}

var (
	askEntity  string
	askMaxHops int
)

func init() {
	rootCmd.AddCommand(askCmd)

	askCmd.Flags().StringVar(&askEntity, "entity", "", "Restrict the question to one entity")
	askCmd.Flags().IntVar(&askMaxHops, "max-hops", 0, "Causal traversal depth override")
}

func runAsk(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log := logger.NewDefaultLogger(parseLevel(cfg.Log.Level))

	engine, err := chronoquery.New(cfg, log)
	if err != nil {
		return fmt.Errorf("failed to initialize engine: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := engine.Close(closeCtx); err != nil {
			log.Warn("engine close reported an error", "error", err)
		}
	}()

	answer, err := engine.Answer(cmd.Context(), types.Question{
		Text:          args[0],
		EntityFilter:  askEntity,
		MaxCausalHops: askMaxHops,
	})
	if err != nil {
		return err
	}

	fmt.Printf("%s\n\n", answer.Answer)
	fmt.Printf("intent: %s  confidence: %.2f\n", answer.Intent, answer.Confidence)
	if len(answer.Chain) > 0 {
		fmt.Println("\nevidence:")
		for _, ev := range answer.Chain {
			when := "undated"
			if ev.TsStart != nil {
				when = ev.TsStart.Format("2006-01-02")
			}
			fmt.Printf("  [%s] hop=%d conf=%.2f %s\n", when, ev.Hop, ev.Confidence, ev.Description)
		}
	}
	if len(answer.Sources) > 0 {
		fmt.Println("\nsources:")
		for _, src := range answer.Sources {
			fmt.Printf("  %s\n", src.Source)
		}
	}
	return nil
}
