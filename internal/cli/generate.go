package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"medquiz-service/internal/config"
	"medquiz-service/internal/domain"
	"medquiz-service/internal/llm"
)

// NewGenerateCmd asks the configured model for one question and prints it.
func NewGenerateCmd(configPath *string) *cobra.Command {
	var (
		quiz       domain.QuizConfig
		difficulty string
		apiKey     string
	)
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate a single question from the command line",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			d, ok := domain.ParseDifficulty(difficulty)
			if !ok {
				return fmt.Errorf("%w: unknown difficulty %q", domain.ErrInvalidConfig, difficulty)
			}
			quiz.Difficulty = d
			if err := quiz.Validate(); err != nil {
				return err
			}
			if apiKey == "" {
				apiKey = os.Getenv("LLM_API_KEY")
			}

			client := llm.New(llmConfig(cfg), llm.NewCredential(apiKey))
			q, err := client.Generate(cmd.Context(), quiz.Scope(), quiz.Difficulty)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "[%s] %s\n", q.Subject, q.Prompt)
			for _, opt := range q.Options {
				fmt.Fprintln(out, "  "+opt.Label())
			}
			fmt.Fprintf(out, "Answer: %s\n%s\n", q.Correct, q.Explanation)
			return nil
		},
	}
	cmd.Flags().StringVar(&quiz.Subject, "subject", "", "subject, e.g. Physiology")
	cmd.Flags().StringVar(&quiz.Chapter, "chapter", domain.CompleteSubject, "chapter within the subject")
	cmd.Flags().StringVar(&quiz.Topic, "topic", "", "optional topic within the chapter")
	cmd.Flags().StringVar(&difficulty, "difficulty", string(domain.DifficultyMedium), "easy, medium or hard")
	cmd.Flags().StringVar(&apiKey, "key", "", "API key (defaults to LLM_API_KEY)")
	return cmd
}

func llmConfig(cfg config.Config) llm.Config {
	return llm.Config{
		BaseURL:     cfg.LLM.BaseURL,
		Model:       cfg.LLM.Model,
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
		Timeout:     config.TTLDuration(cfg.LLM.Timeout, llm.DefaultTimeout),
	}
}
