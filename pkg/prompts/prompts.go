// Package prompts holds the prompt builders for intent classification,
// query generation, and answer synthesis, plus the result models their
// responses decode into.
package prompts

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/chronoquery/chronoquery/pkg/nlp"
)

// ToPromptYAML serializes data to YAML for use in prompts. YAML keeps the
// evidence block readable for the model without JSON escaping noise.
func ToPromptYAML(data interface{}) (string, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	err := enc.Encode(data)
	if err != nil {
		return "", err
	}
	return buf.String(), nil
}

// logPrompts prints the generated prompts when DEBUG_LLM_PROMPTS is set.
func logPrompts(logger *slog.Logger, sysPrompt, userPrompt string) {
	if os.Getenv("DEBUG_LLM_PROMPTS") != "true" {
		return
	}
	if logger == nil {
		logger = slog.Default()
	}

	logger.Debug("Generated prompts - System Prompt follows")
	fmt.Println("=== SYSTEM PROMPT ===")
	fmt.Println(sysPrompt)
	logger.Debug("Generated prompts - User Prompt follows")
	fmt.Println("=== USER PROMPT ===")
	fmt.Println(userPrompt)
	fmt.Println("=== END PROMPTS ===")
}

// LogResponse prints an LLM response when DEBUG_LLM_PROMPTS is set.
func LogResponse(logger *slog.Logger, response *nlp.Response) {
	if os.Getenv("DEBUG_LLM_PROMPTS") != "true" {
		return
	}
	if logger == nil {
		logger = slog.Default()
	}

	logger.Debug("LLM response follows")
	fmt.Println("=== LLM response ===")
	fmt.Println(response.Content)
	fmt.Println("=== END LLM response ===")
}

func buildMessages(logger *slog.Logger, sysPrompt, userPrompt string) []nlp.Message {
	logPrompts(logger, sysPrompt, userPrompt)
	return []nlp.Message{
		nlp.NewSystemMessage(sysPrompt),
		nlp.NewUserMessage(userPrompt),
	}
}
