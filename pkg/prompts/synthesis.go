package prompts

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/chronoquery/chronoquery/pkg/nlp"
	"github.com/chronoquery/chronoquery/pkg/types"
)

// SynthesisResult is the decoded response of the synthesis prompt.
type SynthesisResult struct {
	Answer    string   `json:"answer"`
	Citations []string `json:"citations"`
}

// evidenceRow is the YAML shape of one evidence item in the prompt.
type evidenceRow struct {
	EventID     string  `yaml:"event_id"`
	Description string  `yaml:"description"`
	TsStart     string  `yaml:"ts_start,omitempty"`
	TsEnd       string  `yaml:"ts_end,omitempty"`
	Confidence  float64 `yaml:"confidence"`
	Hop         int     `yaml:"hop,omitempty"`
}

// SynthesisPrompt asks the model to compose a grounded answer over the
// retrieved evidence. Evidence is rendered as a YAML block; the model
// must cite event ids from that block and nothing else.
func SynthesisPrompt(logger *slog.Logger, question string, intent types.Intent, evidence []types.EvidenceItem) ([]nlp.Message, error) {
	sysPrompt := `You compose answers to questions about events, grounded strictly in the evidence provided.

Rules:
- Use only the evidence block. Never invent events, dates, or causes that are not in it.
- Cite supporting events by their event_id.
- If the evidence does not answer the question, say so plainly.
- Respond with JSON only:
{"answer": "<the answer text>", "citations": ["<event_id>", ...]}`

	rows := make([]evidenceRow, len(evidence))
	for i, item := range evidence {
		rows[i] = evidenceRow{
			EventID:     item.ID,
			Description: item.Description,
			Confidence:  item.Confidence,
			Hop:         item.Hop,
		}
		if item.TsStart != nil {
			rows[i].TsStart = item.TsStart.Format(time.RFC3339)
		}
		if item.TsEnd != nil {
			rows[i].TsEnd = item.TsEnd.Format(time.RFC3339)
		}
	}

	evidenceYAML, err := ToPromptYAML(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal evidence to YAML: %w", err)
	}

	userPrompt := fmt.Sprintf(`Question (%s): %s

Evidence:
%s`, intent, question, evidenceYAML)

	return buildMessages(logger, sysPrompt, userPrompt), nil
}
