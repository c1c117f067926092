package types

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Result is the structured output of intent extraction.
type Result struct {
	Intent     string         `json:"intent"`
	Entities   map[string]any `json:"entities,omitempty"`
	Confidence float64        `json:"confidence"`
}

// Metadata identifies the backend that produced a Result.
type Metadata struct {
	Provider string
	Model    string
}

// ParseResult decodes a model reply into a Result. Surrounding prose and
// markdown code fences are tolerated; the first JSON object is used.
func ParseResult(text string) (Result, error) {
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start < 0 || end <= start {
		return Result{}, errors.New("reply contains no JSON object")
	}

	var result Result
	if err := json.Unmarshal([]byte(text[start:end+1]), &result); err != nil {
		return Result{}, fmt.Errorf("decode intent reply: %w", err)
	}

	result.Intent = strings.TrimSpace(result.Intent)
	if result.Confidence < 0 {
		result.Confidence = 0
	}
	if result.Confidence > 1 {
		result.Confidence = 1
	}

	return result, nil
}

// BuildInstructions returns the system prompt for model-backed extractors.
func BuildInstructions(labels []string) string {
	var b strings.Builder
	b.WriteString("You classify chat messages sent to a sports team assistant.\n")
	b.WriteString("Reply with one JSON object and nothing else: ")
	b.WriteString(`{"intent": string, "entities": object, "confidence": number between 0 and 1}.`)
	b.WriteString("\n")

	if len(labels) > 0 {
		b.WriteString("Choose intent from: ")
		b.WriteString(strings.Join(labels, ", "))
		b.WriteString(`. Use "unknown" when none fits.`)
		b.WriteString("\n")
	}

	b.WriteString("Put names, dates and other details from the message in entities.")
	return b.String()
}
