package recipe

import (
	"bytes"
	"context"
	_ "embed"
	"fmt"
	"text/template"
	"time"
	"unicode/utf8"

	"nutriflow/internal/llm"
	"nutriflow/internal/shared"
)

//go:embed extractor_prompt.md
var extractorPrompt string

var extractorTmpl = template.Must(template.New("extractor").Parse(extractorPrompt))

// maxPageChars bounds the page text sent to the model.
const maxPageChars = 20000

type ExtractorResult struct {
	Recipe Recipe
	Meta   shared.AgentMeta
}

// Extractor turns the text of a recipe page into a catalog recipe.
type Extractor struct {
	textGen llm.TextGenerator
}

// NewExtractor creates a new Extractor.
func NewExtractor(textGen llm.TextGenerator) *Extractor {
	return &Extractor{textGen: textGen}
}

// Extract asks the model for a structured recipe. The returned meta is
// filled whenever the model answered, even if decoding failed.
func (e *Extractor) Extract(ctx context.Context, sourceURL, content string) (ExtractorResult, error) {
	start := time.Now()

	content = truncate(content, maxPageChars)

	var buf bytes.Buffer
	if err := extractorTmpl.Execute(&buf, struct {
		SourceURL string
		Content   string
	}{sourceURL, content}); err != nil {
		return ExtractorResult{}, fmt.Errorf("failed to build extractor prompt: %w", err)
	}

	llmResp, err := e.textGen.GenerateContent(ctx, buf.String())
	if err != nil {
		return ExtractorResult{}, fmt.Errorf("failed to get LLM response: %w", err)
	}

	meta := shared.AgentMeta{
		AgentName: "Extractor",
		Usage:     llmResp.Usage,
		Latency:   time.Since(start),
	}

	payload, err := DecodePayload(llmResp.Content)
	if err != nil {
		return ExtractorResult{Meta: meta}, fmt.Errorf("failed to unmarshal LLM response: %w", err)
	}
	if len(payload.Ingredients) == 0 {
		return ExtractorResult{Meta: meta}, fmt.Errorf("no recipe found at %s", sourceURL)
	}

	return ExtractorResult{Recipe: payload.ToRecipe(SourceImport), Meta: meta}, nil
}

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
