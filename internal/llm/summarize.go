package llm

import (
	"context"
	"fmt"
	"strings"
	"text/template"

	"github.com/JakeFAU/agentic-reviewer/internal/retry"
)

// Completer sends one prompt and returns the model's text.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
	Model() string
}

// SummaryInput is what the reviewer sees about a product.
type SummaryInput struct {
	ProductName string
	ProductURL  string
	PageTitle   string
	Headings    []string
	BodyText    string
	LoadTimeMs  int64
}

// SummaryResult is the structured review returned by the model.
type SummaryResult struct {
	Content        string   `json:"content"`
	TargetAudience string   `json:"targetAudience"`
	KeyFeatures    []string `json:"keyFeatures"`
	Pros           []string `json:"pros"`
	Cons           []string `json:"cons"`
	Model          string   `json:"-"`
}

var summaryPrompt = template.Must(template.New("summary").Parse(
	`You are a B2B software reviewer. Analyze this product and write a structured review.

Product: {{.ProductName}}
URL: {{.ProductURL}}
Page Title: {{.PageTitle}}
Headings: {{.Headings}}
Page Load Time: {{.LoadTimeMs}}ms

Page Content:
{{.BodyText}}

Reply with JSON only, no markdown, in exactly this shape:
{
  "content": "A 2-3 paragraph review of the product",
  "targetAudience": "Who this product is best for",
  "keyFeatures": ["feature1", "feature2"],
  "pros": ["pro1", "pro2"],
  "cons": ["con1", "con2"]
}`))

// Summarizer produces reviews through a Completer.
type Summarizer struct {
	llm Completer
}

// NewSummarizer wraps llm.
func NewSummarizer(llm Completer) *Summarizer {
	return &Summarizer{llm: llm}
}

// Summarize asks the model for a review. Output that does not parse, or that
// has no review body, is a terminal failure.
func (s *Summarizer) Summarize(ctx context.Context, in SummaryInput) (SummaryResult, error) {
	prompt, err := render(summaryPrompt, struct {
		SummaryInput
		Headings string
	}{in, strings.Join(in.Headings, ", ")})
	if err != nil {
		return SummaryResult{}, retry.Terminal(err)
	}
	raw, err := s.llm.Complete(ctx, prompt)
	if err != nil {
		return SummaryResult{}, err
	}
	var out SummaryResult
	if err := DecodeLLMJSON(raw, &out); err != nil {
		return SummaryResult{}, retry.Terminal(fmt.Errorf("parse summary: %w", err))
	}
	out.Content = strings.TrimSpace(out.Content)
	if out.Content == "" {
		return SummaryResult{}, retry.Terminal(fmt.Errorf("parse summary: empty content"))
	}
	out.TargetAudience = strings.TrimSpace(out.TargetAudience)
	out.KeyFeatures = nonEmpty(out.KeyFeatures)
	out.Pros = nonEmpty(out.Pros)
	out.Cons = nonEmpty(out.Cons)
	out.Model = s.llm.Model()
	return out, nil
}

func render(t *template.Template, data any) (string, error) {
	var b strings.Builder
	if err := t.Execute(&b, data); err != nil {
		return "", fmt.Errorf("render %s prompt: %w", t.Name(), err)
	}
	return b.String(), nil
}

func nonEmpty(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
