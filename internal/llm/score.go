package llm

import (
	"context"
	"fmt"
	"math"
	"strings"
	"text/template"

	"github.com/JakeFAU/agentic-reviewer/internal/retry"
)

const (
	minScore     = 1.0
	maxScore     = 10.0
	defaultScore = 5.0
	maxDeviation = 1.5
)

// ScoreInput is what the scoring engine sees about a product.
type ScoreInput struct {
	ProductName string
	Summary     string
	KeyFeatures []string
	Pros        []string
	Cons        []string
	LoadTimeMs  int64
}

// ScoreResult holds normalized scores.
type ScoreResult struct {
	Overall     float64
	UX          float64
	Performance float64
	Features    float64
	Value       float64
	Reasoning   string
	Model       string
}

type rawScore struct {
	Overall     number `json:"overall"`
	UX          number `json:"uxScore"`
	Performance number `json:"performanceScore"`
	Features    number `json:"featureScore"`
	Value       number `json:"valueScore"`
	Reasoning   string `json:"reasoning"`
}

var scorePrompt = template.Must(template.New("score").Parse(
	`You are a B2B software scoring engine. Score this product from 1 to 10 on each dimension.

Product: {{.ProductName}}
Summary: {{.Summary}}
Key Features: {{.KeyFeatures}}
Pros: {{.Pros}}
Cons: {{.Cons}}
Page Load Time: {{.LoadTimeMs}}ms

Performance guide:
- under 1000ms load = 9-10
- 1000-2000ms = 7-8
- 2000-3000ms = 5-6
- over 3000ms = 3-4

Reply with JSON only, no markdown, in exactly this shape:
{
  "overall": 7.5,
  "uxScore": 8.0,
  "performanceScore": 7.0,
  "featureScore": 8.0,
  "valueScore": 7.0,
  "reasoning": "Brief explanation of scores"
}`))

// Scorer rates products through a Completer.
type Scorer struct {
	llm Completer
}

// NewScorer wraps llm.
func NewScorer(llm Completer) *Scorer {
	return &Scorer{llm: llm}
}

// Score asks the model for ratings and normalizes them. Output that does not
// parse as JSON is a terminal failure.
func (s *Scorer) Score(ctx context.Context, in ScoreInput) (ScoreResult, error) {
	prompt, err := render(scorePrompt, struct {
		ScoreInput
		KeyFeatures, Pros, Cons string
	}{in, strings.Join(in.KeyFeatures, ", "), strings.Join(in.Pros, ", "), strings.Join(in.Cons, ", ")})
	if err != nil {
		return ScoreResult{}, retry.Terminal(err)
	}
	raw, err := s.llm.Complete(ctx, prompt)
	if err != nil {
		return ScoreResult{}, err
	}
	var parsed rawScore
	if err := DecodeLLMJSON(raw, &parsed); err != nil {
		return ScoreResult{}, retry.Terminal(fmt.Errorf("parse score: %w", err))
	}
	out := Normalize(float64(parsed.Overall), float64(parsed.UX), float64(parsed.Performance),
		float64(parsed.Features), float64(parsed.Value))
	out.Reasoning = strings.TrimSpace(parsed.Reasoning)
	out.Model = s.llm.Model()
	return out, nil
}

// Normalize clamps each sub-score into [1,10] (zero or missing means 5) and
// replaces overall with the sub-score mean, rounded to one decimal, when it
// strays from that mean by more than 1.5.
func Normalize(overall, ux, performance, features, value float64) ScoreResult {
	out := ScoreResult{
		UX:          clampScore(ux, defaultScore),
		Performance: clampScore(performance, defaultScore),
		Features:    clampScore(features, defaultScore),
		Value:       clampScore(value, defaultScore),
	}
	avg := (out.UX + out.Performance + out.Features + out.Value) / 4
	out.Overall = clampScore(overall, avg)
	if math.Abs(out.Overall-avg) > maxDeviation {
		out.Overall = math.Round(avg*10) / 10
	}
	return out
}

func clampScore(v, fallback float64) float64 {
	if v == 0 {
		v = fallback
	}
	return math.Min(maxScore, math.Max(minScore, v))
}
