package stage

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/agentic-reviewer/internal/llm"
	"github.com/JakeFAU/agentic-reviewer/internal/pipeline"
	"github.com/JakeFAU/agentic-reviewer/internal/retry"
)

// Summarize writes the product's review from its extracted pages. An existing
// summary is kept unless force is set; the product still advances if its status
// lags the stored summary.
func (o *Orchestrator) Summarize(ctx context.Context, productID string, force bool) (result StageResult, err error) {
	const op = "summarize"
	defer observe(pipeline.StageSummarize, time.Now(), &result.Skipped, &err)

	ctx, cancel := o.detach(ctx)
	defer cancel()

	product, err := o.loadProduct(ctx, op, productID)
	if err != nil {
		return StageResult{}, err
	}
	result = StageResult{ProductID: product.ID, Status: product.Status}

	extractions, err := o.cfg.Store.ListPageExtractions(ctx, product.ID)
	if err != nil {
		return result, pipeline.Wrap(pipeline.KindPersistence, op, err)
	}
	if len(extractions) == 0 {
		return result, pipeline.Errorf(pipeline.KindPrecondition, op, "product %s has no page extraction; run process first", product.ID)
	}

	_, err = o.cfg.Store.GetSummary(ctx, product.ID)
	switch {
	case err == nil && !force:
		result.Skipped = true
		result.Status, err = o.catchUp(ctx, op, product, pipeline.StageSummarize)
		return result, err
	case err != nil && !errors.Is(err, pipeline.ErrNotFound):
		return result, pipeline.Wrap(pipeline.KindPersistence, op, err)
	}
	if err := checkCanRun(op, product, pipeline.StageSummarize); err != nil {
		return result, err
	}
	if o.cfg.Summarizer == nil {
		return result, pipeline.Errorf(pipeline.KindPrecondition, op, "no summarizer configured")
	}

	out, err := retry.Do(ctx, o.cfg.Policies.LLM, func(ctx context.Context) (llm.SummaryResult, error) {
		return o.cfg.Summarizer.Summarize(ctx, summaryInput(product, extractions))
	})
	if err != nil {
		return result, o.rollback(ctx, op, product, pipeline.StageSummarize, err)
	}

	id, err := o.newID(op)
	if err != nil {
		return result, err
	}
	if err := o.cfg.Store.ReplaceSummary(ctx, pipeline.Summary{
		ID:             id,
		ProductID:      product.ID,
		Content:        out.Content,
		TargetAudience: out.TargetAudience,
		KeyFeatures:    out.KeyFeatures,
		Pros:           out.Pros,
		Cons:           out.Cons,
		Model:          out.Model,
		CreatedAt:      o.cfg.Clock.Now(),
	}); err != nil {
		return result, o.persistenceGap(op, product.ID, err)
	}

	status, err := o.advance(ctx, op, product, pipeline.StageSummarize)
	if err != nil {
		return result, err
	}
	result.Status = status
	o.logger.Info("product summarized", zap.String("product_id", product.ID), zap.Bool("forced", force))
	o.stageCompleted(ctx, pipeline.StageSummarize, product.ID, "", string(status))
	return result, nil
}

// summaryInput feeds the hero page to the model, followed by whatever the
// optional pages added.
func summaryInput(product pipeline.Product, extractions []pipeline.PageExtraction) llm.SummaryInput {
	hero := extractions[0]
	for _, ex := range extractions {
		if ex.PageType == pipeline.PageHero {
			hero = ex
			break
		}
	}
	var body strings.Builder
	body.WriteString(hero.BodyText)
	for _, ex := range extractions {
		if ex.ID == hero.ID || strings.TrimSpace(ex.BodyText) == "" {
			continue
		}
		body.WriteString("\n\n")
		body.WriteString(strings.ToUpper(string(ex.PageType)))
		body.WriteString(" PAGE:\n")
		body.WriteString(ex.BodyText)
	}
	return llm.SummaryInput{
		ProductName: product.Name,
		ProductURL:  product.URL,
		PageTitle:   hero.Title,
		Headings:    hero.Headings,
		BodyText:    body.String(),
		LoadTimeMs:  hero.LoadTimeMs,
	}
}

// Score rates a summarized product. An existing score is kept unless force is set.
func (o *Orchestrator) Score(ctx context.Context, productID string, force bool) (result StageResult, err error) {
	const op = "score"
	defer observe(pipeline.StageScore, time.Now(), &result.Skipped, &err)

	ctx, cancel := o.detach(ctx)
	defer cancel()

	product, err := o.loadProduct(ctx, op, productID)
	if err != nil {
		return StageResult{}, err
	}
	result = StageResult{ProductID: product.ID, Status: product.Status}

	summary, err := o.cfg.Store.GetSummary(ctx, product.ID)
	if errors.Is(err, pipeline.ErrNotFound) {
		return result, pipeline.Errorf(pipeline.KindPrecondition, op, "product %s has no summary; run summarize first", product.ID)
	}
	if err != nil {
		return result, pipeline.Wrap(pipeline.KindPersistence, op, err)
	}

	_, err = o.cfg.Store.GetScore(ctx, product.ID)
	switch {
	case err == nil && !force:
		result.Skipped = true
		result.Status, err = o.catchUp(ctx, op, product, pipeline.StageScore)
		return result, err
	case err != nil && !errors.Is(err, pipeline.ErrNotFound):
		return result, pipeline.Wrap(pipeline.KindPersistence, op, err)
	}
	if err := checkCanRun(op, product, pipeline.StageScore); err != nil {
		return result, err
	}
	if o.cfg.Scorer == nil {
		return result, pipeline.Errorf(pipeline.KindPrecondition, op, "no scorer configured")
	}

	in := llm.ScoreInput{
		ProductName: product.Name,
		Summary:     summary.Content,
		KeyFeatures: summary.KeyFeatures,
		Pros:        summary.Pros,
		Cons:        summary.Cons,
	}
	if extractions, err := o.cfg.Store.ListPageExtractions(ctx, product.ID); err == nil && len(extractions) > 0 {
		in.LoadTimeMs = summaryInput(product, extractions).LoadTimeMs
	}
	out, err := retry.Do(ctx, o.cfg.Policies.LLM, func(ctx context.Context) (llm.ScoreResult, error) {
		return o.cfg.Scorer.Score(ctx, in)
	})
	if err != nil {
		return result, o.rollback(ctx, op, product, pipeline.StageScore, err)
	}

	id, err := o.newID(op)
	if err != nil {
		return result, err
	}
	if err := o.cfg.Store.ReplaceScore(ctx, pipeline.Score{
		ID:          id,
		ProductID:   product.ID,
		Overall:     out.Overall,
		UX:          out.UX,
		Performance: out.Performance,
		Features:    out.Features,
		Value:       out.Value,
		Reasoning:   out.Reasoning,
		Model:       out.Model,
		CreatedAt:   o.cfg.Clock.Now(),
	}); err != nil {
		return result, o.persistenceGap(op, product.ID, err)
	}

	status, err := o.advance(ctx, op, product, pipeline.StageScore)
	if err != nil {
		return result, err
	}
	result.Status = status
	o.logger.Info("product scored",
		zap.String("product_id", product.ID),
		zap.Float64("overall", out.Overall),
		zap.Bool("forced", force))
	o.stageCompleted(ctx, pipeline.StageScore, product.ID, "", string(status))
	return result, nil
}
