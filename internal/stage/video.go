package stage

import (
	"context"
	"errors"
	"maps"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/agentic-reviewer/internal/pipeline"
	"github.com/JakeFAU/agentic-reviewer/internal/render"
	"github.com/JakeFAU/agentic-reviewer/internal/retry"
)

// RenderErrorKey is the video metadata key a failed render's cause is stored under.
const RenderErrorKey = "renderError"

// RenderResult identifies the video a render produced.
type RenderResult struct {
	VideoID       string                 `json:"videoId"`
	ProductID     string                 `json:"productId"`
	VideoStatus   pipeline.VideoStatus   `json:"videoStatus"`
	ProductStatus pipeline.ProductStatus `json:"productStatus"`
	StorageKey    string                 `json:"storageKey"`
	DurationSec   int                    `json:"durationSec"`
}

// RenderVideo renders a new video for a scored product. The video is visible as
// rendering while the renderer works, and the video id is the renderer's
// idempotency key.
func (o *Orchestrator) RenderVideo(ctx context.Context, productID string, format pipeline.Format) (result RenderResult, err error) {
	const op = "render"
	defer observe(pipeline.StageRender, time.Now(), nil, &err)

	ctx, cancel := o.detach(ctx)
	defer cancel()

	if format == "" {
		format = pipeline.FormatYouTubeLong
	}
	if !format.Valid() {
		return RenderResult{}, pipeline.Errorf(pipeline.KindPrecondition, op, "unknown video format %q", format)
	}
	product, err := o.loadProduct(ctx, op, productID)
	if err != nil {
		return RenderResult{}, err
	}
	result = RenderResult{ProductID: product.ID, ProductStatus: product.Status}

	for _, check := range []struct {
		what string
		get  func(context.Context, string) error
	}{
		{"summary", func(ctx context.Context, id string) error { _, err := o.cfg.Store.GetSummary(ctx, id); return err }},
		{"score", func(ctx context.Context, id string) error { _, err := o.cfg.Store.GetScore(ctx, id); return err }},
	} {
		if err := check.get(ctx, product.ID); err != nil {
			if errors.Is(err, pipeline.ErrNotFound) {
				return result, pipeline.Errorf(pipeline.KindPrecondition, op, "product %s has no %s", product.ID, check.what)
			}
			return result, pipeline.Wrap(pipeline.KindPersistence, op, err)
		}
	}
	if err := checkCanRun(op, product, pipeline.StageRender); err != nil {
		return result, err
	}
	if o.cfg.Renderer == nil {
		return result, pipeline.Errorf(pipeline.KindPrecondition, op, "no renderer configured")
	}

	video, err := o.startRender(ctx, product.ID, format)
	if err != nil {
		return result, err
	}
	result.VideoID = video.ID
	result.VideoStatus = video.Status

	out, err := retry.Do(ctx, o.cfg.Policies.Render, func(ctx context.Context) (render.Result, error) {
		return o.cfg.Renderer.Render(ctx, render.Request{VideoID: video.ID, ProductID: product.ID, Format: format})
	})
	if err != nil {
		video.Status, _ = pipeline.TransitionVideo(video.Status, pipeline.VideoRenderFailed)
		video.Metadata = mergeMetadata(video.Metadata, RenderErrorKey, err.Error())
		video.UpdatedAt = o.cfg.Clock.Now()
		if uerr := o.cfg.Store.UpdateVideo(ctx, video); uerr != nil {
			o.logger.Error("mark video rejected failed", zap.String("video_id", video.ID), zap.Error(uerr))
		}
		result.VideoStatus = video.Status
		return result, o.rollback(ctx, op, product, pipeline.StageRender, err)
	}

	video.Status, _ = pipeline.TransitionVideo(video.Status, pipeline.VideoRenderSucceeded)
	video.StorageKey = out.StorageKey
	video.ThumbnailKey = out.ThumbnailKey
	video.DurationSec = int(math.Round(out.DurationSec))
	video.UpdatedAt = o.cfg.Clock.Now()
	if err := o.cfg.Store.UpdateVideo(ctx, video); err != nil {
		return result, o.persistenceGap(op, video.ID, err)
	}
	result.VideoStatus = video.Status
	result.StorageKey = video.StorageKey
	result.DurationSec = video.DurationSec

	status, err := o.advance(ctx, op, product, pipeline.StageRender)
	if err != nil {
		return result, err
	}
	result.ProductStatus = status
	o.logger.Info("video rendered",
		zap.String("product_id", product.ID),
		zap.String("video_id", video.ID),
		zap.String("format", string(format)),
		zap.Int("duration_sec", video.DurationSec))
	o.stageCompleted(ctx, pipeline.StageRender, product.ID, video.ID, string(video.Status))
	return result, nil
}

// startRender records the video directly in the rendering state.
func (o *Orchestrator) startRender(ctx context.Context, productID string, format pipeline.Format) (pipeline.Video, error) {
	id, err := o.newID("render")
	if err != nil {
		return pipeline.Video{}, err
	}
	status, err := pipeline.TransitionVideo(pipeline.VideoPending, pipeline.VideoRenderStarted)
	if err != nil {
		return pipeline.Video{}, pipeline.Wrap(pipeline.KindInternal, "render", err)
	}
	now := o.cfg.Clock.Now()
	video := pipeline.Video{
		ID:        id,
		ProductID: productID,
		Status:    status,
		Format:    format,
		Metadata:  map[string]any{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := o.cfg.Store.CreateVideo(ctx, video); err != nil {
		return pipeline.Video{}, pipeline.Wrap(pipeline.KindPersistence, "render", err)
	}
	return video, nil
}

// ApproveVideo marks a rendered video ready for distribution.
func (o *Orchestrator) ApproveVideo(ctx context.Context, videoID string) (pipeline.Video, error) {
	const op = "approve"
	video, err := o.loadVideo(ctx, op, videoID)
	if err != nil {
		return pipeline.Video{}, err
	}
	return o.review(ctx, op, video, pipeline.VideoApprove, "")
}

// RejectVideo marks a rendered video rejected, keeping reason in its metadata.
func (o *Orchestrator) RejectVideo(ctx context.Context, videoID, reason string) (pipeline.Video, error) {
	const op = "reject"
	video, err := o.loadVideo(ctx, op, videoID)
	if err != nil {
		return pipeline.Video{}, err
	}
	return o.review(ctx, op, video, pipeline.VideoReject, reason)
}

func (o *Orchestrator) review(ctx context.Context, op string, video pipeline.Video, event pipeline.VideoEvent, reason string) (pipeline.Video, error) {
	next, err := pipeline.TransitionVideo(video.Status, event)
	if err != nil {
		return video, pipeline.Wrap(pipeline.KindIllegalTransition, op, err)
	}
	video.Status = next
	if event == pipeline.VideoReject {
		video.Metadata = pipeline.MergeRejection(video.Metadata, reason)
	}
	video.UpdatedAt = o.cfg.Clock.Now()
	if err := o.cfg.Store.UpdateVideo(ctx, video); err != nil {
		return video, pipeline.Wrap(pipeline.KindPersistence, op, err)
	}
	o.logger.Info("video reviewed",
		zap.String("video_id", video.ID),
		zap.String("status", string(video.Status)),
		zap.String("reason", reason))
	o.emit(ctx, pipeline.Event{
		Type:      pipeline.EventVideoReviewed,
		ProductID: video.ProductID,
		VideoID:   video.ID,
		Status:    string(video.Status),
	})
	return video, nil
}

func mergeMetadata(metadata map[string]any, key string, value any) map[string]any {
	merged := make(map[string]any, len(metadata)+1)
	maps.Copy(merged, metadata)
	merged[key] = value
	return merged
}
