package stage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/agentic-reviewer/internal/distribution"
	"github.com/JakeFAU/agentic-reviewer/internal/pipeline"
	"github.com/JakeFAU/agentic-reviewer/internal/retry"
	"github.com/JakeFAU/agentic-reviewer/internal/telemetry"
)

// DistributeResult reports every publication attempted for a video.
type DistributeResult struct {
	VideoID       string                 `json:"videoId"`
	VideoStatus   pipeline.VideoStatus   `json:"videoStatus"`
	ProductStatus pipeline.ProductStatus `json:"productStatus"`
	Publications  []pipeline.Publication `json:"publications"`
}

// PublicationIDs lists the ids of the attempted publications.
func (r DistributeResult) PublicationIDs() []string {
	ids := make([]string, 0, len(r.Publications))
	for _, p := range r.Publications {
		ids = append(ids, p.ID)
	}
	return ids
}

// Distribute uploads an approved video to each platform. One successful upload
// publishes the video and its product. When every upload fails the video stays
// approved and the last failure is returned.
func (o *Orchestrator) Distribute(ctx context.Context, videoID string, platforms []pipeline.Platform) (result DistributeResult, err error) {
	const op = "distribute"
	defer observe(pipeline.StageDistribute, time.Now(), nil, &err)

	ctx, cancel := o.detach(ctx)
	defer cancel()

	platforms, err = normalizePlatforms(op, platforms)
	if err != nil {
		return DistributeResult{}, err
	}
	video, err := o.loadVideo(ctx, op, videoID)
	if err != nil {
		return DistributeResult{}, err
	}
	if video.Status == pipeline.VideoPublished {
		return o.alreadyPublished(ctx, op, video)
	}
	if video.Status == pipeline.VideoRendered && !o.cfg.RequireApproval {
		if video, err = o.review(ctx, op, video, pipeline.VideoApprove, ""); err != nil {
			return DistributeResult{}, err
		}
	}
	result = DistributeResult{VideoID: video.ID, VideoStatus: video.Status}
	if video.Status != pipeline.VideoApproved {
		return result, pipeline.Errorf(pipeline.KindPrecondition, op,
			"video %s must be approved before distribution (status %s)", video.ID, video.Status)
	}
	product, err := o.loadProduct(ctx, op, video.ProductID)
	if err != nil {
		return result, err
	}
	result.ProductStatus = product.Status
	if o.cfg.Publishers == nil || o.cfg.Blobs == nil {
		return result, pipeline.Errorf(pipeline.KindPrecondition, op, "no publishers or blob store configured")
	}

	asset, err := o.buildAsset(ctx, video, product)
	if err != nil {
		return result, err
	}

	var lastErr error
	published := 0
	for _, platform := range platforms {
		pub, err := o.publishOne(ctx, platform, video, asset)
		if pub.ID != "" {
			result.Publications = append(result.Publications, pub)
		}
		if err != nil {
			lastErr = err
			continue
		}
		published++
	}
	if published == 0 {
		o.logger.Warn("distribution failed on every platform",
			zap.String("video_id", video.ID),
			zap.Error(lastErr))
		return result, external(op, lastErr)
	}

	video.Status, err = pipeline.TransitionVideo(video.Status, pipeline.VideoPublish)
	if err != nil {
		return result, pipeline.Wrap(pipeline.KindIllegalTransition, op, err)
	}
	video.UpdatedAt = o.cfg.Clock.Now()
	if err := o.cfg.Store.UpdateVideo(ctx, video); err != nil {
		return result, o.persistenceGap(op, video.ID, err)
	}
	result.VideoStatus = video.Status

	status, err := o.advance(ctx, op, product, pipeline.StageDistribute)
	if err != nil {
		return result, err
	}
	result.ProductStatus = status
	o.logger.Info("video distributed",
		zap.String("video_id", video.ID),
		zap.Int("published", published),
		zap.Int("attempted", len(platforms)))
	o.stageCompleted(ctx, pipeline.StageDistribute, product.ID, video.ID, string(video.Status))
	return result, nil
}

// alreadyPublished reports the stored publications of a published video without
// uploading again, advancing its product if that write was lost.
func (o *Orchestrator) alreadyPublished(ctx context.Context, op string, video pipeline.Video) (DistributeResult, error) {
	result := DistributeResult{VideoID: video.ID, VideoStatus: video.Status}
	product, err := o.loadProduct(ctx, op, video.ProductID)
	if err != nil {
		return result, err
	}
	result.ProductStatus = product.Status
	pubs, err := o.cfg.Store.ListPublications(ctx, video.ID)
	if err != nil {
		return result, pipeline.Wrap(pipeline.KindPersistence, op, err)
	}
	result.Publications = pubs
	status, err := o.catchUp(ctx, op, product, pipeline.StageDistribute)
	result.ProductStatus = status
	return result, err
}

func normalizePlatforms(op string, platforms []pipeline.Platform) ([]pipeline.Platform, error) {
	if len(platforms) == 0 {
		return []pipeline.Platform{pipeline.PlatformYouTube}, nil
	}
	seen := make(map[pipeline.Platform]bool, len(platforms))
	out := make([]pipeline.Platform, 0, len(platforms))
	for _, p := range platforms {
		if !p.Valid() {
			return nil, pipeline.Errorf(pipeline.KindPrecondition, op, "unknown platform %q", p)
		}
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	return out, nil
}

func (o *Orchestrator) buildAsset(ctx context.Context, video pipeline.Video, product pipeline.Product) (distribution.Asset, error) {
	const op = "distribute"
	if video.StorageKey == "" {
		return distribution.Asset{}, pipeline.Errorf(pipeline.KindPrecondition, op, "video %s has no stored file", video.ID)
	}
	data, err := o.cfg.Blobs.GetObject(ctx, video.StorageKey)
	if errors.Is(err, pipeline.ErrNotFound) {
		return distribution.Asset{}, pipeline.Errorf(pipeline.KindPrecondition, op, "video file %s is missing", video.StorageKey)
	}
	if err != nil {
		return distribution.Asset{}, pipeline.Wrap(pipeline.KindTransient, op, err)
	}

	asset := distribution.Asset{
		Key:            video.StorageKey,
		Data:           data,
		ContentType:    "video/mp4",
		Title:          product.Name + " review",
		Description:    product.Description,
		Tags:           []string{"review", "saas", string(product.Source)},
		IdempotencyKey: video.ID,
	}
	if base := strings.TrimRight(o.cfg.PublicBaseURL, "/"); base != "" {
		asset.PublicURL = base + "/" + strings.TrimLeft(video.StorageKey, "/")
	}
	if summary, err := o.cfg.Store.GetSummary(ctx, product.ID); err == nil && summary.Content != "" {
		asset.Description = summary.Content
	}
	return asset, nil
}

// publishOne records and performs one upload. The returned publication is
// zero when the record could not be created.
func (o *Orchestrator) publishOne(ctx context.Context, platform pipeline.Platform, video pipeline.Video, asset distribution.Asset) (pipeline.Publication, error) {
	const op = "distribute"
	id, err := o.newID(op)
	if err != nil {
		return pipeline.Publication{}, err
	}
	pub := pipeline.Publication{
		ID:        id,
		VideoID:   video.ID,
		Platform:  platform,
		Status:    pipeline.PublicationPending,
		CreatedAt: o.cfg.Clock.Now(),
	}
	if err := o.cfg.Store.CreatePublication(ctx, pub); err != nil {
		return pipeline.Publication{}, pipeline.Wrap(pipeline.KindPersistence, op, err)
	}
	pub.Status, _ = pipeline.TransitionPublication(pub.Status, pipeline.PublicationUploadStarted)
	if err := o.cfg.Store.UpdatePublication(ctx, pub); err != nil {
		return pub, pipeline.Wrap(pipeline.KindPersistence, op, err)
	}

	receipt, err := o.upload(ctx, platform, asset)
	if err != nil {
		pub.Status, _ = pipeline.TransitionPublication(pub.Status, pipeline.PublicationUploadFailed)
		pub.Error = err.Error()
		o.logger.Warn("publication failed",
			zap.String("video_id", video.ID),
			zap.String("platform", string(platform)),
			zap.Error(err))
	} else {
		pub.Status, _ = pipeline.TransitionPublication(pub.Status, pipeline.PublicationUploadSucceeded)
		pub.ExternalID = receipt.ExternalID
		pub.ExternalURL = receipt.ExternalURL
		at := o.cfg.Clock.Now()
		pub.PublishedAt = &at
	}
	telemetry.ObservePublication(string(platform), string(pub.Status))
	if uerr := o.cfg.Store.UpdatePublication(ctx, pub); uerr != nil {
		if err == nil {
			return pub, o.persistenceGap(op, pub.ID, uerr)
		}
		o.logger.Error("record failed publication", zap.String("publication_id", pub.ID), zap.Error(uerr))
	}
	return pub, err
}

func (o *Orchestrator) upload(ctx context.Context, platform pipeline.Platform, asset distribution.Asset) (distribution.Receipt, error) {
	publisher, err := o.cfg.Publishers.Get(platform)
	if err != nil {
		return distribution.Receipt{}, retry.Terminal(err)
	}
	receipt, err := retry.Do(ctx, o.cfg.Policies.Distribute.Named("distribute."+string(platform)),
		func(ctx context.Context) (distribution.Receipt, error) {
			return publisher.Publish(ctx, asset)
		})
	if err != nil {
		return distribution.Receipt{}, fmt.Errorf("%s: %w", platform, err)
	}
	return receipt, nil
}
