package pipeline

import (
	"errors"
	"fmt"
	"maps"
)

// ErrIllegalTransition is returned when no table row matches (state, event).
var ErrIllegalTransition = errors.New("illegal transition")

// ProductStatus is the last pipeline stage a product completed.
type ProductStatus string

// Product states in pipeline order.
const (
	ProductDiscovered ProductStatus = "discovered"
	ProductProcessing ProductStatus = "processing"
	ProductProcessed  ProductStatus = "processed"
	ProductSummarized ProductStatus = "summarized"
	ProductScored     ProductStatus = "scored"
	ProductVideoReady ProductStatus = "video_ready"
	ProductPublished  ProductStatus = "published"
)

// ProductStatuses lists every product state in pipeline order.
var ProductStatuses = []ProductStatus{
	ProductDiscovered, ProductProcessing, ProductProcessed, ProductSummarized,
	ProductScored, ProductVideoReady, ProductPublished,
}

// Valid reports whether s is a defined product state.
func (s ProductStatus) Valid() bool {
	for _, known := range ProductStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// Stage is one step of the product pipeline.
type Stage string

// Pipeline stages.
const (
	StageEnrich     Stage = "enrich"
	StageSummarize  Stage = "summarize"
	StageScore      Stage = "score"
	StageRender     Stage = "render"
	StageDistribute Stage = "distribute"
)

// Next returns the stage that follows s in the automatic chain, if any.
// Distribution waits on human approval, so render has no successor.
func (s Stage) Next() (Stage, bool) {
	switch s {
	case StageEnrich:
		return StageSummarize, true
	case StageSummarize:
		return StageScore, true
	case StageScore:
		return StageRender, true
	}
	return "", false
}

// ProductEvent is a stage outcome applied to a product.
type ProductEvent string

// Product events. The *Failed events resolve to the rollback state.
const (
	ProductEnriched         ProductEvent = "enriched"
	ProductSummarizedEvent  ProductEvent = "summarized"
	ProductScoredEvent      ProductEvent = "scored"
	ProductVideoRendered    ProductEvent = "video_rendered"
	ProductPublishedEvent   ProductEvent = "published"
	ProductEnrichFailed     ProductEvent = "enrich_failed"
	ProductSummarizeFailed  ProductEvent = "summarize_failed"
	ProductScoreFailed      ProductEvent = "score_failed"
	ProductRenderFailed     ProductEvent = "render_failed"
	ProductDistributeFailed ProductEvent = "distribute_failed"
)

type productKey struct {
	from  ProductStatus
	event ProductEvent
}

// productTransitions is the full product table. A re-run of an earlier stage on
// a product that has moved past it maps to a self-loop so status never regresses.
var productTransitions = buildProductTable()

func buildProductTable() map[productKey]ProductStatus {
	t := map[productKey]ProductStatus{
		{ProductDiscovered, ProductEnriched}:       ProductProcessed,
		{ProductProcessing, ProductEnriched}:       ProductProcessed,
		{ProductProcessed, ProductSummarizedEvent}: ProductSummarized,
		{ProductSummarized, ProductScoredEvent}:    ProductScored,
		{ProductScored, ProductVideoRendered}:      ProductVideoReady,
		{ProductVideoReady, ProductPublishedEvent}: ProductPublished,

		{ProductDiscovered, ProductEnrichFailed}:     ProductDiscovered,
		{ProductProcessing, ProductEnrichFailed}:     ProductDiscovered,
		{ProductProcessed, ProductSummarizeFailed}:   ProductProcessed,
		{ProductSummarized, ProductScoreFailed}:      ProductSummarized,
		{ProductScored, ProductRenderFailed}:         ProductScored,
		{ProductVideoReady, ProductDistributeFailed}: ProductVideoReady,
	}
	selfLoop := func(from ProductStatus, events ...ProductEvent) {
		for _, e := range events {
			t[productKey{from, e}] = from
		}
	}
	selfLoop(ProductSummarized, ProductSummarizedEvent)
	selfLoop(ProductScored, ProductSummarizedEvent, ProductScoredEvent, ProductSummarizeFailed, ProductScoreFailed)
	selfLoop(ProductVideoReady,
		ProductSummarizedEvent, ProductScoredEvent, ProductVideoRendered,
		ProductSummarizeFailed, ProductScoreFailed, ProductRenderFailed)
	selfLoop(ProductPublished,
		ProductSummarizedEvent, ProductScoredEvent, ProductVideoRendered, ProductPublishedEvent,
		ProductSummarizeFailed, ProductScoreFailed, ProductRenderFailed, ProductDistributeFailed)
	return t
}

// TransitionProduct applies event to from.
func TransitionProduct(from ProductStatus, event ProductEvent) (ProductStatus, error) {
	to, ok := productTransitions[productKey{from, event}]
	if !ok {
		return from, fmt.Errorf("%w: product %s on %s", ErrIllegalTransition, from, event)
	}
	return to, nil
}

// StageEvents returns the success and failure events a stage emits.
func StageEvents(stage Stage) (success, failure ProductEvent) {
	switch stage {
	case StageEnrich:
		return ProductEnriched, ProductEnrichFailed
	case StageSummarize:
		return ProductSummarizedEvent, ProductSummarizeFailed
	case StageScore:
		return ProductScoredEvent, ProductScoreFailed
	case StageRender:
		return ProductVideoRendered, ProductRenderFailed
	default:
		return ProductPublishedEvent, ProductDistributeFailed
	}
}

// CanRun reports whether stage may run against a product in status from.
func CanRun(from ProductStatus, stage Stage) bool {
	success, _ := StageEvents(stage)
	_, ok := productTransitions[productKey{from, success}]
	return ok
}

// Rollback returns the state a product returns to when stage fails while the
// product is in from. That is the last stage it completed.
func Rollback(from ProductStatus, stage Stage) ProductStatus {
	_, failure := StageEvents(stage)
	to, err := TransitionProduct(from, failure)
	if err != nil {
		return from
	}
	return to
}

// VideoStatus is the review state of a rendered video.
type VideoStatus string

// Video states.
const (
	VideoPending   VideoStatus = "pending"
	VideoRendering VideoStatus = "rendering"
	VideoRendered  VideoStatus = "rendered"
	VideoApproved  VideoStatus = "approved"
	VideoPublished VideoStatus = "published"
	VideoRejected  VideoStatus = "rejected"
)

// Valid reports whether s is a defined video state.
func (s VideoStatus) Valid() bool {
	switch s {
	case VideoPending, VideoRendering, VideoRendered, VideoApproved, VideoPublished, VideoRejected:
		return true
	}
	return false
}

// VideoEvent drives the video table.
type VideoEvent string

// Video events.
const (
	VideoRenderStarted   VideoEvent = "render_started"
	VideoRenderSucceeded VideoEvent = "render_succeeded"
	VideoRenderFailed    VideoEvent = "render_failed"
	VideoApprove         VideoEvent = "approve"
	VideoReject          VideoEvent = "reject"
	VideoPublish         VideoEvent = "publish"
)

type videoKey struct {
	from  VideoStatus
	event VideoEvent
}

var videoTransitions = map[videoKey]VideoStatus{
	{VideoPending, VideoRenderStarted}:     VideoRendering,
	{VideoRendering, VideoRenderSucceeded}: VideoRendered,
	{VideoRendering, VideoRenderFailed}:    VideoRejected,
	{VideoRendered, VideoApprove}:          VideoApproved,
	{VideoRendered, VideoReject}:           VideoRejected,
	{VideoApproved, VideoPublish}:          VideoPublished,
}

// TransitionVideo applies event to from.
func TransitionVideo(from VideoStatus, event VideoEvent) (VideoStatus, error) {
	to, ok := videoTransitions[videoKey{from, event}]
	if !ok {
		return from, fmt.Errorf("%w: video %s on %s", ErrIllegalTransition, from, event)
	}
	return to, nil
}

// RejectionReasonKey is the metadata key a reviewer's reason is stored under.
const RejectionReasonKey = "rejectionReason"

// MergeRejection returns a copy of metadata with reason recorded. Existing keys survive.
func MergeRejection(metadata map[string]any, reason string) map[string]any {
	merged := make(map[string]any, len(metadata)+1)
	maps.Copy(merged, metadata)
	if reason != "" {
		merged[RejectionReasonKey] = reason
	}
	return merged
}

// PublicationStatus is the state of one upload.
type PublicationStatus string

// Publication states. Published and failed are terminal.
const (
	PublicationPending   PublicationStatus = "pending"
	PublicationUploading PublicationStatus = "uploading"
	PublicationPublished PublicationStatus = "published"
	PublicationFailed    PublicationStatus = "failed"
)

// PublicationEvent drives the publication table.
type PublicationEvent string

// Publication events.
const (
	PublicationUploadStarted   PublicationEvent = "upload_started"
	PublicationUploadSucceeded PublicationEvent = "upload_succeeded"
	PublicationUploadFailed    PublicationEvent = "upload_failed"
)

type publicationKey struct {
	from  PublicationStatus
	event PublicationEvent
}

var publicationTransitions = map[publicationKey]PublicationStatus{
	{PublicationPending, PublicationUploadStarted}:     PublicationUploading,
	{PublicationUploading, PublicationUploadSucceeded}: PublicationPublished,
	{PublicationUploading, PublicationUploadFailed}:    PublicationFailed,
}

// TransitionPublication applies event to from.
func TransitionPublication(from PublicationStatus, event PublicationEvent) (PublicationStatus, error) {
	to, ok := publicationTransitions[publicationKey{from, event}]
	if !ok {
		return from, fmt.Errorf("%w: publication %s on %s", ErrIllegalTransition, from, event)
	}
	return to, nil
}

// Terminal reports whether a publication can no longer change.
func (s PublicationStatus) Terminal() bool {
	return s == PublicationPublished || s == PublicationFailed
}
