package pipeline

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestProductForwardChain(t *testing.T) {
	t.Parallel()

	status := ProductDiscovered
	for _, stage := range []Stage{StageEnrich, StageSummarize, StageScore, StageRender, StageDistribute} {
		require.True(t, CanRun(status, stage), "stage %s from %s", stage, status)
		success, _ := StageEvents(stage)
		next, err := TransitionProduct(status, success)
		require.NoError(t, err)
		status = next
	}
	require.Equal(t, ProductPublished, status)
}

func TestProductRejectsSkippedStages(t *testing.T) {
	t.Parallel()

	_, err := TransitionProduct(ProductDiscovered, ProductSummarizedEvent)
	require.ErrorIs(t, err, ErrIllegalTransition)
	require.False(t, CanRun(ProductProcessed, StageRender))
	require.False(t, CanRun(ProductScored, StageEnrich))
	require.Equal(t, KindIllegalTransition, KindOf(err))
}

func TestRollbackReturnsLastCompletedStage(t *testing.T) {
	t.Parallel()

	require.Equal(t, ProductProcessed, Rollback(ProductProcessed, StageSummarize))
	require.Equal(t, ProductDiscovered, Rollback(ProductProcessing, StageEnrich))
	require.Equal(t, ProductSummarized, Rollback(ProductSummarized, StageScore))
	require.Equal(t, ProductScored, Rollback(ProductScored, StageRender))
	require.Equal(t, ProductVideoReady, Rollback(ProductVideoReady, StageDistribute))
}

func TestForcedRerunNeverRegresses(t *testing.T) {
	t.Parallel()

	for _, status := range []ProductStatus{ProductScored, ProductVideoReady, ProductPublished} {
		next, err := TransitionProduct(status, ProductSummarizedEvent)
		require.NoError(t, err)
		require.Equal(t, status, next)
		require.Equal(t, status, Rollback(status, StageSummarize))
	}
}

func TestEveryTableTargetIsAKnownState(t *testing.T) {
	t.Parallel()

	for key, to := range productTransitions {
		require.True(t, key.from.Valid())
		require.True(t, to.Valid())
	}
	for key, to := range videoTransitions {
		require.True(t, key.from.Valid())
		require.True(t, to.Valid())
	}
}

func TestVideoTransitions(t *testing.T) {
	t.Parallel()

	s, err := TransitionVideo(VideoPending, VideoRenderStarted)
	require.NoError(t, err)
	require.Equal(t, VideoRendering, s)

	s, err = TransitionVideo(s, VideoRenderSucceeded)
	require.NoError(t, err)
	require.Equal(t, VideoRendered, s)

	s, err = TransitionVideo(s, VideoApprove)
	require.NoError(t, err)
	require.Equal(t, VideoApproved, s)

	_, err = TransitionVideo(s, VideoReject)
	require.ErrorIs(t, err, ErrIllegalTransition)

	s, err = TransitionVideo(s, VideoPublish)
	require.NoError(t, err)
	require.Equal(t, VideoPublished, s)

	_, err = TransitionVideo(VideoRejected, VideoApprove)
	require.ErrorIs(t, err, ErrIllegalTransition)

	s, err = TransitionVideo(VideoRendering, VideoRenderFailed)
	require.NoError(t, err)
	require.Equal(t, VideoRejected, s)
}

func TestMergeRejectionKeepsExistingKeys(t *testing.T) {
	t.Parallel()

	original := map[string]any{"voice": "alloy"}
	merged := MergeRejection(original, "blurry")

	require.Equal(t, "blurry", merged[RejectionReasonKey])
	require.Equal(t, "alloy", merged["voice"])
	require.NotContains(t, original, RejectionReasonKey)

	require.Equal(t, map[string]any{}, MergeRejection(nil, ""))
}

func TestPublicationTransitions(t *testing.T) {
	t.Parallel()

	s, err := TransitionPublication(PublicationPending, PublicationUploadStarted)
	require.NoError(t, err)
	s, err = TransitionPublication(s, PublicationUploadFailed)
	require.NoError(t, err)
	require.Equal(t, PublicationFailed, s)
	require.True(t, s.Terminal())

	_, err = TransitionPublication(s, PublicationUploadStarted)
	require.ErrorIs(t, err, ErrIllegalTransition)
	_, err = TransitionPublication(PublicationPublished, PublicationUploadSucceeded)
	require.ErrorIs(t, err, ErrIllegalTransition)
}

func TestStageNext(t *testing.T) {
	t.Parallel()

	next, ok := StageEnrich.Next()
	require.True(t, ok)
	require.Equal(t, StageSummarize, next)
	_, ok = StageRender.Next()
	require.False(t, ok)
}
