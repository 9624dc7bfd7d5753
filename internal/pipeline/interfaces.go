package pipeline

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by stores when a record does not exist.
var ErrNotFound = errors.New("record not found")

// Store persists pipeline records. Each method is a single-row write or a read;
// callers never rely on multi-row transactions.
type Store interface {
	CreateDiscoveryRun(ctx context.Context, run DiscoveryRun) error
	CompleteDiscoveryRun(ctx context.Context, run DiscoveryRun) error
	ListDiscoveryRuns(ctx context.Context, limit int) ([]DiscoveryRun, error)

	// InsertProductIfAbsent inserts p unless a product with the same URL exists,
	// in which case the existing product is returned with created=false.
	InsertProductIfAbsent(ctx context.Context, p Product) (product Product, created bool, err error)
	GetProduct(ctx context.Context, id string) (Product, error)
	ListProducts(ctx context.Context, limit int) ([]Product, error)
	UpdateProductStatus(ctx context.Context, id string, status ProductStatus, at time.Time) error

	AddScreenshot(ctx context.Context, s Screenshot) error
	ListScreenshots(ctx context.Context, productID string) ([]Screenshot, error)
	AddPageExtraction(ctx context.Context, e PageExtraction) error
	ListPageExtractions(ctx context.Context, productID string) ([]PageExtraction, error)

	GetSummary(ctx context.Context, productID string) (Summary, error)
	// ReplaceSummary deletes any existing summary for the product and inserts s.
	ReplaceSummary(ctx context.Context, s Summary) error
	GetScore(ctx context.Context, productID string) (Score, error)
	ReplaceScore(ctx context.Context, s Score) error

	CreateVideo(ctx context.Context, v Video) error
	GetVideo(ctx context.Context, id string) (Video, error)
	UpdateVideo(ctx context.Context, v Video) error
	ListVideos(ctx context.Context, filter VideoFilter) ([]VideoListing, error)

	CreatePublication(ctx context.Context, p Publication) error
	UpdatePublication(ctx context.Context, p Publication) error
	ListPublications(ctx context.Context, videoID string) ([]Publication, error)

	Stats(ctx context.Context, recentRuns int) (Stats, error)
}

// BlobStore writes and reads binary artifacts.
type BlobStore interface {
	PutObject(ctx context.Context, key string, contentType string, data []byte) (string, error)
	GetObject(ctx context.Context, key string) ([]byte, error)
}

// Publisher pushes pipeline events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces record IDs.
type IDGenerator interface {
	NewID() (string, error)
}

// QueueItem asks a worker to run one stage for one product.
type QueueItem struct {
	ProductID string
	Stage     Stage
	Attempt   int
}

// Queue provides enqueue/dequeue semantics for stage work.
type Queue interface {
	Enqueue(ctx context.Context, item QueueItem) error
	Dequeue(ctx context.Context) (QueueItem, error)
}

// Event is published after a pipeline step commits.
type Event struct {
	Type      string    `json:"type"`
	ProductID string    `json:"productId,omitempty"`
	VideoID   string    `json:"videoId,omitempty"`
	RunID     string    `json:"runId,omitempty"`
	Stage     Stage     `json:"stage,omitempty"`
	Status    string    `json:"status,omitempty"`
	At        time.Time `json:"at"`
}

// Event types.
const (
	EventDiscoveryCompleted = "discovery.completed"
	EventStageCompleted     = "pipeline.stage_completed"
	EventVideoReviewed      = "video.reviewed"
)
