// Package pipeline defines the records, lifecycle and collaborator contracts
// shared by every stage of the review pipeline.
package pipeline

import "time"

// Source identifies where a product was discovered.
type Source string

// Known discovery sources.
const (
	SourceProductHunt Source = "producthunt"
	SourceHackerNews  Source = "hackernews"
	SourceReddit      Source = "reddit"
	SourceManual      Source = "manual"
)

// Product is a discovered candidate moving through the pipeline.
type Product struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	URL          string         `json:"url"`
	Source       Source         `json:"source"`
	Description  string         `json:"description,omitempty"`
	Status       ProductStatus  `json:"status"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	DiscoveredAt time.Time      `json:"discoveredAt"`
	UpdatedAt    time.Time      `json:"updatedAt"`
}

// RunStatus is the state of a discovery run.
type RunStatus string

// Discovery run states.
const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// DiscoveryRun records one aggregation over a set of sources.
type DiscoveryRun struct {
	ID            string     `json:"id"`
	Sources       []string   `json:"sources"`
	Status        RunStatus  `json:"status"`
	ProductsFound int        `json:"productsFound"`
	ProductsNew   int        `json:"productsNew"`
	Error         string     `json:"error,omitempty"`
	StartedAt     time.Time  `json:"startedAt"`
	CompletedAt   *time.Time `json:"completedAt,omitempty"`
}

// PageType names the product page an artifact was captured from.
type PageType string

// Captured page types.
const (
	PageHero     PageType = "hero"
	PagePricing  PageType = "pricing"
	PageFeatures PageType = "features"
)

// Screenshot is an uploaded capture of one product page.
type Screenshot struct {
	ID        string    `json:"id"`
	ProductID string    `json:"productId"`
	URL       string    `json:"url"`
	PageURL   string    `json:"pageUrl"`
	Type      PageType  `json:"type"`
	Width     int       `json:"width"`
	Height    int       `json:"height"`
	CreatedAt time.Time `json:"createdAt"`
}

// PageExtraction is the text content pulled from one product page.
type PageExtraction struct {
	ID         string    `json:"id"`
	ProductID  string    `json:"productId"`
	PageURL    string    `json:"pageUrl"`
	PageType   PageType  `json:"pageType"`
	Title      string    `json:"title"`
	Headings   []string  `json:"headings"`
	BodyText   string    `json:"bodyText"`
	LoadTimeMs int64     `json:"loadTimeMs"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Summary is the LLM review of a product. At most one exists per product.
type Summary struct {
	ID             string    `json:"id"`
	ProductID      string    `json:"productId"`
	Content        string    `json:"content"`
	TargetAudience string    `json:"targetAudience"`
	KeyFeatures    []string  `json:"keyFeatures"`
	Pros           []string  `json:"pros"`
	Cons           []string  `json:"cons"`
	Model          string    `json:"model"`
	CreatedAt      time.Time `json:"createdAt"`
}

// Score is the LLM rating of a product. At most one exists per product.
type Score struct {
	ID          string    `json:"id"`
	ProductID   string    `json:"productId"`
	Overall     float64   `json:"overall"`
	UX          float64   `json:"uxScore"`
	Performance float64   `json:"performanceScore"`
	Features    float64   `json:"featureScore"`
	Value       float64   `json:"valueScore"`
	Reasoning   string    `json:"reasoning"`
	Model       string    `json:"model"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Format is a video layout.
type Format string

// Supported video formats.
const (
	FormatYouTubeLong   Format = "youtube_long"
	FormatTikTokShort   Format = "tiktok_short"
	FormatInstagramReel Format = "instagram_reel"
)

// Valid reports whether f is a known format.
func (f Format) Valid() bool {
	switch f {
	case FormatYouTubeLong, FormatTikTokShort, FormatInstagramReel:
		return true
	}
	return false
}

// Video is a rendered review for a product.
type Video struct {
	ID           string         `json:"id"`
	ProductID    string         `json:"productId"`
	Status       VideoStatus    `json:"status"`
	Format       Format         `json:"format"`
	StorageKey   string         `json:"storageKey"`
	ThumbnailKey string         `json:"thumbnailKey,omitempty"`
	DurationSec  int            `json:"durationSec"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	CreatedAt    time.Time      `json:"createdAt"`
	UpdatedAt    time.Time      `json:"updatedAt"`
}

// Platform is a distribution target.
type Platform string

// Supported platforms.
const (
	PlatformYouTube   Platform = "youtube"
	PlatformTikTok    Platform = "tiktok"
	PlatformInstagram Platform = "instagram"
)

// Valid reports whether p is a known platform.
func (p Platform) Valid() bool {
	switch p {
	case PlatformYouTube, PlatformTikTok, PlatformInstagram:
		return true
	}
	return false
}

// Publication is one upload of a video to one platform.
type Publication struct {
	ID          string            `json:"id"`
	VideoID     string            `json:"videoId"`
	Platform    Platform          `json:"platform"`
	Status      PublicationStatus `json:"status"`
	ExternalID  string            `json:"externalId,omitempty"`
	ExternalURL string            `json:"externalUrl,omitempty"`
	Error       string            `json:"error,omitempty"`
	PublishedAt *time.Time        `json:"publishedAt,omitempty"`
	CreatedAt   time.Time         `json:"createdAt"`
}

// VideoFilter narrows a video listing.
type VideoFilter struct {
	Status    VideoStatus
	ProductID string
}

// VideoListing is a video joined with its product name.
type VideoListing struct {
	Video
	ProductName string `json:"productName"`
}

// Stats is the dashboard rollup.
type Stats struct {
	TotalProducts       int                   `json:"totalProducts"`
	ProductsByStatus    map[ProductStatus]int `json:"productsByStatus"`
	VideosByStatus      map[VideoStatus]int   `json:"videosByStatus"`
	RecentDiscoveryRuns []DiscoveryRun        `json:"recentDiscoveryRuns"`
}

// ProductDetail bundles a product with its artifacts.
type ProductDetail struct {
	Product
	Screenshots []Screenshot `json:"screenshots"`
	Summary     *Summary     `json:"summary"`
	Score       *Score       `json:"score"`
	Videos      []Video      `json:"videos"`
}
