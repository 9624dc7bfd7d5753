package memory

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/JakeFAU/agentic-reviewer/internal/pipeline"
)

// Store implements pipeline.Store for development and tests.
type Store struct {
	mu sync.RWMutex

	runs     map[string]pipeline.DiscoveryRun
	runOrder []string

	products     map[string]pipeline.Product
	productOrder []string
	byURL        map[string]string

	screenshots map[string][]pipeline.Screenshot
	extractions map[string][]pipeline.PageExtraction
	summaries   map[string]pipeline.Summary
	scores      map[string]pipeline.Score

	videos       map[string]pipeline.Video
	videoOrder   []string
	publications map[string][]pipeline.Publication
}

// NewStore constructs an empty Store.
func NewStore() *Store {
	return &Store{
		runs:         make(map[string]pipeline.DiscoveryRun),
		products:     make(map[string]pipeline.Product),
		byURL:        make(map[string]string),
		screenshots:  make(map[string][]pipeline.Screenshot),
		extractions:  make(map[string][]pipeline.PageExtraction),
		summaries:    make(map[string]pipeline.Summary),
		scores:       make(map[string]pipeline.Score),
		videos:       make(map[string]pipeline.Video),
		publications: make(map[string][]pipeline.Publication),
	}
}

// urlKey matches the unique index used by the postgres store.
func urlKey(raw string) string {
	return strings.ToLower(strings.TrimRight(raw, "/"))
}

// CreateDiscoveryRun stores a new run.
func (s *Store) CreateDiscoveryRun(_ context.Context, run pipeline.DiscoveryRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.runs[run.ID]; exists {
		return fmt.Errorf("discovery run %s already exists", run.ID)
	}
	run.Sources = slices.Clone(run.Sources)
	s.runs[run.ID] = run
	s.runOrder = append(s.runOrder, run.ID)
	return nil
}

// CompleteDiscoveryRun overwrites the run's outcome fields.
func (s *Store) CompleteDiscoveryRun(_ context.Context, run pipeline.DiscoveryRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.runs[run.ID]
	if !ok {
		return fmt.Errorf("discovery run %s: %w", run.ID, pipeline.ErrNotFound)
	}
	existing.Status = run.Status
	existing.ProductsFound = run.ProductsFound
	existing.ProductsNew = run.ProductsNew
	existing.Error = run.Error
	existing.CompletedAt = run.CompletedAt
	s.runs[run.ID] = existing
	return nil
}

// ListDiscoveryRuns returns the newest runs first.
func (s *Store) ListDiscoveryRuns(_ context.Context, limit int) ([]pipeline.DiscoveryRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]pipeline.DiscoveryRun, 0, len(s.runOrder))
	for i := len(s.runOrder) - 1; i >= 0; i-- {
		if limit > 0 && len(out) == limit {
			break
		}
		run := s.runs[s.runOrder[i]]
		run.Sources = slices.Clone(run.Sources)
		out = append(out, run)
	}
	return out, nil
}

// InsertProductIfAbsent inserts p unless its URL is already known.
func (s *Store) InsertProductIfAbsent(_ context.Context, p pipeline.Product) (pipeline.Product, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := urlKey(p.URL)
	if id, ok := s.byURL[key]; ok {
		return cloneProduct(s.products[id]), false, nil
	}
	if _, exists := s.products[p.ID]; exists {
		return pipeline.Product{}, false, fmt.Errorf("product %s already exists", p.ID)
	}
	p = cloneProduct(p)
	s.products[p.ID] = p
	s.byURL[key] = p.ID
	s.productOrder = append(s.productOrder, p.ID)
	return cloneProduct(p), true, nil
}

// GetProduct fetches a product by ID.
func (s *Store) GetProduct(_ context.Context, id string) (pipeline.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.products[id]
	if !ok {
		return pipeline.Product{}, fmt.Errorf("product %s: %w", id, pipeline.ErrNotFound)
	}
	return cloneProduct(p), nil
}

// ListProducts returns the most recently discovered products first.
func (s *Store) ListProducts(_ context.Context, limit int) ([]pipeline.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]pipeline.Product, 0, len(s.productOrder))
	for i := len(s.productOrder) - 1; i >= 0; i-- {
		out = append(out, cloneProduct(s.products[s.productOrder[i]]))
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].DiscoveredAt.After(out[j].DiscoveredAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// UpdateProductStatus sets the product's status.
func (s *Store) UpdateProductStatus(_ context.Context, id string, status pipeline.ProductStatus, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[id]
	if !ok {
		return fmt.Errorf("product %s: %w", id, pipeline.ErrNotFound)
	}
	p.Status = status
	p.UpdatedAt = at
	s.products[id] = p
	return nil
}

// AddScreenshot records a capture. A second capture of the same page type is ignored.
func (s *Store) AddScreenshot(_ context.Context, shot pipeline.Screenshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.screenshots[shot.ProductID] {
		if existing.Type == shot.Type {
			return nil
		}
	}
	s.screenshots[shot.ProductID] = append(s.screenshots[shot.ProductID], shot)
	return nil
}

// ListScreenshots returns a product's screenshots in insertion order.
func (s *Store) ListScreenshots(_ context.Context, productID string) ([]pipeline.Screenshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.screenshots[productID]), nil
}

// AddPageExtraction records extracted text. A second extraction of the same page type is ignored.
func (s *Store) AddPageExtraction(_ context.Context, e pipeline.PageExtraction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.extractions[e.ProductID] {
		if existing.PageType == e.PageType {
			return nil
		}
	}
	e.Headings = slices.Clone(e.Headings)
	s.extractions[e.ProductID] = append(s.extractions[e.ProductID], e)
	return nil
}

// ListPageExtractions returns a product's extractions in insertion order.
func (s *Store) ListPageExtractions(_ context.Context, productID string) ([]pipeline.PageExtraction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	src := s.extractions[productID]
	out := make([]pipeline.PageExtraction, len(src))
	for i, e := range src {
		e.Headings = slices.Clone(e.Headings)
		out[i] = e
	}
	return out, nil
}

// GetSummary returns the product's summary.
func (s *Store) GetSummary(_ context.Context, productID string) (pipeline.Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sum, ok := s.summaries[productID]
	if !ok {
		return pipeline.Summary{}, fmt.Errorf("summary for %s: %w", productID, pipeline.ErrNotFound)
	}
	return cloneSummary(sum), nil
}

// ReplaceSummary swaps in a new summary for the product.
func (s *Store) ReplaceSummary(_ context.Context, sum pipeline.Summary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.summaries[sum.ProductID] = cloneSummary(sum)
	return nil
}

// GetScore returns the product's score.
func (s *Store) GetScore(_ context.Context, productID string) (pipeline.Score, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	score, ok := s.scores[productID]
	if !ok {
		return pipeline.Score{}, fmt.Errorf("score for %s: %w", productID, pipeline.ErrNotFound)
	}
	return score, nil
}

// ReplaceScore swaps in a new score for the product.
func (s *Store) ReplaceScore(_ context.Context, score pipeline.Score) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scores[score.ProductID] = score
	return nil
}

// CreateVideo stores a new video.
func (s *Store) CreateVideo(_ context.Context, v pipeline.Video) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.videos[v.ID]; exists {
		return fmt.Errorf("video %s already exists", v.ID)
	}
	s.videos[v.ID] = cloneVideo(v)
	s.videoOrder = append(s.videoOrder, v.ID)
	return nil
}

// GetVideo fetches a video by ID.
func (s *Store) GetVideo(_ context.Context, id string) (pipeline.Video, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.videos[id]
	if !ok {
		return pipeline.Video{}, fmt.Errorf("video %s: %w", id, pipeline.ErrNotFound)
	}
	return cloneVideo(v), nil
}

// UpdateVideo overwrites a stored video.
func (s *Store) UpdateVideo(_ context.Context, v pipeline.Video) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.videos[v.ID]; !ok {
		return fmt.Errorf("video %s: %w", v.ID, pipeline.ErrNotFound)
	}
	s.videos[v.ID] = cloneVideo(v)
	return nil
}

// ListVideos returns matching videos newest first, joined with product names.
func (s *Store) ListVideos(_ context.Context, filter pipeline.VideoFilter) ([]pipeline.VideoListing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []pipeline.VideoListing{}
	for i := len(s.videoOrder) - 1; i >= 0; i-- {
		v := s.videos[s.videoOrder[i]]
		if filter.Status != "" && v.Status != filter.Status {
			continue
		}
		if filter.ProductID != "" && v.ProductID != filter.ProductID {
			continue
		}
		out = append(out, pipeline.VideoListing{Video: cloneVideo(v), ProductName: s.products[v.ProductID].Name})
	}
	return out, nil
}

// CreatePublication stores a new publication attempt.
func (s *Store) CreatePublication(_ context.Context, p pipeline.Publication) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.publications[p.VideoID] = append(s.publications[p.VideoID], p)
	return nil
}

// UpdatePublication overwrites a stored publication.
func (s *Store) UpdatePublication(_ context.Context, p pipeline.Publication) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	pubs := s.publications[p.VideoID]
	for i := range pubs {
		if pubs[i].ID == p.ID {
			pubs[i] = p
			return nil
		}
	}
	return fmt.Errorf("publication %s: %w", p.ID, pipeline.ErrNotFound)
}

// ListPublications returns a video's publications in creation order.
func (s *Store) ListPublications(_ context.Context, videoID string) ([]pipeline.Publication, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.publications[videoID]), nil
}

// Stats rolls up products and videos by status.
func (s *Store) Stats(ctx context.Context, recentRuns int) (pipeline.Stats, error) {
	runs, err := s.ListDiscoveryRuns(ctx, recentRuns)
	if err != nil {
		return pipeline.Stats{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	stats := pipeline.Stats{
		TotalProducts:       len(s.products),
		ProductsByStatus:    make(map[pipeline.ProductStatus]int),
		VideosByStatus:      make(map[pipeline.VideoStatus]int),
		RecentDiscoveryRuns: runs,
	}
	for _, p := range s.products {
		stats.ProductsByStatus[p.Status]++
	}
	for _, v := range s.videos {
		stats.VideosByStatus[v.Status]++
	}
	return stats, nil
}

func cloneProduct(p pipeline.Product) pipeline.Product {
	p.Metadata = maps.Clone(p.Metadata)
	return p
}

func cloneVideo(v pipeline.Video) pipeline.Video {
	v.Metadata = maps.Clone(v.Metadata)
	return v
}

func cloneSummary(s pipeline.Summary) pipeline.Summary {
	s.KeyFeatures = slices.Clone(s.KeyFeatures)
	s.Pros = slices.Clone(s.Pros)
	s.Cons = slices.Clone(s.Cons)
	return s
}
