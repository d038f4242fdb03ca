// Package resolver turns a raw user query (a URL or free-text search) into
// playable track metadata. Resolution fetches lightweight metadata only —
// title, canonical URL, duration — and never the audio payload itself; the
// returned [Track] carries a lazy [audio.Source] that is materialized by the
// transport layer at play time.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kkdai/youtube/v2"
	"github.com/ppalone/ytsearch"
	"golang.org/x/time/rate"

	"github.com/MrWong99/cadenza/pkg/audio"
)

// UnknownTitle is the placeholder used when a lookup succeeds but reports no
// title. A missing title is not a resolution failure.
const UnknownTitle = "Unknown"

// ErrNoResults is returned when a free-text search yields no candidates.
var ErrNoResults = errors.New("resolver: no results for query")

// ErrFetchFailed marks metadata lookups that reached the backend and failed.
// The backend error is joined in so callers can still inspect it.
var ErrFetchFailed = errors.New("resolver: metadata fetch failed")

// defaultTimeout bounds a single resolution's network calls so a hung lookup
// cannot block a guild's enqueue path indefinitely.
const defaultTimeout = 15 * time.Second

// searchRateLimit throttles free-text searches against the backend.
const searchRateLimit = rate.Limit(2) // requests per second

// Track is the resolved, immutable metadata for a single playable track.
type Track struct {
	// Title is the display title, or [UnknownTitle] when the backend
	// reported none.
	Title string

	// URL is the canonical URL of the resolved media. For free-text
	// queries this differs from the original query.
	URL string

	// Duration is the total track length; zero when the backend did not
	// report one.
	Duration time.Duration

	// Source lazily materializes the audio payload at play time.
	Source audio.Source
}

// SearchCandidate is one result from a [SearchBackend] lookup.
type SearchCandidate struct {
	VideoID  string
	Title    string
	Duration string // colon format, e.g. "3:20" or "1:05:20"
}

// SearchBackend performs free-text searches. Implemented by the YouTube
// search client; replaced with a stub in tests.
type SearchBackend interface {
	Search(ctx context.Context, query string) ([]SearchCandidate, error)
}

// VideoBackend fetches metadata for a direct media URL. Implemented by the
// YouTube client; replaced with a stub in tests.
type VideoBackend interface {
	Video(ctx context.Context, url string) (title string, duration time.Duration, err error)
}

// Resolver resolves queries against YouTube. Safe for concurrent use.
type Resolver struct {
	search  SearchBackend
	videos  VideoBackend
	limiter *rate.Limiter
	timeout time.Duration
}

// Option configures a [Resolver].
type Option func(*Resolver)

// WithTimeout overrides the per-resolution network timeout.
func WithTimeout(d time.Duration) Option {
	return func(r *Resolver) { r.timeout = d }
}

// WithSearchRateLimit overrides the search request rate in requests per
// second. Non-positive values keep the default.
func WithSearchRateLimit(perSecond float64) Option {
	return func(r *Resolver) {
		if perSecond > 0 {
			r.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
		}
	}
}

// WithSearchBackend injects a search backend. Used in tests.
func WithSearchBackend(b SearchBackend) Option {
	return func(r *Resolver) { r.search = b }
}

// WithVideoBackend injects a video metadata backend. Used in tests.
func WithVideoBackend(b VideoBackend) Option {
	return func(r *Resolver) { r.videos = b }
}

// New creates a Resolver backed by the public YouTube search and metadata
// endpoints.
func New(opts ...Option) *Resolver {
	ytClient := &youtube.Client{}
	r := &Resolver{
		search:  &ytSearchBackend{client: ytsearch.NewClient(nil)},
		videos:  &ytVideoBackend{client: ytClient},
		limiter: rate.NewLimiter(searchRateLimit, 1),
		timeout: defaultTimeout,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Resolve turns query into a [Track]. A well-formed absolute URL is resolved
// directly; anything else is treated as free text and searched, taking the
// first result only. Only metadata is fetched — the track's audio payload
// stays untouched until the transport opens the returned Source.
func (r *Resolver) Resolve(ctx context.Context, query string) (Track, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return Track{}, fmt.Errorf("resolver: empty query: %w", ErrNoResults)
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if IsURL(query) {
		return r.resolveURL(ctx, query)
	}
	return r.resolveSearch(ctx, query)
}

// resolveURL fetches metadata for a direct media URL.
func (r *Resolver) resolveURL(ctx context.Context, url string) (Track, error) {
	title, duration, err := r.videos.Video(ctx, url)
	if err != nil {
		return Track{}, fmt.Errorf("resolver: fetch metadata for %q: %w", url, errors.Join(ErrFetchFailed, err))
	}
	if title == "" {
		title = UnknownTitle
	}
	return Track{
		Title:    title,
		URL:      url,
		Duration: duration,
		Source:   newYouTubeSource(url),
	}, nil
}

// resolveSearch performs a free-text search and takes the rank-0 result.
// Further candidates are discarded; there is no disambiguation step.
func (r *Resolver) resolveSearch(ctx context.Context, query string) (Track, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return Track{}, fmt.Errorf("resolver: rate limit wait: %w", err)
	}

	candidates, err := r.search.Search(ctx, query)
	if err != nil {
		return Track{}, fmt.Errorf("resolver: search %q: %w", query, errors.Join(ErrFetchFailed, err))
	}
	if len(candidates) == 0 {
		return Track{}, fmt.Errorf("resolver: search %q: %w", query, ErrNoResults)
	}

	first := candidates[0]
	title := first.Title
	if title == "" {
		title = UnknownTitle
	}
	url := watchURL(first.VideoID)
	return Track{
		Title:    title,
		URL:      url,
		Duration: parseColonDuration(first.Duration),
		Source:   newYouTubeSource(url),
	}, nil
}

// IsURL reports whether s looks like an absolute http(s) URL. Queries that
// pass are resolved as direct links; everything else goes through search.
func IsURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

// watchURL builds the canonical watch URL for a video ID.
func watchURL(videoID string) string {
	return "https://www.youtube.com/watch?v=" + videoID
}

// ─── Backends ─────────────────────────────────────────────────────────────────

// ytSearchBackend adapts the ytsearch client to [SearchBackend].
type ytSearchBackend struct {
	client *ytsearch.Client
}

func (b *ytSearchBackend) Search(ctx context.Context, query string) ([]SearchCandidate, error) {
	res, err := b.client.Search(ctx, query)
	if err != nil {
		return nil, err
	}
	out := make([]SearchCandidate, 0, len(res.Results))
	for _, r := range res.Results {
		out = append(out, SearchCandidate{
			VideoID:  r.VideoID,
			Title:    r.Title,
			Duration: r.Duration,
		})
	}
	return out, nil
}

// ytVideoBackend adapts the kkdai YouTube client to [VideoBackend].
type ytVideoBackend struct {
	client *youtube.Client
}

func (b *ytVideoBackend) Video(ctx context.Context, url string) (string, time.Duration, error) {
	video, err := b.client.GetVideoContext(ctx, url)
	if err != nil {
		return "", 0, err
	}
	return video.Title, video.Duration, nil
}
