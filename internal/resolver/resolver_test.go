package resolver

import (
	"context"
	"errors"
	"testing"
	"time"
)

// ─── Stubs ────────────────────────────────────────────────────────────────────

type stubSearch struct {
	Results   []SearchCandidate
	Err       error
	CallCount int
	LastQuery string
}

func (s *stubSearch) Search(_ context.Context, query string) ([]SearchCandidate, error) {
	s.CallCount++
	s.LastQuery = query
	return s.Results, s.Err
}

type stubVideos struct {
	Title     string
	Duration  time.Duration
	Err       error
	CallCount int
	LastURL   string
}

func (s *stubVideos) Video(_ context.Context, url string) (string, time.Duration, error) {
	s.CallCount++
	s.LastURL = url
	return s.Title, s.Duration, s.Err
}

// ─── Tests ────────────────────────────────────────────────────────────────────

func TestResolver_ResolveURL(t *testing.T) {
	t.Parallel()

	search := &stubSearch{}
	videos := &stubVideos{Title: "Some Song", Duration: 3*time.Minute + 20*time.Second}
	r := New(WithSearchBackend(search), WithVideoBackend(videos))

	track, err := r.Resolve(context.Background(), "https://www.youtube.com/watch?v=abc123")
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if track.Title != "Some Song" {
		t.Errorf("expected title %q, got %q", "Some Song", track.Title)
	}
	if track.URL != "https://www.youtube.com/watch?v=abc123" {
		t.Errorf("unexpected URL %q", track.URL)
	}
	if track.Duration != 3*time.Minute+20*time.Second {
		t.Errorf("unexpected duration %v", track.Duration)
	}
	if track.Source == nil {
		t.Error("expected a lazy source, got nil")
	}
	if search.CallCount != 0 {
		t.Errorf("URL resolution must not hit the search backend, got %d calls", search.CallCount)
	}
	if videos.CallCount != 1 {
		t.Errorf("expected 1 metadata fetch, got %d", videos.CallCount)
	}
}

func TestResolver_ResolveURLTitleFallback(t *testing.T) {
	t.Parallel()

	videos := &stubVideos{Title: ""}
	r := New(WithSearchBackend(&stubSearch{}), WithVideoBackend(videos))

	track, err := r.Resolve(context.Background(), "https://example.com/media")
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if track.Title != UnknownTitle {
		t.Errorf("expected fallback title %q, got %q", UnknownTitle, track.Title)
	}
}

func TestResolver_ResolveURLFetchFailure(t *testing.T) {
	t.Parallel()

	fetchErr := errors.New("boom")
	r := New(WithSearchBackend(&stubSearch{}), WithVideoBackend(&stubVideos{Err: fetchErr}))

	_, err := r.Resolve(context.Background(), "https://example.com/broken")
	if !errors.Is(err, fetchErr) {
		t.Fatalf("expected wrapped fetch error, got %v", err)
	}
	if !errors.Is(err, ErrFetchFailed) {
		t.Errorf("expected ErrFetchFailed, got %v", err)
	}
}

func TestResolver_ResolveSearchTakesFirstResult(t *testing.T) {
	t.Parallel()

	search := &stubSearch{Results: []SearchCandidate{
		{VideoID: "first01", Title: "First Hit", Duration: "3:20"},
		{VideoID: "second2", Title: "Second Hit", Duration: "10:00"},
	}}
	videos := &stubVideos{}
	r := New(WithSearchBackend(search), WithVideoBackend(videos))

	track, err := r.Resolve(context.Background(), "some song")
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if track.Title != "First Hit" {
		t.Errorf("expected rank-0 title, got %q", track.Title)
	}
	if want := "https://www.youtube.com/watch?v=first01"; track.URL != want {
		t.Errorf("expected URL %q, got %q", want, track.URL)
	}
	if track.Duration != 3*time.Minute+20*time.Second {
		t.Errorf("unexpected duration %v", track.Duration)
	}
	if search.LastQuery != "some song" {
		t.Errorf("unexpected search query %q", search.LastQuery)
	}
	if videos.CallCount != 0 {
		t.Errorf("search resolution must not hit the video backend, got %d calls", videos.CallCount)
	}
}

func TestResolver_ResolveSearchNoResults(t *testing.T) {
	t.Parallel()

	r := New(WithSearchBackend(&stubSearch{}), WithVideoBackend(&stubVideos{}))

	_, err := r.Resolve(context.Background(), "nothing matches this")
	if !errors.Is(err, ErrNoResults) {
		t.Fatalf("expected ErrNoResults, got %v", err)
	}
}

func TestResolver_ResolveSearchFailure(t *testing.T) {
	t.Parallel()

	searchErr := errors.New("backend down")
	r := New(WithSearchBackend(&stubSearch{Err: searchErr}), WithVideoBackend(&stubVideos{}))

	_, err := r.Resolve(context.Background(), "some song")
	if !errors.Is(err, searchErr) {
		t.Fatalf("expected wrapped search error, got %v", err)
	}
}

func TestResolver_ResolveEmptyQuery(t *testing.T) {
	t.Parallel()

	r := New(WithSearchBackend(&stubSearch{}), WithVideoBackend(&stubVideos{}))

	_, err := r.Resolve(context.Background(), "   ")
	if !errors.Is(err, ErrNoResults) {
		t.Fatalf("expected ErrNoResults for empty query, got %v", err)
	}
}

func TestIsURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
		want  bool
	}{
		{"https link", "https://youtu.be/abc123", true},
		{"http link", "http://example.com/watch", true},
		{"search phrase", "lofi hip hop radio", false},
		{"scheme mid-string", "play https://youtu.be/abc123", false},
		{"bare host", "youtube.com/watch?v=abc123", false},
		{"empty", "", false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := IsURL(tc.input); got != tc.want {
				t.Errorf("IsURL(%q) = %v, want %v", tc.input, got, tc.want)
			}
		})
	}
}

func TestParseColonDuration(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
		want  time.Duration
	}{
		{"seconds only", "45", 45 * time.Second},
		{"minutes and seconds", "3:20", 3*time.Minute + 20*time.Second},
		{"hours", "1:05:20", time.Hour + 5*time.Minute + 20*time.Second},
		{"empty", "", 0},
		{"garbage", "live", 0},
		{"too many fields", "1:2:3:4", 0},
		{"negative", "-3:20", 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := parseColonDuration(tc.input); got != tc.want {
				t.Errorf("parseColonDuration(%q) = %v, want %v", tc.input, got, tc.want)
			}
		})
	}
}
