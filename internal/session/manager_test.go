package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/cadenza/internal/resolver"
	"github.com/MrWong99/cadenza/pkg/audio/mock"
)

// stubResolver returns deterministic tracks keyed by query. Each query gets
// a dedicated mock source so tests can assert it was never opened.
type stubResolver struct {
	mu        sync.Mutex
	Err       error
	Durations map[string]time.Duration
	Calls     []string
	sources   map[string]*mock.Source
}

func (r *stubResolver) Resolve(_ context.Context, query string) (resolver.Track, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Calls = append(r.Calls, query)
	if r.Err != nil {
		return resolver.Track{}, r.Err
	}
	if r.sources == nil {
		r.sources = make(map[string]*mock.Source)
	}
	src, ok := r.sources[query]
	if !ok {
		src = &mock.Source{Data: query}
		r.sources[query] = src
	}
	return resolver.Track{
		Title:    query,
		URL:      "https://tracks.example/" + query,
		Duration: r.Durations[query],
		Source:   src,
	}, nil
}

// source returns the mock source handed out for query, or nil.
func (r *stubResolver) source(query string) *mock.Source {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sources[query]
}

func newTestManager(t *testing.T) (*Manager, *mock.Platform, *mock.Connection, *stubResolver) {
	t.Helper()
	conn := mock.NewConnection()
	platform := &mock.Platform{ConnectResult: conn}
	res := &stubResolver{}
	m := NewManager(Config{
		Platform: platform,
		Resolver: res,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	return m, platform, conn, res
}

// waitFor polls cond until it holds or the deadline expires.
func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestManager_ConcurrentJoinCreatesSingleSession(t *testing.T) {
	t.Parallel()

	m, platform, _, _ := newTestManager(t)
	ctx := context.Background()

	const joiners = 8
	var wg sync.WaitGroup
	errs := make([]error, joiners)
	for i := range joiners {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = m.Join(ctx, "guild-1", "channel-1")
		}()
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("joiner %d: %v", i, err)
		}
	}
	if got := len(platform.ConnectCalls); got != 1 {
		t.Errorf("expected exactly 1 transport connect, got %d", got)
	}
	if got := m.State("guild-1"); got != StateConnected {
		t.Errorf("expected state %v, got %v", StateConnected, got)
	}
}

func TestManager_JoinIsIdempotent(t *testing.T) {
	t.Parallel()

	m, platform, _, _ := newTestManager(t)
	ctx := context.Background()

	if err := m.Join(ctx, "guild-1", "channel-1"); err != nil {
		t.Fatalf("first join: %v", err)
	}
	if err := m.Join(ctx, "guild-1", "channel-1"); err != nil {
		t.Fatalf("second join: %v", err)
	}
	if got := len(platform.ConnectCalls); got != 1 {
		t.Errorf("expected 1 connect, got %d", got)
	}
}

func TestManager_JoinConnectFailureRollsBack(t *testing.T) {
	t.Parallel()

	m, platform, _, _ := newTestManager(t)
	platform.ConnectError = errors.New("gateway refused")
	ctx := context.Background()

	err := m.Join(ctx, "guild-1", "channel-1")
	if !errors.Is(err, ErrTransportFailure) {
		t.Fatalf("expected ErrTransportFailure, got %v", err)
	}
	if got := m.State("guild-1"); got != StateDisconnected {
		t.Errorf("expected full rollback to %v, got %v", StateDisconnected, got)
	}

	// A later join attempt reaches the transport again.
	platform.ConnectError = nil
	if err := m.Join(ctx, "guild-1", "channel-1"); err != nil {
		t.Fatalf("retry join: %v", err)
	}
	if got := len(platform.ConnectCalls); got != 2 {
		t.Errorf("expected 2 connect attempts, got %d", got)
	}
}

func TestManager_ConcurrentLeaveIsIdempotent(t *testing.T) {
	t.Parallel()

	m, _, conn, _ := newTestManager(t)
	ctx := context.Background()
	if err := m.Join(ctx, "guild-1", "channel-1"); err != nil {
		t.Fatalf("join: %v", err)
	}

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = m.Leave(ctx, "guild-1")
		}()
	}
	wg.Wait()

	var succeeded, noSession int
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, ErrNoActiveSession):
			noSession++
		default:
			t.Errorf("unexpected leave error: %v", err)
		}
	}
	if succeeded != 1 || noSession != 1 {
		t.Errorf("expected exactly one teardown and one ErrNoActiveSession, got %d / %d", succeeded, noSession)
	}
	if got := conn.CallCountDisconnect; got != 1 {
		t.Errorf("expected 1 disconnect, got %d", got)
	}
}

func TestManager_EnqueueRequiresConnection(t *testing.T) {
	t.Parallel()

	m, _, _, _ := newTestManager(t)

	_, err := m.Enqueue(context.Background(), "guild-1", "some song")
	if !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
}

func TestManager_EnqueueOrderPreserved(t *testing.T) {
	t.Parallel()

	m, _, _, _ := newTestManager(t)
	ctx := context.Background()
	if err := m.Join(ctx, "guild-1", "channel-1"); err != nil {
		t.Fatalf("join: %v", err)
	}

	for _, q := range []string{"alpha", "bravo", "charlie"} {
		if _, err := m.Enqueue(ctx, "guild-1", q); err != nil {
			t.Fatalf("enqueue %q: %v", q, err)
		}
	}

	listing, err := m.RenderQueue(ctx, "guild-1")
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	lines := strings.Split(listing, "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines, got %d:\n%s", len(lines), listing)
	}
	for i, want := range []string{"alpha", "bravo", "charlie"} {
		if !strings.Contains(lines[i], want) {
			t.Errorf("line %d = %q, expected it to contain %q", i, lines[i], want)
		}
	}
}

// gatedResolver stalls the resolution of one query until released, so a
// test can overlap a slow resolution with later enqueue calls.
type gatedResolver struct {
	*stubResolver
	gateQuery string
	entered   chan struct{}
	release   chan struct{}
}

func (r *gatedResolver) Resolve(ctx context.Context, query string) (resolver.Track, error) {
	if query == r.gateQuery {
		close(r.entered)
		<-r.release
	}
	return r.stubResolver.Resolve(ctx, query)
}

func TestManager_SlowResolveKeepsEnqueueOrder(t *testing.T) {
	t.Parallel()

	conn := mock.NewConnection()
	platform := &mock.Platform{ConnectResult: conn}
	res := &gatedResolver{
		stubResolver: &stubResolver{},
		gateQuery:    "slow ballad",
		entered:      make(chan struct{}),
		release:      make(chan struct{}),
	}
	m := NewManager(Config{
		Platform: platform,
		Resolver: res,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	ctx := context.Background()
	if err := m.Join(ctx, "guild-1", "channel-1"); err != nil {
		t.Fatalf("join: %v", err)
	}

	firstDone := make(chan error, 1)
	go func() {
		_, err := m.Enqueue(ctx, "guild-1", "slow ballad")
		firstDone <- err
	}()
	<-res.entered

	secondDone := make(chan error, 1)
	go func() {
		_, err := m.Enqueue(ctx, "guild-1", "quick jingle")
		secondDone <- err
	}()

	// The second enqueue resolves instantly but must wait behind the
	// stalled one instead of jumping the queue.
	select {
	case err := <-secondDone:
		t.Fatalf("second enqueue finished before the first resolved (err = %v)", err)
	case <-time.After(50 * time.Millisecond):
	}

	close(res.release)
	if err := <-firstDone; err != nil {
		t.Fatalf("enqueue slow ballad: %v", err)
	}
	if err := <-secondDone; err != nil {
		t.Fatalf("enqueue quick jingle: %v", err)
	}

	listing, err := m.RenderQueue(ctx, "guild-1")
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	lines := strings.Split(listing, "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d:\n%s", len(lines), listing)
	}
	if !strings.Contains(lines[0], "slow ballad") || !strings.Contains(lines[1], "quick jingle") {
		t.Fatalf("queue does not follow enqueue-call order:\n%s", listing)
	}
}

func TestManager_EnqueueNeverOpensSource(t *testing.T) {
	t.Parallel()

	m, _, conn, res := newTestManager(t)
	ctx := context.Background()
	if err := m.Join(ctx, "guild-1", "channel-1"); err != nil {
		t.Fatalf("join: %v", err)
	}

	if _, err := m.Enqueue(ctx, "guild-1", "lofi beats"); err != nil {
		t.Fatalf("enqueue head: %v", err)
	}
	if _, err := m.Enqueue(ctx, "guild-1", "more lofi"); err != nil {
		t.Fatalf("enqueue tail: %v", err)
	}

	// The head was handed to the transport once; the queued track was not.
	if got := len(conn.PlayCalls); got != 1 {
		t.Errorf("expected 1 play invocation, got %d", got)
	}
	for _, q := range []string{"lofi beats", "more lofi"} {
		if got := res.source(q).CallCountOpen; got != 0 {
			t.Errorf("source %q opened %d times during resolve/enqueue, want 0", q, got)
		}
	}
}

func TestManager_EnqueueResolveFailure(t *testing.T) {
	t.Parallel()

	m, _, conn, res := newTestManager(t)
	ctx := context.Background()
	if err := m.Join(ctx, "guild-1", "channel-1"); err != nil {
		t.Fatalf("join: %v", err)
	}
	res.Err = resolver.ErrNoResults

	_, err := m.Enqueue(ctx, "guild-1", "does not exist")
	if !errors.Is(err, resolver.ErrNoResults) {
		t.Fatalf("expected ErrNoResults, got %v", err)
	}
	if got := len(conn.PlayCalls); got != 0 {
		t.Errorf("failed resolve must not start playback, got %d plays", got)
	}
	if got := m.State("guild-1"); got != StateConnected {
		t.Errorf("session must survive a failed resolve, state = %v", got)
	}
}

func TestManager_SkipEmptyQueue(t *testing.T) {
	t.Parallel()

	m, _, _, _ := newTestManager(t)
	ctx := context.Background()
	if err := m.Join(ctx, "guild-1", "channel-1"); err != nil {
		t.Fatalf("join: %v", err)
	}

	err := m.Skip(ctx, "guild-1")
	if !errors.Is(err, ErrQueueEmpty) {
		t.Fatalf("expected ErrQueueEmpty, got %v", err)
	}
	if got := m.State("guild-1"); got != StateConnected {
		t.Errorf("skip on empty queue must leave session connected, state = %v", got)
	}
}

func TestManager_SkipWithoutSession(t *testing.T) {
	t.Parallel()

	m, _, _, _ := newTestManager(t)

	err := m.Skip(context.Background(), "guild-1")
	if !errors.Is(err, ErrNoActiveSession) {
		t.Fatalf("expected ErrNoActiveSession, got %v", err)
	}
}

func TestManager_SkipAdvancesToNextTrack(t *testing.T) {
	t.Parallel()

	m, _, _, _ := newTestManager(t)
	ctx := context.Background()
	if err := m.Join(ctx, "guild-1", "channel-1"); err != nil {
		t.Fatalf("join: %v", err)
	}
	for _, q := range []string{"first", "second"} {
		if _, err := m.Enqueue(ctx, "guild-1", q); err != nil {
			t.Fatalf("enqueue %q: %v", q, err)
		}
	}

	if err := m.Skip(ctx, "guild-1"); err != nil {
		t.Fatalf("skip: %v", err)
	}

	waitFor(t, func() bool {
		entry, ok := m.NowPlaying("guild-1")
		return ok && entry.Track.Title == "second"
	}, "queue never advanced to the second track after skip")
}

func TestManager_SkipUntilEmpty(t *testing.T) {
	t.Parallel()

	m, _, _, _ := newTestManager(t)
	ctx := context.Background()
	if err := m.Join(ctx, "guild-1", "channel-1"); err != nil {
		t.Fatalf("join: %v", err)
	}
	for _, q := range []string{"first", "second"} {
		if _, err := m.Enqueue(ctx, "guild-1", q); err != nil {
			t.Fatalf("enqueue %q: %v", q, err)
		}
	}

	if err := m.Skip(ctx, "guild-1"); err != nil {
		t.Fatalf("first skip: %v", err)
	}
	waitFor(t, func() bool {
		entry, ok := m.NowPlaying("guild-1")
		return ok && entry.Track.Title == "second"
	}, "queue never advanced after first skip")

	if err := m.Skip(ctx, "guild-1"); err != nil {
		t.Fatalf("second skip: %v", err)
	}
	waitFor(t, func() bool {
		listing, err := m.RenderQueue(ctx, "guild-1")
		return err == nil && listing == EmptyQueueMessage
	}, "expected empty queue message after skipping everything")

	// One more skip reports an empty queue rather than an error trace.
	if err := m.Skip(ctx, "guild-1"); !errors.Is(err, ErrQueueEmpty) {
		t.Fatalf("expected ErrQueueEmpty, got %v", err)
	}
}

func TestManager_SkipDuringPlaybackStart(t *testing.T) {
	t.Parallel()

	m, _, conn, _ := newTestManager(t)
	ctx := context.Background()
	if err := m.Join(ctx, "guild-1", "channel-1"); err != nil {
		t.Fatalf("join: %v", err)
	}
	for _, q := range []string{"first", "second", "third"} {
		if _, err := m.Enqueue(ctx, "guild-1", q); err != nil {
			t.Fatalf("enqueue %q: %v", q, err)
		}
	}

	// Hold the next playback start in flight so the skip below overlaps it.
	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	conn.PlayHook = func() {
		once.Do(func() {
			close(entered)
			<-release
		})
	}

	conn.EmitFinished(conn.Current())
	<-entered

	skipErr := make(chan error, 1)
	go func() { skipErr <- m.Skip(ctx, "guild-1") }()
	time.Sleep(10 * time.Millisecond)
	close(release)

	if err := <-skipErr; err != nil {
		t.Fatalf("skip: %v", err)
	}
	waitFor(t, func() bool {
		entry, ok := m.NowPlaying("guild-1")
		return ok && entry.Track.Title == "third"
	}, "skip overlapping a playback start did not land on the third track")

	// Exactly one track was dropped; the rest of the queue survived.
	listing, err := m.RenderQueue(ctx, "guild-1")
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if listing == EmptyQueueMessage || strings.Contains(listing, "second") {
		t.Fatalf("skip must drop only the track it targeted, queue:\n%s", listing)
	}
	// Every playback start was accepted; none bounced off a still-active track.
	if got := len(conn.PlayCalls); got != 3 {
		t.Errorf("expected 3 play invocations, got %d", got)
	}
}

func TestManager_TrackCompletionAdvancesQueue(t *testing.T) {
	t.Parallel()

	m, _, conn, _ := newTestManager(t)
	ctx := context.Background()
	if err := m.Join(ctx, "guild-1", "channel-1"); err != nil {
		t.Fatalf("join: %v", err)
	}
	for _, q := range []string{"first", "second"} {
		if _, err := m.Enqueue(ctx, "guild-1", q); err != nil {
			t.Fatalf("enqueue %q: %v", q, err)
		}
	}

	conn.EmitFinished(conn.Current())

	waitFor(t, func() bool {
		entry, ok := m.NowPlaying("guild-1")
		return ok && entry.Track.Title == "second"
	}, "completion event did not advance the queue")
}

func TestManager_PlaybackErrorAdvancesQueue(t *testing.T) {
	t.Parallel()

	m, _, conn, _ := newTestManager(t)
	ctx := context.Background()
	if err := m.Join(ctx, "guild-1", "channel-1"); err != nil {
		t.Fatalf("join: %v", err)
	}
	for _, q := range []string{"broken", "healthy"} {
		if _, err := m.Enqueue(ctx, "guild-1", q); err != nil {
			t.Fatalf("enqueue %q: %v", q, err)
		}
	}

	conn.EmitError(conn.Current(), errors.New("decode failed"))

	// A bad track is logged and skipped; the session survives.
	waitFor(t, func() bool {
		entry, ok := m.NowPlaying("guild-1")
		return ok && entry.Track.Title == "healthy"
	}, "playback error did not advance the queue")
	if got := m.State("guild-1"); got != StateConnected {
		t.Errorf("session must survive a playback error, state = %v", got)
	}
}

func TestManager_LeaveClearsQueue(t *testing.T) {
	t.Parallel()

	m, _, conn, _ := newTestManager(t)
	ctx := context.Background()
	if err := m.Join(ctx, "guild-1", "channel-1"); err != nil {
		t.Fatalf("join: %v", err)
	}
	if _, err := m.Enqueue(ctx, "guild-1", "first"); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	if err := m.Leave(ctx, "guild-1"); err != nil {
		t.Fatalf("leave: %v", err)
	}
	if got := conn.CallCountDisconnect; got != 1 {
		t.Errorf("expected 1 disconnect, got %d", got)
	}
	if _, err := m.RenderQueue(ctx, "guild-1"); !errors.Is(err, ErrNoActiveSession) {
		t.Errorf("expected ErrNoActiveSession after leave, got %v", err)
	}
}

func TestManager_GuildsAreIsolated(t *testing.T) {
	t.Parallel()

	// Each guild gets its own fresh connection from the platform.
	platform := &mock.Platform{}
	res := &stubResolver{}
	m := NewManager(Config{
		Platform: platform,
		Resolver: res,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	ctx := context.Background()

	if err := m.Join(ctx, "guild-1", "channel-1"); err != nil {
		t.Fatalf("join guild-1: %v", err)
	}
	if err := m.Join(ctx, "guild-2", "channel-9"); err != nil {
		t.Fatalf("join guild-2: %v", err)
	}

	if _, err := m.Enqueue(ctx, "guild-1", "only here"); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := m.Leave(ctx, "guild-2"); err != nil {
		t.Fatalf("leave guild-2: %v", err)
	}

	if got := m.State("guild-1"); got != StateConnected {
		t.Errorf("guild-1 must be unaffected by guild-2 teardown, state = %v", got)
	}
	listing, err := m.RenderQueue(ctx, "guild-1")
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if !strings.Contains(listing, "only here") {
		t.Errorf("guild-1 queue lost its entry: %q", listing)
	}
}

func TestManager_ActiveGuilds(t *testing.T) {
	t.Parallel()

	platform := &mock.Platform{}
	m := NewManager(Config{
		Platform: platform,
		Resolver: &stubResolver{},
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	ctx := context.Background()

	if got := m.ActiveGuilds(); len(got) != 0 {
		t.Fatalf("ActiveGuilds = %v, want empty", got)
	}

	for _, g := range []string{"guild-b", "guild-a", "guild-c"} {
		if err := m.Join(ctx, g, "channel-1"); err != nil {
			t.Fatalf("join %s: %v", g, err)
		}
	}

	want := []string{"guild-a", "guild-b", "guild-c"}
	got := m.ActiveGuilds()
	if len(got) != len(want) {
		t.Fatalf("ActiveGuilds = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("ActiveGuilds[%d] = %q, want %q (sorted)", i, got[i], want[i])
		}
	}

	if err := m.Leave(ctx, "guild-b"); err != nil {
		t.Fatalf("leave: %v", err)
	}
	if got := m.ActiveGuilds(); len(got) != 2 {
		t.Errorf("ActiveGuilds after leave = %v, want 2 entries", got)
	}
}
