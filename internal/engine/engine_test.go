package engine_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/seantiz/ember/internal/engine"
	"github.com/seantiz/ember/internal/model"
	"github.com/seantiz/ember/internal/task/tasktest"
)

const waitTimeout = 5 * time.Second

func newTestEngine(t *testing.T, rec *tasktest.Recorder, opts ...engine.Option) *engine.Engine {
	t.Helper()
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	eng, err := engine.NewEngine(tasktest.NewSink(800, 600), rec.Spawner(), logger, opts...)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return eng
}

func startTestEngine(t *testing.T, rec *tasktest.Recorder, opts ...engine.Option) (*engine.Engine, *engine.Running) {
	t.Helper()
	eng := newTestEngine(t, rec, opts...)
	r, err := eng.Start()
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	return eng, r
}

func mustParse(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("url.Parse(%q): %v", raw, err)
	}
	return u
}

func exitAndWait(t *testing.T, r *engine.Running) engine.Exited {
	t.Helper()
	x, err := r.Exit()
	if err != nil {
		t.Fatalf("Exit: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	ex, err := x.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	return ex
}

func TestNewEngineSpawnsInDependencyOrder(t *testing.T) {
	rec := tasktest.NewRecorder()
	newTestEngine(t, rec)

	want := []string{"renderer", "resource", "imagecache", "layout", "content"}
	if got := rec.SpawnOrder(); !slices.Equal(got, want) {
		t.Errorf("spawn order = %v, want %v", got, want)
	}
}

func TestStartTwice(t *testing.T) {
	rec := tasktest.NewRecorder()
	eng, r := startTestEngine(t, rec)
	defer exitAndWait(t, r)

	if _, err := eng.Start(); !errors.Is(err, engine.ErrAlreadyStarted) {
		t.Errorf("second Start error = %v, want ErrAlreadyStarted", err)
	}
}

func TestConnectBeforeStart(t *testing.T) {
	eng := newTestEngine(t, tasktest.NewRecorder())
	if _, err := eng.Connect(); !errors.Is(err, engine.ErrNotStarted) {
		t.Errorf("Connect error = %v, want ErrNotStarted", err)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"http://example.com/index.html", model.KindParse},
		{"http://example.com/app.js", model.KindExecute},
		{"http://example.com/app.js?v=2#top", model.KindExecute},
		{"http://example.com/app.json", model.KindParse},
		{"http://example.com/js", model.KindParse},
		{"http://example.com/scripts.js/", model.KindParse},
		{"http://example.com/?file=app.js", model.KindParse},
		{"file:///tmp/run.js", model.KindExecute},
		{"about:blank", model.KindParse},
	}
	for _, tt := range tests {
		if got := engine.Classify(mustParse(t, tt.raw)); got != tt.want {
			t.Errorf("Classify(%q) = %q, want %q", tt.raw, got, tt.want)
		}
	}
}

func TestLoadURLForwardsClassifiedCommand(t *testing.T) {
	rec := tasktest.NewRecorder()
	_, r := startTestEngine(t, rec)

	urls := []string{
		"http://example.com/index.html",
		"http://example.com/app.js",
		"http://example.com/about",
		"http://example.com/lib/util.js",
	}

	var err error
	for _, raw := range urls {
		r, err = r.LoadURL(mustParse(t, raw))
		if err != nil {
			t.Fatalf("LoadURL(%q): %v", raw, err)
		}
	}
	exitAndWait(t, r)

	var got []tasktest.Event
	for _, ev := range rec.Events() {
		if ev.Name == tasktest.ContentParse || ev.Name == tasktest.ContentExecute {
			got = append(got, ev)
		}
	}

	want := []tasktest.Event{
		{Name: tasktest.ContentParse, URL: urls[0]},
		{Name: tasktest.ContentExecute, URL: urls[1]},
		{Name: tasktest.ContentParse, URL: urls[2]},
		{Name: tasktest.ContentExecute, URL: urls[3]},
	}
	if len(got) != len(want) {
		t.Fatalf("got %d content commands, want %d: %v", len(got), len(want), rec.Names())
	}
	for i := range want {
		if got[i].Name != want[i].Name || got[i].URL != want[i].URL {
			t.Errorf("command[%d] = %s %s, want %s %s", i, got[i].Name, got[i].URL, want[i].Name, want[i].URL)
		}
	}
}

func TestLoadURLConsumesEndpoint(t *testing.T) {
	rec := tasktest.NewRecorder()
	_, r := startTestEngine(t, rec)

	next, err := r.LoadURL(mustParse(t, "http://example.com/index.html"))
	if err != nil {
		t.Fatalf("LoadURL: %v", err)
	}
	if next.ID() == r.ID() {
		t.Errorf("continuation reuses endpoint id %d", r.ID())
	}

	if _, err := r.LoadURL(mustParse(t, "http://example.com/again.html")); !errors.Is(err, engine.ErrEndpointConsumed) {
		t.Errorf("reused LoadURL error = %v, want ErrEndpointConsumed", err)
	}
	if _, err := r.Exit(); !errors.Is(err, engine.ErrEndpointConsumed) {
		t.Errorf("Exit on consumed endpoint error = %v, want ErrEndpointConsumed", err)
	}

	exitAndWait(t, next)

	if n := rec.Count(tasktest.ContentParse); n != 1 {
		t.Errorf("content received %d parse commands, want 1", n)
	}
}

func TestLoadURLNil(t *testing.T) {
	rec := tasktest.NewRecorder()
	_, r := startTestEngine(t, rec)

	if _, err := r.LoadURL(nil); !errors.Is(err, engine.ErrNilURL) {
		t.Errorf("LoadURL(nil) error = %v, want ErrNilURL", err)
	}
	// The endpoint was not consumed.
	exitAndWait(t, r)
}

func TestExitShutdownOrder(t *testing.T) {
	rec := tasktest.NewRecorder()
	_, r := startTestEngine(t, rec)

	next, err := r.LoadURL(mustParse(t, "http://example.com/index.html"))
	if err != nil {
		t.Fatalf("LoadURL: %v", err)
	}
	ex := exitAndWait(t, next)
	if ex.Abandoned != 0 {
		t.Errorf("Abandoned = %d, want 0", ex.Abandoned)
	}
	if ex.At.IsZero() {
		t.Error("Exited.At is zero")
	}

	want := []string{
		tasktest.ContentParse,
		tasktest.ContentExit,
		tasktest.LayoutExit,
		tasktest.RendererExit,
		tasktest.RendererAck,
		tasktest.ImageCacheExit,
		tasktest.ResourceExit,
	}
	if got := rec.Names(); !slices.Equal(got, want) {
		t.Errorf("events = %v, want %v", got, want)
	}
}

func TestRendererAckGatesImageCacheExit(t *testing.T) {
	rec := tasktest.NewRecorder()
	rec.RendererHold = make(chan struct{})
	eng, r := startTestEngine(t, rec)

	x, err := r.Exit()
	if err != nil {
		t.Fatalf("Exit: %v", err)
	}
	if !rec.WaitFor(tasktest.RendererExit, 1, waitTimeout) {
		t.Fatal("renderer never received exit")
	}

	// Still blocked on the renderer: nothing after it may have happened.
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if _, err := x.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Wait before renderer ack error = %v, want DeadlineExceeded", err)
	}
	if n := rec.Count(tasktest.ImageCacheExit); n != 0 {
		t.Fatalf("image cache exited before the renderer acknowledged")
	}
	if eng.Exited() {
		t.Fatal("engine reported exited before the renderer acknowledged")
	}

	close(rec.RendererHold)

	ctx2, cancel2 := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel2()
	if _, err := x.Wait(ctx2); err != nil {
		t.Fatalf("Wait: %v", err)
	}

	names := rec.Names()
	ack := slices.Index(names, tasktest.RendererAck)
	img := slices.Index(names, tasktest.ImageCacheExit)
	if ack < 0 || img < 0 || ack > img {
		t.Errorf("renderer ack at %d, image cache exit at %d: %v", ack, img, names)
	}
}

func TestRendererExitTimeout(t *testing.T) {
	rec := tasktest.NewRecorder()
	rec.RendererNoAck = true
	_, r := startTestEngine(t, rec, engine.WithRendererExitTimeout(50*time.Millisecond))

	exitAndWait(t, r)

	if n := rec.Count(tasktest.RendererAck); n != 0 {
		t.Errorf("renderer ack count = %d, want 0", n)
	}
	if n := rec.Count(tasktest.ImageCacheExit); n != 1 {
		t.Errorf("image cache exit count = %d, want 1", n)
	}
	if n := rec.Count(tasktest.ResourceExit); n != 1 {
		t.Errorf("resource exit count = %d, want 1", n)
	}
}

func TestNoMessagesAfterExited(t *testing.T) {
	rec := tasktest.NewRecorder()
	eng, r := startTestEngine(t, rec)

	other, err := eng.Connect()
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}

	exitAndWait(t, r)
	before := rec.Names()

	if _, err := other.LoadURL(mustParse(t, "http://example.com/late.html")); !errors.Is(err, engine.ErrEngineExited) {
		t.Errorf("LoadURL after exit error = %v, want ErrEngineExited", err)
	}
	if _, err := eng.Connect(); !errors.Is(err, engine.ErrEngineExited) {
		t.Errorf("Connect after exit error = %v, want ErrEngineExited", err)
	}

	// Give any stray sends a chance to land.
	time.Sleep(50 * time.Millisecond)
	if after := rec.Names(); !slices.Equal(before, after) {
		t.Errorf("messages sent after Exited: before %v, after %v", before, after)
	}
}

func TestExitAbandonsOtherEndpoints(t *testing.T) {
	rec := tasktest.NewRecorder()
	eng, r := startTestEngine(t, rec)

	var others []*engine.Running
	for range 3 {
		o, err := eng.Connect()
		if err != nil {
			t.Fatalf("Connect: %v", err)
		}
		others = append(others, o)
	}

	ex := exitAndWait(t, r)
	if ex.Abandoned != 3 {
		t.Errorf("Abandoned = %d, want 3", ex.Abandoned)
	}

	select {
	case <-eng.Done():
	default:
		t.Error("Done not closed after Exited")
	}

	for i, o := range others {
		if _, err := o.Exit(); !errors.Is(err, engine.ErrEngineExited) {
			t.Errorf("abandoned endpoint %d Exit error = %v, want ErrEngineExited", i, err)
		}
	}
	if n := rec.Count(tasktest.ContentExit); n != 1 {
		t.Errorf("content exit count = %d, want 1", n)
	}
}

func TestTwoConcurrentSessions(t *testing.T) {
	rec := tasktest.NewRecorder()
	eng, r := startTestEngine(t, rec)

	second, err := eng.Connect()
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}

	var wg sync.WaitGroup
	conts := make([]*engine.Running, 2)
	for i, ep := range []*engine.Running{r, second} {
		wg.Go(func() {
			next, err := ep.LoadURL(mustParse(t, fmt.Sprintf("http://example.com/page%d.html", i)))
			if err != nil {
				t.Errorf("LoadURL %d: %v", i, err)
				return
			}
			conts[i] = next
		})
	}
	wg.Wait()

	if !rec.WaitFor(tasktest.ContentParse, 2, waitTimeout) {
		t.Fatalf("content parse commands = %d, want 2", rec.Count(tasktest.ContentParse))
	}

	ex := exitAndWait(t, conts[0])
	if ex.Abandoned != 1 {
		t.Errorf("Abandoned = %d, want 1", ex.Abandoned)
	}

	seen := map[string]bool{}
	for _, ev := range rec.Events() {
		if ev.Name == tasktest.ContentParse {
			seen[ev.URL] = true
		}
	}
	for i := range 2 {
		u := fmt.Sprintf("http://example.com/page%d.html", i)
		if !seen[u] {
			t.Errorf("navigation %s was not forwarded", u)
		}
	}
}

func TestManyConcurrentSessionsServicedExactlyOnce(t *testing.T) {
	rec := tasktest.NewRecorder()
	eng, r := startTestEngine(t, rec)

	const sessions, perSession = 16, 10

	var wg sync.WaitGroup
	for s := range sessions {
		ep, err := eng.Connect()
		if err != nil {
			t.Fatalf("Connect: %v", err)
		}
		wg.Go(func() {
			for n := range perSession {
				next, err := ep.LoadURL(mustParse(t, fmt.Sprintf("http://example.com/s%d/n%d.html", s, n)))
				if err != nil {
					t.Errorf("session %d LoadURL %d: %v", s, n, err)
					return
				}
				ep = next
			}
		})
	}
	wg.Wait()

	ex := exitAndWait(t, r)
	if ex.Abandoned != sessions {
		t.Errorf("Abandoned = %d, want %d", ex.Abandoned, sessions)
	}

	counts := map[string]int{}
	for _, ev := range rec.Events() {
		if ev.Name == tasktest.ContentParse {
			counts[ev.URL]++
		}
	}
	if len(counts) != sessions*perSession {
		t.Errorf("distinct navigations = %d, want %d", len(counts), sessions*perSession)
	}
	for u, n := range counts {
		if n != 1 {
			t.Errorf("navigation %s forwarded %d times, want 1", u, n)
		}
	}
}

func TestExitDoesNotWaitForInFlightDispatch(t *testing.T) {
	rec := tasktest.NewRecorder()
	_, r := startTestEngine(t, rec)

	next, err := r.LoadURL(mustParse(t, "http://example.com/slow.html"))
	if err != nil {
		t.Fatalf("LoadURL: %v", err)
	}
	ex := exitAndWait(t, next)
	if ex.Abandoned != 0 {
		t.Errorf("Abandoned = %d, want 0", ex.Abandoned)
	}

	names := rec.Names()
	parse := slices.Index(names, tasktest.ContentParse)
	exit := slices.Index(names, tasktest.ContentExit)
	if parse < 0 || exit < 0 || parse > exit {
		t.Errorf("parse at %d, content exit at %d: %v", parse, exit, names)
	}
}

func TestExitingWaitIsRepeatable(t *testing.T) {
	rec := tasktest.NewRecorder()
	_, r := startTestEngine(t, rec)

	x, err := r.Exit()
	if err != nil {
		t.Fatalf("Exit: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()

	first, err := x.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	second, err := x.Wait(ctx)
	if err != nil {
		t.Fatalf("second Wait: %v", err)
	}
	if !first.At.Equal(second.At) {
		t.Errorf("second Wait = %v, want %v", second, first)
	}
}

func TestExitingConcurrentWaitHonoursOwnContext(t *testing.T) {
	rec := tasktest.NewRecorder()
	rec.RendererHold = make(chan struct{})
	_, r := startTestEngine(t, rec)

	x, err := r.Exit()
	if err != nil {
		t.Fatalf("Exit: %v", err)
	}
	if !rec.WaitFor(tasktest.RendererExit, 1, waitTimeout) {
		t.Fatal("renderer never received exit")
	}

	// A long waiter is parked first; a short waiter must still time out.
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	long := make(chan engine.Exited, 1)
	go func() {
		ex, err := x.Wait(ctx)
		if err != nil {
			t.Errorf("long Wait: %v", err)
		}
		long <- ex
	}()
	time.Sleep(20 * time.Millisecond)

	short, cancelShort := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancelShort()
	start := time.Now()
	if _, err := x.Wait(short); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("short Wait error = %v, want DeadlineExceeded", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("short Wait returned after %v, want about 100ms", elapsed)
	}

	close(rec.RendererHold)

	var first engine.Exited
	select {
	case first = <-long:
	case <-time.After(waitTimeout):
		t.Fatal("long Wait never returned")
	}
	again, err := x.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait after ack: %v", err)
	}
	if !first.At.Equal(again.At) {
		t.Errorf("Wait after ack = %v, want %v", again, first)
	}
}

func TestEventsPublished(t *testing.T) {
	rec := tasktest.NewRecorder()
	eng := newTestEngine(t, rec)
	events, unsub := eng.Broker().Subscribe()
	defer unsub()

	r, err := eng.Start()
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	next, err := r.LoadURL(mustParse(t, "http://example.com/app.js"))
	if err != nil {
		t.Fatalf("LoadURL: %v", err)
	}
	exitAndWait(t, next)

	var types, steps []string
	for ev := range events {
		types = append(types, ev.Type)
		if ev.Type == engine.EventShutdownStep {
			steps = append(steps, ev.Step)
		}
		if ev.Type == engine.EventNavigation && ev.Kind != model.KindExecute {
			t.Errorf("navigation event kind = %q, want execute", ev.Kind)
		}
	}

	if len(types) == 0 || types[0] != engine.EventNavigation || types[len(types)-1] != engine.EventExited {
		t.Errorf("event types = %v", types)
	}
	wantSteps := []string{
		engine.StepContent, engine.StepLayout, engine.StepRenderer,
		engine.StepImageCache, engine.StepResourceLoader,
	}
	if !slices.Equal(steps, wantSteps) {
		t.Errorf("shutdown steps = %v, want %v", steps, wantSteps)
	}
}
