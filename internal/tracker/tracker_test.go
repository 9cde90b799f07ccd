package tracker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/y0f/primotiming/internal/checker"
	"github.com/y0f/primotiming/internal/storage"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type logEntry struct {
	Level slog.Level
	Msg   string
	Attrs map[string]any
}

type recorder struct {
	mu      sync.Mutex
	entries []logEntry
}

func (r *recorder) atLeast(level slog.Level) []logEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []logEntry
	for _, e := range r.entries {
		if e.Level >= level {
			out = append(out, e)
		}
	}
	return out
}

// recordHandler keeps every record so tests can assert on what was logged.
type recordHandler struct {
	rec   *recorder
	attrs []slog.Attr
}

func (h *recordHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *recordHandler) Handle(_ context.Context, r slog.Record) error {
	e := logEntry{Level: r.Level, Msg: r.Message, Attrs: make(map[string]any)}
	for _, a := range h.attrs {
		e.Attrs[a.Key] = a.Value.Any()
	}
	r.Attrs(func(a slog.Attr) bool {
		e.Attrs[a.Key] = a.Value.Any()
		return true
	})
	h.rec.mu.Lock()
	h.rec.entries = append(h.rec.entries, e)
	h.rec.mu.Unlock()
	return nil
}

func (h *recordHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &recordHandler{rec: h.rec, attrs: append(slices.Clone(h.attrs), attrs...)}
}

func (h *recordHandler) WithGroup(string) slog.Handler { return h }

func recordingLogger() (*slog.Logger, *recorder) {
	rec := &recorder{}
	return slog.New(&recordHandler{rec: rec}), rec
}

type fakeStore struct {
	mu           sync.Mutex
	targets      []*storage.Target
	targetsErr   error
	keywords     []*storage.Keyword
	keywordsErr  error
	failRecord   map[string]bool
	failDiag     bool
	measurements []*storage.Measurement
	diagnostics  map[int64]json.RawMessage
	nextID       int64
}

func newFakeStore(targets ...string) *fakeStore {
	s := &fakeStore{diagnostics: make(map[int64]json.RawMessage), failRecord: make(map[string]bool)}
	for _, id := range targets {
		s.targets = append(s.targets, &storage.Target{ID: id, DomainPrefix: "p-" + id})
	}
	for i, text := range []string{"dune", "jane austen", "climate change", "cryptography", "tea"} {
		s.keywords = append(s.keywords, &storage.Keyword{ID: int64(i + 1), Text: text})
	}
	return s
}

func (s *fakeStore) ListTargets(context.Context) ([]*storage.Target, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.targetsErr != nil {
		return nil, s.targetsErr
	}
	return slices.Clone(s.targets), nil
}

func (s *fakeStore) ListKeywords(context.Context) ([]*storage.Keyword, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.keywordsErr != nil {
		return nil, s.keywordsErr
	}
	return slices.Clone(s.keywords), nil
}

func (s *fakeStore) RecordMeasurement(_ context.Context, m *storage.Measurement) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failRecord[m.TargetID] {
		return 0, errors.New("disk full")
	}
	s.nextID++
	m.ID = s.nextID
	s.measurements = append(s.measurements, m)
	return s.nextID, nil
}

func (s *fakeStore) RecordDiagnostics(_ context.Context, id int64, payload json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failDiag {
		return errors.New("diagnostics table locked")
	}
	s.diagnostics[id] = payload
	return nil
}

func (s *fakeStore) stored() []*storage.Measurement {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.measurements)
}

type outcome struct {
	duration float64
	timedOut bool
	err      error
}

type stubMeasurer struct {
	mu       sync.Mutex
	outcomes map[string]outcome
	calls    []string
	keywords []*storage.Keyword
	hook     func(targetID string)
}

func (m *stubMeasurer) Measure(ctx context.Context, t *storage.Target, kw *storage.Keyword) (*checker.Result, error) {
	m.mu.Lock()
	m.calls = append(m.calls, t.ID)
	m.keywords = append(m.keywords, kw)
	o, ok := m.outcomes[t.ID]
	hook := m.hook
	m.mu.Unlock()

	if hook != nil {
		hook(t.ID)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !ok {
		o = outcome{duration: 0.5}
	}
	if o.err != nil {
		return nil, o.err
	}
	if o.timedOut {
		return &checker.Result{TimedOut: true, Diagnostics: json.RawMessage("{}")}, nil
	}
	return &checker.Result{
		Duration:    o.duration,
		StatusCode:  200,
		Diagnostics: json.RawMessage(fmt.Sprintf(`{"target":%q}`, t.ID)),
	}, nil
}

func testConfig() Config {
	return Config{DelayMin: 60 * time.Second, DelayMax: 720 * time.Second}
}

func newTestTracker(t *testing.T, store Store, m Measurer, logger *slog.Logger, opts ...Option) *Tracker {
	t.Helper()
	opts = append([]Option{WithRand(rand.New(rand.NewPCG(1, 2)))}, opts...)
	tr, err := New(testConfig(), store, m, logger, opts...)
	if err != nil {
		t.Fatal(err)
	}
	return tr
}

func TestRunCycleSuccessSuccessTimeout(t *testing.T) {
	store := newFakeStore("a", "b", "c")
	m := &stubMeasurer{outcomes: map[string]outcome{
		"a": {duration: 0.412},
		"b": {duration: 1.75},
		"c": {timedOut: true},
	}}
	tr := newTestTracker(t, store, m, discardLogger())

	report, err := tr.RunCycle(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if report.Keyword == nil {
		t.Fatal("expected a keyword to be drawn")
	}

	type row struct {
		TargetID  string
		KeywordID int64
		Duration  float64
		TimedOut  bool
	}
	var got []row
	for _, ms := range store.stored() {
		if ms.KeywordID == nil {
			t.Fatalf("measurement for %s has no keyword", ms.TargetID)
		}
		got = append(got, row{ms.TargetID, *ms.KeywordID, ms.Duration, ms.TimedOut})
	}
	kid := report.Keyword.ID
	want := []row{
		{"a", kid, 0.412, false},
		{"b", kid, 1.75, false},
		{"c", kid, 0, true},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("measurements mismatch (-want +got):\n%s", diff)
	}

	if string(store.diagnostics[3]) != "{}" {
		t.Fatalf("expected empty diagnostics for timeout, got %s", store.diagnostics[3])
	}
	if string(store.diagnostics[1]) != `{"target":"a"}` {
		t.Fatalf("unexpected diagnostics %s", store.diagnostics[1])
	}

	wantReport := CycleReport{Targets: 3, Measured: 3, TimedOut: 1, Persisted: 3}
	gotReport := CycleReport{Targets: report.Targets, Measured: report.Measured, TimedOut: report.TimedOut, Failed: report.Failed, Persisted: report.Persisted}
	if gotReport != wantReport {
		t.Fatalf("expected %+v, got %+v", wantReport, gotReport)
	}
	if report.CycleID == "" {
		t.Fatal("expected cycle id")
	}
	if tr.LastCycle() != report || tr.Cycles() != 1 {
		t.Fatal("expected last cycle to be recorded")
	}
}

func TestTimeoutIsNotLoggedAsError(t *testing.T) {
	store := newFakeStore("a", "b")
	m := &stubMeasurer{outcomes: map[string]outcome{"b": {timedOut: true}}}
	logger, rec := recordingLogger()
	tr := newTestTracker(t, store, m, logger)

	if _, err := tr.RunCycle(context.Background()); err != nil {
		t.Fatal(err)
	}
	if errs := rec.atLeast(slog.LevelError); len(errs) != 0 {
		t.Fatalf("expected no error logs, got %+v", errs)
	}
	stored := store.stored()
	if len(stored) != 2 || !stored[1].TimedOut || stored[1].Duration != 0 {
		t.Fatalf("expected timed out measurement for b, got %+v", stored)
	}
}

func TestFetchErrorSkipsOnlyThatTarget(t *testing.T) {
	store := newFakeStore("a", "b", "c")
	m := &stubMeasurer{outcomes: map[string]outcome{"b": {err: errors.New("connection refused")}}}
	logger, rec := recordingLogger()
	tr := newTestTracker(t, store, m, logger)

	report, err := tr.RunCycle(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	if diff := cmp.Diff([]string{"a", "b", "c"}, m.calls); diff != "" {
		t.Fatalf("all targets must be attempted (-want +got):\n%s", diff)
	}
	var ids []string
	for _, ms := range store.stored() {
		ids = append(ids, ms.TargetID)
	}
	if diff := cmp.Diff([]string{"a", "c"}, ids); diff != "" {
		t.Fatalf("persisted targets mismatch (-want +got):\n%s", diff)
	}
	if report.Failed != 1 || report.Persisted != 2 || report.Persisted >= report.Targets {
		t.Fatalf("unexpected report %+v", report)
	}

	errs := rec.atLeast(slog.LevelError)
	if len(errs) != 1 || errs[0].Attrs["target_id"] != "b" {
		t.Fatalf("expected one error log for b, got %+v", errs)
	}
	if errs[0].Attrs["cycle_id"] != report.CycleID {
		t.Fatalf("expected cycle id on log line, got %v", errs[0].Attrs["cycle_id"])
	}
}

func TestPersistedNeverExceedsTargets(t *testing.T) {
	store := newFakeStore("a", "b", "c", "d", "e")
	m := &stubMeasurer{outcomes: map[string]outcome{
		"b": {err: errors.New("dns")},
		"d": {timedOut: true},
	}}
	tr := newTestTracker(t, store, m, discardLogger())

	for i := 0; i < 20; i++ {
		before := len(store.stored())
		report, err := tr.RunCycle(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		added := len(store.stored()) - before
		if added > report.Targets {
			t.Fatalf("cycle %d persisted %d for %d targets", i, added, report.Targets)
		}
		if added != 4 {
			t.Fatalf("cycle %d: expected 4 persisted, got %d", i, added)
		}
	}
}

func TestEmptyKeywordStoreProceedsWithoutKeyword(t *testing.T) {
	store := newFakeStore("a", "b")
	store.keywords = nil
	m := &stubMeasurer{}
	logger, rec := recordingLogger()
	tr := newTestTracker(t, store, m, logger)

	report, err := tr.RunCycle(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if report.Keyword != nil {
		t.Fatalf("expected no keyword, got %+v", report.Keyword)
	}
	for i, kw := range m.keywords {
		if kw != nil {
			t.Fatalf("call %d got keyword %+v", i, kw)
		}
	}
	for _, ms := range store.stored() {
		if ms.KeywordID != nil {
			t.Fatalf("expected nil keyword id, got %d", *ms.KeywordID)
		}
	}
	if len(store.stored()) != 2 {
		t.Fatalf("expected 2 measurements, got %d", len(store.stored()))
	}

	warns := rec.atLeast(slog.LevelWarn)
	if len(warns) != 1 || warns[0].Level != slog.LevelWarn {
		t.Fatalf("expected one warning about missing keywords, got %+v", warns)
	}
}

func TestKeywordReadFailureProceeds(t *testing.T) {
	store := newFakeStore("a")
	store.keywordsErr = errors.New("relation keywords does not exist")
	m := &stubMeasurer{}
	logger, rec := recordingLogger()
	tr := newTestTracker(t, store, m, logger)

	report, err := tr.RunCycle(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if report.Keyword != nil || report.Persisted != 1 {
		t.Fatalf("unexpected report %+v", report)
	}
	if len(rec.atLeast(slog.LevelWarn)) != 1 {
		t.Fatal("expected keyword failure to be logged")
	}
}

func TestKeywordDrawnFreshEachCycle(t *testing.T) {
	store := newFakeStore("a")
	m := &stubMeasurer{}
	tr := newTestTracker(t, store, m, discardLogger())

	if _, err := tr.RunCycle(context.Background()); err != nil {
		t.Fatal(err)
	}
	store.mu.Lock()
	store.keywords = []*storage.Keyword{{ID: 99, Text: "new"}}
	store.mu.Unlock()

	report, err := tr.RunCycle(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if report.Keyword == nil || report.Keyword.ID != 99 {
		t.Fatalf("expected the freshly read keyword, got %+v", report.Keyword)
	}
}

func TestKeywordSelectionIsUniform(t *testing.T) {
	store := newFakeStore()
	tr := newTestTracker(t, store, &stubMeasurer{}, discardLogger())

	const draws = 10000
	counts := make(map[int64]int)
	for i := 0; i < draws; i++ {
		kw := tr.pickKeyword(context.Background(), discardLogger())
		counts[kw.ID]++
	}
	expected := draws / len(store.keywords)
	for _, kw := range store.keywords {
		n := counts[kw.ID]
		if n < expected*85/100 || n > expected*115/100 {
			t.Fatalf("keyword %d drawn %d times, expected about %d", kw.ID, n, expected)
		}
	}
}

func TestRecordFailureContinues(t *testing.T) {
	store := newFakeStore("a", "b", "c")
	store.failRecord["a"] = true
	logger, rec := recordingLogger()
	tr := newTestTracker(t, store, &stubMeasurer{}, logger)

	report, err := tr.RunCycle(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if report.Measured != 3 || report.Persisted != 2 {
		t.Fatalf("unexpected report %+v", report)
	}
	stored := store.stored()
	if len(stored) != 2 || stored[0].TargetID != "b" || stored[1].TargetID != "c" {
		t.Fatalf("expected b and c persisted, got %+v", stored)
	}
	if errs := rec.atLeast(slog.LevelError); len(errs) != 1 {
		t.Fatalf("expected one error log, got %+v", errs)
	}
}

func TestDiagnosticsFailureKeepsMeasurement(t *testing.T) {
	store := newFakeStore("a", "b")
	store.failDiag = true
	logger, rec := recordingLogger()
	tr := newTestTracker(t, store, &stubMeasurer{}, logger)

	report, err := tr.RunCycle(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if report.Persisted != 2 || len(store.stored()) != 2 {
		t.Fatalf("expected both measurements kept, got %+v", report)
	}
	if len(store.diagnostics) != 0 {
		t.Fatal("expected no diagnostics stored")
	}
	if errs := rec.atLeast(slog.LevelError); len(errs) != 2 {
		t.Fatalf("expected two diagnostics errors, got %+v", errs)
	}
}

func TestTargetListFailureIsCycleError(t *testing.T) {
	store := newFakeStore("a")
	store.targetsErr = errors.New("connection reset")
	m := &stubMeasurer{}
	tr := newTestTracker(t, store, m, discardLogger())

	if _, err := tr.RunCycle(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if len(m.calls) != 0 {
		t.Fatal("no target may be measured without a target list")
	}
}

func TestEmptyTargetList(t *testing.T) {
	store := newFakeStore()
	tr := newTestTracker(t, store, &stubMeasurer{}, discardLogger())

	report, err := tr.RunCycle(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if report.Targets != 0 || report.Persisted != 0 {
		t.Fatalf("unexpected report %+v", report)
	}
}

func TestCancelMidCyclePersistsCollected(t *testing.T) {
	store := newFakeStore("a", "b", "c")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m := &stubMeasurer{hook: func(id string) {
		if id == "b" {
			cancel()
		}
	}}
	tr := newTestTracker(t, store, m, discardLogger())

	report, err := tr.RunCycle(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if report == nil || report.Persisted != 1 || report.Failed != 0 {
		t.Fatalf("expected a's measurement persisted, got %+v", report)
	}
	stored := store.stored()
	if len(stored) != 1 || stored[0].TargetID != "a" {
		t.Fatalf("unexpected stored %+v", stored)
	}
	if len(m.calls) != 2 {
		t.Fatalf("expected c to be skipped after cancel, got calls %v", m.calls)
	}
}

func TestNextDelayBounds(t *testing.T) {
	tr := newTestTracker(t, newFakeStore(), &stubMeasurer{}, discardLogger())

	const samples = 10000
	const buckets = 6
	lo, hi := 60*time.Second, 720*time.Second
	minSeen, maxSeen := hi, lo
	counts := make([]int, buckets)
	span := int64(hi/time.Second - lo/time.Second + 1)

	for i := 0; i < samples; i++ {
		d := tr.NextDelay()
		if d < lo || d > hi {
			t.Fatalf("delay %s outside [%s, %s]", d, lo, hi)
		}
		if d%time.Second != 0 {
			t.Fatalf("delay %s is not whole seconds", d)
		}
		minSeen = min(minSeen, d)
		maxSeen = max(maxSeen, d)
		offset := int64((d - lo) / time.Second)
		counts[offset*buckets/span]++
	}

	if minSeen != lo || maxSeen != hi {
		t.Fatalf("expected both bounds to be reached, got [%s, %s]", minSeen, maxSeen)
	}
	expected := samples / buckets
	for i, n := range counts {
		if n < expected*85/100 || n > expected*115/100 {
			t.Fatalf("bucket %d has %d samples, expected about %d", i, n, expected)
		}
	}
}

func TestNextDelayFixed(t *testing.T) {
	tr, err := New(Config{DelayMin: 5 * time.Second, DelayMax: 5 * time.Second}, newFakeStore(), &stubMeasurer{}, discardLogger())
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 100; i++ {
		if d := tr.NextDelay(); d != 5*time.Second {
			t.Fatalf("expected 5s, got %s", d)
		}
	}
}

func TestNewRejectsInvalidBounds(t *testing.T) {
	tests := []Config{
		{DelayMin: 10 * time.Second, DelayMax: 5 * time.Second},
		{DelayMin: -time.Second, DelayMax: 5 * time.Second},
	}
	for _, cfg := range tests {
		if _, err := New(cfg, newFakeStore(), &stubMeasurer{}, discardLogger()); err == nil {
			t.Fatalf("expected error for %+v", cfg)
		}
	}
}

func TestRunLoopsUntilCancelled(t *testing.T) {
	store := newFakeStore("a", "b")
	m := &stubMeasurer{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var delays []time.Duration
	sleep := func(ctx context.Context, d time.Duration) error {
		delays = append(delays, d)
		if len(delays) == 3 {
			cancel()
			return ctx.Err()
		}
		return nil
	}
	tr := newTestTracker(t, store, m, discardLogger(), WithSleep(sleep))

	err := tr.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if tr.Cycles() != 3 {
		t.Fatalf("expected 3 cycles, got %d", tr.Cycles())
	}
	if len(m.calls) != 6 || len(store.stored()) != 6 {
		t.Fatalf("expected 6 measurements, got calls=%d stored=%d", len(m.calls), len(store.stored()))
	}
	for _, d := range delays {
		if d < 60*time.Second || d > 720*time.Second {
			t.Fatalf("delay %s out of bounds", d)
		}
	}
}

func TestRunSurvivesCycleErrors(t *testing.T) {
	store := newFakeStore("a")
	store.targetsErr = errors.New("database unreachable")
	logger, rec := recordingLogger()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sleeps := 0
	sleep := func(ctx context.Context, d time.Duration) error {
		sleeps++
		if sleeps == 2 {
			// the store recovers for the third cycle
			store.mu.Lock()
			store.targetsErr = nil
			store.mu.Unlock()
		}
		if sleeps == 3 {
			cancel()
			return ctx.Err()
		}
		return nil
	}
	tr := newTestTracker(t, store, &stubMeasurer{}, logger, WithSleep(sleep))

	if err := tr.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	failed := 0
	for _, e := range rec.atLeast(slog.LevelError) {
		if e.Msg == "cycle failed" {
			failed++
		}
	}
	if failed != 2 {
		t.Fatalf("expected 2 cycle failures logged, got %d", failed)
	}
	if len(store.stored()) != 1 {
		t.Fatalf("expected the recovered cycle to persist, got %d", len(store.stored()))
	}
}

func TestDefaultSleepHonoursCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	if err := sleepContext(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Fatal("sleep did not return promptly")
	}
	if err := sleepContext(context.Background(), time.Millisecond); err != nil {
		t.Fatal(err)
	}
}

func TestPreflight(t *testing.T) {
	store := newFakeStore("a")
	tr := newTestTracker(t, store, &stubMeasurer{}, discardLogger())
	if err := tr.Preflight(context.Background()); err != nil {
		t.Fatal(err)
	}

	store.targetsErr = errors.New("no such host")
	if err := tr.Preflight(context.Background()); err == nil {
		t.Fatal("expected preflight to fail")
	}
}

func TestPublisherReceivesPersisted(t *testing.T) {
	store := newFakeStore("a", "b", "c")
	store.failRecord["c"] = true
	m := &stubMeasurer{outcomes: map[string]outcome{"b": {err: errors.New("boom")}}}
	hub := NewHub(8)
	events, unsubscribe := hub.Subscribe()
	defer unsubscribe()

	tr := newTestTracker(t, store, m, discardLogger(), WithPublisher(hub))
	report, err := tr.RunCycle(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	select {
	case ev := <-events:
		if ev.Measurement.TargetID != "a" || ev.DomainPrefix != "p-a" || ev.CycleID != report.CycleID {
			t.Fatalf("unexpected event %+v", ev)
		}
		if ev.Keyword != report.Keyword.Text {
			t.Fatalf("expected keyword %q, got %q", report.Keyword.Text, ev.Keyword)
		}
	default:
		t.Fatal("expected an event")
	}
	select {
	case ev := <-events:
		t.Fatalf("expected a single event, got %+v", ev)
	default:
	}
}
