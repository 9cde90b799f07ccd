package web

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/y0f/primotiming/internal/config"
	"github.com/y0f/primotiming/internal/storage"
)

const sampleURL = "https://gwu.primo.exlibrisgroup.com/discovery/search?query=any,contains,maps" +
	"&tab=WRLC&search_scope=WRLC_P_MyInst_All&vid=01WRLC_GWA:live"

func testWebHandler(t *testing.T) (*Handler, *storage.SQLiteStore) {
	t.Helper()
	tmpFile, err := os.CreateTemp("", "primotiming-web-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	tmpFile.Close()
	t.Cleanup(func() { os.Remove(tmpFile.Name()) })

	store, err := storage.NewSQLiteStore(tmpFile.Name(), 2)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(config.Defaults(), store, logger, "test", "frame-ancestors 'none'"), store
}

func postForm(h http.HandlerFunc, raw string) *httptest.ResponseRecorder {
	form := url.Values{"url": {raw}}
	r := httptest.NewRequest("POST", "/register", strings.NewReader(form.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	h(w, r)
	return w
}

func flashOf(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	for _, c := range w.Result().Cookies() {
		if c.Name == "flash" {
			v, _ := url.QueryUnescape(c.Value)
			return v
		}
	}
	t.Fatal("no flash cookie set")
	return ""
}

func TestRegisterRedirectsWithFlash(t *testing.T) {
	h, store := testWebHandler(t)

	w := postForm(h.Register, sampleURL)
	if w.Code != http.StatusSeeOther {
		t.Fatalf("expected 303, got %d", w.Code)
	}
	if loc := w.Header().Get("Location"); loc != "/" {
		t.Fatalf("unexpected redirect %q", loc)
	}
	if got := flashOf(t, w); got != "Success!" {
		t.Fatalf("unexpected flash %q", got)
	}

	w = postForm(h.Register, sampleURL)
	if got := flashOf(t, w); got != "Already registered." {
		t.Fatalf("unexpected flash on repeat %q", got)
	}

	targets, _ := store.ListTargets(context.Background())
	if len(targets) != 1 {
		t.Fatalf("expected 1 target, got %d", len(targets))
	}
}

func TestRegisterInvalidURL(t *testing.T) {
	h, store := testWebHandler(t)

	w := postForm(h.Register, "https://example.com/search")
	if w.Code != http.StatusSeeOther {
		t.Fatalf("expected 303, got %d", w.Code)
	}
	if got := flashOf(t, w); got != "Invalid URL. Please try again." {
		t.Fatalf("unexpected flash %q", got)
	}
	targets, _ := store.ListTargets(context.Background())
	if len(targets) != 0 {
		t.Fatalf("expected no targets, got %d", len(targets))
	}
}

func TestIndexRendersTargetsAndMeasurements(t *testing.T) {
	h, store := testWebHandler(t)
	ctx := context.Background()

	postForm(h.Register, sampleURL)
	targets, _ := store.ListTargets(ctx)
	if len(targets) != 1 {
		t.Fatalf("expected 1 target, got %d", len(targets))
	}
	if _, err := store.InsertKeywords(ctx, []string{"<b>maps</b>"}); err != nil {
		t.Fatal(err)
	}
	keywords, _ := store.ListKeywords(ctx)
	kid := keywords[0].ID
	if _, err := store.RecordMeasurement(ctx, &storage.Measurement{
		TargetID:  targets[0].ID,
		KeywordID: &kid,
		TestedAt:  time.Now().UTC().Add(-time.Minute),
		Duration:  1.234,
	}); err != nil {
		t.Fatal(err)
	}

	r := httptest.NewRequest("GET", "/", nil)
	r.AddCookie(&http.Cookie{Name: "flash", Value: url.QueryEscape("Success!")})
	w := httptest.NewRecorder()
	h.Index(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Fatalf("unexpected content type %q", ct)
	}
	body := w.Body.String()
	for _, want := range []string{"WRLC_P_MyInst_All", "1.23s", "Success!", "&lt;b&gt;maps&lt;/b&gt;", "1 targets, 1 keywords"} {
		if !strings.Contains(body, want) {
			t.Errorf("body missing %q", want)
		}
	}
	if strings.Contains(body, "<b>maps</b>") {
		t.Error("keyword text was not escaped")
	}

	cleared := false
	for _, c := range w.Result().Cookies() {
		if c.Name == "flash" && c.MaxAge < 0 {
			cleared = true
		}
	}
	if !cleared {
		t.Error("expected flash cookie to be expired after display")
	}
}

func TestIndexEmpty(t *testing.T) {
	h, _ := testWebHandler(t)

	w := httptest.NewRecorder()
	h.Index(w, httptest.NewRequest("GET", "/", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "No targets registered yet.") {
		t.Fatal("expected empty-state text")
	}
}

func TestLatest(t *testing.T) {
	rows := make([]*storage.MeasurementRow, 5)
	for i := range rows {
		rows[i] = &storage.MeasurementRow{Measurement: storage.Measurement{ID: int64(i + 1)}}
	}

	got := latest(rows, 3)
	if len(got) != 3 || got[0].ID != 5 || got[2].ID != 3 {
		t.Fatalf("unexpected order %v %v %v", got[0].ID, got[1].ID, got[2].ID)
	}
	if len(latest(rows, 10)) != 5 {
		t.Fatal("expected all rows when n exceeds length")
	}
}
