package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/JonMunkholm/sheetchunk/internal/config"
	"github.com/JonMunkholm/sheetchunk/internal/core"
	_ "github.com/JonMunkholm/sheetchunk/internal/core/formats"
	"github.com/JonMunkholm/sheetchunk/internal/sheets"
)

type fakeFetcher struct {
	mu    sync.Mutex
	snap  sheets.Snapshot
	err   error
	calls int
}

func (f *fakeFetcher) Fetch(context.Context) (sheets.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.snap, f.err
}

func (f *fakeFetcher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func testSnapshot() sheets.Snapshot {
	return sheets.Snapshot{
		SpreadsheetID: "sheet-1",
		Title:         "Open VA Data APIs",
		FetchedAt:     time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
		Sheets: []sheets.Sheet{
			{Name: APIPathsSheet, Values: [][]string{
				{"API Name", "Path", "Categorization"},
				{"Veterans", "/vets", "Demographics"},
				{"Claims", "/claims", "Benefits & Claims"},
				{"Blank", "/blank", ""},
			}},
			{Name: CensusAPIsSheet, Values: [][]string{
				{"Dataset Name", "API Base URL"},
				{"cbp", "https://api.census.gov/data/1986/cbp"},
				{"acs", "https://api.census.gov/data/2019/acs/acs1"},
				{"cbp", "https://api.census.gov/data/2019/cbp"},
			}},
		},
	}
}

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{RequestTimeout: 5 * time.Second},
		Chunk:  config.ChunkConfig{MaxBytes: 1000},
	}
}

func newTestServer(t *testing.T, cfg *config.Config, f *fakeFetcher, svc *core.Service) *Server {
	t.Helper()
	s := NewServer(cfg, sheets.NewCache(f, nil), svc)
	t.Cleanup(func() { s.Shutdown(context.Background()) })
	return s
}

func do(t *testing.T, s *Server, method, target string, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func decodeRecords(t *testing.T, rec *httptest.ResponseRecorder) []map[string]any {
	t.Helper()
	var out []map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestHealth(t *testing.T) {
	f := &fakeFetcher{snap: testSnapshot()}
	s := newTestServer(t, testConfig(), f, nil)

	rec := do(t, s, http.MethodGet, "/", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "running") {
		t.Fatalf("GET / = %d %q", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("security headers missing")
	}
	do(t, s, http.MethodGet, "/", nil)
	if f.count() != 1 {
		t.Errorf("fetch calls = %d, want 1", f.count())
	}
}

func TestHealth_LoadFailure(t *testing.T) {
	f := &fakeFetcher{err: errors.New("open spreadsheet: 403 forbidden")}
	s := newTestServer(t, testConfig(), f, nil)

	rec := do(t, s, http.MethodGet, "/", nil)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("GET / = %d, want 500", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["error"] != "Failed to load data on first request" || !strings.Contains(body["message"], "403") {
		t.Errorf("body = %v", body)
	}

	// failures are retried on the next request
	f.mu.Lock()
	f.err = nil
	f.snap = testSnapshot()
	f.mu.Unlock()
	if rec := do(t, s, http.MethodGet, "/", nil); rec.Code != http.StatusOK {
		t.Errorf("GET / after recovery = %d", rec.Code)
	}
}

func TestQueryAPIPaths(t *testing.T) {
	s := newTestServer(t, testConfig(), &fakeFetcher{snap: testSnapshot()}, nil)

	tests := []struct {
		name  string
		query string
		want  []string
	}{
		{"no filter returns all", "", []string{"Veterans", "Claims", "Blank"}},
		{"case-insensitive substring", "?category=CLAIMS", []string{"Claims"}},
		{"empty value ignored", "?category=", []string{"Veterans", "Claims", "Blank"}},
		{"no match", "?category=housing", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, s, http.MethodGet, "/query_api_paths"+tt.query, nil)
			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
			}
			got := decodeRecords(t, rec)
			if len(got) != len(tt.want) {
				t.Fatalf("got %d records, want %d: %v", len(got), len(tt.want), got)
			}
			for i, name := range tt.want {
				if got[i]["API Name"] != name {
					t.Errorf("record %d = %v, want %s", i, got[i], name)
				}
			}
		})
	}
}

func TestQueryAPIPaths_KeepsColumnOrder(t *testing.T) {
	s := newTestServer(t, testConfig(), &fakeFetcher{snap: testSnapshot()}, nil)

	rec := do(t, s, http.MethodGet, "/query_api_paths?category=demo", nil)
	want := `[{"API Name":"Veterans","Path":"/vets","Categorization":"Demographics"}]`
	if got := strings.TrimSpace(rec.Body.String()); got != want {
		t.Errorf("body = %s, want %s", got, want)
	}
}

func TestQueryCensusAPIs(t *testing.T) {
	s := newTestServer(t, testConfig(), &fakeFetcher{snap: testSnapshot()}, nil)

	tests := []struct {
		query string
		want  int
	}{
		{"", 3},
		{"?dataset_name=CBP", 2},
		{"?year=2019", 2},
		{"?dataset_name=cbp&year=2019", 1},
		{"?dataset_name=acs&year=1986", 0},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			rec := do(t, s, http.MethodGet, "/query_census_apis_full_list"+tt.query, nil)
			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d", rec.Code)
			}
			if got := decodeRecords(t, rec); len(got) != tt.want {
				t.Errorf("got %d records, want %d", len(got), tt.want)
			}
		})
	}
}

func TestFixedQuery_MissingSheet(t *testing.T) {
	snap := testSnapshot()
	snap.Sheets = snap.Sheets[1:]
	s := newTestServer(t, testConfig(), &fakeFetcher{snap: snap}, nil)

	rec := do(t, s, http.MethodGet, "/query_api_paths", nil)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "Sheet 'API Name and Path' not found in cache.") {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestRecords(t *testing.T) {
	s := newTestServer(t, testConfig(), &fakeFetcher{snap: testSnapshot()}, nil)

	tests := []struct {
		name     string
		target   string
		status   int
		wantCode string
		wantLen  int
	}{
		{"escaped sheet name", "/api/sheets/API%20Name%20and%20Path/records", http.StatusOK, "", 3},
		{"column filter", "/api/sheets/API%20Name%20and%20Path/records?Path=VETS", http.StatusOK, "", 1},
		{"missing cells never match", "/api/sheets/API%20Name%20and%20Path/records?Categorization=s", http.StatusOK, "", 2},
		{"unknown sheet", "/api/sheets/Nope/records", http.StatusNotFound, "SHT001", 0},
		{"unknown column", "/api/sheets/API%20Name%20and%20Path/records?Year=2019", http.StatusBadRequest, "QRY001", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, s, http.MethodGet, tt.target, nil)
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d: %s", rec.Code, tt.status, rec.Body.String())
			}
			if tt.wantCode != "" {
				var e ErrorResponse
				if err := json.Unmarshal(rec.Body.Bytes(), &e); err != nil {
					t.Fatal(err)
				}
				if e.Code != tt.wantCode {
					t.Errorf("code = %q, want %q", e.Code, tt.wantCode)
				}
				return
			}
			if got := decodeRecords(t, rec); len(got) != tt.wantLen {
				t.Errorf("got %d records, want %d", len(got), tt.wantLen)
			}
		})
	}
}

func TestRecords_SheetNameEscaping(t *testing.T) {
	snap := sheets.Snapshot{
		SpreadsheetID: "sheet-2",
		Sheets: []sheets.Sheet{
			{Name: "Rates 5%2F10", Values: [][]string{{"Rate"}, {"literal"}}},
			{Name: "Rates 5/10", Values: [][]string{{"Rate"}, {"slash"}, {"slash"}}},
			{Name: "100% Disabled", Values: [][]string{{"Rate"}, {"pct"}}},
		},
	}
	s := newTestServer(t, testConfig(), &fakeFetcher{snap: snap}, nil)

	tests := []struct {
		name    string
		target  string
		wantLen int
		want    string
	}{
		{"percent sequence kept literal", "/api/sheets/Rates%205%252F10/records", 1, "literal"},
		{"encoded slash", "/api/sheets/Rates%205%2F10/records", 2, "slash"},
		{"encoded percent sign", "/api/sheets/100%25%20Disabled/records", 1, "pct"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, s, http.MethodGet, tt.target, nil)
			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
			}
			got := decodeRecords(t, rec)
			if len(got) != tt.wantLen {
				t.Fatalf("got %d records, want %d", len(got), tt.wantLen)
			}
			if got[0]["Rate"] != tt.want {
				t.Errorf("Rate = %v, want %q", got[0]["Rate"], tt.want)
			}
		})
	}
}

func TestListSheets(t *testing.T) {
	s := newTestServer(t, testConfig(), &fakeFetcher{snap: testSnapshot()}, nil)

	rec := do(t, s, http.MethodGet, "/api/sheets", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp sheetsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Title != "Open VA Data APIs" || len(resp.Sheets) != 2 {
		t.Fatalf("resp = %+v", resp)
	}
	if got := resp.Sheets[1]; got.Name != CensusAPIsSheet || got.Rows != 3 || len(got.Columns) != 2 {
		t.Errorf("census sheet = %+v", got)
	}
}

func TestStatus(t *testing.T) {
	s := newTestServer(t, testConfig(), &fakeFetcher{snap: testSnapshot()}, nil)

	var st statusResponse
	rec := do(t, s, http.MethodGet, "/api/status", nil)
	if err := json.Unmarshal(rec.Body.Bytes(), &st); err != nil {
		t.Fatal(err)
	}
	if st.Cache.Loaded || st.Conversions != nil {
		t.Errorf("status before load = %+v", st)
	}

	do(t, s, http.MethodGet, "/", nil)
	rec = do(t, s, http.MethodGet, "/api/status", nil)
	if err := json.Unmarshal(rec.Body.Bytes(), &st); err != nil {
		t.Fatal(err)
	}
	if !st.Cache.Loaded || st.Cache.Origin != "api" || len(st.Cache.Sheets) != 2 {
		t.Errorf("status after load = %+v", st.Cache)
	}
}

func TestInvalidate_APIKey(t *testing.T) {
	cfg := testConfig()
	cfg.Security.APIKeys = []string{"secret"}
	f := &fakeFetcher{snap: testSnapshot()}
	s := newTestServer(t, cfg, f, nil)

	do(t, s, http.MethodGet, "/", nil)

	tests := []struct {
		name   string
		header http.Header
		status int
	}{
		{"missing key", nil, http.StatusUnauthorized},
		{"wrong key", http.Header{"X-Api-Key": {"nope"}}, http.StatusForbidden},
		{"header key", http.Header{"X-Api-Key": {"secret"}}, http.StatusOK},
		{"bearer key", http.Header{"Authorization": {"Bearer secret"}}, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := do(t, s, http.MethodPost, "/api/cache/invalidate", tt.header); rec.Code != tt.status {
				t.Errorf("status = %d, want %d", rec.Code, tt.status)
			}
		})
	}

	do(t, s, http.MethodGet, "/", nil)
	if f.count() != 2 {
		t.Errorf("fetch calls = %d, want a reload after invalidation", f.count())
	}
}

func TestInvalidate_OpenWithoutKeys(t *testing.T) {
	s := newTestServer(t, testConfig(), &fakeFetcher{snap: testSnapshot()}, nil)
	if rec := do(t, s, http.MethodPost, "/api/cache/invalidate", nil); rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

func TestRateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.Rate = config.RateLimitConfig{Enabled: true, RequestsPerMinute: 2}
	s := newTestServer(t, cfg, &fakeFetcher{snap: testSnapshot()}, nil)

	for i := 0; i < 2; i++ {
		if rec := do(t, s, http.MethodGet, "/api/status", nil); rec.Code != http.StatusOK {
			t.Fatalf("request %d = %d", i, rec.Code)
		}
	}
	rec := do(t, s, http.MethodGet, "/api/status", nil)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("third request = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") != "60" {
		t.Errorf("Retry-After = %q", rec.Header().Get("Retry-After"))
	}
}

type memSink struct {
	mu    sync.Mutex
	parts map[string][]byte
}

func (m *memSink) Put(_ context.Context, id string, content []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.parts == nil {
		m.parts = make(map[string][]byte)
	}
	m.parts[id] = content
	return nil
}

func TestConvert(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "people.csv"), []byte("name,age\nAda,36\nLin,41\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg := testConfig()
	cfg.Chunk.InputDir = dir

	sink := &memSink{}
	svc, err := core.NewService(sink, nil, nil, core.Options{MaxBytes: 1000})
	if err != nil {
		t.Fatal(err)
	}
	s := newTestServer(t, cfg, &fakeFetcher{}, svc)

	rec := do(t, s, http.MethodPost, "/api/convert", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var sum core.Summary
	if err := json.Unmarshal(rec.Body.Bytes(), &sum); err != nil {
		t.Fatal(err)
	}
	if sum.FilesConverted != 1 || sum.Parts != 1 {
		t.Errorf("summary = %+v", sum)
	}
	if _, ok := sink.parts["people - people - part_1.txt"]; !ok {
		t.Errorf("parts = %v", sink.parts)
	}
}

func TestConvert_Disabled(t *testing.T) {
	s := newTestServer(t, testConfig(), &fakeFetcher{}, nil)
	if rec := do(t, s, http.MethodPost, "/api/convert", nil); rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}
