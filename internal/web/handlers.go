package web

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/sheetchunk/internal/core"
	"github.com/JonMunkholm/sheetchunk/internal/sheets"
)

// Worksheets behind the fixed query routes.
const (
	APIPathsSheet   = "API Name and Path"
	CensusAPIsSheet = "Census Bureau APIs - Full List"
)

// handleHealth loads the spreadsheet data if needed and reports whether the
// API can answer queries.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if _, err := s.cache.Get(r.Context()); err != nil {
		respondLoadError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte("Sheet query API is running."))
}

type statusResponse struct {
	Cache       sheets.CacheStatus  `json:"cache"`
	Conversions *core.LimiterStatus `json:"conversions,omitempty"`
}

// handleStatus reports cache and conversion state without loading anything.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{Cache: s.cache.Status()}
	if s.service != nil {
		st := s.service.LimiterStatus()
		resp.Conversions = &st
	}
	writeJSON(w, http.StatusOK, resp)
}

type sheetInfo struct {
	Name    string   `json:"name"`
	Columns []string `json:"columns"`
	Rows    int      `json:"rows"`
}

type sheetsResponse struct {
	SpreadsheetID string      `json:"spreadsheet_id"`
	Title         string      `json:"title"`
	FetchedAt     time.Time   `json:"fetched_at"`
	Sheets        []sheetInfo `json:"sheets"`
	Missing       []string    `json:"missing,omitempty"`
}

// handleListSheets lists the cached worksheets with their columns.
func (s *Server) handleListSheets(w http.ResponseWriter, r *http.Request) {
	data, err := s.cache.Get(r.Context())
	if err != nil {
		respondLoadError(w, r, err)
		return
	}

	resp := sheetsResponse{
		SpreadsheetID: data.Snapshot.SpreadsheetID,
		Title:         data.Snapshot.Title,
		FetchedAt:     data.Snapshot.FetchedAt,
		Sheets:        []sheetInfo{},
		Missing:       data.Snapshot.Missing,
	}
	for _, t := range data.Tables() {
		resp.Sheets = append(resp.Sheets, sheetInfo{Name: t.Name, Columns: t.Columns, Rows: len(t.Rows)})
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleRecords returns the rows of one worksheet. Every query parameter
// filters the column of the same name.
func (s *Server) handleRecords(w http.ResponseWriter, r *http.Request) {
	// chi matches on RawPath when it is set, leaving the segment escaped.
	name := chi.URLParam(r, "sheet")
	if r.URL.RawPath != "" {
		if unescaped, err := url.PathUnescape(name); err == nil {
			name = unescaped
		}
	}

	data, err := s.cache.Get(r.Context())
	if err != nil {
		respondLoadError(w, r, err)
		return
	}
	t, err := data.Table(name)
	if err != nil {
		respondError(w, r, err, http.StatusNotFound)
		return
	}

	records, err := sheets.Query(t, filtersFromQuery(r.URL.Query()))
	if err != nil {
		respondError(w, r, err, queryErrorStatus(err))
		return
	}
	writeJSON(w, http.StatusOK, records)
}

// handleQueryAPIPaths filters "API Name and Path" by category.
func (s *Server) handleQueryAPIPaths(w http.ResponseWriter, r *http.Request) {
	s.fixedQuery(w, r, APIPathsSheet, []sheets.Filter{
		{Column: "Categorization", Value: r.URL.Query().Get("category")},
	})
}

// handleQueryCensusAPIs filters the census API list by dataset name and by
// year, which is matched against the base URL.
func (s *Server) handleQueryCensusAPIs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	s.fixedQuery(w, r, CensusAPIsSheet, []sheets.Filter{
		{Column: "Dataset Name", Value: q.Get("dataset_name")},
		{Column: "API Base URL", Value: q.Get("year")},
	})
}

func (s *Server) fixedQuery(w http.ResponseWriter, r *http.Request, sheet string, filters []sheets.Filter) {
	data, err := s.cache.Get(r.Context())
	if err != nil {
		respondLoadError(w, r, err)
		return
	}
	t, err := data.Table(sheet)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": fmt.Sprintf("Sheet '%s' not found in cache.", sheet),
		})
		return
	}

	records, err := sheets.Query(t, filters)
	if err != nil {
		respondError(w, r, err, queryErrorStatus(err))
		return
	}
	writeJSON(w, http.StatusOK, records)
}

// handleInvalidate drops the cached spreadsheet data.
func (s *Server) handleInvalidate(w http.ResponseWriter, r *http.Request) {
	if err := s.cache.Invalidate(r.Context()); err != nil {
		respondError(w, r, err, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "invalidated"})
}

// handleConvert runs a conversion of the configured input folder and
// returns its summary.
func (s *Server) handleConvert(w http.ResponseWriter, r *http.Request) {
	if s.service == nil {
		writeJSON(w, http.StatusNotFound, ErrorResponse{
			Error:   "conversion disabled",
			Message: "This server does not convert sources",
			Code:    "CFG001",
		})
		return
	}

	sum, err := s.service.ConvertDir(r.Context(), s.cfg.Chunk.InputDir)
	if err != nil {
		respondError(w, r, err, http.StatusInternalServerError)
		return
	}
	status := http.StatusOK
	if !sum.OK() {
		status = http.StatusMultiStatus
	}
	writeJSON(w, status, sum)
}

func filtersFromQuery(q url.Values) []sheets.Filter {
	keys := make([]string, 0, len(q))
	for k := range q {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	filters := make([]sheets.Filter, 0, len(keys))
	for _, k := range keys {
		for _, v := range q[k] {
			filters = append(filters, sheets.Filter{Column: k, Value: v})
		}
	}
	return filters
}

func queryErrorStatus(err error) int {
	if errors.Is(err, sheets.ErrUnknownColumn) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}
