package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/tabledger/internal/core"
	"github.com/JonMunkholm/tabledger/internal/ident"
	"github.com/JonMunkholm/tabledger/internal/ledger"
	"github.com/JonMunkholm/tabledger/internal/logging"
	"github.com/JonMunkholm/tabledger/internal/source"
	"github.com/JonMunkholm/tabledger/internal/tabular"
	"github.com/JonMunkholm/tabledger/internal/web/templates"
)

// TableResponse is a table encoded for JSON clients: rows are arrays in
// column order.
type TableResponse struct {
	Columns []string `json:"columns"`
	Rows    [][]any  `json:"rows"`
}

func toTableResponse(tbl *tabular.Table) TableResponse {
	rows := make([][]any, len(tbl.Rows))
	for i, row := range tbl.Rows {
		rows[i] = tbl.Values(row)
	}
	return TableResponse{Columns: tbl.Columns, Rows: rows}
}

// HealthResponse reports store reachability and writer gate state.
type HealthResponse struct {
	Status string                `json:"status"`
	Writer core.WriterGateStatus `json:"writer"`
}

// handleOverview renders the ledger overview page.
func (s *Server) handleOverview(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	tables, err := s.service.Tables(ctx)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	history, err := s.service.Ledger(ctx, "")
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := templates.LedgerOverview(tables, history).Render(ctx, w); err != nil {
		logging.FromContext(ctx).Error("render overview", "error", err)
	}
}

// handleTablePage renders one generation (control_id query parameter) or
// every row of a table.
func (s *Server) handleTablePage(w http.ResponseWriter, r *http.Request) {
	table := chi.URLParam(r, "table")
	tbl, err := s.service.ReadTable(r.Context(), table, r.URL.Query().Get("control_id"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := templates.Rows(ident.Normalize(table), tbl).Render(r.Context(), w); err != nil {
		logging.FromContext(r.Context()).Error("render table", "error", err)
	}
}

// handleHealth pings the store.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "ok", Writer: s.service.Gate().Status()}
	if err := s.service.Ping(r.Context()); err != nil {
		logging.FromContext(r.Context()).Error("health check failed", "error", err)
		resp.Status = "unavailable"
		writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleListTables returns a summary per loaded table.
func (s *Server) handleListTables(w http.ResponseWriter, r *http.Request) {
	tables, err := s.service.Tables(r.Context())
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if tables == nil {
		tables = []ledger.TableSummary{}
	}
	writeJSON(w, http.StatusOK, tables)
}

// handleLedger returns the load history of one table, or of all tables.
func (s *Server) handleLedger(w http.ResponseWriter, r *http.Request) {
	table := chi.URLParam(r, "table")
	records, err := s.service.Ledger(r.Context(), table)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if table != "" && len(records) == 0 {
		s.respondError(w, r, &core.MissingTableError{Tables: []string{ident.Normalize(table)}})
		return
	}
	if records == nil {
		records = []ledger.Record{}
	}
	writeJSON(w, http.StatusOK, records)
}

// handleTableRows returns table rows, filtered by control_id when given.
func (s *Server) handleTableRows(w http.ResponseWriter, r *http.Request) {
	tbl, err := s.service.ReadTable(r.Context(), chi.URLParam(r, "table"), r.URL.Query().Get("control_id"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTableResponse(tbl))
}

// handleIngest loads the request body as a new generation of {table}.
//
// The body is either a multipart form with a "file" field or the raw file.
// Query parameters: source (ledger label), format, sheet, skip_rows,
// rename (repeatable), split (repeatable, column:delimiter:child[:link[:rename]])
// and dry_run.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	table := chi.URLParam(r, "table")
	q := r.URL.Query()

	opts := source.Options{
		Format:      q.Get("format"),
		Sheet:       q.Get("sheet"),
		Rename:      q["rename"],
		Lines:       q.Get("lines") == "true",
		MaxFileSize: s.opts.MaxUploadSize,
	}
	if v := q.Get("skip_rows"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.respondError(w, r, fmt.Errorf("parse error: skip_rows %q must be a non-negative integer", v))
			return
		}
		opts.SkipRows = n
	}

	var splits []core.SplitSpec
	for _, v := range q["split"] {
		spec, err := core.ParseSplitFlag(v)
		if err != nil {
			s.respondError(w, r, err)
			return
		}
		splits = append(splits, spec)
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUploadSize)
	body, filename, err := uploadBody(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	defer body.Close()

	if opts.Format == "" {
		format, ok := source.FormatForPath(filename)
		if !ok {
			s.respondError(w, r, fmt.Errorf("unsupported format: pass ?format= or upload a named file (%s)",
				strings.Join(source.Formats(), ", ")))
			return
		}
		opts.Format = format
	}

	tbl, err := source.Read(body, opts.Format, opts)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			err = fmt.Errorf("file too large: %w", err)
		}
		s.respondError(w, r, err)
		return
	}

	if q.Get("dry_run") == "true" {
		plan, err := s.service.Preview(r.Context(), tbl, table, splits...)
		if err != nil {
			s.respondError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, plan)
		return
	}

	label := q.Get("source")
	if label == "" {
		label = filename
	}
	res, err := s.service.Ingest(r.Context(), tbl, table, label, splits...)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// uploadBody returns the uploaded file and its name. A raw body is named
// "upload" so the ledger source is never empty.
func uploadBody(r *http.Request) (io.ReadCloser, string, error) {
	if !strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		name := "upload"
		if v := r.URL.Query().Get("filename"); v != "" {
			name = path.Base(v)
		}
		return r.Body, name, nil
	}

	mr, err := r.MultipartReader()
	if err != nil {
		return nil, "", fmt.Errorf("parse error: multipart body: %w", err)
	}
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return nil, "", fmt.Errorf("no file provided: multipart body has no \"file\" field")
		}
		if err != nil {
			return nil, "", fmt.Errorf("parse error: multipart body: %w", err)
		}
		if part.FormName() == "file" {
			return part, path.Base(part.FileName()), nil
		}
		part.Close()
	}
}

// HarmonizeRequest is the body of POST /api/harmonize.
type HarmonizeRequest struct {
	Tables []string `json:"tables"`
}

// handleHarmonize brings a set of tables to one shared generation.
func (s *Server) handleHarmonize(w http.ResponseWriter, r *http.Request) {
	var req HarmonizeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}

	res, err := s.service.Harmonize(r.Context(), req.Tables)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// QueryRequest is the body of POST /api/query. Exactly one of SQL and
// Table is set.
type QueryRequest struct {
	SQL       string `json:"sql"`
	Table     string `json:"table"`
	ControlID string `json:"controlId"`
}

// handleQuery runs a statement or reads a table.
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req QueryRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}

	var (
		tbl *tabular.Table
		err error
	)
	switch {
	case req.SQL != "" && req.Table != "":
		err = fmt.Errorf("parse error: set either sql or table, not both")
	case req.Table != "":
		tbl, err = s.service.ReadTable(r.Context(), req.Table, req.ControlID)
	default:
		tbl, err = s.service.Query(r.Context(), req.SQL)
	}
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTableResponse(tbl))
}

// decodeJSON reads a small JSON request body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("parse error: request body: %w", err)
	}
	return nil
}
