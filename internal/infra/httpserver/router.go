package httpserver

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	appcerts "github.com/bryanwahyu/certimed/internal/application/certificates"
	appreports "github.com/bryanwahyu/certimed/internal/application/reports"
	"github.com/bryanwahyu/certimed/internal/certificate"
	certdomain "github.com/bryanwahyu/certimed/internal/domain/certificates"
	domain "github.com/bryanwahyu/certimed/internal/domain/reports"
	"github.com/bryanwahyu/certimed/internal/middleware"
)

// maxUploadBytes bounds report uploads; scanned multi-page PDFs stay well
// under this.
const maxUploadBytes = 16 << 20

type Router struct {
	reportsSvc *appreports.Service
	certSvc    *appcerts.Service
}

func NewRouter(reportsSvc *appreports.Service, certSvc *appcerts.Service) http.Handler {
	r := &Router{reportsSvc: reportsSvc, certSvc: certSvc}
	mux := chi.NewRouter()

	mux.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	mux.Route("/v1", func(rt chi.Router) {
		rt.Post("/reports", r.wrap(r.handleSubmitReport))
		rt.Get("/reports/latest", r.wrap(r.handleLatest))
		rt.Get("/reports/{id}", r.wrap(r.handleGetReport))
		rt.Get("/reports/{id}/certificate", r.wrap(r.handleReportCertificate))
		rt.Post("/verify", r.wrap(r.handleVerify))
		rt.Get("/certificates/{fingerprint}", r.wrap(r.handleGetCertificate))
		rt.Get("/certificates/{fingerprint}/print", r.wrap(r.handlePrintCertificate))
	})

	return mux
}

type handlerFunc func(http.ResponseWriter, *http.Request) error

type httpError struct {
	status int
	msg    string
}

func (e *httpError) Error() string { return e.msg }

func badRequest(format string, args ...any) error {
	return &httpError{status: http.StatusBadRequest, msg: fmt.Sprintf(format, args...)}
}

func (r *Router) wrap(h handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if err := h(w, req); err != nil {
			var he *httpError
			if errors.As(err, &he) {
				http.Error(w, he.msg, he.status)
				return
			}
			if errors.Is(err, sql.ErrNoRows) || errors.Is(err, certdomain.ErrNotFound) {
				http.Error(w, "not found", http.StatusNotFound)
				return
			}
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(v)
}

// POST /v1/reports
// multipart/form-data with a "report" file part; optional "media_type"
// field overrides the part's declared Content-Type.
func (r *Router) handleSubmitReport(w http.ResponseWriter, req *http.Request) error {
	req.Body = http.MaxBytesReader(w, req.Body, maxUploadBytes)
	if err := req.ParseMultipartForm(maxUploadBytes); err != nil {
		return badRequest("invalid multipart body: %v", err)
	}

	file, header, err := req.FormFile("report")
	if err != nil {
		file, header, err = req.FormFile("file")
	}
	if err != nil {
		return badRequest(`missing "report" file part`)
	}
	defer file.Close()

	declared := req.FormValue("media_type")
	if declared == "" {
		declared = header.Header.Get("Content-Type")
	}
	if declared == "" || declared == "application/octet-stream" {
		declared = mime.TypeByExtension(filepath.Ext(header.Filename))
	}
	mediaType, err := domain.ParseMediaType(declared)
	if err != nil {
		return &httpError{status: http.StatusUnsupportedMediaType, msg: err.Error()}
	}

	data, err := io.ReadAll(file)
	if err != nil {
		return badRequest("read upload: %v", err)
	}
	if len(data) == 0 {
		return badRequest("empty upload")
	}

	doc := domain.Document{Bytes: data, MediaType: mediaType, Filename: header.Filename}
	run, err := r.reportsSvc.Submit(req.Context(), doc)
	if err != nil {
		return err
	}

	// Pipeline runs in the background until a terminal state; the client
	// polls GET /v1/reports/{id}.
	go func() {
		middleware.IncrementRuns()
		middleware.IncrementRunsRunning()
		defer middleware.DecrementRunsRunning()

		switch r.reportsSvc.ProcessUntilDone(run, doc).State {
		case domain.StateDegraded:
			middleware.IncrementRunsDegraded()
		case domain.StateFailed:
			middleware.IncrementRunsFailed()
		}
	}()

	return writeJSON(w, http.StatusAccepted, map[string]any{
		"run_id":    run.ID,
		"state":     run.State,
		"message":   "processing started",
		"queued_at": time.Now().UTC(),
	})
}

// GET /v1/reports/{id}
func (r *Router) handleGetReport(w http.ResponseWriter, req *http.Request) error {
	id := chi.URLParam(req, "id")
	run, err := r.reportsSvc.Get(req.Context(), domain.RunID(id))
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, run)
}

// GET /v1/reports/latest?limit=20
func (r *Router) handleLatest(w http.ResponseWriter, req *http.Request) error {
	limit, _ := strconv.Atoi(req.URL.Query().Get("limit"))
	list, err := r.reportsSvc.Latest(req.Context(), limit)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, list)
}

// GET /v1/reports/{id}/certificate
func (r *Router) handleReportCertificate(w http.ResponseWriter, req *http.Request) error {
	id := chi.URLParam(req, "id")
	rec, err := r.certSvc.GetByRun(req.Context(), id)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, rec)
}

// POST /v1/verify
// Body: {"extracted_text": "...", "summary": {"synopsis": "...", "terms": [...]}, "tx_id": "..."}
// Recomputes the fingerprint from the submitted content and compares it
// against the one anchored at tx_id. Read-only.
func (r *Router) handleVerify(w http.ResponseWriter, req *http.Request) error {
	var body struct {
		ExtractedText string `json:"extracted_text"`
		Summary       struct {
			Synopsis string `json:"synopsis"`
			Terms    []struct {
				Term        string `json:"term"`
				Explanation string `json:"explanation"`
			} `json:"terms"`
		} `json:"summary"`
		TxID string `json:"tx_id"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		return badRequest("invalid json body: %v", err)
	}
	if body.TxID == "" {
		return badRequest("tx_id is required")
	}

	result := certdomain.Result{
		Text:     body.ExtractedText,
		Synopsis: body.Summary.Synopsis,
	}
	for _, t := range body.Summary.Terms {
		result.Terms = append(result.Terms, certdomain.Term{Term: t.Term, Explanation: t.Explanation})
	}

	outcome, err := r.certSvc.Verify(req.Context(), result, certdomain.TxID(body.TxID))
	status := http.StatusOK
	if outcome == certdomain.OutcomeNetworkFailure {
		status = http.StatusBadGateway
	}
	resp := map[string]any{
		"outcome":     outcome,
		"fingerprint": result.ComputeFingerprint(),
		"tx_id":       body.TxID,
	}
	if err != nil {
		resp["error"] = err.Error()
	}
	return writeJSON(w, status, resp)
}

// GET /v1/certificates/{fingerprint}
func (r *Router) handleGetCertificate(w http.ResponseWriter, req *http.Request) error {
	fp := chi.URLParam(req, "fingerprint")
	rec, err := r.certSvc.Get(req.Context(), certdomain.Fingerprint(fp))
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, rec)
}

// GET /v1/certificates/{fingerprint}/print
// Serves the printable certificate: the stored artifact when one exists,
// otherwise rendered on the fly from the originating run.
func (r *Router) handlePrintCertificate(w http.ResponseWriter, req *http.Request) error {
	fp := chi.URLParam(req, "fingerprint")
	rec, err := r.certSvc.Get(req.Context(), certdomain.Fingerprint(fp))
	if err != nil {
		return err
	}
	if rec.ArtifactURL != "" {
		http.Redirect(w, req, rec.ArtifactURL, http.StatusFound)
		return nil
	}

	run, err := r.reportsSvc.Get(req.Context(), domain.RunID(rec.RunID))
	if err != nil {
		return err
	}
	html, err := certificate.Build(rec, run.CanonicalResult()).HTML()
	if err != nil {
		return err
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, err = w.Write(html)
	return err
}
