package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/engram-memory/engram/internal/assemble"
	"github.com/engram-memory/engram/internal/engine"
	"github.com/engram-memory/engram/internal/store"
	"github.com/engram-memory/engram/pkg/types"
)

// maxBodyBytes bounds request bodies; memory content is text, not blobs.
const maxBodyBytes = 1 << 20

// Handler carries the API dependencies.
type Handler struct {
	engine    *engine.Engine
	assembler *assemble.Assembler
	hub       *Hub
	log       zerolog.Logger
}

// NewHandler builds the handler set.
func NewHandler(e *engine.Engine, a *assemble.Assembler, hub *Hub, log zerolog.Logger) *Handler {
	return &Handler{engine: e, assembler: a, hub: hub, log: log}
}

// Register installs every route on the mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/health", h.health)

	mux.HandleFunc("POST /api/memories", h.createMemory)
	mux.HandleFunc("GET /api/memories", h.listMemories)
	mux.HandleFunc("GET /api/memories/{id}", h.getMemory)
	mux.HandleFunc("PATCH /api/memories/{id}", h.updateMemory)
	mux.HandleFunc("DELETE /api/memories/{id}", h.deleteMemory)
	mux.HandleFunc("POST /api/memories/{id}/approve", h.approveMemory)
	mux.HandleFunc("POST /api/memories/{id}/reject", h.rejectMemory)
	mux.HandleFunc("PUT /api/memories/{id}/links/{other}", h.linkMemories)
	mux.HandleFunc("DELETE /api/memories/{id}/links/{other}", h.unlinkMemories)

	mux.HandleFunc("POST /api/ingest", h.ingest)
	mux.HandleFunc("GET /api/pending", h.pending)
	mux.HandleFunc("GET /api/search", h.search)
	mux.HandleFunc("POST /api/assemble", h.assembleContext)
	mux.HandleFunc("GET /api/stats", h.stats)

	mux.HandleFunc("POST /api/maintenance/decay", h.runDecay)
	mux.HandleFunc("POST /api/maintenance/consolidate", h.runConsolidate)
	mux.HandleFunc("POST /api/maintenance/expired", h.runClearExpired)

	if h.hub != nil {
		mux.Handle("GET /api/events", h.hub)
	}
}

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// createRequest is the direct-write body. Ingestion with gating goes through
// /api/ingest instead.
type createRequest struct {
	Type          types.MemoryType `json:"type"`
	Content       string           `json:"content"`
	Summary       string           `json:"summary,omitempty"`
	Category      string           `json:"category,omitempty"`
	Tags          []string         `json:"tags,omitempty"`
	Confidence    float64          `json:"confidence"`
	Importance    float64          `json:"importance,omitempty"`
	SourceTaskID  string           `json:"source_task_id,omitempty"`
	SourceAgentID string           `json:"source_agent_id,omitempty"`
	SourceAppID   string           `json:"source_app_id,omitempty"`
	ExpiresAt     *time.Time       `json:"expires_at,omitempty"`
}

func (h *Handler) createMemory(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if !decodeBody(w, r, &req) {
		return
	}
	m, err := h.engine.Create(r.Context(), &types.Memory{
		Type:          req.Type,
		Content:       req.Content,
		Summary:       req.Summary,
		Category:      req.Category,
		Tags:          req.Tags,
		Confidence:    req.Confidence,
		Importance:    req.Importance,
		SourceTaskID:  req.SourceTaskID,
		SourceAgentID: req.SourceAgentID,
		SourceAppID:   req.SourceAppID,
		ExpiresAt:     req.ExpiresAt,
	})
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

func (h *Handler) getMemory(w http.ResponseWriter, r *http.Request) {
	m, err := h.engine.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (h *Handler) listMemories(w http.ResponseWriter, r *http.Request) {
	opts, err := listOptionsFromQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, listErr := h.engine.List(r.Context(), opts)
	if listErr != nil {
		writeStoreError(w, listErr)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// updateRequest mirrors store.UpdatePatch for JSON callers. Absent fields
// stay untouched; expires_at accepts null via clear_expiry.
type updateRequest struct {
	Content         *string    `json:"content,omitempty"`
	Summary         *string    `json:"summary,omitempty"`
	Category        *string    `json:"category,omitempty"`
	Tags            *[]string  `json:"tags,omitempty"`
	Confidence      *float64   `json:"confidence,omitempty"`
	Importance      *float64   `json:"importance,omitempty"`
	RelatedMemories *[]string  `json:"related_memories,omitempty"`
	ExpiresAt       *time.Time `json:"expires_at,omitempty"`
	ClearExpiry     bool       `json:"clear_expiry,omitempty"`
}

func (h *Handler) updateMemory(w http.ResponseWriter, r *http.Request) {
	var req updateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	m, err := h.engine.Update(r.Context(), r.PathValue("id"), store.UpdatePatch{
		Content:         req.Content,
		Summary:         req.Summary,
		Category:        req.Category,
		Tags:            req.Tags,
		Confidence:      req.Confidence,
		Importance:      req.Importance,
		RelatedMemories: req.RelatedMemories,
		ExpiresAt:       req.ExpiresAt,
		ClearExpiry:     req.ClearExpiry,
	})
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (h *Handler) deleteMemory(w http.ResponseWriter, r *http.Request) {
	hard := r.URL.Query().Get("hard") == "true"
	if err := h.engine.Delete(r.Context(), r.PathValue("id"), hard); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"hard": hard})
}

func (h *Handler) approveMemory(w http.ResponseWriter, r *http.Request) {
	m, err := h.engine.Approve(r.Context(), r.PathValue("id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (h *Handler) rejectMemory(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.Reject(r.Context(), r.PathValue("id")); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

func (h *Handler) linkMemories(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.Link(r.Context(), r.PathValue("id"), r.PathValue("other")); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

func (h *Handler) unlinkMemories(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.Unlink(r.Context(), r.PathValue("id"), r.PathValue("other")); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

type ingestRequest struct {
	Candidates []types.Candidate `json:"candidates"`
}

func (h *Handler) ingest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if len(req.Candidates) == 0 {
		writeError(w, http.StatusBadRequest, "candidates are required")
		return
	}
	report, err := h.engine.Ingest(r.Context(), req.Candidates)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *Handler) pending(w http.ResponseWriter, r *http.Request) {
	entries, err := h.engine.PendingApprovals(r.Context())
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *Handler) search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		writeError(w, http.StatusBadRequest, "query parameter q is required")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	filter, err := filterFromQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	results, searchErr := h.engine.Search(r.Context(), q, limit, filter)
	if searchErr != nil {
		writeStoreError(w, searchErr)
		return
	}
	writeJSON(w, http.StatusOK, results)
}

func (h *Handler) assembleContext(w http.ResponseWriter, r *http.Request) {
	var req assemble.Request
	if !decodeBody(w, r, &req) {
		return
	}
	out, err := h.assembler.Assemble(r.Context(), req)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	st, err := h.engine.Stats(r.Context())
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *Handler) runDecay(w http.ResponseWriter, r *http.Request) {
	report, err := h.engine.ApplyDecay(r.Context())
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *Handler) runConsolidate(w http.ResponseWriter, r *http.Request) {
	dryRun := r.URL.Query().Get("dry_run") == "true"
	report, err := h.engine.Consolidate(r.Context(), dryRun)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *Handler) runClearExpired(w http.ResponseWriter, r *http.Request) {
	expired, err := h.engine.ClearExpired(r.Context())
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"expired": expired})
}

// decodeBody parses the JSON body into v, writing the error response itself.
func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

func filterFromQuery(r *http.Request) (types.Filter, error) {
	q := r.URL.Query()
	var f types.Filter
	for _, t := range q["type"] {
		f.Types = append(f.Types, types.MemoryType(t))
	}
	for _, s := range q["status"] {
		f.Statuses = append(f.Statuses, types.MemoryStatus(s))
	}
	f.Categories = q["category"]
	f.Tags = q["tag"]
	f.SourceAppID = q.Get("source_app_id")
	if v := q.Get("min_importance"); v != "" {
		min, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return f, &types.ValidationError{Field: "min_importance", Reason: "not a number"}
		}
		f.MinImportance = min
	}
	if v := q.Get("created_after"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, &types.ValidationError{Field: "created_after", Reason: "not RFC3339"}
		}
		f.CreatedAfter = t
	}
	if v := q.Get("created_before"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, &types.ValidationError{Field: "created_before", Reason: "not RFC3339"}
		}
		f.CreatedBefore = t
	}
	return f, f.Validate()
}

func listOptionsFromQuery(r *http.Request) (types.ListOptions, error) {
	filter, err := filterFromQuery(r)
	if err != nil {
		return types.ListOptions{}, err
	}
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))
	return types.ListOptions{
		Filter:    filter,
		SortBy:    q.Get("sort_by"),
		SortOrder: q.Get("sort_order"),
		Limit:     limit,
		Offset:    offset,
	}, nil
}
