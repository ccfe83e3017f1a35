package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sort"
	"strings"

	"github.com/vanshika/clinigraph/internal/dataset"
	"github.com/vanshika/clinigraph/internal/domain"
	"github.com/vanshika/clinigraph/internal/graph"
	"github.com/vanshika/clinigraph/internal/service"
)

const maxBodyBytes = 10 << 20

// StatsSource reports graph contents. graph.Client satisfies it.
type StatsSource interface {
	Stats(ctx context.Context) (graph.Stats, error)
}

// APIHandlers bundles HTTP handlers for ingestion and graph inspection.
type APIHandlers struct {
	logger     *slog.Logger
	encounters service.EncounterIngester
	histories  service.HistoryIngester
	stats      StatsSource
}

// NewAPIHandlers constructs handler set. histories and stats may be nil, in
// which case the matching routes answer 404.
func NewAPIHandlers(logger *slog.Logger, encounters service.EncounterIngester, histories service.HistoryIngester, stats StatsSource) *APIHandlers {
	return &APIHandlers{
		logger:     logger.With("component", "api"),
		encounters: encounters,
		histories:  histories,
		stats:      stats,
	}
}

func (h *APIHandlers) handleEncounters(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	if h.encounters == nil {
		writeError(w, http.StatusNotFound, "encounter ingestion is disabled")
		return
	}

	records, err := dataset.DecodeEncounters(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	resp := ingestResponse{Results: make([]recordResult, 0, len(records))}
	for idx, enc := range records {
		handle, err := h.encounters.Ingest(r.Context(), enc)
		if err != nil {
			resp.fail(idx, err)
			h.logger.Warn("encounter rejected", "index", idx, "error", err)
			continue
		}
		resp.Committed++
		resp.Results = append(resp.Results, recordResult{
			Index:       idx,
			EncounterID: int64(handle.EncounterID),
			PatientID:   int64(handle.PatientID),
			Attempts:    handle.Attempts,
		})
	}

	respondJSON(w, resp.status(), resp)
}

func (h *APIHandlers) handlePatientHistories(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	if h.histories == nil {
		writeError(w, http.StatusNotFound, "patient-history ingestion is disabled")
		return
	}

	records, err := dataset.DecodeHistories(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	resp := ingestResponse{Results: make([]recordResult, 0, len(records))}
	for idx, history := range records {
		handle, err := h.histories.Ingest(r.Context(), history)
		if err != nil {
			res := resp.fail(idx, err)
			// Encounters committed before the failure stay in the graph.
			if len(handle.EncounterIDs) > 0 {
				res.PatientID = int64(handle.PatientID)
				res.EncounterIDs = encounterIDs(handle.EncounterIDs)
				res.Attempts = handle.Attempts
				resp.partial = true
			}
			h.logger.Warn("patient history rejected", "index", idx, "committedEncounters", len(handle.EncounterIDs), "error", err)
			continue
		}
		resp.Committed++
		resp.Results = append(resp.Results, recordResult{
			Index:        idx,
			PatientID:    int64(handle.PatientID),
			EncounterIDs: encounterIDs(handle.EncounterIDs),
			Attempts:     handle.Attempts,
		})
	}

	respondJSON(w, resp.status(), resp)
}

func (h *APIHandlers) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	if h.stats == nil {
		writeError(w, http.StatusNotFound, "stats are unavailable")
		return
	}

	stats, err := h.stats.Stats(r.Context())
	if err != nil {
		h.logger.Error("stats query failed", "error", err)
		writeError(w, statusForError(err), err.Error())
		return
	}

	resp := statsResponse{
		Nodes: make([]countEntry, 0, len(stats.Nodes)),
		Edges: make([]countEntry, 0, len(stats.Edges)),
	}
	for label, n := range stats.Nodes {
		resp.Nodes = append(resp.Nodes, countEntry{Name: string(label), Count: n})
		resp.TotalNodes += n
	}
	for rel, n := range stats.Edges {
		resp.Edges = append(resp.Edges, countEntry{Name: string(rel), Count: n})
		resp.TotalEdges += n
	}
	sort.Slice(resp.Nodes, func(i, j int) bool { return resp.Nodes[i].Name < resp.Nodes[j].Name })
	sort.Slice(resp.Edges, func(i, j int) bool { return resp.Edges[i].Name < resp.Edges[j].Name })

	respondJSON(w, http.StatusOK, resp)
}

type recordResult struct {
	Index        int     `json:"index"`
	EncounterID  int64   `json:"encounterId,omitempty"`
	PatientID    int64   `json:"patientId,omitempty"`
	EncounterIDs []int64 `json:"encounterIds,omitempty"`
	Attempts     int     `json:"attempts,omitempty"`
	Stage        string  `json:"stage,omitempty"`
	Error        string  `json:"error,omitempty"`
}

type ingestResponse struct {
	Committed int            `json:"committed"`
	Failed    int            `json:"failed"`
	Results   []recordResult `json:"results"`

	firstStatus int
	partial     bool
}

// fail records a failed record and returns its result for amendment.
func (r *ingestResponse) fail(idx int, err error) *recordResult {
	res := recordResult{Index: idx, Error: err.Error()}
	var ierr *service.IngestionError
	if errors.As(err, &ierr) {
		res.Stage = string(ierr.Stage)
		res.Attempts = ierr.Attempts
	}
	r.Results = append(r.Results, res)
	r.Failed++
	if r.firstStatus == 0 {
		r.firstStatus = statusForError(err)
	}
	return &r.Results[len(r.Results)-1]
}

// status is 201 when every record committed, 207 when some data was
// committed, and the status of the first failure otherwise.
func (r *ingestResponse) status() int {
	switch {
	case r.Failed == 0:
		return http.StatusCreated
	case r.Committed > 0 || r.partial:
		return http.StatusMultiStatus
	default:
		return r.firstStatus
	}
}

func encounterIDs(ids []graph.NodeID) []int64 {
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		out = append(out, int64(id))
	}
	return out
}

type countEntry struct {
	Name  string `json:"name"`
	Count int64  `json:"count"`
}

type statsResponse struct {
	TotalNodes int64        `json:"totalNodes"`
	TotalEdges int64        `json:"totalEdges"`
	Nodes      []countEntry `json:"nodes"`
	Edges      []countEntry `json:"edges"`
}

func statusForError(err error) int {
	var (
		verr *domain.ValidationError
		cerr *graph.ConnectionError
		werr *graph.WriteConflictError
	)
	switch {
	case errors.As(err, &verr):
		return http.StatusUnprocessableEntity
	case errors.As(err, &cerr):
		return http.StatusServiceUnavailable
	case errors.As(err, &werr):
		return http.StatusConflict
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{
		"error": msg,
	})
}

func methodNotAllowed(w http.ResponseWriter, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}
