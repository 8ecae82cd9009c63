// Package server exposes the ask/tell protocol over HTTP so remote
// workers can drive studies without linking the engine.
package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/copyleftdev/sweep/internal/config"
	"github.com/copyleftdev/sweep/internal/hpo"
	"github.com/copyleftdev/sweep/internal/pruners"
	"github.com/copyleftdev/sweep/internal/samplers/gp"
)

// Server manages study handles over one storage backend and maps the
// engine API onto REST endpoints.
type Server struct {
	cfg       *config.Config
	logger    *zap.Logger
	storage   hpo.Storage
	artifacts hpo.ArtifactStore
	metrics   *metrics

	mu       sync.Mutex
	studies  map[string]*hpo.Study
	askTimes map[int]time.Time
}

// NewServer creates a server instance over the given storage backend.
// A nil registerer falls back to the default Prometheus registry.
func NewServer(cfg *config.Config, logger *zap.Logger, storage hpo.Storage, artifacts hpo.ArtifactStore, reg prometheus.Registerer) *Server {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	return &Server{
		cfg:       cfg,
		logger:    logger,
		storage:   storage,
		artifacts: artifacts,
		metrics:   newMetrics(reg),
		studies:   make(map[string]*hpo.Study),
		askTimes:  make(map[int]time.Time),
	}
}

// RegisterRoutes mounts the API under /api/v1 on the given router.
func (s *Server) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/studies", s.handleListStudies)
		r.Post("/studies", s.handleCreateStudy)
		r.Route("/studies/{study}", func(r chi.Router) {
			r.Delete("/", s.handleDeleteStudy)
			r.Get("/best", s.handleBest)
			r.Get("/trials", s.handleListTrials)
			r.Post("/ask", s.handleAsk)
			r.Get("/artifacts/{artifactID}", s.handleDownloadArtifact)
			r.Route("/trials/{trial}", func(r chi.Router) {
				r.Post("/tell", s.handleTell)
				r.Post("/report", s.handleReport)
				r.Post("/suggest", s.handleSuggest)
				r.Get("/prune", s.handlePrune)
				r.Post("/artifacts", s.handleUploadArtifact)
				r.Get("/artifacts", s.handleListArtifacts)
			})
		})
	})
}

// study returns a cached handle, loading it from storage on first use.
func (s *Server) study(name string) (*hpo.Study, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.studies[name]; ok {
		return st, nil
	}
	st, err := hpo.LoadStudy(s.storage, name,
		hpo.WithSampler(hpo.NewRandomSampler(s.cfg.Optimization.Seed)),
		hpo.WithPruner(pruners.NewMedian()),
		hpo.WithArtifactStore(s.artifacts),
		hpo.WithLogger(s.logger))
	if err != nil {
		return nil, err
	}
	s.studies[name] = st
	return st, nil
}

type createStudyRequest struct {
	Name      string `json:"name"`
	Direction string `json:"direction"`
	Sampler   string `json:"sampler,omitempty"`
	Seed      int64  `json:"seed,omitempty"`
}

// buildSampler resolves a sampler name from a create request.
func buildSampler(name string, direction hpo.Direction, seed int64) (hpo.Sampler, error) {
	switch name {
	case "", "random":
		return hpo.NewRandomSampler(seed), nil
	case "gp":
		return gp.New(direction, seed), nil
	default:
		return nil, hpo.NewErrorf("unknown sampler %q, want \"random\" or \"gp\"", name).WithOperation("create_study")
	}
}

func (s *Server) handleCreateStudy(w http.ResponseWriter, r *http.Request) {
	var req createStudyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	direction, err := hpo.ParseDirection(req.Direction)
	if err != nil {
		s.respondError(w, err)
		return
	}
	seed := req.Seed
	if seed == 0 {
		seed = s.cfg.Optimization.Seed
	}
	sampler, err := buildSampler(req.Sampler, direction, seed)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	st, err := hpo.CreateStudy(s.storage, req.Name,
		hpo.WithDirection(direction),
		hpo.WithSampler(sampler),
		hpo.WithPruner(pruners.NewMedian()),
		hpo.WithArtifactStore(s.artifacts),
		hpo.WithLogger(s.logger),
		hpo.WithLoadIfExists(false))
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.mu.Lock()
	s.studies[req.Name] = st
	s.mu.Unlock()

	s.writeJSON(w, http.StatusCreated, map[string]string{
		"name":      st.Name(),
		"direction": st.Direction().String(),
	})
}

func (s *Server) handleListStudies(w http.ResponseWriter, r *http.Request) {
	names, err := s.storage.AllStudyNames()
	if err != nil {
		s.respondError(w, err)
		return
	}
	if names == nil {
		names = []string{}
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"studies": names})
}

func (s *Server) handleDeleteStudy(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "study")
	if err := hpo.DeleteStudy(s.storage, name); err != nil {
		s.respondError(w, err)
		return
	}
	s.mu.Lock()
	delete(s.studies, name)
	s.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	st, err := s.study(chi.URLParam(r, "study"))
	if err != nil {
		s.respondError(w, err)
		return
	}
	t, err := st.Ask()
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.metrics.asks.Inc()
	s.trackAsk(t.ID())

	s.writeJSON(w, http.StatusCreated, map[string]int{"trial_id": t.ID()})
}

// maxTrackedAsks bounds the ask-time table used for the trial duration
// histogram. Trials asked and never told stay RUNNING, so without a
// cap their entries would accumulate for the life of the process.
const maxTrackedAsks = 4096

// trackAsk records the ask time for a trial, evicting the oldest entry
// once the table is full.
func (s *Server) trackAsk(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.askTimes) >= maxTrackedAsks {
		oldestID, oldestAt := 0, time.Time{}
		for tid, at := range s.askTimes {
			if oldestAt.IsZero() || at.Before(oldestAt) {
				oldestID, oldestAt = tid, at
			}
		}
		delete(s.askTimes, oldestID)
	}
	s.askTimes[id] = time.Now()
}

type tellRequest struct {
	Value  *float64 `json:"value,omitempty"`
	Pruned bool     `json:"pruned,omitempty"`
}

func (s *Server) handleTell(w http.ResponseWriter, r *http.Request) {
	st, t, ok := s.trial(w, r)
	if !ok {
		return
	}
	var req tellRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	// Prune wins over a partial value. A request with neither leaves
	// the zero Outcome, which Tell rejects as a usage error.
	var outcome hpo.Outcome
	label := "none"
	switch {
	case req.Pruned:
		outcome, label = hpo.Prune(), "pruned"
	case req.Value != nil:
		outcome, label = hpo.Complete(*req.Value), "complete"
	}
	if err := st.Tell(t, outcome); err != nil {
		s.respondError(w, err)
		return
	}

	s.metrics.tells.WithLabelValues(label).Inc()
	s.mu.Lock()
	if asked, ok := s.askTimes[t.ID()]; ok {
		s.metrics.trialDuration.Observe(time.Since(asked).Seconds())
		delete(s.askTimes, t.ID())
	}
	s.mu.Unlock()

	s.writeJSON(w, http.StatusOK, map[string]string{"state": label})
}

type reportRequest struct {
	Step  int     `json:"step"`
	Value float64 `json:"value"`
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	_, t, ok := s.trial(w, r)
	if !ok {
		return
	}
	var req reportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := t.Report(req.Value, req.Step); err != nil {
		s.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type suggestRequest struct {
	Name    string        `json:"name"`
	Kind    string        `json:"kind"`
	Low     float64       `json:"low,omitempty"`
	High    float64       `json:"high,omitempty"`
	Step    float64       `json:"step,omitempty"`
	Log     bool          `json:"log,omitempty"`
	Choices []interface{} `json:"choices,omitempty"`
}

func (s *Server) handleSuggest(w http.ResponseWriter, r *http.Request) {
	_, t, ok := s.trial(w, r)
	if !ok {
		return
	}
	var req suggestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var opts []hpo.SuggestOption
	if req.Log {
		opts = append(opts, hpo.WithLog())
	}
	if req.Step != 0 {
		opts = append(opts, hpo.WithStep(req.Step))
	}

	var (
		value interface{}
		err   error
	)
	switch req.Kind {
	case "int":
		value, err = t.SuggestInt(req.Name, int64(req.Low), int64(req.High), opts...)
	case "float":
		value, err = t.SuggestFloat(req.Name, req.Low, req.High, opts...)
	case "categorical":
		value, err = t.SuggestCategorical(req.Name, req.Choices)
	default:
		s.writeError(w, http.StatusBadRequest, "kind must be int, float or categorical")
		return
	}
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"name": req.Name, "value": value})
}

func (s *Server) handlePrune(w http.ResponseWriter, r *http.Request) {
	_, t, ok := s.trial(w, r)
	if !ok {
		return
	}
	prune, err := t.ShouldPrune()
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"prune": prune})
}

func (s *Server) handleBest(w http.ResponseWriter, r *http.Request) {
	st, err := s.study(chi.URLParam(r, "study"))
	if err != nil {
		s.respondError(w, err)
		return
	}
	best, err := st.BestTrial()
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"trial_id": best.ID,
		"value":    *best.Value,
		"params":   best.ParamValues(),
	})
}

func (s *Server) handleListTrials(w http.ResponseWriter, r *http.Request) {
	st, err := s.study(chi.URLParam(r, "study"))
	if err != nil {
		s.respondError(w, err)
		return
	}
	trials, err := st.Trials()
	if err != nil {
		s.respondError(w, err)
		return
	}
	views := make([]map[string]interface{}, 0, len(trials))
	for _, ft := range trials {
		view := map[string]interface{}{
			"trial_id":     ft.ID,
			"state":        ft.State.String(),
			"params":       ft.ParamValues(),
			"intermediate": ft.Intermediate,
		}
		if ft.Value != nil {
			view["value"] = *ft.Value
		}
		views = append(views, view)
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"trials": views})
}

func (s *Server) handleUploadArtifact(w http.ResponseWriter, r *http.Request) {
	st, t, ok := s.trial(w, r)
	if !ok {
		return
	}
	mimeType := r.Header.Get("Content-Type")
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	id, err := st.UploadArtifact(t, mimeType, r.Header.Get("Content-Encoding"), r.Body)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]string{"artifact_id": id})
}

func (s *Server) handleListArtifacts(w http.ResponseWriter, r *http.Request) {
	st, t, ok := s.trial(w, r)
	if !ok {
		return
	}
	metas, err := st.TrialArtifacts(t)
	if err != nil {
		s.respondError(w, err)
		return
	}
	if metas == nil {
		metas = []hpo.ArtifactMeta{}
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"artifacts": metas})
}

func (s *Server) handleDownloadArtifact(w http.ResponseWriter, r *http.Request) {
	st, err := s.study(chi.URLParam(r, "study"))
	if err != nil {
		s.respondError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	if err := st.DownloadArtifact(chi.URLParam(r, "artifactID"), w); err != nil {
		s.respondError(w, err)
		return
	}
}

// trial resolves the study and trial named in the URL, writing the
// error response itself on failure.
func (s *Server) trial(w http.ResponseWriter, r *http.Request) (*hpo.Study, *hpo.Trial, bool) {
	st, err := s.study(chi.URLParam(r, "study"))
	if err != nil {
		s.respondError(w, err)
		return nil, nil, false
	}
	id, err := strconv.Atoi(chi.URLParam(r, "trial"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid trial id")
		return nil, nil, false
	}
	t, err := st.Trial(id)
	if err != nil {
		s.respondError(w, err)
		return nil, nil, false
	}
	return st, t, true
}

// respondError maps engine errors onto HTTP status codes.
func (s *Server) respondError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, hpo.ErrNotFound), errors.Is(err, hpo.ErrNoCompletedTrials):
		status = http.StatusNotFound
	case errors.Is(err, hpo.ErrStudyExists), errors.Is(err, hpo.ErrTrialFinished):
		status = http.StatusConflict
	case hpo.IsUsageError(err):
		status = http.StatusBadRequest
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", zap.Error(err))
	}
	s.writeError(w, status, err.Error())
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error("failed to encode response", zap.Error(err))
	}
}
