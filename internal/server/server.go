// Package server implements the HTTP and JSON-RPC surface of the
// tuning service: starting SPSA tuning runs over the built-in benchmark
// objectives, reporting their progress and cancelling them.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/copyleftdev/TAIGA/internal/config"
	"github.com/copyleftdev/TAIGA/internal/errors"
	"github.com/copyleftdev/TAIGA/internal/logging"
	"github.com/copyleftdev/TAIGA/internal/metrics"
	"github.com/copyleftdev/TAIGA/internal/optimization"
	"github.com/copyleftdev/TAIGA/internal/optimization/objectives"
	"github.com/copyleftdev/TAIGA/internal/optimization/params"
	"github.com/copyleftdev/TAIGA/internal/optimization/spsa"
)

// Logger defines the logging interface used by the server.
type Logger interface {
	Debug(msg string, fields ...map[string]interface{})
	Info(msg string, fields ...map[string]interface{})
	Warn(msg string, fields ...map[string]interface{})
	Error(msg string, fields ...map[string]interface{})
	Fatal(msg string, fields ...map[string]interface{})
	WithFields(fields map[string]interface{}) *logging.Logger
}

// TuneRequest describes one tuning run. Zero-valued optional fields
// fall back to the service defaults from the configuration.
type TuneRequest struct {
	// Objective names a built-in benchmark objective.
	Objective string `json:"objective" validate:"required"`
	// Initial is the starting parameter vector; its keys fix the
	// parameter names for the whole run.
	Initial map[string]float64 `json:"initial" validate:"required,min=1"`
	// Bounds optionally clamps parameters to [min, max] per name,
	// enforced through the constraint projection before each iteration.
	Bounds map[string][2]float64 `json:"bounds,omitempty"`

	MaxIterations     int     `json:"max_iterations,omitempty" validate:"omitempty,gt=0"`
	InitialStep       float64 `json:"initial_step,omitempty" validate:"omitempty,gt=0"`
	PerturbationScale float64 `json:"perturbation_scale,omitempty" validate:"omitempty,gt=0"`
	Alpha             float64 `json:"alpha,omitempty" validate:"omitempty,gt=0,lte=1"`
	Gamma             float64 `json:"gamma,omitempty" validate:"omitempty,gt=0,lte=0.16666666666666666"`
	Rule              string  `json:"rule,omitempty" validate:"omitempty,oneof=hybrid spsa"`
	Seed              int64   `json:"seed,omitempty"`
	// Noise adds uniform noise of the given width to the objective,
	// turning a deterministic benchmark into a stochastic one.
	Noise float64 `json:"noise,omitempty" validate:"omitempty,gte=0"`
}

// RunState tracks one tuning run. Safe for concurrent access through
// the server's lock.
type RunState struct {
	ID            string
	Status        string // "pending", "running", "completed", "failed", "cancelled"
	StartTime     time.Time
	EndTime       *time.Time
	Progress      float64
	Goal          float64
	BestGoal      float64
	Theta         params.Vector
	Result        *optimization.Result
	Error         string
	LastUpdated   time.Time
	lastIteration int
	cancel        context.CancelFunc
}

// Server manages tuning runs and serves their lifecycle endpoints.
type Server struct {
	cfg      *config.Config
	logger   Logger
	validate *validator.Validate

	runs   map[string]*RunState
	runsMu sync.RWMutex
}

// NewServer creates a server with the given config and logger.
func NewServer(cfg *config.Config, logger Logger) *Server {
	return &Server{
		cfg:      cfg,
		logger:   logger,
		validate: validator.New(),
		runs:     make(map[string]*RunState),
	}
}

func (s *Server) RegisterRoutes(r chi.Router) {
	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/objectives", s.handleObjectives)
		r.Post("/tune", s.handleTune)
		r.Get("/runs/{id}", s.handleStatus)
		r.Delete("/runs/{id}", s.handleCancel)
	})

	// JSON-RPC 2.0 endpoint
	r.Post("/rpc", s.handleJSONRPC)
}

// handleJSONRPC handles JSON-RPC 2.0 requests.
func (s *Server) handleJSONRPC(w http.ResponseWriter, r *http.Request) {
	var request struct {
		JSONRPC string            `json:"jsonrpc"`
		ID      interface{}       `json:"id"`
		Method  string            `json:"method"`
		Params  []json.RawMessage `json:"params,omitempty"`
	}

	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		s.respondWithError(w, -32700, "Parse error", nil)
		return
	}
	if request.JSONRPC != "2.0" {
		s.respondWithError(w, -32600, "Invalid Request", nil)
		return
	}

	var result interface{}
	var err error

	switch request.Method {
	case "tuning.start":
		result, err = s.rpcStart(request.Params)
	case "tuning.status":
		result, err = s.rpcStatus(request.Params)
	case "tuning.cancel":
		err = s.rpcCancel(request.Params)
	default:
		s.respondWithError(w, -32601, "Method not found", request.ID)
		return
	}

	if err != nil {
		s.respondWithError(w, -32000, err.Error(), request.ID)
		return
	}

	response := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      request.ID,
		"result":  result,
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

func (s *Server) rpcStart(rawParams []json.RawMessage) (interface{}, error) {
	if len(rawParams) == 0 {
		return nil, errors.New("missing required parameters")
	}
	var req TuneRequest
	if err := json.Unmarshal(rawParams[0], &req); err != nil {
		return nil, errors.Wrap(err, "invalid parameter format")
	}
	return s.startRun(req)
}

func (s *Server) rpcStatus(rawParams []json.RawMessage) (interface{}, error) {
	id, err := runIDParam(rawParams)
	if err != nil {
		return nil, err
	}
	return s.statusRun(id)
}

func (s *Server) rpcCancel(rawParams []json.RawMessage) error {
	id, err := runIDParam(rawParams)
	if err != nil {
		return err
	}
	return s.cancelRun(id)
}

func runIDParam(rawParams []json.RawMessage) (string, error) {
	if len(rawParams) == 0 {
		return "", errors.New("missing required parameters")
	}
	var p struct {
		RunID string `json:"run_id"`
	}
	if err := json.Unmarshal(rawParams[0], &p); err != nil {
		return "", errors.Wrap(err, "invalid parameter format")
	}
	if p.RunID == "" {
		return "", errors.New("run_id is required")
	}
	return p.RunID, nil
}

// startRun validates the request, builds the minimizer and launches the
// run in a goroutine.
func (s *Server) startRun(req TuneRequest) (map[string]interface{}, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, errors.Wrap(err, "invalid tuning request")
	}

	objective, ok := objectives.Lookup(req.Objective)
	if !ok {
		return nil, errors.Errorf("unknown objective %q", req.Objective)
	}

	theta0 := make(params.Vector, len(req.Initial))
	for name, value := range req.Initial {
		theta0[name] = value
	}

	opts := s.tunerOptions(req)

	seed := req.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
		opts.Seed = seed
	}
	if req.Noise > 0 {
		shared := rand.New(rand.NewSource(seed + 1))
		objective = objectives.Noisy(objective, req.Noise, shared)
		opts.SharedRNG = shared
	}
	if len(req.Bounds) > 0 {
		opts.Constraint = boundsConstraint(req.Bounds)
	}

	// Count every objective evaluation, noisy or not.
	inner := objective
	objective = func(p params.Vector) (float64, error) {
		metrics.EvaluationsTotal.Inc()
		return inner(p)
	}

	id := uuid.NewString()
	runLogger := s.logger.WithFields(map[string]interface{}{"run_id": id})
	opts.Logger = logging.NewZapLogger(runLogger)
	opts.OnProgress = func(u optimization.ProgressUpdate) {
		s.updateProgress(id, u)
	}

	minimizer, err := spsa.New(objective, theta0, opts)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create minimizer")
	}

	ctx, cancel := context.WithCancel(context.Background())
	state := &RunState{
		ID:          id,
		Status:      "pending",
		StartTime:   time.Now(),
		LastUpdated: time.Now(),
		cancel:      cancel,
	}

	s.runsMu.Lock()
	s.runs[id] = state
	s.runsMu.Unlock()

	go s.runTuning(ctx, id, minimizer, state)

	return map[string]interface{}{
		"run_id": id,
		"status": "pending",
	}, nil
}

// tunerOptions overlays the request on the configured defaults.
func (s *Server) tunerOptions(req TuneRequest) spsa.Options {
	opts := spsa.Options{
		MaxIterations:     s.cfg.Tuner.MaxIterations,
		InitialStep:       s.cfg.Tuner.InitialStep,
		PerturbationScale: s.cfg.Tuner.PerturbationScale,
		Alpha:             s.cfg.Tuner.Alpha,
		Gamma:             s.cfg.Tuner.Gamma,
		Seed:              req.Seed,
	}
	if s.cfg.Tuner.Rule == "spsa" {
		opts.Rule = spsa.RuleSPSA
	}
	if req.MaxIterations > 0 {
		opts.MaxIterations = req.MaxIterations
	}
	if req.InitialStep > 0 {
		opts.InitialStep = req.InitialStep
	}
	if req.PerturbationScale > 0 {
		opts.PerturbationScale = req.PerturbationScale
	}
	if req.Alpha > 0 {
		opts.Alpha = req.Alpha
	}
	if req.Gamma > 0 {
		opts.Gamma = req.Gamma
	}
	switch req.Rule {
	case "spsa":
		opts.Rule = spsa.RuleSPSA
	case "hybrid":
		opts.Rule = spsa.RuleHybrid
	}
	return opts
}

// boundsConstraint clamps each named parameter into its [min, max]
// interval. Projecting an already-feasible point changes nothing.
func boundsConstraint(bounds map[string][2]float64) optimization.Constraint {
	return func(p params.Vector) params.Vector {
		out := p.Clone()
		for name, b := range bounds {
			if v, ok := out[name]; ok {
				if v < b[0] {
					out[name] = b[0]
				} else if v > b[1] {
					out[name] = b[1]
				}
			}
		}
		return out
	}
}

// runTuning executes one tuning run in a goroutine.
func (s *Server) runTuning(ctx context.Context, id string, minimizer *spsa.Minimizer, state *RunState) {
	metrics.RunsActive.Inc()
	defer metrics.RunsActive.Dec()

	s.runsMu.Lock()
	state.Status = "running"
	state.LastUpdated = time.Now()
	s.runsMu.Unlock()

	result, err := minimizer.Run(ctx)

	s.runsMu.Lock()
	defer s.runsMu.Unlock()

	now := time.Now()
	state.EndTime = &now
	state.LastUpdated = now

	switch {
	case err == nil:
		state.Status = "completed"
		state.Result = &result
		state.Goal = result.Goal
		state.Progress = 1
		metrics.RunsTotal.WithLabelValues("completed").Inc()
		s.logger.Info("tuning run completed", map[string]interface{}{
			"run_id": id,
			"goal":   result.Goal,
		})
	case ctx.Err() != nil:
		state.Status = "cancelled"
		metrics.RunsTotal.WithLabelValues("cancelled").Inc()
	default:
		wrapped := errors.Wrap(err, "tuning run failed")
		state.Status = "failed"
		state.Error = wrapped.Error()
		metrics.RunsTotal.WithLabelValues("failed").Inc()
		s.logger.Error("tuning run failed", map[string]interface{}{
			"run_id": id,
			"error":  wrapped.Error(),
			"stack":  wrapped.StackTrace(),
		})
	}
}

// updateProgress folds a minimizer progress report into the run state.
func (s *Server) updateProgress(id string, u optimization.ProgressUpdate) {
	s.runsMu.Lock()
	defer s.runsMu.Unlock()

	state, exists := s.runs[id]
	if !exists {
		return
	}
	metrics.IterationsTotal.Add(float64(u.Iteration - state.lastIteration))
	state.lastIteration = u.Iteration
	state.Progress = float64(u.Iteration) / float64(u.MaxIterations)
	state.Goal = u.Goal
	state.BestGoal = u.BestGoal
	state.Theta = u.Theta
	state.LastUpdated = time.Now()
}

// statusRun builds the status payload for one run.
func (s *Server) statusRun(id string) (map[string]interface{}, error) {
	s.runsMu.RLock()
	defer s.runsMu.RUnlock()

	state, exists := s.runs[id]
	if !exists {
		return nil, errors.New("run not found")
	}

	response := map[string]interface{}{
		"run_id":      state.ID,
		"status":      state.Status,
		"progress":    state.Progress,
		"start_time":  state.StartTime.Format(time.RFC3339),
		"last_update": state.LastUpdated.Format(time.RFC3339),
	}
	if state.EndTime != nil {
		response["end_time"] = state.EndTime.Format(time.RFC3339)
	}
	if state.Theta != nil {
		response["theta"] = state.Theta
		response["goal"] = state.Goal
		response["best_goal"] = state.BestGoal
	}
	if state.Result != nil {
		response["result"] = map[string]interface{}{
			"theta":      state.Result.Theta,
			"iterations": state.Result.Iterations,
			"goal":       state.Result.Goal,
		}
	}
	if state.Error != "" {
		response["error"] = state.Error
	}
	return response, nil
}

// cancelRun cancels a running tuning run.
func (s *Server) cancelRun(id string) error {
	s.runsMu.Lock()
	defer s.runsMu.Unlock()

	state, exists := s.runs[id]
	if !exists {
		return errors.New("run not found")
	}

	switch state.Status {
	case "completed", "failed", "cancelled":
		return errors.Errorf("cannot cancel run with status: %s", state.Status)
	}

	if state.cancel != nil {
		state.cancel()
	}
	state.Status = "cancelled"
	now := time.Now()
	state.EndTime = &now
	state.LastUpdated = now

	s.logger.Info("tuning run cancelled", map[string]interface{}{"run_id": id})
	return nil
}

// respondWithError sends a JSON-RPC 2.0 error response.
func (s *Server) respondWithError(w http.ResponseWriter, code int, message string, id interface{}) {
	s.logger.Error("request error", map[string]interface{}{
		"code":    code,
		"message": message,
	})

	response := map[string]interface{}{
		"jsonrpc": "2.0",
		"error": map[string]interface{}{
			"code":    code,
			"message": message,
		},
		"id": id,
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(response)
}

// handleObjectives lists the objectives the service can tune against.
func (s *Server) handleObjectives(w http.ResponseWriter, r *http.Request) {
	logging.FromContext(r.Context()).Debug("listing objectives")

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"objectives": objectives.Names(),
	})
}

// handleTune handles POST /api/v1/tune.
func (s *Server) handleTune(w http.ResponseWriter, r *http.Request) {
	var req TuneRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("Invalid request body: %v", err), http.StatusBadRequest)
		return
	}

	result, err := s.startRun(req)

	w.Header().Set("Content-Type", "application/json")
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]interface{}{"error": err.Error()})
		return
	}

	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(result)
}

// handleStatus handles GET /api/v1/runs/{id}.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		http.Error(w, "Missing run ID", http.StatusBadRequest)
		return
	}

	result, err := s.statusRun(id)

	w.Header().Set("Content-Type", "application/json")
	if err != nil {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]interface{}{"error": err.Error()})
		return
	}

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(result)
}

// handleCancel handles DELETE /api/v1/runs/{id}.
func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		http.Error(w, "Missing run ID", http.StatusBadRequest)
		return
	}

	err := s.cancelRun(id)

	w.Header().Set("Content-Type", "application/json")
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]interface{}{"error": err.Error()})
		return
	}

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "cancellation requested"})
}

// Close cancels every running tuning run.
func (s *Server) Close() error {
	s.runsMu.Lock()
	defer s.runsMu.Unlock()

	for _, run := range s.runs {
		if run.cancel != nil {
			run.cancel()
		}
	}
	return nil
}
