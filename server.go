package main

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"github.com/pkg/errors"

	"scalar-grad-explorer/nn"
	"scalar-grad-explorer/store"
)

// Server owns HTTP handlers and shared application state.
//
// Model is "autodiff math + parameters"; Server is "request handling +
// lifecycle/state wiring". The store is optional.
type Server struct {
	mu     sync.RWMutex
	model  *Model
	data   Dataset
	runID  string
	store  *store.Store
	logger *slog.Logger
}

// NewServer creates an empty API server. st may be nil.
func NewServer(st *store.Store, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Server{store: st, logger: logger}
}

// RegisterRoutes attaches all endpoints to the provided mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/init", s.handleInit)
	mux.HandleFunc("POST /api/train", s.handleTrain)
	mux.HandleFunc("POST /api/predict", s.handlePredict)
	mux.HandleFunc("POST /api/graph", s.handleGraph)
	mux.HandleFunc("POST /api/checkpoint", s.handleCheckpoint)
	mux.HandleFunc("GET /api/history", s.handleHistory)
	mux.HandleFunc("GET /api/runs", s.handleRuns)
	mux.HandleFunc("POST /api/resume", s.handleResume)
}

// snapshot reads current model/data atomically with shared lock.
func (s *Server) snapshot() (*Model, Dataset, string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.model, s.data, s.runID
}

// setModel swaps active model/data atomically with exclusive lock.
func (s *Server) setModel(model *Model, data Dataset, runID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.model = model
	s.data = data
	s.runID = runID
}

// writeJSON is a helper to consistently send JSON responses.
// The payload is encoded before any header is written, so an encoding
// failure still reaches the client as a 500.
func writeJSON(w http.ResponseWriter, status int, payload any) {
	body, err := json.Marshal(payload)
	if err != nil {
		http.Error(w, errors.Wrap(err, "encode response").Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(append(body, '\n'))
}

// decodeOptionalJSON decodes JSON when body is present.
// Empty bodies are treated as "use defaults" rather than errors.
func decodeOptionalJSON(r *http.Request, dst any) error {
	if r.Body == nil {
		return nil
	}
	err := json.NewDecoder(r.Body).Decode(dst)
	if err == io.EOF {
		return nil
	}
	return err
}

// statusFor maps library errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, nn.ErrShape):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrNonFinite):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleInit(w http.ResponseWriter, r *http.Request) {
	req := InitRequest{Config: DefaultConfig()}
	if err := decodeOptionalJSON(r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if len(req.Data.Inputs) == 0 {
		req.Data = demoDataset()
	}

	model, err := NewModel(req.Config)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := validateDataset(model, req.Data); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var runID string
	if s.store != nil {
		run, err := s.store.CreateRun(req.Config)
		if err != nil {
			s.logger.Error("create run", "error", err)
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		runID = run.ID
	}
	s.setModel(model, req.Data, runID)
	s.logger.Info("model initialized", "params", model.Params(), "run_id", runID, "samples", len(req.Data.Inputs))

	writeJSON(w, http.StatusOK, InitResponse{
		Status: "initialized",
		Params: model.Params(),
		RunID:  runID,
		Model:  model.Net.String(),
	})
}

func (s *Server) handleTrain(w http.ResponseWriter, r *http.Request) {
	model, data, runID := s.snapshot()
	if model == nil {
		http.Error(w, "Model not initialized", http.StatusBadRequest)
		return
	}

	req := TrainRequest{}
	if err := decodeOptionalJSON(r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	// Lock model during forward/backward/update to avoid concurrent mutation.
	model.mu.Lock()
	defer model.mu.Unlock()

	resp, err := TrainEpochs(model, data, req.Epochs, s.logger.With("run_id", runID))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handlePredict(w http.ResponseWriter, r *http.Request) {
	model, _, _ := s.snapshot()
	if model == nil {
		http.Error(w, "Model not initialized", http.StatusBadRequest)
		return
	}

	var req PredictRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	model.mu.Lock()
	defer model.mu.Unlock()

	outputs, err := Predict(model, req.Inputs)
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	resp := PredictResponse{Outputs: make([][]Float, len(outputs))}
	for i, row := range outputs {
		resp.Outputs[i] = floats(row)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGraph(w http.ResponseWriter, r *http.Request) {
	model, _, _ := s.snapshot()
	if model == nil {
		http.Error(w, "Model not initialized", http.StatusBadRequest)
		return
	}

	var req GraphRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	model.mu.Lock()
	defer model.mu.Unlock()

	resp, err := model.Explain(req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCheckpoint(w http.ResponseWriter, r *http.Request) {
	model, data, runID := s.snapshot()
	if model == nil {
		http.Error(w, "Model not initialized", http.StatusBadRequest)
		return
	}
	if s.store == nil {
		http.Error(w, "No checkpoint store configured", http.StatusBadRequest)
		return
	}

	model.mu.Lock()
	loss, err := nn.Loss(model.Net, data.Inputs, data.Targets, model.Loss)
	cp := &store.Checkpoint{RunID: runID, Step: model.Steps, Loss: loss, Weights: model.Net.Weights()}
	model.mu.Unlock()
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}

	if err := s.store.SaveCheckpoint(cp); err != nil {
		s.logger.Error("save checkpoint", "run_id", runID, "error", err)
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	s.logger.Info("checkpoint saved", "run_id", runID, "step", cp.Step, "loss", cp.Loss)
	writeJSON(w, http.StatusOK, cp)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	_, _, runID := s.snapshot()
	if s.store == nil || runID == "" {
		http.Error(w, "No checkpoint store configured", http.StatusBadRequest)
		return
	}
	history, err := s.store.History(runID)
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, HistoryResponse{RunID: runID, Checkpoints: history})
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		http.Error(w, "No checkpoint store configured", http.StatusBadRequest)
		return
	}
	runs, err := s.store.ListRuns()
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, RunsResponse{Runs: runs})
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		http.Error(w, "No checkpoint store configured", http.StatusBadRequest)
		return
	}
	var req ResumeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if len(req.Data.Inputs) == 0 {
		req.Data = demoDataset()
	}

	model, cp, err := RestoreModel(s.store, req.RunID)
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	if err := validateDataset(model, req.Data); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.setModel(model, req.Data, req.RunID)
	s.logger.Info("run resumed", "run_id", req.RunID, "step", cp.Step, "loss", cp.Loss)
	writeJSON(w, http.StatusOK, ResumeResponse{RunID: req.RunID, Step: cp.Step, Loss: Float(cp.Loss)})
}
