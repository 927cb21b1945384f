package master

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"ffarm/internal/api"
	"ffarm/internal/logging"
	"ffarm/internal/queue"
	"ffarm/internal/scheduler"
)

const maxBodyBytes = 1 << 20

type apiServer struct {
	bind   string
	logger *slog.Logger
	sched  *scheduler.Scheduler
	status func() api.StatusResponse

	listener net.Listener
	server   *http.Server
}

func newAPIServer(bind, token string, sched *scheduler.Scheduler, logger *slog.Logger, status func() api.StatusResponse) *apiServer {
	srv := &apiServer{
		bind:   bind,
		logger: logging.NewComponentLogger(logger, "api-server"),
		sched:  sched,
		status: status,
	}
	srv.server = &http.Server{
		Handler:           srv.routes(token),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv
}

func (s *apiServer) routes(token string) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /jobs", s.handleSubmit)
	mux.HandleFunc("GET /jobs", s.handleListJobs)
	mux.HandleFunc("GET /jobs/{id}", s.handleGetJob)
	mux.HandleFunc("POST /jobs/{id}/retry", s.handleRetry)
	mux.HandleFunc("POST /jobs/{id}/progress", s.handleProgress)
	mux.HandleFunc("POST /jobs/{id}/result", s.handleResult)
	mux.HandleFunc("POST /workers/register", s.handleRegister)
	mux.HandleFunc("GET /workers", s.handleListWorkers)
	mux.HandleFunc("POST /workers/{id}/heartbeat", s.handleHeartbeat)
	mux.HandleFunc("GET /workers/{id}/assignment", s.handleAssignment)
	mux.HandleFunc("POST /workers/{id}/drain", s.handleDrain(true))
	mux.HandleFunc("POST /workers/{id}/undrain", s.handleDrain(false))
	mux.HandleFunc("POST /queue/pause", s.handlePause(true))
	mux.HandleFunc("POST /queue/resume", s.handlePause(false))
	mux.HandleFunc("GET /status", s.handleStatus)

	root := http.NewServeMux()
	root.HandleFunc("GET /healthz", s.handleHealth)
	root.Handle("/", authMiddleware(token, mux.ServeHTTP))
	return root
}

func (s *apiServer) start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", logging.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		s.stop()
	}()

	s.logger.Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) stop() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = s.server.Shutdown(shutdownCtx)
}

// addr returns the bound listener address, or the configured bind before
// start.
func (s *apiServer) addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.bind
}

func (s *apiServer) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req api.SubmitRequest
	if !s.decode(w, r, &req) {
		return
	}
	job, err := s.sched.Submit(r.Context(), req.Spec())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, api.JobResponse{Job: api.FromJob(job)})
}

func (s *apiServer) handleListJobs(w http.ResponseWriter, r *http.Request) {
	var statuses []queue.Status
	for _, value := range r.URL.Query()["status"] {
		if value == "" {
			continue
		}
		status, ok := queue.ParseStatus(value)
		if !ok {
			s.writeError(w, fmt.Errorf("%w: unknown status %q", api.ErrInvalidRequest, value))
			return
		}
		statuses = append(statuses, status)
	}
	jobs := s.sched.ListJobs(statuses...)
	s.writeJSON(w, http.StatusOK, api.JobListResponse{Jobs: api.FromJobs(jobs)})
}

func (s *apiServer) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.sched.GetJob(r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.JobResponse{Job: api.FromJob(job)})
}

func (s *apiServer) handleRetry(w http.ResponseWriter, r *http.Request) {
	job, err := s.sched.Retry(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, api.JobResponse{Job: api.FromJob(job)})
}

func (s *apiServer) handleProgress(w http.ResponseWriter, r *http.Request) {
	var req api.ProgressRequest
	if !s.decode(w, r, &req) {
		return
	}
	job, err := s.sched.Progress(r.Context(), r.PathValue("id"), req.WorkerID, req.Percent, req.Message)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.JobResponse{Job: api.FromJob(job)})
}

func (s *apiServer) handleResult(w http.ResponseWriter, r *http.Request) {
	var req api.ResultRequest
	if !s.decode(w, r, &req) {
		return
	}
	status, ok := queue.ParseStatus(req.Status)
	if !ok {
		s.writeError(w, fmt.Errorf("%w: unknown status %q", api.ErrInvalidRequest, req.Status))
		return
	}
	job, err := s.sched.Report(r.Context(), r.PathValue("id"), req.WorkerID, scheduler.Report{
		Status:  status,
		Result:  req.Result,
		Error:   req.Error,
		LogTail: req.LogTail,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.JobResponse{Job: api.FromJob(job)})
}

func (s *apiServer) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req api.RegisterRequest
	if !s.decode(w, r, &req) {
		return
	}
	address := req.Address
	if address == "" {
		address = r.RemoteAddr
	}
	worker, err := s.sched.Register(r.Context(), req.WorkerID, req.Name, address)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.WorkerResponse{Worker: api.FromWorker(worker)})
}

func (s *apiServer) handleListWorkers(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, api.WorkerListResponse{Workers: api.FromWorkers(s.sched.ListWorkers())})
}

func (s *apiServer) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	var req api.HeartbeatRequest
	if r.ContentLength != 0 && !s.decode(w, r, &req) {
		return
	}
	worker, err := s.sched.Heartbeat(r.Context(), r.PathValue("id"), req.Metrics.ToMetrics())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.HeartbeatResponse{
		WorkerID: worker.ID,
		State:    string(worker.State),
		Draining: worker.Draining,
	})
}

func (s *apiServer) handleAssignment(w http.ResponseWriter, r *http.Request) {
	job, err := s.sched.RequestAssignment(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	if job == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	s.writeJSON(w, http.StatusOK, api.JobResponse{Job: api.FromJob(job)})
}

func (s *apiServer) handleDrain(draining bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		var err error
		if draining {
			_, err = s.sched.Drain(r.Context(), id)
		} else {
			_, err = s.sched.Undrain(r.Context(), id)
		}
		if err != nil {
			s.writeError(w, err)
			return
		}
		worker, err := s.sched.GetWorker(id)
		if err != nil {
			s.writeError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, api.WorkerResponse{Worker: api.FromWorker(worker)})
	}
}

func (s *apiServer) handlePause(paused bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if paused {
			s.sched.Pause()
		} else if _, err := s.sched.Resume(r.Context()); err != nil {
			s.writeError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, s.status())
	}
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.status())
}

func (s *apiServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.sched.Err(); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.HealthResponse{Status: "ok"})
}

func (s *apiServer) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(body)
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		s.writeError(w, fmt.Errorf("%w: %v", api.ErrInvalidRequest, err))
		return false
	}
	return true
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", logging.Error(err))
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, err error) {
	body, status := api.NewErrorResponse(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", logging.Error(err), logging.String("code", body.Error))
	}
	s.writeJSON(w, status, body)
}
