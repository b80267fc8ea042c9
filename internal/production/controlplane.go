package production

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/hie-engine/runtime-core/pkg/cleanup"
	"github.com/hie-engine/runtime-core/pkg/monitoring"
	"github.com/hie-engine/runtime-core/pkg/task_manager"
	"github.com/hie-engine/runtime-core/pkg/tracing"
)

// ControlPlane exposes Engine's operations over HTTP (spec §6.3), one
// route per operation, the way the teacher's internal/app/handlers.go
// registerHandlers wires one route per App method onto a gorilla/mux
// router with a shared logging middleware. Its own HTTP listener runs as
// a supervised background job so a listener crash shows up in /tasks
// instead of silently taking the control plane down.
type ControlPlane struct {
	engine *Engine
	logger *logrus.Logger
	server    *http.Server
	tasks     *task_manager.Supervisor
	tracer    oteltrace.Tracer
	resources *monitoring.ResourceMonitor
	disk      *cleanup.DiskSpaceManager
}

const httpListenerTaskID = "control_plane_http_listener"

// NewControlPlane builds the control-plane HTTP server bound to addr
// (e.g. ":8080"). It does not start listening until Start is called.
// tracingManager may be nil, in which case requests get the OTel no-op
// tracer.
func NewControlPlane(engine *Engine, addr string, logger *logrus.Logger, tracingManager *tracing.Manager) *ControlPlane {
	if logger == nil {
		logger = logrus.New()
	}
	tracer := otel.Tracer("noop")
	if tracingManager != nil {
		tracer = tracingManager.Tracer()
	}
	cp := &ControlPlane{
		engine: engine,
		logger: logger,
		tasks:  task_manager.New(task_manager.Config{}, logger),
		tracer: tracer,
	}

	router := mux.NewRouter()
	router.Handle("/status", cp.logged(http.HandlerFunc(cp.statusHandler))).Methods("GET")
	router.Handle("/tasks", cp.logged(http.HandlerFunc(cp.tasksHandler))).Methods("GET")
	router.Handle("/resources", cp.logged(http.HandlerFunc(cp.resourcesHandler))).Methods("GET")
	router.Handle("/disk", cp.logged(http.HandlerFunc(cp.diskHandler))).Methods("GET")
	router.Handle("/deploy", cp.logged(http.HandlerFunc(cp.deployHandler))).Methods("POST")
	router.Handle("/reload", cp.logged(http.HandlerFunc(cp.reloadHandler))).Methods("POST")
	router.Handle("/hosts/{name}/pause", cp.logged(http.HandlerFunc(cp.pauseHandler))).Methods("POST")
	router.Handle("/hosts/{name}/resume", cp.logged(http.HandlerFunc(cp.resumeHandler))).Methods("POST")
	router.Handle("/hosts/{name}/restart", cp.logged(http.HandlerFunc(cp.restartHandler))).Methods("POST")
	router.Handle("/hosts/{name}/scale", cp.logged(http.HandlerFunc(cp.scaleHandler))).Methods("POST")

	cp.server = &http.Server{Addr: addr, Handler: router}
	return cp
}

// logged wraps a handler with request tracing and logging, matching the
// teacher's metricsMiddleware shape (time the call, log
// method/path/duration/status).
func (cp *ControlPlane) logged(next http.Handler) http.Handler {
	traced := tracing.HTTPMiddleware(cp.tracer, "control_plane.request")(next)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		traced.ServeHTTP(w, r)
		cp.logger.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"duration": time.Since(start),
		}).Debug("control plane request")
	})
}

// Start begins serving the control plane in the background, supervised
// so an unexpected listener exit is visible via GET /tasks.
func (cp *ControlPlane) Start() {
	cp.tasks.StartTask(context.Background(), httpListenerTaskID, func(ctx context.Context) error {
		if err := cp.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
}

// Stop gracefully shuts down the control plane server and its task
// supervisor.
func (cp *ControlPlane) Stop(ctx context.Context) error {
	err := cp.server.Shutdown(ctx)
	cp.tasks.Cleanup()
	return err
}

func (cp *ControlPlane) statusHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, cp.engine.Status())
}

func (cp *ControlPlane) tasksHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, cp.tasks.GetAllTasks())
}

// AttachResourceMonitor exposes m's latest metrics via GET /resources.
// m's own Start/Stop lifecycle is the caller's responsibility.
func (cp *ControlPlane) AttachResourceMonitor(m *monitoring.ResourceMonitor) {
	cp.resources = m
}

func (cp *ControlPlane) resourcesHandler(w http.ResponseWriter, r *http.Request) {
	if cp.resources == nil {
		writeJSON(w, http.StatusNotImplemented, map[string]string{"error": "no resource monitor attached"})
		return
	}
	writeJSON(w, http.StatusOK, cp.resources.GetMetrics())
}

// AttachDiskSpaceManager exposes m's directory status via GET /disk. m's
// own Start/Stop lifecycle is the caller's responsibility.
func (cp *ControlPlane) AttachDiskSpaceManager(m *cleanup.DiskSpaceManager) {
	cp.disk = m
}

func (cp *ControlPlane) diskHandler(w http.ResponseWriter, r *http.Request) {
	if cp.disk == nil {
		writeJSON(w, http.StatusNotImplemented, map[string]string{"error": "no disk space manager attached"})
		return
	}
	writeJSON(w, http.StatusOK, cp.disk.GetStatus())
}

func (cp *ControlPlane) deployHandler(w http.ResponseWriter, r *http.Request) {
	// Deploy takes a ProductionConfig that the operator has already
	// loaded and validated via internal/config.LoadConfig; this endpoint
	// exists for deployers that keep the config resident and trigger a
	// redeploy out of band, not for posting raw YAML.
	writeJSON(w, http.StatusNotImplemented, map[string]string{
		"error": "deploy via the hosting process's LoadConfig + Engine.Deploy, not this endpoint",
	})
}

func (cp *ControlPlane) reloadHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusNotImplemented, map[string]string{
		"error": "reload via the hosting process's LoadConfig + Engine.Reload, not this endpoint",
	})
}

func (cp *ControlPlane) pauseHandler(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if err := cp.engine.PauseHost(name); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"host": name, "state": "paused"})
}

func (cp *ControlPlane) resumeHandler(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if err := cp.engine.ResumeHost(name); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"host": name, "state": "running"})
}

func (cp *ControlPlane) restartHandler(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if err := cp.engine.RestartHost(r.Context(), name); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"host": name, "state": "running"})
}

func (cp *ControlPlane) scaleHandler(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	poolSize, err := strconv.Atoi(r.URL.Query().Get("pool_size"))
	if err != nil || poolSize < 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "pool_size query param must be a non-negative integer"})
		return
	}
	if err := cp.engine.ScaleHost(r.Context(), name, poolSize); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"host": name, "pool_size": poolSize})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
}
