package agent

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/klauspost/compress/gzhttp"

	"github.com/rowpane/rowpane/internal/agentproto"
	"github.com/rowpane/rowpane/internal/config"
	"github.com/rowpane/rowpane/internal/dao"
	"github.com/rowpane/rowpane/internal/logger"
	"github.com/rowpane/rowpane/internal/metrics"
	"github.com/rowpane/rowpane/internal/storage/sqlite"
)

// maxCommandBody bounds a command body; CSV imports travel inline.
const maxCommandBody = 64 << 20

// Handler returns the agent's HTTP API.
func (a *Agent) Handler() http.Handler {
	r := chi.NewMux()
	r.Use(
		middleware.RequestID,
		middleware.Recoverer,
		a.requestLogger,
	)

	r.Post("/command", a.handleCommand)
	r.Get("/health", a.handleHealth)
	r.Get("/status", a.handleStatus)

	return gzhttp.GzipHandler(r)
}

func (a *Agent) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		a.logger.Debug("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()))
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, agentproto.ErrorOf(err))
}

func (a *Agent) handleCommand(w http.ResponseWriter, r *http.Request) {
	cfg := a.cfg.Load()

	raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || raw == "" {
		writeError(w, http.StatusUnauthorized, dao.New(dao.KindAgent, "missing bearer token"))
		return
	}
	claims, err := agentproto.VerifyToken([]byte(cfg.Agent.JWTSecret), raw)
	if err != nil {
		a.logger.Warn("Rejected command token", "error", err, "request_id", middleware.GetReqID(r.Context()))
		writeError(w, http.StatusUnauthorized, dao.New(dao.KindAgent, "invalid or expired token"))
		return
	}
	conn, ok := cfg.ConnectionByToken(claims.ConnectionToken)
	if !ok {
		writeError(w, http.StatusUnauthorized, dao.New(dao.KindAgent, "unknown connection token"))
		return
	}

	var cmd agentproto.Command
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxCommandBody)).Decode(&cmd); err != nil {
		writeError(w, http.StatusBadRequest, dao.Wrap(dao.KindValidation, "malformed command", err))
		return
	}

	// Delegated work never outlives the token that authorized it.
	ctx := r.Context()
	if claims.ExpiresAt != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, claims.ExpiresAt.Time)
		defer cancel()
	}

	start := time.Now()
	result, err := a.exec.Execute(ctx, conn, cmd)
	a.record(context.WithoutCancel(r.Context()), conn, cmd, time.Since(start), err)
	if err != nil {
		writeJSON(w, http.StatusOK, agentproto.ErrorOf(err))
		return
	}

	resp, err := agentproto.ResultOf(result)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// record logs the command outcome to the stats, the command log and the
// status row. Storage failures never fail the command.
func (a *Agent) record(ctx context.Context, conn config.ConnectionConfig, cmd agentproto.Command, d time.Duration, err error) {
	reqID := middleware.GetReqID(ctx)
	var msg string
	if err != nil {
		msg = dao.Message(err)
		a.logger.Warn("Command failed",
			"connection", conn.Name,
			"operation", cmd.OperationType,
			"table", cmd.TableName,
			"request_id", reqID,
			"kind", dao.KindOf(err),
			"error", err)
	} else {
		a.logger.Debug("Command executed",
			"connection", conn.Name,
			"operation", cmd.OperationType,
			"table", cmd.TableName,
			"request_id", reqID,
			"duration", d)
	}

	a.stats.observe(string(cmd.OperationType), d, err != nil)

	rec := sqlite.CommandRecord{
		RequestID:    reqID,
		Connection:   conn.Name,
		Operation:    string(cmd.OperationType),
		Table:        cmd.TableName,
		Email:        cmd.Email,
		Duration:     d,
		ErrorMessage: msg,
	}
	if e := a.conns.Observe(ctx, rec); e != nil {
		a.logger.Warn("Failed to record command", "error", e)
	}
	if e := a.status.RecordCommand(ctx, time.Now(), msg); e != nil {
		a.logger.Warn("Failed to update agent status", "error", e)
	}
}

func (a *Agent) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// StatusReport is the body of GET /status.
type StatusReport struct {
	Version        string                     `json:"version"`
	PID            int                        `json:"pid"`
	StartedAt      time.Time                  `json:"started_at"`
	Uptime         string                     `json:"uptime"`
	Connections    []*sqlite.ConnectionRecord `json:"connections"`
	Operations     []OperationStats           `json:"operations"`
	Latency        []metrics.Summary          `json:"latency"`
	CommandsLogged int64                      `json:"commands_logged"`
	Problems       ProblemReport              `json:"problems"`
}

// ProblemReport summarizes recent warnings and errors from the agent log.
type ProblemReport struct {
	Warnings int      `json:"warnings"`
	Errors   int      `json:"errors"`
	Recent   []string `json:"recent"`
}

func (a *Agent) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	conns, err := a.conns.List(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	logged, err := a.conns.CountCommands(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if conns == nil {
		conns = []*sqlite.ConnectionRecord{}
	}

	report := StatusReport{
		Version:        Version,
		PID:            os.Getpid(),
		StartedAt:      a.started,
		Connections:    conns,
		Operations:     a.stats.snapshot(),
		Latency:        a.stats.latency(time.Now()),
		CommandsLogged: logged,
	}
	if !a.started.IsZero() {
		report.Uptime = formatUptime(a.started)
	}

	warns, errs := logger.Counts()
	report.Problems = ProblemReport{Warnings: warns, Errors: errs, Recent: []string{}}
	for _, e := range logger.Recent() {
		report.Problems.Recent = append(report.Problems.Recent, e.Format())
	}

	writeJSON(w, http.StatusOK, report)
}
