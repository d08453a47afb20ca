package control

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/Swind/go-proc-scheduler/core"
)

// Executor carries out control requests. *core.Scheduler implements it.
type Executor interface {
	PrintTasks(ctx context.Context) error
	KillTask(ctx context.Context, id core.TaskID) error
	ExecTask(ctx context.Context, name string) error
}

var _ Executor = (*core.Scheduler)(nil)

// Server answers requests from one controller, strictly one at a time.
type Server struct {
	exec    Executor
	logger  core.Logger
	metrics core.Metrics
}

// NewServer creates a server. logger and metrics may be nil.
func NewServer(exec Executor, logger core.Logger, metrics core.Metrics) *Server {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	if metrics == nil {
		metrics = &core.NilMetrics{}
	}
	return &Server{exec: exec, logger: logger, metrics: metrics}
}

// Serve reads a request, executes it and writes the status until the channel
// breaks or ctx is done. A blocked read is only interrupted by closing rw.
// The returned error wraps ErrChannelBroken unless ctx ended the loop.
func (s *Server) Serve(ctx context.Context, rw io.ReadWriter) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		req, err := ReadRequest(rw)
		if err != nil {
			s.logger.Warn("giving up on controller requests", core.F("error", err))
			return err
		}

		start := time.Now()
		status := s.Handle(ctx, req)
		s.metrics.RecordControlRequest(req.Op.String(), status.String(), time.Since(start))
		s.logger.Debug("control request handled",
			core.F("op", req.Op), core.F("task_arg", req.TaskID), core.F("status", status))

		if err := WriteStatus(rw, status); err != nil {
			s.logger.Warn("giving up on controller requests", core.F("error", err))
			return err
		}
	}
}

// Handle executes one request and maps the outcome to a status.
func (s *Server) Handle(ctx context.Context, req Request) Status {
	var err error
	switch req.Op {
	case OpPrintTasks:
		err = s.exec.PrintTasks(ctx)
	case OpKillTask:
		err = s.exec.KillTask(ctx, core.TaskID(req.TaskID))
	case OpExecTask:
		if !ValidName(req.Name) {
			return StatusInvalid
		}
		err = s.exec.ExecTask(ctx, req.Name)
	default:
		return StatusUnsupported
	}

	if err != nil {
		s.logger.Info("control request failed", core.F("op", req.Op), core.F("error", err))
	}
	return StatusFor(err)
}

// StatusFor maps an executor error to its wire status.
func StatusFor(err error) Status {
	switch {
	case err == nil:
		return StatusOK
	case errors.Is(err, core.ErrNotFound):
		return StatusNotFound
	case errors.Is(err, core.ErrInvalidTaskName):
		return StatusInvalid
	case errors.Is(err, core.ErrSpawnFailed):
		return StatusSpawnFailed
	default:
		return StatusInternal
	}
}
