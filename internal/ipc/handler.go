// Package ipc exposes the scheduler API to the CLI over a unix socket. Each
// connection carries one JSON request and one JSON response.
package ipc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/aatumaykin/nexcron/internal/jobs"
	"github.com/aatumaykin/nexcron/internal/logger"
	"github.com/aatumaykin/nexcron/internal/registry"
	"github.com/aatumaykin/nexcron/internal/scheduler"
	"github.com/aatumaykin/nexcron/internal/trigger"
)

const (
	connTimeout = 30 * time.Second
	stopTimeout = 30 * time.Second
)

// Scheduler is the scheduler surface served over IPC.
type Scheduler interface {
	AddJob(name string, ref registry.Ref, trig trigger.Descriptor, opts ...scheduler.JobOption) (jobs.ID, error)
	RemoveJob(id jobs.ID) bool
	Pause(id jobs.ID) bool
	Resume(id jobs.ID) bool
	RunNow(id jobs.ID) bool
	ListJobs() []jobs.Job
	GetJob(id jobs.ID) (jobs.Job, bool)
	Start() error
	Stop(ctx context.Context) error
	IsRunning() bool
	Err() error
}

// Callables resolves callable names.
type Callables interface {
	Resolve(name string) (registry.Ref, error)
	Names() []string
}

// Handler обрабатывает IPC запросы
type Handler struct {
	logger    *logger.Logger
	sched     Scheduler
	callables Callables

	mu     sync.Mutex
	socket net.Listener
	path   string
	conns  sync.WaitGroup
}

// NewHandler создаёт новый IPC Handler
func NewHandler(l *logger.Logger, sched Scheduler, callables Callables) *Handler {
	return &Handler{
		logger:    l.Component("ipc"),
		sched:     sched,
		callables: callables,
	}
}

// Start запускает IPC сервер
func (h *Handler) Start(ctx context.Context, socketPath string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.socket != nil {
		return errors.New("ipc server already started")
	}

	// Удаляем старый socket если существует
	if _, err := os.Stat(socketPath); err == nil {
		_ = os.Remove(socketPath)
	}

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return fmt.Errorf("failed to listen on socket: %w", err)
	}
	if err := os.Chmod(socketPath, 0o600); err != nil {
		_ = listener.Close()
		return fmt.Errorf("failed to restrict socket permissions: %w", err)
	}

	h.socket = listener
	h.path = socketPath

	go h.acceptConnections(ctx, listener)

	h.logger.Info("IPC server started", logger.Field{Key: "socket", Value: socketPath})
	return nil
}

// acceptConnections принимает новые подключения
func (h *Handler) acceptConnections(ctx context.Context, listener net.Listener) {
	go func() {
		<-ctx.Done()
		_ = listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			h.logger.Error("failed to accept connection", err)
			continue
		}

		h.conns.Add(1)
		go func() {
			defer h.conns.Done()
			h.handleConnection(ctx, conn)
		}()
	}
}

// handleConnection обрабатывает одно подключение
func (h *Handler) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(connTimeout))

	var req Request
	if err := json.NewDecoder(conn).Decode(&req); err != nil {
		h.send(conn, failure(CodeBadRequest, fmt.Sprintf("failed to decode request: %v", err)))
		return
	}

	h.logger.Debug("ipc request",
		logger.Field{Key: "type", Value: req.Type},
		logger.Field{Key: "id", Value: req.ID})

	h.send(conn, h.Handle(ctx, req))
}

// Handle executes one request.
func (h *Handler) Handle(ctx context.Context, req Request) Response {
	switch req.Type {
	case TypeList:
		list := h.sched.ListJobs()
		infos := make([]JobInfo, 0, len(list))
		for _, j := range list {
			infos = append(infos, NewJobInfo(j))
		}
		return Response{Success: true, Jobs: infos}

	case TypeStatus:
		return Response{Success: true, Status: h.status()}

	case TypeStart:
		if err := h.sched.Start(); err != nil {
			return failure(CodeInternal, err.Error())
		}
		return Response{Success: true, Status: h.status()}

	case TypeStop:
		stopCtx, cancel := context.WithTimeout(ctx, stopTimeout)
		defer cancel()
		if err := h.sched.Stop(stopCtx); err != nil {
			return failure(CodeInternal, err.Error())
		}
		return Response{Success: true, Status: h.status()}

	case TypeAdd:
		return h.add(req)

	case TypeRemove, TypePause, TypeResume, TypeRunNow:
		return h.control(req)

	default:
		return failure(CodeBadRequest, fmt.Sprintf("unknown request type: %s", req.Type))
	}
}

func (h *Handler) add(req Request) Response {
	if req.Callable == "" {
		return failure(CodeBadRequest, "callable is required")
	}
	if req.Schedule == "" {
		return failure(CodeBadRequest, "schedule is required")
	}

	trig, err := trigger.Parse(req.Schedule)
	if err != nil {
		return failure(CodeInvalidTrigger, err.Error())
	}

	ref, err := h.callables.Resolve(req.Callable)
	if err != nil {
		return failure(CodeBadRequest, err.Error())
	}

	var opts []scheduler.JobOption
	if req.Timeout != "" {
		d, err := time.ParseDuration(req.Timeout)
		if err != nil || d < 0 {
			return failure(CodeBadRequest, fmt.Sprintf("invalid timeout %q", req.Timeout))
		}
		opts = append(opts, scheduler.WithTimeout(d))
	}
	if req.Paused {
		opts = append(opts, scheduler.StartPaused())
	}

	name := req.Name
	if name == "" {
		name = req.Callable
	}

	id, err := h.sched.AddJob(name, ref, trig, opts...)
	if err != nil {
		if errors.Is(err, trigger.ErrInvalidTrigger) {
			return failure(CodeInvalidTrigger, err.Error())
		}
		return failure(CodeBadRequest, err.Error())
	}

	job, _ := h.sched.GetJob(id)
	info := NewJobInfo(job)
	return Response{Success: true, Job: &info}
}

func (h *Handler) control(req Request) Response {
	if req.ID == 0 {
		return failure(CodeBadRequest, "job id is required")
	}
	id := jobs.ID(req.ID)

	job, ok := h.sched.GetJob(id)
	if !ok {
		return failure(CodeNotFound, fmt.Sprintf("job %d not found", req.ID))
	}

	var done bool
	switch req.Type {
	case TypeRemove:
		done = h.sched.RemoveJob(id)
	case TypePause:
		done = h.sched.Pause(id)
	case TypeResume:
		done = h.sched.Resume(id)
	case TypeRunNow:
		done = h.sched.RunNow(id)
		if !done {
			// the loop may have dispatched it since the lookup above
			if current, ok := h.sched.GetJob(id); ok && current.Status == jobs.StatusRunning {
				return failure(CodeConflict, fmt.Sprintf("job %d is already running", req.ID))
			}
		}
	}
	if !done {
		return failure(CodeNotFound, fmt.Sprintf("job %d not found", req.ID))
	}

	if req.Type == TypeRemove {
		info := NewJobInfo(job)
		return Response{Success: true, Job: &info}
	}
	if current, ok := h.sched.GetJob(id); ok {
		job = current
	}
	info := NewJobInfo(job)
	return Response{Success: true, Job: &info}
}

func (h *Handler) status() *StatusInfo {
	counts := make(map[string]int)
	for _, j := range h.sched.ListJobs() {
		counts[string(j.Status)]++
	}

	names := h.callables.Names()
	sort.Strings(names)

	st := &StatusInfo{
		PID:       os.Getpid(),
		Running:   h.sched.IsRunning(),
		Jobs:      counts,
		Callables: names,
	}
	if err := h.sched.Err(); err != nil {
		st.Error = err.Error()
	}
	return st
}

func failure(code, msg string) Response {
	return Response{Success: false, Code: code, Error: msg}
}

func (h *Handler) send(conn net.Conn, resp Response) {
	if err := json.NewEncoder(conn).Encode(resp); err != nil {
		h.logger.Error("failed to send response", err)
	}
}

// Stop останавливает IPC сервер и ждёт завершения открытых подключений
func (h *Handler) Stop() error {
	h.mu.Lock()
	socket, path := h.socket, h.path
	h.socket = nil
	h.mu.Unlock()

	if socket == nil {
		return nil
	}
	if err := socket.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("failed to close socket: %w", err)
	}
	h.conns.Wait()
	_ = os.Remove(path)

	h.logger.Info("IPC server stopped")
	return nil
}
