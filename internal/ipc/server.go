package ipc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"os"
	"sync"
	"time"

	"sdqueue/internal/daemon"
	"sdqueue/internal/jobs"
	"sdqueue/internal/logging"
)

const serviceName = "SDQueue"

// maxEventWait bounds a single Events long-poll.
const maxEventWait = 30 * time.Second

// Server exposes daemon control via JSON-RPC over a Unix domain socket.
type Server struct {
	path      string
	logger    *slog.Logger
	listener  net.Listener
	rpcServer *rpc.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu    sync.Mutex
	conns map[net.Conn]struct{}
}

// NewServer configures the IPC server at the given socket path.
func NewServer(ctx context.Context, path string, d *daemon.Daemon, logger *slog.Logger) (*Server, error) {
	if d == nil {
		return nil, errors.New("ipc server requires daemon")
	}
	logger = logging.NewComponentLogger(logger, "ipc")

	if err := os.RemoveAll(path); err != nil {
		return nil, fmt.Errorf("remove existing socket: %w", err)
	}
	listener, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen on socket: %w", err)
	}

	serverCtx, cancel := context.WithCancel(ctx)
	rpcServer := rpc.NewServer()
	if err := rpcServer.RegisterName(serviceName, &service{daemon: d, logger: logger, ctx: serverCtx}); err != nil {
		cancel()
		listener.Close()
		return nil, fmt.Errorf("register rpc service: %w", err)
	}

	return &Server{
		path:      path,
		logger:    logger,
		listener:  listener,
		rpcServer: rpcServer,
		ctx:       serverCtx,
		cancel:    cancel,
		conns:     make(map[net.Conn]struct{}),
	}, nil
}

// Serve starts accepting RPC connections until the server is closed.
func (s *Server) Serve() {
	s.logger.Debug("IPC server listening", logging.String("socket", s.path))
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := s.listener.Accept()
			if err != nil {
				select {
				case <-s.ctx.Done():
					return
				default:
				}
				if errors.Is(err, net.ErrClosed) {
					return
				}
				s.logger.Warn("accept failed",
					logging.Error(err),
					logging.String(logging.FieldEventType, "ipc_accept_failed"),
					logging.String(logging.FieldImpact, "CLI commands may fail to reach the daemon"),
					logging.String(logging.FieldErrorHint, "check socket permissions and restart the daemon if needed"))
				continue
			}
			s.track(conn, true)
			s.wg.Add(1)
			go func(c net.Conn) {
				defer s.wg.Done()
				defer s.track(c, false)
				s.rpcServer.ServeCodec(jsonrpc.NewServerCodec(c))
			}(conn)
		}
	}()
}

// Close stops the server, drops open connections and removes the socket
// file.
func (s *Server) Close() {
	s.cancel()
	_ = s.listener.Close()
	s.mu.Lock()
	for conn := range s.conns {
		_ = conn.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
	if err := os.RemoveAll(s.path); err != nil {
		s.logger.Warn("failed to remove socket",
			logging.String("socket", s.path),
			logging.Error(err),
			logging.String(logging.FieldEventType, "ipc_socket_cleanup_failed"),
			logging.String(logging.FieldErrorHint, "remove the socket file manually"))
	}
}

func (s *Server) track(conn net.Conn, add bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if add {
		if s.ctx.Err() != nil {
			_ = conn.Close()
			return
		}
		s.conns[conn] = struct{}{}
	} else {
		delete(s.conns, conn)
	}
}

type service struct {
	daemon *daemon.Daemon
	logger *slog.Logger
	ctx    context.Context
}

func (s *service) Status(_ StatusRequest, resp *StatusResponse) error {
	status := s.daemon.Status()
	resp.Running = status.Running
	resp.PID = os.Getpid()
	resp.CurrentJob = status.Workflow.CurrentJob
	resp.LastError = status.Workflow.LastError
	resp.LastJob = status.Workflow.LastJob
	resp.Processed = status.Workflow.Processed
	resp.Failed = status.Workflow.Failed
	resp.Queued = status.Workflow.Queued
	resp.Counts = make(map[string]int, len(status.Workflow.Counts))
	for k, v := range status.Workflow.Counts {
		resp.Counts[string(k)] = v
	}
	resp.Model = status.Model
	resp.StatePath = status.StatePath
	resp.LockPath = status.LockFilePath
	for _, result := range status.Preflight {
		resp.Preflight = append(resp.Preflight, PreflightResult{
			Name:   result.Name,
			Passed: result.Passed,
			Detail: result.Detail,
		})
	}
	return nil
}

func (s *service) Submit(req SubmitRequest, resp *SubmitResponse) error {
	kind, ok := jobs.ParseKind(req.Kind)
	if !ok {
		return fmt.Errorf("%w: %q", jobs.ErrUnknownKind, req.Kind)
	}
	id, err := s.daemon.Submit(s.ctx, kind, req.Params)
	if err != nil {
		return err
	}
	resp.ID = id
	return nil
}

func (s *service) SubmitDownload(req SubmitDownloadRequest, resp *SubmitDownloadResponse) error {
	downloadID, hashID, err := s.daemon.SubmitModelDownload(s.ctx, req.Params)
	if err != nil {
		return err
	}
	resp.DownloadID = downloadID
	resp.HashID = hashID
	return nil
}

func (s *service) Get(req JobRequest, resp *JobResponse) error {
	store, err := s.daemon.Store()
	if err != nil {
		return err
	}
	resp.Job, resp.Found = store.Get(req.ID)
	return nil
}

func (s *service) Cancel(req JobRequest, resp *ActionResponse) error {
	return s.action(req, resp, s.daemon.Cancel)
}

func (s *service) Delete(req JobRequest, resp *ActionResponse) error {
	return s.action(req, resp, s.daemon.Delete)
}

func (s *service) Restore(req JobRequest, resp *ActionResponse) error {
	return s.action(req, resp, s.daemon.Restore)
}

func (s *service) Purge(req JobRequest, resp *ActionResponse) error {
	return s.action(req, resp, s.daemon.Purge)
}

func (s *service) ClearCompleted(_ BulkRequest, resp *BulkResponse) error {
	return s.bulk(resp, s.daemon.ClearCompleted)
}

func (s *service) PurgeExpired(_ BulkRequest, resp *BulkResponse) error {
	return s.bulk(resp, s.daemon.PurgeExpired)
}

func (s *service) ClearRecycleBin(_ BulkRequest, resp *BulkResponse) error {
	return s.bulk(resp, s.daemon.ClearRecycleBin)
}

func (s *service) Events(req EventsRequest, resp *EventsResponse) error {
	hub := s.daemon.Hub()
	if hub == nil {
		return errors.New("daemon has no event hub")
	}
	wait := min(time.Duration(req.WaitMillis)*time.Millisecond, maxEventWait)
	ctx := s.ctx
	if wait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(s.ctx, wait)
		defer cancel()
	}
	evts, next, err := hub.Fetch(ctx, req.Since, req.Limit, wait > 0)
	if err != nil && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
		return err
	}
	resp.Events = evts
	resp.Next = next
	return nil
}

func (s *service) Preview(req JobRequest, resp *PreviewResponse) error {
	preview, ok := s.daemon.Preview(req.ID)
	if !ok {
		return nil
	}
	*resp = PreviewResponse{
		Found:        true,
		Step:         preview.Step,
		Frame:        preview.Frame,
		Width:        preview.Width,
		Height:       preview.Height,
		Intermediate: preview.Intermediate,
		Data:         preview.Data,
		UpdatedAt:    preview.UpdatedAt,
	}
	return nil
}

func (s *service) action(req JobRequest, resp *ActionResponse, op func(context.Context, string) (bool, error)) error {
	if req.ID == "" {
		return errors.New("job id required")
	}
	applied, err := op(s.ctx, req.ID)
	if err != nil {
		return err
	}
	resp.Applied = applied
	return nil
}

func (s *service) bulk(resp *BulkResponse, op func(context.Context) (int, error)) error {
	count, err := op(s.ctx)
	if err != nil {
		return err
	}
	resp.Count = count
	return nil
}
