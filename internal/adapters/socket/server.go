package socket

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"sync"
	"time"
)

// AppQueries is the daemon surface served over the socket.
// Thread safety is the implementor's responsibility.
type AppQueries interface {
	FixNow() (FixResult, error)
	Status() StatusResult
	History(limit int) (HistoryResult, error)
	ReloadConfig() (ReloadResult, error)
}

// DefaultHistoryLimit applies when a history request carries no limit.
const DefaultHistoryLimit = 20

// Server is the daemon that listens on a Unix socket and serves control requests.
type Server struct {
	queries  AppQueries
	listener net.Listener
	sockPath string
	started  time.Time

	done         chan struct{}
	shutdownCh   chan struct{} // closed when a remote shutdown request is received
	shutdownOnce sync.Once
	stopOnce     sync.Once
	wg           sync.WaitGroup
}

// NewServer creates a daemon server answering from queries.
func NewServer(sockPath string, queries AppQueries) *Server {
	return &Server{
		queries:    queries,
		sockPath:   sockPath,
		done:       make(chan struct{}),
		shutdownCh: make(chan struct{}),
	}
}

// Start begins listening on the Unix socket. It handles stale sockets by
// attempting a connection first: if the connection fails, the stale socket
// is removed before binding.
func (s *Server) Start() error {
	if _, err := os.Stat(s.sockPath); err == nil {
		conn, err := net.DialTimeout("unix", s.sockPath, 500*time.Millisecond)
		if err == nil {
			conn.Close()
			return fmt.Errorf("daemon already running at %s", s.sockPath)
		}
		// Stale socket
		os.Remove(s.sockPath)
	}

	ln, err := net.Listen("unix", s.sockPath)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	s.listener = ln
	s.started = time.Now()

	s.wg.Add(1)
	go s.acceptLoop()

	return nil
}

// Stop closes the listener, waits for open connections and removes the socket
// file. Idempotent, so a remote shutdown followed by a signal is safe.
func (s *Server) Stop() error {
	s.stopOnce.Do(func() {
		close(s.done)
		if s.listener != nil {
			s.listener.Close()
		}
		s.wg.Wait()
		os.Remove(s.sockPath)
	})
	return nil
}

// ShutdownCh returns a channel that is closed when a remote shutdown request
// is received. The daemon's main goroutine selects on this alongside OS
// signals so the process exits after a remote stop.
func (s *Server) ShutdownCh() <-chan struct{} {
	return s.shutdownCh
}

// Addr returns the socket path the server is listening on.
func (s *Server) Addr() string {
	return s.sockPath
}

// Uptime returns how long the server has been listening.
func (s *Server) Uptime() time.Duration {
	if s.started.IsZero() {
		return 0
	}
	return time.Since(s.started)
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
				continue
			}
		}
		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024) // 1MB max message

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			s.writeResponse(conn, Response{Error: "invalid request JSON"})
			continue
		}

		resp := s.handleRequest(req)
		s.writeResponse(conn, resp)

		if req.Method == MethodShutdown {
			s.shutdownOnce.Do(func() { close(s.shutdownCh) })
			return
		}
	}
}

func (s *Server) handleRequest(req Request) Response {
	if s.queries == nil && req.Method != MethodShutdown {
		return Response{ID: req.ID, Error: "daemon not ready"}
	}
	switch req.Method {
	case MethodFix:
		return s.handleFix(req)
	case MethodStatus:
		return Response{ID: req.ID, Result: s.queries.Status()}
	case MethodHistory:
		return s.handleHistory(req)
	case MethodReload:
		return s.handleReload(req)
	case MethodShutdown:
		return Response{ID: req.ID, Result: struct{}{}}
	default:
		return Response{ID: req.ID, Error: fmt.Sprintf("unknown method: %s", req.Method)}
	}
}

func (s *Server) handleFix(req Request) Response {
	start := time.Now()
	result, err := s.queries.FixNow()
	result.Elapsed = time.Since(start).Round(time.Millisecond).String()
	if err != nil && len(result.Errors) == 0 {
		// Partial passes carry their errors in the result; anything else fails the request.
		return Response{ID: req.ID, Error: err.Error()}
	}
	return Response{ID: req.ID, Result: result}
}

func (s *Server) handleHistory(req Request) Response {
	var params HistoryParams
	if req.Params != nil {
		// Re-marshal params to decode into HistoryParams
		paramsJSON, err := json.Marshal(req.Params)
		if err != nil {
			return Response{ID: req.ID, Error: "invalid history params"}
		}
		if err := json.Unmarshal(paramsJSON, &params); err != nil {
			return Response{ID: req.ID, Error: "invalid history params"}
		}
	}
	if params.Limit <= 0 {
		params.Limit = DefaultHistoryLimit
	}

	result, err := s.queries.History(params.Limit)
	if err != nil {
		return Response{ID: req.ID, Error: err.Error()}
	}
	return Response{ID: req.ID, Result: result}
}

func (s *Server) handleReload(req Request) Response {
	result, err := s.queries.ReloadConfig()
	if err != nil {
		return Response{ID: req.ID, Error: err.Error()}
	}
	return Response{ID: req.ID, Result: result}
}

func (s *Server) writeResponse(conn net.Conn, resp Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		return
	}
	data = append(data, '\n')
	conn.Write(data)
}
