// Package server implements the reactor/server loop: a single thread
// owns the notifier, the timing heap, and the listening socket, and
// hands per-connection read/write/process work to the worker pool,
// grounded on original_source/code/server/webserver.{h,cpp}.
package server

import (
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/bern-seu/webserver/internal/connection"
	"github.com/bern-seu/webserver/internal/constants"
	"github.com/bern-seu/webserver/internal/errs"
	"github.com/bern-seu/webserver/internal/httpparse"
	"github.com/bern-seu/webserver/internal/interfaces"
	"github.com/bern-seu/webserver/internal/logging"
	"github.com/bern-seu/webserver/internal/reactor"
	"github.com/bern-seu/webserver/internal/timer"
	"github.com/bern-seu/webserver/internal/workerpool"
)

// Config configures one Server, matching the constructor parameters of
// WebServer in original_source/code/server/webserver.cpp.
type Config struct {
	Port       int
	TrigMode   int
	TimeoutMs  int
	OpenLinger bool

	WorkerCount   int
	WorkerQueue   int
	ReactorBuffer int // max events returned per notifier.Wait

	Verifier httpparse.AuthVerifier
	Logger   *logging.Logger
	Observer interfaces.ConnObserver // defaults to interfaces.NopObserver
}

// Server is the single-process event loop: it owns the listening
// socket, the readiness notifier, the timing heap, and dispatches
// connection work onto a worker pool.
type Server struct {
	cfg Config

	listenFd    int
	notifier    reactor.Notifier
	timer       *timer.Heap
	pool        *workerpool.Pool
	logger      *logging.Logger
	srcDir      string
	listenEdge  bool
	connEdge    bool
	connEvents  reactor.EventMask
	listenEvent reactor.EventMask

	mu      sync.Mutex
	conns   map[int]*connection.Conn
	started map[int]time.Time
	closed  bool
}

// New constructs a Server but does not yet bind the listening socket;
// call Start to do that and run the event loop.
func New(cfg Config) (*Server, error) {
	if cfg.Port < constants.MinPort || cfg.Port > constants.MaxPort {
		return nil, errs.New("init", errs.CodeConfig, fmt.Sprintf("port %d out of range", cfg.Port))
	}
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 4
	}
	if cfg.WorkerQueue <= 0 {
		cfg.WorkerQueue = 1024
	}
	if cfg.ReactorBuffer <= 0 {
		cfg.ReactorBuffer = 1024
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	if cfg.Observer == nil {
		cfg.Observer = interfaces.NopObserver{}
	}

	cwd, err := os.Getwd()
	if err != nil {
		return nil, errs.Wrap("getwd", err)
	}
	srcDir := cwd + "/resources/"

	listenEdge, connEdge := reactor.ModeForTrigger(cfg.TrigMode)

	listenEvents := reactor.EventRead | reactor.EventPeerClosed
	connEvents := reactor.EventRead | reactor.EventPeerClosed

	notifier, err := reactor.New(reactor.BackendEpoll, cfg.ReactorBuffer)
	if err != nil {
		return nil, errs.Wrap("init notifier", err)
	}

	s := &Server{
		cfg:         cfg,
		notifier:    notifier,
		timer:       timer.New(),
		pool:        workerpool.New(cfg.WorkerCount, cfg.WorkerQueue, cfg.Logger),
		logger:      cfg.Logger,
		srcDir:      srcDir,
		listenEdge:  listenEdge,
		connEdge:    connEdge,
		connEvents:  connEvents,
		listenEvent: listenEvents,
		conns:       make(map[int]*connection.Conn),
		started:     make(map[int]time.Time),
	}
	return s, nil
}

// Start binds the listening socket and logs the startup banner. Run
// drives the event loop after Start succeeds.
func (s *Server) Start() error {
	fd, err := s.initSocket()
	if err != nil {
		s.logger.Error("========== Server init error! ==========", "error", err)
		return err
	}
	s.listenFd = fd

	s.logger.Info("========== Server init ==========")
	s.logger.Info("startup", "port", s.cfg.Port, "openLinger", s.cfg.OpenLinger)
	s.logger.Info("trigger mode", "listen", triggerName(s.listenEdge), "conn", triggerName(s.connEdge))
	s.logger.Info("srcDir", "path", s.srcDir)
	s.logger.Info("workerCount", "n", s.cfg.WorkerCount)
	return nil
}

func triggerName(edge bool) string {
	if edge {
		return "ET"
	}
	return "LT"
}

// initSocket creates, configures, binds, and listens on the TCP socket,
// matching WebServer::InitSocket_.
func (s *Server) initSocket() (int, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
	if err != nil {
		return -1, errs.Wrap("socket", err)
	}

	if s.cfg.OpenLinger {
		linger := unix.Linger{Onoff: 1, Linger: 1}
		if err := unix.SetsockoptLinger(fd, unix.SOL_SOCKET, unix.SO_LINGER, &linger); err != nil {
			unix.Close(fd)
			return -1, errs.Wrap("setsockopt linger", err)
		}
	}

	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return -1, errs.Wrap("setsockopt reuseaddr", err)
	}

	addr := &unix.SockaddrInet4{Port: s.cfg.Port}
	if err := unix.Bind(fd, addr); err != nil {
		unix.Close(fd)
		return -1, errs.Wrap("bind", err)
	}
	if err := unix.Listen(fd, constants.ListenBacklog); err != nil {
		unix.Close(fd)
		return -1, errs.Wrap("listen", err)
	}

	if err := s.notifier.Add(fd, s.listenEvent, s.listenEdge, false); err != nil {
		unix.Close(fd)
		return -1, errs.Wrap("notifier add listen", err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return -1, errs.Wrap("set nonblock", err)
	}
	return fd, nil
}

// Run drives the event loop until Shutdown is called. It blocks.
func (s *Server) Run() {
	for {
		s.mu.Lock()
		closed := s.closed
		s.mu.Unlock()
		if closed {
			return
		}

		// A bounded default wait, rather than the original's indefinite
		// block, keeps Shutdown responsive even with no per-connection
		// idle timeout configured.
		timeoutMs := 1000
		if s.cfg.TimeoutMs > 0 {
			timeoutMs = s.timer.NextTickMs()
		}

		events, err := s.notifier.Wait(timeoutMs)
		if err != nil {
			s.logger.Error("notifier wait failed", "error", err)
			continue
		}

		for _, ev := range events {
			switch {
			case ev.Fd == s.listenFd:
				s.dealListen()
			case ev.Events&(reactor.EventPeerClosed|reactor.EventHangup|reactor.EventError) != 0:
				s.closeConn(ev.Fd)
			case ev.Events&reactor.EventRead != 0:
				s.dealRead(ev.Fd)
			case ev.Events&reactor.EventWrite != 0:
				s.dealWrite(ev.Fd)
			default:
				s.logger.Warn("unexpected event", "fd", ev.Fd)
			}
		}
	}
}

func (s *Server) dealListen() {
	for {
		fd, sa, err := unix.Accept(s.listenFd)
		if err != nil {
			return
		}
		if connection.UserCount >= constants.MaxConnections {
			s.sendBusy(fd)
			s.logger.Warn("clients full")
			continue
		}
		s.addClient(fd, sa)
		if !s.listenEdge {
			return
		}
	}
}

// sockaddrToAddr converts the address returned by accept(2) to a
// net.Addr for logging/diagnostics; a nil or unrecognized sockaddr
// yields a nil net.Addr, which callers treat as "unknown peer".
func sockaddrToAddr(sa unix.Sockaddr) net.Addr {
	switch v := sa.(type) {
	case *unix.SockaddrInet4:
		return &net.TCPAddr{IP: net.IP(v.Addr[:]), Port: v.Port}
	case *unix.SockaddrInet6:
		return &net.TCPAddr{IP: net.IP(v.Addr[:]), Port: v.Port}
	default:
		return nil
	}
}

func (s *Server) sendBusy(fd int) {
	msg := []byte("Server busy!")
	if _, err := unix.Write(fd, msg); err != nil {
		s.logger.Warn("send busy message failed", "fd", fd, "error", err)
	}
	unix.Close(fd)
}

func (s *Server) addClient(fd int, sa unix.Sockaddr) {
	conn := connection.New(s.srcDir, s.cfg.Verifier, s.connEdge)
	conn.Init(fd, sockaddrToAddr(sa))

	s.mu.Lock()
	s.conns[fd] = conn
	s.started[fd] = time.Now()
	s.mu.Unlock()

	if s.cfg.TimeoutMs > 0 {
		timeout := time.Duration(s.cfg.TimeoutMs) * time.Millisecond
		s.timer.Add(fd, timeout, func() {
			s.cfg.Observer.ObserveTimeout(fd)
			s.closeConn(fd)
		})
	}

	if err := s.notifier.Add(fd, reactor.EventRead|s.connEvents, s.connEdge, true); err != nil {
		s.logger.Error("notifier add client failed", "fd", fd, "error", err)
		s.closeConn(fd)
		return
	}
	unix.SetNonblock(fd, true)
	s.cfg.Observer.ObserveAccept(fd)
	s.logger.Info("client in", "fd", fd)
}

func (s *Server) dealRead(fd int) {
	s.extendTime(fd)
	conn := s.lookup(fd)
	if conn == nil {
		return
	}
	if !s.pool.TrySubmit(func() { s.onRead(conn) }) {
		s.logger.Warn("worker queue full, dropping connection", "fd", fd)
		s.closeConn(fd)
	}
}

func (s *Server) dealWrite(fd int) {
	s.extendTime(fd)
	conn := s.lookup(fd)
	if conn == nil {
		return
	}
	if !s.pool.TrySubmit(func() { s.onWrite(conn) }) {
		s.logger.Warn("worker queue full, dropping connection", "fd", fd)
		s.closeConn(fd)
	}
}

func (s *Server) extendTime(fd int) {
	if s.cfg.TimeoutMs > 0 {
		s.timer.Adjust(fd, time.Duration(s.cfg.TimeoutMs)*time.Millisecond)
	}
}

func (s *Server) onRead(conn *connection.Conn) {
	n, err := conn.ReadInto()
	if n <= 0 && !errs.IsTransient(err) {
		s.closeConn(conn.Fd())
		return
	}
	s.onProcess(conn)
}

func (s *Server) onProcess(conn *connection.Conn) {
	fd := conn.Fd()
	if conn.Process() {
		s.cfg.Observer.ObserveRequest(conn.ResponseBytes(), 0, conn.StatusCode())
		s.notifier.Mod(fd, s.connEvents|reactor.EventWrite, s.connEdge, true)
	} else {
		s.notifier.Mod(fd, s.connEvents|reactor.EventRead, s.connEdge, true)
	}
}

func (s *Server) onWrite(conn *connection.Conn) {
	fd := conn.Fd()
	_, err := conn.WriteOut()
	if conn.BytesToWrite() == 0 {
		if conn.KeepAlive() {
			s.onProcess(conn)
			return
		}
	} else if errs.IsTransient(err) {
		s.notifier.Mod(fd, s.connEvents|reactor.EventWrite, s.connEdge, true)
		return
	}
	s.closeConn(fd)
}

func (s *Server) lookup(fd int) *connection.Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conns[fd]
}

func (s *Server) closeConn(fd int) {
	s.mu.Lock()
	conn, ok := s.conns[fd]
	startedAt, hadStart := s.started[fd]
	if ok {
		delete(s.conns, fd)
		delete(s.started, fd)
	}
	s.mu.Unlock()
	if !ok {
		return
	}
	lifetimeNs := int64(0)
	if hadStart {
		lifetimeNs = time.Since(startedAt).Nanoseconds()
	}
	s.logger.Info("client quit", "fd", fd)
	s.notifier.Del(fd)
	s.timer.Remove(fd)
	conn.Close()
	s.cfg.Observer.ObserveClose(fd, lifetimeNs)
}

// Shutdown closes the listening socket, stops the worker pool, and
// closes every live connection, matching WebServer's destructor
// ordering (listen fd -> thread pool -> DB pool handled by the caller).
func (s *Server) Shutdown() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	fds := make([]int, 0, len(s.conns))
	for fd := range s.conns {
		fds = append(fds, fd)
	}
	s.mu.Unlock()

	unix.Close(s.listenFd)
	s.pool.Close()
	for _, fd := range fds {
		s.closeConn(fd)
	}
	s.notifier.Close()
}
