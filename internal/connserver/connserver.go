// Package connserver owns the transport layer: it accepts TCP
// connections, optionally wraps them in TLS, and feeds the ready streams
// to an HTTP server, one goroutine per connection.
package connserver

import (
	"context"
	"crypto/tls"
	"net"
	"net/http"
	"sync"

	"airlift/internal/logger"
)

// Server accepts connections on a listen address and serves each one
// independently. A slow TLS handshake or a long request never blocks the
// accept loop. The only shared mutable state is the set of previously
// seen client addresses, used for logging.
type Server struct {
	addr    string
	handler http.Handler
	tlsConf *tls.Config // nil means plain TCP

	ln net.Listener

	mu   sync.Mutex
	seen map[string]struct{}
}

func New(addr string, handler http.Handler, tlsConf *tls.Config) *Server {
	return &Server{
		addr:    addr,
		handler: handler,
		tlsConf: tlsConf,
		seen:    map[string]struct{}{},
	}
}

// Listen binds the TCP listener. Calling it before Serve lets callers
// read Addr for ephemeral ports.
func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.ln = ln
	return nil
}

// Addr returns the bound listen address. Valid after Listen.
func (s *Server) Addr() net.Addr {
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Serve runs the accept loop until ctx is cancelled. Each accepted
// connection is handed to its own goroutine, which performs the optional
// TLS handshake and then queues the ready stream for the HTTP server. A
// failed handshake closes the connection with no response bytes written.
func (s *Server) Serve(ctx context.Context) error {
	if s.ln == nil {
		if err := s.Listen(); err != nil {
			return err
		}
	}

	go func() {
		<-ctx.Done()
		s.ln.Close()
	}()

	queue := newConnQueue(s.ln.Addr())
	httpSrv := &http.Server{Handler: s.handler}
	serveDone := make(chan struct{})
	go func() {
		// Serve spawns a goroutine per queued connection; requests on
		// different connections run fully in parallel.
		_ = httpSrv.Serve(queue)
		close(serveDone)
	}()

	for {
		conn, err := s.ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				queue.Close()
				_ = httpSrv.Close()
				<-serveDone
				return nil
			default:
				logger.Debug("accept error: %v", err)
				continue
			}
		}
		go s.admit(ctx, conn, queue)
	}
}

// admit logs first-time clients, performs the TLS handshake when
// configured, and queues the connection for serving.
func (s *Server) admit(ctx context.Context, conn net.Conn, queue *connQueue) {
	if ip := hostOnly(conn.RemoteAddr().String()); s.markSeen(ip) {
		logger.Info("connect %s", ip)
	}

	if s.tlsConf != nil {
		tc := tls.Server(conn, s.tlsConf)
		if err := tc.HandshakeContext(ctx); err != nil {
			// No channel to the client exists yet; drop silently.
			logger.Debug("tls handshake %s: %v", conn.RemoteAddr(), err)
			conn.Close()
			return
		}
		conn = tc
	}

	if !queue.push(ctx, conn) {
		conn.Close()
	}
}

// markSeen records the address and reports whether it was new.
func (s *Server) markSeen(ip string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.seen[ip]; ok {
		return false
	}
	s.seen[ip] = struct{}{}
	return true
}

func hostOnly(addr string) string {
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}

// connQueue adapts a channel of ready connections to net.Listener so the
// embedded http.Server can serve streams that were accepted (and TLS-
// wrapped) elsewhere.
type connQueue struct {
	conns chan net.Conn
	done  chan struct{}
	addr  net.Addr
	once  sync.Once
}

func newConnQueue(addr net.Addr) *connQueue {
	return &connQueue{
		conns: make(chan net.Conn),
		done:  make(chan struct{}),
		addr:  addr,
	}
}

func (q *connQueue) push(ctx context.Context, c net.Conn) bool {
	select {
	case q.conns <- c:
		return true
	case <-q.done:
		return false
	case <-ctx.Done():
		return false
	}
}

func (q *connQueue) Accept() (net.Conn, error) {
	select {
	case c := <-q.conns:
		return c, nil
	case <-q.done:
		return nil, net.ErrClosed
	}
}

func (q *connQueue) Close() error {
	q.once.Do(func() { close(q.done) })
	return nil
}

func (q *connQueue) Addr() net.Addr { return q.addr }
