package signal

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/strelka-im/realtime/internal/app"
	"github.com/strelka-im/realtime/internal/core"
)

// Options tunes the per-connection transport behavior.
type Options struct {
	ReadLimit    int64
	PingPeriod   time.Duration
	TypingLimit  int
	TypingWindow time.Duration
}

func (o Options) withDefaults() Options {
	if o.ReadLimit <= 0 {
		o.ReadLimit = 32768
	}
	if o.PingPeriod <= 0 {
		o.PingPeriod = 54 * time.Second
	}
	if o.TypingLimit <= 0 {
		o.TypingLimit = 10
	}
	if o.TypingWindow <= 0 {
		o.TypingWindow = 5 * time.Second
	}
	return o
}

type SessionWSController struct {
	Orch *app.Orchestrator
	opts Options

	typingLimiter *UserRateLimiter

	// Display names are a transport-level convenience for typing events; the
	// registry itself only binds user IDs.
	mu    sync.RWMutex
	names map[core.SessionID]string
}

func NewSessionWSController(orch *app.Orchestrator, opts Options) *SessionWSController {
	opts = opts.withDefaults()
	return &SessionWSController{
		Orch:          orch,
		opts:          opts,
		typingLimiter: NewUserRateLimiter(opts.TypingLimit, opts.TypingWindow),
		names:         make(map[core.SessionID]string),
	}
}

type WsSignalConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func (c *WsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return core.ErrBackpressure
	}
	select {
	case c.send <- f:
	default:
		return core.ErrBackpressure
	}
	return nil
}

func (c *WsSignalConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleSession upgrades the request and runs the connection's pumps. The
// session is registered immediately but stays unauthenticated until the
// client presents a token.
func (ctl *SessionWSController) HandleSession(ctx context.Context, c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}

	conn := &WsSignalConn{
		conn: ws,
		send: make(chan core.Frame, 32),
	}
	sid := ctl.Orch.Connect(conn)
	log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("new WS connection")

	connCtx, cancel := context.WithCancel(ctx)
	go ctl.writePump(connCtx, conn)
	go ctl.readPump(connCtx, cancel, sid, conn)
}

func (ctl *SessionWSController) rememberName(sid core.SessionID, name string) {
	ctl.mu.Lock()
	ctl.names[sid] = name
	ctl.mu.Unlock()
}

func (ctl *SessionWSController) nameOf(sid core.SessionID) string {
	ctl.mu.RLock()
	defer ctl.mu.RUnlock()
	return ctl.names[sid]
}

func (ctl *SessionWSController) forgetName(sid core.SessionID) {
	ctl.mu.Lock()
	delete(ctl.names, sid)
	ctl.mu.Unlock()
}
