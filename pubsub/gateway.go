package pubsub

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"
)

// Default endpoint paths
const (
	DefaultPublishPath   = "/publish"
	DefaultWebSocketPath = "/websocket"
	DefaultHealthPath    = "/health"
	DefaultMetricsPath   = "/metrics"
)

const (
	maxRequestBytes = 10 << 20
	writeWait       = 10 * time.Second
	pongWait        = 60 * time.Second
	pingInterval    = 30 * time.Second
)

// Broker publishes to write addresses and subscribes to read addresses
type Broker interface {
	Publisher
	Subscriber
}

// GatewayConfig selects endpoint paths and optional extra handlers
type GatewayConfig struct {
	PublishPath   string
	WebSocketPath string
	// Health and Metrics are mounted on DefaultHealthPath and DefaultMetricsPath when set
	Health  http.Handler
	Metrics http.Handler
}

// Gateway is the HTTP front end: JSON publication over POST and duplex
// publication/subscription over WebSocket
type Gateway struct {
	auth     Authenticator
	broker   Broker
	metrics  *Metrics
	logger   *slog.Logger
	mux      *http.ServeMux
	upgrader websocket.Upgrader

	connsMu sync.Mutex
	conns   map[*connection]struct{}
	wg      sync.WaitGroup
}

// NewGateway creates a gateway
func NewGateway(cfg GatewayConfig, a Authenticator, b Broker, metrics *Metrics, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.PublishPath == "" {
		cfg.PublishPath = DefaultPublishPath
	}
	if cfg.WebSocketPath == "" {
		cfg.WebSocketPath = DefaultWebSocketPath
	}

	g := &Gateway{
		auth:    a,
		broker:  b,
		metrics: metrics,
		logger:  logger.With("component", "gateway"),
		mux:     http.NewServeMux(),
		upgrader: websocket.Upgrader{
			CheckOrigin:     func(_ *http.Request) bool { return true },
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
		conns: make(map[*connection]struct{}),
	}

	g.mux.HandleFunc(cfg.PublishPath, g.handlePublish)
	g.mux.HandleFunc(cfg.WebSocketPath, g.handleWebSocket)
	if cfg.Health != nil {
		g.mux.Handle(DefaultHealthPath, cfg.Health)
	}
	if cfg.Metrics != nil {
		g.mux.Handle(DefaultMetricsPath, cfg.Metrics)
	}
	return g
}

// ServeHTTP implements http.Handler
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.mux.ServeHTTP(w, r)
}

func (g *Gateway) handlePublish(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBytes))
	if err != nil {
		http.Error(w, "cannot read request", http.StatusBadRequest)
		return
	}

	resp := NewPublicationWorker(g.auth, g.broker, g.metrics, g.logger).Process(r.Context(), body)
	status := http.StatusOK
	if !resp.Success {
		status = http.StatusBadRequest
	}

	w.Header().Set("Content-Type", "application/json; charset=UTF-8")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		g.logger.Debug("Writing publication response failed", "error", err)
	}
}

func (g *Gateway) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Debug("WebSocket upgrade failed", "error", err)
		return
	}

	c := &connection{gateway: g, ws: ws, closed: make(chan struct{})}
	g.connsMu.Lock()
	g.conns[c] = struct{}{}
	g.connsMu.Unlock()
	g.metrics.connectionOpened()

	g.wg.Add(2)
	go c.pingLoop()
	go c.readLoop(context.WithoutCancel(r.Context()))
}

// Close disconnects every WebSocket client and waits for their goroutines
func (g *Gateway) Close(ctx context.Context) error {
	g.connsMu.Lock()
	conns := make([]*connection, 0, len(g.conns))
	for c := range g.conns {
		conns = append(conns, c)
	}
	g.connsMu.Unlock()

	for _, c := range conns {
		c.close()
	}

	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// connection is one WebSocket client. It holds at most one subscription;
// a new subscription request stops the previous one first.
type connection struct {
	gateway   *Gateway
	ws        *websocket.Conn
	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    chan struct{}

	subMu sync.Mutex
	sub   *SubscriptionWorker
}

func (c *connection) write(resp Response) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

func (c *connection) readLoop(ctx context.Context) {
	defer c.gateway.wg.Done()
	defer c.close()

	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		msgType, data, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
		if msgType != websocket.TextMessage || len(data) == 0 {
			continue
		}
		if !c.dispatch(ctx, data) {
			return
		}
	}
}

// dispatch handles one request frame. It returns false when the connection should close.
func (c *connection) dispatch(ctx context.Context, data []byte) bool {
	g := c.gateway
	kind, err := peekType(data)
	if err != nil {
		g.logger.Debug("Closing connection after undecodable request", "error", err)
		return false
	}

	var resp Response
	switch kind {
	case TypePublicationRequest:
		resp = NewPublicationWorker(g.auth, g.broker, g.metrics, g.logger).Process(ctx, data)
	case TypeSubscriptionRequest:
		worker := NewSubscriptionWorker(g.auth, g.broker, c.write, g.metrics, g.logger)
		c.subMu.Lock()
		if c.sub != nil {
			c.sub.Stop()
		}
		c.sub = worker
		c.subMu.Unlock()
		resp = worker.Process(ctx, data)
	default:
		g.logger.Debug("Closing connection after unsupported request", "message_type", kind)
		return false
	}

	if err := c.write(resp); err != nil {
		g.logger.Debug("Writing response failed", "error", err)
		return false
	}
	return true
}

func (c *connection) pingLoop() {
	defer c.gateway.wg.Done()
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.closed:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			c.writeMu.Unlock()
			if err != nil {
				c.close()
				return
			}
		}
	}
}

func (c *connection) close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.subMu.Lock()
		if c.sub != nil {
			c.sub.Stop()
			c.sub = nil
		}
		c.subMu.Unlock()
		_ = c.ws.Close()

		g := c.gateway
		g.connsMu.Lock()
		delete(g.conns, c)
		g.connsMu.Unlock()
		g.metrics.connectionClosed()
	})
}
