package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/KodaTao/gemini-chat-relay/auth"
	"github.com/KodaTao/gemini-chat-relay/config"
	"github.com/KodaTao/gemini-chat-relay/domain"
	"github.com/KodaTao/gemini-chat-relay/metrics"
	"github.com/KodaTao/gemini-chat-relay/relay"
)

// WebSocket 消息结构，Type 为事件名
type WSMessage struct {
	ID      string          `json:"id,omitempty"`
	ReplyTo string          `json:"reply_to,omitempty"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

const (
	typePing = "PING"
	typePong = "PONG"

	writeWait = 10 * time.Second
)

var ErrClientClosed = errors.New("websocket client closed")

// Client 一个已认证的 WebSocket 连接
type Client struct {
	id      string
	conn    *websocket.Conn
	send    chan []byte
	done    chan struct{}
	session *relay.Session

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.cancel()
		c.conn.Close()
	})
}

// enqueue 阻塞直到消息进入发送队列或连接关闭，不丢弃消息以保证事件顺序
func (c *Client) enqueue(msg *WSMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	select {
	case <-c.done:
		return ErrClientClosed
	default:
	}

	select {
	case c.send <- data:
		return nil
	case <-c.done:
		return ErrClientClosed
	}
}

// replyEmitter 把 relay 事件包装成 WSMessage，reply_to 为客户端请求的 id
type replyEmitter struct {
	client  *Client
	replyTo string
}

func (e replyEmitter) Emit(event string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return e.client.enqueue(&WSMessage{
		ID:      uuid.NewString(),
		ReplyTo: e.replyTo,
		Type:    event,
		Payload: raw,
	})
}

// Hub 管理所有 WebSocket 连接，并把入站事件交给 relay
type Hub struct {
	mu       sync.RWMutex
	clients  map[string]*Client
	closing  bool
	inflight sync.WaitGroup

	cfg      *config.WebSocketConfig
	verifier auth.Verifier
	relay    *relay.Relay
	logger   *zap.Logger
	metrics  *metrics.Metrics
	upgrader websocket.Upgrader
}

func NewHub(cfg *config.WebSocketConfig, verifier auth.Verifier, r *relay.Relay, logger *zap.Logger, m *metrics.Metrics, allowedOrigins []string) *Hub {
	h := &Hub{
		clients:  make(map[string]*Client),
		cfg:      cfg,
		verifier: verifier,
		relay:    r,
		logger:   logger.Named("ws"),
		metrics:  m,
	}
	h.upgrader = websocket.Upgrader{CheckOrigin: originChecker(allowedOrigins)}
	return h
}

// originChecker 没有 Origin 头的请求（非浏览器客户端）直接放行
func originChecker(allowed []string) func(r *http.Request) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		if _, ok := set["*"]; ok {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}

// ClientCount 当前连接数
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HandleWS 握手：先校验令牌（token 查询参数优先，其次 Authorization 头），通过后才升级连接
func (h *Hub) HandleWS(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		token = auth.BearerToken(c.GetHeader("Authorization"))
	}
	if token == "" {
		h.metrics.HandshakeFailures.Inc()
		respondError(c, h.logger, &domain.UnauthorizedError{Message: "missing token"})
		return
	}

	identity, err := h.verifier.VerifyToken(c.Request.Context(), token)
	if err != nil {
		h.metrics.HandshakeFailures.Inc()
		respondError(c, h.logger, err)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("upgrade error", zap.Error(err))
		return
	}
	if h.cfg.ReadLimit > 0 {
		conn.SetReadLimit(h.cfg.ReadLimit)
	}

	client := h.newClient(conn)
	if err := client.session.Bind(identity); err != nil {
		h.logger.Error("bind identity failed", zap.Error(err))
		client.Close()
		return
	}
	if !h.register(client) {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(writeWait))
		client.Close()
		return
	}

	h.logger.Info("client connected", zap.String("client_id", client.id), zap.String("user_id", identity.ID))

	go h.writePump(client)
	go h.pingPump(client)
	h.readPump(client)
}

func (h *Hub) newClient(conn *websocket.Conn) *Client {
	id := uuid.NewString()
	ctx, cancel := context.WithCancel(context.Background())
	sendBuffer := h.cfg.SendBuffer
	if sendBuffer <= 0 {
		sendBuffer = 256
	}
	return &Client{
		id:      id,
		conn:    conn,
		send:    make(chan []byte, sendBuffer),
		done:    make(chan struct{}),
		session: relay.NewSession(id),
		ctx:     ctx,
		cancel:  cancel,
	}
}

func (h *Hub) register(client *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closing {
		return false
	}
	h.clients[client.id] = client
	h.metrics.ActiveConnections.Inc()
	return true
}

func (h *Hub) unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client.id]; ok {
		delete(h.clients, client.id)
		h.metrics.ActiveConnections.Dec()
	}
}

// track 关闭过程中不再接受新的调用
func (h *Hub) track() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closing {
		return false
	}
	h.inflight.Add(1)
	return true
}

// readPump 持续读取客户端消息，每个事件在独立 goroutine 中处理，互不阻塞
func (h *Hub) readPump(client *Client) {
	defer func() {
		h.unregister(client)
		client.Close()
		h.logger.Info("client disconnected", zap.String("client_id", client.id))
	}()

	// 心跳关闭时不设置读超时，否则空闲连接会被误断
	readTimeout := time.Duration(0)
	if h.cfg.PingInterval > 0 {
		readTimeout = time.Duration(h.cfg.PingInterval+h.cfg.PongTimeout) * time.Second
	}
	refreshDeadline := func() {
		if readTimeout > 0 {
			client.conn.SetReadDeadline(time.Now().Add(readTimeout))
		}
	}
	refreshDeadline()

	for {
		_, data, err := client.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("read error", zap.String("client_id", client.id), zap.Error(err))
			}
			return
		}

		// 收到任何消息都刷新读超时（证明连接活跃）
		refreshDeadline()

		var msg WSMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			h.logger.Warn("invalid message", zap.String("client_id", client.id), zap.Error(err))
			continue
		}

		switch msg.Type {
		case typePong:
			continue
		case typePing:
			_ = client.enqueue(&WSMessage{ReplyTo: msg.ID, Type: typePong})
			continue
		}

		if !h.track() {
			return
		}
		go func(msg WSMessage) {
			defer h.inflight.Done()
			h.relay.Dispatch(client.ctx, client.session, replyEmitter{client: client, replyTo: msg.ID}, msg.Type, msg.Payload)
		}(msg)
	}
}

// writePump 唯一的写协程，保证同一连接上的帧按入队顺序发送
func (h *Hub) writePump(client *Client) {
	for {
		select {
		case data := <-client.send:
			client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				h.logger.Warn("write error", zap.String("client_id", client.id), zap.Error(err))
				client.Close()
				return
			}
		case <-client.done:
			return
		}
	}
}

// pingPump 定期发送应用层 PING 心跳
// 客户端收到后回复应用层 PONG（JSON 文本），由 readPump 刷新读超时
func (h *Hub) pingPump(client *Client) {
	if h.cfg.PingInterval <= 0 {
		return
	}
	ticker := time.NewTicker(time.Duration(h.cfg.PingInterval) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := client.enqueue(&WSMessage{Type: typePing}); err != nil {
				return
			}
		case <-client.done:
			return
		}
	}
}

// Shutdown 关闭所有连接，并等待进行中的调用完成落库
func (h *Hub) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	h.closing = true
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(writeWait))
		c.Close()
	}

	done := make(chan struct{})
	go func() {
		h.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
