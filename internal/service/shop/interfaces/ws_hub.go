// internal/service/shop/interfaces/ws_hub.go
package interfaces

import (
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	zlog "github.com/rs/zerolog/log"

	"storefront/internal/pkg/logger"
	"storefront/internal/service/shop/domain"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	clientSendSize = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// 推送只读，不依赖 cookie，允许跨域
	CheckOrigin: func(r *http.Request) bool { return true },
}

type broadcast struct {
	tenantID string
	payload  []byte
}

// Hub 维护所有活跃的 WebSocket 连接，按租户广播订单状态变化。实现 port.OrderEventPublisher。
type Hub struct {
	clients    map[string]map[*wsClient]struct{}
	register   chan *wsClient
	unregister chan *wsClient
	broadcast  chan broadcast
	done       chan struct{}
	count      atomic.Int64
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[string]map[*wsClient]struct{}),
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		broadcast:  make(chan broadcast, 256),
		done:       make(chan struct{}),
	}
}

// Run 处理注册、注销和广播，直到 ctx 结束时关闭所有连接。
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			close(h.done)
			for _, set := range h.clients {
				for c := range set {
					close(c.send)
				}
			}
			h.clients = make(map[string]map[*wsClient]struct{})
			h.count.Store(0)
			return
		case c := <-h.register:
			set, ok := h.clients[c.tenantID]
			if !ok {
				set = make(map[*wsClient]struct{})
				h.clients[c.tenantID] = set
			}
			set[c] = struct{}{}
			h.count.Add(1)
			zlog.Debug().Str("tenant", c.tenantID).Str("client", c.id).Msg("ws client registered")
		case c := <-h.unregister:
			h.remove(c)
		case msg := <-h.broadcast:
			for c := range h.clients[msg.tenantID] {
				select {
				case c.send <- msg.payload:
				default:
					// 慢客户端直接断开
					zlog.Warn().Str("tenant", c.tenantID).Str("client", c.id).Msg("ws client too slow, dropping")
					h.remove(c)
				}
			}
		}
	}
}

func (h *Hub) remove(c *wsClient) {
	set, ok := h.clients[c.tenantID]
	if !ok {
		return
	}
	if _, ok := set[c]; !ok {
		return
	}
	delete(set, c)
	close(c.send)
	if len(set) == 0 {
		delete(h.clients, c.tenantID)
	}
	h.count.Add(-1)
}

// Clients 返回当前连接数。
func (h *Hub) Clients() int {
	return int(h.count.Load())
}

// OrderStatusChanged 投递给同租户的所有订阅者；广播队列满时丢弃并返回错误。
func (h *Hub) OrderStatusChanged(ctx context.Context, event domain.OrderStatusChanged) error {
	payload, err := json.Marshal(struct {
		Type string `json:"type"`
		domain.OrderStatusChanged
	}{Type: "order.status_changed", OrderStatusChanged: event})
	if err != nil {
		return err
	}
	select {
	case h.broadcast <- broadcast{tenantID: event.TenantID, payload: payload}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-h.done:
		return errHubBusy
	default:
		return errHubBusy
	}
}

type hubError string

func (e hubError) Error() string { return string(e) }

const errHubBusy = hubError("order event hub is busy")

// ServeWS 把请求升级为 WebSocket 并订阅 tenantID 的订单事件。租户校验由调用方完成。
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, tenantID string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Ctx(r.Context()).Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	c := &wsClient{
		id:       uuid.NewString(),
		hub:      h,
		conn:     conn,
		send:     make(chan []byte, clientSendSize),
		tenantID: tenantID,
	}
	select {
	case h.register <- c:
	case <-h.done:
		_ = conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

// wsClient 是一个 WebSocket 连接的代表
type wsClient struct {
	id       string
	hub      *Hub
	conn     *websocket.Conn
	send     chan []byte
	tenantID string
}

// readPump 只处理 pong 和关闭；客户端发来的消息一律忽略。
func (c *wsClient) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		_ = c.conn.Close()
	}()
	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
