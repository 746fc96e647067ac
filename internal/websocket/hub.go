package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/wfunc/simon-game/internal/config"
	"go.uber.org/zap"
)

// Hub WebSocket连接管理中心
type Hub struct {
	// 客户端连接池
	clients   map[string]*Client
	clientsMu sync.RWMutex

	// 消息广播通道
	broadcast chan *Message

	// 注册/注销通道
	register   chan *Client
	unregister chan *Client

	messageHandler ClientMessageHandler
	cfg            ClientConfig
	done           chan struct{}
	stopOnce       sync.Once

	// 日志
	logger *zap.Logger
}

// ClientMessageHandler 客户端消息处理器
type ClientMessageHandler interface {
	HandleClientMessage(client *Client, data []byte)
	// ClientDisconnected 客户端注销后调用
	ClientDisconnected(client *Client)
}

// ClientConfig 客户端连接参数
type ClientConfig struct {
	WriteWait      time.Duration
	PongWait       time.Duration
	PingPeriod     time.Duration
	MaxMessageSize int64
	SendBuffer     int
}

// DefaultClientConfig 默认连接参数
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		WriteWait:      10 * time.Second,
		PongWait:       60 * time.Second,
		PingPeriod:     54 * time.Second,
		MaxMessageSize: 512 * 1024,
		SendBuffer:     256,
	}
}

// ClientConfigFrom 从配置构造连接参数，未设置的项使用默认值
func ClientConfigFrom(cfg *config.WebSocketConfig) ClientConfig {
	c := DefaultClientConfig()
	if cfg == nil {
		return c
	}
	if cfg.WriteTimeout > 0 {
		c.WriteWait = cfg.WriteTimeout
	}
	if cfg.PongTimeout > 0 {
		c.PongWait = cfg.PongTimeout
	}
	if cfg.PingInterval > 0 {
		c.PingPeriod = cfg.PingInterval
	}
	// ping 周期必须小于 pong 超时
	if c.PingPeriod >= c.PongWait {
		c.PingPeriod = (c.PongWait * 9) / 10
	}
	if cfg.MaxMessageSize > 0 {
		c.MaxMessageSize = cfg.MaxMessageSize
	}
	return c
}

// Message WebSocket消息
type Message struct {
	Type      string          `json:"type"` // 消息类型
	SessionID string          `json:"session_id,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"` // 消息数据
	Timestamp int64           `json:"timestamp"`      // 毫秒时间戳
}

// MessageType 消息类型
const (
	// 系统消息
	MessageTypeConnected = "connected"
	MessageTypePing      = "ping"
	MessageTypePong      = "pong"
	MessageTypeError     = "error"

	// 客户端游戏消息
	MessageTypeStartGame         = "start_game"
	MessageTypeGuess             = "guess"
	MessageTypeAnimationLaunched = "animation_launched"
	MessageTypeLeaveGame         = "leave_game"

	// 服务端游戏消息
	MessageTypeGameState  = "game_state"
	MessageTypeFeedback   = "feedback"
	MessageTypeGameOver   = "game_over"
	MessageTypeScores     = "scores"
	MessageTypeBestScores = "best_scores"
)

// NewHub 创建Hub
func NewHub(cfg ClientConfig, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = DefaultClientConfig().SendBuffer
	}
	return &Hub{
		clients:    make(map[string]*Client),
		broadcast:  make(chan *Message, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		cfg:        cfg,
		done:       make(chan struct{}),
		logger:     logger,
	}
}

// SetMessageHandler 设置消息处理器，需在 Run 之前调用
func (h *Hub) SetMessageHandler(handler ClientMessageHandler) {
	h.messageHandler = handler
}

// Run 运行Hub，ctx 取消后断开所有客户端并返回
func (h *Hub) Run(ctx context.Context) {
	defer h.shutdown()

	for {
		select {
		case <-ctx.Done():
			return

		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case message := <-h.broadcast:
			h.broadcastMessage(message)
		}
	}
}

func (h *Hub) shutdown() {
	h.stopOnce.Do(func() { close(h.done) })

	h.clientsMu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for id, client := range h.clients {
		delete(h.clients, id)
		close(client.Send)
		clients = append(clients, client)
	}
	h.clientsMu.Unlock()

	for _, client := range clients {
		h.notifyDisconnected(client)
	}
	h.logger.Info("WebSocket Hub已停止", zap.Int("clients", len(clients)))
}

// registerClient 注册客户端
func (h *Hub) registerClient(client *Client) {
	h.clientsMu.Lock()
	h.clients[client.ID] = client
	h.clientsMu.Unlock()

	h.logger.Info("WebSocket客户端连接", zap.String("client_id", client.ID))

	// 发送连接成功消息
	data, _ := json.Marshal(map[string]string{"client_id": client.ID})
	h.SendToClient(client.ID, &Message{
		Type:      MessageTypeConnected,
		Timestamp: time.Now().UnixMilli(),
		Data:      data,
	})
}

// unregisterClient 注销客户端
func (h *Hub) unregisterClient(client *Client) {
	h.clientsMu.Lock()
	_, ok := h.clients[client.ID]
	if ok {
		delete(h.clients, client.ID)
		close(client.Send)
	}
	h.clientsMu.Unlock()

	if !ok {
		return
	}
	h.logger.Info("WebSocket客户端断开",
		zap.String("client_id", client.ID),
		zap.String("session_id", client.SessionID()))
	h.notifyDisconnected(client)
}

func (h *Hub) notifyDisconnected(client *Client) {
	if h.messageHandler != nil {
		h.messageHandler.ClientDisconnected(client)
	}
}

// broadcastMessage 广播消息
func (h *Hub) broadcastMessage(message *Message) {
	data, err := json.Marshal(message)
	if err != nil {
		h.logger.Error("序列化消息失败", zap.Error(err))
		return
	}

	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	for _, client := range h.clients {
		select {
		case client.Send <- data:
		default:
			h.logger.Warn("客户端发送缓冲区满",
				zap.String("client_id", client.ID))
		}
	}
}

// SendToClient 发送消息给指定客户端
func (h *Hub) SendToClient(clientID string, message *Message) error {
	data, err := json.Marshal(message)
	if err != nil {
		return err
	}

	// 持有读锁发送，避免与注销时关闭通道竞争
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()

	client, ok := h.clients[clientID]
	if !ok {
		return ErrClientNotFound
	}

	select {
	case client.Send <- data:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// GetOnlineCount 获取在线人数
func (h *Hub) GetOnlineCount() int {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	return len(h.clients)
}

// Broadcast 广播消息，Hub 停止后丢弃
func (h *Hub) Broadcast(message *Message) {
	select {
	case h.broadcast <- message:
	case <-h.done:
	}
}

// Register 注册客户端
func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.done:
		close(client.Send)
	}
}

// Unregister 注销客户端
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// Done Hub 停止后关闭
func (h *Hub) Done() <-chan struct{} {
	return h.done
}
