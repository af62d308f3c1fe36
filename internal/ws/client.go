package ws

import (
	"sync"
	"time"

	"github.com/AGNIKSAHA/chatApp/internal/metrics"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	maxMsgSize = 64 * 1024
)

// Client 是一条已认证的物理连接。每连接状态机：
// Connecting → Authenticated → Active → Closed，服务端不做重连。
type Client struct {
	hub      *Hub
	conn     *websocket.Conn
	send     chan []byte
	done     chan struct{}
	userID   uint
	username string

	mu     sync.Mutex
	closed bool

	closeOnce sync.Once
}

func newClient(h *Hub, conn *websocket.Conn, userID uint, username string) *Client {
	return &Client{
		hub:      h,
		conn:     conn,
		send:     make(chan []byte, 256),
		done:     make(chan struct{}),
		userID:   userID,
		username: username,
	}
}

// enqueue 非阻塞投递；send 通道从不关闭，连接关闭后由 closed 标记丢弃投递，
// 所以 hub 快照之后连接才关闭的窗口里也不会向已关闭通道发送。
// 发送缓冲已满说明客户端读不过来，直接断开它。
func (c *Client) enqueue(payload []byte) bool {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}
	select {
	case c.send <- payload:
		c.mu.Unlock()
		return true
	default:
		c.mu.Unlock()
		go c.Close()
		return false
	}
}

// Close 只执行一次：标记关闭、通知写泵退出并关闭底层连接。
// 频道解绑和离线状态回写不在这里做，由网关在读泵退出路径统一处理。
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		close(c.done)
		if c.conn != nil {
			_ = c.conn.Close()
		}
		metrics.WsConnections.Dec()
	})
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case payload := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
