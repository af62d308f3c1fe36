package ws

import (
	"sync"
	"time"
)

// Hub 是身份到活跃连接集合的注册表。路由的目标始终是身份，
// 投递时扇出到该身份名下的全部连接（多设备）。
type Hub struct {
	mu      sync.RWMutex
	clients map[uint]map[*Client]bool
}

func NewHub() *Hub {
	return &Hub{clients: make(map[uint]map[*Client]bool)}
}

// Join 绑定连接到其身份的逻辑频道，返回该身份当前的连接数。
func (h *Hub) Join(c *Client) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	set := h.clients[c.userID]
	if set == nil {
		set = make(map[*Client]bool)
		h.clients[c.userID] = set
	}
	set[c] = true
	return len(set)
}

// Leave 解除绑定，返回该身份剩余的连接数，0 表示最后一个连接已断开。
func (h *Hub) Leave(c *Client) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	set := h.clients[c.userID]
	if set == nil {
		return 0
	}
	delete(set, c)
	if len(set) == 0 {
		delete(h.clients, c.userID)
		return 0
	}
	return len(set)
}

// SendToUser 把负载投递给某个身份的全部连接，返回是否至少投递到一个连接。
// 投递是即发即弃：接收方不在线时只有落库记录，不做重试。
func (h *Hub) SendToUser(userID uint, payload []byte) bool {
	h.mu.RLock()
	conns := make([]*Client, 0, len(h.clients[userID]))
	for c := range h.clients[userID] {
		conns = append(conns, c)
	}
	h.mu.RUnlock()
	delivered := false
	for _, c := range conns {
		if c.enqueue(payload) {
			delivered = true
		}
	}
	return delivered
}

// BroadcastExcept 向除指定身份以外的所有连接投递负载。
func (h *Hub) BroadcastExcept(userID uint, payload []byte) {
	h.mu.RLock()
	conns := make([]*Client, 0)
	for id, set := range h.clients {
		if id == userID {
			continue
		}
		for c := range set {
			conns = append(conns, c)
		}
	}
	h.mu.RUnlock()
	for _, c := range conns {
		c.enqueue(payload)
	}
}

// IsConnected 返回该身份当前是否有活跃连接（运行时在线，区别于存储里的在线标记）。
func (h *Hub) IsConnected(userID uint) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID]) > 0
}

// Online 返回当前连接的身份数量，供指标上报。
func (h *Hub) Online() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// PresenceBroadcaster 定义在线状态事件如何扩散。当前实现向全部其他连接广播，
// 将来要按联系人收敛范围时替换这一个实现即可，网关不用动。
type PresenceBroadcaster interface {
	UserOnline(userID uint)
	UserOffline(userID uint, lastSeen time.Time)
}

type hubPresence struct {
	hub *Hub
}

// NewPresenceBroadcaster 返回基于 Hub 全局广播的实现。
func NewPresenceBroadcaster(h *Hub) PresenceBroadcaster {
	return &hubPresence{hub: h}
}

func (p *hubPresence) UserOnline(userID uint) {
	if b, err := marshalEvent(EventUserOnline, onlineEvent{UserID: userID}); err == nil {
		p.hub.BroadcastExcept(userID, b)
	}
}

func (p *hubPresence) UserOffline(userID uint, lastSeen time.Time) {
	if b, err := marshalEvent(EventUserOffline, offlineEvent{UserID: userID, LastSeen: lastSeen}); err == nil {
		p.hub.BroadcastExcept(userID, b)
	}
}
