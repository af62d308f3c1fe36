package ws

import (
	"encoding/json"
	"time"
)

// 与客户端约定的双向事件名，负载统一包在 {"event": ..., "data": ...} 信封里。
const (
	EventMessageSend    = "message:send"
	EventMessageReceive = "message:receive"
	EventMessageSent    = "message:sent"
	EventTypingStart    = "typing:start"
	EventTypingStop     = "typing:stop"
	EventUserOnline     = "user:online"
	EventUserOffline    = "user:offline"
	EventError          = "error"
)

// Envelope 是入站事件的外层结构，Data 延迟到分发时再解析。
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func marshalEvent(event string, data interface{}) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: event, Data: raw})
}

type sendMessageData struct {
	ReceiverID uint   `json:"receiverId"`
	Content    string `json:"content"`
}

type typingData struct {
	ReceiverID uint `json:"receiverId"`
}

type typingEvent struct {
	UserID uint `json:"userId"`
}

type onlineEvent struct {
	UserID uint `json:"userId"`
}

type offlineEvent struct {
	UserID   uint      `json:"userId"`
	LastSeen time.Time `json:"lastSeen"`
}

type errorEvent struct {
	Message string `json:"message"`
}
