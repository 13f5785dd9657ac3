package mq

import (
	"fmt"
	"time"
)

// 事件类型常量
const (
	EventPollUpdated = "update"  // 投票状态发生变更，需要重新广播快照
	EventPollDeleted = "deleted" // 投票已删除，需要关闭相关连接
)

// PollEvent 投票变更事件，通过消息队列在实例间同步
type PollEvent struct {
	PollID    string `json:"poll_id"`
	Kind      string `json:"kind"`
	Timestamp int64  `json:"timestamp"`
	MessageID string `json:"message_id"` // 用于幂等性处理
}

// EventHandler 事件处理函数，由连接注册中心注册
type EventHandler func(pollID string, kind string) error

// NewPollEvent 构造带唯一消息ID的事件
func NewPollEvent(pollID string, kind string) PollEvent {
	now := time.Now()
	return PollEvent{
		PollID:    pollID,
		Kind:      kind,
		Timestamp: now.Unix(),
		MessageID: fmt.Sprintf("%s_%s_%d", pollID, kind, now.UnixNano()),
	}
}
