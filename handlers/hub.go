package handlers

import (
	"log"
	"sync"
	"time"

	"crowdpoll-backend/models"
	"crowdpoll-backend/mq"
	"crowdpoll-backend/store"
)

// 连接活性相关常量。前端每5秒发送一次应用层ping，
// 超过3个周期未收到则判定连接失活
const (
	clientPingInterval = 5 * time.Second
	evictTimeout       = 3 * clientPingInterval
	evictSweepInterval = 5 * time.Second
)

// pollBroadcast 一次广播任务，携带已加载的投票完整状态
type pollBroadcast struct {
	poll *models.Poll
}

// Hub 管理全部WebSocket连接，按投票ID分组
type Hub struct {
	// 按投票ID分组的客户端集合
	clients map[string]map[*Client]bool

	register   chan *Client
	unregister chan *Client
	broadcast  chan *pollBroadcast
	closePoll  chan string

	// 保护clients及计数器
	mu sync.RWMutex

	pollConnections  map[string]int
	totalConnections int
	maxConnections   int

	evictTicker *time.Ticker
}

// 全局Hub实例
var (
	GlobalHub *Hub
	hubOnce   sync.Once
)

func init() {
	hubOnce.Do(func() {
		GlobalHub = NewHub()
		go GlobalHub.run()
	})
}

// NewHub 创建连接中心，测试中可独立构造
func NewHub() *Hub {
	return &Hub{
		clients:         make(map[string]map[*Client]bool),
		register:        make(chan *Client),
		unregister:      make(chan *Client),
		broadcast:       make(chan *pollBroadcast, 64),
		closePoll:       make(chan string, 16),
		pollConnections: make(map[string]int),
		maxConnections:  10000,
		evictTicker:     time.NewTicker(evictSweepInterval),
	}
}

// run Hub主循环，串行处理注册、注销、广播和清理
func (h *Hub) run() {
	for {
		select {
		case client := <-h.register:
			h.addClient(client)

		case client := <-h.unregister:
			h.removeClient(client)

		case msg := <-h.broadcast:
			h.fanOut(msg.poll)

		case pollID := <-h.closePoll:
			h.closePollClients(pollID)

		case <-h.evictTicker.C:
			h.evictStale()
		}
	}
}

// addClient 注册新客户端
func (h *Hub) addClient(client *Client) {
	h.mu.Lock()
	if _, ok := h.clients[client.pollID]; !ok {
		h.clients[client.pollID] = make(map[*Client]bool)
	}
	h.clients[client.pollID][client] = true
	h.pollConnections[client.pollID]++
	h.totalConnections++
	connCount := h.pollConnections[client.pollID]
	totalCount := h.totalConnections
	h.mu.Unlock()

	log.Printf("新WebSocket客户端已连接 [Poll: %s, User: %s, 连接数: %d, 总连接: %d]",
		client.pollID, client.userID, connCount, totalCount)
}

// removeClient 注销客户端并关闭其发送通道
func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients, ok := h.clients[client.pollID]
	if !ok {
		return
	}
	if _, ok := clients[client]; !ok {
		return
	}

	delete(clients, client)
	h.pollConnections[client.pollID]--
	h.totalConnections--
	close(client.send)

	log.Printf("WebSocket客户端已断开 [Poll: %s, 连接数: %d]",
		client.pollID, h.pollConnections[client.pollID])

	if len(clients) == 0 {
		delete(h.clients, client.pollID)
		delete(h.pollConnections, client.pollID)
	}
}

// fanOut 为每个客户端构建视角相关的快照并发送。
// 等待审批的选项只对所有者和提议者可见，快照必须逐客户端生成
func (h *Hub) fanOut(poll *models.Poll) {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients := h.clients[poll.ID]
	if len(clients) == 0 {
		return
	}

	successCount := 0
	failureCount := 0

	for client := range clients {
		data, err := models.BuildSnapshot(poll, client.userID).ToJSON()
		if err != nil {
			log.Printf("序列化快照失败 [Poll: %s]: %v", poll.ID, err)
			continue
		}

		select {
		case client.send <- data:
			successCount++
		default:
			// 发送缓冲区已满，判定客户端失活
			failureCount++
			delete(clients, client)
			h.pollConnections[poll.ID]--
			h.totalConnections--
			close(client.send)
		}
	}

	log.Printf("广播快照完成 [Poll: %s, 成功: %d, 失败: %d]",
		poll.ID, successCount, failureCount)

	if len(clients) == 0 {
		delete(h.clients, poll.ID)
		delete(h.pollConnections, poll.ID)
	}
}

// closePollClients 投票删除后通知并强制断开其全部连接
func (h *Hub) closePollClients(pollID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients, ok := h.clients[pollID]
	if !ok {
		return
	}

	notice := models.NewErrorMessage(models.ErrMsgPollDeleted)
	for client := range clients {
		select {
		case client.send <- notice:
		default:
		}
		// 关闭发送通道后writePump会先送完缓冲消息再关闭连接
		close(client.send)
		h.totalConnections--
	}

	log.Printf("投票已删除，强制断开 %d 个连接 [Poll: %s]", len(clients), pollID)

	delete(h.clients, pollID)
	delete(h.pollConnections, pollID)
}

// evictStale 清理超过活性窗口未发送ping的连接
func (h *Hub) evictStale() {
	now := time.Now()

	h.mu.Lock()
	defer h.mu.Unlock()

	for pollID, clients := range h.clients {
		for client := range clients {
			last := client.lastPingTime()
			if now.Sub(last) <= evictTimeout {
				continue
			}

			log.Printf("清理失活WebSocket连接 [Poll: %s, User: %s, 静默: %v]",
				pollID, client.userID, now.Sub(last))
			delete(clients, client)
			h.pollConnections[pollID]--
			h.totalConnections--
			close(client.send)
		}

		if len(clients) == 0 {
			delete(h.clients, pollID)
			delete(h.pollConnections, pollID)
		}
	}
}

// BroadcastPoll 重新加载投票状态并广播给其全部观察者。
// 投票已不存在时转为删除通知
func (h *Hub) BroadcastPoll(pollID string) {
	go func() {
		poll, err := store.GetPoll(pollID)
		if err == store.ErrInvalidPoll {
			h.ClosePollConnections(pollID)
			return
		}
		if err != nil {
			log.Printf("广播前加载投票失败 [Poll: %s]: %v", pollID, err)
			return
		}

		select {
		case h.broadcast <- &pollBroadcast{poll: poll}:
		default:
			log.Printf("广播通道已满，丢弃本次广播 [Poll: %s]", pollID)
		}
	}()
}

// ClosePollConnections 请求关闭某投票的全部连接
func (h *Hub) ClosePollConnections(pollID string) {
	select {
	case h.closePoll <- pollID:
	default:
		log.Printf("关闭通道已满 [Poll: %s]", pollID)
	}
}

// ConnectionStats 连接统计，健康检查接口使用
func (h *Hub) ConnectionStats() (total int, perPoll map[string]int) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	perPoll = make(map[string]int, len(h.pollConnections))
	for pollID, count := range h.pollConnections {
		perPoll[pollID] = count
	}
	return h.totalConnections, perPoll
}

// atCapacity 检查连接总数是否达到上限
func (h *Hub) atCapacity() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.totalConnections >= h.maxConnections
}

// HandlePollEvent 事件队列的消费入口，按事件类型触发广播或关闭
func HandlePollEvent(pollID string, kind string) error {
	switch kind {
	case mq.EventPollDeleted:
		GlobalHub.ClosePollConnections(pollID)
	default:
		GlobalHub.BroadcastPoll(pollID)
	}
	return nil
}
