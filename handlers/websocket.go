package handlers

import (
	"log"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"crowdpoll-backend/models"
	"crowdpoll-backend/store"
)

const (
	// 读超时需覆盖活性窗口，留出网络抖动余量
	readWait     = evictTimeout + 5*time.Second
	writeWait    = 10 * time.Second
	pingPeriod   = 30 * time.Second
	maxFrameSize = 512
)

// Client 一条WebSocket连接及其观察者身份。
// pollID和userID在连接建立时确定，之后不可变更
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	pollID string
	userID string

	// 最近一次收到应用层ping的时间，UnixNano
	lastPing atomic.Int64
}

// touchPing 记录收到ping的时间
func (c *Client) touchPing() {
	c.lastPing.Store(time.Now().UnixNano())
}

// lastPingTime 最近一次ping时间
func (c *Client) lastPingTime() time.Time {
	return time.Unix(0, c.lastPing.Load())
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// 允许所有CORS请求，生产环境应限制
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// HandlePollSocket 处理投票实时通道的建立。
// 身份校验失败时先升级连接，下发错误帧后再关闭，
// 前端依赖错误帧内容做页面跳转
func HandlePollSocket(c *gin.Context) {
	pollID := c.Query("poll")
	userID := c.Query("user")

	if GlobalHub.atCapacity() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "服务器连接已达上限，请稍后重试"})
		return
	}

	if !allowSocketAdmission(c) {
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "连接请求过于频繁，请稍后重试"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("升级WebSocket连接失败: %v", err)
		return
	}

	// 布隆过滤器先行排除明显不存在的投票ID，避免无谓的查库
	if !store.PollExists(pollID) {
		rejectSocket(conn, models.ErrMsgInvalidPoll)
		return
	}

	poll, err := store.GetPoll(pollID)
	if err != nil {
		rejectSocket(conn, models.ErrMsgInvalidPoll)
		return
	}

	if !store.UserExists(userID) {
		rejectSocket(conn, models.ErrMsgInvalidUser)
		return
	}

	client := &Client{
		hub:    GlobalHub,
		conn:   conn,
		send:   make(chan []byte, 256),
		pollID: pollID,
		userID: userID,
	}
	client.touchPing()

	// 初始快照先入发送队列再注册：注册后通道的所有权归Hub，
	// 此时投票被删除会关闭通道，再写入就会panic
	if data, err := models.BuildSnapshot(poll, userID).ToJSON(); err == nil {
		client.send <- data
	}

	client.hub.register <- client

	go client.writePump()
	go client.readPump()
}

// rejectSocket 下发错误帧后关闭连接
func rejectSocket(conn *websocket.Conn, msg string) {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	conn.WriteMessage(websocket.TextMessage, models.NewErrorMessage(msg))
	conn.Close()
}

// readPump 客户端读取循环，处理应用层ping
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxFrameSize)
	c.conn.SetReadDeadline(time.Now().Add(readWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(readWait))
		return nil
	})

	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket读取错误 [Poll: %s]: %v", c.pollID, err)
			}
			break
		}

		c.conn.SetReadDeadline(time.Now().Add(readWait))

		if messageType != websocket.TextMessage {
			continue
		}

		var msg models.ClientMessage
		if err := msg.Parse(message); err != nil {
			continue
		}
		if msg.IsPing() {
			c.touchPing()
		}
	}
}

// writePump 客户端写入循环
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub已注销该客户端
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			// 客户端按消息逐条JSON.parse，每条消息必须独占一帧
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

			// 排空队列中积压的消息，同样逐帧发送
			n := len(c.send)
			for i := 0; i < n; i++ {
				if err := c.conn.WriteMessage(websocket.TextMessage, <-c.send); err != nil {
					return
				}
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
