package handlers

import (
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"crowdpoll-backend/models"
	"crowdpoll-backend/mq"
	"crowdpoll-backend/store"
)

// 事件队列，由main注入。未注入时直接驱动本地Hub
var eventQueue *mq.MQAdapter

// SetEventQueue 注入事件队列适配器
func SetEventQueue(q *mq.MQAdapter) {
	eventQueue = q
}

// publishPollEvent 变更提交后发布事件，失败时降级为本地直发
func publishPollEvent(pollID string, kind string) {
	if eventQueue != nil {
		err := eventQueue.Publish(pollID, kind)
		if err == nil {
			return
		}
		log.Printf("发布事件失败 [Poll: %s, Kind: %s]: %v，降级为本地广播", pollID, kind, err)
	}
	HandlePollEvent(pollID, kind)
}

// respondStoreError 把存储层错误映射为HTTP响应
func respondStoreError(c *gin.Context, err error) {
	switch err {
	case store.ErrInvalidPoll:
		c.JSON(http.StatusNotFound, gin.H{"error": models.ErrMsgInvalidPoll})
	case store.ErrInvalidUser:
		c.JSON(http.StatusNotFound, gin.H{"error": models.ErrMsgInvalidUser})
	case store.ErrInvalidOption:
		c.JSON(http.StatusNotFound, gin.H{"error": "Invalid Option ID"})
	case store.ErrPermissionDenied:
		c.JSON(http.StatusForbidden, gin.H{"error": models.ErrMsgPermissionDenied})
	case store.ErrAlreadyVoted:
		c.JSON(http.StatusBadRequest, gin.H{"error": "Already Voted"})
	case store.ErrVotingDisabled:
		c.JSON(http.StatusForbidden, gin.H{"error": "Voting Disabled"})
	default:
		log.Printf("处理请求时发生内部错误: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal Server Error"})
	}
}

// CreatePollRequest 创建投票请求
type CreatePollRequest struct {
	Title  string `json:"title" binding:"required"`
	UserID string `json:"userId" binding:"required"`
}

// CreatePoll 创建新投票，请求者成为所有者
func CreatePoll(c *gin.Context) {
	var req CreatePollRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的请求参数"})
		return
	}

	pollID, err := store.CreatePoll(req.Title, req.UserID)
	if err != nil {
		respondStoreError(c, err)
		return
	}

	log.Printf("创建投票成功 [Poll: %s, Owner: %s]", pollID, req.UserID)
	c.JSON(http.StatusOK, gin.H{"pollId": pollID})
}

// VoteRequest 投票请求
type VoteRequest struct {
	PollID   string `json:"pollId" binding:"required"`
	OptionID string `json:"optionId" binding:"required"`
	UserID   string `json:"userId" binding:"required"`
}

// CastVote 对选项投票。重复投同一选项视为撤回
func CastVote(c *gin.Context) {
	var req VoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的请求参数"})
		return
	}

	votedFor, err := store.CastVote(req.PollID, req.OptionID, req.UserID)
	if err != nil {
		respondStoreError(c, err)
		return
	}

	publishPollEvent(req.PollID, mq.EventPollUpdated)
	// 前端直接用响应体更新votedFor，返回裸字符串
	c.JSON(http.StatusOK, votedFor)
}

// ProposeOptionRequest 提议新选项请求
type ProposeOptionRequest struct {
	PollID string `json:"pollId" binding:"required"`
	Title  string `json:"title" binding:"required"`
	UserID string `json:"userId" binding:"required"`
}

// ProposeOption 提议新选项。所有者的提议直接生效，
// 关闭审批开关时其他人的提议也直接生效
func ProposeOption(c *gin.Context) {
	var req ProposeOptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的请求参数"})
		return
	}

	option, err := store.ProposeOption(req.PollID, req.Title, req.UserID)
	if err != nil {
		respondStoreError(c, err)
		return
	}

	publishPollEvent(req.PollID, mq.EventPollUpdated)
	c.JSON(http.StatusOK, gin.H{
		"optionId": option.ID,
		"approved": option.Approval == models.OptionApproved,
	})
}

// ApproveOptionRequest 审批选项请求
type ApproveOptionRequest struct {
	PollID   string `json:"pollId" binding:"required"`
	OptionID string `json:"optionId" binding:"required"`
	UserID   string `json:"userId" binding:"required"`
	Approved *bool  `json:"approved" binding:"required"`
}

// SetOptionApproval 所有者审批待定选项，拒绝为终态
func SetOptionApproval(c *gin.Context) {
	var req ApproveOptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的请求参数"})
		return
	}

	if err := store.SetOptionApproval(req.PollID, req.OptionID, *req.Approved, req.UserID); err != nil {
		respondStoreError(c, err)
		return
	}

	publishPollEvent(req.PollID, mq.EventPollUpdated)
	c.JSON(http.StatusOK, gin.H{"message": "ok"})
}

// UpdateSettingRequest 修改投票设置请求
type UpdateSettingRequest struct {
	PollID  string `json:"pollId" binding:"required"`
	Setting string `json:"setting" binding:"required"`
	Value   *bool  `json:"value" binding:"required"`
	UserID  string `json:"userId" binding:"required"`
}

// UpdateSetting 所有者修改投票设置
func UpdateSetting(c *gin.Context) {
	var req UpdateSettingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的请求参数"})
		return
	}

	if !models.ValidSetting(req.Setting) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid Setting"})
		return
	}

	if err := store.UpdateSetting(req.PollID, req.Setting, *req.Value, req.UserID); err != nil {
		respondStoreError(c, err)
		return
	}

	publishPollEvent(req.PollID, mq.EventPollUpdated)
	c.JSON(http.StatusOK, gin.H{"message": "ok"})
}

// DeletePollsRequest 批量删除请求，pollIds为点号连接的ID列表
type DeletePollsRequest struct {
	PollIDs string `json:"pollIds" binding:"required"`
	UserID  string `json:"userId" binding:"required"`
}

// DeletePolls 批量删除投票，列表中不属于请求者的ID静默跳过
func DeletePolls(c *gin.Context) {
	var req DeletePollsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的请求参数"})
		return
	}

	pollIDs := strings.Split(req.PollIDs, ".")

	deleted, err := store.DeletePolls(pollIDs, req.UserID)

	// 只为实际删除的投票发出关闭通知。批次中途失败时已删除的部分
	// 同样要通知，否则其在线连接会一直挂在已删除的投票上
	for _, pollID := range deleted {
		publishPollEvent(pollID, mq.EventPollDeleted)
	}

	if err != nil {
		respondStoreError(c, err)
		return
	}

	log.Printf("批量删除投票完成 [请求: %d, 删除: %d, User: %s]",
		len(pollIDs), len(deleted), req.UserID)
	c.JSON(http.StatusOK, gin.H{"deleted": len(deleted)})
}
