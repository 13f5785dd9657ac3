package models

import "encoding/json"

// 推送给客户端的错误字符串，前端按原文匹配
const (
	ErrMsgInvalidPoll      = "Invalid Poll ID"
	ErrMsgInvalidUser      = "Invalid User ID"
	ErrMsgPermissionDenied = "Permission Denied"
	ErrMsgPollDeleted      = "Poll Deleted"
)

// HiddenVotes 隐藏票数时发送的哨兵值，前端把负数渲染为"Votes Hidden"
const HiddenVotes int64 = -1

// ClientMessage 客户端到服务端的消息，目前只有心跳一种
type ClientMessage struct {
	Type string `json:"type"`
}

// Parse 反序列化客户端消息
func (m *ClientMessage) Parse(data []byte) error {
	return json.Unmarshal(data, m)
}

// IsPing 判断是否为心跳消息
func (m *ClientMessage) IsPing() bool {
	return m.Type == "ping"
}

// ErrorMessage 服务端到客户端的错误消息
type ErrorMessage struct {
	Error string `json:"error"`
}

// NewErrorMessage 构造序列化后的错误消息
func NewErrorMessage(msg string) []byte {
	data, _ := json.Marshal(ErrorMessage{Error: msg})
	return data
}

// OptionView 选项的查看者视图
type OptionView struct {
	OptionID    string `json:"optionId"`
	OptionTitle string `json:"optionTitle"`
	Votes       int64  `json:"votes"`
	Approved    bool   `json:"approved"`
}

// PollSnapshot 投票活动的查看者专属快照，通过活动通道推送
type PollSnapshot struct {
	Update   bool         `json:"update"` // 恒为true，前端以此区分快照和错误
	PollID   string       `json:"pollId"`
	Title    string       `json:"title"`
	Options  []OptionView `json:"options"`
	Settings Settings     `json:"settings"`
	Owner    bool         `json:"owner"`
	VotedFor string       `json:"votedFor"`
}

// ToJSON 序列化快照
func (s *PollSnapshot) ToJSON() ([]byte, error) {
	return json.Marshal(s)
}
