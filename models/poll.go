package models

import (
	"time"
)

// ApprovalState 选项审批状态
type ApprovalState string

const (
	OptionPending  ApprovalState = "PENDING"  // 等待所有者审批
	OptionApproved ApprovalState = "APPROVED" // 已批准，可以投票
	OptionRejected ApprovalState = "REJECTED" // 已拒绝，终态，任何快照都不可见
)

// Poll 投票活动模型，所有者在创建后不可变更
type Poll struct {
	ID        string   `gorm:"primaryKey;size:36" json:"pollId"`
	Title     string   `gorm:"not null" json:"title"`
	OwnerID   string   `gorm:"not null;index;size:36" json:"ownerId"`
	Options   []Option `gorm:"foreignKey:PollID" json:"options"`
	Settings  Settings `gorm:"embedded" json:"settings"`
	CreatedAt time.Time `json:"createdAt"`
}

// Settings 投票活动设置，只有所有者可以修改
type Settings struct {
	// 隐藏票数：所有查看者（包括所有者）都看不到具体票数
	HideVotes bool `gorm:"default:false" json:"hideVotes"`
	// 需要审批：新提议的选项进入PENDING状态，等待所有者批准
	ApprovalRequired bool `gorm:"default:false" json:"approvalRequired"`
	// 禁止投票：暂停添加和撤销投票
	DisableVoting bool `gorm:"default:false" json:"disableVoting"`
}

// ValidSetting 检查设置名是否合法
func ValidSetting(name string) bool {
	switch name {
	case "hideVotes", "approvalRequired", "disableVoting":
		return true
	}
	return false
}

// Option 投票选项模型，带审批生命周期
type Option struct {
	ID         string        `gorm:"primaryKey;size:36" json:"optionId"`
	PollID     string        `gorm:"not null;index;size:36" json:"pollId"`
	Title      string        `gorm:"not null" json:"optionTitle"`
	Approval   ApprovalState `gorm:"not null;default:PENDING" json:"approval"`
	ProposerID string        `gorm:"not null;size:36" json:"proposerId"`
	Votes      []Vote        `gorm:"foreignKey:OptionID" json:"-"`
	CreatedAt  time.Time     `json:"createdAt"`
}

// Vote 投票记录：每个(poll, user)对最多持有一票
type Vote struct {
	ID        uint   `gorm:"primaryKey" json:"-"`
	PollID    string `gorm:"not null;index;uniqueIndex:idx_poll_user;size:36" json:"pollId"`
	OptionID  string `gorm:"not null;index;size:36" json:"optionId"`
	UserID    string `gorm:"not null;uniqueIndex:idx_poll_user;size:36" json:"userId"`
	CreatedAt time.Time `json:"createdAt"`
}

// User 用户模型，只有一个不透明标识符，由身份解析端点签发
type User struct {
	ID        string    `gorm:"primaryKey;size:36" json:"userId"`
	CreatedAt time.Time `json:"createdAt"`
}
