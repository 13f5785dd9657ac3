package store

import "errors"

// 错误分类，处理程序据此映射到HTTP状态码和活动通道错误字符串
var (
	// ErrInvalidPoll 投票ID未知或已删除
	ErrInvalidPoll = errors.New("投票不存在")

	// ErrInvalidUser 用户标识符无法解析，客户端应重新获取身份
	ErrInvalidUser = errors.New("用户标识无效")

	// ErrPermissionDenied 非所有者尝试执行所有者专属操作
	ErrPermissionDenied = errors.New("没有操作权限")

	// ErrAlreadyVoted 用户在该投票中已持有另一个选项的票，需要先撤销
	ErrAlreadyVoted = errors.New("已经投过票")

	// ErrInvalidOption 选项不存在、不属于该投票或不可投票（PENDING/REJECTED）
	ErrInvalidOption = errors.New("选项无效")

	// ErrVotingDisabled 所有者暂停了投票
	ErrVotingDisabled = errors.New("投票功能已被暂停")
)
