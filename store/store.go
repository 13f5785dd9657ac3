package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"crowdpoll-backend/cache"
	"crowdpoll-backend/database"
	"crowdpoll-backend/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ResolveUser 解析客户端提供的用户标识：有效则原样返回，
// 无效或缺失则铸造一个新标识并持久化
func ResolveUser(userID string) (string, error) {
	if userID != "" {
		var user models.User
		err := database.DB.First(&user, "id = ?", userID).Error
		if err == nil {
			return user.ID, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return "", fmt.Errorf("查询用户失败: %w", err)
		}
	}

	user := models.User{ID: uuid.NewString()}
	if err := database.DB.Create(&user).Error; err != nil {
		return "", fmt.Errorf("创建用户失败: %w", err)
	}

	log.Printf("铸造新用户标识: %s", user.ID)
	return user.ID, nil
}

// UserExists 检查用户标识是否已签发
func UserExists(userID string) bool {
	if userID == "" {
		return false
	}
	var count int64
	database.DB.Model(&models.User{}).Where("id = ?", userID).Count(&count)
	return count > 0
}

// CreatePoll 创建新投票，返回投票ID
func CreatePoll(title string, ownerID string) (string, error) {
	if !UserExists(ownerID) {
		return "", ErrInvalidUser
	}

	poll := models.Poll{
		ID:      uuid.NewString(),
		Title:   title,
		OwnerID: ownerID,
	}

	if err := database.DB.Create(&poll).Error; err != nil {
		return "", fmt.Errorf("创建投票失败: %w", err)
	}

	// 新投票ID加入布隆过滤器，加速后续存在性检查
	cache.AddPollToBloomFilter(poll.ID)

	log.Printf("投票创建成功: ID=%s, 所有者=%s", poll.ID, ownerID)
	return poll.ID, nil
}

// cachedPollState 缓存用的投票状态。选项上的票在JSON中不随选项序列化，
// 此处展平保存，读取时再挂回各选项
type cachedPollState struct {
	Poll  models.Poll   `json:"poll"`
	Votes []models.Vote `json:"votes"`
}

// GetPoll 获取投票及其全部选项和投票记录，优先读缓存
func GetPoll(pollID string) (*models.Poll, error) {
	if pollID == "" {
		return nil, ErrInvalidPoll
	}

	if data, err := cache.GetCachedPollState(pollID); err == nil {
		var state cachedPollState
		if json.Unmarshal(data, &state) == nil {
			attachVotes(&state.Poll, state.Votes)
			return &state.Poll, nil
		}
	}

	var poll models.Poll
	err := database.DB.Preload("Options", func(db *gorm.DB) *gorm.DB {
		return db.Order("options.created_at")
	}).Preload("Options.Votes").First(&poll, "id = ?", pollID).Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidPoll
		}
		return nil, fmt.Errorf("获取投票失败: %w", err)
	}

	state := cachedPollState{Poll: poll}
	for _, option := range poll.Options {
		state.Votes = append(state.Votes, option.Votes...)
	}
	if data, err := json.Marshal(&state); err == nil {
		cache.CachePollState(pollID, data)
	}

	return &poll, nil
}

// attachVotes 把展平的票重新挂到对应选项上
func attachVotes(poll *models.Poll, votes []models.Vote) {
	byOption := make(map[string][]models.Vote, len(poll.Options))
	for _, vote := range votes {
		byOption[vote.OptionID] = append(byOption[vote.OptionID], vote)
	}
	for i := range poll.Options {
		poll.Options[i].Votes = byOption[poll.Options[i].ID]
	}
}

// PollExists 检查投票是否存在，先查布隆过滤器再查数据库
func PollExists(pollID string) bool {
	if pollID == "" {
		return false
	}

	// 布隆过滤器说不存在就一定不存在
	if !cache.PollMayExist(pollID) {
		return false
	}

	var count int64
	database.DB.Model(&models.Poll{}).Where("id = ?", pollID).Count(&count)
	return count > 0
}

// DeletePolls 批量删除投票，只删除请求者拥有的；
// 批次中不属于请求者的ID静默跳过，不算错误。返回实际删除的投票ID。
func DeletePolls(pollIDs []string, requesterID string) ([]string, error) {
	deleted := make([]string, 0, len(pollIDs))

	for _, pollID := range pollIDs {
		if pollID == "" {
			continue
		}

		err := WithPollLock(pollID, func() error {
			return database.DB.Transaction(func(tx *gorm.DB) error {
				var poll models.Poll
				if err := tx.First(&poll, "id = ?", pollID).Error; err != nil {
					if errors.Is(err, gorm.ErrRecordNotFound) {
						return nil // 不存在，跳过
					}
					return err
				}

				// 非所有者的投票静默跳过
				if poll.OwnerID != requesterID {
					return nil
				}

				// 级联删除：先票，再选项，最后投票本身
				if err := tx.Where("poll_id = ?", pollID).Delete(&models.Vote{}).Error; err != nil {
					return err
				}
				if err := tx.Where("poll_id = ?", pollID).Delete(&models.Option{}).Error; err != nil {
					return err
				}
				if err := tx.Delete(&models.Poll{}, "id = ?", pollID).Error; err != nil {
					return err
				}

				deleted = append(deleted, pollID)
				return nil
			})
		})

		if err != nil {
			return deleted, fmt.Errorf("删除投票 %s 失败: %w", pollID, err)
		}

		cache.InvalidatePoll(pollID)
	}

	log.Printf("批量删除完成: 请求者=%s, 请求数=%d, 删除数=%d", requesterID, len(pollIDs), len(deleted))
	return deleted, nil
}

// ProposeOption 提议新的答案选项。开启审批时新选项进入PENDING状态
// 等待所有者批准；所有者本人的提议总是直接批准。
func ProposeOption(pollID string, title string, proposerID string) (*models.Option, error) {
	var option *models.Option

	err := WithPollLock(pollID, func() error {
		return database.DB.Transaction(func(tx *gorm.DB) error {
			var poll models.Poll
			if err := tx.First(&poll, "id = ?", pollID).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return ErrInvalidPoll
				}
				return err
			}

			if !UserExists(proposerID) {
				return ErrInvalidUser
			}

			approval := models.OptionApproved
			if poll.Settings.ApprovalRequired && proposerID != poll.OwnerID {
				approval = models.OptionPending
			}

			option = &models.Option{
				ID:         uuid.NewString(),
				PollID:     pollID,
				Title:      title,
				Approval:   approval,
				ProposerID: proposerID,
			}

			return tx.Create(option).Error
		})
	})

	if err != nil {
		return nil, err
	}

	cache.InvalidatePoll(pollID)
	return option, nil
}

// SetOptionApproval 批准或拒绝待审批选项，仅所有者可调用。
// 重复设置同一状态是幂等的；REJECTED是终态，不可再批准。
func SetOptionApproval(pollID string, optionID string, approved bool, requesterID string) error {
	err := WithPollLock(pollID, func() error {
		return database.DB.Transaction(func(tx *gorm.DB) error {
			var poll models.Poll
			if err := tx.First(&poll, "id = ?", pollID).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return ErrInvalidPoll
				}
				return err
			}

			if !UserExists(requesterID) {
				return ErrInvalidUser
			}
			if poll.OwnerID != requesterID {
				return ErrPermissionDenied
			}

			var option models.Option
			if err := tx.First(&option, "id = ? AND poll_id = ?", optionID, pollID).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return ErrInvalidOption
				}
				return err
			}

			target := models.OptionRejected
			if approved {
				target = models.OptionApproved
			}

			// 幂等：状态已一致则无事发生
			if option.Approval == target {
				return nil
			}

			// REJECTED为终态
			if option.Approval == models.OptionRejected {
				return ErrInvalidOption
			}

			if err := tx.Model(&option).Update("approval", target).Error; err != nil {
				return err
			}

			// 拒绝已批准的选项时连同其票一起清掉
			if target == models.OptionRejected {
				if err := tx.Where("option_id = ?", optionID).Delete(&models.Vote{}).Error; err != nil {
					return err
				}
			}

			return nil
		})
	})

	if err != nil {
		return err
	}

	cache.InvalidatePoll(pollID)
	return nil
}

// CastVote 投票或撤票。同一用户在同一投票中最多持有一票：
//   - 再次选择已投的选项 => 撤票（幂等开关）
//   - 已持有其他选项的票 => ErrAlreadyVoted，需要先撤销
//
// 返回变更后该用户所投的选项ID，撤票后为空字符串。
func CastVote(pollID string, optionID string, userID string) (string, error) {
	votedFor := ""

	err := WithPollLock(pollID, func() error {
		return database.DB.Transaction(func(tx *gorm.DB) error {
			var poll models.Poll
			if err := tx.First(&poll, "id = ?", pollID).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return ErrInvalidPoll
				}
				return err
			}

			if !UserExists(userID) {
				return ErrInvalidUser
			}

			if poll.Settings.DisableVoting {
				return ErrVotingDisabled
			}

			// 目标选项必须存在且已批准，PENDING/REJECTED不可投
			var option models.Option
			if err := tx.First(&option, "id = ? AND poll_id = ?", optionID, pollID).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return ErrInvalidOption
				}
				return err
			}
			if option.Approval != models.OptionApproved {
				return ErrInvalidOption
			}

			var existing models.Vote
			err := tx.First(&existing, "poll_id = ? AND user_id = ?", pollID, userID).Error
			switch {
			case err == nil && existing.OptionID == optionID:
				// 重复选择同一选项 => 撤票
				if err := tx.Delete(&existing).Error; err != nil {
					return err
				}
				votedFor = ""
				return nil

			case err == nil:
				// 已持有其他选项的票
				return ErrAlreadyVoted

			case errors.Is(err, gorm.ErrRecordNotFound):
				vote := models.Vote{
					PollID:   pollID,
					OptionID: optionID,
					UserID:   userID,
				}
				if err := tx.Create(&vote).Error; err != nil {
					return err
				}
				votedFor = optionID
				return nil

			default:
				return err
			}
		})
	})

	if err != nil {
		return "", err
	}

	cache.InvalidatePoll(pollID)
	return votedFor, nil
}

// UpdateSetting 修改投票设置，仅所有者可调用
func UpdateSetting(pollID string, setting string, value bool, requesterID string) error {
	if !models.ValidSetting(setting) {
		return fmt.Errorf("未知的设置项: %s", setting)
	}

	err := WithPollLock(pollID, func() error {
		return database.DB.Transaction(func(tx *gorm.DB) error {
			var poll models.Poll
			if err := tx.First(&poll, "id = ?", pollID).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return ErrInvalidPoll
				}
				return err
			}

			if !UserExists(requesterID) {
				return ErrInvalidUser
			}
			if poll.OwnerID != requesterID {
				return ErrPermissionDenied
			}

			switch setting {
			case "hideVotes":
				poll.Settings.HideVotes = value
			case "approvalRequired":
				poll.Settings.ApprovalRequired = value
			case "disableVoting":
				poll.Settings.DisableVoting = value
			}

			return tx.Model(&models.Poll{}).Where("id = ?", pollID).Updates(map[string]interface{}{
				"hide_votes":        poll.Settings.HideVotes,
				"approval_required": poll.Settings.ApprovalRequired,
				"disable_voting":    poll.Settings.DisableVoting,
			}).Error
		})
	})

	if err != nil {
		return err
	}

	cache.InvalidatePoll(pollID)
	return nil
}
