package models

// BuildSnapshot 构建查看者专属的投票快照，纯函数、无副作用，
// 广播时对每个接收者调用一次。
//
// 可见性规则:
//   - PENDING选项只对所有者和提议者本人可见
//   - REJECTED选项对任何人都不可见
//   - 开启HideVotes时，所有查看者（包括所有者）只能看到票数哨兵值
func BuildSnapshot(poll *Poll, viewerID string) *PollSnapshot {
	isOwner := poll.OwnerID == viewerID

	options := make([]OptionView, 0, len(poll.Options))
	votedFor := ""

	for _, opt := range poll.Options {
		switch opt.Approval {
		case OptionRejected:
			continue
		case OptionPending:
			if !isOwner && opt.ProposerID != viewerID {
				continue
			}
		}

		view := OptionView{
			OptionID:    opt.ID,
			OptionTitle: opt.Title,
			Approved:    opt.Approval == OptionApproved,
		}

		if opt.Approval == OptionApproved {
			if poll.Settings.HideVotes {
				view.Votes = HiddenVotes
			} else {
				view.Votes = int64(len(opt.Votes))
			}

			for _, v := range opt.Votes {
				if v.UserID == viewerID {
					votedFor = opt.ID
					break
				}
			}
		}

		options = append(options, view)
	}

	return &PollSnapshot{
		Update:   true,
		PollID:   poll.ID,
		Title:    poll.Title,
		Options:  options,
		Settings: poll.Settings,
		Owner:    isOwner,
		VotedFor: votedFor,
	}
}
