package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func buildFixturePoll() *Poll {
	return &Poll{
		ID:      "poll-1",
		Title:   "Team outing?",
		OwnerID: "owner",
		Options: []Option{
			{
				ID:         "opt-live",
				PollID:     "poll-1",
				Title:      "bowling",
				Approval:   OptionApproved,
				ProposerID: "owner",
				Votes: []Vote{
					{PollID: "poll-1", OptionID: "opt-live", UserID: "alice"},
					{PollID: "poll-1", OptionID: "opt-live", UserID: "bob"},
				},
			},
			{
				ID:         "opt-pending",
				PollID:     "poll-1",
				Title:      "karaoke",
				Approval:   OptionPending,
				ProposerID: "alice",
			},
			{
				ID:         "opt-rejected",
				PollID:     "poll-1",
				Title:      "opera",
				Approval:   OptionRejected,
				ProposerID: "bob",
			},
		},
	}
}

func optionIDs(s *PollSnapshot) []string {
	ids := make([]string, 0, len(s.Options))
	for _, opt := range s.Options {
		ids = append(ids, opt.OptionID)
	}
	return ids
}

func TestBuildSnapshot_PendingVisibility(t *testing.T) {
	poll := buildFixturePoll()

	// The owner sees pending options.
	owner := BuildSnapshot(poll, "owner")
	assert.True(t, owner.Owner)
	assert.ElementsMatch(t, []string{"opt-live", "opt-pending"}, optionIDs(owner))

	// The proposer sees their own pending option.
	proposer := BuildSnapshot(poll, "alice")
	assert.False(t, proposer.Owner)
	assert.ElementsMatch(t, []string{"opt-live", "opt-pending"}, optionIDs(proposer))

	// Everyone else sees only live options.
	stranger := BuildSnapshot(poll, "carol")
	assert.ElementsMatch(t, []string{"opt-live"}, optionIDs(stranger))
}

func TestBuildSnapshot_RejectedNeverVisible(t *testing.T) {
	poll := buildFixturePoll()

	for _, viewer := range []string{"owner", "alice", "bob", "carol"} {
		snap := BuildSnapshot(poll, viewer)
		assert.NotContains(t, optionIDs(snap), "opt-rejected", "viewer %s", viewer)
	}
}

func TestBuildSnapshot_VoteCounts(t *testing.T) {
	poll := buildFixturePoll()

	snap := BuildSnapshot(poll, "carol")
	assert.EqualValues(t, 2, snap.Options[0].Votes)

	// Hidden counts apply to every viewer, the owner included.
	poll.Settings.HideVotes = true
	for _, viewer := range []string{"owner", "alice", "carol"} {
		snap := BuildSnapshot(poll, viewer)
		assert.Equal(t, HiddenVotes, snap.Options[0].Votes, "viewer %s", viewer)
	}
}

func TestBuildSnapshot_VotedFor(t *testing.T) {
	poll := buildFixturePoll()

	assert.Equal(t, "opt-live", BuildSnapshot(poll, "alice").VotedFor)
	assert.Empty(t, BuildSnapshot(poll, "carol").VotedFor)

	// votedFor still resolves while counts are hidden.
	poll.Settings.HideVotes = true
	assert.Equal(t, "opt-live", BuildSnapshot(poll, "bob").VotedFor)
}

func TestBuildSnapshot_MarksUpdate(t *testing.T) {
	snap := BuildSnapshot(buildFixturePoll(), "carol")
	assert.True(t, snap.Update)
	assert.Equal(t, "poll-1", snap.PollID)
	assert.Equal(t, "Team outing?", snap.Title)
}
