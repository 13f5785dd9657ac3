package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"crowdpoll-backend/models"
)

func TestResolveUser(t *testing.T) {
	router, _ := SetupTestEnvironment(t)

	// Unknown ID mints a fresh identity.
	userID := createTestUser(t, router)

	// A valid ID is returned unchanged.
	w := performJSON(router, "GET", "/api/users/"+userID, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	var echoed string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &echoed))
	assert.Equal(t, userID, echoed)

	// Garbage input mints a different identity instead of failing.
	w = performJSON(router, "GET", "/api/users/not-a-real-id", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	var minted string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &minted))
	assert.NotEqual(t, userID, minted)
}

func TestCreatePoll(t *testing.T) {
	router, _ := SetupTestEnvironment(t)
	owner := createTestUser(t, router)

	pollID := createTestPoll(t, router, owner, "Lunch options?")
	assert.NotEmpty(t, pollID)
}

func TestCreatePoll_UnknownUser(t *testing.T) {
	router, _ := SetupTestEnvironment(t)

	w := performJSON(router, "POST", "/api/polls/create", gin.H{
		"title":  "Lunch options?",
		"userId": "ghost-user",
	})
	assert.Equal(t, http.StatusNotFound, w.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, models.ErrMsgInvalidUser, resp["error"])
}

func TestCastVote_ToggleRetracts(t *testing.T) {
	router, db := SetupTestEnvironment(t)
	owner := createTestUser(t, router)
	voter := createTestUser(t, router)
	pollID := createTestPoll(t, router, owner, "Best editor?")
	optionID := addTestOption(t, router, pollID, owner, "vim")

	// First vote lands.
	w := performJSON(router, "PUT", "/api/polls/vote", gin.H{
		"pollId": pollID, "optionId": optionID, "userId": voter,
	})
	require.Equal(t, http.StatusOK, w.Code)

	// Response is the bare updated votedFor string.
	var votedFor string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &votedFor))
	assert.Equal(t, optionID, votedFor)
	assert.EqualValues(t, 1, countVotes(t, db, pollID))

	// Voting the same option again retracts it.
	w = performJSON(router, "PUT", "/api/polls/vote", gin.H{
		"pollId": pollID, "optionId": optionID, "userId": voter,
	})
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &votedFor))
	assert.Empty(t, votedFor)
	assert.EqualValues(t, 0, countVotes(t, db, pollID))
}

func TestCastVote_AlreadyVoted(t *testing.T) {
	router, db := SetupTestEnvironment(t)
	owner := createTestUser(t, router)
	voter := createTestUser(t, router)
	pollID := createTestPoll(t, router, owner, "Best editor?")
	first := addTestOption(t, router, pollID, owner, "vim")
	second := addTestOption(t, router, pollID, owner, "emacs")

	w := performJSON(router, "PUT", "/api/polls/vote", gin.H{
		"pollId": pollID, "optionId": first, "userId": voter,
	})
	require.Equal(t, http.StatusOK, w.Code)

	// Switching options without retracting first is rejected.
	w = performJSON(router, "PUT", "/api/polls/vote", gin.H{
		"pollId": pollID, "optionId": second, "userId": voter,
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "Already Voted", resp["error"])
	assert.EqualValues(t, 1, countVotes(t, db, pollID))
}

func TestCastVote_UnknownPoll(t *testing.T) {
	router, _ := SetupTestEnvironment(t)
	voter := createTestUser(t, router)

	w := performJSON(router, "PUT", "/api/polls/vote", gin.H{
		"pollId": "missing", "optionId": "missing", "userId": voter,
	})
	assert.Equal(t, http.StatusNotFound, w.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, models.ErrMsgInvalidPoll, resp["error"])
}

func TestCastVote_VotingDisabled(t *testing.T) {
	router, _ := SetupTestEnvironment(t)
	owner := createTestUser(t, router)
	voter := createTestUser(t, router)
	pollID := createTestPoll(t, router, owner, "Best editor?")
	optionID := addTestOption(t, router, pollID, owner, "vim")

	w := performJSON(router, "PUT", "/api/polls/setting", gin.H{
		"pollId": pollID, "setting": "disableVoting", "value": true, "userId": owner,
	})
	require.Equal(t, http.StatusOK, w.Code)

	w = performJSON(router, "PUT", "/api/polls/vote", gin.H{
		"pollId": pollID, "optionId": optionID, "userId": voter,
	})
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestProposeOption_ApprovalFlow(t *testing.T) {
	router, _ := SetupTestEnvironment(t)
	owner := createTestUser(t, router)
	guest := createTestUser(t, router)
	pollID := createTestPoll(t, router, owner, "Team outing?")

	// Require approval for proposals from non-owners.
	w := performJSON(router, "PUT", "/api/polls/setting", gin.H{
		"pollId": pollID, "setting": "approvalRequired", "value": true, "userId": owner,
	})
	require.Equal(t, http.StatusOK, w.Code)

	// Owner proposals are live immediately.
	w = performJSON(router, "POST", "/api/polls/option", gin.H{
		"pollId": pollID, "title": "bowling", "userId": owner,
	})
	require.Equal(t, http.StatusOK, w.Code)

	var ownerResp struct {
		OptionID string `json:"optionId"`
		Approved bool   `json:"approved"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &ownerResp))
	assert.True(t, ownerResp.Approved)

	// Guest proposals wait for the owner.
	w = performJSON(router, "POST", "/api/polls/option", gin.H{
		"pollId": pollID, "title": "karaoke", "userId": guest,
	})
	require.Equal(t, http.StatusOK, w.Code)

	var guestResp struct {
		OptionID string `json:"optionId"`
		Approved bool   `json:"approved"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &guestResp))
	assert.False(t, guestResp.Approved)

	// A pending option cannot receive votes.
	w = performJSON(router, "PUT", "/api/polls/vote", gin.H{
		"pollId": pollID, "optionId": guestResp.OptionID, "userId": guest,
	})
	assert.Equal(t, http.StatusNotFound, w.Code)

	// Only the owner may approve.
	w = performJSON(router, "PUT", "/api/polls/option", gin.H{
		"pollId": pollID, "optionId": guestResp.OptionID, "approved": true, "userId": guest,
	})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = performJSON(router, "PUT", "/api/polls/option", gin.H{
		"pollId": pollID, "optionId": guestResp.OptionID, "approved": true, "userId": owner,
	})
	require.Equal(t, http.StatusOK, w.Code)

	// Approving twice is idempotent.
	w = performJSON(router, "PUT", "/api/polls/option", gin.H{
		"pollId": pollID, "optionId": guestResp.OptionID, "approved": true, "userId": owner,
	})
	assert.Equal(t, http.StatusOK, w.Code)

	// Approved options accept votes.
	w = performJSON(router, "PUT", "/api/polls/vote", gin.H{
		"pollId": pollID, "optionId": guestResp.OptionID, "userId": guest,
	})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestSetOptionApproval_RejectionIsTerminal(t *testing.T) {
	router, db := SetupTestEnvironment(t)
	owner := createTestUser(t, router)
	voter := createTestUser(t, router)
	pollID := createTestPoll(t, router, owner, "Team outing?")
	optionID := addTestOption(t, router, pollID, owner, "bowling")

	// Collect a vote before the option is rejected.
	w := performJSON(router, "PUT", "/api/polls/vote", gin.H{
		"pollId": pollID, "optionId": optionID, "userId": voter,
	})
	require.Equal(t, http.StatusOK, w.Code)
	require.EqualValues(t, 1, countVotes(t, db, pollID))

	w = performJSON(router, "PUT", "/api/polls/option", gin.H{
		"pollId": pollID, "optionId": optionID, "approved": false, "userId": owner,
	})
	require.Equal(t, http.StatusOK, w.Code)

	// Rejection deletes the option's votes.
	assert.EqualValues(t, 0, countVotes(t, db, pollID))

	// A rejected option cannot come back.
	w = performJSON(router, "PUT", "/api/polls/option", gin.H{
		"pollId": pollID, "optionId": optionID, "approved": true, "userId": owner,
	})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestUpdateSetting_OwnerOnly(t *testing.T) {
	router, _ := SetupTestEnvironment(t)
	owner := createTestUser(t, router)
	guest := createTestUser(t, router)
	pollID := createTestPoll(t, router, owner, "Team outing?")

	w := performJSON(router, "PUT", "/api/polls/setting", gin.H{
		"pollId": pollID, "setting": "hideVotes", "value": true, "userId": guest,
	})
	assert.Equal(t, http.StatusForbidden, w.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, models.ErrMsgPermissionDenied, resp["error"])

	w = performJSON(router, "PUT", "/api/polls/setting", gin.H{
		"pollId": pollID, "setting": "hideVotes", "value": true, "userId": owner,
	})
	assert.Equal(t, http.StatusOK, w.Code)

	// Unknown setting names are rejected.
	w = performJSON(router, "PUT", "/api/polls/setting", gin.H{
		"pollId": pollID, "setting": "allowDogs", "value": true, "userId": owner,
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDeletePolls_SkipsForeignPolls(t *testing.T) {
	router, db := SetupTestEnvironment(t)
	owner := createTestUser(t, router)
	other := createTestUser(t, router)

	mine := createTestPoll(t, router, owner, "Mine")
	alsoMine := createTestPoll(t, router, owner, "Also mine")
	theirs := createTestPoll(t, router, other, "Theirs")

	// Batch contains a poll the requester does not own plus an unknown ID.
	w := performJSON(router, "DELETE", "/api/polls/delete", gin.H{
		"pollIds": mine + "." + theirs + "." + alsoMine + ".does-not-exist",
		"userId":  owner,
	})
	require.Equal(t, http.StatusOK, w.Code, "unexpected status: %s", w.Body.String())

	var resp struct {
		Deleted int `json:"deleted"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Deleted)

	var remaining int64
	require.NoError(t, db.Model(&models.Poll{}).Count(&remaining).Error)
	assert.EqualValues(t, 1, remaining)
}

func TestDeletePolls_PartialFailureStillClosesConnections(t *testing.T) {
	router, db := SetupTestEnvironment(t)
	owner := createTestUser(t, router)

	removed := createTestPoll(t, router, owner, "Goes away")
	doomed := createTestPoll(t, router, owner, "Fails mid-batch")

	// Fail the batch when it reaches the second poll.
	// Statement.Vars is only populated once gorm:delete builds the SQL,
	// so the probe must run after it; the added error still rolls back
	// the poll's transaction.
	require.NoError(t, db.Callback().Delete().After("gorm:delete").
		Register("fail_marked_poll", func(tx *gorm.DB) {
			for _, v := range tx.Statement.Vars {
				if s, ok := v.(string); ok && s == doomed {
					tx.AddError(errors.New("simulated storage failure"))
				}
			}
		}))

	// A viewer holds a live channel on the poll that does get removed.
	viewer := newTestClient(GlobalHub, removed, "viewer", 8)
	GlobalHub.register <- viewer

	w := performJSON(router, "DELETE", "/api/polls/delete", gin.H{
		"pollIds": removed + "." + doomed,
		"userId":  owner,
	})
	assert.Equal(t, http.StatusInternalServerError, w.Code)

	// The first poll is gone, so its connection must still be notified
	// and closed despite the batch error.
	deadline := time.After(2 * time.Second)
	gotNotice := false
	for !gotNotice {
		select {
		case data, open := <-viewer.send:
			if !open {
				t.Fatal("channel closed before the deleted notice arrived")
			}
			var notice map[string]string
			if json.Unmarshal(data, &notice) == nil && notice["error"] == models.ErrMsgPollDeleted {
				gotNotice = true
			}
		case <-deadline:
			t.Fatal("no deleted notice received")
		}
	}

	_, open := <-viewer.send
	assert.False(t, open)

	var count int64
	require.NoError(t, db.Model(&models.Poll{}).Where("id = ?", removed).Count(&count).Error)
	assert.Zero(t, count)
}
