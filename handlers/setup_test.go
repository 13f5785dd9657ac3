package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"crowdpoll-backend/database"
	"crowdpoll-backend/models"
)

// SetupTestEnvironment sets up the Gin router and an in-memory SQLite database.
// Each test gets its own named in-memory database to avoid cross-test state.
func SetupTestEnvironment(t *testing.T) (*gin.Engine, *gorm.DB) {
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err, "failed to open in-memory database")

	database.DB = db
	require.NoError(t, database.Migrate(db), "failed to migrate schema")

	t.Cleanup(func() {
		sqlDB, _ := db.DB()
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
	})

	// Same route layout as routes.SetupRouter, without middleware.
	router := gin.New()
	api := router.Group("/api")
	{
		api.GET("/users/:id", ResolveUser)

		polls := api.Group("/polls")
		{
			polls.POST("/create", CreatePoll)
			polls.PUT("/vote", CastVote)
			polls.POST("/option", ProposeOption)
			polls.PUT("/option", SetOptionApproval)
			polls.PUT("/setting", UpdateSetting)
			polls.DELETE("/delete", DeletePolls)
		}
	}

	return router, db
}

// performJSON issues a JSON request against the test router.
func performJSON(router *gin.Engine, method, path string, body gin.H) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)
	return w
}

// createTestUser persists a fresh user and returns its ID.
func createTestUser(t *testing.T, router *gin.Engine) string {
	w := performJSON(router, "GET", "/api/users/new", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var userID string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &userID))
	require.NotEmpty(t, userID)
	return userID
}

// createTestPoll creates a poll owned by ownerID and returns its ID.
func createTestPoll(t *testing.T, router *gin.Engine, ownerID, title string) string {
	w := performJSON(router, "POST", "/api/polls/create", gin.H{
		"title":  title,
		"userId": ownerID,
	})
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		PollID string `json:"pollId"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.PollID)
	return resp.PollID
}

// addTestOption proposes an option through the API and returns its ID.
func addTestOption(t *testing.T, router *gin.Engine, pollID, userID, title string) string {
	w := performJSON(router, "POST", "/api/polls/option", gin.H{
		"pollId": pollID,
		"title":  title,
		"userId": userID,
	})
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		OptionID string `json:"optionId"`
		Approved bool   `json:"approved"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.OptionID)
	return resp.OptionID
}

// countVotes returns the number of persisted votes for a poll.
func countVotes(t *testing.T, db *gorm.DB, pollID string) int64 {
	var count int64
	require.NoError(t, db.Model(&models.Vote{}).Where("poll_id = ?", pollID).Count(&count).Error)
	return count
}
