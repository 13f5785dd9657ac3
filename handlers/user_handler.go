package handlers

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"crowdpoll-backend/store"
)

// ResolveUser 解析访客身份。提供的ID有效则原样返回，
// 否则铸造新身份。响应为裸JSON字符串，前端存入localStorage
func ResolveUser(c *gin.Context) {
	userID, err := store.ResolveUser(c.Param("id"))
	if err != nil {
		log.Printf("解析用户身份失败: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal Server Error"})
		return
	}

	c.JSON(http.StatusOK, userID)
}
