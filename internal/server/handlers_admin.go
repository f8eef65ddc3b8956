package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (h *httpHandler) handleListUsers(c *gin.Context) {
	accounts, err := h.users.List(c.Request.Context())
	if err != nil {
		h.respondServiceError(c, err, "user listing failed")
		return
	}
	respondData(c, http.StatusOK, accounts)
}

func (h *httpHandler) handleRestoreWallet(c *gin.Context) {
	userID := c.Param("id")

	balance, err := h.users.RestoreWallet(c.Request.Context(), userID)
	if err != nil {
		h.respondServiceError(c, err, "wallet restore failed")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Wallet restored successfully",
		"data": gin.H{
			"userId": userID,
			"wallet": balance,
		},
	})
}

func (h *httpHandler) handleDeleteUser(c *gin.Context) {
	if err := h.users.Delete(c.Request.Context(), c.Param("id")); err != nil {
		h.respondServiceError(c, err, "user deletion failed")
		return
	}
	respondMessage(c, http.StatusOK, "User deleted successfully")
}
