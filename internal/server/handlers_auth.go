package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/notesmate/backend/internal/auth"
	"github.com/notesmate/backend/internal/users"
	"go.uber.org/zap"
)

type adminLoginPayload struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type profilePayload struct {
	Email    string `json:"email"`
	Name     string `json:"name"`
	PhotoURL string `json:"photoURL"`
	IsAdmin  bool   `json:"isAdmin"`
	Semester string `json:"semester"`
	Branch   string `json:"branch"`
	Wallet   int64  `json:"wallet"`
}

func profileFrom(user *users.User) profilePayload {
	return profilePayload{
		Email:    user.Email,
		Name:     user.Name,
		PhotoURL: user.AvatarURL,
		IsAdmin:  user.IsAdmin,
		Semester: user.Semester,
		Branch:   user.Branch,
		Wallet:   user.Wallet,
	}
}

// handleAdminLogin authenticates the allow-listed administrator by password
// and issues a backend session token.
func (h *httpHandler) handleAdminLogin(c *gin.Context) {
	var request adminLoginPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		fail(c, http.StatusBadRequest, "Email and password are required")
		return
	}

	email := strings.ToLower(strings.TrimSpace(request.Email))
	if email != h.adminEmail || auth.VerifyPassword(h.adminPasswordHash, request.Password) != nil {
		h.logger.Warn("admin login rejected", zap.String("email", email))
		fail(c, http.StatusUnauthorized, "Invalid admin credentials")
		return
	}

	token, expiresIn, err := h.tokens.IssueAdminToken(c.Request.Context(), h.adminEmail)
	if err != nil {
		h.logger.Error("failed to issue admin token", zap.Error(err))
		fail(c, http.StatusInternalServerError, "Error creating authentication token")
		return
	}

	// Make sure the admin account exists in the directory; a failure here is
	// recoverable because the next authenticated request syncs again.
	if _, err := h.users.Sync(c.Request.Context(), auth.IdentityClaims{
		Subject: auth.AdminSubject,
		Email:   h.adminEmail,
		Name:    "Admin User",
	}); err != nil {
		h.logger.Warn("admin profile sync failed", zap.Error(err))
	}

	respondData(c, http.StatusOK, gin.H{
		"token":     token,
		"expiresIn": expiresIn,
		"email":     h.adminEmail,
		"isAdmin":   true,
	})
}

// handleVerify returns the synced profile of the verified caller. The sync
// itself already happened in the authenticate middleware.
func (h *httpHandler) handleVerify(c *gin.Context) {
	user := currentUser(c)
	if user == nil {
		fail(c, http.StatusUnauthorized, "No token provided")
		return
	}
	respondData(c, http.StatusOK, profileFrom(user))
}

type profileUpdatePayload struct {
	Name     string `json:"name"`
	Semester string `json:"semester"`
	Branch   string `json:"branch"`
}

func (h *httpHandler) handleUpdateProfile(c *gin.Context) {
	user := currentUser(c)
	if user == nil {
		fail(c, http.StatusUnauthorized, "No token provided")
		return
	}

	var request profileUpdatePayload
	if err := c.ShouldBindJSON(&request); err != nil {
		fail(c, http.StatusBadRequest, "Invalid profile payload")
		return
	}

	updated, err := h.users.UpdateProfile(c.Request.Context(), user.GoogleUID, users.ProfileUpdate{
		Name:     request.Name,
		Semester: request.Semester,
		Branch:   request.Branch,
	})
	if err != nil {
		h.respondServiceError(c, err, "profile update failed")
		return
	}
	respondData(c, http.StatusOK, profileFrom(updated))
}

type registerPayload struct {
	Email    string `json:"email" binding:"required"`
	Name     string `json:"name"`
	Semester string `json:"semester"`
	Branch   string `json:"branch"`
}

func (h *httpHandler) handleRegister(c *gin.Context) {
	var request registerPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		fail(c, http.StatusBadRequest, "Email is required")
		return
	}

	user, err := h.users.Register(c.Request.Context(), users.RegisterInput{
		Email:    request.Email,
		Name:     request.Name,
		Semester: request.Semester,
		Branch:   request.Branch,
	})
	if err != nil {
		h.respondServiceError(c, err, "registration failed")
		return
	}
	respondData(c, http.StatusCreated, profileFrom(user))
}
