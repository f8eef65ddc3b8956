package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/notesmate/backend/internal/notes"
)

func (h *httpHandler) handleListNotes(c *gin.Context) {
	user := currentUser(c)
	// The status filter is overridden server-side for anyone who is not an
	// administrator, not merely defaulted.
	filter := notes.ListFilter{
		Semester: c.Query("semester"),
		Branch:   c.Query("branch"),
		Subject:  c.Query("subject"),
		Status:   c.Query("status"),
		AsAdmin:  user != nil && user.IsAdmin,
	}

	listings, err := h.notes.List(c.Request.Context(), filter)
	if err != nil {
		h.respondServiceError(c, err, "note listing failed")
		return
	}
	respondData(c, http.StatusOK, listings)
}

type createNotePayload struct {
	Title        string `json:"title" binding:"required"`
	Description  string `json:"description" binding:"required"`
	Semester     string `json:"semester" binding:"required"`
	Branch       string `json:"branch" binding:"required"`
	Subject      string `json:"subject" binding:"required"`
	FileURL      string `json:"fileUrl" binding:"required"`
	CloudinaryID string `json:"cloudinaryId" binding:"required"`
}

func (h *httpHandler) handleCreateNote(c *gin.Context) {
	user := currentUser(c)

	var request createNotePayload
	if err := c.ShouldBindJSON(&request); err != nil {
		fail(c, http.StatusBadRequest, "All fields are required")
		return
	}

	note, err := h.notes.Create(c.Request.Context(), notes.CreateInput{
		Title:       request.Title,
		Description: request.Description,
		Semester:    request.Semester,
		Branch:      request.Branch,
		Subject:     request.Subject,
		FileURL:     request.FileURL,
		StorageID:   request.CloudinaryID,
		UploaderID:  user.ID,
	})
	if err != nil {
		h.respondServiceError(c, err, "note creation failed")
		return
	}
	respondData(c, http.StatusCreated, note)
}

func (h *httpHandler) handleApproveNote(c *gin.Context) {
	note, err := h.notes.SetStatus(c.Request.Context(), c.Param("id"), notes.StatusApproved)
	if err != nil {
		h.respondServiceError(c, err, "note approval failed")
		return
	}
	respondData(c, http.StatusOK, note)
}

func (h *httpHandler) handleRejectNote(c *gin.Context) {
	note, err := h.notes.SetStatus(c.Request.Context(), c.Param("id"), notes.StatusRejected)
	if err != nil {
		h.respondServiceError(c, err, "note rejection failed")
		return
	}
	respondData(c, http.StatusOK, note)
}

func (h *httpHandler) handleDeleteNote(c *gin.Context) {
	if err := h.notes.Delete(c.Request.Context(), c.Param("id")); err != nil {
		h.respondServiceError(c, err, "note deletion failed")
		return
	}
	respondMessage(c, http.StatusOK, "Note deleted successfully")
}

func (h *httpHandler) handleDownloadNote(c *gin.Context) {
	user := currentUser(c)
	fileURL, err := h.notes.Download(c.Request.Context(), c.Param("id"), user != nil && user.IsAdmin)
	if err != nil {
		h.respondServiceError(c, err, "note download failed")
		return
	}
	c.Redirect(http.StatusFound, fileURL)
}

func (h *httpHandler) handleSubjects(c *gin.Context) {
	subjects, err := h.notes.Subjects(c.Request.Context(), c.Query("semester"), c.Query("branch"))
	if err != nil {
		h.respondServiceError(c, err, "subject listing failed")
		return
	}
	respondData(c, http.StatusOK, subjects)
}

func (h *httpHandler) handleStats(c *gin.Context) {
	stats, err := h.notes.ComputeStats(c.Request.Context(), false)
	if err != nil {
		h.respondServiceError(c, err, "stats computation failed")
		return
	}
	respondData(c, http.StatusOK, stats)
}

func (h *httpHandler) handleAdminStats(c *gin.Context) {
	stats, err := h.notes.ComputeStats(c.Request.Context(), true)
	if err != nil {
		h.respondServiceError(c, err, "admin stats computation failed")
		return
	}
	respondData(c, http.StatusOK, stats)
}

func (h *httpHandler) handleAdminListNotes(c *gin.Context) {
	listings, err := h.notes.List(c.Request.Context(), notes.ListFilter{AsAdmin: true})
	if err != nil {
		h.respondServiceError(c, err, "admin note listing failed")
		return
	}
	respondData(c, http.StatusOK, listings)
}
