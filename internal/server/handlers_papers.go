package server

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/notesmate/backend/internal/papers"
)

func (h *httpHandler) handleListPapers(c *gin.Context) {
	user := currentUser(c)

	listings, balance, err := h.papers.List(c.Request.Context(), papers.ListFilter{
		Semester: c.Query("semester"),
		Branch:   c.Query("branch"),
	}, user.ID)
	if err != nil {
		h.respondServiceError(c, err, "paper listing failed")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":       true,
		"data":          listings,
		"walletBalance": balance,
	})
}

// handleCreatePaper accepts a multipart form with the paper metadata and the
// PDF itself, stores the file, and creates the catalog record.
func (h *httpHandler) handleCreatePaper(c *gin.Context) {
	user := currentUser(c)

	title := c.PostForm("title")
	semester := c.PostForm("semester")
	branch := c.PostForm("branch")
	rawPrice := c.PostForm("price")
	fileHeader, fileErr := c.FormFile("file")
	if title == "" || semester == "" || branch == "" || rawPrice == "" || fileErr != nil {
		fail(c, http.StatusBadRequest, "All fields are required (title, semester, branch, price, file)")
		return
	}

	price, err := strconv.ParseInt(rawPrice, 10, 64)
	if err != nil || price < 0 {
		fail(c, http.StatusBadRequest, "Price must be a non-negative integer")
		return
	}

	if err := validatePDFUpload(fileHeader); err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}

	if h.uploader == nil {
		fail(c, http.StatusInternalServerError, "File storage is not configured")
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		fail(c, http.StatusBadRequest, "Unable to read uploaded file")
		return
	}
	defer file.Close()

	stored, err := h.uploader.Upload(c.Request.Context(), file, fileHeader.Filename)
	if err != nil {
		h.respondServiceError(c, err, "paper upload to object store failed")
		return
	}

	paper, err := h.papers.Create(c.Request.Context(), papers.CreateInput{
		Title:      title,
		Semester:   semester,
		Branch:     branch,
		Price:      price,
		FileURL:    stored.URL,
		StorageID:  stored.PublicID,
		UploaderID: user.ID,
	})
	if err != nil {
		h.respondServiceError(c, err, "paper creation failed")
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"message": "Question paper uploaded successfully",
		"data":    paper,
	})
}

func (h *httpHandler) handlePurchasePaper(c *gin.Context) {
	user := currentUser(c)

	balance, err := h.papers.Purchase(c.Request.Context(), user.ID, c.Param("id"))
	if err != nil {
		h.respondServiceError(c, err, "paper purchase failed")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":       true,
		"message":       "Question paper purchased successfully",
		"walletBalance": balance,
	})
}

func (h *httpHandler) handleDownloadPaper(c *gin.Context) {
	user := currentUser(c)

	fileURL, err := h.papers.Download(c.Request.Context(), user.ID, c.Param("id"), user.IsAdmin)
	if err != nil {
		h.respondServiceError(c, err, "paper download failed")
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "fileUrl": fileURL})
}

func (h *httpHandler) handleMyPapers(c *gin.Context) {
	user := currentUser(c)

	owned, balance, err := h.papers.PurchasedPapers(c.Request.Context(), user.ID)
	if err != nil {
		h.respondServiceError(c, err, "purchased paper listing failed")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":       true,
		"data":          owned,
		"walletBalance": balance,
	})
}
