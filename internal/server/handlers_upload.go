package server

import (
	"errors"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// maxUploadBytes caps uploads at 10 MB.
const maxUploadBytes = 10 << 20

var errNotPDF = errors.New("Only PDF files are allowed")

func validatePDFUpload(header *multipart.FileHeader) error {
	if header.Size > maxUploadBytes {
		return errors.New("File exceeds the 10MB size limit")
	}
	contentType := header.Header.Get("Content-Type")
	if contentType == "application/pdf" {
		return nil
	}
	if strings.EqualFold(filepath.Ext(header.Filename), ".pdf") {
		return nil
	}
	return errNotPDF
}

// handleUpload stores a PDF in the object store and returns its URL plus the
// deletion handle the client passes back when creating a note.
func (h *httpHandler) handleUpload(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		fail(c, http.StatusBadRequest, "No file uploaded")
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
		h.logger.Error("object store upload failed", zap.Error(err))
		fail(c, http.StatusInternalServerError, "Error uploading file")
		return
	}

	respondData(c, http.StatusOK, gin.H{
		"url":       stored.URL,
		"public_id": stored.PublicID,
	})
}
