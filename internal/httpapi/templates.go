package httpapi

import (
	"errors"
	"io"
	"log"
	"net/http"

	"facecheck/internal/academics"
	"facecheck/internal/faceclient"

	"github.com/gin-gonic/gin"
)

const maxUploadBytes = 10 << 20

// UploadPhoto stores a reference photo for an identity. Expects a multipart
// form with a "photo" file. Templates are not rebuilt here.
func (h *Handler) UploadPhoto(c *gin.Context) {
	if h.deps.Uploader == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "image storage not configured"})
		return
	}
	id, ok := idParam(c)
	if !ok {
		return
	}
	file, header, err := c.Request.FormFile("photo")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "photo file is required"})
		return
	}
	defer file.Close()
	data, err := io.ReadAll(io.LimitReader(file, maxUploadBytes+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read photo"})
		return
	}
	if len(data) > maxUploadBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "photo too large"})
		return
	}

	res, err := h.deps.Uploader.UploadPhoto(c.Request.Context(), id, data, header.Filename)
	if err != nil {
		log.Printf("identity %d: photo upload: %v", id, err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "image upload failed"})
		return
	}
	photo, err := h.deps.Photos.AddPhoto(c.Request.Context(), id, res.SecureURL)
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusCreated, photo)
}

// RebuildTemplates retrains the given identities, or every identity with
// photos when the body lists none.
func (h *Handler) RebuildTemplates(c *gin.Context) {
	if h.deps.Trainer == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "training not configured"})
		return
	}
	var req struct {
		IdentityIDs []int64 `json:"identity_ids"`
	}
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	summary, err := h.deps.Trainer.Rebuild(c.Request.Context(), req.IdentityIDs)
	if errors.Is(err, faceclient.ErrUnavailable) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "face service unavailable", "summary": summary})
		return
	}
	if errors.Is(err, academics.ErrNotFound) {
		abort(c, err)
		return
	}
	if err != nil {
		// Identities before the failure are already written.
		log.Printf("template rebuild: %v", err)
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "template rebuild failed", "summary": summary})
		return
	}
	c.JSON(http.StatusOK, summary)
}
