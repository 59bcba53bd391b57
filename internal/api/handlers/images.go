package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/your-org/fanarchive/internal/auth"
	"github.com/your-org/fanarchive/internal/models"
	"github.com/your-org/fanarchive/internal/storage"
	"github.com/your-org/fanarchive/pkg/dto"
)

type ImageHandler struct {
	db    *storage.PostgresStore
	minio *storage.MinIOStore
}

func NewImageHandler(db *storage.PostgresStore, minio *storage.MinIOStore) *ImageHandler {
	return &ImageHandler{db: db, minio: minio}
}

// presign replaces each stored link with a freshly signed one. Persisted
// URLs were signed at upload time and expire; the object key is durable.
func (h *ImageHandler) presign(c *gin.Context, images []models.IdolImage) []models.IdolImage {
	for i := range images {
		if images[i].StorageKey == "" {
			continue
		}
		signed, err := h.minio.PresignedURL(c.Request.Context(), images[i].StorageKey)
		if err != nil {
			continue
		}
		images[i].ImageURL = signed
	}
	return images
}

func (h *ImageHandler) ListByIdol(c *gin.Context) {
	idolName := c.Query("idolName")
	groupName := c.Query("groupName")
	if idolName == "" || groupName == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "idolName and groupName are required"})
		return
	}

	images, err := h.db.ListImagesByIdol(c.Request.Context(), idolName, groupName)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"images": dto.NewImageResponses(h.presign(c, images)), "total": len(images)})
}

func (h *ImageHandler) ListVerified(c *gin.Context) {
	images, err := h.db.ListVerifiedImages(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"images": dto.NewImageResponses(h.presign(c, images)), "total": len(images)})
}

// Delete removes an image the caller owns. The archive count is decremented
// when the image was archived; the stored object removal is best-effort.
func (h *ImageHandler) Delete(c *gin.Context) {
	user := auth.CurrentUser(c)

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid image id"})
		return
	}

	img, err := h.db.GetImage(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if img == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "image not found"})
		return
	}
	if user == nil || img.UserID != user.ID {
		c.JSON(http.StatusForbidden, gin.H{"error": "not your image"})
		return
	}

	if err := h.db.DeleteImage(c.Request.Context(), id); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	if img.InGroupArchive && img.GroupIdolID != uuid.Nil {
		if err := h.db.AdjustImageCount(c.Request.Context(), img.GroupIdolID, -1); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
	}

	if img.StorageKey != "" {
		// Losing the object is tolerable; losing the row is not.
		_ = h.minio.Remove(c.Request.Context(), img.StorageKey)
	}

	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

func (h *ImageHandler) MyGallery(c *gin.Context) {
	user := auth.CurrentUser(c)
	if user == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
		return
	}

	images, err := h.db.ListPersonalGallery(c.Request.Context(), user.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"images": dto.NewImageResponses(h.presign(c, images)), "total": len(images)})
}

func (h *ImageHandler) MyIdolGallery(c *gin.Context) {
	user := auth.CurrentUser(c)
	if user == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
		return
	}

	idolName := c.Query("idolName")
	groupName := c.Query("groupName")
	if idolName == "" || groupName == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "idolName and groupName are required"})
		return
	}

	images, err := h.db.ListPersonalIdolImages(c.Request.Context(), user.ID, idolName, groupName)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"images": dto.NewImageResponses(h.presign(c, images)), "total": len(images)})
}

func (h *ImageHandler) GroupGallery(c *gin.Context) {
	groupName := c.Query("groupName")
	idolName := c.Query("idolName")
	if groupName == "" || idolName == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "groupName and idolName are required"})
		return
	}

	key := models.GroupIdolKey(groupName, idolName)
	images, err := h.db.ListGroupSharedImages(c.Request.Context(), key)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"images": dto.NewImageResponses(h.presign(c, images)), "total": len(images)})
}

func (h *ImageHandler) AllGroupGalleries(c *gin.Context) {
	images, err := h.db.ListAllGroupSharedImages(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"images": dto.NewImageResponses(h.presign(c, images)), "total": len(images)})
}
