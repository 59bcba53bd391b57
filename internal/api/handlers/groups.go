package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/your-org/fanarchive/internal/models"
	"github.com/your-org/fanarchive/internal/storage"
	"github.com/your-org/fanarchive/pkg/dto"
)

type GroupIdolHandler struct {
	db *storage.PostgresStore
}

func NewGroupIdolHandler(db *storage.PostgresStore) *GroupIdolHandler {
	return &GroupIdolHandler{db: db}
}

func (h *GroupIdolHandler) List(c *gin.Context) {
	groupIdols, err := h.db.ListGroupIdols(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"group_idols": dto.NewGroupIdolResponses(groupIdols), "total": len(groupIdols)})
}

func (h *GroupIdolHandler) ListByGroup(c *gin.Context) {
	groupName := c.Query("groupName")
	if groupName == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "groupName is required"})
		return
	}

	groupIdols, err := h.db.ListGroupIdolsByGroup(c.Request.Context(), groupName)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"group_idols": dto.NewGroupIdolResponses(groupIdols), "total": len(groupIdols)})
}

func (h *GroupIdolHandler) ListByIdol(c *gin.Context) {
	idolName := c.Query("idolName")
	if idolName == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "idolName is required"})
		return
	}

	groupIdols, err := h.db.ListGroupIdolsByIdol(c.Request.Context(), idolName)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"group_idols": dto.NewGroupIdolResponses(groupIdols), "total": len(groupIdols)})
}

// Specific looks up one group identity by its normalized key.
func (h *GroupIdolHandler) Specific(c *gin.Context) {
	groupName := c.Query("groupName")
	idolName := c.Query("idolName")
	if groupName == "" || idolName == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "groupName and idolName are required"})
		return
	}

	gi, err := h.db.GetGroupIdolByKey(c.Request.Context(), models.GroupIdolKey(groupName, idolName))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if gi == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "group identity not found"})
		return
	}

	c.JSON(http.StatusOK, dto.NewGroupIdolResponse(*gi))
}

func (h *GroupIdolHandler) FindOrCreate(c *gin.Context) {
	var req dto.FindOrCreateGroupIdolRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	gi, err := h.db.UpsertGroupIdol(c.Request.Context(), req.GroupName, req.IdolName)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, dto.NewGroupIdolResponse(*gi))
}
