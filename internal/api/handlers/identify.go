package handlers

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/your-org/fanarchive/internal/identify"
	"github.com/your-org/fanarchive/pkg/dto"
)

// IdentifyHandler exposes the identification gateway directly, outside the
// upload pipeline, for ad-hoc lookups.
type IdentifyHandler struct {
	gateway identify.Gateway
	chat    *identify.ChatClient
}

func NewIdentifyHandler(gateway identify.Gateway, chat *identify.ChatClient) *IdentifyHandler {
	return &IdentifyHandler{gateway: gateway, chat: chat}
}

func (h *IdentifyHandler) IdentifyURL(c *gin.Context) {
	var req dto.IdentifyURLRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	verdict, err := h.gateway.IdentifyURL(c.Request.Context(), req.ImageURL, req.FavoriteGroup, req.FavoriteName)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, verdict)
}

func (h *IdentifyHandler) UploadAndIdentify(c *gin.Context) {
	file, header, err := c.Request.FormFile("image")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "image file required"})
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "read image failed"})
		return
	}

	groupHint := c.PostForm("favoriteGroup")
	personHint := c.PostForm("favoriteName")

	verdict, err := h.gateway.IdentifyUpload(c.Request.Context(), data,
		header.Header.Get("Content-Type"), header.Filename, groupHint, personHint)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, verdict)
}

func (h *IdentifyHandler) Ask(c *gin.Context) {
	var req dto.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	answer, err := h.chat.Ask(c.Request.Context(), req.Question)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, dto.ChatResponse{Question: req.Question, Answer: answer})
}
