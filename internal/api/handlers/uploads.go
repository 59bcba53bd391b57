package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/your-org/fanarchive/internal/auth"
	"github.com/your-org/fanarchive/internal/upload"
)

type UploadHandler struct {
	orchestrator *upload.Orchestrator
}

func NewUploadHandler(orchestrator *upload.Orchestrator) *UploadHandler {
	return &UploadHandler{orchestrator: orchestrator}
}

// Upload accepts the three-image multipart batch and runs the verification
// pipeline synchronously. Progress is observable out-of-band on the
// session's websocket; the final result is also the HTTP response body.
func (h *UploadHandler) Upload(c *gin.Context) {
	user := auth.CurrentUser(c)

	idolName := c.PostForm("idolName")
	groupName := c.PostForm("groupName")
	if idolName == "" || groupName == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "idolName and groupName are required"})
		return
	}

	sessionID := c.PostForm("sessionId")
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	form, err := c.MultipartForm()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "multipart form required"})
		return
	}

	headers := form.File["images"]
	files := make([]upload.UploadFile, 0, len(headers))
	for _, hdr := range headers {
		f, err := hdr.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "could not open " + hdr.Filename})
			return
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not read " + hdr.Filename})
			return
		}
		files = append(files, upload.UploadFile{
			FileName:    hdr.Filename,
			ContentType: hdr.Header.Get("Content-Type"),
			Size:        hdr.Size,
			Data:        data,
		})
	}

	result, err := h.orchestrator.ProcessUpload(c.Request.Context(), user, idolName, groupName, files, sessionID)
	if err != nil {
		c.JSON(statusForPipelineError(err), result)
		return
	}

	c.JSON(http.StatusOK, result)
}

func statusForPipelineError(err error) int {
	switch {
	case errors.Is(err, upload.ErrAuth):
		return http.StatusUnauthorized
	case errors.Is(err, upload.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, upload.ErrDuplicate):
		return http.StatusConflict
	case errors.Is(err, upload.ErrIdentification):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
