package dto

import (
	"time"

	"github.com/google/uuid"

	"github.com/your-org/fanarchive/internal/models"
)

type ImageResponse struct {
	ID                uuid.UUID `json:"id"`
	IdolName          string    `json:"idol_name"`
	GroupName         string    `json:"group_name"`
	ImageURL          string    `json:"image_url"`
	PHash             string    `json:"phash,omitempty"`
	OriginalFileName  string    `json:"original_file_name"`
	FileSize          int64     `json:"file_size"`
	ContentType       string    `json:"content_type"`
	Analysis          string    `json:"analysis,omitempty"`
	Verified          bool      `json:"verified"`
	InPersonalGallery bool      `json:"in_personal_gallery"`
	InGroupArchive    bool      `json:"in_group_archive"`
	UploadedAt        string    `json:"uploaded_at"`
}

func NewImageResponse(img models.IdolImage) ImageResponse {
	return ImageResponse{
		ID:                img.ID,
		IdolName:          img.IdolName,
		GroupName:         img.GroupName,
		ImageURL:          img.ImageURL,
		PHash:             img.PHash,
		OriginalFileName:  img.OriginalFileName,
		FileSize:          img.FileSize,
		ContentType:       img.ContentType,
		Analysis:          img.Analysis,
		Verified:          img.Verified,
		InPersonalGallery: img.InPersonalGallery,
		InGroupArchive:    img.InGroupArchive,
		UploadedAt:        img.UploadedAt.Format(time.RFC3339),
	}
}

func NewImageResponses(imgs []models.IdolImage) []ImageResponse {
	resp := make([]ImageResponse, 0, len(imgs))
	for _, img := range imgs {
		resp = append(resp, NewImageResponse(img))
	}
	return resp
}
