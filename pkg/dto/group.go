package dto

import (
	"time"

	"github.com/google/uuid"

	"github.com/your-org/fanarchive/internal/models"
)

type FindOrCreateGroupIdolRequest struct {
	GroupName string `json:"group_name" binding:"required"`
	IdolName  string `json:"idol_name" binding:"required"`
}

type GroupIdolResponse struct {
	ID         uuid.UUID `json:"id"`
	GroupName  string    `json:"group_name"`
	IdolName   string    `json:"idol_name"`
	Key        string    `json:"key"`
	ImageCount int       `json:"image_count"`
	CreatedAt  string    `json:"created_at"`
	UpdatedAt  string    `json:"updated_at"`
}

func NewGroupIdolResponse(gi models.GroupIdol) GroupIdolResponse {
	return GroupIdolResponse{
		ID:         gi.ID,
		GroupName:  gi.GroupName,
		IdolName:   gi.IdolName,
		Key:        gi.Key,
		ImageCount: gi.ImageCount,
		CreatedAt:  gi.CreatedAt.Format(time.RFC3339),
		UpdatedAt:  gi.UpdatedAt.Format(time.RFC3339),
	}
}

func NewGroupIdolResponses(gis []models.GroupIdol) []GroupIdolResponse {
	resp := make([]GroupIdolResponse, 0, len(gis))
	for _, gi := range gis {
		resp = append(resp, NewGroupIdolResponse(gi))
	}
	return resp
}
