package dto

import "github.com/your-org/fanarchive/internal/models"

// ImageAnalysisResult reports the verdict for one uploaded image.
type ImageAnalysisResult struct {
	FileName         string `json:"file_name"`
	ImageURL         string `json:"image_url"`
	PHash            string `json:"phash"`
	Match            bool   `json:"match"`
	MatchReason      string `json:"match_reason"`
	IdentifiedPerson string `json:"identified_person"`
	IdentifiedGroup  string `json:"identified_group"`
	Analysis         string `json:"analysis,omitempty"`
	ProcessingMillis int64  `json:"processing_ms"`
}

// UploadResult is the terminal answer for one upload batch. Success means
// at least one image was verified into the shared archive.
type UploadResult struct {
	Success        bool                  `json:"success"`
	Message        string                `json:"message"`
	SessionID      string                `json:"session_id"`
	Results        []ImageAnalysisResult `json:"results,omitempty"`
	ExistingImages []models.IdolImage    `json:"existing_images,omitempty"`
	TotalMillis    int64                 `json:"total_ms"`
}
