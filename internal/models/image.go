package models

import (
	"time"

	"github.com/google/uuid"
)

// IdolImage is one persisted upload. Every analyzed image lands in the
// uploader's personal gallery; the archive flags are set only when
// identification confirmed the claimed idol.
type IdolImage struct {
	ID               uuid.UUID `json:"id" db:"id"`
	IdolName         string    `json:"idol_name" db:"idol_name"`
	GroupName        string    `json:"group_name" db:"group_name"`
	ImageURL         string    `json:"image_url" db:"image_url"`
	StorageKey       string    `json:"storage_key" db:"storage_key"`
	PHash            string    `json:"phash" db:"phash"`
	OriginalFileName string    `json:"original_file_name" db:"original_file_name"`
	FileSize         int64     `json:"file_size" db:"file_size"`
	ContentType      string    `json:"content_type" db:"content_type"`
	UploadedAt       time.Time `json:"uploaded_at" db:"uploaded_at"`
	Analysis         string    `json:"analysis,omitempty" db:"analysis"`
	Verified         bool      `json:"verified" db:"verified"`
	InPersonalGallery bool     `json:"in_personal_gallery" db:"in_personal_gallery"`
	InGroupArchive    bool     `json:"in_group_archive" db:"in_group_archive"`
	// Ownership is one-directional: the image points at its uploader and its
	// group identity; reverse lookups go through store queries.
	UserID      uuid.UUID `json:"user_id" db:"user_id"`
	GroupIdolID uuid.UUID `json:"group_idol_id" db:"group_idol_id"`
}
