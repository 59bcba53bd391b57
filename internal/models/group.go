package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// GroupIdol is the archival unit for shared verified images: the unique
// pairing of a group name and an idol name.
type GroupIdol struct {
	ID        uuid.UUID `json:"id" db:"id"`
	GroupName string    `json:"group_name" db:"group_name"`
	IdolName  string    `json:"idol_name" db:"idol_name"`
	Key       string    `json:"key" db:"group_idol_key"`
	// ImageCount tracks how many images for this pair carry the archive flag.
	ImageCount int       `json:"image_count" db:"image_count"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time `json:"updated_at" db:"updated_at"`
}

// GroupIdolKey normalizes a (group, idol) pair into the unique archive key.
func GroupIdolKey(groupName, idolName string) string {
	return strings.ToLower(strings.TrimSpace(groupName)) + "_" + strings.ToLower(strings.TrimSpace(idolName))
}
