package models

import "time"

type DocumentStatus string

const (
	DocumentProcessing DocumentStatus = "Processing"
	DocumentDraft      DocumentStatus = "Draft"
	DocumentReview     DocumentStatus = "Review"
	DocumentVerified   DocumentStatus = "Verified"
	DocumentArchived   DocumentStatus = "Archived"
)

// Document represents an entry of the policy document library.
type Document struct {
	ID         int64          `json:"id"`
	Name       string         `json:"name"`
	Type       string         `json:"type"`
	SizeBytes  int64          `json:"sizeBytes"`
	Pages      int            `json:"pages"`
	Status     DocumentStatus `json:"status"`
	Author     string         `json:"author"`
	StoredPath string         `json:"-"`
	ModifiedAt time.Time      `json:"modifiedAt"`
}
