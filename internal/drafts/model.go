package drafts

import (
	"encoding/json"
	"strings"
	"time"
)

// ComposerFields captures the partial form state of the post composer.
type ComposerFields struct {
	Title       string   `json:"title"`
	Body        string   `json:"body"`
	Location    string   `json:"location"`
	PostType    string   `json:"post_type"`
	ClassID     string   `json:"class_id"`
	Attachments []string `json:"attachments,omitempty"`
}

// HasContent reports whether the fields carry anything worth recovering.
// Drafts whose title, body, and location are all blank are never persisted.
func (f ComposerFields) HasContent() bool {
	return strings.TrimSpace(f.Title) != "" ||
		strings.TrimSpace(f.Body) != "" ||
		strings.TrimSpace(f.Location) != ""
}

// canonical returns the deterministic JSON encoding used for change
// detection.
func (f ComposerFields) canonical() []byte {
	raw, err := json.Marshal(f)
	if err != nil {
		return nil
	}
	return raw
}

// Equal compares two field sets structurally.
func (f ComposerFields) Equal(other ComposerFields) bool {
	return string(f.canonical()) == string(other.canonical())
}

// DraftRecord is the persisted form of an unsubmitted composer session.
type DraftRecord struct {
	Fields  ComposerFields `json:"fields"`
	SavedAt time.Time      `json:"saved_at"`
}
