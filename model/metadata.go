package model

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"github.com/siherrmann/newsdedup/helper"
)

// EntryMetadata is the JSONB metadata stored next to every embedding
type EntryMetadata struct {
	Title          string    `json:"title"`
	SourceURL      string    `json:"source_url"`
	PublishedAt    time.Time `json:"published_at"`
	StoredAt       time.Time `json:"stored_at"`
	Company        string    `json:"company"`
	Source         string    `json:"source,omitempty"`
	RelevanceScore float64   `json:"relevance_score,omitempty"`
}

// Value implements the driver.Valuer interface for database storage
func (m EntryMetadata) Value() (driver.Value, error) {
	return m.Marshal()
}

// Scan implements the sql.Scanner interface for database retrieval
func (m *EntryMetadata) Scan(value interface{}) error {
	return m.Unmarshal(value)
}

// Marshal converts EntryMetadata to JSON bytes
func (m EntryMetadata) Marshal() ([]byte, error) {
	return json.Marshal(m)
}

// Unmarshal converts JSON bytes, a JSON string or EntryMetadata to EntryMetadata
func (m *EntryMetadata) Unmarshal(value interface{}) error {
	switch v := value.(type) {
	case nil:
		*m = EntryMetadata{}
		return nil
	case EntryMetadata:
		*m = v
		return nil
	case string:
		return json.Unmarshal([]byte(v), m)
	case []byte:
		return json.Unmarshal(v, m)
	default:
		return helper.NewError("byte assertion", errors.New("type assertion to []byte failed"))
	}
}
