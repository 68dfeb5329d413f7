package fhir

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Bundle represents a FHIR Bundle resource.
type Bundle struct {
	ResourceType string        `json:"resourceType"`
	ID           string        `json:"id,omitempty"`
	Type         string        `json:"type"`
	Total        *int          `json:"total,omitempty"`
	Entry        []BundleEntry `json:"entry,omitempty"`
	Timestamp    *time.Time    `json:"timestamp,omitempty"`
}

type BundleEntry struct {
	FullURL  string          `json:"fullUrl,omitempty"`
	Resource json.RawMessage `json:"resource,omitempty"`
}

// NewCollectionBundle wraps resources in a collection Bundle. Resources
// without an id get a urn:uuid full URL so entries stay addressable.
func NewCollectionBundle(resources []interface{}, timestamp time.Time) (*Bundle, error) {
	entries := make([]BundleEntry, 0, len(resources))
	for _, r := range resources {
		raw, err := json.Marshal(r)
		if err != nil {
			return nil, fmt.Errorf("marshal bundle entry: %w", err)
		}
		entries = append(entries, BundleEntry{FullURL: fullURL(r), Resource: raw})
	}
	total := len(entries)
	return &Bundle{
		ResourceType: "Bundle",
		ID:           uuid.New().String(),
		Type:         "collection",
		Total:        &total,
		Entry:        entries,
		Timestamp:    &timestamp,
	}, nil
}

func fullURL(r interface{}) string {
	switch v := r.(type) {
	case *Encounter:
		if v.ID != "" {
			return FormatReference("Encounter", v.ID)
		}
	case *Observation:
		if v.ID != "" {
			return FormatReference("Observation", v.ID)
		}
	}
	return "urn:uuid:" + uuid.New().String()
}
