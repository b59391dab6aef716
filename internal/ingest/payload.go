// Package ingest implements the Document Processor (C9): the orchestration
// heart of the pipeline. It resolves each file in an ingest payload to local
// disk, extracts its text, computes dedup fingerprints, embeds text and
// images, and persists the result — graph bundle first, then vector rows and
// side-facets — per payload.
package ingest

import (
	"encoding/json"
	"time"
)

// Document is the logical unit of ingestion (§3 Document).
type Document struct {
	DocID      string     `json:"doc_id"`
	Version    int        `json:"version"`
	Title      string     `json:"title"`
	Source     string     `json:"source"`
	CreatedAt  time.Time  `json:"created_at"`
	ValidFrom  time.Time  `json:"valid_from"`
	ValidTo    *time.Time `json:"valid_to,omitempty"`
	SystemFrom time.Time  `json:"system_from"`
	SystemTo   *time.Time `json:"system_to,omitempty"`
}

// FileDescriptor is one file attached to a payload, before local resolution.
type FileDescriptor struct {
	URI             string     `json:"uri"`
	MimeType        string     `json:"mime_type,omitempty"`
	SHA256          string     `json:"sha256,omitempty"`
	SizeBytes       int64      `json:"size_bytes,omitempty"`
	CreatedAt       *time.Time `json:"created_at,omitempty"`
	DurationSeconds float64    `json:"duration_seconds,omitempty"`
}

// BlockInput is a caller-supplied block attached directly to the payload,
// independent of any file (e.g. a chat message or a connector-synthesized
// note).
type BlockInput struct {
	BlockID     string         `json:"block_id"`
	BlockType   string         `json:"block_type"`
	BoundingBox map[string]any `json:"bounding_box,omitempty"`
	TextContent string         `json:"text_content"`
	TextVector  []float32      `json:"text_vector,omitempty"`
	PageID      string         `json:"page_id,omitempty"`
}

// EmailInput describes an email side-facet.
type EmailInput struct {
	MessageID  string    `json:"message_id"`
	ThreadID   string    `json:"thread_id,omitempty"`
	Subject    string    `json:"subject"`
	SentAt     time.Time `json:"sent_at"`
	Sender     string    `json:"sender"`
	Recipients []string  `json:"recipients"`
	CCList     []string  `json:"cc_list,omitempty"`
	BCCList    []string  `json:"bcc_list,omitempty"`
	Snippet    string    `json:"snippet"`
}

// ImageInput describes an image side-facet.
type ImageInput struct {
	ImageID          string    `json:"image_id"`
	CaptureTimeUTC   time.Time `json:"capture_time_utc"`
	CaptureTimeLocal time.Time `json:"capture_time_local"`
	GPSCoords        *GeoPoint `json:"gps_coords,omitempty"`
	ImageType        string    `json:"image_type"`
}

// GeoPoint is a simple latitude/longitude pair.
type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// EntityRef is one extracted entity reference. It may arrive as a bare
// string (the canonical identifier) or an object with additional fields; Raw
// captures whichever form the producer used and asString/object below
// resolve it on demand.
type EntityRef struct {
	Raw json.RawMessage
}

func (e *EntityRef) UnmarshalJSON(b []byte) error {
	e.Raw = append([]byte(nil), b...)
	return nil
}

// asString returns the entity's canonical identifier whether Raw is a bare
// JSON string or an object, reading field for object form.
func (e EntityRef) asString(field string) (string, bool) {
	var s string
	if err := json.Unmarshal(e.Raw, &s); err == nil {
		return s, s != ""
	}
	var obj map[string]any
	if err := json.Unmarshal(e.Raw, &obj); err == nil {
		if v, ok := obj[field].(string); ok {
			return v, v != ""
		}
	}
	return "", false
}

func (e EntityRef) object() map[string]any {
	var obj map[string]any
	_ = json.Unmarshal(e.Raw, &obj)
	return obj
}

// EntitiesInput groups every extracted entity kind for a payload.
type EntitiesInput struct {
	People        []EntityRef `json:"people,omitempty"`
	Organizations []EntityRef `json:"organizations,omitempty"`
	Projects      []EntityRef `json:"projects,omitempty"`
	Places        []EntityRef `json:"places,omitempty"`
	Events        []EntityRef `json:"events,omitempty"`
}

// Relationship is an explicit edge the caller wants written alongside the
// document bundle (e.g. cross-document links a connector already knows
// about).
type Relationship struct {
	SourceID string `json:"source_id"`
	TargetID string `json:"target_id"`
	Type     string `json:"type"`
}

// Payload is one ingest queue element.
type Payload struct {
	Document      Document         `json:"document"`
	Files         []FileDescriptor `json:"files,omitempty"`
	Block         *BlockInput      `json:"block,omitempty"`
	Email         *EmailInput      `json:"email,omitempty"`
	Image         *ImageInput      `json:"image,omitempty"`
	Entities      *EntitiesInput   `json:"entities,omitempty"`
	Relationships []Relationship   `json:"relationships,omitempty"`
}
