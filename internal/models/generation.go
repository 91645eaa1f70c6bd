package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

type GenerationKind string

const (
	KindImage         GenerationKind = "image"
	KindVideo         GenerationKind = "video"
	KindChat          GenerationKind = "chat"
	KindAudio         GenerationKind = "audio"
	KindTranscription GenerationKind = "transcription"
	KindImageEdit     GenerationKind = "image_edit"
)

// Kinds lists every supported generation kind.
var Kinds = []GenerationKind{KindImage, KindVideo, KindChat, KindAudio, KindTranscription, KindImageEdit}

// Valid reports whether k is a member of the closed kind set.
func (k GenerationKind) Valid() bool {
	switch k {
	case KindImage, KindVideo, KindChat, KindAudio, KindTranscription, KindImageEdit:
		return true
	}
	return false
}

type GenerationStatus string

const (
	StatusPending   GenerationStatus = "pending"
	StatusCompleted GenerationStatus = "completed"
	StatusFailed    GenerationStatus = "failed"
)

// Result is the kind-discriminated generation payload. Exactly the fields
// belonging to Kind may be populated; Validate enforces that shape before
// the record is persisted.
type Result struct {
	Kind       GenerationKind `json:"kind"`
	Images     []string       `json:"images,omitempty"`
	VideoURL   string         `json:"video_url,omitempty"`
	Text       string         `json:"text,omitempty"`
	AudioURL   string         `json:"audio_url,omitempty"`
	Transcript string         `json:"transcript,omitempty"`
}

func (r *Result) Validate() error {
	if !r.Kind.Valid() {
		return fmt.Errorf("result has unknown kind %q", r.Kind)
	}
	populated := map[GenerationKind]bool{
		KindImage:         len(r.Images) > 0,
		KindImageEdit:     len(r.Images) > 0,
		KindVideo:         r.VideoURL != "",
		KindChat:          r.Text != "",
		KindAudio:         r.AudioURL != "",
		KindTranscription: r.Transcript != "",
	}
	if !populated[r.Kind] {
		return fmt.Errorf("result for kind %q has no payload", r.Kind)
	}
	for kind, set := range populated {
		if set && !sameResultField(kind, r.Kind) {
			return fmt.Errorf("result for kind %q carries %q payload", r.Kind, kind)
		}
	}
	return nil
}

// image and image_edit share the Images field, so either is fine for the other.
func sameResultField(a, b GenerationKind) bool {
	if a == b {
		return true
	}
	imagesField := func(k GenerationKind) bool { return k == KindImage || k == KindImageEdit }
	return imagesField(a) && imagesField(b)
}

func (r Result) Value() (driver.Value, error) {
	return json.Marshal(r)
}

func (r *Result) Scan(src any) error {
	return scanJSON(src, r, "result")
}

// ErrorDetail records why a generation failed.
type ErrorDetail struct {
	Status  int    `json:"status,omitempty"`
	Message string `json:"message"`
}

// Metadata carries the generation options supplied by the caller plus, for
// failed records, the error detail.
type Metadata struct {
	Size     string            `json:"size,omitempty"`
	Quality  string            `json:"quality,omitempty"`
	Style    string            `json:"style,omitempty"`
	Voice    string            `json:"voice,omitempty"`
	Language string            `json:"language,omitempty"`
	Duration int               `json:"duration,omitempty"`
	Extra    map[string]string `json:"extra,omitempty"`
	Error    *ErrorDetail      `json:"error,omitempty"`
}

func (m Metadata) Value() (driver.Value, error) {
	return json.Marshal(m)
}

func (m *Metadata) Scan(src any) error {
	return scanJSON(src, m, "metadata")
}

func scanJSON(src, dst any, what string) error {
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		if len(v) == 0 {
			return nil
		}
		return json.Unmarshal(v, dst)
	case string:
		if v == "" {
			return nil
		}
		return json.Unmarshal([]byte(v), dst)
	default:
		return fmt.Errorf("scan %s: unsupported type %T", what, src)
	}
}

type Generation struct {
	ID             string           `json:"id"`
	UserID         string           `json:"user_id"`
	Kind           GenerationKind   `json:"kind"`
	Model          string           `json:"model"`
	Prompt         string           `json:"prompt,omitempty"`
	Result         *Result          `json:"result,omitempty"`
	Status         GenerationStatus `json:"status"`
	Metadata       Metadata         `json:"metadata"`
	IdempotencyKey string           `json:"idempotency_key,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
}
