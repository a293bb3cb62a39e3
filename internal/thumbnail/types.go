// Package thumbnail defines core types shared across the capture pipeline.
package thumbnail

import "time"

// Viewport describes the browser window used for a capture.
type Viewport struct {
	Width       int     `json:"width" mapstructure:"width"`
	Height      int     `json:"height" mapstructure:"height"`
	ScaleFactor float64 `json:"scale_factor" mapstructure:"scale_factor"`
}

// ImageSpec describes the fixed output image produced by the transcoder.
type ImageSpec struct {
	Width   int `json:"width" mapstructure:"width"`
	Height  int `json:"height" mapstructure:"height"`
	Quality int `json:"quality" mapstructure:"quality"`
}

// Request is one capture invocation. It is never persisted.
type Request struct {
	URL      string `json:"url"`
	EntityID string `json:"entityId"`
}

// Project is the owning entity a thumbnail is attached to.
type Project struct {
	ID           string    `json:"id"`
	OwnerID      string    `json:"owner_id"`
	Name         string    `json:"name,omitempty"`
	ThumbnailURL string    `json:"thumbnail_url,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// OwnedBy reports whether userID owns the project.
func (p Project) OwnedBy(userID string) bool {
	return userID != "" && p.OwnerID == userID
}

// Identity is the caller resolved from a bearer credential.
type Identity struct {
	UserID string
	Email  string
}

// Result is returned by a successful capture.
type Result struct {
	CaptureID  string        `json:"capture_id"`
	EntityID   string        `json:"entity_id"`
	SourceURL  string        `json:"source_url"`
	URL        string        `json:"thumbnail_url"`
	Key        string        `json:"key"`
	Checksum   string        `json:"checksum"`
	Bytes      int64         `json:"bytes"`
	CapturedAt time.Time     `json:"captured_at"`
	Duration   time.Duration `json:"duration"`
}

// CapturedEvent is announced after a thumbnail URL has been written back
// onto its project.
type CapturedEvent struct {
	CaptureID    string    `json:"capture_id"`
	EntityID     string    `json:"entity_id"`
	SourceURL    string    `json:"source_url"`
	ThumbnailURL string    `json:"thumbnail_url"`
	Checksum     string    `json:"checksum"`
	CapturedAt   time.Time `json:"captured_at"`
}

// Stage names a step of the capture state machine.
type Stage string

// Capture stages in execution order.
const (
	StageStart      Stage = "start"
	StageLocked     Stage = "locked"
	StageWorkspace  Stage = "workspace"
	StageRendered   Stage = "rendered"
	StageTranscoded Stage = "transcoded"
	StagePublished  Stage = "published"
	StageDone       Stage = "done"
)
