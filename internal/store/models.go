package store

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"

	"license-triage/backend/internal/detect"
)

// Detection is the per-fragment classification output persisted for querying
// and exporting. One row per distinct normalized text; re-analyzing the same
// text updates the existing row.
type Detection struct {
	ID               uint   `gorm:"primaryKey"`
	FragmentID       string `gorm:"size:128;index"`
	TextKey          string `gorm:"size:64;uniqueIndex"`
	DetectedLicense  string `gorm:"size:128;index"`
	SPDXID           string `gorm:"size:64"`
	Confidence       float64
	IsAmbiguous      bool   `gorm:"index"`
	MatchesJSON      string `gorm:"type:text"`
	OriginalText     string `gorm:"type:text"`
	ProcessingTimeMs int64
	CreatedAt        time.Time `gorm:"autoCreateTime"`
}

// SetMatches stores the ranked per-template scores as JSON.
func (d *Detection) SetMatches(matches []detect.Match) {
	if matches == nil {
		d.MatchesJSON = "[]"
		return
	}
	payload, _ := json.Marshal(matches)
	d.MatchesJSON = string(payload)
}

// Matches returns the decoded per-template scores.
func (d *Detection) Matches() []detect.Match {
	if strings.TrimSpace(d.MatchesJSON) == "" {
		return nil
	}
	var out []detect.Match
	if err := json.Unmarshal([]byte(d.MatchesJSON), &out); err != nil {
		return nil
	}
	return out
}

// FragmentBatch represents an uploaded CSV dataset of license fragments.
type FragmentBatch struct {
	ID                 uint   `gorm:"primaryKey"`
	Name               string `gorm:"size:128;index"`
	Owner              string `gorm:"size:128;index"`
	OriginalFilename   string `gorm:"size:256"`
	RowCount           int
	UniqueFragments    int
	ExistingFragments  int
	DuplicateRows      int
	ProcessedFragments int
	LastClassifiedAt   *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// BatchFragment links fragments to batches, one row per CSV occurrence.
type BatchFragment struct {
	ID         uint   `gorm:"primaryKey"`
	BatchID    uint   `gorm:"index"`
	FragmentID string `gorm:"size:128"`
	Text       string `gorm:"type:text"`
	TextKey    string `gorm:"size:64;index"`
	RowIndex   int
	CreatedAt  time.Time
}

// BatchRequest tracks a classification job for a batch (initial run, resume).
type BatchRequest struct {
	ID         uint   `gorm:"primaryKey"`
	BatchID    uint   `gorm:"index"`
	Type       string `gorm:"size:32"`
	Status     string `gorm:"size:32"`
	JobID      string `gorm:"size:64"`
	StartedAt  time.Time
	FinishedAt *time.Time
	CreatedAt  time.Time
}

// JobState persists classification job metadata across restarts.
type JobState struct {
	JobID         string `gorm:"primaryKey;size:64"`
	BatchID       uint   `gorm:"index"`
	RequestID     uint
	Status        string `gorm:"size:32;index"`
	Message       string `gorm:"size:255"`
	Processed     int
	Total         int64
	LastEventJSON string `gorm:"type:text"`
	UpdatedAt     time.Time
	CreatedAt     time.Time
}

// TriageDecision records a human accept/reject verdict on a detection,
// together with the confidence the reviewer ruled on and when they ruled.
type TriageDecision struct {
	ID              uint   `gorm:"primaryKey"`
	FragmentID      string `gorm:"size:128;index"`
	DetectedLicense string `gorm:"size:128"`
	Confidence      float64
	Decision        string    `gorm:"size:16;index"`
	Reviewer        string    `gorm:"size:128"`
	Note            string    `gorm:"type:text"`
	DecidedAt       time.Time `gorm:"index"`
	CreatedAt       time.Time `gorm:"autoCreateTime"`
}

// TextKey derives the dedup key for a fragment: detections are keyed by the
// normalized text so formatting differences collapse onto one row.
func TextKey(rawText string) string {
	sum := sha256.Sum256([]byte(detect.Normalize(rawText)))
	return hex.EncodeToString(sum[:])
}
