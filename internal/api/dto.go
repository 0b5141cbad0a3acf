package api

import (
	"time"

	"license-triage/backend/internal/detect"
	"license-triage/backend/internal/store"
)

// AnalyzeRequest carries a single fragment for synchronous classification.
type AnalyzeRequest struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// FragmentInput is one fragment in a batch request body.
type FragmentInput struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// BatchAnalyzeRequest carries inline fragments for synchronous batch
// classification.
type BatchAnalyzeRequest struct {
	Fragments []FragmentInput `json:"fragments"`
}

// SampleInput is one labeled fragment in an evaluation request.
type SampleInput struct {
	ID              string `json:"id"`
	Text            string `json:"text"`
	ExpectedLicense string `json:"expected_license"`
}

// EvaluateRequest carries labeled samples plus optional policy overrides for
// the run. Zero values mean "use the server defaults".
type EvaluateRequest struct {
	Samples         []SampleInput `json:"samples"`
	Threshold       float64       `json:"threshold"`
	AmbiguityMargin float64       `json:"ambiguity_margin"`
}

// TriageRequest records a reviewer verdict on a detection. Confidence is the
// score the reviewer ruled on; a nil timestamp means the server clock.
type TriageRequest struct {
	FragmentID      string     `json:"fragment_id"`
	DetectedLicense string     `json:"detected_license"`
	Confidence      float64    `json:"confidence"`
	Decision        string     `json:"decision"`
	Reviewer        string     `json:"reviewer"`
	Note            string     `json:"note"`
	Timestamp       *time.Time `json:"timestamp"`
}

// SPDXTagRequest asks for SPDX metadata by license name or identifier.
type SPDXTagRequest struct {
	License string `json:"license"`
}

// ExportRequest carries inline fragments to classify and export in one call,
// or a batch id to export previously stored detections without re-scoring.
type ExportRequest struct {
	Format    string          `json:"format"`
	Fragments []FragmentInput `json:"fragments"`
	BatchID   uint            `json:"batch_id"`
}

// DetectionDTO is the API representation for one classification outcome.
type DetectionDTO struct {
	FragmentID      string         `json:"fragment_id"`
	DetectedLicense string         `json:"detected_license"`
	SPDXID          string         `json:"spdx_id"`
	Confidence      float64        `json:"confidence"`
	IsAmbiguous     bool           `json:"is_ambiguous"`
	Matches         []detect.Match `json:"matches"`
	OriginalText    string         `json:"original_text"`
	CreatedAt       *time.Time     `json:"created_at,omitempty"`
}

// ResultsResponse holds detection items and totals.
type ResultsResponse struct {
	Items []DetectionDTO `json:"items"`
	Total int64          `json:"total"`
}

// UploadResponse reports batch statistics after processing a CSV upload.
type UploadResponse struct {
	BatchID           uint   `json:"batch_id"`
	BatchName         string `json:"batch_name"`
	Owner             string `json:"owner"`
	RowCount          int    `json:"row_count"`
	UniqueFragments   int    `json:"unique_fragments"`
	ExistingFragments int    `json:"existing_fragments"`
	DuplicateRows     int    `json:"duplicate_rows"`
	Processed         int    `json:"processed_fragments"`
	TemplateCount     int    `json:"template_count"`
}

// ClassifyRequest controls an asynchronous batch classification run.
type ClassifyRequest struct {
	BatchID uint `json:"batch_id"`
	Limit   int  `json:"limit"`
	Offset  int  `json:"offset"`
	Resume  bool `json:"resume"`
	Force   bool `json:"force"`
}

// StartClassifyResponse describes the asynchronous classification kickoff payload.
type StartClassifyResponse struct {
	JobID     string    `json:"job_id"`
	BatchID   uint      `json:"batch_id"`
	RequestID uint      `json:"request_id"`
	Total     int64     `json:"total"`
	StartedAt time.Time `json:"started_at"`
}

// ClassifyStatusResponse describes the state of the active classification job.
type ClassifyStatusResponse struct {
	Running       bool          `json:"running"`
	JobID         string        `json:"job_id"`
	BatchID       uint          `json:"batch_id"`
	RequestID     uint          `json:"request_id"`
	State         string        `json:"state"`
	Message       string        `json:"message"`
	Processed     int           `json:"processed"`
	Total         int64         `json:"total"`
	LastDetection *DetectionDTO `json:"last_detection,omitempty"`
}

// BatchDTO represents metadata for an uploaded CSV dataset.
type BatchDTO struct {
	ID                 uint       `json:"id"`
	Name               string     `json:"name"`
	Owner              string     `json:"owner"`
	OriginalFilename   string     `json:"original_filename"`
	RowCount           int        `json:"row_count"`
	UniqueFragments    int        `json:"unique_fragments"`
	ExistingFragments  int        `json:"existing_fragments"`
	DuplicateRows      int        `json:"duplicate_rows"`
	ProcessedFragments int        `json:"processed_fragments"`
	CreatedAt          time.Time  `json:"created_at"`
	LastClassifiedAt   *time.Time `json:"last_classified_at"`
}

// BatchesResponse is the paginated response for fragment batches.
type BatchesResponse struct {
	Items []BatchDTO `json:"items"`
	Total int64      `json:"total"`
}

// BatchRequestDTO represents classification request tracking metadata.
type BatchRequestDTO struct {
	ID         uint       `json:"id"`
	BatchID    uint       `json:"batch_id"`
	Type       string     `json:"type"`
	Status     string     `json:"status"`
	JobID      string     `json:"job_id"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at"`
}

// TriageDTO is the API representation of a stored triage decision.
type TriageDTO struct {
	ID              uint      `json:"id"`
	FragmentID      string    `json:"fragment_id"`
	DetectedLicense string    `json:"detected_license"`
	Confidence      float64   `json:"confidence"`
	Decision        string    `json:"decision"`
	Reviewer        string    `json:"reviewer"`
	Note            string    `json:"note"`
	DecidedAt       time.Time `json:"timestamp"`
	CreatedAt       time.Time `json:"created_at"`
}

// TriageResponse is the paginated response for triage decisions.
type TriageResponse struct {
	Items []TriageDTO `json:"items"`
	Total int64       `json:"total"`
}

// FromResult converts a classification result into the DTO representation.
// Scores are rounded for presentation; the engine keeps full precision.
func FromResult(r detect.Result) DetectionDTO {
	matches := make([]detect.Match, len(r.Matches))
	for i, m := range r.Matches {
		m.Similarity = round3(m.Similarity)
		m.KeywordScore = round3(m.KeywordScore)
		m.CombinedScore = round3(m.CombinedScore)
		matches[i] = m
	}
	return DetectionDTO{
		FragmentID:      r.FragmentID,
		DetectedLicense: r.DetectedLicense,
		SPDXID:          r.SPDXID,
		Confidence:      round3(r.Confidence),
		IsAmbiguous:     r.IsAmbiguous,
		Matches:         matches,
		OriginalText:    r.OriginalText,
	}
}

// FromModel converts a store.Detection into the DTO representation.
func FromModel(d store.Detection) DetectionDTO {
	created := d.CreatedAt
	return DetectionDTO{
		FragmentID:      d.FragmentID,
		DetectedLicense: d.DetectedLicense,
		SPDXID:          d.SPDXID,
		Confidence:      round3(d.Confidence),
		IsAmbiguous:     d.IsAmbiguous,
		Matches:         d.Matches(),
		OriginalText:    d.OriginalText,
		CreatedAt:       &created,
	}
}

// BatchFromModel converts a store.FragmentBatch into a DTO.
func BatchFromModel(b store.FragmentBatch) BatchDTO {
	return BatchDTO{
		ID:                 b.ID,
		Name:               b.Name,
		Owner:              b.Owner,
		OriginalFilename:   b.OriginalFilename,
		RowCount:           b.RowCount,
		UniqueFragments:    b.UniqueFragments,
		ExistingFragments:  b.ExistingFragments,
		DuplicateRows:      b.DuplicateRows,
		ProcessedFragments: b.ProcessedFragments,
		CreatedAt:          b.CreatedAt,
		LastClassifiedAt:   b.LastClassifiedAt,
	}
}

// BatchRequestFromModel converts a store.BatchRequest into a DTO.
func BatchRequestFromModel(r store.BatchRequest) BatchRequestDTO {
	return BatchRequestDTO{
		ID:         r.ID,
		BatchID:    r.BatchID,
		Type:       r.Type,
		Status:     r.Status,
		JobID:      r.JobID,
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
	}
}

// TriageFromModel converts a store.TriageDecision into a DTO.
func TriageFromModel(t store.TriageDecision) TriageDTO {
	return TriageDTO{
		ID:              t.ID,
		FragmentID:      t.FragmentID,
		DetectedLicense: t.DetectedLicense,
		Confidence:      round3(t.Confidence),
		Decision:        t.Decision,
		Reviewer:        t.Reviewer,
		Note:            t.Note,
		DecidedAt:       t.DecidedAt,
		CreatedAt:       t.CreatedAt,
	}
}

func round3(v float64) float64 {
	return float64(int(v*1000+0.5)) / 1000
}
