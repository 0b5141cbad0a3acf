package store

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// Database wraps the GORM DB handle and exposes repository helpers.
type Database struct {
	gorm *gorm.DB
	mu   sync.Mutex
}

// Open initializes the SQLite-backed database at the provided path.
func Open(path string, silent bool) (*Database, error) {
	cfg := &gorm.Config{}
	if silent {
		cfg.Logger = logger.Default.LogMode(logger.Silent)
	}
	db, err := gorm.Open(sqlite.Open(path), cfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.AutoMigrate(&Detection{}, &FragmentBatch{}, &BatchFragment{}, &BatchRequest{}, &JobState{}, &TriageDecision{}); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}
	if err := db.Exec("PRAGMA journal_mode=WAL").Error; err != nil {
		logrus.WithError(err).Warn("enable WAL mode")
	}
	if err := db.Exec("PRAGMA synchronous=NORMAL").Error; err != nil {
		logrus.WithError(err).Warn("set synchronous pragma")
	}
	if err := applyIndexes(db); err != nil {
		return nil, fmt.Errorf("apply indexes: %w", err)
	}
	return &Database{gorm: db}, nil
}

// Close closes the underlying database connection.
func (d *Database) Close() error {
	if d == nil {
		return nil
	}
	sqlDB, err := d.gorm.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// SaveDetection inserts or updates the detection row keyed by normalized
// text, so re-analyzing the same fragment refreshes rather than duplicates.
func (d *Database) SaveDetection(det *Detection) error {
	if det == nil {
		return errors.New("detection is nil")
	}
	if det.TextKey == "" {
		det.TextKey = TextKey(det.OriginalText)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.gorm.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "text_key"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"fragment_id",
			"detected_license",
			"spdx_id",
			"confidence",
			"is_ambiguous",
			"matches_json",
			"original_text",
			"processing_time_ms",
		}),
	}).Create(det).Error
}

// CountDetections returns the number of stored detection rows.
func (d *Database) CountDetections() (int64, error) {
	var count int64
	if err := d.gorm.Model(&Detection{}).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// ClearDetections removes previously stored detections (useful before a
// forced re-run).
func (d *Database) ClearDetections() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.gorm.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&Detection{}).Error
}

// DetectionQuery encapsulates filters and pagination for listing detections.
type DetectionQuery struct {
	Query         string
	MinConfidence float64
	License       string
	AmbiguousOnly bool
	Sort          string
	Offset        int
	Limit         int
	BatchID       uint
}

// ListDetections returns paginated detection records applying optional filters.
func (d *Database) ListDetections(opts DetectionQuery) ([]Detection, int64, error) {
	var total int64
	base := d.gorm.Model(&Detection{})
	if opts.BatchID > 0 {
		base = base.Where("text_key IN (SELECT text_key FROM batch_fragments WHERE batch_id = ?)", opts.BatchID)
	}
	if opts.Query != "" {
		like := fmt.Sprintf("%%%s%%", opts.Query)
		base = base.Where("fragment_id LIKE ? OR detected_license LIKE ? OR original_text LIKE ?", like, like, like)
	}
	if opts.MinConfidence > 0 {
		base = base.Where("confidence >= ?", opts.MinConfidence)
	}
	if license := strings.TrimSpace(opts.License); license != "" {
		base = base.Where("detected_license = ? OR spdx_id = ?", license, license)
	}
	if opts.AmbiguousOnly {
		base = base.Where("is_ambiguous = ?", true)
	}

	if err := base.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	order := orderForSort(opts.Sort)
	queryBuilder := base.Order(order).Offset(opts.Offset)
	if opts.Limit > 0 {
		queryBuilder = queryBuilder.Limit(opts.Limit)
	}

	var rows []Detection
	if err := queryBuilder.Find(&rows).Error; err != nil {
		return nil, 0, err
	}
	return rows, total, nil
}

func orderForSort(sort string) string {
	switch strings.ToLower(strings.TrimSpace(sort)) {
	case "fragment_asc":
		return "detections.fragment_id ASC"
	case "fragment_desc":
		return "detections.fragment_id DESC"
	case "confidence_desc":
		return "detections.confidence DESC, detections.id DESC"
	case "confidence_asc":
		return "detections.confidence ASC, detections.id DESC"
	case "license_asc":
		return "detections.detected_license ASC, detections.confidence DESC"
	case "created_asc":
		return "detections.created_at ASC"
	case "created_desc":
		return "detections.created_at DESC"
	default:
		return "detections.id DESC"
	}
}

// BatchWorkItem is one distinct fragment in a batch plus whether a detection
// already exists for it.
type BatchWorkItem struct {
	FragmentID string
	Text       string
	TextKey    string
	RowIndex   int
	HasResult  bool
}

func applyIndexes(db *gorm.DB) error {
	stmts := []string{
		"CREATE UNIQUE INDEX IF NOT EXISTS idx_detections_text_key ON detections(text_key)",
		"CREATE INDEX IF NOT EXISTS idx_detections_license ON detections(detected_license)",
		"CREATE INDEX IF NOT EXISTS idx_detections_confidence ON detections(confidence)",
		"CREATE INDEX IF NOT EXISTS idx_batch_fragments_batch_text_key ON batch_fragments(batch_id, text_key)",
		"CREATE INDEX IF NOT EXISTS idx_triage_decisions_fragment ON triage_decisions(fragment_id)",
		"CREATE INDEX IF NOT EXISTS idx_job_states_status_updated ON job_states(status, updated_at)",
		"CREATE INDEX IF NOT EXISTS idx_job_states_batch ON job_states(batch_id)",
	}
	for _, stmt := range stmts {
		if err := db.Exec(stmt).Error; err != nil {
			return err
		}
	}
	return nil
}

// CreateFragmentBatch inserts a new batch record.
func (d *Database) CreateFragmentBatch(name, owner, filename string) (*FragmentBatch, error) {
	batch := &FragmentBatch{Name: name, Owner: owner, OriginalFilename: filename}
	if err := d.gorm.Create(batch).Error; err != nil {
		return nil, err
	}
	return batch, nil
}

// UpdateFragmentBatchStats updates aggregate statistics for a batch.
func (d *Database) UpdateFragmentBatchStats(batchID uint, rowCount, uniqueFragments, existingFragments, duplicateRows, processed int) error {
	return d.gorm.Model(&FragmentBatch{}).
		Where("id = ?", batchID).
		Updates(map[string]any{
			"row_count":           rowCount,
			"unique_fragments":    uniqueFragments,
			"existing_fragments":  existingFragments,
			"duplicate_rows":      duplicateRows,
			"processed_fragments": processed,
		}).Error
}

// ReplaceBatchFragments replaces all fragment rows associated with a batch.
func (d *Database) ReplaceBatchFragments(batchID uint, rows []BatchFragment) error {
	return d.gorm.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("batch_id = ?", batchID).Delete(&BatchFragment{}).Error; err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		return tx.CreateInBatches(rows, 500).Error
	})
}

// ExistingDetectionKeys returns the subset of the given text keys that
// already have a detection row.
func (d *Database) ExistingDetectionKeys(keys []string) (map[string]struct{}, error) {
	result := make(map[string]struct{})
	if len(keys) == 0 {
		return result, nil
	}

	unique := make([]string, 0, len(keys))
	seen := make(map[string]struct{})
	for _, key := range keys {
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		unique = append(unique, key)
	}

	const chunkSize = 1000
	for i := 0; i < len(unique); i += chunkSize {
		end := i + chunkSize
		if end > len(unique) {
			end = len(unique)
		}
		chunk := unique[i:end]

		var rows []string
		if err := d.gorm.Model(&Detection{}).
			Where("text_key IN ?", chunk).
			Pluck("text_key", &rows).Error; err != nil {
			return nil, err
		}
		for _, key := range rows {
			result[key] = struct{}{}
		}
	}
	return result, nil
}

// CountBatchFragments returns the number of distinct fragments in a batch.
func (d *Database) CountBatchFragments(batchID uint) (int, error) {
	var count int64
	if err := d.gorm.Model(&BatchFragment{}).
		Where("batch_id = ?", batchID).
		Distinct("text_key").Count(&count).Error; err != nil {
		return 0, err
	}
	return int(count), nil
}

// CountBatchResults returns the number of fragments in a batch that already
// have detection results.
func (d *Database) CountBatchResults(batchID uint) (int, error) {
	var count int64
	query := d.gorm.Table("batch_fragments AS bf").
		Select("COUNT(DISTINCT det.text_key)").
		Joins("JOIN detections det ON det.text_key = bf.text_key").
		Where("bf.batch_id = ?", batchID)
	if err := query.Count(&count).Error; err != nil {
		return 0, err
	}
	return int(count), nil
}

// ListBatchFragmentsForClassify returns unique fragments for a batch along
// with detection status, in CSV row order.
func (d *Database) ListBatchFragmentsForClassify(batchID uint, offset, limit int) ([]BatchWorkItem, error) {
	var rows []BatchWorkItem
	query := `
		SELECT MIN(bf.fragment_id) AS fragment_id,
		       MIN(bf.text) AS text,
		       bf.text_key AS text_key,
		       MIN(bf.row_index) AS row_index,
		       CASE WHEN SUM(CASE WHEN det.id IS NULL THEN 0 ELSE 1 END) > 0 THEN 1 ELSE 0 END AS has_result
		FROM batch_fragments bf
		LEFT JOIN detections det ON det.text_key = bf.text_key
		WHERE bf.batch_id = ?
		GROUP BY bf.text_key
		ORDER BY MIN(bf.row_index)
		LIMIT ? OFFSET ?`
	if err := d.gorm.Raw(query, batchID, limit, offset).Scan(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// ClassifiedKeysForBatch returns the text keys already classified for the batch.
func (d *Database) ClassifiedKeysForBatch(batchID uint) ([]string, error) {
	var rows []string
	query := `
		SELECT DISTINCT det.text_key
		FROM detections det
		JOIN batch_fragments bf ON bf.text_key = det.text_key
		WHERE bf.batch_id = ?`
	if err := d.gorm.Raw(query, batchID).Scan(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// SaveJobState upserts the persisted metadata for a classification job so the
// last run survives restarts.
func (d *Database) SaveJobState(state *JobState) error {
	if state == nil {
		return errors.New("job state is nil")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.gorm.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "job_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"status",
			"message",
			"processed",
			"total",
			"last_event_json",
		}),
	}).Create(state).Error
}

// LatestJobState returns the most recently updated job record, or nil when no
// job has run yet.
func (d *Database) LatestJobState() (*JobState, error) {
	var state JobState
	err := d.gorm.Order("updated_at DESC").First(&state).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &state, nil
}

// CreateBatchRequest records a new classification request for a batch.
func (d *Database) CreateBatchRequest(batchID uint, requestType, status, jobID string) (*BatchRequest, error) {
	request := &BatchRequest{
		BatchID:   batchID,
		Type:      requestType,
		Status:    status,
		JobID:     jobID,
		StartedAt: time.Now(),
	}
	if err := d.gorm.Create(request).Error; err != nil {
		return nil, err
	}
	return request, nil
}

// UpdateBatchRequest updates the status and timestamps of a batch request.
func (d *Database) UpdateBatchRequest(requestID uint, status string) error {
	updates := map[string]any{"status": status}
	if status == "completed" || status == "failed" {
		now := time.Now()
		updates["finished_at"] = &now
	}
	return d.gorm.Model(&BatchRequest{}).Where("id = ?", requestID).Updates(updates).Error
}

// UpdateBatchProcessingInfo refreshes processed counts and timestamp for a batch.
func (d *Database) UpdateBatchProcessingInfo(batchID uint) error {
	processed, err := d.CountBatchResults(batchID)
	if err != nil {
		return err
	}
	now := time.Now()
	return d.gorm.Model(&FragmentBatch{}).
		Where("id = ?", batchID).
		Updates(map[string]any{
			"processed_fragments": processed,
			"last_classified_at":  &now,
		}).Error
}

// ListFragmentBatches returns batches ordered by creation time.
func (d *Database) ListFragmentBatches(offset, limit int) ([]FragmentBatch, int64, error) {
	var total int64
	if err := d.gorm.Model(&FragmentBatch{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	query := d.gorm.Model(&FragmentBatch{}).Order("created_at DESC")
	if limit > 0 {
		query = query.Offset(offset).Limit(limit)
	}
	var batches []FragmentBatch
	if err := query.Find(&batches).Error; err != nil {
		return nil, 0, err
	}
	return batches, total, nil
}

// GetFragmentBatch retrieves a batch by ID.
func (d *Database) GetFragmentBatch(batchID uint) (*FragmentBatch, error) {
	var batch FragmentBatch
	if err := d.gorm.First(&batch, batchID).Error; err != nil {
		return nil, err
	}
	return &batch, nil
}

// GetBatchRequest fetches a batch request record by ID.
func (d *Database) GetBatchRequest(requestID uint) (*BatchRequest, error) {
	var request BatchRequest
	if err := d.gorm.First(&request, requestID).Error; err != nil {
		return nil, err
	}
	return &request, nil
}

// SaveTriageDecision records a reviewer verdict.
func (d *Database) SaveTriageDecision(decision *TriageDecision) error {
	if decision == nil {
		return errors.New("decision is nil")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.gorm.Create(decision).Error
}

// ListTriageDecisions returns triage records, newest first, optionally
// filtered to one fragment.
func (d *Database) ListTriageDecisions(fragmentID string, offset, limit int) ([]TriageDecision, int64, error) {
	base := d.gorm.Model(&TriageDecision{})
	if fragmentID != "" {
		base = base.Where("fragment_id = ?", fragmentID)
	}
	var total int64
	if err := base.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	query := base.Order("created_at DESC, id DESC").Offset(offset)
	if limit > 0 {
		query = query.Limit(limit)
	}
	var rows []TriageDecision
	if err := query.Find(&rows).Error; err != nil {
		return nil, 0, err
	}
	return rows, total, nil
}
