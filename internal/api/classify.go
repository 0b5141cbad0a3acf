package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"license-triage/backend/internal/detect"
	"license-triage/backend/internal/store"
	"license-triage/backend/internal/util"
)

const classifyThrottle = 500 * time.Millisecond

// classifyJob tracks the state of a running batch classification.
type classifyJob struct {
	id        string
	cancel    context.CancelFunc
	startedAt time.Time
	total     int64
	batchID   uint
	batchName string
	requestID uint
}

type fragmentResult struct {
	Detection     store.Detection
	TotalDuration time.Duration
	Err           error
}

// startClassification launches a new asynchronous classification job. The
// caller must hold s.jobMu prior to invoking this function.
func (s *Server) startClassification(req ClassifyRequest, batch *store.FragmentBatch, totalFragments int64) (*classifyJob, error) {
	if s.activeJob != nil {
		return nil, errors.New("classification already running")
	}

	ctx, cancel := context.WithCancel(context.Background())
	job := &classifyJob{
		id:        uuid.NewString(),
		cancel:    cancel,
		startedAt: time.Now().UTC(),
		total:     totalFragments,
		batchID:   batch.ID,
		batchName: batch.Name,
	}

	request, err := s.db.CreateBatchRequest(batch.ID, "classify", "running", job.id)
	if err != nil {
		job.cancel()
		return nil, fmt.Errorf("create batch request: %w", err)
	}
	job.requestID = request.ID

	s.activeJob = job
	go s.runClassification(ctx, job, req)
	return job, nil
}

func (s *Server) runClassification(ctx context.Context, job *classifyJob, req ClassifyRequest) {
	finishStatus := "completed"
	var finishErr error

	defer func() {
		if job.requestID != 0 {
			status := finishStatus
			if finishErr != nil && status == "completed" {
				status = "failed"
			}
			if err := s.db.UpdateBatchRequest(job.requestID, status); err != nil {
				logrus.WithError(err).WithField("batch_id", job.batchID).Warn("update batch request")
			}
		}
		if err := s.db.UpdateBatchProcessingInfo(job.batchID); err != nil {
			logrus.WithError(err).WithField("batch_id", job.batchID).Warn("refresh batch processing info")
		}
		s.jobMu.Lock()
		s.activeJob = nil
		s.jobMu.Unlock()
	}()

	if req.Limit <= 0 {
		req.Limit = 5000
	}

	if job.total <= 0 {
		finishStatus = "failed"
		ev := ClassifyEvent{
			Type:    "error",
			JobID:   job.id,
			BatchID: job.batchID,
			Message: "no fragments available for classification",
		}
		s.classifyNotifier.Broadcast(ev)
		s.persistJobState(job, "failed", 0, ev)
		return
	}

	skipExisting := req.Resume && !req.Force
	existing := make(map[string]struct{})
	totalProcessed := 0

	if skipExisting {
		classified, err := s.db.ClassifiedKeysForBatch(job.batchID)
		if err != nil {
			finishStatus = "failed"
			finishErr = err
			ev := ClassifyEvent{
				Type:    "error",
				JobID:   job.id,
				BatchID: job.batchID,
				Message: fmt.Sprintf("load existing detections: %v", err),
			}
			s.classifyNotifier.Broadcast(ev)
			s.persistJobState(job, "failed", 0, ev)
			logrus.WithError(err).Error("load existing detections")
			return
		}
		for _, key := range classified {
			if key = strings.TrimSpace(key); key != "" {
				existing[key] = struct{}{}
			}
		}
		totalProcessed = len(existing)
	}

	logrus.WithFields(logrus.Fields{
		"job":        job.id,
		"batch_id":   job.batchID,
		"batch_name": job.batchName,
		"total":      job.total,
		"processed":  totalProcessed,
		"resume":     req.Resume,
		"force":      req.Force,
	}).Info("classification job started")

	startEvent := ClassifyEvent{
		Type:      "started",
		JobID:     job.id,
		BatchID:   job.batchID,
		Total:     job.total,
		Processed: totalProcessed,
		Message:   "classification started",
	}
	s.classifyNotifier.Broadcast(startEvent)
	s.persistJobState(job, "running", totalProcessed, startEvent)

	workerCount := determineWorkerCount()
	logrus.WithFields(logrus.Fields{
		"job":      job.id,
		"batch_id": job.batchID,
		"workers":  workerCount,
	}).Info("classification worker pool configured")

	chunkSize := req.Limit
	if chunkSize <= 0 {
		chunkSize = 1000
	}
	if chunkSize > 5000 {
		chunkSize = 5000
	}

	taskCh := make(chan store.BatchWorkItem, workerCount*4)
	resultCh := make(chan fragmentResult, workerCount*4)
	errCh := make(chan error, 1)

	var (
		lastEmit     time.Time
		hasPending   bool
		pendingEvent ClassifyEvent
	)

	flush := func(force bool) {
		if !hasPending {
			return
		}
		if !force && !lastEmit.IsZero() && time.Since(lastEmit) < classifyThrottle {
			return
		}
		ev := pendingEvent
		s.classifyNotifier.Broadcast(ev)
		lastEmit = time.Now()
		logrus.WithFields(logrus.Fields{
			"job":       job.id,
			"batch_id":  job.batchID,
			"type":      ev.Type,
			"processed": ev.Processed,
			"total":     job.total,
		}).Debug("broadcast classification event")
		hasPending = false
	}

	var workerWG sync.WaitGroup
	for i := 0; i < workerCount; i++ {
		workerWG.Add(1)
		go func() {
			defer workerWG.Done()
			for task := range taskCh {
				select {
				case <-ctx.Done():
					return
				default:
				}
				res := s.classifyFragment(ctx, task)
				select {
				case resultCh <- res:
				case <-ctx.Done():
					return
				}
				if res.Err != nil {
					return
				}
			}
		}()
	}

	go func() {
		workerWG.Wait()
		close(resultCh)
	}()

	go func() {
		defer close(taskCh)
		defer close(errCh)
		offset := req.Offset
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}
			rows, err := s.db.ListBatchFragmentsForClassify(job.batchID, offset, chunkSize)
			if err != nil {
				errCh <- fmt.Errorf("list batch fragments: %w", err)
				return
			}
			if len(rows) == 0 {
				return
			}
			for _, row := range rows {
				if strings.TrimSpace(row.Text) == "" {
					continue
				}
				if skipExisting {
					if _, ok := existing[row.TextKey]; ok {
						continue
					}
				}
				if !sendTask(ctx, taskCh, row) {
					return
				}
			}
			offset += len(rows)
			if len(rows) < chunkSize {
				return
			}
		}
	}()

	activeResultCh := resultCh
	activeErrCh := errCh
	done := false

	for activeResultCh != nil || activeErrCh != nil {
		select {
		case <-ctx.Done():
			flush(true)
			finishStatus = "cancelled"
			cancelEvent := ClassifyEvent{
				Type:      "cancelled",
				JobID:     job.id,
				BatchID:   job.batchID,
				Total:     job.total,
				Processed: totalProcessed,
				Message:   "classification cancelled",
			}
			s.classifyNotifier.Broadcast(cancelEvent)
			s.persistJobState(job, "cancelled", totalProcessed, cancelEvent)
			logrus.WithField("job", job.id).WithField("batch_id", job.batchID).Warn("classification job cancelled via context")
			return
		case err, ok := <-activeErrCh:
			if !ok {
				activeErrCh = nil
				continue
			}
			if err != nil {
				flush(true)
				finishStatus = "failed"
				finishErr = err
				ev := ClassifyEvent{
					Type:    "error",
					JobID:   job.id,
					BatchID: job.batchID,
					Message: err.Error(),
				}
				s.classifyNotifier.Broadcast(ev)
				s.persistJobState(job, "failed", totalProcessed, ev)
				logrus.WithError(err).Error("list batch fragments")
				job.cancel()
				return
			}
		case res, ok := <-activeResultCh:
			if !ok {
				activeResultCh = nil
				continue
			}
			if done {
				continue
			}
			if res.Err != nil {
				flush(true)
				finishStatus = "failed"
				finishErr = res.Err
				ev := ClassifyEvent{
					Type:    "error",
					JobID:   job.id,
					BatchID: job.batchID,
					Message: fmt.Sprintf("classify fragment: %v", res.Err),
				}
				s.classifyNotifier.Broadcast(ev)
				s.persistJobState(job, "failed", totalProcessed, ev)
				logrus.WithError(res.Err).Error("classify fragment")
				job.cancel()
				return
			}

			saveStart := time.Now()
			det := res.Detection
			if err := s.db.SaveDetection(&det); err != nil {
				flush(true)
				finishStatus = "failed"
				finishErr = err
				ev := ClassifyEvent{
					Type:    "error",
					JobID:   job.id,
					BatchID: job.batchID,
					Message: fmt.Sprintf("save detection: %v", err),
				}
				s.classifyNotifier.Broadcast(ev)
				s.persistJobState(job, "failed", totalProcessed, ev)
				logrus.WithError(err).Error("save detection")
				job.cancel()
				return
			}
			saveDuration := time.Since(saveStart)

			if skipExisting {
				existing[det.TextKey] = struct{}{}
			}

			dto := FromModel(det)
			totalProcessed++

			pendingEvent = ClassifyEvent{
				Type:      "detection",
				JobID:     job.id,
				BatchID:   job.batchID,
				Total:     job.total,
				Processed: totalProcessed,
				Detection: &dto,
			}
			hasPending = true
			logrus.WithFields(logrus.Fields{
				"job":           job.id,
				"batch_id":      job.batchID,
				"fragment":      det.FragmentID,
				"license":       det.DetectedLicense,
				"save_ms":       saveDuration.Milliseconds(),
				"processing_ms": det.ProcessingTimeMs,
				"total_ms":      (res.TotalDuration + saveDuration).Milliseconds(),
			}).Debug("classification timings")
			flush(false)

			if int64(totalProcessed) >= job.total {
				done = true
				job.cancel()
				continue
			}
		}
	}

	job.cancel()
	flush(true)

	duration := time.Since(job.startedAt).Round(time.Millisecond)
	completeEvent := ClassifyEvent{
		Type:      "complete",
		JobID:     job.id,
		BatchID:   job.batchID,
		Total:     job.total,
		Processed: totalProcessed,
		Message:   fmt.Sprintf("classification finished in %s", duration),
	}
	s.classifyNotifier.Broadcast(completeEvent)
	s.persistJobState(job, "completed", totalProcessed, completeEvent)
	logrus.WithFields(logrus.Fields{
		"job":       job.id,
		"batch_id":  job.batchID,
		"processed": totalProcessed,
		"duration":  duration,
	}).Info("classification job completed")
}

// sendTask queues one work item unless the job is cancelled first. Without
// the context guard the producer would block forever once every worker has
// exited.
func sendTask(ctx context.Context, taskCh chan<- store.BatchWorkItem, row store.BatchWorkItem) bool {
	select {
	case taskCh <- row:
		return true
	case <-ctx.Done():
		return false
	}
}

// persistJobState records the job transition so the latest run can be
// reported after a restart.
func (s *Server) persistJobState(job *classifyJob, status string, processed int, event ClassifyEvent) {
	payload, _ := json.Marshal(event)
	state := store.JobState{
		JobID:         job.id,
		BatchID:       job.batchID,
		RequestID:     job.requestID,
		Status:        status,
		Message:       event.Message,
		Processed:     processed,
		Total:         job.total,
		LastEventJSON: string(payload),
	}
	if err := s.db.SaveJobState(&state); err != nil {
		logrus.WithError(err).WithField("job", job.id).Warn("persist job state")
	}
}

func determineWorkerCount() int {
	workers := runtime.NumCPU()
	if workers < 2 {
		workers = 2
	}
	if workers > 12 {
		workers = 12
	}
	return workers
}

func (s *Server) classifyFragment(ctx context.Context, task store.BatchWorkItem) fragmentResult {
	result := fragmentResult{}

	if err := ctx.Err(); err != nil {
		result.Err = err
		return result
	}

	text := strings.TrimSpace(task.Text)
	if text == "" {
		result.Err = errors.New("empty fragment text")
		return result
	}

	start := time.Now()
	timer := util.StartTimer()
	outcome := s.classifier.Classify(detect.Fragment{ID: task.FragmentID, RawText: text})

	det := store.Detection{
		FragmentID:       outcome.FragmentID,
		TextKey:          task.TextKey,
		DetectedLicense:  outcome.DetectedLicense,
		SPDXID:           outcome.SPDXID,
		Confidence:       outcome.Confidence,
		IsAmbiguous:      outcome.IsAmbiguous,
		OriginalText:     outcome.OriginalText,
		ProcessingTimeMs: timer.ElapsedMs(),
	}
	det.SetMatches(outcome.Matches)

	result.Detection = det
	result.TotalDuration = time.Since(start)
	return result
}
