package api

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"license-triage/backend/internal/detect"
	"license-triage/backend/internal/export"
	"license-triage/backend/internal/spdx"
	"license-triage/backend/internal/store"
	"license-triage/backend/internal/templates"
	"license-triage/backend/internal/util"
)

// Config defines server dependencies.
type Config struct {
	DBPath          string
	TemplatesPath   string
	AllowedOrigins  []string
	SilentDB        bool
	Threshold       float64
	AmbiguityMargin float64
}

// Server wires HTTP handlers with persistence and the classification engine.
type Server struct {
	db               *store.Database
	classifier       *detect.Classifier
	spdxCatalog      *spdx.Catalog
	templatesPath    string
	allowedOrigins   []string
	classifyNotifier *ClassifyNotifier
	jobMu            sync.Mutex
	activeJob        *classifyJob
}

// NewServer constructs the API server.
func NewServer(cfg Config) (*Server, error) {
	if cfg.DBPath == "" {
		return nil, errors.New("db path required")
	}
	db, err := store.Open(cfg.DBPath, cfg.SilentDB)
	if err != nil {
		return nil, err
	}

	catalog, err := templates.Load(cfg.TemplatesPath)
	if err != nil {
		return nil, fmt.Errorf("load templates: %w", err)
	}
	if err := templates.Validate(catalog); err != nil {
		return nil, fmt.Errorf("validate templates: %w", err)
	}
	classifier := detect.NewClassifier(catalog, detect.Options{
		Threshold:       cfg.Threshold,
		AmbiguityMargin: cfg.AmbiguityMargin,
	})
	logrus.WithFields(logrus.Fields{
		"templates": classifier.TemplateCount(),
		"path":      cfg.TemplatesPath,
	}).Info("license templates loaded")

	return &Server{
		db:               db,
		classifier:       classifier,
		spdxCatalog:      spdx.NewCatalog(),
		templatesPath:    cfg.TemplatesPath,
		allowedOrigins:   cfg.AllowedOrigins,
		classifyNotifier: NewClassifyNotifier(),
	}, nil
}

// Router configures gin routes.
func (s *Server) Router() (*gin.Engine, error) {
	r := gin.Default()

	corsCfg := cors.DefaultConfig()
	corsCfg.AllowCredentials = true
	if len(s.allowedOrigins) == 0 {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = s.allowedOrigins
	}
	corsCfg.AllowHeaders = []string{"Origin", "Content-Type", "Accept"}
	corsCfg.AllowMethods = []string{"GET", "POST", "DELETE", "OPTIONS"}
	r.Use(cors.New(corsCfg))

	r.GET("/api/healthz", s.handleHealth)
	r.GET("/api/config", s.handleConfig)

	api := r.Group("/api")
	{
		api.POST("/analyze", s.handleAnalyze)
		api.POST("/batch-analyze", s.handleBatchAnalyze)
		api.POST("/evaluate", s.handleEvaluate)
		api.POST("/triage", s.handleTriage)
		api.GET("/triage", s.handleListTriage)
		api.POST("/spdx-tag", s.handleSPDXTag)
		api.POST("/export", s.handleExport)
		api.GET("/batches", s.handleListBatches)
		api.GET("/batches/:id", s.handleGetBatch)
		api.GET("/batches/:id/results", s.handleBatchResults)
		api.GET("/requests/:id/status", s.handleRequestStatus)
		api.POST("/upload", s.handleUpload)
		api.POST("/classify", s.handleClassify)
		api.GET("/classify/status", s.handleClassifyStatus)
		api.DELETE("/classify/:jobID", s.handleCancelClassify)
		api.GET("/classify/stream", s.handleClassifyStream)
		api.GET("/results", s.handleResults)
		api.DELETE("/results", s.handleClearResults)
		api.GET("/export.csv", s.handleExportCSV)
		api.GET("/export.json", s.handleExportJSON)
		api.GET("/export.spdx", s.handleExportSPDX)
	}

	return r, nil
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleConfig(c *gin.Context) {
	detections, err := s.db.CountDetections()
	if err != nil {
		s.renderError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"templates_path":   s.templatesPath,
		"template_count":   s.classifier.TemplateCount(),
		"detection_count":  detections,
		"threshold":        s.classifier.Options().Threshold,
		"ambiguity_margin": s.classifier.Options().AmbiguityMargin,
	})
}

func (s *Server) handleAnalyze(c *gin.Context) {
	var req AnalyzeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.renderError(c, http.StatusBadRequest, err)
		return
	}

	fragment := detect.Fragment{ID: strings.TrimSpace(req.ID), RawText: req.Text}
	if fragment.ID == "" {
		fragment.ID = uuid.NewString()
	}

	timer := util.StartTimer()
	result := s.classifier.Classify(fragment)
	elapsed := timer.ElapsedMs()

	if err := s.saveResult(result, elapsed); err != nil {
		logrus.WithError(err).WithField("fragment", fragment.ID).Warn("persist detection")
	}

	c.JSON(http.StatusOK, FromResult(result))
}

func (s *Server) handleBatchAnalyze(c *gin.Context) {
	var req BatchAnalyzeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.renderError(c, http.StatusBadRequest, err)
		return
	}
	if len(req.Fragments) == 0 {
		s.renderError(c, http.StatusBadRequest, errors.New("fragments are required"))
		return
	}

	fragments := make([]detect.Fragment, len(req.Fragments))
	for i, input := range req.Fragments {
		id := strings.TrimSpace(input.ID)
		if id == "" {
			id = uuid.NewString()
		}
		fragments[i] = detect.Fragment{ID: id, RawText: input.Text}
	}

	timer := util.StartTimer()
	results := s.classifier.ClassifyAll(fragments)
	elapsed := timer.ElapsedMs()

	perFragment := int64(0)
	if len(results) > 0 {
		perFragment = elapsed / int64(len(results))
	}
	dtos := make([]DetectionDTO, 0, len(results))
	for _, result := range results {
		if err := s.saveResult(result, perFragment); err != nil {
			logrus.WithError(err).WithField("fragment", result.FragmentID).Warn("persist detection")
		}
		dtos = append(dtos, FromResult(result))
	}

	c.JSON(http.StatusOK, gin.H{"items": dtos, "total": len(dtos)})
}

func (s *Server) handleEvaluate(c *gin.Context) {
	var req EvaluateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.renderError(c, http.StatusBadRequest, err)
		return
	}

	classifier := s.classifier
	if req.Threshold > 0 || req.AmbiguityMargin > 0 {
		classifier = classifier.WithOptions(detect.Options{
			Threshold:       req.Threshold,
			AmbiguityMargin: req.AmbiguityMargin,
		})
	}

	samples := make([]detect.Sample, len(req.Samples))
	for i, input := range req.Samples {
		id := strings.TrimSpace(input.ID)
		if id == "" {
			id = fmt.Sprintf("sample-%d", i+1)
		}
		samples[i] = detect.Sample{
			Fragment:        detect.Fragment{ID: id, RawText: input.Text},
			ExpectedLicense: input.ExpectedLicense,
		}
	}

	timer := util.StartTimer()
	metrics := classifier.Evaluate(samples)
	logrus.WithFields(logrus.Fields{
		"samples":  metrics.TotalSamples,
		"accuracy": metrics.Accuracy,
		"f1":       metrics.F1Score,
		"ms":       timer.ElapsedMs(),
	}).Info("evaluation run completed")

	c.JSON(http.StatusOK, metrics)
}

func (s *Server) handleTriage(c *gin.Context) {
	var req TriageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.renderError(c, http.StatusBadRequest, err)
		return
	}
	req.FragmentID = strings.TrimSpace(req.FragmentID)
	if req.FragmentID == "" {
		s.renderError(c, http.StatusBadRequest, errors.New("fragment_id is required"))
		return
	}
	decision := strings.ToLower(strings.TrimSpace(req.Decision))
	if decision != "accept" && decision != "reject" {
		s.renderError(c, http.StatusBadRequest, fmt.Errorf("invalid decision: %q (want accept or reject)", req.Decision))
		return
	}

	decidedAt := time.Now().UTC()
	if req.Timestamp != nil && !req.Timestamp.IsZero() {
		decidedAt = req.Timestamp.UTC()
	}

	record := &store.TriageDecision{
		FragmentID:      req.FragmentID,
		DetectedLicense: strings.TrimSpace(req.DetectedLicense),
		Confidence:      req.Confidence,
		Decision:        decision,
		Reviewer:        strings.TrimSpace(req.Reviewer),
		Note:            strings.TrimSpace(req.Note),
		DecidedAt:       decidedAt,
	}
	if err := s.db.SaveTriageDecision(record); err != nil {
		s.renderError(c, http.StatusInternalServerError, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "recorded", "record": TriageFromModel(*record)})
}

func (s *Server) handleListTriage(c *gin.Context) {
	fragmentID := strings.TrimSpace(c.Query("fragment_id"))
	page, _ := strconv.Atoi(c.Query("page"))
	if page < 0 {
		page = 0
	}
	pageSize, _ := strconv.Atoi(c.Query("pageSize"))
	if pageSize <= 0 {
		pageSize = 100
	}

	rows, total, err := s.db.ListTriageDecisions(fragmentID, page*pageSize, pageSize)
	if err != nil {
		s.renderError(c, http.StatusInternalServerError, err)
		return
	}
	dtos := make([]TriageDTO, 0, len(rows))
	for _, row := range rows {
		dtos = append(dtos, TriageFromModel(row))
	}
	c.JSON(http.StatusOK, TriageResponse{Items: dtos, Total: total})
}

func (s *Server) handleSPDXTag(c *gin.Context) {
	var req SPDXTagRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.renderError(c, http.StatusBadRequest, err)
		return
	}
	info, found := s.spdxCatalog.Lookup(req.License)
	if !found {
		c.JSON(http.StatusOK, gin.H{"found": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{"found": true, "license": info})
}

func (s *Server) handleExport(c *gin.Context) {
	var req ExportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.renderError(c, http.StatusBadRequest, err)
		return
	}
	if len(req.Fragments) == 0 && req.BatchID == 0 {
		s.renderError(c, http.StatusBadRequest, errors.New("fragments or batch_id required"))
		return
	}

	var results []detect.Result
	if len(req.Fragments) > 0 {
		fragments := make([]detect.Fragment, len(req.Fragments))
		for i, input := range req.Fragments {
			id := strings.TrimSpace(input.ID)
			if id == "" {
				id = uuid.NewString()
			}
			fragments[i] = detect.Fragment{ID: id, RawText: input.Text}
		}
		results = s.classifier.ClassifyAll(fragments)
	} else {
		var err error
		results, err = s.loadResults(req.BatchID)
		if err != nil {
			s.renderError(c, http.StatusInternalServerError, err)
			return
		}
	}

	format := strings.ToLower(strings.TrimSpace(req.Format))
	switch format {
	case "", "json":
		payload, err := export.JSON(results)
		if err != nil {
			s.renderError(c, http.StatusInternalServerError, err)
			return
		}
		c.Data(http.StatusOK, "application/json", payload)
	case "csv":
		payload, err := export.CSV(results)
		if err != nil {
			s.renderError(c, http.StatusInternalServerError, err)
			return
		}
		c.Data(http.StatusOK, "text/csv", payload)
	case "spdx":
		c.Data(http.StatusOK, "text/plain", []byte(s.spdxCatalog.Document(results)))
	default:
		s.renderError(c, http.StatusBadRequest, fmt.Errorf("unsupported format: %q", req.Format))
	}
}

func (s *Server) handleListBatches(c *gin.Context) {
	page, _ := strconv.Atoi(c.Query("page"))
	if page < 0 {
		page = 0
	}
	pageSize, _ := strconv.Atoi(c.Query("pageSize"))
	if pageSize <= 0 {
		pageSize = 25
	}
	offset := page * pageSize

	rows, total, err := s.db.ListFragmentBatches(offset, pageSize)
	if err != nil {
		s.renderError(c, http.StatusInternalServerError, err)
		return
	}
	dtos := make([]BatchDTO, 0, len(rows))
	for _, row := range rows {
		dtos = append(dtos, BatchFromModel(row))
	}
	c.JSON(http.StatusOK, BatchesResponse{Items: dtos, Total: total})
}

func (s *Server) handleGetBatch(c *gin.Context) {
	batchID, err := parseUintParam(c.Param("id"))
	if err != nil {
		s.renderError(c, http.StatusBadRequest, err)
		return
	}

	batch, err := s.db.GetFragmentBatch(batchID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.renderError(c, http.StatusNotFound, fmt.Errorf("batch %d not found", batchID))
		} else {
			s.renderError(c, http.StatusInternalServerError, err)
		}
		return
	}

	processed, err := s.db.CountBatchResults(batch.ID)
	if err != nil {
		s.renderError(c, http.StatusInternalServerError, err)
		return
	}
	dto := BatchFromModel(*batch)
	dto.ProcessedFragments = processed
	c.JSON(http.StatusOK, dto)
}

func (s *Server) handleBatchResults(c *gin.Context) {
	batchID, err := parseUintParam(c.Param("id"))
	if err != nil {
		s.renderError(c, http.StatusBadRequest, err)
		return
	}
	if _, err := s.db.GetFragmentBatch(batchID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.renderError(c, http.StatusNotFound, fmt.Errorf("batch %d not found", batchID))
		} else {
			s.renderError(c, http.StatusInternalServerError, err)
		}
		return
	}
	s.renderResults(c, batchID)
}

func (s *Server) handleRequestStatus(c *gin.Context) {
	requestID, err := parseUintParam(c.Param("id"))
	if err != nil {
		s.renderError(c, http.StatusBadRequest, err)
		return
	}

	request, err := s.db.GetBatchRequest(requestID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.renderError(c, http.StatusNotFound, fmt.Errorf("request %d not found", requestID))
		} else {
			s.renderError(c, http.StatusInternalServerError, err)
		}
		return
	}

	c.JSON(http.StatusOK, BatchRequestFromModel(*request))
}

func (s *Server) handleUpload(c *gin.Context) {
	batchName := strings.TrimSpace(c.PostForm("batch_name"))
	if batchName == "" {
		s.renderError(c, http.StatusBadRequest, errors.New("batch_name is required"))
		return
	}
	ownerName := strings.TrimSpace(c.PostForm("owner_name"))
	if ownerName == "" {
		s.renderError(c, http.StatusBadRequest, errors.New("owner_name is required"))
		return
	}

	fileHeader, err := c.FormFile("fragments")
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, http.ErrMissingFile) {
			s.renderError(c, status, errors.New("fragments csv file is required"))
		} else {
			s.renderError(c, status, err)
		}
		return
	}

	path, cleanup, err := saveFormFile(fileHeader)
	if err != nil {
		s.renderError(c, http.StatusInternalServerError, err)
		return
	}
	if cleanup != nil {
		defer cleanup()
	}

	parsed, err := parseFragmentCSV(path)
	if err != nil {
		s.renderError(c, http.StatusBadRequest, err)
		return
	}
	if parsed.rowCount == 0 {
		s.renderError(c, http.StatusBadRequest, errors.New("no fragments detected in csv"))
		return
	}

	existing, err := s.db.ExistingDetectionKeys(parsed.uniqueKeys)
	if err != nil {
		s.renderError(c, http.StatusInternalServerError, err)
		return
	}
	existingCount := len(existing)

	batch, err := s.db.CreateFragmentBatch(batchName, ownerName, fileHeader.Filename)
	if err != nil {
		s.renderError(c, http.StatusInternalServerError, err)
		return
	}

	for i := range parsed.rows {
		parsed.rows[i].BatchID = batch.ID
	}
	if err := s.db.ReplaceBatchFragments(batch.ID, parsed.rows); err != nil {
		s.renderError(c, http.StatusInternalServerError, fmt.Errorf("store batch fragments: %w", err))
		return
	}

	processedCount, err := s.db.CountBatchResults(batch.ID)
	if err != nil {
		s.renderError(c, http.StatusInternalServerError, err)
		return
	}

	if err := s.db.UpdateFragmentBatchStats(
		batch.ID,
		parsed.rowCount,
		len(parsed.uniqueKeys),
		existingCount,
		parsed.duplicateRows,
		processedCount,
	); err != nil {
		s.renderError(c, http.StatusInternalServerError, err)
		return
	}

	c.JSON(http.StatusOK, UploadResponse{
		BatchID:           batch.ID,
		BatchName:         batch.Name,
		Owner:             batch.Owner,
		RowCount:          parsed.rowCount,
		UniqueFragments:   len(parsed.uniqueKeys),
		ExistingFragments: existingCount,
		DuplicateRows:     parsed.duplicateRows,
		Processed:         processedCount,
		TemplateCount:     s.classifier.TemplateCount(),
	})
}

func (s *Server) handleClassify(c *gin.Context) {
	var req ClassifyRequest
	if c.Request.Body != nil {
		if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
			s.renderError(c, http.StatusBadRequest, err)
			return
		}
	}

	if req.BatchID == 0 {
		s.renderError(c, http.StatusBadRequest, errors.New("batch_id is required"))
		return
	}

	batch, err := s.db.GetFragmentBatch(req.BatchID)
	if err != nil {
		s.renderError(c, http.StatusNotFound, fmt.Errorf("batch %d not found", req.BatchID))
		return
	}

	totalFragments, err := s.db.CountBatchFragments(batch.ID)
	if err != nil {
		s.renderError(c, http.StatusInternalServerError, err)
		return
	}
	if totalFragments == 0 {
		s.renderError(c, http.StatusBadRequest, errors.New("batch has no fragments to classify"))
		return
	}

	s.jobMu.Lock()
	defer s.jobMu.Unlock()
	if s.activeJob != nil {
		s.renderError(c, http.StatusConflict, errors.New("classification already running"))
		return
	}

	job, err := s.startClassification(req, batch, int64(totalFragments))
	if err != nil {
		s.renderError(c, http.StatusInternalServerError, err)
		return
	}

	response := StartClassifyResponse{
		JobID:     job.id,
		BatchID:   batch.ID,
		RequestID: job.requestID,
		Total:     job.total,
		StartedAt: job.startedAt,
	}
	c.JSON(http.StatusAccepted, response)
}

func (s *Server) handleCancelClassify(c *gin.Context) {
	jobID := strings.TrimSpace(c.Param("jobID"))
	if jobID == "" {
		s.renderError(c, http.StatusBadRequest, errors.New("job id required"))
		return
	}

	s.jobMu.Lock()
	defer s.jobMu.Unlock()
	if s.activeJob == nil {
		s.renderError(c, http.StatusNotFound, errors.New("no classification running"))
		return
	}
	if s.activeJob.id != jobID {
		s.renderError(c, http.StatusNotFound, errors.New("job not found"))
		return
	}

	s.activeJob.cancel()
	logrus.WithField("job", jobID).Info("classification cancellation requested")
	s.classifyNotifier.Broadcast(ClassifyEvent{
		Type:      "progress",
		JobID:     s.activeJob.id,
		BatchID:   s.activeJob.batchID,
		Total:     s.activeJob.total,
		Processed: 0,
		Message:   "cancellation requested",
	})

	c.JSON(http.StatusAccepted, gin.H{"status": "cancelling"})
}

func (s *Server) handleClassifyStatus(c *gin.Context) {
	s.jobMu.Lock()
	job := s.activeJob
	s.jobMu.Unlock()

	status := s.classifyNotifier.LastStatus()

	resp := ClassifyStatusResponse{
		Running: job != nil,
	}

	if job != nil {
		resp.JobID = job.id
		resp.BatchID = job.batchID
		resp.RequestID = job.requestID
		resp.Total = job.total
	}

	if status != nil {
		resp.State = status.Type
		resp.Message = status.Message
		if status.Processed != 0 {
			resp.Processed = status.Processed
		}
		if status.Total != 0 {
			resp.Total = status.Total
		}
		if status.BatchID != 0 {
			resp.BatchID = status.BatchID
		}
		if status.Detection != nil {
			copyDet := *status.Detection
			resp.LastDetection = &copyDet
		}
	} else if job == nil {
		// Nothing in memory; report the last persisted run, if any.
		persisted, err := s.db.LatestJobState()
		if err != nil {
			s.renderError(c, http.StatusInternalServerError, err)
			return
		}
		if persisted != nil {
			resp.JobID = persisted.JobID
			resp.BatchID = persisted.BatchID
			resp.RequestID = persisted.RequestID
			resp.State = persisted.Status
			resp.Message = persisted.Message
			resp.Processed = persisted.Processed
			resp.Total = persisted.Total
		}
	}

	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleClassifyStream(c *gin.Context) {
	upgrader := websocket.Upgrader{
		HandshakeTimeout:  5 * time.Second,
		EnableCompression: true,
		CheckOrigin: func(r *http.Request) bool {
			if len(s.allowedOrigins) == 0 {
				return true
			}
			origin := strings.TrimSpace(r.Header.Get("Origin"))
			for _, allowed := range s.allowedOrigins {
				if strings.EqualFold(origin, allowed) {
					return true
				}
			}
			return false
		},
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logrus.WithError(err).Warn("upgrade websocket")
		return
	}

	client := s.classifyNotifier.Register(conn)
	logrus.WithField("remote", conn.RemoteAddr().String()).Info("classification websocket connected")
	defer s.classifyNotifier.Unregister(client)

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if !websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logrus.WithField("remote", conn.RemoteAddr().String()).Info("classification websocket closed")
			} else {
				logrus.WithError(err).Warn("classification websocket unexpected close")
			}
			break
		}
	}
}

func (s *Server) handleResults(c *gin.Context) {
	batchID := uint(0)
	if value := strings.TrimSpace(firstNonEmpty(c.Query("batch_id"), c.Query("batchId"))); value != "" {
		parsed, err := strconv.ParseUint(value, 10, 64)
		if err != nil || parsed == 0 {
			s.renderError(c, http.StatusBadRequest, fmt.Errorf("invalid batch_id: %s", value))
			return
		}
		batchID = uint(parsed)
	}
	s.renderResults(c, batchID)
}

func (s *Server) renderResults(c *gin.Context, batchID uint) {
	query := strings.TrimSpace(c.Query("q"))
	minConfidence, _ := strconv.ParseFloat(c.Query("minConfidence"), 64)
	page, _ := strconv.Atoi(c.Query("page"))
	if page < 0 {
		page = 0
	}
	pageSize, _ := strconv.Atoi(c.Query("pageSize"))
	if pageSize <= 0 {
		pageSize = 100
	}
	offset := page * pageSize

	license := strings.TrimSpace(c.Query("license"))
	ambiguousOnly := strings.EqualFold(strings.TrimSpace(c.Query("ambiguous")), "true")
	sort := strings.TrimSpace(c.Query("sort"))

	rows, total, err := s.db.ListDetections(store.DetectionQuery{
		Query:         query,
		MinConfidence: minConfidence,
		License:       license,
		AmbiguousOnly: ambiguousOnly,
		Sort:          sort,
		Offset:        offset,
		Limit:         pageSize,
		BatchID:       batchID,
	})
	if err != nil {
		s.renderError(c, http.StatusInternalServerError, err)
		return
	}
	dtos := make([]DetectionDTO, 0, len(rows))
	for _, row := range rows {
		dtos = append(dtos, FromModel(row))
	}
	c.JSON(http.StatusOK, ResultsResponse{Items: dtos, Total: total})
}

func (s *Server) handleClearResults(c *gin.Context) {
	s.jobMu.Lock()
	running := s.activeJob != nil
	s.jobMu.Unlock()
	if running {
		s.renderError(c, http.StatusConflict, errors.New("classification running, cancel it before clearing results"))
		return
	}

	if err := s.db.ClearDetections(); err != nil {
		s.renderError(c, http.StatusInternalServerError, err)
		return
	}
	logrus.Info("stored detections cleared")
	c.JSON(http.StatusOK, gin.H{"status": "cleared"})
}

func (s *Server) handleExportCSV(c *gin.Context) {
	results, ok := s.storedResults(c)
	if !ok {
		return
	}

	payload, err := export.CSV(results)
	if err != nil {
		s.renderError(c, http.StatusInternalServerError, err)
		return
	}
	c.Header("Content-Disposition", "attachment; filename=license-detections.csv")
	c.Data(http.StatusOK, "text/csv", payload)
}

func (s *Server) handleExportJSON(c *gin.Context) {
	results, ok := s.storedResults(c)
	if !ok {
		return
	}

	payload, err := export.JSON(results)
	if err != nil {
		s.renderError(c, http.StatusInternalServerError, err)
		return
	}
	c.Header("Content-Disposition", "attachment; filename=license-detections.json")
	c.Data(http.StatusOK, "application/json", payload)
}

func (s *Server) handleExportSPDX(c *gin.Context) {
	results, ok := s.storedResults(c)
	if !ok {
		return
	}

	c.Header("Content-Disposition", "attachment; filename=license-detections.spdx")
	c.Data(http.StatusOK, "text/plain", []byte(s.spdxCatalog.Document(results)))
}

// storedResults loads persisted detections (optionally scoped to one batch)
// back into engine results for the export writers.
func (s *Server) storedResults(c *gin.Context) ([]detect.Result, bool) {
	batchID := uint(0)
	if value := strings.TrimSpace(firstNonEmpty(c.Query("batch_id"), c.Query("batchId"))); value != "" {
		parsed, err := strconv.ParseUint(value, 10, 64)
		if err != nil || parsed == 0 {
			s.renderError(c, http.StatusBadRequest, fmt.Errorf("invalid batch_id: %s", value))
			return nil, false
		}
		batchID = uint(parsed)
	}

	results, err := s.loadResults(batchID)
	if err != nil {
		s.renderError(c, http.StatusInternalServerError, err)
		return nil, false
	}
	return results, true
}

// loadResults rebuilds engine results from persisted detections, optionally
// scoped to one batch.
func (s *Server) loadResults(batchID uint) ([]detect.Result, error) {
	rows, _, err := s.db.ListDetections(store.DetectionQuery{Limit: -1, BatchID: batchID, Sort: "created_asc"})
	if err != nil {
		return nil, err
	}

	results := make([]detect.Result, 0, len(rows))
	for _, row := range rows {
		results = append(results, detect.Result{
			FragmentID:      row.FragmentID,
			DetectedLicense: row.DetectedLicense,
			SPDXID:          row.SPDXID,
			Confidence:      row.Confidence,
			IsAmbiguous:     row.IsAmbiguous,
			Matches:         row.Matches(),
			OriginalText:    row.OriginalText,
		})
	}
	return results, nil
}

func (s *Server) saveResult(result detect.Result, elapsedMs int64) error {
	det := store.Detection{
		FragmentID:       result.FragmentID,
		TextKey:          store.TextKey(result.OriginalText),
		DetectedLicense:  result.DetectedLicense,
		SPDXID:           result.SPDXID,
		Confidence:       result.Confidence,
		IsAmbiguous:      result.IsAmbiguous,
		OriginalText:     result.OriginalText,
		ProcessingTimeMs: elapsedMs,
	}
	det.SetMatches(result.Matches)
	return s.db.SaveDetection(&det)
}

func (s *Server) renderError(c *gin.Context, status int, err error) {
	c.JSON(status, gin.H{"error": err.Error()})
}

func saveFormFile(header *multipart.FileHeader) (string, func(), error) {
	if header == nil {
		return "", nil, errors.New("file header is nil")
	}
	src, err := header.Open()
	if err != nil {
		return "", nil, err
	}
	defer src.Close()

	tmp, err := os.CreateTemp("", "upload-*"+filepath.Ext(header.Filename))
	if err != nil {
		return "", nil, err
	}
	if _, err := io.Copy(tmp, src); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", nil, err
	}
	if err := tmp.Close(); err != nil {
		return "", nil, err
	}
	cleanup := func() { _ = os.Remove(tmp.Name()) }
	return tmp.Name(), cleanup, nil
}

type csvParseResult struct {
	rows          []store.BatchFragment
	uniqueKeys    []string
	rowCount      int
	duplicateRows int
}

func parseFragmentCSV(path string) (*csvParseResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	var (
		textCol         = -1
		idCol           = -1
		headerProcessed bool
		seen            = make(map[string]struct{})
		uniqueKeys      []string
		rows            []store.BatchFragment
		rowIndex        int
	)

	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv: %w", err)
		}
		if len(record) == 0 {
			continue
		}

		if !headerProcessed {
			textCol, idCol = detectFragmentColumns(record)
			headerProcessed = true
			if textCol >= 0 {
				continue // header row, move to next record
			}
			textCol = 0
		}

		if textCol < 0 || textCol >= len(record) {
			textCol = 0
		}

		text := strings.TrimSpace(record[textCol])
		text = strings.TrimPrefix(text, "\ufeff")
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}

		rowIndex++
		fragmentID := ""
		if idCol >= 0 && idCol < len(record) {
			fragmentID = strings.TrimSpace(record[idCol])
		}
		if fragmentID == "" {
			fragmentID = fmt.Sprintf("row-%d", rowIndex)
		}

		key := store.TextKey(text)
		rows = append(rows, store.BatchFragment{
			FragmentID: fragmentID,
			Text:       text,
			TextKey:    key,
			RowIndex:   rowIndex,
		})

		if _, ok := seen[key]; !ok {
			seen[key] = struct{}{}
			uniqueKeys = append(uniqueKeys, key)
		}
	}

	duplicates := rowIndex - len(uniqueKeys)
	if duplicates < 0 {
		duplicates = 0
	}

	return &csvParseResult{
		rows:          rows,
		uniqueKeys:    uniqueKeys,
		rowCount:      rowIndex,
		duplicateRows: duplicates,
	}, nil
}

func detectFragmentColumns(record []string) (textCol, idCol int) {
	textCol, idCol = -1, -1
	for idx, value := range record {
		normalized := strings.ToLower(strings.TrimSpace(value))
		switch normalized {
		case "text", "fragment", "license_text", "content", "snippet":
			if textCol < 0 {
				textCol = idx
			}
		case "id", "fragment_id", "name", "file":
			if idCol < 0 {
				idCol = idx
			}
		}
	}
	return textCol, idCol
}

func parseUintParam(value string) (uint, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return 0, errors.New("identifier is required")
	}
	parsed, err := strconv.ParseUint(trimmed, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid identifier: %w", err)
	}
	if parsed == 0 {
		return 0, errors.New("identifier must be greater than zero")
	}
	return uint(parsed), nil
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
