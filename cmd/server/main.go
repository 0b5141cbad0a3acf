package main

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"license-triage/backend/internal/api"
)

func main() {
	baseDir, err := os.Getwd()
	if err != nil {
		logrus.Fatalf("determine working directory: %v", err)
	}

	dataDir := filepath.Join(baseDir, "data")
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		logrus.Fatalf("create data directory: %v", err)
	}

	threshold := 0.0
	if v := strings.TrimSpace(os.Getenv("DETECT_THRESHOLD")); v != "" {
		if val, err := strconv.ParseFloat(v, 64); err == nil && val > 0 {
			threshold = val
		}
	}
	margin := 0.0
	if v := strings.TrimSpace(os.Getenv("DETECT_AMBIGUITY_MARGIN")); v != "" {
		if val, err := strconv.ParseFloat(v, 64); err == nil && val > 0 {
			margin = val
		}
	}

	allowedOrigins := []string{
		"http://localhost:1000",
		"http://127.0.0.1:1000",
	}
	if v := strings.TrimSpace(os.Getenv("ALLOWED_ORIGINS")); v != "" {
		allowedOrigins = nil
		for _, origin := range strings.Split(v, ",") {
			if origin = strings.TrimSpace(origin); origin != "" {
				allowedOrigins = append(allowedOrigins, origin)
			}
		}
	}

	cfg := api.Config{
		DBPath:          filepath.Join(dataDir, "license-triage.db"),
		TemplatesPath:   strings.TrimSpace(os.Getenv("LICENSE_TEMPLATES_PATH")),
		AllowedOrigins:  allowedOrigins,
		Threshold:       threshold,
		AmbiguityMargin: margin,
	}

	if override := strings.TrimSpace(os.Getenv("LICENSE_TRIAGE_DB_PATH")); override != "" {
		cfg.DBPath = override
	}

	server, err := api.NewServer(cfg)
	if err != nil {
		logrus.Fatalf("create server: %v", err)
	}

	router, err := server.Router()
	if err != nil {
		logrus.Fatalf("configure router: %v", err)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = "2000"
	}

	logrus.Infof("starting license-triage backend on :%s", port)
	if err := router.Run(":" + port); err != nil {
		logrus.Fatalf("server exited: %v", err)
	}
}
