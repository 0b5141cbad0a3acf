package main

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"license-triage/backend/internal/detect"
	"license-triage/backend/internal/templates"
	"license-triage/backend/internal/util"
)

func main() {
	var (
		templatesPath = flag.String("templates", "", "Path to license templates JSON (built-in catalog when empty)")
		samplesPath   = flag.String("samples", "", "Path to labeled samples CSV with text and expected_license columns")
		threshold     = flag.Float64("threshold", detect.DefaultThreshold, "Minimum combined score for a confident detection")
		margin        = flag.Float64("margin", detect.DefaultAmbiguityMargin, "Maximum top-two score gap still flagged as ambiguous")
		outputPath    = flag.String("output", "", "Optional path to write metrics JSON")
	)
	flag.Parse()

	if strings.TrimSpace(*samplesPath) == "" {
		logrus.Fatal("samples CSV path is required (-samples)")
	}

	catalog, err := templates.Load(*templatesPath)
	if err != nil {
		logrus.Fatalf("load templates: %v", err)
	}
	if err := templates.Validate(catalog); err != nil {
		logrus.Fatalf("validate templates: %v", err)
	}

	samples, err := readSamples(*samplesPath)
	if err != nil {
		logrus.Fatalf("read samples: %v", err)
	}
	if len(samples) == 0 {
		logrus.Fatal("no samples found in CSV")
	}

	classifier := detect.NewClassifier(catalog, detect.Options{
		Threshold:       *threshold,
		AmbiguityMargin: *margin,
	})

	logrus.WithFields(logrus.Fields{
		"templates": classifier.TemplateCount(),
		"samples":   len(samples),
		"threshold": *threshold,
		"margin":    *margin,
	}).Info("starting evaluation run")

	timer := util.StartTimer()
	metrics := classifier.Evaluate(samples)
	duration := timer.Elapsed().Round(time.Millisecond)

	logrus.WithFields(logrus.Fields{
		"samples":         metrics.TotalSamples,
		"correct":         metrics.Correct,
		"true_positives":  metrics.TruePositives,
		"false_positives": metrics.FalsePositives,
		"false_negatives": metrics.FalseNegatives,
		"accuracy":        fmt.Sprintf("%.4f", metrics.Accuracy),
		"precision":       fmt.Sprintf("%.4f", metrics.Precision),
		"recall":          fmt.Sprintf("%.4f", metrics.Recall),
		"f1":              fmt.Sprintf("%.4f", metrics.F1Score),
		"duration":        duration,
	}).Info("evaluation complete")

	if *outputPath != "" {
		if err := writeMetrics(*outputPath, metrics); err != nil {
			logrus.Fatalf("write metrics: %v", err)
		}
		logrus.WithField("path", *outputPath).Info("metrics written to file")
	}
}

func readSamples(path string) ([]detect.Sample, error) {
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
		expectedCol     = -1
		idCol           = -1
		headerProcessed bool
		samples         []detect.Sample
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
			headerProcessed = true
			for idx, value := range record {
				switch strings.ToLower(strings.TrimSpace(value)) {
				case "text", "fragment", "license_text", "content":
					if textCol < 0 {
						textCol = idx
					}
				case "expected", "expected_license", "label", "license":
					if expectedCol < 0 {
						expectedCol = idx
					}
				case "id", "fragment_id", "name":
					if idCol < 0 {
						idCol = idx
					}
				}
			}
			if textCol >= 0 {
				continue // header row, move to next record
			}
			// Headerless files: first column is text, second the label.
			textCol = 0
			expectedCol = 1
		}

		if textCol >= len(record) {
			continue
		}
		text := strings.TrimSpace(strings.TrimPrefix(record[textCol], "\ufeff"))
		if text == "" {
			continue
		}

		rowIndex++
		expected := ""
		if expectedCol >= 0 && expectedCol < len(record) {
			expected = strings.TrimSpace(record[expectedCol])
		}
		id := ""
		if idCol >= 0 && idCol < len(record) {
			id = strings.TrimSpace(record[idCol])
		}
		if id == "" {
			id = fmt.Sprintf("sample-%d", rowIndex)
		}

		samples = append(samples, detect.Sample{
			Fragment:        detect.Fragment{ID: id, RawText: text},
			ExpectedLicense: expected,
		})
	}

	return samples, nil
}

func writeMetrics(path string, metrics detect.Metrics) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil && !os.IsExist(err) {
			return err
		}
	}
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	return encoder.Encode(metrics)
}
