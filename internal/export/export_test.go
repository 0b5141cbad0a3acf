package export

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"strings"
	"testing"

	"license-triage/backend/internal/detect"
)

func sampleResults() []detect.Result {
	return []detect.Result{
		{
			FragmentID:      "frag-1",
			DetectedLicense: "MIT License",
			SPDXID:          "MIT",
			Confidence:      0.9,
			IsAmbiguous:     false,
			OriginalText:    "Permission is hereby granted, free of charge",
		},
		{
			FragmentID:      "frag-2",
			DetectedLicense: detect.UnknownLicense,
			SPDXID:          detect.NoSPDXID,
			Confidence:      0,
			IsAmbiguous:     true,
			OriginalText:    strings.Repeat("x", 150),
		},
	}
}

func TestCSV(t *testing.T) {
	payload, err := CSV(sampleResults())
	if err != nil {
		t.Fatalf("csv: %v", err)
	}

	records, err := csv.NewReader(bytes.NewReader(payload)).ReadAll()
	if err != nil {
		t.Fatalf("parse csv: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected header plus 2 rows got %d", len(records))
	}

	header := records[0]
	expected := []string{"ID", "Detected License", "SPDX ID", "Confidence", "Is Ambiguous", "Original Text"}
	for i, col := range expected {
		if header[i] != col {
			t.Fatalf("header column %d: expected %q got %q", i, col, header[i])
		}
	}

	first := records[1]
	if first[0] != "frag-1" || first[1] != "MIT License" || first[2] != "MIT" {
		t.Fatalf("unexpected first row: %v", first)
	}
	if first[3] != "0.900" {
		t.Fatalf("expected confidence 0.900 got %q", first[3])
	}
	if first[4] != "false" {
		t.Fatalf("expected ambiguous false got %q", first[4])
	}

	second := records[2]
	if len(second[5]) != 103 || !strings.HasSuffix(second[5], "...") {
		t.Fatalf("expected 100 chars plus ellipsis got %d chars", len(second[5]))
	}
}

func TestCSVEmpty(t *testing.T) {
	payload, err := CSV(nil)
	if err != nil {
		t.Fatalf("csv: %v", err)
	}
	records, err := csv.NewReader(bytes.NewReader(payload)).ReadAll()
	if err != nil {
		t.Fatalf("parse csv: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected header only got %d rows", len(records))
	}
}

func TestJSON(t *testing.T) {
	payload, err := JSON(sampleResults())
	if err != nil {
		t.Fatalf("json: %v", err)
	}

	var decoded []detect.Result
	if err := json.Unmarshal(payload, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(decoded) != 2 {
		t.Fatalf("expected 2 results got %d", len(decoded))
	}
	if decoded[0].DetectedLicense != "MIT License" {
		t.Fatalf("expected MIT License got %q", decoded[0].DetectedLicense)
	}
	// JSON export keeps the full text, no truncation.
	if len(decoded[1].OriginalText) != 150 {
		t.Fatalf("expected untruncated text got %d chars", len(decoded[1].OriginalText))
	}
}
