// Package export renders detection results into interchange formats. It is a
// pure presentation layer: it never re-runs classification and never touches
// the store.
package export

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"

	"license-triage/backend/internal/detect"
)

// Original text is clipped in CSV output so one verbose fragment cannot make
// the sheet unreadable.
const csvTextLimit = 100

var csvHeader = []string{"ID", "Detected License", "SPDX ID", "Confidence", "Is Ambiguous", "Original Text"}

// CSV renders results as a spreadsheet-friendly table, one row per fragment,
// in input order.
func CSV(results []detect.Result) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	if err := writer.Write(csvHeader); err != nil {
		return nil, fmt.Errorf("write csv header: %w", err)
	}
	for _, result := range results {
		row := []string{
			result.FragmentID,
			result.DetectedLicense,
			result.SPDXID,
			strconv.FormatFloat(result.Confidence, 'f', 3, 64),
			strconv.FormatBool(result.IsAmbiguous),
			truncate(result.OriginalText, csvTextLimit),
		}
		if err := writer.Write(row); err != nil {
			return nil, fmt.Errorf("write csv row: %w", err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("flush csv: %w", err)
	}
	return buf.Bytes(), nil
}

// JSON renders results as an indented JSON array, full fidelity, no
// truncation.
func JSON(results []detect.Result) ([]byte, error) {
	data, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal results: %w", err)
	}
	return data, nil
}

func truncate(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit]) + "..."
}
