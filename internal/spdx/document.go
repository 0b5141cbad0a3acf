package spdx

import (
	"fmt"
	"sort"
	"strings"

	"license-triage/backend/internal/detect"
)

// Document renders a batch of detection results as an SPDX tag-value
// document. Results are grouped by concluded license; fragments without a
// usable identifier fall under NOASSERTION. Pure serialization: scores are
// taken as-is, never recomputed.
func (c *Catalog) Document(results []detect.Result) string {
	lines := []string{
		"SPDXVersion: SPDX-2.3",
		"DataLicense: CC0-1.0",
		"SPDXID: SPDXRef-DOCUMENT",
		"DocumentName: License Detection Report",
		"DocumentNamespace: https://example.com/license-detection",
		"",
		"## Package Information",
		"",
	}

	groups := make(map[string][]detect.Result)
	var order []string
	for _, result := range results {
		id := strings.TrimSpace(result.SPDXID)
		if id == "" || id == detect.NoSPDXID {
			id = "NOASSERTION"
		}
		if _, ok := groups[id]; !ok {
			order = append(order, id)
		}
		groups[id] = append(groups[id], result)
	}

	for i, id := range order {
		group := groups[id]
		num := i + 1
		lines = append(lines,
			fmt.Sprintf("## Package %d", num),
			fmt.Sprintf("PackageName: Fragment-%d", num),
			fmt.Sprintf("SPDXID: SPDXRef-Package-%d", num),
			fmt.Sprintf("PackageLicenseDeclared: %s", id),
			fmt.Sprintf("PackageLicenseConcluded: %s", id),
			"PackageCopyrightText: NOASSERTION",
			fmt.Sprintf("PackageComment: Detected with confidence %.3f", group[0].Confidence),
			"",
		)
	}

	lines = append(lines, "## Extracted Licenses", "")

	unique := make([]string, 0, len(order))
	for _, id := range order {
		if id != "NOASSERTION" {
			unique = append(unique, id)
		}
	}
	sort.Strings(unique)
	for _, id := range unique {
		name := id
		if info, ok := c.Lookup(id); ok {
			name = info.Name
		}
		lines = append(lines,
			fmt.Sprintf("LicenseID: LicenseRef-%s", id),
			fmt.Sprintf("ExtractedText: %s", name),
			"",
		)
	}

	return strings.Join(lines, "\n")
}
