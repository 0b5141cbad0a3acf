package spdx

import (
	"strings"

	"github.com/agnivade/levenshtein"
)

// Info describes one SPDX-listed license.
type Info struct {
	SPDXID      string `json:"spdx_id"`
	Name        string `json:"name"`
	OSIApproved bool   `json:"osi_approved"`
	FSFLibre    bool   `json:"fsf_libre"`
	URL         string `json:"url"`
}

// Catalog resolves license names and identifiers to SPDX metadata. Read-only
// after construction.
type Catalog struct {
	entries []Info
}

// Beyond this fraction of edits the closest entry is not the same license.
const maxLookupDistanceRatio = 0.3

// NewCatalog returns the built-in SPDX metadata catalog.
func NewCatalog() *Catalog {
	return &Catalog{entries: []Info{
		{SPDXID: "MIT", Name: "MIT License", OSIApproved: true, FSFLibre: true, URL: "https://spdx.org/licenses/MIT.html"},
		{SPDXID: "Apache-2.0", Name: "Apache License 2.0", OSIApproved: true, FSFLibre: true, URL: "https://spdx.org/licenses/Apache-2.0.html"},
		{SPDXID: "GPL-2.0", Name: "GNU General Public License v2.0", OSIApproved: true, FSFLibre: true, URL: "https://spdx.org/licenses/GPL-2.0.html"},
		{SPDXID: "GPL-3.0", Name: "GNU General Public License v3.0", OSIApproved: true, FSFLibre: true, URL: "https://spdx.org/licenses/GPL-3.0.html"},
		{SPDXID: "BSD-3-Clause", Name: "BSD 3-Clause License", OSIApproved: true, FSFLibre: true, URL: "https://spdx.org/licenses/BSD-3-Clause.html"},
		{SPDXID: "LGPL-2.1", Name: "GNU Lesser General Public License v2.1", OSIApproved: true, FSFLibre: true, URL: "https://spdx.org/licenses/LGPL-2.1.html"},
	}}
}

// Lookup resolves a license name or identifier to its SPDX record. Exact
// identifier matches win, then substring name matches, then the closest entry
// by edit distance when it is near enough to be the same name.
func (c *Catalog) Lookup(name string) (Info, bool) {
	query := strings.ToLower(strings.TrimSpace(name))
	if query == "" {
		return Info{}, false
	}

	for _, entry := range c.entries {
		if strings.EqualFold(entry.SPDXID, query) {
			return entry, true
		}
	}
	for _, entry := range c.entries {
		entryName := strings.ToLower(entry.Name)
		if strings.Contains(entryName, query) || strings.Contains(query, entryName) {
			return entry, true
		}
	}

	var best Info
	bestRatio := 1.0
	for _, entry := range c.entries {
		candidate := strings.ToLower(entry.Name)
		distance := levenshtein.ComputeDistance(query, candidate)
		longest := len([]rune(query))
		if l := len([]rune(candidate)); l > longest {
			longest = l
		}
		if longest == 0 {
			continue
		}
		ratio := float64(distance) / float64(longest)
		if ratio < bestRatio {
			bestRatio = ratio
			best = entry
		}
	}
	if bestRatio <= maxLookupDistanceRatio {
		return best, true
	}
	return Info{}, false
}
