// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package sessions

import (
	"regexp"
	"strings"
)

// prefPattern maps one declaration phrasing to a preference key.
type prefPattern struct {
	key string
	re  *regexp.Regexp
}

// prefPatterns are matched in order; later matches for the same key win,
// consistent with the store's last-write-wins merge.
var prefPatterns = []prefPattern{
	{key: "name", re: regexp.MustCompile(`(?i)\bmy name is\s+([A-Za-z][A-Za-z'-]*)`)},
	{key: "name", re: regexp.MustCompile(`(?i)\bcall me\s+([A-Za-z][A-Za-z'-]*)`)},
	{key: "role", re: regexp.MustCompile(`(?i)\bmy role is\s+([a-zA-Z][a-zA-Z ]*?)(?:[.!?,\n]|$)`)},
	{key: "role", re: regexp.MustCompile(`(?i)\bi am an?\s+(manager|director|employee|engineer|analyst|contractor)\b`)},
	{key: "team", re: regexp.MustCompile(`(?i)\bi work (?:in|at|for)\s+(?:the\s+)?([a-zA-Z][a-zA-Z ]*?)(?:\s+(?:team|department|group))?(?:[.!?,\n]|$)`)},
	{key: "preference", re: regexp.MustCompile(`(?i)\bi prefer\s+(.+?)(?:[.!?\n]|$)`)},
}

// ExtractPreferences pulls durable user facts out of a query with a fixed
// set of heuristic patterns. It returns an empty map when nothing matched;
// never an error, since a query that states no preference is the norm.
func ExtractPreferences(query string) map[string]string {
	prefs := map[string]string{}
	for _, p := range prefPatterns {
		m := p.re.FindStringSubmatch(query)
		if m == nil {
			continue
		}
		val := strings.TrimSpace(m[1])
		if val == "" {
			continue
		}
		prefs[p.key] = val
	}
	return prefs
}
