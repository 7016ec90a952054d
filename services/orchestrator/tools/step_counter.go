// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package tools

import (
	"context"
	"strings"
)

// maxMatchingLines caps how many matching lines step_counter echoes back.
const maxMatchingLines = 5

// StepCounter counts lines of a text that contain a keyword.
//
// Matching is case-insensitive and line-oriented: a line containing the
// keyword three times still counts once. Useful for questions like
// "how many steps does the expense procedure have".
type StepCounter struct{}

func NewStepCounter() *StepCounter { return &StepCounter{} }

func (s *StepCounter) Name() string { return "step_counter" }

func (s *StepCounter) Description() string {
	return "Counts the lines in a text that contain a given keyword (case-insensitive). " +
		"Returns the count and up to five matching lines."
}

func (s *StepCounter) Parameters() []ParamSpec {
	return []ParamSpec{
		{Name: "text", Type: "string", Description: "The text to scan, one candidate step per line.", Required: true},
		{Name: "keyword", Type: "string", Description: "The keyword to count lines by.", Required: true},
	}
}

func (s *StepCounter) Execute(_ context.Context, args map[string]any) (map[string]any, error) {
	text := args["text"].(string)
	keyword := args["keyword"].(string)

	needle := strings.ToLower(keyword)
	count := 0
	var matching []string
	for _, line := range strings.Split(text, "\n") {
		if strings.Contains(strings.ToLower(line), needle) {
			count++
			if len(matching) < maxMatchingLines {
				matching = append(matching, strings.TrimSpace(line))
			}
		}
	}
	if matching == nil {
		matching = []string{}
	}

	return map[string]any{
		"keyword":        keyword,
		"count":          count,
		"matching_lines": matching,
	}, nil
}
