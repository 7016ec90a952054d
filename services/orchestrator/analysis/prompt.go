// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package analysis

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/AleutianAI/PolicyAssistant/services/orchestrator/datatypes"
)

const analysisSystemPrompt = `You are a company policy assistant. Answer the user's question ` +
	`using ONLY the policy excerpts provided. If the excerpts do not contain the answer, say so ` +
	`plainly instead of guessing. Cite the source document names when you use them. ` +
	`Use the available tools when the question requires counting process steps, arithmetic, ` +
	`or looking up role permissions.`

const noContextNote = `No policy excerpts matched this question. Say that the policy corpus ` +
	`has no relevant material and suggest the user rephrase or contact HR directly. Do not invent policy.`

// BuildMessages assembles the chat history for the analysis call: system
// prompt, remembered session facts, prior turns, retrieved excerpts, then
// the current question.
func BuildMessages(query string, chunks []datatypes.RetrievedChunk,
	sessCtx datatypes.SessionContext) []datatypes.Message {

	messages := []datatypes.Message{
		{Role: "system", Content: analysisSystemPrompt},
	}

	if len(sessCtx.Preferences) > 0 {
		var sb strings.Builder
		sb.WriteString("Known facts about this user:\n")
		for _, k := range sortedKeys(sessCtx.Preferences) {
			fmt.Fprintf(&sb, "- %s: %s\n", k, sessCtx.Preferences[k])
		}
		messages = append(messages, datatypes.Message{Role: "system", Content: sb.String()})
	}

	for _, turn := range sessCtx.RecentTurns {
		messages = append(messages,
			datatypes.Message{Role: "user", Content: turn.Query},
			datatypes.Message{Role: "assistant", Content: turn.Answer},
		)
	}

	messages = append(messages, datatypes.Message{
		Role:    "user",
		Content: buildQueryContent(query, chunks),
	})
	return messages
}

func buildQueryContent(query string, chunks []datatypes.RetrievedChunk) string {
	var sb strings.Builder
	if len(chunks) == 0 {
		sb.WriteString(noContextNote)
		sb.WriteString("\n\n")
	} else {
		sb.WriteString("Policy excerpts:\n\n")
		for _, c := range chunks {
			fmt.Fprintf(&sb, "[%d] %s\n%s\n\n", c.Rank, c.Source, c.Content)
		}
	}
	sb.WriteString("Question: ")
	sb.WriteString(query)
	return sb.String()
}

// foldToolResults renders executed tool outputs as a follow-up message so
// the model can weave them into its final answer.
func foldToolResults(results []toolOutcome) string {
	var sb strings.Builder
	sb.WriteString("Tool results:\n\n")
	for _, r := range results {
		encoded, err := json.Marshal(r.Result)
		if err != nil {
			encoded = []byte(fmt.Sprintf("%v", r.Result))
		}
		fmt.Fprintf(&sb, "%s(%s) -> %s\n", r.Name, compactArgs(r.Arguments), encoded)
	}
	sb.WriteString("\nUsing these results and the policy excerpts, answer the original question.")
	return sb.String()
}

func compactArgs(args map[string]any) string {
	encoded, err := json.Marshal(args)
	if err != nil {
		return ""
	}
	return string(encoded)
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
