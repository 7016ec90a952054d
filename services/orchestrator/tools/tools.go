// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package tools provides the closed set of deterministic tools the analysis
// stage may invoke: step_counter, calculator, and role_lookup.
//
// Tools never touch the network or the filesystem. All inputs arrive as
// schema-validated argument maps and all outputs are JSON-serializable maps,
// so results can be folded back into an LLM prompt verbatim.
package tools

import (
	"context"
	"errors"
)

// Sentinel errors for tool dispatch. Callers use errors.Is to distinguish
// validation failures (bad arguments) from execution failures (tool logic).
var (
	// ErrUnknownTool means the requested tool name is not registered.
	ErrUnknownTool = errors.New("unknown tool")

	// ErrValidationFailed means the arguments did not match the tool's
	// declared parameter spec. The tool body never ran.
	ErrValidationFailed = errors.New("tool argument validation failed")

	// ErrExecutionFailed means the tool ran and failed (e.g. division by zero).
	ErrExecutionFailed = errors.New("tool execution failed")
)

// ParamSpec declares one argument a tool accepts.
//
// Type is the JSON schema primitive ("string" is the only type the current
// tools need). The registry validates presence and type before dispatch.
type ParamSpec struct {
	Name        string
	Type        string
	Description string
	Required    bool
}

// Tool is one deterministic capability exposed to the analysis stage.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use; the registry is shared
// across requests.
type Tool interface {
	// Name returns the stable tool identifier exposed to the LLM.
	Name() string

	// Description returns the natural-language description the LLM sees.
	Description() string

	// Parameters returns the declared argument specs, in schema order.
	Parameters() []ParamSpec

	// Execute runs the tool with validated arguments.
	//
	// The registry guarantees args satisfies Parameters() before calling.
	// Returned maps must be JSON-serializable. Errors should wrap the
	// package sentinels where a category applies.
	Execute(ctx context.Context, args map[string]any) (map[string]any, error)
}
