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
	"fmt"
	"sort"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("aleutian.orchestrator.tools")

// Registry holds the closed set of tools available to the analysis stage.
//
// The set is fixed at construction; there is no runtime registration surface
// beyond NewRegistry, so a query can never reach a tool that was not wired
// in at startup.
type Registry struct {
	byName map[string]Tool
}

// NewRegistry builds a registry from the given tools.
// Duplicate names panic; that is a programming error, not a runtime state.
func NewRegistry(ts ...Tool) *Registry {
	r := &Registry{byName: make(map[string]Tool, len(ts))}
	for _, t := range ts {
		if _, exists := r.byName[t.Name()]; exists {
			panic(fmt.Sprintf("duplicate tool registration: %s", t.Name()))
		}
		r.byName[t.Name()] = t
	}
	return r
}

// DefaultRegistry returns the standard tool set for the agentic pipeline.
func DefaultRegistry() *Registry {
	return NewRegistry(
		NewStepCounter(),
		NewCalculator(),
		NewRoleLookup(),
	)
}

// Names returns the registered tool names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Get returns the named tool, or ErrUnknownTool.
func (r *Registry) Get(name string) (Tool, error) {
	t, ok := r.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q (known tools: %v)", ErrUnknownTool, name, r.Names())
	}
	return t, nil
}

// Dispatch validates args against the named tool's parameter spec and
// executes it.
//
// Validation failures return ErrValidationFailed without running the tool.
// Execution failures are wrapped in ErrExecutionFailed. Either way the
// caller recovers locally; a failed tool never aborts the query.
func (r *Registry) Dispatch(ctx context.Context, name string, args map[string]any) (map[string]any, error) {
	ctx, span := tracer.Start(ctx, "Registry.Dispatch")
	defer span.End()
	span.SetAttributes(attribute.String("tool.name", name))

	t, err := r.Get(name)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "unknown tool")
		return nil, err
	}

	if err := validateArgs(t, args); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "validation failed")
		return nil, err
	}

	result, err := t.Execute(ctx, args)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "execution failed")
		return nil, fmt.Errorf("%w: %s: %w", ErrExecutionFailed, name, err)
	}
	return result, nil
}

// validateArgs checks the argument map against the tool's declared specs.
// Required params must be present, all params must have the declared type,
// and no undeclared keys are accepted.
func validateArgs(t Tool, args map[string]any) error {
	specs := t.Parameters()
	declared := make(map[string]ParamSpec, len(specs))
	for _, spec := range specs {
		declared[spec.Name] = spec
		val, present := args[spec.Name]
		if !present {
			if spec.Required {
				return fmt.Errorf("%w: %s: missing required argument %q",
					ErrValidationFailed, t.Name(), spec.Name)
			}
			continue
		}
		if err := checkType(val, spec.Type); err != nil {
			return fmt.Errorf("%w: %s: argument %q: %w",
				ErrValidationFailed, t.Name(), spec.Name, err)
		}
	}
	for key := range args {
		if _, ok := declared[key]; !ok {
			return fmt.Errorf("%w: %s: undeclared argument %q",
				ErrValidationFailed, t.Name(), key)
		}
	}
	return nil
}

func checkType(val any, want string) error {
	switch want {
	case "string":
		if _, ok := val.(string); !ok {
			return fmt.Errorf("expected string, got %T", val)
		}
	case "number":
		switch val.(type) {
		case float64, float32, int, int64:
		default:
			return fmt.Errorf("expected number, got %T", val)
		}
	default:
		return fmt.Errorf("unsupported parameter type %q", want)
	}
	return nil
}
