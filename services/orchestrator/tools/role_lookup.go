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
	_ "embed"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrUnknownRole means the requested role is not in the permission table.
var ErrUnknownRole = errors.New("unknown role")

//go:embed roles.yaml
var embeddedRoleTable []byte

// rolePermissions is one role's entry in the embedded permission table.
type rolePermissions struct {
	CanRequest           []string `yaml:"can_request"`
	CanApprove           []string `yaml:"can_approve"`
	ApprovalLimit        int      `yaml:"approval_limit"`
	RequiresApprovalFrom string   `yaml:"requires_approval_from"`
}

type roleTableFile struct {
	Roles map[string]rolePermissions `yaml:"roles"`
}

// RoleLookup answers permission questions against a fixed role table.
//
// The table is embedded at build time; there is no runtime mutation
// surface, so answers are reproducible for a given binary.
type RoleLookup struct {
	roles map[string]rolePermissions
}

// NewRoleLookup parses the embedded role table.
// A malformed embedded table is a build defect, so it fails hard.
func NewRoleLookup() *RoleLookup {
	var file roleTableFile
	if err := yaml.Unmarshal(embeddedRoleTable, &file); err != nil {
		log.Fatalf("FATAL: embedded roles.yaml is malformed: %v", err)
	}
	return &RoleLookup{roles: file.Roles}
}

func (r *RoleLookup) Name() string { return "role_lookup" }

func (r *RoleLookup) Description() string {
	return "Looks up what an organizational role can request and approve, its approval " +
		"spending limit, and who must approve its own requests."
}

func (r *RoleLookup) Parameters() []ParamSpec {
	return []ParamSpec{
		{Name: "role", Type: "string", Description: "The role to look up, e.g. \"manager\".", Required: true},
	}
}

// KnownRoles returns the role names in the table, sorted.
func (r *RoleLookup) KnownRoles() []string {
	names := make([]string, 0, len(r.roles))
	for name := range r.roles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *RoleLookup) Execute(_ context.Context, args map[string]any) (map[string]any, error) {
	role := strings.ToLower(strings.TrimSpace(args["role"].(string)))

	perms, ok := r.roles[role]
	if !ok {
		return nil, fmt.Errorf("%w: %q (available roles: %s)",
			ErrUnknownRole, role, strings.Join(r.KnownRoles(), ", "))
	}

	canRequest := perms.CanRequest
	if canRequest == nil {
		canRequest = []string{}
	}
	canApprove := perms.CanApprove
	if canApprove == nil {
		canApprove = []string{}
	}

	return map[string]any{
		"role":                   role,
		"found":                  true,
		"can_request":            canRequest,
		"can_approve":            canApprove,
		"approval_limit":         perms.ApprovalLimit,
		"requires_approval_from": perms.RequiresApprovalFrom,
	}, nil
}
