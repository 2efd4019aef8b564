// Package syncer holds the diff engine and the sync executor: it turns two
// remote listings into the minimum set of provider operations and records a
// full task/item audit trail for every run.
package syncer

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/chuxijin/pansync/internal/provider"
)

// Method selects how source and target trees are reconciled.
type Method string

const (
	// MethodIncremental copies missing items and never deletes.
	MethodIncremental Method = "incremental"
	// MethodFull copies missing items and deletes target extras.
	MethodFull Method = "full"
	// MethodOverwrite clears the target's top level and copies the source's
	// top level flat. One level only; no recursion.
	MethodOverwrite Method = "overwrite"
)

// ParseMethod converts a wire/database string to a Method. Unknown values
// are a validation error, never a silent default.
func ParseMethod(s string) (Method, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case string(MethodIncremental):
		return MethodIncremental, nil
	case string(MethodFull):
		return MethodFull, nil
	case string(MethodOverwrite):
		return MethodOverwrite, nil
	default:
		return "", fmt.Errorf("syncer: unknown sync method %q: %w", s, provider.ErrValidation)
	}
}

// SrcMeta is the parsed src_meta JSON column: where the share comes from.
type SrcMeta struct {
	SourceType string         `json:"source_type"`
	SourceID   string         `json:"source_id"`
	ExtParams  map[string]any `json:"ext_params,omitempty"`
}

// DstMeta is the parsed dst_meta JSON column: the target root's native id.
type DstMeta struct {
	FileID string `json:"file_id"`
}

// ParseSrcMeta decodes the src_meta column.
func ParseSrcMeta(raw string) (*SrcMeta, error) {
	var m SrcMeta
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, fmt.Errorf("syncer: parsing src_meta: %w: %w", provider.ErrValidation, err)
	}

	if m.SourceID == "" {
		return nil, fmt.Errorf("syncer: src_meta missing source_id: %w", provider.ErrValidation)
	}

	if _, err := provider.ParseSourceType(m.SourceType); err != nil {
		return nil, err
	}

	return &m, nil
}

// ParseDstMeta decodes the dst_meta column. A missing file_id is allowed;
// providers fall back to path addressing.
func ParseDstMeta(raw string) (*DstMeta, error) {
	if strings.TrimSpace(raw) == "" {
		return &DstMeta{}, nil
	}

	var m DstMeta
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, fmt.Errorf("syncer: parsing dst_meta: %w: %w", provider.ErrValidation, err)
	}

	return &m, nil
}

// AddItem is one source item to transfer, augmented with its resolved
// placement in the target tree. TargetParentID is the nearest ancestor
// known to exist before materialization and is fixed up in place once
// missing directories are created.
type AddItem struct {
	provider.FileInfo

	TargetFullPath   string
	TargetParentPath string
	TargetParentID   string
}

// Plan is the diff output. ToUpdate and ToRename are kept for shape but
// never populated; consumers must treat them as empty.
type Plan struct {
	ToAdd    []AddItem
	ToDelete []provider.FileInfo
	ToUpdate []provider.FileInfo
	ToRename []provider.FileInfo
}

// AddGroup is the set of additions sharing one target parent, transferred
// in a single provider call.
type AddGroup struct {
	ParentPath string
	ParentID   string
	Items      []AddItem
}

// Counts are the summary counters persisted as the task's task_num JSON.
type Counts struct {
	ToAdd          int `json:"to_add"`
	ToDelete       int `json:"to_delete"`
	AddedSuccess   int `json:"added_success"`
	AddedFail      int `json:"added_fail"`
	DeletedSuccess int `json:"deleted_success"`
	DeletedFail    int `json:"deleted_fail"`
	DirsCreated    int `json:"dirs_created"`
	DirsFailed     int `json:"dirs_failed"`
}

// JSON renders the counters for the sync_task row.
func (c Counts) JSON() string {
	b, err := json.Marshal(c)
	if err != nil {
		return "{}"
	}

	return string(b)
}

// ItemOutcome is one attempted unit's result, surfaced to administrative
// callers in the success envelope.
type ItemOutcome struct {
	Type     string `json:"type"`
	SrcPath  string `json:"src_path,omitempty"`
	DstPath  string `json:"dst_path,omitempty"`
	FileName string `json:"file_name,omitempty"`
	FileSize int64  `json:"file_size,omitempty"`
	ErrMsg   string `json:"err_msg,omitempty"`
}

// RunReport is the caller-visible result of one sync run.
type RunReport struct {
	TaskID    int64         `json:"task_id"`
	ConfigID  int64         `json:"config_id"`
	RunID     string        `json:"run_id"`
	Status    string        `json:"status"`
	DuraMs    int64         `json:"dura_ms"`
	Counts    Counts        `json:"counts"`
	Succeeded []ItemOutcome `json:"succeeded"`
	Failed    []ItemOutcome `json:"failed"`
}
