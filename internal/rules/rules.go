// Package rules compiles and applies the per-config exclusion and rename
// rules. Rule lists arrive as JSON from the sync_config row and are
// compiled once per sync run.
package rules

import (
	"encoding/json"
	"fmt"
	"path"
	"regexp"
	"strings"

	"github.com/chuxijin/pansync/internal/provider"
)

// Exclusion rule targets.
const (
	TargetName      = "name"
	TargetPath      = "path"
	TargetExtension = "extension"
)

// Exclusion rule item types.
const (
	ItemFile   = "file"
	ItemFolder = "folder"
	ItemAny    = "any"
)

// Exclusion rule match modes.
const (
	ModeExact    = "exact"
	ModeContains = "contains"
	ModeRegex    = "regex"
	ModeWildcard = "wildcard"
)

// Rename rule scopes.
const (
	ScopeName = "name"
	ScopePath = "path"
)

// ExclusionRule is the wire shape of one exclusion rule.
type ExclusionRule struct {
	Pattern       string `json:"pattern"`
	Target        string `json:"target"`    // name|path|extension, empty means name
	ItemType      string `json:"item_type"` // file|folder|any, empty means any
	Mode          string `json:"mode"`      // exact|contains|regex|wildcard, empty means exact
	CaseSensitive bool   `json:"case_sensitive"`
}

// RenameRule is the wire shape of one rename rule.
type RenameRule struct {
	MatchRegex    string `json:"match_regex"`
	ReplaceString string `json:"replace_string"`
	TargetScope   string `json:"target_scope"` // name|path, empty means name
	CaseSensitive bool   `json:"case_sensitive"`
}

// compiledExclusion holds one exclusion rule ready for matching.
type compiledExclusion struct {
	rule ExclusionRule
	re   *regexp.Regexp // regex and wildcard modes
}

// Filter applies a compiled exclusion rule set. An item is excluded iff any
// rule matches. Implements provider.Filter, so folders it excludes are
// pruned from listing recursion.
type Filter struct {
	rules []compiledExclusion
}

// compiledRename holds one rename rule ready for application.
type compiledRename struct {
	rule RenameRule
	re   *regexp.Regexp
}

// Renamer applies a compiled rename rule set to source items before diffing.
type Renamer struct {
	rules []compiledRename
}

// ParseExclusionJSON decodes a JSON rule list. Empty input yields no rules.
func ParseExclusionJSON(raw string) ([]ExclusionRule, error) {
	if strings.TrimSpace(raw) == "" || raw == "null" {
		return nil, nil
	}

	var list []ExclusionRule
	if err := json.Unmarshal([]byte(raw), &list); err != nil {
		return nil, fmt.Errorf("rules: parsing exclusion rules: %w: %w", provider.ErrValidation, err)
	}

	return list, nil
}

// ParseRenameJSON decodes a JSON rename rule list. Empty input yields no
// rules.
func ParseRenameJSON(raw string) ([]RenameRule, error) {
	if strings.TrimSpace(raw) == "" || raw == "null" {
		return nil, nil
	}

	var list []RenameRule
	if err := json.Unmarshal([]byte(raw), &list); err != nil {
		return nil, fmt.Errorf("rules: parsing rename rules: %w: %w", provider.ErrValidation, err)
	}

	return list, nil
}

// CompileExclusions validates and compiles an exclusion rule list.
func CompileExclusions(list []ExclusionRule) (*Filter, error) {
	f := &Filter{rules: make([]compiledExclusion, 0, len(list))}

	for i, r := range list {
		if r.Target == "" {
			r.Target = TargetName
		}

		if r.ItemType == "" {
			r.ItemType = ItemAny
		}

		if r.Mode == "" {
			r.Mode = ModeExact
		}

		if err := validateExclusion(&r); err != nil {
			return nil, fmt.Errorf("rules: exclusion rule %d: %w", i, err)
		}

		c := compiledExclusion{rule: r}

		switch r.Mode {
		case ModeRegex:
			re, err := compilePattern(r.Pattern, r.CaseSensitive)
			if err != nil {
				return nil, fmt.Errorf("rules: exclusion rule %d: bad regex %q: %w: %w", i, r.Pattern, provider.ErrValidation, err)
			}

			c.re = re
		case ModeWildcard:
			re, err := compilePattern(wildcardToRegex(r.Pattern), r.CaseSensitive)
			if err != nil {
				return nil, fmt.Errorf("rules: exclusion rule %d: bad wildcard %q: %w: %w", i, r.Pattern, provider.ErrValidation, err)
			}

			c.re = re
		}

		f.rules = append(f.rules, c)
	}

	return f, nil
}

func validateExclusion(r *ExclusionRule) error {
	if r.Pattern == "" {
		return fmt.Errorf("empty pattern: %w", provider.ErrValidation)
	}

	switch r.Target {
	case TargetName, TargetPath, TargetExtension:
	default:
		return fmt.Errorf("unknown target %q: %w", r.Target, provider.ErrValidation)
	}

	switch r.ItemType {
	case ItemFile, ItemFolder, ItemAny:
	default:
		return fmt.Errorf("unknown item type %q: %w", r.ItemType, provider.ErrValidation)
	}

	switch r.Mode {
	case ModeExact, ModeContains, ModeRegex, ModeWildcard:
	default:
		return fmt.Errorf("unknown mode %q: %w", r.Mode, provider.ErrValidation)
	}

	return nil
}

// CompileRenames validates and compiles a rename rule list.
func CompileRenames(list []RenameRule) (*Renamer, error) {
	rn := &Renamer{rules: make([]compiledRename, 0, len(list))}

	for i, r := range list {
		if r.TargetScope == "" {
			r.TargetScope = ScopeName
		}

		if r.TargetScope != ScopeName && r.TargetScope != ScopePath {
			return nil, fmt.Errorf("rules: rename rule %d: unknown scope %q: %w", i, r.TargetScope, provider.ErrValidation)
		}

		if r.MatchRegex == "" {
			return nil, fmt.Errorf("rules: rename rule %d: empty match regex: %w", i, provider.ErrValidation)
		}

		re, err := compilePattern(r.MatchRegex, r.CaseSensitive)
		if err != nil {
			return nil, fmt.Errorf("rules: rename rule %d: bad regex %q: %w: %w", i, r.MatchRegex, provider.ErrValidation, err)
		}

		rn.rules = append(rn.rules, compiledRename{rule: r, re: re})
	}

	return rn, nil
}

// compilePattern compiles pattern, prefixing (?i) when the rule is
// case-insensitive.
func compilePattern(pattern string, caseSensitive bool) (*regexp.Regexp, error) {
	if !caseSensitive {
		pattern = "(?i)" + pattern
	}

	return regexp.Compile(pattern)
}

// wildcardToRegex converts a glob pattern to a regex: * matches any run,
// ? matches one character, everything else is literal.
func wildcardToRegex(pattern string) string {
	quoted := regexp.QuoteMeta(pattern)
	quoted = strings.ReplaceAll(quoted, `\*`, `.*`)
	quoted = strings.ReplaceAll(quoted, `\?`, `.`)

	return "^" + quoted + "$"
}

// Excludes reports whether any rule matches the item.
func (f *Filter) Excludes(fi *provider.FileInfo) bool {
	if f == nil {
		return false
	}

	for i := range f.rules {
		if f.rules[i].matches(fi) {
			return true
		}
	}

	return false
}

// Len returns the number of compiled rules.
func (f *Filter) Len() int {
	if f == nil {
		return 0
	}

	return len(f.rules)
}

func (c *compiledExclusion) matches(fi *provider.FileInfo) bool {
	r := &c.rule

	if r.ItemType == ItemFile && fi.IsFolder {
		return false
	}

	if r.ItemType == ItemFolder && !fi.IsFolder {
		return false
	}

	var value string

	switch r.Target {
	case TargetName:
		value = fi.FileName
	case TargetPath:
		value = fi.FilePath
	case TargetExtension:
		value = fi.Extension()
		if value == "" {
			return false
		}
	}

	switch r.Mode {
	case ModeExact:
		return fold(value, r.CaseSensitive) == fold(r.Pattern, r.CaseSensitive)
	case ModeContains:
		return strings.Contains(fold(value, r.CaseSensitive), fold(r.Pattern, r.CaseSensitive))
	case ModeRegex, ModeWildcard:
		return c.re.MatchString(value)
	}

	return false
}

func fold(s string, caseSensitive bool) string {
	if caseSensitive {
		return s
	}

	return strings.ToLower(s)
}

// Apply rewrites one item through the rename rules, returning a copy. For
// name-scope rules the path's final component is rebuilt when the name
// changes; for path-scope rules the path is rewritten directly and the name
// follows the new final component.
func (rn *Renamer) Apply(fi provider.FileInfo) provider.FileInfo {
	if rn == nil {
		return fi
	}

	for i := range rn.rules {
		c := &rn.rules[i]

		switch c.rule.TargetScope {
		case ScopeName:
			newName := c.re.ReplaceAllString(fi.FileName, c.rule.ReplaceString)
			if newName != fi.FileName {
				fi.FileName = newName
				fi.FilePath = path.Join(path.Dir(fi.FilePath), newName)
			}
		case ScopePath:
			newPath := c.re.ReplaceAllString(fi.FilePath, c.rule.ReplaceString)
			if newPath != fi.FilePath {
				fi.FilePath = newPath
				fi.FileName = path.Base(newPath)
			}
		}
	}

	return fi
}

// ApplyAll maps Apply over a listing, returning a new slice.
func (rn *Renamer) ApplyAll(items []provider.FileInfo) []provider.FileInfo {
	if rn == nil || len(rn.rules) == 0 {
		return items
	}

	out := make([]provider.FileInfo, len(items))
	for i := range items {
		out[i] = rn.Apply(items[i])
	}

	return out
}

// Len returns the number of compiled rename rules.
func (rn *Renamer) Len() int {
	if rn == nil {
		return 0
	}

	return len(rn.rules)
}
