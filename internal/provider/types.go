// Package provider defines the uniform contract over heterogeneous
// cloud-drive APIs: a canonical file shape, the operation set every drive
// client implements, and the error taxonomy shared by all of them.
package provider

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// DriveType identifies a cloud-drive provider.
type DriveType string

const (
	DriveBaidu DriveType = "BaiduDrive"
	DriveQuark DriveType = "QuarkDrive"
	DriveAlist DriveType = "AlistDrive"
)

// ParseDriveType converts a wire/database string to a DriveType. Legacy
// lowercase aliases are accepted. Unknown values are a validation error,
// never a silent default.
func ParseDriveType(s string) (DriveType, error) {
	switch strings.TrimSpace(s) {
	case string(DriveBaidu), "baidu", "baidudrive":
		return DriveBaidu, nil
	case string(DriveQuark), "quark", "quarkdrive":
		return DriveQuark, nil
	case string(DriveAlist), "alist", "alistdrive":
		return DriveAlist, nil
	default:
		return "", &Error{Op: "parse_drive_type", Message: fmt.Sprintf("unknown drive type %q", s), Err: ErrValidation}
	}
}

// SourceType identifies the kind of counterparty a share comes from.
type SourceType string

const (
	SourceFriend SourceType = "friend"
	SourceGroup  SourceType = "group"
)

// ParseSourceType converts a wire string to a SourceType.
func ParseSourceType(s string) (SourceType, error) {
	switch strings.TrimSpace(s) {
	case string(SourceFriend):
		return SourceFriend, nil
	case string(SourceGroup):
		return SourceGroup, nil
	default:
		return "", &Error{Op: "parse_source_type", Message: fmt.Sprintf("unknown source type %q", s), Err: ErrValidation}
	}
}

// RecursionSpeed controls how listing recursion treats the provider.
type RecursionSpeed string

const (
	// SpeedNormal descends as fast as the provider allows.
	SpeedNormal RecursionSpeed = "normal"
	// SpeedSlow pauses before each descent as a courtesy to the provider.
	SpeedSlow RecursionSpeed = "slow"
	// SpeedFast consults the file-info cache and trusts fresh parents.
	SpeedFast RecursionSpeed = "fast"
)

// ParseRecursionSpeed converts a wire string to a RecursionSpeed. The empty
// string maps to SpeedNormal.
func ParseRecursionSpeed(s string) (RecursionSpeed, error) {
	switch strings.TrimSpace(s) {
	case "", string(SpeedNormal):
		return SpeedNormal, nil
	case string(SpeedSlow):
		return SpeedSlow, nil
	case string(SpeedFast):
		return SpeedFast, nil
	default:
		return "", &Error{Op: "parse_recursion_speed", Message: fmt.Sprintf("unknown recursion speed %q", s), Err: ErrValidation}
	}
}

// Order keys for disk listings.
const (
	OrderByName = "name"
	OrderByTime = "time"
	OrderBySize = "size"
)

// Ext map keys recognized by Transfer. Providers propagate these on listed
// items so the caller can hand them back when transferring.
const (
	ExtMsgID          = "msg_id"
	ExtFromUK         = "from_uk"
	ExtGID            = "gid"
	ExtOndup          = "ondup"
	ExtAsync          = "async"
	ExtShareFidToken  = "share_fid_token"
	ExtShareParentFid = "share_parent_fid"
	ExtFilesExtInfo   = "files_ext_info"
	ExtPasscode       = "passcode"
	ExtStoken         = "stoken"
)

// Ondup values for Transfer.
const (
	OndupNewcopy   = "newcopy"
	OndupSkip      = "skip"
	OndupOverwrite = "overwrite"
)

// FileInfo is the canonical shape for one remote item, passed across the
// provider, rule, diff and executor layers. Ext carries provider-specific
// transfer hints (msg_id, from_uk, share_fid_token, ...).
type FileInfo struct {
	FileID    string         `json:"file_id"`
	FileName  string         `json:"file_name"`
	FilePath  string         `json:"file_path"`
	IsFolder  bool           `json:"is_folder"`
	FileSize  int64          `json:"file_size"`
	ParentID  string         `json:"parent_id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	Ext       map[string]any `json:"file_ext,omitempty"`
}

// ExtString returns the string value for key in Ext, or "".
func (f *FileInfo) ExtString(key string) string {
	if f.Ext == nil {
		return ""
	}

	if v, ok := f.Ext[key].(string); ok {
		return v
	}

	return ""
}

// Extension returns the suffix after the final dot in FileName, or "" for
// folders and dotless names.
func (f *FileInfo) Extension() string {
	if f.IsFolder {
		return ""
	}

	idx := strings.LastIndexByte(f.FileName, '.')
	if idx < 0 || idx == len(f.FileName)-1 {
		return ""
	}

	return f.FileName[idx+1:]
}

// UserInfo is the remote identity and quota for one account.
type UserInfo struct {
	UserID     string `json:"user_id"`
	Username   string `json:"username"`
	Quota      int64  `json:"quota"`
	Used       int64  `json:"used"`
	IsVIP      bool   `json:"is_vip"`
	IsSuperVIP bool   `json:"is_supervip"`
}

// Relationship is one friend or group the account can receive shares from.
type Relationship struct {
	Kind   SourceType `json:"kind"`
	ID     string     `json:"id"`
	Name   string     `json:"name"`
	Avatar string     `json:"avatar,omitempty"`
}

// Filter decides whether a listed item is excluded. Excluded folders are
// pruned: their children are never listed.
type Filter interface {
	Excludes(f *FileInfo) bool
}

// ListDiskOptions parameterizes a personal-disk listing.
type ListDiskOptions struct {
	Path      string
	FileID    string
	Recursive bool
	Speed     RecursionSpeed
	OrderBy   string // name|time|size, empty means name
	Desc      bool
	Filter    Filter
	// CacheVersion stamps rows written to the file-info cache during this
	// listing. Empty means the client picks a timestamp itself.
	CacheVersion string
}

// ListShareOptions parameterizes a share listing. Path must be non-empty and
// non-root; its first component names the share event to navigate into.
type ListShareOptions struct {
	SourceType SourceType
	SourceID   string
	Path       string
	Recursive  bool
	Speed      RecursionSpeed
	Filter     Filter
	// ExtParams carries source-definition parameters (passcode, gid, ...).
	ExtParams map[string]any
}

// MkdirRequest asks for a directory. With ReturnIfExists the existing
// directory is returned without error.
type MkdirRequest struct {
	Path           string
	ParentID       string
	Name           string
	ReturnIfExists bool
}

// TransferRequest copies share items into a personal target directory.
// Callers group files with a common target parent and issue one call per
// group.
type TransferRequest struct {
	SourceType SourceType
	SourceID   string
	SourcePath string
	TargetPath string
	TargetID   string
	FileIDs    []string
	Ext        map[string]any
}

// MetaCache is the file-info cache consulted by fast-mode listing. The
// store package provides the persistent implementation.
type MetaCache interface {
	// Children returns the cached valid children of parentID.
	Children(ctx context.Context, parentID string) ([]FileInfo, error)
	// IsFresh reports whether parentID has at least one valid child row
	// written within maxAge.
	IsFresh(ctx context.Context, parentID string, maxAge time.Duration) (bool, error)
	// SaveBatch smart-upserts a listing under the given cache version.
	SaveBatch(ctx context.Context, files []FileInfo, version string) error
}
