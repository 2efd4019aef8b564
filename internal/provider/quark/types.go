package quark

import (
	"time"

	"github.com/chuxijin/pansync/internal/provider"
)

// Wire shapes for the drive-pc.quark.cn API. Responses wrap payloads in a
// code/message envelope; 0 means success. Timestamps are millisecond epochs.

type envelope struct {
	Status  int    `json:"status"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type memberResponse struct {
	envelope
	Data struct {
		Kps           string `json:"kps"`
		Nickname      string `json:"nickname"`
		MemberType    string `json:"member_type"`
		TotalCapacity int64  `json:"total_capacity"`
		UseCapacity   int64  `json:"use_capacity"`
	} `json:"data"`
}

type sortResponse struct {
	envelope
	Data struct {
		List []quarkFile `json:"list"`
	} `json:"data"`
	Metadata struct {
		Total int `json:"_total"`
		Size  int `json:"_size"`
		Page  int `json:"_page"`
	} `json:"metadata"`
}

type quarkFile struct {
	Fid           string `json:"fid"`
	FileName      string `json:"file_name"`
	PdirFid       string `json:"pdir_fid"`
	Size          int64  `json:"size"`
	Dir           bool   `json:"dir"`
	CreatedAt     int64  `json:"created_at"`
	UpdatedAt     int64  `json:"updated_at"`
	ShareFidToken string `json:"share_fid_token"`
}

// toFileInfo converts one entry, rebuilding the path from the parent's.
func (f *quarkFile) toFileInfo(parentPath string) provider.FileInfo {
	return provider.FileInfo{
		FileID:    f.Fid,
		FileName:  f.FileName,
		FilePath:  joinName(parentPath, f.FileName),
		IsFolder:  f.Dir,
		FileSize:  f.Size,
		ParentID:  f.PdirFid,
		CreatedAt: msTime(f.CreatedAt),
		UpdatedAt: msTime(f.UpdatedAt),
	}
}

type createResponse struct {
	envelope
	Data struct {
		Fid string `json:"fid"`
	} `json:"data"`
}

type deleteResponse struct {
	envelope
	Data struct {
		TaskID string `json:"task_id"`
	} `json:"data"`
}

type shareTokenResponse struct {
	envelope
	Data struct {
		Stoken string `json:"stoken"`
		Title  string `json:"title"`
	} `json:"data"`
}

type shareDetailResponse struct {
	envelope
	Data struct {
		List []quarkFile `json:"list"`
	} `json:"data"`
	Metadata struct {
		Total int `json:"_total"`
	} `json:"metadata"`
}

type shareSaveResponse struct {
	envelope
	Data struct {
		TaskID string `json:"task_id"`
	} `json:"data"`
}

func msTime(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}

	return time.UnixMilli(ms).UTC()
}

func joinName(parentPath, name string) string {
	if parentPath == "/" || parentPath == "" {
		return "/" + name
	}

	return parentPath + "/" + name
}
