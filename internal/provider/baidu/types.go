package baidu

import (
	"strconv"
	"time"

	"github.com/chuxijin/pansync/internal/provider"
)

// Wire shapes for the pan.baidu.com web API. All endpoints wrap payloads in
// an errno envelope; 0 means success.

type errnoEnvelope struct {
	Errno     int    `json:"errno"`
	RequestID any    `json:"request_id"`
	ErrMsg    string `json:"errmsg"`
}

type listResponse struct {
	errnoEnvelope
	List []diskFile `json:"list"`
}

type diskFile struct {
	FsID           int64  `json:"fs_id"`
	ServerFilename string `json:"server_filename"`
	Path           string `json:"path"`
	IsDir          int    `json:"isdir"`
	Size           int64  `json:"size"`
	ServerCtime    int64  `json:"server_ctime"`
	ServerMtime    int64  `json:"server_mtime"`
}

func (f *diskFile) toFileInfo() provider.FileInfo {
	return provider.FileInfo{
		FileID:    strconv.FormatInt(f.FsID, 10),
		FileName:  f.ServerFilename,
		FilePath:  f.Path,
		IsFolder:  f.IsDir == 1,
		FileSize:  f.Size,
		CreatedAt: unixTime(f.ServerCtime),
		UpdatedAt: unixTime(f.ServerMtime),
	}
}

// unixTime converts provider seconds to UTC, keeping zero as the zero time.
func unixTime(sec int64) time.Time {
	if sec == 0 {
		return time.Time{}
	}

	return time.Unix(sec, 0).UTC()
}

type createResponse struct {
	errnoEnvelope
	FsID int64  `json:"fs_id"`
	Path string `json:"path"`
	Name string `json:"server_filename"`
}

type userInfoResponse struct {
	Errno       int    `json:"errno"`
	BaiduName   string `json:"baidu_name"`
	NetdiskName string `json:"netdisk_name"`
	UK          int64  `json:"uk"`
	VipType     int    `json:"vip_type"` // 0 none, 1 vip, 2 super vip
}

type quotaResponse struct {
	errnoEnvelope
	Total int64 `json:"total"`
	Used  int64 `json:"used"`
}

type sessionMsgResponse struct {
	errnoEnvelope
	Records struct {
		Msg []sessionMsg `json:"msg"`
	} `json:"records"`
	HasMore int `json:"has_more"`
}

type sessionMsg struct {
	MsgID    string      `json:"msg_id"`
	FromUK   int64       `json:"uk"`
	GroupID  string      `json:"group_id"`
	MsgType  int         `json:"msg_type"`
	FileList []shareFile `json:"filelist"`
	Ctime    int64       `json:"ctime"`
}

type shareInfoResponse struct {
	errnoEnvelope
	Records []shareFile `json:"records"`
	HasMore int         `json:"has_more"`
}

type shareFile struct {
	FsID     int64  `json:"fs_id"`
	Filename string `json:"server_filename"`
	Path     string `json:"path"`
	IsDir    int    `json:"isdir"`
	Size     int64  `json:"size"`
	Ctime    int64  `json:"server_ctime"`
	Mtime    int64  `json:"server_mtime"`
}

type transferResponse struct {
	errnoEnvelope
	Info []struct {
		FsID  int64 `json:"fs_id"`
		Errno int   `json:"errno"`
	} `json:"info"`
}

type filemanagerResponse struct {
	errnoEnvelope
	Info []struct {
		Path  string `json:"path"`
		Errno int    `json:"errno"`
	} `json:"info"`
	TaskID int64 `json:"taskid"`
}

type followListResponse struct {
	errnoEnvelope
	Records []struct {
		UK         int64  `json:"uk"`
		UName      string `json:"uname"`
		NickName   string `json:"nick_name"`
		RemarkName string `json:"remark_name"`
		Avatar     string `json:"avatar_url"`
	} `json:"records"`
	HasMore int `json:"has_more"`
}

type groupListResponse struct {
	errnoEnvelope
	Records []struct {
		GID   string `json:"gid"`
		GName string `json:"gnum_name"`
		Name  string `json:"name"`
	} `json:"records"`
	HasMore int `json:"has_more"`
}
