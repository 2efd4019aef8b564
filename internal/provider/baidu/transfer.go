package baidu

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strconv"

	"resty.dev/v3"

	"github.com/chuxijin/pansync/internal/provider"
)

// Mkdir creates a directory via the create endpoint. Baidu returns errno
// -8 when the path already exists; with ReturnIfExists that resolves to the
// existing directory's listing entry.
func (c *Client) Mkdir(ctx context.Context, req provider.MkdirRequest) (*provider.FileInfo, error) {
	if req.Path == "" {
		return nil, provider.NewError(provider.DriveBaidu, "mkdir", "",
			"path is required", provider.ErrValidation)
	}

	token, err := c.token(ctx)
	if err != nil {
		return nil, err
	}

	var body createResponse

	_, err = c.http.Post(ctx, "/api/create", func(r *resty.Request) {
		r.SetQueryParams(map[string]string{
			"a":          "commit",
			"bdstoken":   token,
			"clienttype": "0",
			"web":        "1",
			"dp-logid":   c.logid,
		}).SetFormData(map[string]string{
			"path":       req.Path,
			"isdir":      "1",
			"block_list": "[]",
		}).SetResult(&body)
	})
	if err != nil {
		return nil, err
	}

	if body.Errno == -8 && req.ReturnIfExists {
		return c.statDir(ctx, req.Path)
	}

	if err := errnoErr("mkdir", body.Errno, body.ErrMsg); err != nil {
		return nil, err
	}

	name := body.Name
	if name == "" {
		name = path.Base(req.Path)
	}

	return &provider.FileInfo{
		FileID:   strconv.FormatInt(body.FsID, 10),
		FileName: name,
		FilePath: req.Path,
		IsFolder: true,
		ParentID: req.ParentID,
	}, nil
}

// statDir finds a directory's entry by listing its parent.
func (c *Client) statDir(ctx context.Context, dirPath string) (*provider.FileInfo, error) {
	children, err := c.fetchDir(ctx, path.Dir(dirPath), provider.OrderByName, false)
	if err != nil {
		return nil, err
	}

	for i := range children {
		if children[i].FilePath == dirPath {
			return &children[i], nil
		}
	}

	return nil, provider.NewError(provider.DriveBaidu, "mkdir", "",
		dirPath+" reported as existing but not listed", provider.ErrNotFound)
}

// Remove deletes items by path through the filemanager endpoint. Baidu
// addresses deletes by path only; ids are ignored.
func (c *Client) Remove(ctx context.Context, paths []string, _ []string) error {
	if len(paths) == 0 {
		return nil
	}

	token, err := c.token(ctx)
	if err != nil {
		return err
	}

	filelist, err := json.Marshal(paths)
	if err != nil {
		return fmt.Errorf("baidu: encoding filelist: %w", err)
	}

	var body filemanagerResponse

	_, err = c.http.Post(ctx, "/api/filemanager", func(r *resty.Request) {
		r.SetQueryParams(map[string]string{
			"opera":      "delete",
			"async":      "2",
			"onnest":     "fail",
			"bdstoken":   token,
			"clienttype": "0",
			"web":        "1",
			"dp-logid":   c.logid,
		}).SetFormData(map[string]string{
			"filelist": string(filelist),
		}).SetResult(&body)
	})
	if err != nil {
		return err
	}

	if err := errnoErr("remove", body.Errno, body.ErrMsg); err != nil {
		return err
	}

	for _, info := range body.Info {
		if info.Errno != 0 {
			return errnoErr("remove "+info.Path, info.Errno, "")
		}
	}

	return nil
}

// Transfer saves share items into the target directory via the message-box
// transfer endpoint. One call moves every file id in the request; Ext
// supplies the share addressing (msg_id, from_uk, gid) collected during
// listing plus the ondup and async knobs.
func (c *Client) Transfer(ctx context.Context, req provider.TransferRequest) error {
	if len(req.FileIDs) == 0 {
		return nil
	}

	msgID := extString(req.Ext, provider.ExtMsgID)
	fromUK := extString(req.Ext, provider.ExtFromUK)

	if msgID == "" || fromUK == "" {
		return provider.NewError(provider.DriveBaidu, "transfer", "",
			"transfer requires msg_id and from_uk ext params", provider.ErrValidation)
	}

	token, err := c.token(ctx)
	if err != nil {
		return err
	}

	fsIDs, err := json.Marshal(req.FileIDs)
	if err != nil {
		return fmt.Errorf("baidu: encoding fs_ids: %w", err)
	}

	msgType := "1"

	gid := extString(req.Ext, provider.ExtGID)
	if req.SourceType == provider.SourceGroup || gid != "" {
		msgType = "2"
	}

	ondup := extString(req.Ext, provider.ExtOndup)
	if ondup == "" {
		ondup = provider.OndupNewcopy
	}

	async := "1"
	if v, ok := req.Ext[provider.ExtAsync]; ok {
		async = fmt.Sprint(v)
	}

	var body transferResponse

	_, err = c.http.Post(ctx, "/mbox/msg/transfer", func(r *resty.Request) {
		params := map[string]string{
			"from_uk":    fromUK,
			"msg_id":     msgID,
			"type":       msgType,
			"bdstoken":   token,
			"ondup":      ondup,
			"async":      async,
			"clienttype": "0",
			"web":        "1",
			"dp-logid":   c.logid,
		}
		if gid != "" {
			params["gid"] = gid
		}

		r.SetQueryParams(params).SetFormData(map[string]string{
			"fs_ids": string(fsIDs),
			"path":   req.TargetPath,
		}).SetResult(&body)
	})
	if err != nil {
		return err
	}

	if err := errnoErr("transfer", body.Errno, body.ErrMsg); err != nil {
		return err
	}

	for _, info := range body.Info {
		if info.Errno != 0 {
			return errnoErr("transfer fs_id "+strconv.FormatInt(info.FsID, 10), info.Errno, "")
		}
	}

	return nil
}

func extString(ext map[string]any, key string) string {
	if ext == nil {
		return ""
	}

	switch v := ext[key].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatInt(int64(v), 10)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	default:
		return ""
	}
}
