package baidu

import (
	"context"
	"path"
	"strconv"
	"strings"

	"resty.dev/v3"

	"github.com/chuxijin/pansync/internal/provider"
)

// shareContext pins one share message while navigating and listing it.
type shareContext struct {
	msgID  string
	fromUK string
	gid    string
	kind   provider.SourceType
}

func (s *shareContext) msgType() string {
	if s.kind == provider.SourceGroup {
		return "2"
	}

	return "1"
}

// ext returns the transfer hints every listed item carries.
func (s *shareContext) ext() map[string]any {
	m := map[string]any{
		provider.ExtMsgID:  s.msgID,
		provider.ExtFromUK: s.fromUK,
	}
	if s.gid != "" {
		m[provider.ExtGID] = s.gid
	}

	return m
}

// ListShare navigates the counterparty's share messages to the entry named
// by opts.Path's first component, descends the remaining components, and
// returns the listing under the target. Items carry msg_id/from_uk/gid in
// Ext so Transfer can address them later.
func (c *Client) ListShare(ctx context.Context, opts provider.ListShareOptions) ([]provider.FileInfo, error) {
	components := splitPath(opts.Path)
	if len(components) == 0 {
		return nil, provider.NewError(provider.DriveBaidu, "list_share", "",
			"share path must name a shared entry, got root", provider.ErrValidation)
	}

	if opts.SourceID == "" {
		return nil, provider.NewError(provider.DriveBaidu, "list_share", "",
			"source id is required", provider.ErrValidation)
	}

	sc, root, err := c.findShareRoot(ctx, opts.SourceType, opts.SourceID, components[0])
	if err != nil {
		return nil, err
	}

	// Descend the remaining path components inside the share.
	current := root
	currentPath := "/" + components[0]

	for _, name := range components[1:] {
		if current.IsDir != 1 {
			return nil, provider.NewError(provider.DriveBaidu, "list_share", "",
				currentPath+" is not a directory", provider.ErrNotFound)
		}

		children, listErr := c.shareDir(ctx, sc, current.FsID)
		if listErr != nil {
			return nil, listErr
		}

		next, found := findByName(children, name)
		if !found {
			return nil, provider.NewError(provider.DriveBaidu, "list_share", "",
				currentPath+"/"+name+" not found in share", provider.ErrNotFound)
		}

		current = next
		currentPath = currentPath + "/" + name
	}

	// A share path addressing a single file yields just that file.
	if current.IsDir != 1 {
		fi := shareToFileInfo(&current, opts.Path, sc)
		if opts.Filter != nil && opts.Filter.Excludes(&fi) {
			return nil, nil
		}

		return []provider.FileInfo{fi}, nil
	}

	return c.listShareTree(ctx, sc, current.FsID, opts)
}

// listShareTree lists a shared directory breadth first, mirroring the disk
// listing's speed semantics.
func (c *Client) listShareTree(ctx context.Context, sc *shareContext, rootFsID int64, opts provider.ListShareOptions) ([]provider.FileInfo, error) {
	type dir struct {
		path string
		fsID int64
		id   string
	}

	queue := []dir{{path: opts.Path, fsID: rootFsID, id: strconv.FormatInt(rootFsID, 10)}}

	var out []provider.FileInfo

	first := true

	for len(queue) > 0 {
		d := queue[0]
		queue = queue[1:]

		if !first && opts.Speed == provider.SpeedSlow {
			if err := c.sleep(ctx, c.opts.SlowPause); err != nil {
				return nil, err
			}
		}

		first = false

		children, err := c.shareDir(ctx, sc, d.fsID)
		if err != nil {
			return nil, err
		}

		for i := range children {
			f := shareToFileInfo(&children[i], d.path+"/"+children[i].Filename, sc)
			f.ParentID = d.id

			if opts.Filter != nil && opts.Filter.Excludes(&f) {
				continue
			}

			out = append(out, f)

			if f.IsFolder && opts.Recursive {
				queue = append(queue, dir{path: f.FilePath, fsID: children[i].FsID, id: f.FileID})
			}
		}
	}

	return out, nil
}

// findShareRoot pages through the session's share messages, newest first,
// until one contains a top-level entry with the wanted name.
func (c *Client) findShareRoot(ctx context.Context, kind provider.SourceType, sourceID, name string) (*shareContext, shareFile, error) {
	isGroup := "0"
	if kind == provider.SourceGroup {
		isGroup = "1"
	}

	for page := 1; page <= 10; page++ {
		var body sessionMsgResponse

		_, err := c.http.Get(ctx, "/mbox/msg/sessionmsg", func(r *resty.Request) {
			params := map[string]string{
				"count":      "50",
				"page":       strconv.Itoa(page),
				"is_group":   isGroup,
				"desc":       "1",
				"clienttype": "0",
				"web":        "1",
				"dp-logid":   c.logid,
			}
			if kind == provider.SourceGroup {
				params["gid"] = sourceID
			} else {
				params["to_uk"] = sourceID
			}

			r.SetQueryParams(params).SetResult(&body)
		})
		if err != nil {
			return nil, shareFile{}, err
		}

		if err := errnoErr("session_msg", body.Errno, body.ErrMsg); err != nil {
			return nil, shareFile{}, err
		}

		for _, msg := range body.Records.Msg {
			for _, f := range msg.FileList {
				if f.Filename != name {
					continue
				}

				sc := &shareContext{
					msgID:  msg.MsgID,
					fromUK: strconv.FormatInt(msg.FromUK, 10),
					kind:   kind,
				}
				if kind == provider.SourceGroup {
					sc.gid = sourceID
				}

				return sc, f, nil
			}
		}

		if body.HasMore == 0 {
			break
		}
	}

	return nil, shareFile{}, provider.NewError(provider.DriveBaidu, "list_share", "",
		"no share message contains "+name, provider.ErrNotFound)
}

// shareDir pages through one shared directory's children.
func (c *Client) shareDir(ctx context.Context, sc *shareContext, fsID int64) ([]shareFile, error) {
	var out []shareFile

	for page := 1; ; page++ {
		var body shareInfoResponse

		_, err := c.http.Get(ctx, "/mbox/msg/shareinfo", func(r *resty.Request) {
			params := map[string]string{
				"from_uk":    sc.fromUK,
				"msg_id":     sc.msgID,
				"type":       sc.msgType(),
				"fs_id":      strconv.FormatInt(fsID, 10),
				"num":        strconv.Itoa(listPageSize),
				"page":       strconv.Itoa(page),
				"clienttype": "0",
				"web":        "1",
				"dp-logid":   c.logid,
			}
			if sc.gid != "" {
				params["gid"] = sc.gid
			}

			r.SetQueryParams(params).SetResult(&body)
		})
		if err != nil {
			return nil, err
		}

		if err := errnoErr("share_info", body.Errno, body.ErrMsg); err != nil {
			return nil, err
		}

		out = append(out, body.Records...)

		if body.HasMore == 0 || len(body.Records) == 0 {
			return out, nil
		}
	}
}

func shareToFileInfo(f *shareFile, fullPath string, sc *shareContext) provider.FileInfo {
	return provider.FileInfo{
		FileID:    strconv.FormatInt(f.FsID, 10),
		FileName:  f.Filename,
		FilePath:  path.Clean(fullPath),
		IsFolder:  f.IsDir == 1,
		FileSize:  f.Size,
		CreatedAt: unixTime(f.Ctime),
		UpdatedAt: unixTime(f.Mtime),
		Ext:       sc.ext(),
	}
}

func splitPath(p string) []string {
	p = strings.Trim(path.Clean("/"+p), "/")
	if p == "" {
		return nil
	}

	return strings.Split(p, "/")
}

func findByName(files []shareFile, name string) (shareFile, bool) {
	for _, f := range files {
		if f.Filename == name {
			return f, true
		}
	}

	return shareFile{}, false
}
