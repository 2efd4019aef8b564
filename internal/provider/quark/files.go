package quark

import (
	"context"
	"path"
	"strconv"
	"strings"
	"time"

	"resty.dev/v3"

	"github.com/chuxijin/pansync/internal/provider"
)

// ListDisk returns the flattened listing rooted at the directory named by
// opts. Quark addresses directories by fid; when opts.FileID is empty the
// path is resolved from the root one component at a time. Speed semantics
// match the other providers: slow pauses before each descent, fast serves
// fresh directories from the file-info cache.
func (c *Client) ListDisk(ctx context.Context, opts provider.ListDiskOptions) ([]provider.FileInfo, error) {
	rootID := opts.FileID
	if rootID == "" {
		var err error

		rootID, err = c.resolvePath(ctx, opts.Path)
		if err != nil {
			return nil, err
		}
	}

	version := opts.CacheVersion
	if version == "" {
		version = time.Now().UTC().Format("20060102150405")
	}

	type dir struct {
		path string
		fid  string
	}

	queue := []dir{{path: path.Clean("/" + opts.Path), fid: rootID}}

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

		children, err := c.dirChildren(ctx, d.path, d.fid, opts, version)
		if err != nil {
			return nil, err
		}

		for i := range children {
			f := children[i]

			if opts.Filter != nil && opts.Filter.Excludes(&f) {
				continue
			}

			out = append(out, f)

			if f.IsFolder && opts.Recursive {
				queue = append(queue, dir{path: f.FilePath, fid: f.FileID})
			}
		}
	}

	return out, nil
}

func (c *Client) dirChildren(ctx context.Context, dirPath, fid string, opts provider.ListDiskOptions, version string) ([]provider.FileInfo, error) {
	cache := c.opts.Cache

	if opts.Speed == provider.SpeedFast && cache != nil {
		fresh, err := cache.IsFresh(ctx, fid, c.opts.CacheMaxAge)
		if err != nil {
			c.opts.Logger.Warn("cache freshness check failed", "parent_id", fid, "error", err.Error())
		} else if fresh {
			return cache.Children(ctx, fid)
		}
	}

	children, err := c.fetchDir(ctx, dirPath, fid, opts.OrderBy, opts.Desc)
	if err != nil {
		return nil, err
	}

	if cache != nil && len(children) > 0 {
		if err := cache.SaveBatch(ctx, children, version); err != nil {
			c.opts.Logger.Warn("cache write failed", "parent_id", fid, "error", err.Error())
		}
	}

	return children, nil
}

// fetchDir pages through file/sort for one directory.
func (c *Client) fetchDir(ctx context.Context, dirPath, fid, orderBy string, desc bool) ([]provider.FileInfo, error) {
	var sortField string

	switch orderBy {
	case provider.OrderByTime:
		sortField = "updated_at"
	case provider.OrderBySize:
		sortField = "size"
	default:
		sortField = "file_name"
	}

	direction := "asc"
	if desc {
		direction = "desc"
	}

	sortExpr := "file_type:asc," + sortField + ":" + direction

	var out []provider.FileInfo

	for page := 1; ; page++ {
		var body sortResponse

		_, err := c.http.Get(ctx, "/1/clouddrive/file/sort", func(r *resty.Request) {
			standardQuery(r).SetQueryParams(map[string]string{
				"pdir_fid":     fid,
				"_page":        strconv.Itoa(page),
				"_size":        strconv.Itoa(listPageSize),
				"_fetch_total": "1",
				"_sort":        sortExpr,
			}).SetResult(&body)
		})
		if err != nil {
			return nil, err
		}

		if err := codeErr("list_disk", body.Code, body.Message); err != nil {
			return nil, err
		}

		for i := range body.Data.List {
			out = append(out, body.Data.List[i].toFileInfo(dirPath))
		}

		if len(body.Data.List) < listPageSize {
			return out, nil
		}
	}
}

// resolvePath walks a slash path from the root, matching one component per
// listing.
func (c *Client) resolvePath(ctx context.Context, p string) (string, error) {
	p = path.Clean("/" + p)
	if p == "/" {
		return rootFid, nil
	}

	fid := rootFid
	walked := "/"

	for _, name := range strings.Split(strings.Trim(p, "/"), "/") {
		children, err := c.fetchDir(ctx, walked, fid, provider.OrderByName, false)
		if err != nil {
			return "", err
		}

		found := false

		for i := range children {
			if children[i].FileName == name && children[i].IsFolder {
				fid = children[i].FileID
				walked = children[i].FilePath
				found = true

				break
			}
		}

		if !found {
			return "", provider.NewError(provider.DriveQuark, "resolve_path", "",
				joinName(walked, name)+" does not exist", provider.ErrNotFound)
		}
	}

	return fid, nil
}

// Mkdir creates a directory under req.ParentID (or by resolving the parent
// path when the id is absent).
func (c *Client) Mkdir(ctx context.Context, req provider.MkdirRequest) (*provider.FileInfo, error) {
	if req.Path == "" && req.Name == "" {
		return nil, provider.NewError(provider.DriveQuark, "mkdir", "",
			"path or name is required", provider.ErrValidation)
	}

	name := req.Name
	if name == "" {
		name = path.Base(req.Path)
	}

	parentID := req.ParentID
	if parentID == "" {
		var err error

		parentID, err = c.resolvePath(ctx, path.Dir(req.Path))
		if err != nil {
			return nil, err
		}
	}

	var body createResponse

	_, err := c.http.Post(ctx, "/1/clouddrive/file", func(r *resty.Request) {
		standardQuery(r).SetBody(map[string]any{
			"pdir_fid":      parentID,
			"file_name":     name,
			"dir_path":      "",
			"dir_init_lock": false,
		}).SetResult(&body)
	})
	if err != nil {
		return nil, err
	}

	// 23009 is "already exists"; honor ReturnIfExists by looking it up.
	if body.Code == 23009 && req.ReturnIfExists {
		return c.statChild(ctx, parentID, req.Path, name)
	}

	if err := codeErr("mkdir", body.Code, body.Message); err != nil {
		return nil, err
	}

	return &provider.FileInfo{
		FileID:   body.Data.Fid,
		FileName: name,
		FilePath: req.Path,
		IsFolder: true,
		ParentID: parentID,
	}, nil
}

func (c *Client) statChild(ctx context.Context, parentID, fullPath, name string) (*provider.FileInfo, error) {
	children, err := c.fetchDir(ctx, path.Dir(fullPath), parentID, provider.OrderByName, false)
	if err != nil {
		return nil, err
	}

	for i := range children {
		if children[i].FileName == name {
			return &children[i], nil
		}
	}

	return nil, provider.NewError(provider.DriveQuark, "mkdir", "",
		name+" reported as existing but not listed", provider.ErrNotFound)
}

// Remove deletes items by fid. Quark addresses deletes by id only; paths
// are ignored.
func (c *Client) Remove(ctx context.Context, _ []string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	var body deleteResponse

	_, err := c.http.Post(ctx, "/1/clouddrive/file/delete", func(r *resty.Request) {
		standardQuery(r).SetBody(map[string]any{
			"action_type":  2,
			"filelist":     ids,
			"exclude_fids": []string{},
		}).SetResult(&body)
	})
	if err != nil {
		return err
	}

	return codeErr("remove", body.Code, body.Message)
}
