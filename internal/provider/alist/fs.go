package alist

import (
	"context"
	"path"
	"strconv"
	"time"

	"resty.dev/v3"

	"github.com/chuxijin/pansync/internal/provider"
)

type listResponse struct {
	envelope
	Data struct {
		Content []alistEntry `json:"content"`
		Total   int          `json:"total"`
	} `json:"data"`
}

type alistEntry struct {
	Name     string    `json:"name"`
	Size     int64     `json:"size"`
	IsDir    bool      `json:"is_dir"`
	Modified time.Time `json:"modified"`
	Created  time.Time `json:"created"`
	Sign     string    `json:"sign"`
}

func (e *alistEntry) toFileInfo(parentPath string) provider.FileInfo {
	full := path.Join(parentPath, e.Name)

	return provider.FileInfo{
		FileID:    full, // Alist has no ids; the path is the id
		FileName:  e.Name,
		FilePath:  full,
		IsFolder:  e.IsDir,
		FileSize:  e.Size,
		ParentID:  parentPath,
		CreatedAt: e.Created.UTC(),
		UpdatedAt: e.Modified.UTC(),
	}
}

// ListDisk returns the flattened listing under opts.Path. Speed semantics
// match the other providers; the cache is keyed by directory path since
// that is the id space here.
func (c *Client) ListDisk(ctx context.Context, opts provider.ListDiskOptions) ([]provider.FileInfo, error) {
	if opts.Path == "" {
		return nil, provider.NewError(provider.DriveAlist, "list_disk", "",
			"path is required", provider.ErrValidation)
	}

	version := opts.CacheVersion
	if version == "" {
		version = time.Now().UTC().Format("20060102150405")
	}

	return c.walk(ctx, path.Clean("/"+opts.Path), walkOptions{
		recursive: opts.Recursive,
		speed:     opts.Speed,
		filter:    opts.Filter,
		version:   version,
		useCache:  true,
	})
}

// walkOptions parameterizes the shared BFS used by disk and share listings.
type walkOptions struct {
	recursive bool
	speed     provider.RecursionSpeed
	filter    provider.Filter
	version   string
	useCache  bool
	decorate  func(*provider.FileInfo)
}

func (c *Client) walk(ctx context.Context, root string, wo walkOptions) ([]provider.FileInfo, error) {
	queue := []string{root}

	var out []provider.FileInfo

	first := true

	for len(queue) > 0 {
		dir := queue[0]
		queue = queue[1:]

		if !first && wo.speed == provider.SpeedSlow {
			if err := c.sleep(ctx, c.opts.SlowPause); err != nil {
				return nil, err
			}
		}

		first = false

		children, err := c.dirChildren(ctx, dir, wo)
		if err != nil {
			return nil, err
		}

		for i := range children {
			f := children[i]
			// FileID keeps the absolute server path even when decorate
			// rewrites FilePath, so recursion descends the real location.
			serverPath := f.FileID

			if wo.decorate != nil {
				wo.decorate(&f)
			}

			if wo.filter != nil && wo.filter.Excludes(&f) {
				continue
			}

			out = append(out, f)

			if f.IsFolder && wo.recursive {
				queue = append(queue, serverPath)
			}
		}
	}

	return out, nil
}

func (c *Client) dirChildren(ctx context.Context, dir string, wo walkOptions) ([]provider.FileInfo, error) {
	cache := c.opts.Cache

	if wo.useCache && wo.speed == provider.SpeedFast && cache != nil {
		fresh, err := cache.IsFresh(ctx, dir, c.opts.CacheMaxAge)
		if err != nil {
			c.opts.Logger.Warn("cache freshness check failed", "parent_id", dir, "error", err.Error())
		} else if fresh {
			return cache.Children(ctx, dir)
		}
	}

	children, err := c.fetchDir(ctx, dir)
	if err != nil {
		return nil, err
	}

	if wo.useCache && cache != nil && len(children) > 0 {
		if err := cache.SaveBatch(ctx, children, wo.version); err != nil {
			c.opts.Logger.Warn("cache write failed", "parent_id", dir, "error", err.Error())
		}
	}

	return children, nil
}

// fetchDir pages through /api/fs/list for one directory.
func (c *Client) fetchDir(ctx context.Context, dir string) ([]provider.FileInfo, error) {
	var out []provider.FileInfo

	for page := 1; ; page++ {
		var body listResponse

		_, err := c.http.Post(ctx, "/api/fs/list", func(r *resty.Request) {
			r.SetBody(map[string]any{
				"path":     dir,
				"page":     page,
				"per_page": listPageSize,
				"refresh":  false,
				"password": "",
			}).SetResult(&body)
		})
		if err != nil {
			return nil, err
		}

		if err := codeErr("list "+dir, body.Code, body.Message); err != nil {
			return nil, err
		}

		for i := range body.Data.Content {
			out = append(out, body.Data.Content[i].toFileInfo(dir))
		}

		if len(out) >= body.Data.Total || len(body.Data.Content) < listPageSize {
			return out, nil
		}
	}
}

// Mkdir creates a directory by path.
func (c *Client) Mkdir(ctx context.Context, req provider.MkdirRequest) (*provider.FileInfo, error) {
	if req.Path == "" {
		return nil, provider.NewError(provider.DriveAlist, "mkdir", "",
			"path is required", provider.ErrValidation)
	}

	var body envelope

	_, err := c.http.Post(ctx, "/api/fs/mkdir", func(r *resty.Request) {
		r.SetBody(map[string]any{"path": req.Path}).SetResult(&body)
	})
	if err != nil {
		return nil, err
	}

	// Alist mkdir is idempotent: an existing directory answers 200 too, so
	// ReturnIfExists needs no special casing.
	if err := codeErr("mkdir", body.Code, body.Message); err != nil {
		return nil, err
	}

	return &provider.FileInfo{
		FileID:   req.Path,
		FileName: path.Base(req.Path),
		FilePath: req.Path,
		IsFolder: true,
		ParentID: path.Dir(req.Path),
	}, nil
}

// Remove deletes items by path, batching one call per parent directory.
func (c *Client) Remove(ctx context.Context, paths []string, _ []string) error {
	if len(paths) == 0 {
		return nil
	}

	byDir := map[string][]string{}
	for _, p := range paths {
		p = path.Clean("/" + p)
		byDir[path.Dir(p)] = append(byDir[path.Dir(p)], path.Base(p))
	}

	for dir, names := range byDir {
		var body envelope

		_, err := c.http.Post(ctx, "/api/fs/remove", func(r *resty.Request) {
			r.SetBody(map[string]any{
				"dir":   dir,
				"names": names,
			}).SetResult(&body)
		})
		if err != nil {
			return err
		}

		if err := codeErr("remove "+dir+" ("+strconv.Itoa(len(names))+" items)",
			body.Code, body.Message); err != nil {
			return err
		}
	}

	return nil
}
