package baidu

import (
	"context"
	"strconv"
	"time"

	"resty.dev/v3"

	"github.com/chuxijin/pansync/internal/provider"
)

// ListDisk returns the flattened listing rooted at opts.Path. Recursion is
// breadth first, one API call per directory per page. Slow mode pauses
// before each descent; fast mode serves directories whose cached children
// are fresh straight from the file-info cache and only calls the API for
// stale ones.
func (c *Client) ListDisk(ctx context.Context, opts provider.ListDiskOptions) ([]provider.FileInfo, error) {
	if opts.Path == "" {
		return nil, provider.NewError(provider.DriveBaidu, "list_disk", "",
			"path is required", provider.ErrValidation)
	}

	version := opts.CacheVersion
	if version == "" {
		version = time.Now().UTC().Format("20060102150405")
	}

	type dir struct {
		path string
		id   string
	}

	queue := []dir{{path: opts.Path, id: opts.FileID}}

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

		children, err := c.dirChildren(ctx, d.path, d.id, opts, version)
		if err != nil {
			return nil, err
		}

		for i := range children {
			f := children[i]
			f.ParentID = d.id

			if opts.Filter != nil && opts.Filter.Excludes(&f) {
				continue
			}

			out = append(out, f)

			if f.IsFolder && opts.Recursive {
				queue = append(queue, dir{path: f.FilePath, id: f.FileID})
			}
		}
	}

	return out, nil
}

// dirChildren returns one directory's children, consulting the cache in
// fast mode and writing fetched listings back through it.
func (c *Client) dirChildren(ctx context.Context, dirPath, dirID string, opts provider.ListDiskOptions, version string) ([]provider.FileInfo, error) {
	cache := c.opts.Cache

	if opts.Speed == provider.SpeedFast && cache != nil && dirID != "" {
		fresh, err := cache.IsFresh(ctx, dirID, c.opts.CacheMaxAge)
		if err != nil {
			c.opts.Logger.Warn("cache freshness check failed", "parent_id", dirID, "error", err.Error())
		} else if fresh {
			return cache.Children(ctx, dirID)
		}
	}

	children, err := c.fetchDir(ctx, dirPath, opts.OrderBy, opts.Desc)
	if err != nil {
		return nil, err
	}

	if cache != nil && len(children) > 0 {
		for i := range children {
			children[i].ParentID = dirID
		}

		if err := cache.SaveBatch(ctx, children, version); err != nil {
			c.opts.Logger.Warn("cache write failed", "parent_id", dirID, "error", err.Error())
		}
	}

	return children, nil
}

// fetchDir pages through /api/list for one directory.
func (c *Client) fetchDir(ctx context.Context, dirPath, orderBy string, desc bool) ([]provider.FileInfo, error) {
	if orderBy == "" {
		orderBy = provider.OrderByName
	}

	descVal := "0"
	if desc {
		descVal = "1"
	}

	var out []provider.FileInfo

	for page := 1; ; page++ {
		var body listResponse

		_, err := c.http.Get(ctx, "/api/list", func(r *resty.Request) {
			r.SetQueryParams(map[string]string{
				"dir":        dirPath,
				"order":      orderBy,
				"desc":       descVal,
				"page":       strconv.Itoa(page),
				"num":        strconv.Itoa(listPageSize),
				"web":        "1",
				"clienttype": "0",
				"dp-logid":   c.logid,
			}).SetResult(&body)
		})
		if err != nil {
			return nil, err
		}

		if err := errnoErr("list_disk", body.Errno, body.ErrMsg); err != nil {
			return nil, err
		}

		for i := range body.List {
			out = append(out, body.List[i].toFileInfo())
		}

		if len(body.List) < listPageSize {
			return out, nil
		}
	}
}
