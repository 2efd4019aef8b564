package alist

import (
	"context"
	"path"

	"resty.dev/v3"

	"github.com/chuxijin/pansync/internal/provider"
)

// Alist "shares" are plain directories on the same server, typically a
// mount of someone else's storage: opts.SourceID is the counterparty's base
// directory and the share path is resolved beneath it. Listings are not
// written to the file-info cache since they describe foreign content.

// ListShare lists SourceID/Path recursively. Item paths are reported
// relative to the source base (leading with opts.Path) so the diff engine
// sees the same shape as with the roster-based providers, while FileID
// keeps the absolute server path for Transfer.
func (c *Client) ListShare(ctx context.Context, opts provider.ListShareOptions) ([]provider.FileInfo, error) {
	if opts.SourceID == "" {
		return nil, provider.NewError(provider.DriveAlist, "list_share", "",
			"source id (share base directory) is required", provider.ErrValidation)
	}

	if path.Clean("/"+opts.Path) == "/" {
		return nil, provider.NewError(provider.DriveAlist, "list_share", "",
			"share path must name a shared entry, got root", provider.ErrValidation)
	}

	base := path.Clean("/" + opts.SourceID)
	root := path.Join(base, opts.Path)

	files, err := c.walk(ctx, root, walkOptions{
		recursive: opts.Recursive,
		speed:     opts.Speed,
		filter:    opts.Filter,
		decorate: func(f *provider.FileInfo) {
			// Strip the source base so FilePath aligns with opts.Path.
			if base != "/" {
				rel := f.FilePath[len(base):]
				if rel == "" {
					rel = "/"
				}

				f.FilePath = rel
			}

			f.ParentID = path.Dir(f.FileID)
		},
	})
	if err != nil {
		return nil, err
	}

	return files, nil
}

// Transfer copies share items into the target directory with fs/copy, one
// call per source directory. Alist addresses files by path, so the file
// ids are the absolute source paths recorded during listing.
func (c *Client) Transfer(ctx context.Context, req provider.TransferRequest) error {
	if len(req.FileIDs) == 0 {
		return nil
	}

	byDir := map[string][]string{}
	for _, p := range req.FileIDs {
		p = path.Clean("/" + p)
		byDir[path.Dir(p)] = append(byDir[path.Dir(p)], path.Base(p))
	}

	for srcDir, names := range byDir {
		var body envelope

		_, err := c.http.Post(ctx, "/api/fs/copy", func(r *resty.Request) {
			r.SetBody(map[string]any{
				"src_dir": srcDir,
				"dst_dir": req.TargetPath,
				"names":   names,
			}).SetResult(&body)
		})
		if err != nil {
			return err
		}

		if err := codeErr("copy "+srcDir, body.Code, body.Message); err != nil {
			return err
		}
	}

	return nil
}
