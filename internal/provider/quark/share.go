package quark

import (
	"context"
	"path"
	"strconv"
	"strings"

	"resty.dev/v3"

	"github.com/chuxijin/pansync/internal/provider"
)

// Quark shares are links, not roster messages: opts.SourceID is the share's
// pwd_id (the trailing token of the share URL) and an optional passcode
// travels in opts.ExtParams. An stoken obtained from the token endpoint
// authorizes detail listing and saving; every listed file also carries its
// own share_fid_token, which the save call needs per file.

// ListShare resolves the share token, descends opts.Path inside the share
// and returns the listing under the target. Items carry stoken and
// share_fid_token in Ext for the later Transfer.
func (c *Client) ListShare(ctx context.Context, opts provider.ListShareOptions) ([]provider.FileInfo, error) {
	components := splitSharePath(opts.Path)
	if len(components) == 0 {
		return nil, provider.NewError(provider.DriveQuark, "list_share", "",
			"share path must name a shared entry, got root", provider.ErrValidation)
	}

	if opts.SourceID == "" {
		return nil, provider.NewError(provider.DriveQuark, "list_share", "",
			"source id (share pwd_id) is required", provider.ErrValidation)
	}

	passcode, _ := opts.ExtParams[provider.ExtPasscode].(string)

	stoken, err := c.shareToken(ctx, opts.SourceID, passcode)
	if err != nil {
		return nil, err
	}

	// Descend to the directory named by the path. The share's own root is
	// fid 0 inside the share namespace.
	target := quarkFile{Fid: rootFid, Dir: true}
	targetPath := "/"

	for _, name := range components {
		children, listErr := c.shareDir(ctx, opts.SourceID, stoken, target.Fid)
		if listErr != nil {
			return nil, listErr
		}

		next, found := findShareChild(children, name)
		if !found {
			return nil, provider.NewError(provider.DriveQuark, "list_share", "",
				joinName(targetPath, name)+" not found in share", provider.ErrNotFound)
		}

		target = next
		targetPath = joinName(targetPath, name)
	}

	if !target.Dir {
		fi := shareToFileInfo(&target, opts.Path, stoken)
		if opts.Filter != nil && opts.Filter.Excludes(&fi) {
			return nil, nil
		}

		return []provider.FileInfo{fi}, nil
	}

	return c.listShareTree(ctx, opts, stoken, target.Fid)
}

func (c *Client) listShareTree(ctx context.Context, opts provider.ListShareOptions, stoken, rootID string) ([]provider.FileInfo, error) {
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

		children, err := c.shareDir(ctx, opts.SourceID, stoken, d.fid)
		if err != nil {
			return nil, err
		}

		for i := range children {
			f := shareToFileInfo(&children[i], joinName(d.path, children[i].FileName), stoken)
			f.ParentID = d.fid

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

// shareToken exchanges pwd_id and passcode for an stoken.
func (c *Client) shareToken(ctx context.Context, pwdID, passcode string) (string, error) {
	var body shareTokenResponse

	_, err := c.http.Post(ctx, "/1/clouddrive/share/sharepage/token", func(r *resty.Request) {
		standardQuery(r).SetBody(map[string]any{
			"pwd_id":   pwdID,
			"passcode": passcode,
		}).SetResult(&body)
	})
	if err != nil {
		return "", err
	}

	if err := codeErr("share_token", body.Code, body.Message); err != nil {
		return "", err
	}

	if body.Data.Stoken == "" {
		return "", provider.NewError(provider.DriveQuark, "share_token", "",
			"share token response carried no stoken", provider.ErrBusiness)
	}

	return body.Data.Stoken, nil
}

// shareDir pages through one shared directory's children.
func (c *Client) shareDir(ctx context.Context, pwdID, stoken, fid string) ([]quarkFile, error) {
	var out []quarkFile

	for page := 1; ; page++ {
		var body shareDetailResponse

		_, err := c.http.Get(ctx, "/1/clouddrive/share/sharepage/detail", func(r *resty.Request) {
			standardQuery(r).SetQueryParams(map[string]string{
				"pwd_id":       pwdID,
				"stoken":       stoken,
				"pdir_fid":     fid,
				"_page":        strconv.Itoa(page),
				"_size":        strconv.Itoa(listPageSize),
				"_fetch_total": "1",
				"_sort":        "file_type:asc,file_name:asc",
			}).SetResult(&body)
		})
		if err != nil {
			return nil, err
		}

		if err := codeErr("share_detail", body.Code, body.Message); err != nil {
			return nil, err
		}

		out = append(out, body.Data.List...)

		if len(body.Data.List) < listPageSize {
			return out, nil
		}
	}
}

// Transfer saves share files into the target directory. fid_token_list is
// rebuilt from the per-file ext info collected during listing, in the same
// order as FileIDs.
func (c *Client) Transfer(ctx context.Context, req provider.TransferRequest) error {
	if len(req.FileIDs) == 0 {
		return nil
	}

	stoken := extString(req.Ext, provider.ExtStoken)
	if stoken == "" {
		return provider.NewError(provider.DriveQuark, "transfer", "",
			"transfer requires the stoken ext param", provider.ErrValidation)
	}

	if req.SourceID == "" {
		return provider.NewError(provider.DriveQuark, "transfer", "",
			"transfer requires the share pwd_id as source id", provider.ErrValidation)
	}

	tokens, err := fidTokens(req)
	if err != nil {
		return err
	}

	if req.TargetID == "" {
		req.TargetID, err = c.resolvePath(ctx, req.TargetPath)
		if err != nil {
			return err
		}
	}

	var body shareSaveResponse

	_, err = c.http.Post(ctx, "/1/clouddrive/share/sharepage/save", func(r *resty.Request) {
		standardQuery(r).SetBody(map[string]any{
			"fid_list":       req.FileIDs,
			"fid_token_list": tokens,
			"to_pdir_fid":    req.TargetID,
			"pwd_id":         req.SourceID,
			"stoken":         stoken,
			"pdir_fid":       rootFid,
			"scene":          "link",
		}).SetResult(&body)
	})
	if err != nil {
		return err
	}

	return codeErr("transfer", body.Code, body.Message)
}

// fidTokens extracts one share_fid_token per file id from the files ext
// info array the executor assembles from listed items.
func fidTokens(req provider.TransferRequest) ([]string, error) {
	raw, ok := req.Ext[provider.ExtFilesExtInfo].([]map[string]any)
	if !ok || len(raw) != len(req.FileIDs) {
		return nil, provider.NewError(provider.DriveQuark, "transfer", "",
			"transfer requires one files_ext_info entry per file id", provider.ErrValidation)
	}

	tokens := make([]string, len(raw))

	for i, entry := range raw {
		token, _ := entry[provider.ExtShareFidToken].(string)
		if token == "" {
			return nil, provider.NewError(provider.DriveQuark, "transfer", "",
				"files_ext_info entry missing share_fid_token", provider.ErrValidation)
		}

		tokens[i] = token
	}

	return tokens, nil
}

func shareToFileInfo(f *quarkFile, fullPath, stoken string) provider.FileInfo {
	fi := f.toFileInfo(path.Dir(path.Clean("/" + fullPath)))
	fi.FilePath = path.Clean("/" + fullPath)
	fi.Ext = map[string]any{
		provider.ExtStoken:        stoken,
		provider.ExtShareFidToken: f.ShareFidToken,
	}

	return fi
}

func findShareChild(files []quarkFile, name string) (quarkFile, bool) {
	for _, f := range files {
		if f.FileName == name {
			return f, true
		}
	}

	return quarkFile{}, false
}

func splitSharePath(p string) []string {
	p = strings.Trim(path.Clean("/"+p), "/")
	if p == "" {
		return nil
	}

	return strings.Split(p, "/")
}

func extString(ext map[string]any, key string) string {
	if ext == nil {
		return ""
	}

	if v, ok := ext[key].(string); ok {
		return v
	}

	return ""
}
