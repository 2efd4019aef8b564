// Package baidu implements the provider client for Baidu Netdisk using the
// pan.baidu.com web API. Authentication is cookie-based: the credentials
// string is the raw cookie header and must contain a BDUSS value.
package baidu

import (
	"context"
	"encoding/base64"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"resty.dev/v3"

	"github.com/chuxijin/pansync/internal/provider"
	"github.com/chuxijin/pansync/internal/provider/httpx"
)

const (
	baseURL   = "https://pan.baidu.com"
	userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

	// listPageSize is the page size for disk and share listings.
	listPageSize = 1000
)

var bdstokenRe = regexp.MustCompile(`"bdstoken"\s*:\s*"([0-9a-f]+)"`)

func init() {
	provider.Register(provider.DriveBaidu, func(creds provider.Credentials, opts provider.Options) (provider.Client, error) {
		return NewClient(creds.Raw, opts)
	})
}

// Client talks to the Baidu Netdisk web API for one account.
type Client struct {
	http *httpx.Client
	opts provider.Options

	logid string
	uk    int64

	// bdstoken is scraped lazily from the disk home page and cached for the
	// client's lifetime.
	tokenMu  sync.Mutex
	bdstoken string

	// sleep pauses slow-mode recursion. Tests override it.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewClient builds a client from a raw cookie string. No I/O happens here;
// bad cookies surface on the first call.
func NewClient(cookie string, opts provider.Options) (*Client, error) {
	cookie = strings.TrimSpace(cookie)
	if cookie == "" || !strings.Contains(cookie, "BDUSS=") {
		return nil, provider.NewError(provider.DriveBaidu, "new_client", "",
			"cookie must contain BDUSS", provider.ErrAuth)
	}

	opts = opts.WithDefaults()

	h := httpx.New(provider.DriveBaidu, baseURL, opts.Timeout, opts.Logger).
		SetHeader("Cookie", cookie).
		SetHeader("User-Agent", userAgent).
		SetHeader("Referer", baseURL+"/disk/home")

	return &Client{
		http:  h,
		opts:  opts,
		logid: logidFromCookie(cookie),
		sleep: sleepCtx,
	}, nil
}

func (c *Client) DriveType() provider.DriveType { return provider.DriveBaidu }

// Close releases the HTTP transport.
func (c *Client) Close() error { return c.http.Close() }

// logidFromCookie derives the dp-logid query value: base64 of the BAIDUID
// cookie value. An absent BAIDUID yields an empty logid, which the API
// tolerates.
func logidFromCookie(cookie string) string {
	for _, part := range strings.Split(cookie, ";") {
		part = strings.TrimSpace(part)
		if v, ok := strings.CutPrefix(part, "BAIDUID="); ok {
			return base64.StdEncoding.EncodeToString([]byte(v))
		}
	}

	return ""
}

// token returns the cached bdstoken, scraping the disk home page on first
// use.
func (c *Client) token(ctx context.Context) (string, error) {
	c.tokenMu.Lock()
	defer c.tokenMu.Unlock()

	if c.bdstoken != "" {
		return c.bdstoken, nil
	}

	resp, err := c.http.Get(ctx, "/disk/home", nil)
	if err != nil {
		return "", err
	}

	m := bdstokenRe.FindStringSubmatch(resp.String())
	if m == nil {
		return "", provider.NewError(provider.DriveBaidu, "bdstoken", "",
			"bdstoken not present in disk home page, cookie likely expired", provider.ErrAuth)
	}

	c.bdstoken = m[1]

	return c.bdstoken, nil
}

// errnoErr maps a Baidu errno to the provider taxonomy, or nil for 0.
func errnoErr(op string, errno int, msg string) error {
	if errno == 0 {
		return nil
	}

	var sentinel error

	switch errno {
	case -6, -9, 4000023: // not logged in / invalid identity
		sentinel = provider.ErrAuth
	case -3, 2, -21, 31066: // file or share does not exist
		sentinel = provider.ErrNotFound
	case -7, -10, 12, 111: // name illegal / quota / operation rejected
		sentinel = provider.ErrBusiness
	case 31034, -65: // rate limited
		sentinel = provider.ErrTransient
	default:
		sentinel = provider.ErrBusiness
	}

	if msg == "" {
		msg = "baidu errno " + strconv.Itoa(errno)
	}

	return provider.NewError(provider.DriveBaidu, op, strconv.Itoa(errno), msg, sentinel)
}

// UserInfo fetches identity from the xpan nas endpoint and quota from the
// quota endpoint, and remembers the account's uk for share calls.
func (c *Client) UserInfo(ctx context.Context) (*provider.UserInfo, error) {
	var info userInfoResponse

	_, err := c.http.Get(ctx, "/rest/2.0/xpan/nas", func(r *resty.Request) {
		r.SetQueryParam("method", "uinfo").
			SetResult(&info)
	})
	if err != nil {
		return nil, err
	}

	if err := errnoErr("user_info", info.Errno, ""); err != nil {
		return nil, err
	}

	var quota quotaResponse

	_, err = c.http.Get(ctx, "/api/quota", func(r *resty.Request) {
		r.SetQueryParam("checkexpire", "1").
			SetQueryParam("checkfree", "1").
			SetResult(&quota)
	})
	if err != nil {
		return nil, err
	}

	if err := errnoErr("quota", quota.Errno, quota.ErrMsg); err != nil {
		return nil, err
	}

	c.uk = info.UK

	name := info.NetdiskName
	if name == "" {
		name = info.BaiduName
	}

	return &provider.UserInfo{
		UserID:     strconv.FormatInt(info.UK, 10),
		Username:   name,
		Quota:      quota.Total,
		Used:       quota.Used,
		IsVIP:      info.VipType >= 1,
		IsSuperVIP: info.VipType == 2,
	}, nil
}

// Relationships pages through the follow list or group list.
func (c *Client) Relationships(ctx context.Context, kind provider.SourceType) ([]provider.Relationship, error) {
	switch kind {
	case provider.SourceFriend:
		return c.friends(ctx)
	case provider.SourceGroup:
		return c.groups(ctx)
	default:
		return nil, provider.NewError(provider.DriveBaidu, "relationships", "",
			fmt.Sprintf("unknown source type %q", kind), provider.ErrValidation)
	}
}

func (c *Client) friends(ctx context.Context) ([]provider.Relationship, error) {
	var out []provider.Relationship

	for start := 0; ; start += 100 {
		var page followListResponse

		_, err := c.http.Get(ctx, "/mbox/relation/getfollowlist", func(r *resty.Request) {
			r.SetQueryParams(map[string]string{
				"start":      strconv.Itoa(start),
				"limit":      "100",
				"clienttype": "0",
				"web":        "1",
				"dp-logid":   c.logid,
			}).SetResult(&page)
		})
		if err != nil {
			return nil, err
		}

		if err := errnoErr("follow_list", page.Errno, page.ErrMsg); err != nil {
			return nil, err
		}

		for _, rec := range page.Records {
			name := rec.RemarkName
			if name == "" {
				name = rec.NickName
			}

			if name == "" {
				name = rec.UName
			}

			out = append(out, provider.Relationship{
				Kind:   provider.SourceFriend,
				ID:     strconv.FormatInt(rec.UK, 10),
				Name:   name,
				Avatar: rec.Avatar,
			})
		}

		if page.HasMore == 0 || len(page.Records) == 0 {
			return out, nil
		}
	}
}

func (c *Client) groups(ctx context.Context) ([]provider.Relationship, error) {
	var out []provider.Relationship

	for start := 0; ; start += 100 {
		var page groupListResponse

		_, err := c.http.Get(ctx, "/mbox/relation/getgrouplist", func(r *resty.Request) {
			r.SetQueryParams(map[string]string{
				"start":      strconv.Itoa(start),
				"limit":      "100",
				"clienttype": "0",
				"web":        "1",
				"dp-logid":   c.logid,
			}).SetResult(&page)
		})
		if err != nil {
			return nil, err
		}

		if err := errnoErr("group_list", page.Errno, page.ErrMsg); err != nil {
			return nil, err
		}

		for _, rec := range page.Records {
			name := rec.Name
			if name == "" {
				name = rec.GName
			}

			out = append(out, provider.Relationship{
				Kind: provider.SourceGroup,
				ID:   rec.GID,
				Name: name,
			})
		}

		if page.HasMore == 0 || len(page.Records) == 0 {
			return out, nil
		}
	}
}

// sleepCtx waits for d or until the context is canceled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
