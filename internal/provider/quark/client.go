// Package quark implements the provider client for Quark Drive using the
// drive-pc.quark.cn PC web API. Authentication is cookie-based; the
// credentials string is the raw cookie header and must contain the __pus
// session value. Quark addresses everything by fid, so paths are carried
// alongside ids and rebuilt from names during recursion.
package quark

import (
	"context"
	"strconv"
	"strings"
	"time"

	"resty.dev/v3"

	"github.com/chuxijin/pansync/internal/provider"
	"github.com/chuxijin/pansync/internal/provider/httpx"
)

const (
	baseURL   = "https://drive-pc.quark.cn"
	userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

	// rootFid is the drive root directory id.
	rootFid = "0"

	listPageSize = 100
)

func init() {
	provider.Register(provider.DriveQuark, func(creds provider.Credentials, opts provider.Options) (provider.Client, error) {
		return NewClient(creds.Raw, opts)
	})
}

// Client talks to the Quark Drive PC API for one account.
type Client struct {
	http *httpx.Client
	opts provider.Options

	// sleep pauses slow-mode recursion. Tests override it.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewClient builds a client from a raw cookie string.
func NewClient(cookie string, opts provider.Options) (*Client, error) {
	cookie = strings.TrimSpace(cookie)
	if cookie == "" || !strings.Contains(cookie, "__pus=") {
		return nil, provider.NewError(provider.DriveQuark, "new_client", "",
			"cookie must contain __pus", provider.ErrAuth)
	}

	opts = opts.WithDefaults()

	h := httpx.New(provider.DriveQuark, baseURL, opts.Timeout, opts.Logger).
		SetHeader("Cookie", cookie).
		SetHeader("User-Agent", userAgent).
		SetHeader("Referer", "https://pan.quark.cn/")

	return &Client{
		http:  h,
		opts:  opts,
		sleep: sleepCtx,
	}, nil
}

func (c *Client) DriveType() provider.DriveType { return provider.DriveQuark }

// Close releases the HTTP transport.
func (c *Client) Close() error { return c.http.Close() }

// standardQuery are the query params the PC client sends on every call.
func standardQuery(r *resty.Request) *resty.Request {
	return r.SetQueryParam("pr", "ucpro").SetQueryParam("fr", "pc")
}

// codeErr maps a Quark response code to the provider taxonomy, or nil for 0.
func codeErr(op string, code int, msg string) error {
	if code == 0 {
		return nil
	}

	var sentinel error

	switch code {
	case 31001, 41003: // login required / token rejected
		sentinel = provider.ErrAuth
	case 23008, 32003: // file or share missing
		sentinel = provider.ErrNotFound
	case 41013, 31101: // capacity or save limit
		sentinel = provider.ErrBusiness
	case 11001: // busy, try later
		sentinel = provider.ErrTransient
	default:
		sentinel = provider.ErrBusiness
	}

	if msg == "" {
		msg = "quark code " + strconv.Itoa(code)
	}

	return provider.NewError(provider.DriveQuark, op, strconv.Itoa(code), msg, sentinel)
}

// UserInfo fetches quota and membership from the member endpoint.
func (c *Client) UserInfo(ctx context.Context) (*provider.UserInfo, error) {
	var body memberResponse

	_, err := c.http.Get(ctx, "/1/clouddrive/member", func(r *resty.Request) {
		standardQuery(r).
			SetQueryParam("fetch_subscribe", "true").
			SetQueryParam("fetch_identity", "true").
			SetResult(&body)
	})
	if err != nil {
		return nil, err
	}

	if err := codeErr("user_info", body.Code, body.Message); err != nil {
		return nil, err
	}

	memberType := strings.ToUpper(body.Data.MemberType)

	return &provider.UserInfo{
		UserID:     body.Data.Kps,
		Username:   body.Data.Nickname,
		Quota:      body.Data.TotalCapacity,
		Used:       body.Data.UseCapacity,
		IsVIP:      memberType == "VIP" || memberType == "SUPER_VIP",
		IsSuperVIP: memberType == "SUPER_VIP",
	}, nil
}

// Relationships is not expressible on Quark: shares arrive as links, not
// through a friend or group roster.
func (c *Client) Relationships(_ context.Context, kind provider.SourceType) ([]provider.Relationship, error) {
	return nil, provider.NewError(provider.DriveQuark, "relationships", "",
		"quark has no "+string(kind)+" roster, shares are addressed by link id", provider.ErrUnsupported)
}

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
