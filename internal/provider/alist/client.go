// Package alist implements the provider client for an Alist server. The
// credentials string is a JSON document naming the server and its API
// token: {"base_url":"https://alist.example.com","token":"alist-..."}.
// Alist has no native file ids; paths serve as ids throughout, which keeps
// the uniform FileInfo contract intact.
package alist

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"resty.dev/v3"

	"github.com/chuxijin/pansync/internal/provider"
	"github.com/chuxijin/pansync/internal/provider/httpx"
)

const listPageSize = 500

func init() {
	provider.Register(provider.DriveAlist, func(creds provider.Credentials, opts provider.Options) (provider.Client, error) {
		return NewClient(creds.Raw, opts)
	})
}

// credentials is the parsed credentials JSON.
type credentials struct {
	BaseURL string `json:"base_url"`
	Token   string `json:"token"`
}

// Client talks to one Alist server.
type Client struct {
	http *httpx.Client
	opts provider.Options

	// sleep pauses slow-mode recursion. Tests override it.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewClient builds a client from the credentials JSON.
func NewClient(raw string, opts provider.Options) (*Client, error) {
	var creds credentials
	if err := json.Unmarshal([]byte(raw), &creds); err != nil {
		return nil, provider.NewError(provider.DriveAlist, "new_client", "",
			"credentials must be JSON with base_url and token", provider.ErrAuth)
	}

	creds.BaseURL = strings.TrimRight(strings.TrimSpace(creds.BaseURL), "/")
	if creds.BaseURL == "" || creds.Token == "" {
		return nil, provider.NewError(provider.DriveAlist, "new_client", "",
			"credentials missing base_url or token", provider.ErrAuth)
	}

	opts = opts.WithDefaults()

	token := creds.Token
	if !strings.HasPrefix(token, "Bearer ") {
		token = "Bearer " + token
	}

	h := httpx.New(provider.DriveAlist, creds.BaseURL, opts.Timeout, opts.Logger).
		SetHeader("Authorization", token).
		SetHeader("Content-Type", "application/json")

	return &Client{
		http:  h,
		opts:  opts,
		sleep: sleepCtx,
	}, nil
}

func (c *Client) DriveType() provider.DriveType { return provider.DriveAlist }

// Close releases the HTTP transport.
func (c *Client) Close() error { return c.http.Close() }

// envelope is the Alist response wrapper; code 200 means success.
type envelope struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func codeErr(op string, code int, msg string) error {
	if code == 200 {
		return nil
	}

	var sentinel error

	switch {
	case code == 401 || code == 403:
		sentinel = provider.ErrAuth
	case code == 404 || strings.Contains(msg, "not found"):
		sentinel = provider.ErrNotFound
	case code == 429 || code >= 500 && strings.Contains(msg, "timeout"):
		sentinel = provider.ErrTransient
	default:
		sentinel = provider.ErrBusiness
	}

	return provider.NewError(provider.DriveAlist, op, strconv.Itoa(code), msg, sentinel)
}

type meResponse struct {
	envelope
	Data struct {
		ID       int    `json:"id"`
		Username string `json:"username"`
		Role     int    `json:"role"`
	} `json:"data"`
}

// UserInfo fetches the token's identity. Alist exposes no quota; Quota and
// Used stay zero.
func (c *Client) UserInfo(ctx context.Context) (*provider.UserInfo, error) {
	var body meResponse

	_, err := c.http.Get(ctx, "/api/me", func(r *resty.Request) {
		r.SetResult(&body)
	})
	if err != nil {
		return nil, err
	}

	if err := codeErr("user_info", body.Code, body.Message); err != nil {
		return nil, err
	}

	return &provider.UserInfo{
		UserID:   strconv.Itoa(body.Data.ID),
		Username: body.Data.Username,
	}, nil
}

// Relationships is not expressible on Alist: sources are plain server
// paths, not a friend or group roster.
func (c *Client) Relationships(_ context.Context, kind provider.SourceType) ([]provider.Relationship, error) {
	return nil, provider.NewError(provider.DriveAlist, "relationships", "",
		"alist has no "+string(kind)+" roster, shares are addressed by path", provider.ErrUnsupported)
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
