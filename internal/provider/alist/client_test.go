package alist

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chuxijin/pansync/internal/provider"
)

func testOpts() provider.Options {
	return provider.Options{
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		Timeout: 5 * time.Second,
	}
}

// jsonContentType marks responses as JSON the way the real API does;
// resty only unmarshals SetResult targets for JSON content types.
func jsonContentType(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()

	srv := httptest.NewServer(jsonContentType(handler))
	t.Cleanup(srv.Close)

	raw := fmt.Sprintf(`{"base_url":%q,"token":"alist-token"}`, srv.URL)

	c, err := NewClient(raw, testOpts())
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })

	c.sleep = func(context.Context, time.Duration) error { return nil }

	return c
}

func TestNewClientValidation(t *testing.T) {
	_, err := NewClient("not json", testOpts())
	assert.ErrorIs(t, err, provider.ErrAuth)

	_, err = NewClient(`{"base_url":"https://x"}`, testOpts())
	assert.ErrorIs(t, err, provider.ErrAuth, "missing token")

	_, err = NewClient(`{"token":"t"}`, testOpts())
	assert.ErrorIs(t, err, provider.ErrAuth, "missing base_url")
}

func TestAuthorizationKeepsExistingBearerPrefix(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/me", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer alist-token", r.Header.Get("Authorization"))
		fmt.Fprint(w, `{"code":200,"data":{"id":7,"username":"admin","role":2}}`)
	})

	srv := httptest.NewServer(jsonContentType(mux))
	t.Cleanup(srv.Close)

	raw := fmt.Sprintf(`{"base_url":%q,"token":"Bearer alist-token"}`, srv.URL)

	c, err := NewClient(raw, testOpts())
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })

	_, err = c.UserInfo(context.Background())
	require.NoError(t, err)
}

func TestUserInfo(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/me", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer alist-token", r.Header.Get("Authorization"))
		fmt.Fprint(w, `{"code":200,"data":{"id":7,"username":"admin","role":2}}`)
	})

	c := newTestClient(t, mux)

	info, err := c.UserInfo(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "7", info.UserID)
	assert.Equal(t, "admin", info.Username)
}

func TestUserInfoAuthCode(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/me", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"code":401,"message":"token is invalidated"}`)
	})

	c := newTestClient(t, mux)

	_, err := c.UserInfo(context.Background())
	assert.ErrorIs(t, err, provider.ErrAuth)
}

// fsMux serves /Backup with sub/ and a.jpg, and b.jpg under sub.
func fsMux(t *testing.T) *http.ServeMux {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/api/fs/list", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		switch body["path"] {
		case "/Backup":
			fmt.Fprint(w, `{"code":200,"data":{"total":2,"content":[
				{"name":"sub","is_dir":true},
				{"name":"a.jpg","size":100,"modified":"2026-08-01T00:00:00Z"}
			]}}`)
		case "/Backup/sub":
			fmt.Fprint(w, `{"code":200,"data":{"total":1,"content":[
				{"name":"b.jpg","size":200}
			]}}`)
		default:
			fmt.Fprint(w, `{"code":500,"message":"failed get objs: object not found"}`)
		}
	})

	return mux
}

func TestListDiskRecursive(t *testing.T) {
	c := newTestClient(t, fsMux(t))

	files, err := c.ListDisk(context.Background(), provider.ListDiskOptions{
		Path:      "/Backup",
		Recursive: true,
	})
	require.NoError(t, err)
	require.Len(t, files, 3)

	assert.Equal(t, "/Backup/sub", files[0].FilePath)
	assert.Equal(t, "/Backup/sub", files[0].FileID, "path doubles as id")
	assert.Equal(t, "/Backup/a.jpg", files[1].FilePath)
	assert.Equal(t, "/Backup/sub/b.jpg", files[2].FilePath)
	assert.Equal(t, "/Backup/sub", files[2].ParentID)
}

func TestListDiskNotFound(t *testing.T) {
	c := newTestClient(t, fsMux(t))

	_, err := c.ListDisk(context.Background(), provider.ListDiskOptions{Path: "/Nope"})
	assert.ErrorIs(t, err, provider.ErrNotFound)
}

func TestListShareStripsSourceBase(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/fs/list", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		switch body["path"] {
		case "/mounts/friend/Photos":
			fmt.Fprint(w, `{"code":200,"data":{"total":2,"content":[
				{"name":"sub","is_dir":true},
				{"name":"a.jpg","size":100}
			]}}`)
		case "/mounts/friend/Photos/sub":
			fmt.Fprint(w, `{"code":200,"data":{"total":1,"content":[
				{"name":"b.jpg","size":200}
			]}}`)
		default:
			fmt.Fprint(w, `{"code":500,"message":"object not found"}`)
		}
	})

	c := newTestClient(t, mux)

	files, err := c.ListShare(context.Background(), provider.ListShareOptions{
		SourceType: provider.SourceFriend,
		SourceID:   "/mounts/friend",
		Path:       "/Photos",
		Recursive:  true,
	})
	require.NoError(t, err)
	require.Len(t, files, 3)

	// Paths align with the requested share path; ids keep the absolute
	// server location for the copy call.
	assert.Equal(t, "/Photos/sub", files[0].FilePath)
	assert.Equal(t, "/mounts/friend/Photos/sub", files[0].FileID)
	assert.Equal(t, "/Photos/sub/b.jpg", files[2].FilePath)
	assert.Equal(t, "/mounts/friend/Photos/sub/b.jpg", files[2].FileID)
}

func TestListShareRejectsRootPath(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected request %s before path validation", r.URL.Path)
	}))

	for _, p := range []string{"", "/"} {
		_, err := c.ListShare(context.Background(), provider.ListShareOptions{
			SourceType: provider.SourceFriend,
			SourceID:   "/mounts/friend",
			Path:       p,
		})
		assert.ErrorIs(t, err, provider.ErrValidation, "path %q", p)
	}
}

func TestMkdir(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/fs/mkdir", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "/Backup/sub", body["path"])
		fmt.Fprint(w, `{"code":200,"message":"success"}`)
	})

	c := newTestClient(t, mux)

	info, err := c.Mkdir(context.Background(), provider.MkdirRequest{Path: "/Backup/sub"})
	require.NoError(t, err)
	assert.Equal(t, "/Backup/sub", info.FileID)
	assert.Equal(t, "sub", info.FileName)
	assert.True(t, info.IsFolder)
}

func TestRemoveBatchesPerDirectory(t *testing.T) {
	type call struct {
		Dir   string   `json:"dir"`
		Names []string `json:"names"`
	}

	var calls []call

	mux := http.NewServeMux()
	mux.HandleFunc("/api/fs/remove", func(w http.ResponseWriter, r *http.Request) {
		var body call
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		calls = append(calls, body)
		fmt.Fprint(w, `{"code":200}`)
	})

	c := newTestClient(t, mux)

	err := c.Remove(context.Background(),
		[]string{"/Backup/a.jpg", "/Backup/b.jpg", "/Backup/sub/c.jpg"}, nil)
	require.NoError(t, err)
	require.Len(t, calls, 2)

	byDir := map[string][]string{}
	for _, cl := range calls {
		byDir[cl.Dir] = cl.Names
	}

	assert.ElementsMatch(t, []string{"a.jpg", "b.jpg"}, byDir["/Backup"])
	assert.Equal(t, []string{"c.jpg"}, byDir["/Backup/sub"])
}

func TestTransferCopiesByName(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/fs/copy", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			SrcDir string   `json:"src_dir"`
			DstDir string   `json:"dst_dir"`
			Names  []string `json:"names"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "/mounts/friend/Photos", body.SrcDir)
		assert.Equal(t, "/Backup", body.DstDir)
		assert.ElementsMatch(t, []string{"a.jpg", "b.jpg"}, body.Names)
		fmt.Fprint(w, `{"code":200}`)
	})

	c := newTestClient(t, mux)

	err := c.Transfer(context.Background(), provider.TransferRequest{
		TargetPath: "/Backup",
		FileIDs:    []string{"/mounts/friend/Photos/a.jpg", "/mounts/friend/Photos/b.jpg"},
	})
	require.NoError(t, err)
}
