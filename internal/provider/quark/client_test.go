package quark

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

const testCookie = "__pus=token123; __puus=refresh456"

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

	c, err := NewClient(testCookie, testOpts())
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })

	c.http.SetBaseURL(srv.URL)
	c.sleep = func(context.Context, time.Duration) error { return nil }

	return c
}

func TestNewClientRequiresPus(t *testing.T) {
	_, err := NewClient("other=1", testOpts())
	assert.ErrorIs(t, err, provider.ErrAuth)
}

func TestUserInfo(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/1/clouddrive/member", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "ucpro", r.URL.Query().Get("pr"))
		fmt.Fprint(w, `{"status":200,"code":0,"data":{
			"kps":"u1","nickname":"tester","member_type":"SUPER_VIP",
			"total_capacity":1000,"use_capacity":10}}`)
	})

	c := newTestClient(t, mux)

	info, err := c.UserInfo(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tester", info.Username)
	assert.Equal(t, int64(1000), info.Quota)
	assert.True(t, info.IsSuperVIP)
}

func TestUserInfoAuthCode(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/1/clouddrive/member", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"status":200,"code":31001,"message":"require login"}`)
	})

	c := newTestClient(t, mux)

	_, err := c.UserInfo(context.Background())
	assert.ErrorIs(t, err, provider.ErrAuth)
}

func TestRelationshipsUnsupported(t *testing.T) {
	c := newTestClient(t, http.NewServeMux())

	_, err := c.Relationships(context.Background(), provider.SourceFriend)
	assert.ErrorIs(t, err, provider.ErrUnsupported)
}

// diskMux serves a two-level tree: /Backup (fid d1) containing sub (d2) and
// a.jpg, with b.jpg under sub.
func diskMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/1/clouddrive/file/sort", func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("pdir_fid") {
		case "0":
			fmt.Fprint(w, `{"code":0,"data":{"list":[
				{"fid":"d1","file_name":"Backup","pdir_fid":"0","dir":true}
			]}}`)
		case "d1":
			fmt.Fprint(w, `{"code":0,"data":{"list":[
				{"fid":"d2","file_name":"sub","pdir_fid":"d1","dir":true},
				{"fid":"f1","file_name":"a.jpg","pdir_fid":"d1","size":100,"updated_at":1700000000000}
			]}}`)
		case "d2":
			fmt.Fprint(w, `{"code":0,"data":{"list":[
				{"fid":"f2","file_name":"b.jpg","pdir_fid":"d2","size":200}
			]}}`)
		default:
			fmt.Fprint(w, `{"code":23008,"message":"no such dir"}`)
		}
	})

	return mux
}

func TestListDiskResolvesPathAndRecurses(t *testing.T) {
	c := newTestClient(t, diskMux())

	files, err := c.ListDisk(context.Background(), provider.ListDiskOptions{
		Path:      "/Backup",
		Recursive: true,
	})
	require.NoError(t, err)
	require.Len(t, files, 3)

	assert.Equal(t, "/Backup/sub", files[0].FilePath)
	assert.Equal(t, "/Backup/a.jpg", files[1].FilePath)
	assert.Equal(t, "/Backup/sub/b.jpg", files[2].FilePath)
	assert.Equal(t, "d1", files[1].ParentID)
	assert.Equal(t, time.UnixMilli(1700000000000).UTC(), files[1].UpdatedAt)
}

func TestListDiskByFileIDSkipsResolution(t *testing.T) {
	calls := map[string]int{}
	mux := http.NewServeMux()
	mux.HandleFunc("/1/clouddrive/file/sort", func(w http.ResponseWriter, r *http.Request) {
		calls[r.URL.Query().Get("pdir_fid")]++
		fmt.Fprint(w, `{"code":0,"data":{"list":[]}}`)
	})

	c := newTestClient(t, mux)

	_, err := c.ListDisk(context.Background(), provider.ListDiskOptions{
		Path:   "/Backup",
		FileID: "d1",
	})
	require.NoError(t, err)
	assert.Zero(t, calls["0"], "a known fid needs no root walk")
	assert.Equal(t, 1, calls["d1"])
}

func TestListDiskMissingPath(t *testing.T) {
	c := newTestClient(t, diskMux())

	_, err := c.ListDisk(context.Background(), provider.ListDiskOptions{Path: "/Nope"})
	assert.ErrorIs(t, err, provider.ErrNotFound)
}

func TestMkdir(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/1/clouddrive/file", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "d1", body["pdir_fid"])
		assert.Equal(t, "sub", body["file_name"])
		fmt.Fprint(w, `{"code":0,"data":{"fid":"d2"}}`)
	})

	c := newTestClient(t, mux)

	info, err := c.Mkdir(context.Background(), provider.MkdirRequest{
		Path:     "/Backup/sub",
		ParentID: "d1",
	})
	require.NoError(t, err)
	assert.Equal(t, "d2", info.FileID)
	assert.True(t, info.IsFolder)
}

func TestMkdirReturnsExisting(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/1/clouddrive/file", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"code":23009,"message":"same name exists"}`)
	})
	mux.HandleFunc("/1/clouddrive/file/sort", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"code":0,"data":{"list":[
			{"fid":"d2","file_name":"sub","pdir_fid":"d1","dir":true}
		]}}`)
	})

	c := newTestClient(t, mux)

	info, err := c.Mkdir(context.Background(), provider.MkdirRequest{
		Path:           "/Backup/sub",
		ParentID:       "d1",
		ReturnIfExists: true,
	})
	require.NoError(t, err)
	assert.Equal(t, "d2", info.FileID)
}

func TestRemoveByIDs(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/1/clouddrive/file/delete", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, []any{"f1", "f2"}, body["filelist"])
		fmt.Fprint(w, `{"code":0,"data":{"task_id":"t1"}}`)
	})

	c := newTestClient(t, mux)

	require.NoError(t, c.Remove(context.Background(), []string{"/a", "/b"}, []string{"f1", "f2"}))
	require.NoError(t, c.Remove(context.Background(), []string{"/a"}, nil), "no ids is a no-op")
}

func shareMux(t *testing.T) *http.ServeMux {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/1/clouddrive/share/sharepage/token", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "pwd123", body["pwd_id"])
		fmt.Fprint(w, `{"code":0,"data":{"stoken":"stk","title":"Photos"}}`)
	})
	mux.HandleFunc("/1/clouddrive/share/sharepage/detail", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "stk", q.Get("stoken"))

		switch q.Get("pdir_fid") {
		case "0":
			fmt.Fprint(w, `{"code":0,"data":{"list":[
				{"fid":"s1","file_name":"Photos","dir":true,"share_fid_token":"tok1"}
			]}}`)
		case "s1":
			fmt.Fprint(w, `{"code":0,"data":{"list":[
				{"fid":"s2","file_name":"a.jpg","size":100,"share_fid_token":"tok2"}
			]}}`)
		default:
			fmt.Fprint(w, `{"code":32003}`)
		}
	})

	return mux
}

func TestListShare(t *testing.T) {
	c := newTestClient(t, shareMux(t))

	files, err := c.ListShare(context.Background(), provider.ListShareOptions{
		SourceType: provider.SourceFriend,
		SourceID:   "pwd123",
		Path:       "/Photos",
		Recursive:  true,
		ExtParams:  map[string]any{provider.ExtPasscode: "abcd"},
	})
	require.NoError(t, err)
	require.Len(t, files, 1)

	assert.Equal(t, "/Photos/a.jpg", files[0].FilePath)
	assert.Equal(t, "stk", files[0].Ext[provider.ExtStoken])
	assert.Equal(t, "tok2", files[0].Ext[provider.ExtShareFidToken])
}

func TestListShareRejectsRootPath(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected request %s before path validation", r.URL.Path)
	}))

	for _, p := range []string{"", "/"} {
		_, err := c.ListShare(context.Background(), provider.ListShareOptions{
			SourceType: provider.SourceFriend,
			SourceID:   "pwd123",
			Path:       p,
		})
		assert.ErrorIs(t, err, provider.ErrValidation, "path %q", p)
	}
}

func TestTransferSendsTokens(t *testing.T) {
	mux := shareMux(t)
	mux.HandleFunc("/1/clouddrive/share/sharepage/save", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, []any{"s2"}, body["fid_list"])
		assert.Equal(t, []any{"tok2"}, body["fid_token_list"])
		assert.Equal(t, "d9", body["to_pdir_fid"])
		assert.Equal(t, "stk", body["stoken"])
		fmt.Fprint(w, `{"code":0,"data":{"task_id":"t2"}}`)
	})

	c := newTestClient(t, mux)

	err := c.Transfer(context.Background(), provider.TransferRequest{
		SourceID:   "pwd123",
		TargetPath: "/Backup",
		TargetID:   "d9",
		FileIDs:    []string{"s2"},
		Ext: map[string]any{
			provider.ExtStoken: "stk",
			provider.ExtFilesExtInfo: []map[string]any{
				{provider.ExtShareFidToken: "tok2"},
			},
		},
	})
	require.NoError(t, err)
}

func TestTransferValidation(t *testing.T) {
	c := newTestClient(t, http.NewServeMux())
	ctx := context.Background()

	err := c.Transfer(ctx, provider.TransferRequest{
		FileIDs: []string{"s2"},
		Ext:     map[string]any{},
	})
	assert.ErrorIs(t, err, provider.ErrValidation, "missing stoken")

	err = c.Transfer(ctx, provider.TransferRequest{
		SourceID: "pwd123",
		FileIDs:  []string{"s2"},
		Ext: map[string]any{
			provider.ExtStoken:       "stk",
			provider.ExtFilesExtInfo: []map[string]any{},
		},
	})
	assert.ErrorIs(t, err, provider.ErrValidation, "token list length mismatch")
}
