package syncer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chuxijin/pansync/internal/provider"
)

func srcFile(id, path string, folder bool) provider.FileInfo {
	return provider.FileInfo{
		FileID:   id,
		FileName: pathBase(path),
		FilePath: path,
		IsFolder: folder,
	}
}

func pathBase(p string) string {
	for i := len(p) - 1; i >= 0; i-- {
		if p[i] == '/' {
			return p[i+1:]
		}
	}

	return p
}

func TestRelPath(t *testing.T) {
	tests := []struct {
		full, base, want string
	}{
		{"/Photos/a.jpg", "/Photos", "/a.jpg"},
		{"/Photos/sub/b.jpg", "/Photos", "/sub/b.jpg"},
		{"/Photos", "/Photos", "/"},
		{"/Photos/a.jpg", "/", "/Photos/a.jpg"},
		{"/Photos/a.jpg", "", "/Photos/a.jpg"},
		// A sibling sharing the base as a name prefix is not under it.
		{"/Photos2/a.jpg", "/Photos", "/Photos2/a.jpg"},
		{"/Photosx", "/Photos", "/Photosx"},
	}

	for _, tc := range tests {
		assert.Equal(t, tc.want, RelPath(tc.full, tc.base), "RelPath(%q, %q)", tc.full, tc.base)
	}
}

func TestCompareIncrementalAddsMissingOnly(t *testing.T) {
	src := []provider.FileInfo{
		srcFile("s1", "/share/Photos/a.jpg", false),
		srcFile("s2", "/share/Photos/b.jpg", false),
		srcFile("s3", "/share/Photos/sub", true),
		srcFile("s4", "/share/Photos/sub/c.jpg", false),
	}
	dst := []provider.FileInfo{
		srcFile("d1", "/Backup/a.jpg", false),
		srcFile("d9", "/Backup/stale.txt", false),
	}

	plan := Compare(src, dst, MethodIncremental, "/share/Photos", "/Backup", "root-id")

	require.Len(t, plan.ToAdd, 3)
	assert.Empty(t, plan.ToDelete, "incremental never deletes")
	assert.Empty(t, plan.ToUpdate)
	assert.Empty(t, plan.ToRename)

	assert.Equal(t, "/Backup/b.jpg", plan.ToAdd[0].TargetFullPath)
	assert.Equal(t, "/Backup", plan.ToAdd[0].TargetParentPath)
	assert.Equal(t, "root-id", plan.ToAdd[0].TargetParentID)

	assert.Equal(t, "/Backup/sub", plan.ToAdd[1].TargetFullPath)
	assert.True(t, plan.ToAdd[1].IsFolder)

	assert.Equal(t, "/Backup/sub/c.jpg", plan.ToAdd[2].TargetFullPath)
	assert.Equal(t, "/Backup/sub", plan.ToAdd[2].TargetParentPath)
	// /sub does not exist in the target yet, so the nearest known ancestor
	// is the target root.
	assert.Equal(t, "root-id", plan.ToAdd[2].TargetParentID)
}

func TestCompareResolvesExistingParentID(t *testing.T) {
	src := []provider.FileInfo{
		srcFile("s1", "/share/Photos/sub/c.jpg", false),
	}
	dst := []provider.FileInfo{
		srcFile("d1", "/Backup/sub", true),
	}

	plan := Compare(src, dst, MethodIncremental, "/share/Photos", "/Backup", "root-id")

	require.Len(t, plan.ToAdd, 1)
	assert.Equal(t, "d1", plan.ToAdd[0].TargetParentID)
}

func TestCompareFullDeletesExtras(t *testing.T) {
	src := []provider.FileInfo{
		srcFile("s1", "/share/Photos/a.jpg", false),
	}
	dst := []provider.FileInfo{
		srcFile("d1", "/Backup/a.jpg", false),
		srcFile("d2", "/Backup/old", true),
		srcFile("d3", "/Backup/old/x.txt", false),
	}

	plan := Compare(src, dst, MethodFull, "/share/Photos", "/Backup", "root-id")

	assert.Empty(t, plan.ToAdd)
	require.Len(t, plan.ToDelete, 2)
	// Children come before parents so providers without recursive delete
	// still work.
	assert.Equal(t, "/Backup/old/x.txt", plan.ToDelete[0].FilePath)
	assert.Equal(t, "/Backup/old", plan.ToDelete[1].FilePath)
}

func TestCompareFullEmptySourceDeletesEverything(t *testing.T) {
	dst := []provider.FileInfo{
		srcFile("d1", "/Backup/a.jpg", false),
		srcFile("d2", "/Backup/b.jpg", false),
	}

	plan := Compare(nil, dst, MethodFull, "/share/Photos", "/Backup", "root-id")

	assert.Empty(t, plan.ToAdd)
	assert.Len(t, plan.ToDelete, 2)
}

func TestCompareOverwriteIsSingleLevelAndFlat(t *testing.T) {
	src := []provider.FileInfo{
		srcFile("s1", "/share/Photos/a.jpg", false),
		srcFile("s2", "/share/Photos/dir", true),
	}
	dst := []provider.FileInfo{
		srcFile("d1", "/Backup/a.jpg", false),
		srcFile("d2", "/Backup/keepme.txt", false),
	}

	plan := Compare(src, dst, MethodOverwrite, "/share/Photos", "/Backup", "root-id")

	// Everything present in the target goes, including same-named items.
	require.Len(t, plan.ToDelete, 2)
	require.Len(t, plan.ToAdd, 2)

	for _, a := range plan.ToAdd {
		assert.Equal(t, "/Backup", a.TargetParentPath)
		assert.Equal(t, "root-id", a.TargetParentID)
	}
}

func TestCompareInputOrderDoesNotMatter(t *testing.T) {
	src := []provider.FileInfo{
		srcFile("s1", "/s/b.jpg", false),
		srcFile("s2", "/s/a.jpg", false),
		srcFile("s3", "/s/c.jpg", false),
	}
	reversed := []provider.FileInfo{src[2], src[0], src[1]}

	p1 := Compare(src, nil, MethodIncremental, "/s", "/d", "r")
	p2 := Compare(reversed, nil, MethodIncremental, "/s", "/d", "r")

	require.Equal(t, len(p1.ToAdd), len(p2.ToAdd))

	for i := range p1.ToAdd {
		assert.Equal(t, p1.ToAdd[i].TargetFullPath, p2.ToAdd[i].TargetFullPath)
	}
}

func TestGroupAdds(t *testing.T) {
	adds := []AddItem{
		{FileInfo: srcFile("1", "/s/x/a.jpg", false), TargetFullPath: "/d/x/a.jpg", TargetParentPath: "/d/x", TargetParentID: "px"},
		{FileInfo: srcFile("2", "/s/b.jpg", false), TargetFullPath: "/d/b.jpg", TargetParentPath: "/d", TargetParentID: "pd"},
		{FileInfo: srcFile("3", "/s/x/c.jpg", false), TargetFullPath: "/d/x/c.jpg", TargetParentPath: "/d/x", TargetParentID: "px"},
	}

	groups := GroupAdds(adds)

	require.Len(t, groups, 2)
	assert.Equal(t, "/d", groups[0].ParentPath)
	assert.Equal(t, "pd", groups[0].ParentID)
	require.Len(t, groups[0].Items, 1)

	assert.Equal(t, "/d/x", groups[1].ParentPath)
	assert.Equal(t, "px", groups[1].ParentID)
	assert.Len(t, groups[1].Items, 2)
}

func TestParseMethod(t *testing.T) {
	for _, s := range []string{"incremental", "Full", " OVERWRITE "} {
		_, err := ParseMethod(s)
		assert.NoError(t, err, s)
	}

	_, err := ParseMethod("mirror")
	assert.ErrorIs(t, err, provider.ErrValidation)
}

func TestParseSrcMeta(t *testing.T) {
	m, err := ParseSrcMeta(`{"source_type":"friend","source_id":"uk123","ext_params":{"passcode":"abcd"}}`)
	require.NoError(t, err)
	assert.Equal(t, "uk123", m.SourceID)
	assert.Equal(t, "abcd", m.ExtParams["passcode"])

	_, err = ParseSrcMeta(`{"source_type":"friend"}`)
	assert.ErrorIs(t, err, provider.ErrValidation)

	_, err = ParseSrcMeta(`{"source_type":"enemy","source_id":"x"}`)
	assert.ErrorIs(t, err, provider.ErrValidation)

	_, err = ParseSrcMeta(`not json`)
	assert.ErrorIs(t, err, provider.ErrValidation)
}

func TestParseDstMeta(t *testing.T) {
	m, err := ParseDstMeta(`{"file_id":"42"}`)
	require.NoError(t, err)
	assert.Equal(t, "42", m.FileID)

	m, err = ParseDstMeta("")
	require.NoError(t, err)
	assert.Empty(t, m.FileID)
}
