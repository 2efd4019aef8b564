package syncer

import (
	"path"
	"sort"
	"strings"

	"github.com/chuxijin/pansync/internal/provider"
)

// RelPath strips base from full and canonicalizes with a leading slash, so
// identical relative positions in the two trees correspond regardless of
// the chosen roots.
func RelPath(full, base string) string {
	base = strings.TrimSuffix(base, "/")

	// Strip only at a path boundary so a base of /Backup leaves /Backup2/x
	// alone.
	rel := full
	if base != "" && (full == base || strings.HasPrefix(full, base+"/")) {
		rel = full[len(base):]
	}

	if rel == "" {
		return "/"
	}

	if !strings.HasPrefix(rel, "/") {
		rel = "/" + rel
	}

	return rel
}

// JoinPath appends rel (which may carry a leading slash) to base.
func JoinPath(base, rel string) string {
	return path.Join("/", base, rel)
}

// Compare diffs a source listing against a target listing under the given
// method. Inputs may arrive in any order; the output add set is sorted by
// source path ascending so parents precede children, and the delete set by
// target path descending so children precede parents.
func Compare(src, dst []provider.FileInfo, method Method, srcBase, dstBase, dstRootID string) Plan {
	if method == MethodOverwrite {
		return compareOverwrite(src, dst, dstBase, dstRootID)
	}

	dstByRel := make(map[string]*provider.FileInfo, len(dst))
	for i := range dst {
		dstByRel[RelPath(dst[i].FilePath, dstBase)] = &dst[i]
	}

	var plan Plan

	srcByRel := make(map[string]struct{}, len(src))

	for i := range src {
		rel := RelPath(src[i].FilePath, srcBase)
		srcByRel[rel] = struct{}{}

		if _, exists := dstByRel[rel]; exists {
			continue
		}

		targetFull := JoinPath(dstBase, rel)

		plan.ToAdd = append(plan.ToAdd, AddItem{
			FileInfo:         src[i],
			TargetFullPath:   targetFull,
			TargetParentPath: path.Dir(targetFull),
			TargetParentID:   resolveParentID(rel, dstByRel, dstRootID),
		})
	}

	if method == MethodFull {
		for i := range dst {
			rel := RelPath(dst[i].FilePath, dstBase)
			if _, exists := srcByRel[rel]; !exists {
				plan.ToDelete = append(plan.ToDelete, dst[i])
			}
		}
	}

	sortPlan(&plan)

	return plan
}

// compareOverwrite considers one level only: every target child is deleted
// and every source child lands flat in the target root.
func compareOverwrite(src, dst []provider.FileInfo, dstBase, dstRootID string) Plan {
	var plan Plan

	plan.ToDelete = append(plan.ToDelete, dst...)

	parentPath := path.Join("/", dstBase)

	for i := range src {
		plan.ToAdd = append(plan.ToAdd, AddItem{
			FileInfo:         src[i],
			TargetFullPath:   path.Join(parentPath, src[i].FileName),
			TargetParentPath: parentPath,
			TargetParentID:   dstRootID,
		})
	}

	sortPlan(&plan)

	return plan
}

// resolveParentID walks up the target map from rel's parent until an
// existing ancestor is found; the root falls back to the target base's
// file id.
func resolveParentID(rel string, dstByRel map[string]*provider.FileInfo, dstRootID string) string {
	for dir := path.Dir(rel); ; dir = path.Dir(dir) {
		if dir == "/" || dir == "." {
			return dstRootID
		}

		if e, ok := dstByRel[dir]; ok {
			return e.FileID
		}
	}
}

func sortPlan(plan *Plan) {
	sort.Slice(plan.ToAdd, func(i, j int) bool {
		return plan.ToAdd[i].FilePath < plan.ToAdd[j].FilePath
	})
	sort.Slice(plan.ToDelete, func(i, j int) bool {
		return plan.ToDelete[i].FilePath > plan.ToDelete[j].FilePath
	})
}

// GroupAdds buckets additions by target parent path so one provider call
// can transfer all siblings at once. Groups come back sorted by parent
// path ascending.
func GroupAdds(adds []AddItem) []AddGroup {
	byParent := make(map[string][]AddItem)
	for _, a := range adds {
		byParent[a.TargetParentPath] = append(byParent[a.TargetParentPath], a)
	}

	parents := make([]string, 0, len(byParent))
	for p := range byParent {
		parents = append(parents, p)
	}

	sort.Strings(parents)

	groups := make([]AddGroup, 0, len(parents))

	for _, p := range parents {
		items := byParent[p]
		groups = append(groups, AddGroup{
			ParentPath: p,
			ParentID:   items[0].TargetParentID,
			Items:      items,
		})
	}

	return groups
}
