package comments

import "github.com/harrybrwn/lem/lemmy"

// HierarchicalComment is a comment and the replies made directly to it.
type HierarchicalComment struct {
	Comment  lemmy.CommentView
	Children []HierarchicalComment
}

// ID is the wrapped comment's id.
func (hc *HierarchicalComment) ID() int64 { return hc.Comment.Comment.ID }

// Build assembles a flat list of comments into a forest.
//
// Siblings keep the relative order they had in views. A comment whose parent
// is not in views becomes a root. Every comment shows up in the result
// exactly once: comments that only lead back to themselves through their
// parents are promoted to roots after all the others.
func Build(views []lemmy.CommentView) []HierarchicalComment {
	ids := make(map[int64]struct{}, len(views))
	for i := range views {
		ids[views[i].Comment.ID] = struct{}{}
	}
	var (
		roots    = make([]int, 0)
		children = make(map[int64][]int)
	)
	for i := range views {
		parent, ok := views[i].Comment.ParentID()
		if ok {
			_, ok = ids[parent]
		}
		if !ok {
			roots = append(roots, i)
			continue
		}
		children[parent] = append(children[parent], i)
	}

	var (
		emitted = make([]bool, len(views))
		build   func(i int) HierarchicalComment
	)
	build = func(i int) HierarchicalComment {
		emitted[i] = true
		node := HierarchicalComment{Comment: views[i]}
		for _, c := range children[views[i].Comment.ID] {
			if emitted[c] {
				continue
			}
			node.Children = append(node.Children, build(c))
		}
		return node
	}

	forest := make([]HierarchicalComment, 0, len(roots))
	for _, i := range roots {
		forest = append(forest, build(i))
	}
	for i := range views {
		if !emitted[i] {
			forest = append(forest, build(i))
		}
	}
	return forest
}

// Count is the number of comments in the forest.
func Count(forest []HierarchicalComment) int {
	n := 0
	for i := range forest {
		n += 1 + Count(forest[i].Children)
	}
	return n
}

// Walk visits every comment depth first, parents before children. Walking
// stops when fn returns false.
func Walk(forest []HierarchicalComment, fn func(hc *HierarchicalComment, depth int) bool) {
	walk(forest, 0, fn)
}

func walk(forest []HierarchicalComment, depth int, fn func(*HierarchicalComment, int) bool) bool {
	for i := range forest {
		if !fn(&forest[i], depth) {
			return false
		}
		if !walk(forest[i].Children, depth+1, fn) {
			return false
		}
	}
	return true
}
