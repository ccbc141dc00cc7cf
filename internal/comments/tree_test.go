package comments

import (
	"math/rand/v2"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/matryer/is"

	"github.com/harrybrwn/lem/internal/lemmytest"
	"github.com/harrybrwn/lem/lemmy"
)

// comment builds a view whose parent is parent, 0 meaning none.
func comment(id, parent int64) lemmy.CommentView {
	if parent == 0 {
		return lemmytest.Comment(id)
	}
	return lemmytest.Comment(id, parent)
}

func ids(forest []HierarchicalComment) []int64 {
	res := make([]int64, len(forest))
	for i := range forest {
		res[i] = forest[i].ID()
	}
	return res
}

func TestBuild(t *testing.T) {
	is := is.New(t)
	forest := Build([]lemmy.CommentView{
		comment(1, 0),
		comment(2, 1),
		comment(3, 1),
		comment(4, 2),
	})
	is.Equal(ids(forest), []int64{1})
	is.Equal(ids(forest[0].Children), []int64{2, 3})
	is.Equal(ids(forest[0].Children[0].Children), []int64{4})
	is.Equal(len(forest[0].Children[1].Children), 0)
	is.Equal(Count(forest), 4)
}

func TestBuild_Orphan(t *testing.T) {
	is := is.New(t)
	forest := Build([]lemmy.CommentView{comment(5, 99)})
	is.Equal(ids(forest), []int64{5})
	is.Equal(len(forest[0].Children), 0)

	// orphans keep their place among the other roots
	forest = Build([]lemmy.CommentView{
		comment(1, 0),
		comment(6, 42),
		comment(2, 1),
		comment(7, 0),
	})
	is.Equal(ids(forest), []int64{1, 6, 7})
	is.Equal(ids(forest[0].Children), []int64{2})
}

func TestBuild_Empty(t *testing.T) {
	is := is.New(t)
	is.Equal(len(Build(nil)), 0)
	is.Equal(len(Build([]lemmy.CommentView{})), 0)
	is.True(Build(nil) != nil)
}

func TestBuild_DeepPath(t *testing.T) {
	is := is.New(t)
	// lemmy paths list every ancestor, only the last one is the parent
	forest := Build([]lemmy.CommentView{
		lemmytest.Comment(1),
		lemmytest.Comment(2, 1),
		lemmytest.Comment(3, 1, 2),
		lemmytest.Comment(4, 1, 2, 3),
	})
	is.Equal(Count(forest), 4)
	is.Equal(ids(forest), []int64{1})
	is.Equal(forest[0].Children[0].Children[0].Children[0].ID(), int64(4))
}

func TestBuild_ChildBeforeParent(t *testing.T) {
	is := is.New(t)
	forest := Build([]lemmy.CommentView{
		comment(3, 1),
		comment(1, 0),
		comment(2, 1),
	})
	is.Equal(ids(forest), []int64{1})
	is.Equal(ids(forest[0].Children), []int64{3, 2})
}

func TestBuild_Cycle(t *testing.T) {
	is := is.New(t)
	forest := Build([]lemmy.CommentView{
		comment(1, 0),
		comment(2, 3),
		comment(3, 2),
		comment(4, 4),
	})
	is.Equal(Count(forest), 4)
	is.Equal(ids(forest), []int64{1, 2, 4})
	is.Equal(ids(forest[1].Children), []int64{3})
	is.Equal(len(forest[1].Children[0].Children), 0)
}

func TestBuild_DuplicateIDs(t *testing.T) {
	is := is.New(t)
	forest := Build([]lemmy.CommentView{
		comment(1, 0),
		comment(1, 1),
	})
	is.Equal(Count(forest), 2)
}

func TestBuild_Idempotent(t *testing.T) {
	views := randomComments(rand.New(rand.NewPCG(1, 2)), 200)
	a, b := Build(views), Build(views)
	if diff := cmp.Diff(a, b); diff != "" {
		t.Errorf("rebuilding the tree changed it (-first +second):\n%s", diff)
	}
}

func TestBuild_Properties(t *testing.T) {
	r := rand.New(rand.NewPCG(7, 11))
	for run := 0; run < 50; run++ {
		views := randomComments(r, r.IntN(120))
		position := make(map[int64]int, len(views))
		present := make(map[int64]bool, len(views))
		for i, v := range views {
			position[v.Comment.ID] = i
			present[v.Comment.ID] = true
		}
		forest := Build(views)
		if n := Count(forest); n != len(views) {
			t.Fatalf("run %d: got %d nodes, want %d", run, n, len(views))
		}
		checkSiblings := func(parent int64, siblings []HierarchicalComment) {
			for i := range siblings {
				if i > 0 && position[siblings[i-1].ID()] > position[siblings[i].ID()] {
					t.Fatalf("run %d: siblings %d and %d out of input order", run, siblings[i-1].ID(), siblings[i].ID())
				}
				if parent == 0 {
					if p, ok := siblings[i].Comment.Comment.ParentID(); ok && present[p] {
						t.Fatalf("run %d: comment %d is a root but its parent %d exists", run, siblings[i].ID(), p)
					}
					continue
				}
				p, ok := siblings[i].Comment.Comment.ParentID()
				if !ok || p != parent {
					t.Fatalf("run %d: comment %d is under %d but declares parent %d", run, siblings[i].ID(), parent, p)
				}
			}
		}
		checkSiblings(0, forest)
		Walk(forest, func(hc *HierarchicalComment, _ int) bool {
			checkSiblings(hc.ID(), hc.Children)
			return true
		})
	}
}

func TestWalk(t *testing.T) {
	is := is.New(t)
	forest := Build([]lemmy.CommentView{
		comment(1, 0),
		comment(2, 1),
		comment(3, 0),
		comment(4, 2),
	})
	var (
		order  []int64
		depths []int
	)
	Walk(forest, func(hc *HierarchicalComment, depth int) bool {
		order = append(order, hc.ID())
		depths = append(depths, depth)
		return true
	})
	is.Equal(order, []int64{1, 2, 4, 3})
	is.Equal(depths, []int{0, 1, 2, 0})

	order = order[:0]
	Walk(forest, func(hc *HierarchicalComment, _ int) bool {
		order = append(order, hc.ID())
		return hc.ID() != 2
	})
	is.Equal(order, []int64{1, 2})
}

// randomComments makes an acyclic comment list. Some comments point at
// parents that are not in the list.
func randomComments(r *rand.Rand, n int) []lemmy.CommentView {
	views := make([]lemmy.CommentView, 0, n)
	for i := 0; i < n; i++ {
		id := int64(i + 1)
		switch k := r.IntN(10); {
		case k < 3 || i == 0:
			views = append(views, comment(id, 0))
		case k == 3:
			views = append(views, comment(id, int64(10_000+r.IntN(100))))
		default:
			views = append(views, comment(id, int64(r.IntN(i)+1)))
		}
	}
	r.Shuffle(len(views), func(i, j int) { views[i], views[j] = views[j], views[i] })
	return views
}
