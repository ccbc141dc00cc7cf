package comments

import (
	"context"
	"strconv"
	"sync"
	"testing"

	"github.com/matryer/is"
	"github.com/pkg/errors"

	"github.com/harrybrwn/lem/internal/lemmytest"
	"github.com/harrybrwn/lem/internal/report"
	"github.com/harrybrwn/lem/lemmy"
)

type recorder struct {
	mu      sync.Mutex
	reports []*report.Error
}

func (r *recorder) Report(_ context.Context, e *report.Error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, e)
}

type fakeAPI struct {
	views   []lemmy.CommentView
	created *lemmy.CommentView
	err     error
	req     *lemmy.GetCommentsRequest
	create  *lemmy.CreateCommentRequest
}

func (f *fakeAPI) GetComments(_ context.Context, req *lemmy.GetCommentsRequest) ([]lemmy.CommentView, error) {
	f.req = req
	return f.views, f.err
}

func (f *fakeAPI) CreateComment(_ context.Context, req *lemmy.CreateCommentRequest) (*lemmy.CommentView, error) {
	f.create = req
	return f.created, f.err
}

func TestRepository_Comments(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	api := fakeAPI{views: []lemmy.CommentView{
		comment(1, 0),
		comment(2, 1),
		comment(3, 1),
		comment(4, 2),
	}}
	var rec recorder
	repo := NewRepository(&api, &rec, WithSort(lemmy.SortNew), WithMaxDepth(6), WithLimit(20))
	forest := repo.Comments(ctx, 9)
	is.Equal(ids(forest), []int64{1})
	is.Equal(Count(forest), 4)
	is.Equal(len(rec.reports), 0)
	is.Equal(*api.req.PostID, int64(9))
	is.Equal(api.req.Sort, lemmy.SortNew)
	is.Equal(api.req.MaxDepth, 6)
	is.Equal(api.req.Limit, 20)
}

func TestRepository_CommentsFailure(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	cause := errors.New("network is down")
	var rec recorder
	repo := NewRepository(&fakeAPI{err: cause}, &rec)

	forest := repo.Comments(ctx, 1)
	is.True(forest != nil)
	is.Equal(len(forest), 0)
	is.Equal(len(rec.reports), 1)
	is.Equal(rec.reports[0].Title, "Failed to load comments")
	is.Equal(rec.reports[0].Message, "Please refresh to try again")
	is.True(errors.Is(rec.reports[0].Err, cause))

	// Comments can't tell this apart from a post with no comments, Load can.
	empty := NewRepository(&fakeAPI{}, &rec)
	is.Equal(len(empty.Comments(ctx, 1)), 0)
	is.Equal(len(rec.reports), 1)

	_, err := repo.Load(ctx, 1)
	var e *Error
	is.True(errors.As(err, &e))
	is.Equal(e.Kind, KindFetch)
	is.Equal(e.PostID, int64(1))
	is.True(errors.Is(err, cause))
	is.Equal(len(rec.reports), 1) // Load never reports

	forest, err = empty.Load(ctx, 1)
	is.NoErr(err)
	is.Equal(len(forest), 0)
}

func TestRepository_PostComment(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	created := comment(12, 3)
	api := fakeAPI{created: &created}
	var rec recorder
	repo := NewRepository(&api, &rec)
	parent, lang := int64(3), int64(2)
	hc := repo.PostComment(ctx, Draft{Content: "nice", PostID: 4, ParentID: &parent, LanguageID: &lang})
	is.True(hc != nil)
	is.Equal(hc.ID(), int64(12))
	is.True(hc.Children != nil)
	is.Equal(len(hc.Children), 0)
	is.Equal(api.create.Content, "nice")
	is.Equal(api.create.PostID, int64(4))
	is.Equal(*api.create.ParentID, parent)
	is.Equal(*api.create.LanguageID, lang)
	is.Equal(len(rec.reports), 0)
}

func TestRepository_PostCommentFailure(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	var rec recorder
	repo := NewRepository(&fakeAPI{err: &lemmy.ErrorResponse{Code: lemmy.NotLoggedIn}}, &rec)
	hc := repo.PostComment(ctx, Draft{Content: "x", PostID: 1})
	is.True(hc == nil)
	is.Equal(len(rec.reports), 1)
	is.Equal(rec.reports[0].Title, "Failed to post comment")
	is.Equal(rec.reports[0].Message, "Please try again")
	e, ok := lemmy.AsError(rec.reports[0].Err)
	is.True(ok)
	is.True(e.IsNotLoggedIn())

	_, err := repo.Create(ctx, Draft{Content: "x", PostID: 1})
	var ce *Error
	is.True(errors.As(err, &ce))
	is.Equal(ce.Kind, KindPost)

	// a nil comment with no error is still a failure
	repo = NewRepository(&fakeAPI{}, &rec)
	is.True(repo.PostComment(ctx, Draft{Content: "x", PostID: 1}) == nil)
	is.Equal(len(rec.reports), 2)
}

func TestRepository_Instance(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	srv := lemmytest.New()
	u := srv.AddUser("alice", "pw")
	srv.AddComments(5,
		lemmytest.Comment(1),
		lemmytest.Comment(2, 1),
		lemmytest.Comment(3),
	)
	client, _ := lemmytest.Start(t, srv)
	token, err := srv.Token(u)
	is.NoErr(err)
	client = client.WithToken(u.Name, token)

	var rec recorder
	repo := NewRepository(client, &rec, WithSort(lemmy.SortTop))
	forest := repo.Comments(ctx, 5)
	is.Equal(ids(forest), []int64{1, 3})
	is.Equal(srv.LastQuery().Get("sort"), "Top")

	parent := int64(2)
	hc := repo.PostComment(ctx, Draft{Content: "reply", PostID: 5, ParentID: &parent})
	is.True(hc != nil)
	is.Equal(hc.Comment.Comment.Path, "0.1.2."+strconv.FormatInt(hc.ID(), 10))

	forest = repo.Comments(ctx, 5)
	is.Equal(Count(forest), 4)
	is.Equal(forest[0].Children[0].Children[0].ID(), hc.ID())

	srv.FailComments(lemmy.CouldntFindPost)
	is.Equal(len(repo.Comments(ctx, 5)), 0)
	is.Equal(len(rec.reports), 1)
	e, ok := lemmy.AsError(rec.reports[0].Err)
	is.True(ok)
	is.Equal(e.Code, lemmy.CouldntFindPost)
}
