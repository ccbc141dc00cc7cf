package comments

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pkg/errors"

	"github.com/harrybrwn/lem/internal/report"
	"github.com/harrybrwn/lem/lemmy"
)

// API is the part of the instance api the repository needs.
type API interface {
	GetComments(ctx context.Context, req *lemmy.GetCommentsRequest) ([]lemmy.CommentView, error)
	CreateComment(ctx context.Context, req *lemmy.CreateCommentRequest) (*lemmy.CommentView, error)
}

type Kind uint8

const (
	KindFetch Kind = iota + 1
	KindPost
)

func (k Kind) String() string {
	switch k {
	case KindFetch:
		return "fetch"
	case KindPost:
		return "post"
	}
	return "unknown"
}

// Error is returned by [Repository.Load] and [Repository.Create].
type Error struct {
	Kind   Kind
	PostID int64
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("comment %s failed for post %d: %v", e.Kind, e.PostID, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Draft is a comment that has not been posted yet.
type Draft struct {
	Content    string
	PostID     int64
	LanguageID *int64
	ParentID   *int64
}

type Repository struct {
	api      API
	reporter report.Reporter
	logger   *slog.Logger
	sort     lemmy.CommentSortType
	maxDepth int
	limit    int
}

type RepositoryOption func(*Repository)

func WithSort(s lemmy.CommentSortType) RepositoryOption {
	return func(r *Repository) { r.sort = s }
}

func WithMaxDepth(n int) RepositoryOption { return func(r *Repository) { r.maxDepth = n } }
func WithLimit(n int) RepositoryOption    { return func(r *Repository) { r.limit = n } }

func WithLogger(l *slog.Logger) RepositoryOption {
	return func(r *Repository) { r.logger = l }
}

func NewRepository(api API, reporter report.Reporter, opts ...RepositoryOption) *Repository {
	r := Repository{
		api:      api,
		reporter: reporter,
		logger:   slog.Default(),
		sort:     lemmy.SortHot,
	}
	for _, o := range opts {
		o(&r)
	}
	if r.reporter == nil {
		r.reporter = report.Discard
	}
	return &r
}

// Comments loads the comment tree for a post. Failures are sent to the
// reporter and an empty tree is returned.
func (r *Repository) Comments(ctx context.Context, postID int64) []HierarchicalComment {
	forest, err := r.Load(ctx, postID)
	if err != nil {
		r.reporter.Report(ctx, &report.Error{
			Title:   "Failed to load comments",
			Message: "Please refresh to try again",
			Err:     err,
		})
		return []HierarchicalComment{}
	}
	return forest
}

// PostComment posts a comment and returns it as a tree with no replies.
// Failures are sent to the reporter and nil is returned.
func (r *Repository) PostComment(ctx context.Context, d Draft) *HierarchicalComment {
	hc, err := r.Create(ctx, d)
	if err != nil {
		r.reporter.Report(ctx, &report.Error{
			Title:   "Failed to post comment",
			Message: "Please try again",
			Err:     err,
		})
		return nil
	}
	return hc
}

// Load is [Repository.Comments] without reporting, so an empty post can be
// told apart from a failed request.
func (r *Repository) Load(ctx context.Context, postID int64) ([]HierarchicalComment, error) {
	views, err := r.api.GetComments(ctx, &lemmy.GetCommentsRequest{
		PostID:   &postID,
		Sort:     r.sort,
		Type:     lemmy.ListingAll,
		MaxDepth: r.maxDepth,
		Limit:    r.limit,
	})
	if err != nil {
		return nil, &Error{Kind: KindFetch, PostID: postID, Err: errors.WithStack(err)}
	}
	forest := Build(views)
	r.logger.DebugContext(ctx, "loaded comments",
		slog.Int64("post", postID),
		slog.Int("comments", len(views)),
		slog.Int("roots", len(forest)))
	return forest, nil
}

// Create is [Repository.PostComment] without reporting.
func (r *Repository) Create(ctx context.Context, d Draft) (*HierarchicalComment, error) {
	view, err := r.api.CreateComment(ctx, &lemmy.CreateCommentRequest{
		Content:    d.Content,
		PostID:     d.PostID,
		ParentID:   d.ParentID,
		LanguageID: d.LanguageID,
	})
	if err != nil {
		return nil, &Error{Kind: KindPost, PostID: d.PostID, Err: errors.WithStack(err)}
	}
	if view == nil {
		return nil, &Error{Kind: KindPost, PostID: d.PostID, Err: errors.New("instance returned no comment")}
	}
	return &HierarchicalComment{Comment: *view, Children: []HierarchicalComment{}}, nil
}
