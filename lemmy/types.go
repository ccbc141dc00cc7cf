package lemmy

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

type LoginRequest struct {
	UsernameOrEmail string  `json:"username_or_email"`
	Password        string  `json:"password"`
	Totp2faToken    *string `json:"totp_2fa_token,omitempty"`
}

type LoginResponse struct {
	// Jwt is null when the account still needs an approved registration
	// application or a verified email.
	Jwt                 *string `json:"jwt"`
	RegistrationCreated bool    `json:"registration_created"`
	VerifyEmailSent     bool    `json:"verify_email_sent"`
}

type Comment struct {
	ID            int64   `json:"id"`
	CreatorID     int64   `json:"creator_id"`
	PostID        int64   `json:"post_id"`
	Content       string  `json:"content"`
	Removed       bool    `json:"removed"`
	Deleted       bool    `json:"deleted"`
	Published     string  `json:"published"`
	Updated       *string `json:"updated,omitempty"`
	ApID          string  `json:"ap_id"`
	Local         bool    `json:"local"`
	Path          string  `json:"path"`
	Distinguished bool    `json:"distinguished"`
	LanguageID    int64   `json:"language_id"`
}

// ParentID reads the parent comment's id out of the comment's ltree path.
// Top level comments have a path of "0.<id>" and have no parent.
func (c *Comment) ParentID() (int64, bool) {
	parts := strings.Split(c.Path, ".")
	if len(parts) < 3 {
		return 0, false
	}
	id, err := strconv.ParseInt(parts[len(parts)-2], 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return id, true
}

// Depth is the number of ancestors the comment has.
func (c *Comment) Depth() int {
	n := strings.Count(c.Path, ".") - 1
	return max(n, 0)
}

type Person struct {
	ID          int64   `json:"id"`
	Name        string  `json:"name"`
	DisplayName *string `json:"display_name,omitempty"`
	ActorID     string  `json:"actor_id"`
	Local       bool    `json:"local"`
	Bot         bool    `json:"bot_account"`
}

type Post struct {
	ID          int64   `json:"id"`
	Name        string  `json:"name"`
	URL         *string `json:"url,omitempty"`
	CreatorID   int64   `json:"creator_id"`
	CommunityID int64   `json:"community_id"`
	Locked      bool    `json:"locked"`
}

type CommentAggregates struct {
	ID         int64 `json:"id"`
	CommentID  int64 `json:"comment_id"`
	Score      int64 `json:"score"`
	Upvotes    int64 `json:"upvotes"`
	Downvotes  int64 `json:"downvotes"`
	ChildCount int64 `json:"child_count"`
}

type CommentView struct {
	Comment Comment           `json:"comment"`
	Creator Person            `json:"creator"`
	Post    Post              `json:"post"`
	Counts  CommentAggregates `json:"counts"`
	MyVote  *int              `json:"my_vote,omitempty"`
	Saved   bool              `json:"saved"`
}

type CommentSortType string

const (
	SortHot CommentSortType = "Hot"
	SortTop CommentSortType = "Top"
	SortNew CommentSortType = "New"
	SortOld CommentSortType = "Old"
)

// ParseCommentSort parses a sort name case-insensitively. "active" is
// accepted as an alias of Hot.
func ParseCommentSort(s string) (CommentSortType, error) {
	switch strings.ToLower(s) {
	case "hot", "active":
		return SortHot, nil
	case "top":
		return SortTop, nil
	case "new":
		return SortNew, nil
	case "old":
		return SortOld, nil
	}
	return "", errors.Errorf("unknown comment sort %q", s)
}

type ListingType string

const (
	ListingAll        ListingType = "All"
	ListingLocal      ListingType = "Local"
	ListingSubscribed ListingType = "Subscribed"
)

type GetCommentsRequest struct {
	PostID   *int64
	ParentID *int64
	Sort     CommentSortType
	Type     ListingType
	MaxDepth int
	Page     int
	Limit    int
}

func (r *GetCommentsRequest) values() url.Values {
	q := make(url.Values)
	if r.PostID != nil {
		q.Set("post_id", strconv.FormatInt(*r.PostID, 10))
	}
	if r.ParentID != nil {
		q.Set("parent_id", strconv.FormatInt(*r.ParentID, 10))
	}
	if len(r.Sort) > 0 {
		q.Set("sort", string(r.Sort))
	}
	if len(r.Type) > 0 {
		q.Set("type_", string(r.Type))
	}
	if r.MaxDepth > 0 {
		q.Set("max_depth", strconv.Itoa(r.MaxDepth))
	}
	if r.Page > 0 {
		q.Set("page", strconv.Itoa(r.Page))
	}
	if r.Limit > 0 {
		q.Set("limit", strconv.Itoa(r.Limit))
	}
	return q
}

type GetCommentsResponse struct {
	Comments []CommentView `json:"comments"`
}

type CreateCommentRequest struct {
	Content    string  `json:"content"`
	PostID     int64   `json:"post_id"`
	ParentID   *int64  `json:"parent_id,omitempty"`
	LanguageID *int64  `json:"language_id,omitempty"`
	FormID     *string `json:"form_id,omitempty"`
	Auth       string  `json:"auth,omitempty"`
}

type CommentResponse struct {
	CommentView  CommentView `json:"comment_view"`
	RecipientIDs []int64     `json:"recipient_ids"`
	FormID       *string     `json:"form_id,omitempty"`
}
