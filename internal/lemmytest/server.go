// Package lemmytest provides an in-memory lemmy instance for tests.
package lemmytest

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"

	"github.com/harrybrwn/lem/lemmy"
)

type User struct {
	ID       int64
	Name     string
	Password string
	// Totp is the one-time code the user must send. Empty disables two
	// factor auth for the user.
	Totp string
}

type Server struct {
	key    []byte
	domain string
	logger *slog.Logger
	r      chi.Router
	logins atomic.Int64

	mu        sync.Mutex
	users     map[string]*User
	posts     map[int64][]lemmy.CommentView
	nextID    int64
	lastQuery url.Values

	failComments lemmy.Code
	failCreate   lemmy.Code
}

func New() *Server {
	s := Server{
		key:    []byte("lemmytest-jwt-secret"),
		domain: "lemmy.test",
		logger: slog.Default(),
		users:  make(map[string]*User),
		posts:  make(map[int64][]lemmy.CommentView),
		nextID: 1000,
	}
	r := chi.NewRouter()
	r.Route(lemmy.APIPath, func(r chi.Router) {
		r.Post("/user/login", s.login)
		r.Get("/comment/list", s.listComments)
		r.Post("/comment", s.createComment)
	})
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		lemmy.WriteError(s.logger, w, http.StatusNotFound, lemmy.NotFound)
	})
	s.r = r
	return &s
}

// Start serves s until the test ends and returns a client pointed at it.
func Start(t testing.TB, s *Server) (*lemmy.Client, *url.URL) {
	t.Helper()
	srv := httptest.NewServer(s)
	t.Cleanup(srv.Close)
	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	return lemmy.NewClient(lemmy.WithURL(srv.URL), lemmy.WithClient(srv.Client())), u
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.r.ServeHTTP(w, r) }

func (s *Server) AddUser(name, password string) *User {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	u := User{ID: s.nextID, Name: name, Password: password}
	s.users[strings.ToLower(name)] = &u
	return &u
}

// EnableTwoFactor makes logins for a user require a one-time code.
func (s *Server) EnableTwoFactor(name, code string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[strings.ToLower(name)]; ok {
		u.Totp = code
	}
}

// FailComments makes comment listing fail with code. An empty code turns
// the failure off.
func (s *Server) FailComments(code lemmy.Code) {
	s.mu.Lock()
	s.failComments = code
	s.mu.Unlock()
}

// FailCreate makes comment creation fail with code.
func (s *Server) FailCreate(code lemmy.Code) {
	s.mu.Lock()
	s.failCreate = code
	s.mu.Unlock()
}

// AddComments appends comments to a post in the order given.
func (s *Server) AddComments(postID int64, views ...lemmy.CommentView) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, v := range views {
		v.Comment.PostID = postID
		v.Post.ID = postID
		s.posts[postID] = append(s.posts[postID], v)
	}
}

// Logins is the number of login requests received.
func (s *Server) Logins() int64 { return s.logins.Load() }

// LastQuery returns the query parameters of the last comment listing.
func (s *Server) LastQuery() url.Values {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastQuery
}

// Token issues a jwt shaped like the ones lemmy issues.
func (s *Server) Token(u *User) (string, error) {
	claims := jwt.MapClaims{
		"sub": u.ID,
		"iss": s.domain,
		"iat": time.Now().Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.key)
	if err != nil {
		return "", errors.WithStack(err)
	}
	return signed, nil
}

func (s *Server) verify(token string) (*User, error) {
	claims := make(jwt.MapClaims)
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return s.key, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, errors.WithStack(err)
	}
	sub, err := claims.GetSubject()
	if err != nil || len(sub) == 0 {
		// MapClaims only reads string subjects, lemmy sends a number.
		f, ok := claims["sub"].(float64)
		if !ok {
			return nil, errors.New("token has no subject")
		}
		sub = strconv.FormatInt(int64(f), 10)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if strconv.FormatInt(u.ID, 10) == sub {
			return u, nil
		}
	}
	return nil, errors.New("unknown user")
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	s.logins.Add(1)
	var req lemmy.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		lemmy.WriteError(s.logger, w, http.StatusBadRequest, lemmy.InvalidRequest)
		return
	}
	s.mu.Lock()
	var u User
	found, ok := s.users[strings.ToLower(req.UsernameOrEmail)]
	if ok {
		u = *found
	}
	s.mu.Unlock()
	if !ok || u.Password != req.Password {
		lemmy.WriteError(s.logger, w, http.StatusBadRequest, lemmy.IncorrectLogin)
		return
	}
	if len(u.Totp) > 0 {
		if req.Totp2faToken == nil || len(*req.Totp2faToken) == 0 {
			lemmy.WriteError(s.logger, w, http.StatusBadRequest, lemmy.MissingTotpToken)
			return
		}
		if *req.Totp2faToken != u.Totp {
			lemmy.WriteError(s.logger, w, http.StatusBadRequest, lemmy.IncorrectTotpToken)
			return
		}
	}
	token, err := s.Token(&u)
	if err != nil {
		lemmy.WriteError(s.logger, w, http.StatusInternalServerError, lemmy.InternalError)
		return
	}
	writeJSON(s.logger, w, &lemmy.LoginResponse{Jwt: &token})
}

func (s *Server) listComments(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	s.mu.Lock()
	s.lastQuery = q
	fail := s.failComments
	s.mu.Unlock()
	if len(fail) > 0 {
		lemmy.WriteError(s.logger, w, http.StatusBadRequest, fail)
		return
	}
	postID, err := strconv.ParseInt(q.Get("post_id"), 10, 64)
	if err != nil {
		lemmy.WriteError(s.logger, w, http.StatusBadRequest, lemmy.CouldntFindPost)
		return
	}
	s.mu.Lock()
	views := append([]lemmy.CommentView{}, s.posts[postID]...)
	s.mu.Unlock()
	writeJSON(s.logger, w, &lemmy.GetCommentsResponse{Comments: views})
}

func (s *Server) createComment(w http.ResponseWriter, r *http.Request) {
	var req lemmy.CreateCommentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		lemmy.WriteError(s.logger, w, http.StatusBadRequest, lemmy.InvalidRequest)
		return
	}
	token, _ := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if len(token) == 0 {
		token = req.Auth
	}
	u, err := s.verify(token)
	if err != nil {
		lemmy.WriteError(s.logger, w, http.StatusUnauthorized, lemmy.NotLoggedIn)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.failCreate) > 0 {
		lemmy.WriteError(s.logger, w, http.StatusBadRequest, s.failCreate)
		return
	}
	s.nextID++
	view := Comment(s.nextID)
	if req.ParentID != nil {
		parent := s.find(req.PostID, *req.ParentID)
		if parent == nil {
			lemmy.WriteError(s.logger, w, http.StatusBadRequest, lemmy.CouldntCreateComment)
			return
		}
		view.Comment.Path = fmt.Sprintf("%s.%d", parent.Comment.Path, view.Comment.ID)
	}
	view.Comment.Content = req.Content
	view.Comment.PostID = req.PostID
	view.Comment.CreatorID = u.ID
	if req.LanguageID != nil {
		view.Comment.LanguageID = *req.LanguageID
	}
	view.Creator = lemmy.Person{ID: u.ID, Name: u.Name, Local: true}
	view.Post.ID = req.PostID
	view.Counts = lemmy.CommentAggregates{CommentID: view.Comment.ID, Score: 1, Upvotes: 1}
	s.posts[req.PostID] = append(s.posts[req.PostID], view)
	writeJSON(s.logger, w, &lemmy.CommentResponse{CommentView: view, FormID: req.FormID})
}

func (s *Server) find(postID, id int64) *lemmy.CommentView {
	for i, v := range s.posts[postID] {
		if v.Comment.ID == id {
			return &s.posts[postID][i]
		}
	}
	return nil
}

// Comment builds a comment view. The ancestors are given from the top level
// comment down to the direct parent.
func Comment(id int64, ancestors ...int64) lemmy.CommentView {
	var b strings.Builder
	b.WriteString("0")
	for _, a := range ancestors {
		fmt.Fprintf(&b, ".%d", a)
	}
	fmt.Fprintf(&b, ".%d", id)
	return lemmy.CommentView{
		Comment: lemmy.Comment{
			ID:        id,
			Path:      b.String(),
			Content:   fmt.Sprintf("comment %d", id),
			Published: time.Unix(0, 0).UTC().Format("2006-01-02T15:04:05.999999"),
			Local:     true,
		},
		Counts: lemmy.CommentAggregates{CommentID: id},
	}
}

func writeJSON(l *slog.Logger, w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		l.Error("failed to encode response", "error", err)
	}
}
