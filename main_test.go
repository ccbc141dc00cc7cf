package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/matryer/is"

	"github.com/harrybrwn/lem/internal/lemmytest"
)

type cli struct {
	t    *testing.T
	base []string
}

func newCLI(t *testing.T, h http.Handler) *cli {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return &cli{t: t, base: []string{
		"--db", filepath.Join(t.TempDir(), "accounts.db"),
		"--instance", srv.URL,
		"--success-delay", "0",
		"--rate", "0",
	}}
}

func (c *cli) run(stdin string, args ...string) (stdout, stderr string, err error) {
	c.t.Helper()
	var out, errOut bytes.Buffer
	cmd := NewRootCmd()
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(append(append([]string{}, c.base...), args...))
	err = cmd.ExecuteContext(context.Background())
	return out.String(), errOut.String(), err
}

func TestLoginAndComments(t *testing.T) {
	is := is.New(t)
	srv := lemmytest.New()
	srv.AddUser("alice", "pw")
	srv.AddComments(7,
		lemmytest.Comment(1),
		lemmytest.Comment(2, 1),
		lemmytest.Comment(3),
	)
	c := newCLI(t, srv)

	out, errOut, err := c.run("wrong\npw\n", "login", "alice")
	is.NoErr(err)
	is.True(strings.Contains(out, "Logged in as alice@"))
	is.True(strings.Contains(errOut, "Incorrect username or password."))
	is.Equal(srv.Logins(), int64(2))

	out, _, err = c.run("", "whoami")
	is.NoErr(err)
	is.True(strings.Contains(out, "account:  alice@"))
	is.True(strings.Contains(out, "issuer:   lemmy.test"))

	out, _, err = c.run("", "comments", "7")
	is.NoErr(err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	is.Equal(len(lines), 6)
	is.True(strings.HasPrefix(lines[0], "#1 "))
	is.True(strings.HasPrefix(lines[2], "  #2 "))
	is.True(strings.HasPrefix(lines[4], "#3 "))

	out, _, err = c.run("", "comment", "7", "--parent", "2", "hello", "there")
	is.NoErr(err)
	is.True(len(strings.TrimSpace(out)) > 0)

	out, _, err = c.run("", "comments", "7", "--json")
	is.NoErr(err)
	is.True(strings.Contains(out, "hello there"))

	out, _, err = c.run("", "accounts")
	is.NoErr(err)
	is.True(strings.HasPrefix(strings.TrimSpace(out), "*"))
}

func TestLogin_TwoFactor(t *testing.T) {
	is := is.New(t)
	srv := lemmytest.New()
	srv.AddUser("bob", "pw")
	srv.EnableTwoFactor("bob", "123456")
	c := newCLI(t, srv)

	out, errOut, err := c.run("pw\n000000\n123456\n", "login", "bob")
	is.NoErr(err)
	is.True(strings.Contains(out, "Logged in as bob@"))
	is.True(strings.Contains(errOut, "requires a two factor code"))
	is.True(strings.Contains(errOut, "Login failed"))
	is.Equal(srv.Logins(), int64(3))
}

func TestLogin_TooManyAttempts(t *testing.T) {
	is := is.New(t)
	srv := lemmytest.New()
	srv.AddUser("carol", "pw")
	c := newCLI(t, srv)
	_, _, err := c.run("a\nb\nc\nd\n", "login", "carol")
	is.True(err != nil)
	is.Equal(srv.Logins(), int64(maxAttempts))

	_, _, err = c.run("", "whoami")
	is.True(err != nil)
}

func TestCommentsFailure(t *testing.T) {
	is := is.New(t)
	srv := lemmytest.New()
	srv.FailComments("couldnt_find_post")
	c := newCLI(t, srv)
	out, errOut, err := c.run("", "comments", "--anonymous", "1")
	is.NoErr(err)
	is.Equal(strings.TrimSpace(out), "no comments")
	is.True(strings.Contains(errOut, "Failed to load comments. Please refresh to try again."))
}

func TestLogin_SuccessDelay(t *testing.T) {
	is := is.New(t)
	srv := lemmytest.New()
	srv.AddUser("alice", "pw")
	c := newCLI(t, srv)
	c.base = append(c.base, "--success-delay", "50ms")

	start := time.Now()
	out, _, err := c.run("pw\n", "login", "alice")
	is.NoErr(err)
	is.True(time.Since(start) >= 50*time.Millisecond)
	is.True(strings.Contains(out, "Logged in as alice@"))

	out, _, err = c.run("", "accounts")
	is.NoErr(err)
	is.True(strings.Contains(out, "alice"))
	out, _, err = c.run("", "whoami")
	is.NoErr(err)
	is.True(strings.Contains(out, "account:  alice@"))
}

func TestLogin_IncorrectAfterCode(t *testing.T) {
	is := is.New(t)
	srv := lemmytest.New()
	srv.AddUser("dave", "pw")
	srv.EnableTwoFactor("dave", "123456")
	// the password changes before the first code arrives
	var logins atomic.Int64
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/user/login") {
			if logins.Add(1) == 2 {
				srv.AddUser("dave", "new")
				srv.EnableTwoFactor("dave", "123456")
			}
		}
		srv.ServeHTTP(w, r)
	})
	c := newCLI(t, h)

	out, errOut, err := c.run("pw\n000000\nnew\n123456\n", "login", "dave")
	is.NoErr(err)
	is.True(strings.Contains(out, "Logged in as dave@"))
	is.True(strings.Contains(errOut, "Incorrect username or password."))
	is.Equal(strings.Count(errOut, "Password: "), 2)
	is.Equal(strings.Count(errOut, "Two factor code: "), 2)
	is.Equal(srv.Logins(), int64(4))
}
