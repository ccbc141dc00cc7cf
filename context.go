package main

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/harrybrwn/xdg"
	"github.com/huandu/go-sqlbuilder"
	"github.com/pkg/errors"

	"github.com/harrybrwn/lem/internal/account"
	"github.com/harrybrwn/lem/internal/accountstore"
	"github.com/harrybrwn/lem/internal/httpcache"
	"github.com/harrybrwn/lem/lemmy"
)

type Context struct {
	logger *slog.Logger

	dbPath       string
	instance     string
	account      string
	timeout      time.Duration
	cacheTTL     time.Duration
	rate         float64
	successDelay time.Duration
	debug        bool

	store   *accountstore.Store
	cache   *httpcache.Cache
	cacheDB *sql.DB
	client  *lemmy.Client
}

func newContext() *Context {
	return &Context{
		logger:       slog.Default(),
		dbPath:       getEnv("LEM_DB", defaultDBPath()),
		instance:     getEnv("LEMMY_INSTANCE", ""),
		timeout:      30 * time.Second,
		cacheTTL:     0,
		rate:         5,
		successDelay: 500 * time.Millisecond,
	}
}

func (cx *Context) init(ctx context.Context) error {
	if cx.store != nil {
		return nil
	}
	if !strings.Contains(cx.dbPath, "://") {
		if err := os.MkdirAll(filepath.Dir(cx.dbPath), 0o700); err != nil {
			return errors.WithStack(err)
		}
	}
	store, err := accountstore.Open(ctx, cx.dbPath)
	if err != nil {
		return err
	}
	if err = store.Migrate(ctx); err != nil {
		store.Close()
		return err
	}
	cx.store = store

	var rt http.RoundTripper = http.DefaultTransport
	if cx.debug {
		rt = &httpcache.Debugger{RoundTripper: rt, Logger: cx.logger}
	}
	if cx.cacheTTL > 0 {
		cache, err := cx.openCache(ctx, rt)
		if err != nil {
			// run uncached rather than not at all
			cx.logger.Warn("failed to open response cache", "error", err)
		} else {
			rt = cache
		}
	}
	opts := []lemmy.ClientOption{
		lemmy.WithEnv(),
		lemmy.WithClient(&http.Client{Transport: rt, Timeout: cx.timeout}),
		lemmy.WithRateLimit(cx.rate, 1),
	}
	if len(cx.instance) > 0 {
		opts = append(opts, lemmy.WithURL(instanceURL(cx.instance).String()))
	}
	cx.client = lemmy.NewClient(opts...)
	return nil
}

func (cx *Context) openCache(ctx context.Context, rt http.RoundTripper) (*httpcache.Cache, error) {
	dir := xdg.Cache("lem")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.WithStack(err)
	}
	db, err := sql.Open("sqlite3", filepath.Join(dir, "http.db"))
	if err != nil {
		return nil, errors.WithStack(err)
	}
	cache := httpcache.New(db, sqlbuilder.SQLite, rt, cx.cacheTTL)
	cache.Logger = cx.logger
	if err = cache.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	cx.cacheDB = db
	cx.cache = cache
	return cache, nil
}

func (cx *Context) cleanup() error {
	var err error
	if cx.cacheDB != nil {
		err = cx.cacheDB.Close()
		cx.cacheDB = nil
	}
	if cx.store != nil {
		if e := cx.store.Close(); e != nil && err == nil {
			err = e
		}
		cx.store = nil
	}
	return errors.WithStack(err)
}

// selected finds the account named by --account, or the active account.
func (cx *Context) selected(ctx context.Context) (*accountstore.Record, error) {
	if len(cx.account) == 0 {
		rec, err := cx.store.Active(ctx)
		if errors.Is(err, accountstore.ErrNotFound) {
			return nil, errors.New("no active account, log in with \"lem login\"")
		}
		return rec, err
	}
	return cx.lookup(ctx, cx.account)
}

// lookup finds an account by id or by "user@instance".
func (cx *Context) lookup(ctx context.Context, name string) (*accountstore.Record, error) {
	var (
		rec *accountstore.Record
		err error
	)
	if id, ok := parseID(name); ok {
		rec, err = cx.store.Get(ctx, id)
	} else {
		user, host, found := strings.Cut(name, "@")
		if !found || len(user) == 0 || len(host) == 0 {
			return nil, errors.Errorf("%q is not an account id or user@instance", name)
		}
		rec, err = cx.store.Find(ctx, instanceURL(host), user)
	}
	if errors.Is(err, accountstore.ErrNotFound) {
		return nil, errors.Errorf("no saved account %q", name)
	}
	return rec, err
}

// clientFor returns a client for the account's instance, authenticated
// when the account has a token.
func (cx *Context) clientFor(acct *account.Account) *lemmy.Client {
	if acct == nil {
		return cx.client
	}
	c := cx.client.At(acct.Instance)
	if len(acct.Token) > 0 {
		c = c.WithToken(acct.Username, acct.Token)
	}
	return c
}

func instanceURL(s string) *url.URL {
	if !strings.Contains(s, "://") {
		s = "https://" + s
	}
	u, err := url.Parse(s)
	if err != nil || len(u.Host) == 0 {
		return &url.URL{Scheme: "https", Host: s}
	}
	return &url.URL{Scheme: u.Scheme, Host: u.Host, Path: strings.TrimSuffix(u.Path, "/")}
}

func defaultDBPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = xdg.Cache("lem")
	}
	return filepath.Join(dir, "lem", "accounts.db")
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && len(v) > 0 {
		return v
	}
	return fallback
}
