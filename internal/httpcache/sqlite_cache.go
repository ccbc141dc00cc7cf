package httpcache

import (
	"bytes"
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/gob"
	"encoding/hex"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/huandu/go-sqlbuilder"
	"github.com/pkg/errors"
)

const table = "http_cache"

// Cache is an [http.RoundTripper] that stores successful GET responses in
// a database and replays them until they are older than TTL.
type Cache struct {
	RoundTripper http.RoundTripper
	TTL          time.Duration
	Logger       *slog.Logger
	db           *sql.DB
	flavor       sqlbuilder.Flavor
	now          func() time.Time
}

func New(db *sql.DB, flavor sqlbuilder.Flavor, rt http.RoundTripper, ttl time.Duration) *Cache {
	if rt == nil {
		rt = http.DefaultTransport
	}
	return &Cache{
		RoundTripper: rt,
		TTL:          ttl,
		Logger:       slog.Default(),
		db:           db,
		flavor:       flavor,
		now:          time.Now,
	}
}

func (c *Cache) Migrate(ctx context.Context) error {
	blob := "BLOB"
	if c.flavor == sqlbuilder.PostgreSQL {
		blob = "BYTEA"
	}
	ctb := c.flavor.NewCreateTableBuilder()
	ctb.CreateTable(table).IfNotExists().
		Define("key", "VARCHAR(64)", "PRIMARY KEY").
		Define("blob", blob, "NOT NULL").
		Define("updated_at", "BIGINT", "NOT NULL")
	query, args := ctb.Build()
	_, err := c.db.ExecContext(ctx, query, args...)
	return errors.Wrap(err, "failed to create http cache table")
}

// Clear removes every cached response.
func (c *Cache) Clear(ctx context.Context) (int64, error) {
	del := c.flavor.NewDeleteBuilder()
	del.DeleteFrom(table)
	return c.exec(ctx, del)
}

// Prune removes responses that have outlived the TTL.
func (c *Cache) Prune(ctx context.Context) (int64, error) {
	del := c.flavor.NewDeleteBuilder()
	del.DeleteFrom(table).Where(del.LessThan("updated_at", c.now().Add(-c.TTL).UnixMilli()))
	return c.exec(ctx, del)
}

func (c *Cache) exec(ctx context.Context, b sqlbuilder.Builder) (int64, error) {
	query, args := b.BuildWithFlavor(c.flavor)
	res, err := c.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, errors.WithStack(err)
	}
	n, err := res.RowsAffected()
	return n, errors.WithStack(err)
}

func (c *Cache) RoundTrip(r *http.Request) (*http.Response, error) {
	if r.Method != http.MethodGet || c.TTL <= 0 {
		return c.RoundTripper.RoundTrip(r)
	}
	var (
		err  error
		ctx  = r.Context()
		hash = sha256.New()
	)
	for _, b := range [][]byte{
		{byte(r.ProtoMajor), byte(r.ProtoMinor)},
		[]byte(r.Method),
		[]byte(r.URL.String()),
		[]byte(r.Header.Get("Accept")),
		// responses differ per user
		[]byte(r.Header.Get("Authorization")),
	} {
		_, err = hash.Write(b)
		if err != nil {
			return nil, errors.WithStack(err)
		}
	}
	key := hex.EncodeToString(hash.Sum(nil))
	cached, updatedAt, err := c.get(ctx, key)
	if err == nil && c.now().UnixMilli() < updatedAt+c.TTL.Milliseconds() {
		length := int64(len(cached.Body))
		c.Logger.Debug("found response in cache",
			"method", r.Method,
			"url", redactURL(r),
			"length", length,
			"key", key)
		return &http.Response{
			Request:       r,
			Proto:         cached.Proto,
			ProtoMajor:    cached.ProtoMajor,
			ProtoMinor:    cached.ProtoMinor,
			StatusCode:    cached.Status,
			Status:        http.StatusText(cached.Status),
			Header:        cached.Header,
			Body:          io.NopCloser(bytes.NewBuffer(cached.Body)),
			ContentLength: length,
		}, nil
	}

	response, err := c.RoundTripper.RoundTrip(r)
	if err != nil {
		return response, errors.WithStack(err)
	}
	if response.StatusCode >= 300 {
		return response, nil
	}
	var cachedbody bytes.Buffer
	err = captureResponseBody(response, &cachedbody)
	if err != nil {
		return response, errors.WithStack(err)
	}
	if err = c.put(ctx, key, response, &cachedbody); err != nil {
		// a broken cache should not fail the request
		c.Logger.Warn("failed to store response in cache", "error", err, "key", key)
		return response, nil
	}
	c.Logger.Debug("response stored in cache",
		"method", r.Method,
		"url", redactURL(r),
		"length", cachedbody.Len(),
		"key", key)
	return response, nil
}

func (c *Cache) get(ctx context.Context, key string) (*Result, int64, error) {
	var (
		res       Result
		updatedAt int64
		blob      []byte
	)
	sb := c.flavor.NewSelectBuilder()
	sb.Select("blob", "updated_at").From(table).Where(sb.Equal("key", key))
	query, args := sb.Build()
	err := c.db.QueryRowContext(ctx, query, args...).Scan(&blob, &updatedAt)
	if err != nil {
		return nil, 0, errors.WithStack(err)
	}
	err = gob.NewDecoder(bytes.NewBuffer(blob)).Decode(&res)
	if err != nil {
		return nil, updatedAt, errors.WithStack(err)
	}
	return &res, updatedAt, nil
}

func (c *Cache) put(ctx context.Context, key string, res *http.Response, body *bytes.Buffer) error {
	data := Result{
		Proto:      res.Proto,
		ProtoMajor: res.ProtoMajor,
		ProtoMinor: res.ProtoMinor,
		Status:     res.StatusCode,
		Header:     res.Header,
		Body:       body.Bytes(),
	}
	var blob bytes.Buffer
	err := gob.NewEncoder(&blob).Encode(&data)
	if err != nil {
		return errors.WithStack(err)
	}
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.WithStack(err)
	}
	defer tx.Rollback()
	del := c.flavor.NewDeleteBuilder()
	del.DeleteFrom(table).Where(del.Equal("key", key))
	query, args := del.Build()
	if _, err = tx.ExecContext(ctx, query, args...); err != nil {
		return errors.WithStack(err)
	}
	ib := c.flavor.NewInsertBuilder()
	ib.InsertInto(table).
		Cols("key", "blob", "updated_at").
		Values(key, blob.Bytes(), c.now().UnixMilli())
	query, args = ib.Build()
	if _, err = tx.ExecContext(ctx, query, args...); err != nil {
		return errors.WithStack(err)
	}
	return errors.WithStack(tx.Commit())
}

func captureResponseBody(response *http.Response, cached *bytes.Buffer) error {
	var newbody bytes.Buffer
	_, err := io.Copy(
		cached,
		io.TeeReader(response.Body, &newbody),
	)
	if err != nil {
		response.Body.Close()
		return errors.WithStack(err)
	}
	if err = response.Body.Close(); err != nil {
		return errors.WithStack(err)
	}
	response.Body = io.NopCloser(&newbody)
	return nil
}

type Result struct {
	Proto      string
	ProtoMajor int
	ProtoMinor int
	Status     int
	Header     http.Header
	Body       []byte
}

func init() {
	gob.Register(&Result{})
}
