// Package accountstore persists saved accounts and tracks which one is active.
package accountstore

import (
	"context"
	"database/sql"
	"net/url"
	"strings"
	"time"

	"github.com/huandu/go-sqlbuilder"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"github.com/harrybrwn/lem/internal/account"
)

var ErrNotFound = errors.New("account not found")

const table = "account"

var columns = []string{"id", "instance", "username", "token", "active", "created_at", "updated_at"}

// Record is a saved account along with its bookkeeping columns.
type Record struct {
	account.Account
	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Store struct {
	db     *sql.DB
	flavor sqlbuilder.Flavor
}

func New(db *sql.DB, flavor sqlbuilder.Flavor) *Store {
	return &Store{db: db, flavor: flavor}
}

// Open connects to a postgres database when dsn is a postgres url and to
// a sqlite database file otherwise.
func Open(ctx context.Context, dsn string) (*Store, error) {
	driver, flavor := "sqlite3", sqlbuilder.SQLite
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		driver, flavor = "postgres", sqlbuilder.PostgreSQL
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open account database")
	}
	if err = db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to connect to account database")
	}
	return New(db, flavor), nil
}

func (s *Store) Close() error { return s.db.Close() }

// DB exposes the connection so other tables can share the database.
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Flavor() sqlbuilder.Flavor { return s.flavor }

func (s *Store) Migrate(ctx context.Context) error {
	id := "INTEGER PRIMARY KEY AUTOINCREMENT"
	if s.flavor == sqlbuilder.PostgreSQL {
		id = "BIGSERIAL PRIMARY KEY"
	}
	ctb := s.flavor.NewCreateTableBuilder()
	ctb.CreateTable(table).IfNotExists().
		Define("id", id).
		Define("instance", "TEXT", "NOT NULL").
		Define("username", "TEXT", "NOT NULL").
		Define("token", "TEXT", "NOT NULL").
		Define("active", "SMALLINT", "NOT NULL", "DEFAULT 0").
		Define("created_at", "BIGINT", "NOT NULL").
		Define("updated_at", "BIGINT", "NOT NULL").
		Define("UNIQUE (instance, username)")
	query, args := ctb.Build()
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return errors.Wrap(err, "failed to create account table")
	}
	if s.flavor == sqlbuilder.SQLite {
		_, err := s.db.ExecContext(ctx, `PRAGMA journal_mode = WAL`)
		return errors.WithStack(err)
	}
	return nil
}

// Put saves an account. An account already saved for the same instance and
// username has its token replaced. The returned record carries the stored
// id.
func (s *Store) Put(ctx context.Context, acct account.Account) (*Record, error) {
	if acct.Instance == nil {
		return nil, errors.New("account has no instance url")
	}
	if len(acct.Username) == 0 {
		return nil, errors.New("account has no username")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	defer tx.Rollback()

	instance := acct.Instance.String()
	now := time.Now().UnixMilli()
	rec, err := s.find(ctx, tx, instance, acct.Username)
	switch {
	case errors.Is(err, ErrNotFound):
		ib := s.flavor.NewInsertBuilder()
		ib.InsertInto(table).
			Cols("instance", "username", "token", "created_at", "updated_at").
			Values(instance, acct.Username, acct.Token, now, now)
		query, args := ib.Build()
		if _, err = tx.ExecContext(ctx, query, args...); err != nil {
			return nil, errors.Wrap(err, "failed to insert account")
		}
	case err != nil:
		return nil, err
	default:
		ub := s.flavor.NewUpdateBuilder()
		ub.Update(table).
			Set(ub.Assign("token", acct.Token), ub.Assign("updated_at", now)).
			Where(ub.Equal("id", rec.ID))
		query, args := ub.Build()
		if _, err = tx.ExecContext(ctx, query, args...); err != nil {
			return nil, errors.Wrap(err, "failed to update account token")
		}
	}
	rec, err = s.find(ctx, tx, instance, acct.Username)
	if err != nil {
		return nil, err
	}
	return rec, errors.WithStack(tx.Commit())
}

func (s *Store) Get(ctx context.Context, id int64) (*Record, error) {
	sb := s.selectAccounts()
	sb.Where(sb.Equal("id", id))
	query, args := sb.Build()
	return scanRecord(s.db.QueryRowContext(ctx, query, args...))
}

func (s *Store) Find(ctx context.Context, instance *url.URL, username string) (*Record, error) {
	if instance == nil {
		return nil, ErrNotFound
	}
	return s.find(ctx, s.db, instance.String(), username)
}

// Active returns the account commands run as by default.
func (s *Store) Active(ctx context.Context) (*Record, error) {
	sb := s.selectAccounts()
	sb.Where(sb.NotEqual("active", 0)).Limit(1)
	query, args := sb.Build()
	return scanRecord(s.db.QueryRowContext(ctx, query, args...))
}

func (s *Store) List(ctx context.Context) ([]Record, error) {
	sb := s.selectAccounts()
	sb.OrderBy("id").Asc()
	query, args := sb.Build()
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	defer rows.Close()
	records := make([]Record, 0)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	return records, errors.WithStack(rows.Err())
}

// SetActive makes id the only active account.
func (s *Store) SetActive(ctx context.Context, id int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.WithStack(err)
	}
	defer tx.Rollback()

	ub := s.flavor.NewUpdateBuilder()
	ub.Update(table).Set(ub.Assign("active", 0)).Where(ub.NotEqual("active", 0))
	query, args := ub.Build()
	if _, err = tx.ExecContext(ctx, query, args...); err != nil {
		return errors.Wrap(err, "failed to clear active account")
	}
	ub = s.flavor.NewUpdateBuilder()
	ub.Update(table).Set(ub.Assign("active", 1)).Where(ub.Equal("id", id))
	query, args = ub.Build()
	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return errors.Wrap(err, "failed to set active account")
	}
	if err = expectRow(res); err != nil {
		return err
	}
	return errors.WithStack(tx.Commit())
}

func (s *Store) Delete(ctx context.Context, id int64) error {
	db := s.flavor.NewDeleteBuilder()
	db.DeleteFrom(table).Where(db.Equal("id", id))
	query, args := db.Build()
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return errors.Wrap(err, "failed to delete account")
	}
	return expectRow(res)
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) find(ctx context.Context, q queryer, instance, username string) (*Record, error) {
	sb := s.selectAccounts()
	sb.Where(sb.Equal("instance", instance), sb.Equal("username", username))
	query, args := sb.Build()
	return scanRecord(q.QueryRowContext(ctx, query, args...))
}

func (s *Store) selectAccounts() *sqlbuilder.SelectBuilder {
	sb := s.flavor.NewSelectBuilder()
	sb.Select(columns...).From(table)
	return sb
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*Record, error) {
	var (
		rec       Record
		instance  string
		active    int
		createdAt int64
		updatedAt int64
	)
	err := row.Scan(
		&rec.ID,
		&instance,
		&rec.Username,
		&rec.Token,
		&active,
		&createdAt,
		&updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	} else if err != nil {
		return nil, errors.WithStack(err)
	}
	rec.Instance, err = url.Parse(instance)
	if err != nil {
		return nil, errors.Wrap(err, "stored account has an invalid instance url")
	}
	rec.Active = active != 0
	rec.CreatedAt = time.UnixMilli(createdAt)
	rec.UpdatedAt = time.UnixMilli(updatedAt)
	return &rec, nil
}

func expectRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return errors.WithStack(err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
