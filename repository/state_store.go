package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

// StateModel is the Bun model for persisted client state.
type StateModel struct {
	bun.BaseModel `bun:"table:client_state"`

	Key       string    `bun:"key,pk"`
	Value     string    `bun:"value,notnull"`
	UpdatedAt time.Time `bun:"updated_at,notnull,default:current_timestamp"`
}

// KeyValueStore keeps client state (tokens, cached profile, notification
// history) in a SQL table so it survives process restarts.
type KeyValueStore struct {
	db  *bun.DB
	now func() time.Time
}

// NewKeyValueStore wraps an existing Bun database.
func NewKeyValueStore(db *bun.DB) *KeyValueStore {
	return &KeyValueStore{db: db, now: time.Now}
}

// OpenSQLite opens dsn with the sqlite shim driver and creates the state
// table. Use "file::memory:?cache=shared" for an ephemeral store.
func OpenSQLite(ctx context.Context, dsn string) (*KeyValueStore, error) {
	sqldb, err := sql.Open(sqliteshim.ShimName, dsn)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to open client state database")
	}
	sqldb.SetMaxOpenConns(1)

	store := NewKeyValueStore(bun.NewDB(sqldb, sqlitedialect.New()))
	if err := store.CreateTable(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}

// CreateTable creates client_state when it does not exist.
func (s *KeyValueStore) CreateTable(ctx context.Context) error {
	_, err := s.db.NewCreateTable().
		Model((*StateModel)(nil)).
		IfNotExists().
		Exec(ctx)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to create client_state table")
	}
	return nil
}

// Get implements authclient.Storage.
func (s *KeyValueStore) Get(ctx context.Context, key string) (string, bool, error) {
	var model StateModel
	err := s.db.NewSelect().
		Model(&model).
		Where("key = ?", key).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, err
	}
	return model.Value, true, nil
}

// Set implements authclient.Storage.
func (s *KeyValueStore) Set(ctx context.Context, key, value string) error {
	model := &StateModel{
		Key:       key,
		Value:     value,
		UpdatedAt: s.now().UTC(),
	}

	_, err := s.db.NewInsert().
		Model(model).
		On("CONFLICT (key) DO UPDATE").
		Set("value = EXCLUDED.value").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	return err
}

// Delete implements authclient.Storage.
func (s *KeyValueStore) Delete(ctx context.Context, key string) error {
	_, err := s.db.NewDelete().
		Model((*StateModel)(nil)).
		Where("key = ?", key).
		Exec(ctx)
	return err
}

// DeleteMany removes keys in a single transaction so readers never see a
// partial delete.
func (s *KeyValueStore) DeleteMany(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return s.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		_, err := tx.NewDelete().
			Model((*StateModel)(nil)).
			Where("key IN (?)", bun.In(keys)).
			Exec(ctx)
		return err
	})
}

// Keys lists stored keys, oldest update first.
func (s *KeyValueStore) Keys(ctx context.Context) ([]string, error) {
	var keys []string
	err := s.db.NewSelect().
		Model((*StateModel)(nil)).
		Column("key").
		Order("updated_at ASC", "key ASC").
		Scan(ctx, &keys)
	if err != nil {
		return nil, err
	}
	return keys, nil
}

func (s *KeyValueStore) RunInTx(ctx context.Context, opts *sql.TxOptions, f func(ctx context.Context, tx bun.Tx) error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return s.db.RunInTx(ctx, opts, f)
	}
}

// Close closes the underlying database.
func (s *KeyValueStore) Close() error {
	return s.db.Close()
}
