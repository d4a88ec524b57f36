package store

import (
	"context"
	"database/sql"

	"github.com/lithammer/shortuuid/v4"
	"github.com/pkg/errors"

	"github.com/hrygo/meetflow/internal/profile"
)

// Driver is the interface a database backend implements.
type Driver interface {
	GetDB() *sql.DB
	Close() error

	// Migrate creates the schema if it does not exist.
	Migrate(ctx context.Context) error

	CreateRun(ctx context.Context, create *Run) (*Run, error)
	ListRuns(ctx context.Context, find *FindRun) ([]*Run, error)
}

// Store provides database access to run history.
type Store struct {
	profile *profile.Profile
	driver  Driver
}

// New creates a new instance of Store.
func New(driver Driver, profile *profile.Profile) *Store {
	return &Store{
		driver:  driver,
		profile: profile,
	}
}

func (s *Store) Close() error {
	return s.driver.Close()
}

// Migrate prepares the schema.
func (s *Store) Migrate(ctx context.Context) error {
	if err := s.driver.Migrate(ctx); err != nil {
		return errors.Wrap(err, "failed to migrate")
	}
	return nil
}

// CreateRun stores a run, assigning a UID when none is set.
func (s *Store) CreateRun(ctx context.Context, create *Run) (*Run, error) {
	if create.UID == "" {
		create.UID = shortuuid.New()
	}
	return s.driver.CreateRun(ctx, create)
}

// ListRuns lists runs, newest first.
func (s *Store) ListRuns(ctx context.Context, find *FindRun) ([]*Run, error) {
	if find == nil {
		find = &FindRun{}
	}
	return s.driver.ListRuns(ctx, find)
}

// GetRun returns the run with the given UID, or nil when it does not exist.
func (s *Store) GetRun(ctx context.Context, uid string) (*Run, error) {
	limit := 1
	list, err := s.driver.ListRuns(ctx, &FindRun{UID: &uid, Limit: &limit})
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, nil
	}
	return list[0], nil
}
