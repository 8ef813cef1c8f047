package repository

import (
	"context"
	"database/sql"
	"errors"
	"io/fs"
	"log"
	"slices"
	"strings"

	goerrors "github.com/goliatone/go-errors"
	"github.com/uptrace/bun"

	auth "github.com/healthapp/go-auth"
)

const migrationsDir = "data/sql/migrations"

// Manager owns the bun handle and the stores built on it.
type Manager struct {
	db       *bun.DB
	accounts *AccountRepository
	requests *ActivationRequestRepository
}

// NewManager builds both stores on db.
func NewManager(db *bun.DB) *Manager {
	return &Manager{
		db:       db,
		accounts: NewAccountRepository(db),
		requests: NewActivationRequestRepository(db),
	}
}

func (m *Manager) Validate() error {
	if m.db == nil {
		return errors.New("repository database should be initialized")
	}
	if m.accounts == nil {
		return errors.New("repository accounts should be initialized")
	}
	if m.requests == nil {
		return errors.New("repository activation requests should be initialized")
	}
	return nil
}

func (m *Manager) MustValidate() {
	if err := m.Validate(); err != nil {
		log.Panic(err)
	}
}

func (m *Manager) RunInTx(ctx context.Context, opts *sql.TxOptions, f func(ctx context.Context, tx bun.Tx) error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return m.db.RunInTx(ctx, opts, f)
	}
}

func (m *Manager) Accounts() *AccountRepository {
	return m.accounts
}

func (m *Manager) ActivationRequests() *ActivationRequestRepository {
	return m.requests
}

func (m *Manager) DB() *bun.DB {
	return m.db
}

func (m *Manager) Close() error {
	return m.db.Close()
}

// Migrate applies the embedded migrations inside one transaction. The
// statements are idempotent so Migrate is safe to run on every start.
func (m *Manager) Migrate(ctx context.Context) error {
	migrations := auth.GetMigrationsFS()
	names, err := fs.Glob(migrations, migrationsDir+"/*.up.sql")
	if err != nil {
		return err
	}
	slices.Sort(names)

	return m.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		for _, name := range names {
			body, err := fs.ReadFile(migrations, name)
			if err != nil {
				return err
			}
			for _, stmt := range splitStatements(string(body)) {
				if _, err := tx.ExecContext(ctx, stmt); err != nil {
					return goerrors.Wrap(err, goerrors.CategoryInternal, "migration failed").
						WithMetadata(map[string]any{"file": name})
				}
			}
		}
		return nil
	})
}

func splitStatements(body string) []string {
	var out []string
	for _, stmt := range strings.Split(body, ";") {
		if stmt = strings.TrimSpace(stmt); stmt != "" {
			out = append(out, stmt)
		}
	}
	return out
}
