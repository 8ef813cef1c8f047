package repository

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/uptrace/bun"

	auth "github.com/healthapp/go-auth"
)

// AccountRepository is the bun backed auth.AccountStore.
type AccountRepository struct {
	db bun.IDB
}

var (
	_ auth.AccountStore      = (*AccountRepository)(nil)
	_ auth.ActivationClaimer = (*AccountRepository)(nil)
)

// NewAccountRepository accepts a *bun.DB or a bun.Tx.
func NewAccountRepository(db bun.IDB) *AccountRepository {
	return &AccountRepository{db: db}
}

func (r *AccountRepository) FindByID(ctx context.Context, id string) (*auth.Account, error) {
	account := new(auth.Account)
	err := r.db.NewSelect().
		Model(account).
		Where("?TableAlias.id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, mapNotFound(err, auth.ErrAccountNotFound)
	}
	return account, nil
}

func (r *AccountRepository) FindByEmail(ctx context.Context, email string) (*auth.Account, error) {
	account := new(auth.Account)
	err := r.db.NewSelect().
		Model(account).
		Where("?TableAlias.email = ?", auth.NormalizeEmail(email)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, mapNotFound(err, auth.ErrAccountNotFound)
	}
	return account, nil
}

func (r *AccountRepository) Find(ctx context.Context, filter auth.AccountFilter) ([]*auth.Account, error) {
	accounts := []*auth.Account{}
	err := r.query(filter, &accounts).
		OrderExpr("?TableAlias.created_at ASC, ?TableAlias.id ASC").
		Scan(ctx)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to list accounts")
	}
	return accounts, nil
}

func (r *AccountRepository) Count(ctx context.Context, filter auth.AccountFilter) (int64, error) {
	n, err := r.query(filter, (*auth.Account)(nil)).Count(ctx)
	if err != nil {
		return 0, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to count accounts")
	}
	return int64(n), nil
}

func (r *AccountRepository) query(filter auth.AccountFilter, model any) *bun.SelectQuery {
	q := r.db.NewSelect().Model(model)
	if filter.Role != "" && filter.Role != auth.RoleUser {
		q = q.Where("',' || ?TableAlias.roles || ',' LIKE ?", "%,"+string(filter.Role)+",%")
	}
	if filter.Activated != nil {
		q = q.Where("?TableAlias.is_activated = ?", *filter.Activated)
	}
	if filter.Status != "" {
		q = q.Where("?TableAlias.status = ?", filter.Status)
	}
	return q
}

// Save updates the account by primary key and inserts it when no row
// matched.
func (r *AccountRepository) Save(ctx context.Context, account *auth.Account) error {
	account.EnsureDefaults()

	res, err := r.db.NewUpdate().
		Model(account).
		WherePK().
		Exec(ctx)
	if err != nil {
		return mapWriteError(err, auth.ErrEmailAlreadyExists)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}

	if _, err := r.db.NewInsert().Model(account).Exec(ctx); err != nil {
		return mapWriteError(err, auth.ErrEmailAlreadyExists)
	}
	return nil
}

// MarkActivated sets the activation columns only while is_activated is
// still false.
func (r *AccountRepository) MarkActivated(ctx context.Context, account *auth.Account) error {
	res, err := r.db.NewUpdate().
		Model(account).
		Column("is_activated", "activated_by", "activation_date", "updated_at").
		WherePK().
		Where("?TableAlias.is_activated = ?", false).
		Exec(ctx)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to activate account")
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}

	if _, err := r.FindByID(ctx, account.ID); err != nil {
		return err
	}
	return alreadyProcessed("account already activated")
}

// TrackSuccessfulLogin stamps last_login_at without touching other columns.
func (r *AccountRepository) TrackSuccessfulLogin(ctx context.Context, id string, at time.Time) error {
	at = at.UTC()
	res, err := r.db.NewUpdate().
		Model(&auth.Account{ID: id, LastLoginAt: &at, UpdatedAt: at}).
		Column("last_login_at", "updated_at").
		WherePK().
		Exec(ctx)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to track login")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return auth.ErrAccountNotFound
	}
	return nil
}
