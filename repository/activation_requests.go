package repository

import (
	"context"

	goerrors "github.com/goliatone/go-errors"
	"github.com/uptrace/bun"

	auth "github.com/healthapp/go-auth"
)

// ActivationRequestRepository is the bun backed ledger. The unique index
// on doctor_id makes Create idempotent per doctor.
type ActivationRequestRepository struct {
	db bun.IDB
}

var (
	_ auth.ActivationRequestStore = (*ActivationRequestRepository)(nil)
	_ auth.PendingResolver        = (*ActivationRequestRepository)(nil)
)

func NewActivationRequestRepository(db bun.IDB) *ActivationRequestRepository {
	return &ActivationRequestRepository{db: db}
}

func (r *ActivationRequestRepository) FindByID(ctx context.Context, id string) (*auth.ActivationRequest, error) {
	return r.findOne(ctx, "?TableAlias.id = ?", id)
}

func (r *ActivationRequestRepository) FindByDoctorID(ctx context.Context, doctorID string) (*auth.ActivationRequest, error) {
	return r.findOne(ctx, "?TableAlias.doctor_id = ?", doctorID)
}

func (r *ActivationRequestRepository) findOne(ctx context.Context, where string, arg string) (*auth.ActivationRequest, error) {
	request := new(auth.ActivationRequest)
	err := r.db.NewSelect().
		Model(request).
		Where(where, arg).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, mapNotFound(err, auth.ErrActivationRequestNotFound)
	}
	return request, nil
}

func (r *ActivationRequestRepository) Find(ctx context.Context, filter auth.ActivationRequestFilter) ([]*auth.ActivationRequest, error) {
	requests := []*auth.ActivationRequest{}
	err := r.query(filter, &requests).
		OrderExpr("?TableAlias.requested_at ASC, ?TableAlias.id ASC").
		Scan(ctx)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to list activation requests")
	}
	return requests, nil
}

func (r *ActivationRequestRepository) Count(ctx context.Context, filter auth.ActivationRequestFilter) (int64, error) {
	n, err := r.query(filter, (*auth.ActivationRequest)(nil)).Count(ctx)
	if err != nil {
		return 0, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to count activation requests")
	}
	return int64(n), nil
}

func (r *ActivationRequestRepository) query(filter auth.ActivationRequestFilter, model any) *bun.SelectQuery {
	q := r.db.NewSelect().Model(model)
	if len(filter.DoctorIDs) > 0 {
		q = q.Where("?TableAlias.doctor_id IN (?)", bun.In(filter.DoctorIDs))
	}
	if filter.Pending != nil {
		q = q.Where("?TableAlias.is_pending = ?", *filter.Pending)
	}
	if filter.ProcessedBy != "" {
		q = q.Where("?TableAlias.processed_by = ?", filter.ProcessedBy)
	}
	return q
}

func (r *ActivationRequestRepository) Create(ctx context.Context, request *auth.ActivationRequest) error {
	if _, err := r.db.NewInsert().Model(request).Exec(ctx); err != nil {
		return mapWriteError(err, auth.ErrActivationRequestExists)
	}
	return nil
}

func (r *ActivationRequestRepository) Save(ctx context.Context, request *auth.ActivationRequest) error {
	res, err := r.db.NewUpdate().
		Model(request).
		WherePK().
		Exec(ctx)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to update activation request")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return auth.ErrActivationRequestNotFound
	}
	return nil
}

// ResolvePending writes the resolution columns only while is_pending is
// still true.
func (r *ActivationRequestRepository) ResolvePending(ctx context.Context, request *auth.ActivationRequest) error {
	res, err := r.db.NewUpdate().
		Model(request).
		Column("is_pending", "outcome", "processed_by", "processed_by_email", "processed_at", "processing_notes").
		Where("?TableAlias.doctor_id = ?", request.DoctorID).
		Where("?TableAlias.is_pending = ?", true).
		Exec(ctx)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to resolve activation request")
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}

	if _, err := r.FindByDoctorID(ctx, request.DoctorID); err != nil {
		return err
	}
	return alreadyProcessed("activation request is no longer pending")
}
