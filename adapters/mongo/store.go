// Package mongo stores accounts and activation requests in MongoDB. The
// conditional updates match on the pending and activated flags so each
// document write stays atomic.
package mongo

import (
	"context"
	"errors"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	auth "github.com/healthapp/go-auth"
)

const (
	AccountsCollection = "users"
	RequestsCollection = "doctor_activation_requests"
)

// Connect dials uri and pings the primary.
func Connect(ctx context.Context, uri string) (*mongo.Client, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	return client, nil
}

// EnsureIndexes creates the unique indexes the stores rely on.
func EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	if _, err := db.Collection(AccountsCollection).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "is_activated", Value: 1}, {Key: "created_at", Value: 1}}},
	}); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to create account indexes")
	}

	if _, err := db.Collection(RequestsCollection).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "doctor_id", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "is_pending", Value: 1}, {Key: "requested_at", Value: 1}}},
		{Keys: bson.D{{Key: "processed_by", Value: 1}}},
	}); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to create activation request indexes")
	}
	return nil
}

// Accounts is the MongoDB auth.AccountStore.
type Accounts struct {
	coll *mongo.Collection
}

var (
	_ auth.AccountStore      = (*Accounts)(nil)
	_ auth.ActivationClaimer = (*Accounts)(nil)
)

func NewAccounts(db *mongo.Database) *Accounts {
	return &Accounts{coll: db.Collection(AccountsCollection)}
}

func (s *Accounts) FindByID(ctx context.Context, id string) (*auth.Account, error) {
	return s.findOne(ctx, bson.M{"_id": id})
}

func (s *Accounts) FindByEmail(ctx context.Context, email string) (*auth.Account, error) {
	return s.findOne(ctx, bson.M{"email": auth.NormalizeEmail(email)})
}

func (s *Accounts) findOne(ctx context.Context, filter bson.M) (*auth.Account, error) {
	account := new(auth.Account)
	if err := s.coll.FindOne(ctx, filter).Decode(account); err != nil {
		return nil, mapNotFound(err, auth.ErrAccountNotFound)
	}
	return account, nil
}

func (s *Accounts) Find(ctx context.Context, filter auth.AccountFilter) ([]*auth.Account, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})
	cur, err := s.coll.Find(ctx, accountQuery(filter), opts)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to list accounts")
	}
	defer cur.Close(ctx)

	accounts := []*auth.Account{}
	if err := cur.All(ctx, &accounts); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to decode accounts")
	}
	return accounts, nil
}

func (s *Accounts) Count(ctx context.Context, filter auth.AccountFilter) (int64, error) {
	n, err := s.coll.CountDocuments(ctx, accountQuery(filter))
	if err != nil {
		return 0, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to count accounts")
	}
	return n, nil
}

// Save replaces the document by id, inserting it when missing.
func (s *Accounts) Save(ctx context.Context, account *auth.Account) error {
	account.EnsureDefaults()
	_, err := s.coll.ReplaceOne(ctx, bson.M{"_id": account.ID}, account, options.Replace().SetUpsert(true))
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return auth.ErrEmailAlreadyExists
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to save account")
	}
	return nil
}

// MarkActivated updates the document only while is_activated is false.
func (s *Accounts) MarkActivated(ctx context.Context, account *auth.Account) error {
	res, err := s.coll.UpdateOne(ctx,
		bson.M{"_id": account.ID, "is_activated": false},
		bson.M{"$set": bson.M{
			"is_activated":    true,
			"activated_by":    account.ActivatedBy,
			"activation_date": account.ActivationDate,
			"updated_at":      account.UpdatedAt,
		}},
	)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to activate account")
	}
	if res.MatchedCount > 0 {
		return nil
	}
	if _, err := s.FindByID(ctx, account.ID); err != nil {
		return err
	}
	return alreadyProcessed("account already activated")
}

// TrackSuccessfulLogin sets only the login timestamps.
func (s *Accounts) TrackSuccessfulLogin(ctx context.Context, id string, at time.Time) error {
	at = at.UTC()
	res, err := s.coll.UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{"$set": bson.M{
			"last_login_at": at,
			"updated_at":    at,
		}},
	)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to track login")
	}
	if res.MatchedCount == 0 {
		return auth.ErrAccountNotFound
	}
	return nil
}

func accountQuery(filter auth.AccountFilter) bson.M {
	q := bson.M{}
	if filter.Role != "" && filter.Role != auth.RoleUser {
		q["roles"] = string(filter.Role)
	}
	if filter.Activated != nil {
		q["is_activated"] = *filter.Activated
	}
	if filter.Status != "" {
		q["status"] = string(filter.Status)
	}
	return q
}

// Requests is the MongoDB activation request ledger.
type Requests struct {
	coll *mongo.Collection
}

var (
	_ auth.ActivationRequestStore = (*Requests)(nil)
	_ auth.PendingResolver        = (*Requests)(nil)
)

func NewRequests(db *mongo.Database) *Requests {
	return &Requests{coll: db.Collection(RequestsCollection)}
}

func (s *Requests) FindByID(ctx context.Context, id string) (*auth.ActivationRequest, error) {
	return s.findOne(ctx, bson.M{"_id": id})
}

func (s *Requests) FindByDoctorID(ctx context.Context, doctorID string) (*auth.ActivationRequest, error) {
	return s.findOne(ctx, bson.M{"doctor_id": doctorID})
}

func (s *Requests) findOne(ctx context.Context, filter bson.M) (*auth.ActivationRequest, error) {
	request := new(auth.ActivationRequest)
	if err := s.coll.FindOne(ctx, filter).Decode(request); err != nil {
		return nil, mapNotFound(err, auth.ErrActivationRequestNotFound)
	}
	return request, nil
}

func (s *Requests) Find(ctx context.Context, filter auth.ActivationRequestFilter) ([]*auth.ActivationRequest, error) {
	opts := options.Find().SetSort(bson.D{{Key: "requested_at", Value: 1}, {Key: "_id", Value: 1}})
	cur, err := s.coll.Find(ctx, requestQuery(filter), opts)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to list activation requests")
	}
	defer cur.Close(ctx)

	requests := []*auth.ActivationRequest{}
	if err := cur.All(ctx, &requests); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to decode activation requests")
	}
	return requests, nil
}

func (s *Requests) Count(ctx context.Context, filter auth.ActivationRequestFilter) (int64, error) {
	n, err := s.coll.CountDocuments(ctx, requestQuery(filter))
	if err != nil {
		return 0, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to count activation requests")
	}
	return n, nil
}

func (s *Requests) Create(ctx context.Context, request *auth.ActivationRequest) error {
	if _, err := s.coll.InsertOne(ctx, request); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return auth.ErrActivationRequestExists
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to create activation request")
	}
	return nil
}

func (s *Requests) Save(ctx context.Context, request *auth.ActivationRequest) error {
	res, err := s.coll.ReplaceOne(ctx, bson.M{"_id": request.ID}, request)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to save activation request")
	}
	if res.MatchedCount == 0 {
		return auth.ErrActivationRequestNotFound
	}
	return nil
}

// ResolvePending updates the entry only while is_pending is true.
func (s *Requests) ResolvePending(ctx context.Context, request *auth.ActivationRequest) error {
	res, err := s.coll.UpdateOne(ctx,
		bson.M{"doctor_id": request.DoctorID, "is_pending": true},
		bson.M{"$set": bson.M{
			"is_pending":         false,
			"outcome":            string(request.Outcome),
			"processed_by":       request.ProcessedBy,
			"processed_by_email": request.ProcessedByEmail,
			"processed_at":       request.ProcessedAt,
			"processing_notes":   request.ProcessingNotes,
		}},
	)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to resolve activation request")
	}
	if res.MatchedCount > 0 {
		return nil
	}
	if _, err := s.FindByDoctorID(ctx, request.DoctorID); err != nil {
		return err
	}
	return alreadyProcessed("activation request is no longer pending")
}

func requestQuery(filter auth.ActivationRequestFilter) bson.M {
	q := bson.M{}
	if len(filter.DoctorIDs) > 0 {
		q["doctor_id"] = bson.M{"$in": filter.DoctorIDs}
	}
	if filter.Pending != nil {
		q["is_pending"] = *filter.Pending
	}
	if filter.ProcessedBy != "" {
		q["processed_by"] = filter.ProcessedBy
	}
	return q
}

func mapNotFound(err error, sentinel *goerrors.Error) error {
	if errors.Is(err, mongo.ErrNoDocuments) {
		return sentinel
	}
	return goerrors.Wrap(err, goerrors.CategoryInternal, "mongo query failed")
}

func alreadyProcessed(reason string) error {
	clone := auth.ErrAlreadyProcessed.Clone()
	clone.Source = auth.ErrAlreadyProcessed
	return clone.WithMetadata(map[string]any{"reason": reason})
}
