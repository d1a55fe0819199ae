// Package mongo provides a MongoDB implementation of the account store.
//
// Each mutation is one FindOneAndUpdate whose filter carries the
// precondition (positive balance, room under the balance limit). Keyed
// mutations also insert a ledger event whose _id is the key, in the same
// transaction, so the server must run as a replica set.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/artpar/metergate/domain/account"
	"github.com/artpar/metergate/ports"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// DefaultCollection holds account documents.
const DefaultCollection = "accounts"

// eventsSuffix names the ledger event collection next to the accounts.
const eventsSuffix = ".ledger_events"

type accountDoc struct {
	ID           string    `bson:"_id"`
	Identity     string    `bson:"identity"`
	PasswordHash []byte    `bson:"password_hash"`
	UsageBalance int64     `bson:"usage_balance"`
	Plan         string    `bson:"plan"`
	CreatedAt    time.Time `bson:"created_at"`
	UpdatedAt    time.Time `bson:"updated_at"`
}

func toDoc(a account.Account) accountDoc {
	return accountDoc{
		ID:           a.ID,
		Identity:     a.Identity,
		PasswordHash: a.PasswordHash,
		UsageBalance: a.UsageBalance,
		Plan:         string(a.Plan),
		CreatedAt:    a.CreatedAt.UTC(),
		UpdatedAt:    a.UpdatedAt.UTC(),
	}
}

type eventDoc struct {
	Key       string    `bson:"_id"`
	AccountID string    `bson:"account_id"`
	Amount    int64     `bson:"amount"`
	Kind      string    `bson:"kind"`
	CreatedAt time.Time `bson:"created_at"`
}

func (d accountDoc) account() account.Account {
	return account.Account{
		ID:           d.ID,
		Identity:     d.Identity,
		PasswordHash: d.PasswordHash,
		UsageBalance: d.UsageBalance,
		Plan:         account.Plan(d.Plan),
		CreatedAt:    d.CreatedAt.UTC(),
		UpdatedAt:    d.UpdatedAt.UTC(),
	}
}

// AccountStore implements ports.AccountStore on MongoDB.
type AccountStore struct {
	client *mongo.Client
	coll   *mongo.Collection
	events *mongo.Collection
	clock  ports.Clock
}

// Open connects to MongoDB and verifies the connection.
func Open(ctx context.Context, uri string) (*mongo.Client, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("mongo ping: %w", err)
	}
	return client, nil
}

// NewAccountStore creates a MongoDB account store on database/collection.
// Ledger events go to collection + ".ledger_events".
func NewAccountStore(client *mongo.Client, database, collection string, clock ports.Clock) *AccountStore {
	if collection == "" {
		collection = DefaultCollection
	}
	db := client.Database(database)
	return &AccountStore{
		client: client,
		coll:   db.Collection(collection),
		events: db.Collection(collection + eventsSuffix),
		clock:  clock,
	}
}

// Migrate creates the unique identity index and the ledger event
// collection. Collections are created here because older servers cannot
// create them inside a transaction.
func (s *AccountStore) Migrate(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "identity", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("identity_unique"),
	})
	if err != nil {
		return fmt.Errorf("create identity index: %w", err)
	}
	_, err = s.events.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "account_id", Value: 1}},
		Options: options.Index().SetName("account_id"),
	})
	if err != nil {
		return fmt.Errorf("create ledger event index: %w", err)
	}
	return nil
}

// Create stores a new account.
func (s *AccountStore) Create(ctx context.Context, a account.Account) error {
	_, err := s.coll.InsertOne(ctx, toDoc(a))
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("create account %q: %w", a.Identity, ports.ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("create account: %w", err)
	}
	return nil
}

// Get retrieves an account by ID.
func (s *AccountStore) Get(ctx context.Context, id string) (account.Account, error) {
	return s.findOne(ctx, bson.M{"_id": id})
}

// GetByIdentity retrieves an account by identity.
func (s *AccountStore) GetByIdentity(ctx context.Context, identity string) (account.Account, error) {
	return s.findOne(ctx, bson.M{"identity": identity})
}

func (s *AccountStore) findOne(ctx context.Context, filter bson.M) (account.Account, error) {
	var doc accountDoc
	err := s.coll.FindOne(ctx, filter).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return account.Account{}, ports.ErrNotFound
	}
	if err != nil {
		return account.Account{}, fmt.Errorf("find account: %w", err)
	}
	return doc.account(), nil
}

// Consume decrements the balance by one if positive.
func (s *AccountStore) Consume(ctx context.Context, id string) (account.Account, error) {
	a, err := s.findAndUpdate(ctx, consumeFilter(id), bson.M{
		"$inc": bson.M{"usage_balance": -1},
		"$set": bson.M{"updated_at": s.clock.Now().UTC()},
	})
	if !errors.Is(err, ports.ErrNotFound) {
		return a, err
	}

	cur, err := s.Get(ctx, id)
	if err != nil {
		return account.Account{}, err
	}
	if cur.Unlimited() {
		return cur, nil
	}
	return cur, ports.ErrQuotaExhausted
}

// Credit adds amount and moves plan none to metered.
func (s *AccountStore) Credit(ctx context.Context, id string, amount int64, key string) (account.Account, error) {
	return s.applyKeyed(ctx, id, key, amount, "credit", creditFilter(id, amount), creditPipeline(amount, s.clock.Now().UTC()))
}

// GrantUnlimited moves the account to the unlimited plan.
func (s *AccountStore) GrantUnlimited(ctx context.Context, id string, key string) (account.Account, error) {
	update := bson.M{"$set": bson.M{"plan": string(account.PlanUnlimited), "updated_at": s.clock.Now().UTC()}}
	return s.applyKeyed(ctx, id, key, 0, "grant_unlimited", bson.M{"_id": id}, update)
}

// applyKeyed updates the account and, for a non-empty key, inserts the
// ledger event in the same transaction. The event's _id is the key, so a
// second insert fails and the update is rolled back with it.
func (s *AccountStore) applyKeyed(ctx context.Context, id, key string, amount int64, kind string, filter bson.M, update any) (account.Account, error) {
	if key == "" {
		a, err := s.findAndUpdate(ctx, filter, update)
		return s.unmatched(ctx, id, amount, a, err)
	}

	sess, err := s.client.StartSession()
	if err != nil {
		return account.Account{}, fmt.Errorf("start session: %w", err)
	}
	defer sess.EndSession(context.WithoutCancel(ctx))

	out, err := sess.WithTransaction(ctx, func(ctx context.Context) (any, error) {
		_, err := s.events.InsertOne(ctx, eventDoc{
			Key:       key,
			AccountID: id,
			Amount:    amount,
			Kind:      kind,
			CreatedAt: s.clock.Now().UTC(),
		})
		if mongo.IsDuplicateKeyError(err) {
			return nil, ports.ErrAlreadyApplied
		}
		if err != nil {
			return nil, fmt.Errorf("record ledger event: %w", err)
		}
		return s.findAndUpdate(ctx, filter, update)
	})
	if errors.Is(err, ports.ErrAlreadyApplied) {
		cur, err := s.Get(ctx, id)
		if err != nil {
			return account.Account{}, err
		}
		return cur, fmt.Errorf("key %s: %w", key, ports.ErrAlreadyApplied)
	}
	if err != nil {
		return s.unmatched(ctx, id, amount, account.Account{}, err)
	}
	return out.(account.Account), nil
}

// unmatched tells a missing account from a credit over the balance limit
// when the update filter matched nothing.
func (s *AccountStore) unmatched(ctx context.Context, id string, amount int64, a account.Account, err error) (account.Account, error) {
	if !errors.Is(err, ports.ErrNotFound) {
		return a, err
	}
	cur, err := s.Get(ctx, id)
	if err != nil {
		return account.Account{}, err
	}
	return cur, fmt.Errorf("credit %d: %w", amount, ports.ErrBalanceLimit)
}

func (s *AccountStore) findAndUpdate(ctx context.Context, filter bson.M, update any) (account.Account, error) {
	var doc accountDoc
	err := s.coll.FindOneAndUpdate(ctx, filter, update,
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return account.Account{}, ports.ErrNotFound
	}
	if err != nil {
		return account.Account{}, fmt.Errorf("update account: %w", err)
	}
	return doc.account(), nil
}

// Ping checks server connectivity.
func (s *AccountStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

// Close disconnects the client.
func (s *AccountStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

func consumeFilter(id string) bson.M {
	return bson.M{
		"_id":           id,
		"plan":          bson.M{"$ne": string(account.PlanUnlimited)},
		"usage_balance": bson.M{"$gt": 0},
	}
}

func creditFilter(id string, amount int64) bson.M {
	return bson.M{
		"_id":           id,
		"usage_balance": bson.M{"$lte": account.MaxBalance - amount},
	}
}

// creditPipeline is an update pipeline so the plan transition can depend on
// the current plan within the same document update.
func creditPipeline(amount int64, now time.Time) mongo.Pipeline {
	set := bson.D{
		{Key: "usage_balance", Value: bson.M{"$add": bson.A{"$usage_balance", amount}}},
		{Key: "plan", Value: bson.M{"$cond": bson.A{
			bson.M{"$eq": bson.A{"$plan", string(account.PlanUnlimited)}},
			string(account.PlanUnlimited),
			string(account.PlanMetered),
		}}},
		{Key: "updated_at", Value: now},
	}
	return mongo.Pipeline{{{Key: "$set", Value: set}}}
}

var _ ports.AccountStore = (*AccountStore)(nil)
