package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

const (
	// DefaultMongoDBName is the default database used by MongoStore.
	DefaultMongoDBName = "userauth"

	// DefaultUsersCollectionName is the default collection used by MongoStore.
	DefaultUsersCollectionName = "users"

	mongoEmailIndexName = "uq_users_email_norm"
)

// MongoStore implements Store over a MongoDB collection.
//
// Design notes:
//   - The client is owned by the caller; this store never disconnects it.
//   - Email uniqueness is a unique index on email_norm (see EnsureIndexes).
//   - Tokens are kept as [{token: "..."}] sub-documents and mutated with $push/$pull,
//     so concurrent logins never overwrite each other's tokens.
type MongoStore struct {
	client *mongo.Client
	dbName string
	coll   string
}

// MongoOption configures the store.
type MongoOption func(*MongoStore)

// WithMongoDatabase overrides DefaultMongoDBName.
func WithMongoDatabase(name string) MongoOption {
	return func(s *MongoStore) {
		if name = strings.TrimSpace(name); name != "" {
			s.dbName = name
		}
	}
}

// WithMongoCollection overrides DefaultUsersCollectionName.
func WithMongoCollection(name string) MongoOption {
	return func(s *MongoStore) {
		if name = strings.TrimSpace(name); name != "" {
			s.coll = name
		}
	}
}

// NewMongoStore constructs a MongoStore. This function panics if client is nil.
func NewMongoStore(client *mongo.Client, opts ...MongoOption) *MongoStore {
	if client == nil {
		panic("mongo client must be provided")
	}
	s := &MongoStore{
		client: client,
		dbName: DefaultMongoDBName,
		coll:   DefaultUsersCollectionName,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

type mongoToken struct {
	Token string `bson:"token"`
}

type mongoUser struct {
	ID           primitive.ObjectID `bson:"_id,omitempty"`
	Name         string             `bson:"name"`
	Email        string             `bson:"email"`
	EmailNorm    string             `bson:"email_norm"`
	PasswordHash string             `bson:"password"`
	Gender       *string            `bson:"gender,omitempty"`
	Tokens       []mongoToken       `bson:"tokens"`
	CreatedAt    time.Time          `bson:"created_at"`
}

func (d mongoUser) toUser() User {
	tokens := make([]string, 0, len(d.Tokens))
	for _, t := range d.Tokens {
		tokens = append(tokens, t.Token)
	}
	return User{
		ID:           d.ID.Hex(),
		Name:         d.Name,
		Email:        d.Email,
		EmailNorm:    d.EmailNorm,
		PasswordHash: d.PasswordHash,
		Gender:       d.Gender,
		Tokens:       tokens,
		CreatedAt:    d.CreatedAt.UTC(),
	}
}

func (s *MongoStore) users() *mongo.Collection {
	return s.client.Database(s.dbName).Collection(s.coll)
}

// EnsureIndexes creates the unique email index. It is idempotent.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.users().Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "email_norm", Value: 1}},
		Options: options.Index().SetUnique(true).SetName(mongoEmailIndexName),
	})
	if err != nil {
		return persistence("identity.MongoStore.EnsureIndexes", err)
	}
	return nil
}

// Ping checks primary reachability.
func (s *MongoStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx, readpref.Primary()); err != nil {
		return persistence("identity.MongoStore.Ping", err)
	}
	return nil
}

// NewUserID returns a fresh ObjectID hex.
func (s *MongoStore) NewUserID(now time.Time) (string, error) {
	if now.IsZero() {
		now = time.Now()
	}
	return primitive.NewObjectIDFromTimestamp(now).Hex(), nil
}

// InsertUser inserts u, assigning its ID (ObjectID hex) unless one was pre-allocated.
func (s *MongoStore) InsertUser(ctx context.Context, u *User) error {
	const op = "identity.MongoStore.InsertUser"

	if u == nil || strings.TrimSpace(u.EmailNorm) == "" {
		return OpError{Op: op, Kind: ErrValidation, Msg: "missing email"}
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}

	oid := primitive.NewObjectIDFromTimestamp(u.CreatedAt)
	if u.ID != "" {
		var err error
		if oid, err = primitive.ObjectIDFromHex(u.ID); err != nil {
			return OpError{Op: op, Kind: ErrValidation, Msg: "malformed id"}
		}
	}

	doc := mongoUser{
		ID:           oid,
		Name:         u.Name,
		Email:        u.Email,
		EmailNorm:    u.EmailNorm,
		PasswordHash: u.PasswordHash,
		Gender:       u.Gender,
		Tokens:       make([]mongoToken, 0, len(u.Tokens)),
		// Mongo stores millisecond precision.
		CreatedAt: u.CreatedAt.UTC().Truncate(time.Millisecond),
	}
	for _, t := range u.Tokens {
		doc.Tokens = append(doc.Tokens, mongoToken{Token: t})
	}

	if _, err := s.users().InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ConflictError{Op: op, Field: mongoConflictField(err)}
		}
		return persistence(op, err)
	}

	u.ID = doc.ID.Hex()
	u.CreatedAt = doc.CreatedAt
	if u.Tokens == nil {
		u.Tokens = []string{}
	}
	return nil
}

// GetUserByID loads a user by its ObjectID hex.
func (s *MongoStore) GetUserByID(ctx context.Context, id string) (User, error) {
	const op = "identity.MongoStore.GetUserByID"

	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return User{}, NotFoundError{Op: op, Resource: "user"}
	}
	return s.findOne(ctx, op, bson.M{"_id": oid})
}

// GetUserByEmail loads a user by normalized email.
func (s *MongoStore) GetUserByEmail(ctx context.Context, emailNorm string) (User, error) {
	return s.findOne(ctx, "identity.MongoStore.GetUserByEmail", bson.M{"email_norm": emailNorm})
}

func (s *MongoStore) findOne(ctx context.Context, op string, filter bson.M) (User, error) {
	var doc mongoUser
	if err := s.users().FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return User{}, NotFoundError{Op: op, Resource: "user"}
		}
		return User{}, persistence(op, err)
	}
	return doc.toUser(), nil
}

// AppendToken pushes token onto the user's list.
func (s *MongoStore) AppendToken(ctx context.Context, userID, token string) error {
	return s.update(ctx, "identity.MongoStore.AppendToken", userID,
		bson.M{"$push": bson.M{"tokens": mongoToken{Token: token}}})
}

// RemoveToken pulls token from the user's list; absent tokens are a no-op.
func (s *MongoStore) RemoveToken(ctx context.Context, userID, token string) error {
	return s.update(ctx, "identity.MongoStore.RemoveToken", userID,
		bson.M{"$pull": bson.M{"tokens": bson.M{"token": token}}})
}

// ClearTokens empties the user's list.
func (s *MongoStore) ClearTokens(ctx context.Context, userID string) error {
	return s.update(ctx, "identity.MongoStore.ClearTokens", userID,
		bson.M{"$set": bson.M{"tokens": []mongoToken{}}})
}

// UpdatePassword replaces the hash and the token list in one update.
func (s *MongoStore) UpdatePassword(ctx context.Context, userID, passwordHash string, tokens []string) error {
	docs := make([]mongoToken, 0, len(tokens))
	for _, t := range tokens {
		docs = append(docs, mongoToken{Token: t})
	}
	return s.update(ctx, "identity.MongoStore.UpdatePassword", userID,
		bson.M{"$set": bson.M{"password": passwordHash, "tokens": docs}})
}

func (s *MongoStore) update(ctx context.Context, op, userID string, update bson.M) error {
	oid, err := primitive.ObjectIDFromHex(userID)
	if err != nil {
		return NotFoundError{Op: op, Resource: "user"}
	}

	res, err := s.users().UpdateOne(ctx, bson.M{"_id": oid}, update)
	if err != nil {
		return persistence(op, err)
	}
	if res.MatchedCount == 0 {
		return NotFoundError{Op: op, Resource: "user"}
	}
	return nil
}

// mongoConflictField names the unique key a duplicate-key error hit.
func mongoConflictField(err error) string {
	if strings.Contains(err.Error(), mongoEmailIndexName) {
		return "email"
	}
	return "id"
}

// String is used in startup logs.
func (s *MongoStore) String() string {
	return fmt.Sprintf("mongo(%s.%s)", s.dbName, s.coll)
}
