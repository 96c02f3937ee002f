package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

const mongoUsersCollection = "users"

// mongoUser is the document layout of the users collection.
type mongoUser struct {
	ID           string    `bson:"_id"`
	Email        string    `bson:"email"`
	Password     string    `bson:"password"`
	TokenVersion int64     `bson:"tokenVersion"`
	CreatedAt    time.Time `bson:"createdAt"`
}

func (d mongoUser) user() User {
	return User{
		ID:           d.ID,
		Email:        d.Email,
		PasswordHash: d.Password,
		TokenVersion: d.TokenVersion,
		CreatedAt:    d.CreatedAt.UTC(),
	}
}

// MongoStore implements Store over a MongoDB collection with a unique email index.
type MongoStore struct {
	client *mongo.Client
	users  *mongo.Collection
	owned  bool
}

// OpenMongoStore connects to uri, selects database and ensures indexes.
// The returned store owns the client and disconnects it on Close.
func OpenMongoStore(ctx context.Context, uri, database string) (*MongoStore, error) {
	if strings.TrimSpace(uri) == "" {
		return nil, fmt.Errorf("identity: empty mongo uri")
	}

	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("identity: mongo connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("identity: mongo ping: %w", err)
	}

	st, err := NewMongoStore(ctx, client.Database(database))
	if err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	st.owned = true
	return st, nil
}

// NewMongoStore wraps an existing database handle. The caller keeps ownership of the client.
func NewMongoStore(ctx context.Context, db *mongo.Database) (*MongoStore, error) {
	if db == nil {
		return nil, fmt.Errorf("identity: nil mongo database")
	}

	users := db.Collection(mongoUsersCollection)
	_, err := users.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "email", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("uq_users_email"),
	})
	if err != nil {
		return nil, fmt.Errorf("identity: mongo email index: %w", err)
	}

	return &MongoStore{client: db.Client(), users: users}, nil
}

func (s *MongoStore) CreateUser(ctx context.Context, u User) (User, error) {
	const op = "identity.CreateUser"

	if strings.TrimSpace(u.ID) == "" || u.Email == "" || u.PasswordHash == "" {
		return User{}, invalid(op, "missing id, email or password hash")
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now()
	}
	// BSON dates carry millisecond precision.
	u.CreatedAt = u.CreatedAt.UTC().Truncate(time.Millisecond)
	u.TokenVersion = 0

	_, err := s.users.InsertOne(ctx, mongoUser{
		ID:           u.ID,
		Email:        u.Email,
		Password:     u.PasswordHash,
		TokenVersion: 0,
		CreatedAt:    u.CreatedAt,
	})
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			if strings.Contains(err.Error(), "uq_users_email") {
				return User{}, emailTaken(op)
			}
			return User{}, ConflictError{Op: op, Field: "id"}
		}
		return User{}, fmt.Errorf("%s: %w", op, err)
	}
	return u, nil
}

func (s *MongoStore) UserByEmail(ctx context.Context, email string) (User, error) {
	return s.findOne(ctx, "identity.UserByEmail", bson.M{"email": email})
}

func (s *MongoStore) UserByID(ctx context.Context, id string) (User, error) {
	return s.findOne(ctx, "identity.UserByID", bson.M{"_id": id})
}

func (s *MongoStore) findOne(ctx context.Context, op string, filter bson.M) (User, error) {
	var doc mongoUser
	if err := s.users.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return User{}, userNotFound(op)
		}
		return User{}, fmt.Errorf("%s: %w", op, err)
	}
	return doc.user(), nil
}

func (s *MongoStore) IncrementTokenVersion(ctx context.Context, id string) (int64, error) {
	return s.inc(ctx, "identity.IncrementTokenVersion", bson.M{"_id": id})
}

func (s *MongoStore) CompareAndIncrementTokenVersion(ctx context.Context, id string, current int64) (int64, error) {
	const op = "identity.CompareAndIncrementTokenVersion"

	v, err := s.inc(ctx, op, bson.M{"_id": id, "tokenVersion": current})
	if err == nil || !IsNotFound(err) {
		return v, err
	}

	if _, lookupErr := s.UserByID(ctx, id); lookupErr != nil {
		return 0, lookupErr
	}
	return 0, staleVersion(op)
}

func (s *MongoStore) inc(ctx context.Context, op string, filter bson.M) (int64, error) {
	var doc mongoUser
	err := s.users.FindOneAndUpdate(ctx,
		filter,
		bson.M{"$inc": bson.M{"tokenVersion": 1}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return 0, userNotFound(op)
		}
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return doc.TokenVersion, nil
}

func (s *MongoStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

// Close disconnects the client when the store opened it.
func (s *MongoStore) Close(ctx context.Context) error {
	if !s.owned {
		return nil
	}
	return s.client.Disconnect(ctx)
}
