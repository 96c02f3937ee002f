package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.etcd.io/bbolt"
)

var (
	boltUsersBucket   = []byte("users")
	boltByEmailBucket = []byte("users_by_email")
)

type boltUser struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"password_hash"`
	TokenVersion int64     `json:"token_version"`
	CreatedAt    time.Time `json:"created_at"`
}

// BoltStore implements Store over an embedded bbolt file.
// bbolt runs one write transaction at a time, which gives CreateUser and the
// version bumps their atomicity.
type BoltStore struct {
	db *bbolt.DB
}

// OpenBoltStore opens (or creates) the bbolt file at path.
func OpenBoltStore(path string) (*BoltStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("identity: empty bolt path")
	}

	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("identity: open bolt: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(boltUsersBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(boltByEmailBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("identity: init bolt buckets: %w", err)
	}

	return &BoltStore{db: db}, nil
}

func (s *BoltStore) CreateUser(ctx context.Context, u User) (User, error) {
	const op = "identity.CreateUser"

	if err := ctx.Err(); err != nil {
		return User{}, err
	}
	if strings.TrimSpace(u.ID) == "" || u.Email == "" || u.PasswordHash == "" {
		return User{}, invalid(op, "missing id, email or password hash")
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now()
	}
	u.CreatedAt = u.CreatedAt.UTC()
	u.TokenVersion = 0

	err := s.db.Update(func(tx *bbolt.Tx) error {
		users := tx.Bucket(boltUsersBucket)
		byEmail := tx.Bucket(boltByEmailBucket)

		if byEmail.Get([]byte(u.Email)) != nil {
			return emailTaken(op)
		}
		if users.Get([]byte(u.ID)) != nil {
			return ConflictError{Op: op, Field: "id"}
		}

		data, err := json.Marshal(toBoltUser(u))
		if err != nil {
			return fmt.Errorf("%s: marshal: %w", op, err)
		}
		if err := users.Put([]byte(u.ID), data); err != nil {
			return err
		}
		return byEmail.Put([]byte(u.Email), []byte(u.ID))
	})
	if err != nil {
		return User{}, err
	}
	return u, nil
}

func (s *BoltStore) UserByEmail(ctx context.Context, email string) (User, error) {
	const op = "identity.UserByEmail"

	if err := ctx.Err(); err != nil {
		return User{}, err
	}

	var u User
	err := s.db.View(func(tx *bbolt.Tx) error {
		id := tx.Bucket(boltByEmailBucket).Get([]byte(email))
		if id == nil {
			return userNotFound(op)
		}
		var err error
		u, err = boltGet(tx, op, string(id))
		return err
	})
	return u, err
}

func (s *BoltStore) UserByID(ctx context.Context, id string) (User, error) {
	const op = "identity.UserByID"

	if err := ctx.Err(); err != nil {
		return User{}, err
	}

	var u User
	err := s.db.View(func(tx *bbolt.Tx) error {
		var err error
		u, err = boltGet(tx, op, id)
		return err
	})
	return u, err
}

func (s *BoltStore) IncrementTokenVersion(ctx context.Context, id string) (int64, error) {
	return s.bump(ctx, "identity.IncrementTokenVersion", id, nil)
}

func (s *BoltStore) CompareAndIncrementTokenVersion(ctx context.Context, id string, current int64) (int64, error) {
	return s.bump(ctx, "identity.CompareAndIncrementTokenVersion", id, &current)
}

func (s *BoltStore) bump(ctx context.Context, op, id string, expect *int64) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	var v int64
	err := s.db.Update(func(tx *bbolt.Tx) error {
		u, err := boltGet(tx, op, id)
		if err != nil {
			return err
		}
		if expect != nil && u.TokenVersion != *expect {
			return staleVersion(op)
		}
		u.TokenVersion++

		data, err := json.Marshal(toBoltUser(u))
		if err != nil {
			return fmt.Errorf("%s: marshal: %w", op, err)
		}
		if err := tx.Bucket(boltUsersBucket).Put([]byte(id), data); err != nil {
			return err
		}
		v = u.TokenVersion
		return nil
	})
	return v, err
}

func (s *BoltStore) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.View(func(tx *bbolt.Tx) error {
		if tx.Bucket(boltUsersBucket) == nil {
			return fmt.Errorf("identity: bolt users bucket missing")
		}
		return nil
	})
}

func (s *BoltStore) Close(_ context.Context) error {
	return s.db.Close()
}

func boltGet(tx *bbolt.Tx, op, id string) (User, error) {
	data := tx.Bucket(boltUsersBucket).Get([]byte(id))
	if data == nil {
		return User{}, userNotFound(op)
	}
	var bu boltUser
	if err := json.Unmarshal(data, &bu); err != nil {
		return User{}, fmt.Errorf("%s: unmarshal: %w", op, err)
	}
	return User{
		ID:           bu.ID,
		Email:        bu.Email,
		PasswordHash: bu.PasswordHash,
		TokenVersion: bu.TokenVersion,
		CreatedAt:    bu.CreatedAt.UTC(),
	}, nil
}

func toBoltUser(u User) boltUser {
	return boltUser{
		ID:           u.ID,
		Email:        u.Email,
		PasswordHash: u.PasswordHash,
		TokenVersion: u.TokenVersion,
		CreatedAt:    u.CreatedAt,
	}
}
