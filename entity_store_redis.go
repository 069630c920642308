package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const entityKeyPrefix = "idstore"

// RedisEntityStore is an [EntityStore] backed by Redis. Each record is a
// JSON document keyed by user ID, with a secondary key mapping the
// normalized email to the user ID. Updates run under WATCH so the
// version check and the write are atomic; a concurrent writer makes the
// transaction retry, and a version mismatch aborts with
// [ErrVersionConflict].
type RedisEntityStore struct {
	redis  *redis.Client
	prefix string
}

// NewRedisEntityStore describes the newredisentitystore operation and its observable behavior.
//
// NewRedisEntityStore does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func NewRedisEntityStore(client *redis.Client) *RedisEntityStore {
	return &RedisEntityStore{
		redis:  client,
		prefix: entityKeyPrefix,
	}
}

func (s *RedisEntityStore) recordKey(userID string) string {
	return s.prefix + ":cred:" + userID
}

func (s *RedisEntityStore) emailKey(email string) string {
	return s.prefix + ":email:" + email
}

// GetByID describes the getbyid operation and its observable behavior.
//
// GetByID may return an error when input validation, dependency calls, or security checks fail.
// GetByID does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (s *RedisEntityStore) GetByID(ctx context.Context, userID string) (*CredentialRecord, error) {
	data, err := s.redis.Get(ctx, s.recordKey(userID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrSystemUnavailable, err)
	}
	return decodeCredentialRecord(data)
}

// GetByEmail describes the getbyemail operation and its observable behavior.
//
// GetByEmail may return an error when input validation, dependency calls, or security checks fail.
// GetByEmail does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (s *RedisEntityStore) GetByEmail(ctx context.Context, email string) (*CredentialRecord, error) {
	userID, err := s.redis.Get(ctx, s.emailKey(email)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrSystemUnavailable, err)
	}
	return s.GetByID(ctx, userID)
}

// Create writes a fresh record and claims its email key. The email claim
// uses SETNX so two concurrent registrations for the same address cannot
// both succeed.
func (s *RedisEntityStore) Create(ctx context.Context, record *CredentialRecord) error {
	record.Version = 1
	encoded, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}

	claimed, err := s.redis.SetNX(ctx, s.emailKey(record.Email), record.UserID, 0).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSystemUnavailable, err)
	}
	if !claimed {
		return ErrDuplicateEmail
	}

	if err := s.redis.Set(ctx, s.recordKey(record.UserID), encoded, 0).Err(); err != nil {
		// Roll back the email claim so the address is not orphaned.
		_ = s.redis.Del(ctx, s.emailKey(record.Email)).Err()
		return fmt.Errorf("%w: %v", ErrSystemUnavailable, err)
	}
	return nil
}

// Update applies a compare-and-swap write: the stored version must equal
// the version the caller read. On success the record's version is
// advanced in place.
func (s *RedisEntityStore) Update(ctx context.Context, record *CredentialRecord) error {
	const maxRetries = 4
	key := s.recordKey(record.UserID)

	for i := 0; i < maxRetries; i++ {
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				if errors.Is(err, redis.Nil) {
					return ErrRecordNotFound
				}
				return err
			}

			stored, err := decodeCredentialRecord(data)
			if err != nil {
				return err
			}
			if stored.Version != record.Version {
				return ErrVersionConflict
			}

			next := *record
			next.Version = record.Version + 1
			encoded, err := json.Marshal(&next)
			if err != nil {
				return err
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, encoded, 0)
				return nil
			})
			return err
		}, key)

		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			if errors.Is(err, ErrRecordNotFound) || errors.Is(err, ErrVersionConflict) {
				return err
			}
			return fmt.Errorf("%w: %v", ErrSystemUnavailable, err)
		}

		record.Version++
		return nil
	}

	return ErrVersionConflict
}

func decodeCredentialRecord(data []byte) (*CredentialRecord, error) {
	record := &CredentialRecord{}
	if err := json.Unmarshal(data, record); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	return record, nil
}
