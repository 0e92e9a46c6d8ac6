package conversation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cursorrunner/cursor-runner/internal/apierr"
)

// RedisStore is the TTL-keyed, Redis-backed conversation store (spec §4.D
// durability/persisted-state-layout). Key layout:
//
//	<prefix>agent:conversation:<id>          — JSON record blob, TTL-bearing
//	<prefix>agent:conversations:list         — set of all known ids
//	<prefix><queue>:last_conversation_id     — string pointer per queue type
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewRedisStore dials addr (a redis:// URL) eagerly-parsed via
// redis.ParseURL, the same construction style reefline uses for its task
// queue's client. Connectivity is not verified here; callers check it with
// Ping, and the other methods report an unreachable Redis as
// StoreUnavailable.
func NewRedisStore(redisURL, prefix string, ttl time.Duration) (*RedisStore, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return &RedisStore{
		client: redis.NewClient(opt),
		prefix: prefix,
		ttl:    ttl,
		locks:  make(map[string]*sync.Mutex),
	}, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping verifies connectivity, used once at startup to decide whether to run
// against Redis or fall back to the in-memory store (spec §4.D "degrade
// gracefully").
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) recordKey(id string) string {
	return s.prefix + "agent:conversation:" + id
}

func (s *RedisStore) indexKey() string {
	return s.prefix + "agent:conversations:list"
}

func (s *RedisStore) lastConvKey(queueType string) string {
	return s.prefix + queueType + ":last_conversation_id"
}

func (s *RedisStore) keyLock(id string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	return l
}

func unavailable(requestID string, err error) *apierr.Error {
	return apierr.Newf(apierr.StoreUnavailable, requestID, "conversation store unavailable: %v", err)
}

func (s *RedisStore) Create(ctx context.Context, agentID string, metadata map[string]any, queueType string) (Record, *apierr.Error) {
	id := NewConversationID()
	rec := newRecord(id, agentID, metadata)

	blob, err := encodeRecord(rec)
	if err != nil {
		return Record{}, apierr.Newf(apierr.Internal, "", "encode conversation record: %v", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.recordKey(id), blob, s.ttl)
	pipe.SAdd(ctx, s.indexKey(), id)
	if queueType != "" {
		pipe.Set(ctx, s.lastConvKey(queueType), id, 0)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return Record{}, unavailable("", err)
	}
	return rec, nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (Record, *apierr.Error) {
	lock := s.keyLock(id)
	lock.Lock()
	defer lock.Unlock()

	blob, err := s.client.Get(ctx, s.recordKey(id)).Bytes()
	if err == redis.Nil {
		return Record{}, apierr.New(apierr.NotFound, "", "conversation not found: "+id)
	}
	if err != nil {
		return Record{}, unavailable("", err)
	}
	rec, decErr := decodeRecord(blob)
	if decErr != nil {
		return Record{}, apierr.Newf(apierr.Internal, "", "decode conversation record %s: %v", id, decErr)
	}
	rec.LastAccessedAt = time.Now().UTC()
	if werr := s.put(ctx, rec); werr != nil {
		return Record{}, werr
	}
	return rec, nil
}

func (s *RedisStore) put(ctx context.Context, rec Record) *apierr.Error {
	blob, err := encodeRecord(rec)
	if err != nil {
		return apierr.Newf(apierr.Internal, "", "encode conversation record: %v", err)
	}
	if err := s.client.Set(ctx, s.recordKey(rec.ID), blob, s.ttl).Err(); err != nil {
		return unavailable("", err)
	}
	return nil
}

func (s *RedisStore) Append(ctx context.Context, id string, msg Message) *apierr.Error {
	lock := s.keyLock(id)
	lock.Lock()
	defer lock.Unlock()

	blob, err := s.client.Get(ctx, s.recordKey(id)).Bytes()
	if err == redis.Nil {
		return apierr.New(apierr.NotFound, "", "conversation not found: "+id)
	}
	if err != nil {
		return unavailable("", err)
	}
	rec, decErr := decodeRecord(blob)
	if decErr != nil {
		return apierr.Newf(apierr.Internal, "", "decode conversation record %s: %v", id, decErr)
	}

	if msg.ID == "" {
		msg.ID = NewMessageID()
	}
	rec.Messages = append(rec.Messages, msg)
	rec.LastAccessedAt = time.Now().UTC()

	return s.put(ctx, rec)
}

func (s *RedisStore) List(ctx context.Context, filter ListFilter) (ListResult, *apierr.Error) {
	if err := validateListFilter(filter); err != nil {
		return ListResult{}, err
	}

	ids, err := s.client.SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		return ListResult{}, unavailable("", err)
	}

	all := make([]Record, 0, len(ids))
	for _, id := range ids {
		blob, gerr := s.client.Get(ctx, s.recordKey(id)).Bytes()
		if gerr == redis.Nil {
			continue // expired since the index entry was written
		}
		if gerr != nil {
			return ListResult{}, unavailable("", gerr)
		}
		rec, decErr := decodeRecord(blob)
		if decErr != nil {
			continue
		}
		all = append(all, rec)
	}

	sortRecords(all, filter)
	total := len(all)
	return ListResult{Items: paginate(all, filter), Total: total}, nil
}

func (s *RedisStore) UpdateLastAccessed(ctx context.Context, id string) *apierr.Error {
	lock := s.keyLock(id)
	lock.Lock()
	defer lock.Unlock()

	blob, err := s.client.Get(ctx, s.recordKey(id)).Bytes()
	if err == redis.Nil {
		return apierr.New(apierr.NotFound, "", "conversation not found: "+id)
	}
	if err != nil {
		return unavailable("", err)
	}
	rec, decErr := decodeRecord(blob)
	if decErr != nil {
		return apierr.Newf(apierr.Internal, "", "decode conversation record %s: %v", id, decErr)
	}
	rec.LastAccessedAt = time.Now().UTC()
	return s.put(ctx, rec)
}

func (s *RedisStore) LastConversationID(ctx context.Context, queueType string) (string, *apierr.Error) {
	id, err := s.client.Get(ctx, s.lastConvKey(queueType)).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", unavailable("", err)
	}
	return id, nil
}
