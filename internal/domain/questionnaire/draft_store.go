package questionnaire

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const draftKeyPrefix = "qr-draft:"

// draftRecord keeps the fields the FHIR document does not carry.
type draftRecord struct {
	Response          *QuestionnaireResponse `json:"response"`
	QuestionnaireUUID uuid.UUID              `json:"questionnaire_uuid"`
}

type redisDraftStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisDraftStore keeps drafts in redis; every Put refreshes the TTL.
func NewRedisDraftStore(client *redis.Client, ttl time.Duration) DraftStore {
	return &redisDraftStore{client: client, ttl: ttl}
}

func (s *redisDraftStore) Get(ctx context.Context, id string) (*QuestionnaireResponse, error) {
	data, err := s.client.Get(ctx, draftKeyPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("draft %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("redis get draft %s: %w", id, err)
	}
	var rec draftRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode draft %s: %w", id, err)
	}
	if rec.Response == nil {
		return nil, fmt.Errorf("draft %s: %w", id, ErrNotFound)
	}
	rec.Response.QuestionnaireUUID = rec.QuestionnaireUUID
	return rec.Response, nil
}

func (s *redisDraftStore) Put(ctx context.Context, qr *QuestionnaireResponse) error {
	data, err := json.Marshal(draftRecord{Response: qr, QuestionnaireUUID: qr.QuestionnaireUUID})
	if err != nil {
		return fmt.Errorf("encode draft %s: %w", qr.ID, err)
	}
	if err := s.client.Set(ctx, draftKeyPrefix+qr.ID, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set draft %s: %w", qr.ID, err)
	}
	return nil
}

func (s *redisDraftStore) Delete(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, draftKeyPrefix+id).Err(); err != nil {
		return fmt.Errorf("redis delete draft %s: %w", id, err)
	}
	return nil
}

type memoryDraftStore struct {
	mu     sync.RWMutex
	drafts map[string]QuestionnaireResponse
}

// NewMemoryDraftStore keeps drafts in process memory. Used when no redis is
// configured and in tests.
func NewMemoryDraftStore() DraftStore {
	return &memoryDraftStore{drafts: make(map[string]QuestionnaireResponse)}
}

func (s *memoryDraftStore) Get(_ context.Context, id string) (*QuestionnaireResponse, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	qr, ok := s.drafts[id]
	if !ok {
		return nil, fmt.Errorf("draft %s: %w", id, ErrNotFound)
	}
	return &qr, nil
}

func (s *memoryDraftStore) Put(_ context.Context, qr *QuestionnaireResponse) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.drafts[qr.ID] = *qr
	return nil
}

func (s *memoryDraftStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.drafts, id)
	return nil
}
