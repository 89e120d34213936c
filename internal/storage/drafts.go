package storage

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// DraftTTL bounds how long an unfinished Telegram intake is kept.
const DraftTTL = 30 * time.Minute

// Draft is a complaint being collected over several chat messages.
type Draft struct {
	Step     string `json:"step"`
	AuthorID string `json:"author_id"`
	Region   string `json:"region,omitempty"`
	Language string `json:"language,omitempty"`
}

func draftKey(chatID int64) string {
	return "draft:" + strconv.FormatInt(chatID, 10)
}

// SaveDraft stores the draft for a chat, replacing any previous one.
func (s *Service) SaveDraft(ctx context.Context, chatID int64, draft Draft) error {
	if s.Redis == nil {
		s.drafts.put(chatID, draft)
		return nil
	}
	b, err := json.Marshal(draft)
	if err != nil {
		return err
	}
	return s.Redis.Set(ctx, draftKey(chatID), b, DraftTTL).Err()
}

// GetDraft returns the chat's draft, or nil when there is none.
func (s *Service) GetDraft(ctx context.Context, chatID int64) (*Draft, error) {
	if s.Redis == nil {
		return s.drafts.get(chatID), nil
	}
	raw, err := s.Redis.Get(ctx, draftKey(chatID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var d Draft
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *Service) ClearDraft(ctx context.Context, chatID int64) error {
	if s.Redis == nil {
		s.drafts.del(chatID)
		return nil
	}
	return s.Redis.Del(ctx, draftKey(chatID)).Err()
}

type memoryDraft struct {
	draft   Draft
	expires time.Time
}

type memoryDrafts struct {
	mu sync.Mutex
	m  map[int64]memoryDraft
}

func newMemoryDrafts() *memoryDrafts {
	return &memoryDrafts{m: make(map[int64]memoryDraft)}
}

func (d *memoryDrafts) put(chatID int64, draft Draft) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.m[chatID] = memoryDraft{draft: draft, expires: time.Now().Add(DraftTTL)}
}

func (d *memoryDrafts) get(chatID int64) *Draft {
	d.mu.Lock()
	defer d.mu.Unlock()
	md, ok := d.m[chatID]
	if !ok {
		return nil
	}
	if time.Now().After(md.expires) {
		delete(d.m, chatID)
		return nil
	}
	out := md.draft
	return &out
}

func (d *memoryDrafts) del(chatID int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.m, chatID)
}
