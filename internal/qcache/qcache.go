// Package qcache caches organized question lists in Redis so repeated
// portal views do not re-query and re-organize the same standard. Assignee
// edits are patched into the cached list in place, which keeps the view
// responsive while the persistent mutation is still in flight.
package qcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"greenledger/api/internal/questionnaire"
)

// ErrMiss is returned when the standard's question list is not cached.
var ErrMiss = errors.New("question list not cached")

const defaultTTL = 15 * time.Minute

// Store caches organized question lists per standard and year.
type Store struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewStore connects to Redis and verifies the connection.
func NewStore(redisURL string) (*Store, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewStoreWithClient(client), nil
}

// NewStoreWithClient wraps an existing Redis client.
func NewStoreWithClient(client *redis.Client) *Store {
	return &Store{
		client: client,
		prefix: "questions:",
		ttl:    defaultTTL,
	}
}

func (s *Store) key(standardID string, year int) string {
	return fmt.Sprintf("%s%s:%d", s.prefix, standardID, year)
}

// PutQuestions caches an organized question list for a standard and year.
func (s *Store) PutQuestions(ctx context.Context, standardID string, year int, questions []questionnaire.Question) error {
	data, err := json.Marshal(questions)
	if err != nil {
		return fmt.Errorf("marshal question list: %w", err)
	}
	if err := s.client.Set(ctx, s.key(standardID, year), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("cache question list: %w", err)
	}
	return nil
}

// GetQuestions returns the cached list for a standard and year, or ErrMiss.
func (s *Store) GetQuestions(ctx context.Context, standardID string, year int) ([]questionnaire.Question, error) {
	data, err := s.client.Get(ctx, s.key(standardID, year)).Bytes()
	if err == redis.Nil {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, fmt.Errorf("read question list: %w", err)
	}

	var questions []questionnaire.Question
	if err := json.Unmarshal(data, &questions); err != nil {
		return nil, fmt.Errorf("unmarshal question list: %w", err)
	}
	return questions, nil
}

// Invalidate drops every cached year for a standard. Called after question
// edits that change the list itself rather than one question's assignees.
func (s *Store) Invalidate(ctx context.Context, standardID string) error {
	iter := s.client.Scan(ctx, 0, s.prefix+standardID+":*", 0).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("scan cached years: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("invalidate question list: %w", err)
	}
	return nil
}

// View binds the store to one reporting year so it satisfies the assignment
// controller's cache interface, which addresses questions by standard only.
type View struct {
	store *Store
	year  int
}

func (s *Store) ForYear(year int) *View {
	return &View{store: s, year: year}
}

// SelectAssignees returns the cached assignee list for one question. A cache
// miss yields an empty list, not an error: the controller snapshots whatever
// the user currently sees, and an uncached view shows nobody.
func (v *View) SelectAssignees(ctx context.Context, standardID, questionID string) ([]questionnaire.AssignedUser, error) {
	questions, err := v.store.GetQuestions(ctx, standardID, v.year)
	if errors.Is(err, ErrMiss) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	for _, q := range questions {
		if q.ID == questionID {
			return q.Assignees, nil
		}
	}
	return nil, nil
}

// PatchAssignees replaces one question's assignee list inside the cached
// view. Patching an uncached or unknown question is a no-op; the next full
// fetch will show the persisted state anyway.
func (v *View) PatchAssignees(ctx context.Context, standardID, questionID string, users []questionnaire.AssignedUser) error {
	questions, err := v.store.GetQuestions(ctx, standardID, v.year)
	if errors.Is(err, ErrMiss) {
		return nil
	}
	if err != nil {
		return err
	}

	found := false
	for i := range questions {
		if questions[i].ID == questionID {
			questions[i].Assignees = users
			found = true
			break
		}
	}
	if !found {
		return nil
	}
	return v.store.PutQuestions(ctx, standardID, v.year, questions)
}

// Close closes the underlying Redis connection.
func (s *Store) Close() error {
	return s.client.Close()
}

// Ping checks if Redis is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
