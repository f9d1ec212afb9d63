// Package idempotency derives deterministic request fingerprints and
// tracks their absent/queued/processed state in Redis.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// State is one of the three fingerprint lifecycle states.
type State string

const (
	StateAbsent    State = "absent"
	StateQueued    State = "queued"
	StateProcessed State = "processed"
)

// DefaultTTL is the duplicate-detection window: days, not minutes, per
// spec.md §4.3.
const DefaultTTL = 72 * time.Hour

// Fingerprint is the deterministic message-id-shaped key derived from a
// request's canonical fields.
type Fingerprint struct {
	Sender         string
	Recipient      string
	Subject        string
	Date           string
	HTMLBody       string
	TextBody       string
	AttachmentCount int
}

// Derive computes a canonical, collision-resistant fingerprint from the
// request's identifying fields, wrapped as a message-id-shaped string.
func Derive(f Fingerprint) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00%s\x00%s\x00%s\x00%s\x00%d",
		strings.ToLower(strings.TrimSpace(f.Sender)),
		strings.ToLower(strings.TrimSpace(f.Recipient)),
		strings.TrimSpace(f.Subject),
		strings.TrimSpace(f.Date),
		f.HTMLBody,
		f.TextBody,
		f.AttachmentCount,
	)
	return fmt.Sprintf("<fp-%s@mxrelay.internal>", hex.EncodeToString(h.Sum(nil)))
}

// Store tracks fingerprint state transitions in Redis.
type Store struct {
	rdb *redis.Client
	ttl time.Duration
}

// New wraps an established Redis client with the given state TTL (use
// DefaultTTL if ttl is zero).
func New(rdb *redis.Client, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{rdb: rdb, ttl: ttl}
}

func key(messageID string) string {
	return "idempotency:" + messageID
}

// acquireScript performs the absent->queued transition atomically: SETNX,
// and only when that created the key, an EXPIRE and the "absent" reply;
// otherwise the pre-existing value is read back. This avoids a
// check-then-set race between concurrent ingress workers.
const acquireScript = `
if redis.call("SETNX", KEYS[1], ARGV[1]) == 1 then
    redis.call("EXPIRE", KEYS[1], ARGV[2])
    return ARGV[3]
end
return redis.call("GET", KEYS[1])
`

// Acquire attempts the absent->queued transition for messageID and
// returns the state the fingerprint was in before the call:
// StateAbsent when this call marked it queued, otherwise the
// pre-existing StateQueued or StateProcessed.
func (s *Store) Acquire(ctx context.Context, messageID string) (State, error) {
	val, err := s.rdb.Eval(ctx, acquireScript, []string{key(messageID)}, string(StateQueued), int64(s.ttl.Seconds()), string(StateAbsent)).Result()
	if err != nil {
		return "", fmt.Errorf("idempotency: acquire %s: %w", messageID, err)
	}
	switch v := val.(type) {
	case string:
		return State(v), nil
	default:
		return "", fmt.Errorf("idempotency: unexpected reply type %T", val)
	}
}

// State returns the current state of messageID, StateAbsent if unset.
func (s *Store) State(ctx context.Context, messageID string) (State, error) {
	val, err := s.rdb.Get(ctx, key(messageID)).Result()
	if err == redis.Nil {
		return StateAbsent, nil
	}
	if err != nil {
		return "", fmt.Errorf("idempotency: get %s: %w", messageID, err)
	}
	return State(val), nil
}

// MarkProcessed transitions a fingerprint to its terminal state. Called
// by the worker on completion, success or final failure alike.
func (s *Store) MarkProcessed(ctx context.Context, messageID string) error {
	if err := s.rdb.Set(ctx, key(messageID), string(StateProcessed), s.ttl).Err(); err != nil {
		return fmt.Errorf("idempotency: mark processed %s: %w", messageID, err)
	}
	return nil
}

// IsSchedulerCallback reports whether messageID is one of the
// scheduler's self-generated bypass ids (spec.md §4.3/§4.5), which must
// never be blocked by idempotency state.
func IsSchedulerCallback(messageID string) bool {
	return strings.HasPrefix(messageID, "<scheduled-")
}

// SchedulerMessageID builds the fresh messageId the scheduler uses to
// bypass idempotency on a re-fired task, of the form
// "<scheduled-{task_id}-{iso_timestamp}@...>".
func SchedulerMessageID(taskID string, firedAt time.Time) string {
	return fmt.Sprintf("<scheduled-%s-%s@mxrelay.internal>", taskID, firedAt.UTC().Format(time.RFC3339))
}
