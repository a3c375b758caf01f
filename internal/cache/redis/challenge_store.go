package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/evetabi/yesno/internal/domain"
	"github.com/redis/go-redis/v9"
)

// ChallengeStore keeps pending wallet sign-in messages so any API replica can
// verify a signature.
type ChallengeStore struct {
	rdb *redis.Client
}

// NewChallengeStore creates a ChallengeStore backed by c.
func NewChallengeStore(c *Client) *ChallengeStore {
	return &ChallengeStore{rdb: c.Underlying()}
}

func challengeKey(addr common.Address) string {
	return "yesno:challenge:" + strings.ToLower(addr.Hex())
}

// Put stores message for addr, replacing any pending one.
func (cs *ChallengeStore) Put(ctx context.Context, addr common.Address, message string, ttl time.Duration) error {
	if err := cs.rdb.Set(ctx, challengeKey(addr), message, ttl).Err(); err != nil {
		return fmt.Errorf("redis: put challenge %s: %w", addr.Hex(), err)
	}
	return nil
}

// Take atomically reads and deletes the pending message.
func (cs *ChallengeStore) Take(ctx context.Context, addr common.Address) (string, error) {
	msg, err := cs.rdb.GetDel(ctx, challengeKey(addr)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", domain.ErrChallengeExpired
		}
		return "", fmt.Errorf("redis: take challenge %s: %w", addr.Hex(), err)
	}
	return msg, nil
}
