package realtime

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
)

func (b *Bus) presenceKey(roofID, userID string) string {
	return b.prefix + "presence:" + roofID + ":" + userID
}

// Join marks userID as viewing roofID for ttl. Callers refresh it while
// the user stays.
func (b *Bus) Join(ctx context.Context, roofID, userID string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = time.Minute
	}
	if err := b.client.Set(ctx, b.presenceKey(roofID, userID), time.Now().UTC().Format(time.RFC3339), ttl).Err(); err != nil {
		return fmt.Errorf("join presence: %w", err)
	}
	return nil
}

func (b *Bus) Leave(ctx context.Context, roofID, userID string) error {
	if err := b.client.Del(ctx, b.presenceKey(roofID, userID)).Err(); err != nil {
		return fmt.Errorf("leave presence: %w", err)
	}
	return nil
}

// Online lists the users currently present on a roof, sorted.
func (b *Bus) Online(ctx context.Context, roofID string) ([]string, error) {
	prefix := b.presenceKey(roofID, "")
	users := []string{}
	var cursor uint64
	for {
		keys, next, err := b.client.Scan(ctx, cursor, prefix+"*", 100).Result()
		if err != nil {
			return nil, fmt.Errorf("scan presence: %w", err)
		}
		for _, key := range keys {
			users = append(users, strings.TrimPrefix(key, prefix))
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	sort.Strings(users)
	return users, nil
}
