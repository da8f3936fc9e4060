package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// CartRepository owns the Redis side of checkout: the user's cart and the
// Idempotency-Key reservations.
type CartRepository struct {
	client *redis.Client
}

func NewCartRepository(client *redis.Client) *CartRepository {
	return &CartRepository{client: client}
}

func cartKey(userID string) string {
	return fmt.Sprintf("cart:user:%s", userID)
}

func idemKey(userID, key string) string {
	return fmt.Sprintf("idem:checkout:%s:%s", userID, key)
}

// ResetCart drops the user's cart. Deleting a missing cart is not an error.
func (r *CartRepository) ResetCart(ctx context.Context, userID string) error {
	return r.client.Del(ctx, cartKey(userID)).Err()
}

// ReserveIdempotency binds key to checkoutID unless it is already bound. It
// returns the checkout id that owns the key and whether this call claimed it.
func (r *CartRepository) ReserveIdempotency(ctx context.Context, userID, key, checkoutID string, ttl time.Duration) (string, bool, error) {
	k := idemKey(userID, key)
	ok, err := r.client.SetNX(ctx, k, checkoutID, ttl).Result()
	if err != nil {
		return "", false, err
	}
	if ok {
		return checkoutID, true, nil
	}

	existing, err := r.client.Get(ctx, k).Result()
	if errors.Is(err, redis.Nil) {
		// expired between SETNX and GET
		return r.ReserveIdempotency(ctx, userID, key, checkoutID, ttl)
	}
	if err != nil {
		return "", false, err
	}
	return existing, false, nil
}

// ReleaseIdempotency frees a key whose checkout was never published.
func (r *CartRepository) ReleaseIdempotency(ctx context.Context, userID, key string) error {
	return r.client.Del(ctx, idemKey(userID, key)).Err()
}
