package distributed

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrNotAcquired = errors.New("lock is held by another owner")
	ErrNotHeld     = errors.New("lock is not held by this owner")
)

var (
	refreshScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
end
return 0`)

	releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0`)
)

// Locker hands out exclusive, self-refreshing locks stored under prefix+key.
type Locker struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

func NewLocker(client redis.UniversalClient, prefix string, ttl time.Duration) *Locker {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Locker{client: client, prefix: prefix, ttl: ttl}
}

// Lock is a held lock. It refreshes itself at a third of its TTL until
// Release is called or a refresh finds it owned by someone else.
type Lock struct {
	client redis.UniversalClient
	key    string
	token  string
	ttl    time.Duration

	stopOnce sync.Once
	stop     chan struct{}
	lost     chan struct{}
	lostOnce sync.Once
}

// TryAcquire takes the lock if it is free. It does not wait.
func (l *Locker) TryAcquire(ctx context.Context, key string) (*Lock, error) {
	token, err := newToken()
	if err != nil {
		return nil, err
	}
	fullKey := l.prefix + key

	ok, err := l.client.SetNX(ctx, fullKey, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock %s: %w", fullKey, err)
	}
	if !ok {
		return nil, ErrNotAcquired
	}

	lock := &Lock{
		client: l.client,
		key:    fullKey,
		token:  token,
		ttl:    l.ttl,
		stop:   make(chan struct{}),
		lost:   make(chan struct{}),
	}
	go lock.keepAlive()
	return lock, nil
}

func (l *Lock) Key() string { return l.key }

// Lost is closed when the lock was found expired or taken over.
func (l *Lock) Lost() <-chan struct{} { return l.lost }

func (l *Lock) keepAlive() {
	ticker := time.NewTicker(l.ttl / 3)
	defer ticker.Stop()

	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), l.ttl/3)
			err := l.Refresh(ctx)
			cancel()
			if errors.Is(err, ErrNotHeld) {
				l.lostOnce.Do(func() { close(l.lost) })
				return
			}
		}
	}
}

func (l *Lock) Refresh(ctx context.Context) error {
	res, err := refreshScript.Run(ctx, l.client, []string{l.key}, l.token, l.ttl.Milliseconds()).Int64()
	if err != nil {
		return fmt.Errorf("failed to refresh lock %s: %w", l.key, err)
	}
	if res == 0 {
		return ErrNotHeld
	}
	return nil
}

// Release stops refreshing and deletes the key if this owner still holds it.
func (l *Lock) Release(ctx context.Context) error {
	l.stopOnce.Do(func() { close(l.stop) })

	res, err := releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Int64()
	if err != nil {
		return fmt.Errorf("failed to release lock %s: %w", l.key, err)
	}
	if res == 0 {
		return ErrNotHeld
	}
	return nil
}

func newToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate lock token: %w", err)
	}
	return hex.EncodeToString(b), nil
}
