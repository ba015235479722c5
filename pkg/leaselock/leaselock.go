// Package leaselock guards long-running jobs with expiring rows in the
// import_leases table. A holder keeps its lease alive by renewing it in the
// background; the lease context is cancelled as soon as renewal fails.
package leaselock

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

var (
	ErrBusy     = errors.New("lease held by another worker")
	ErrLost     = errors.New("lease expired or taken over")
	ErrEmptyKey = errors.New("lease key is empty")
)

// DB is the subset of pgx used by the locker. *pgxpool.Pool satisfies it.
type DB interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Locker struct {
	db DB
}

// Options tune a single acquisition. Zero values select the defaults.
type Options struct {
	TTL        time.Duration
	RenewEvery time.Duration

	// Wait polls until the lease frees up instead of returning ErrBusy.
	Wait         bool
	WaitInterval time.Duration
	WaitJitter   time.Duration

	// HolderPrefix is prepended to the random holder token, e.g. a hostname.
	HolderPrefix string
}

func (o Options) withDefaults() Options {
	if o.TTL < time.Second {
		o.TTL = 5 * time.Minute
	}
	if o.RenewEvery <= 0 || o.RenewEvery >= o.TTL {
		o.RenewEvery = max(o.TTL/2, time.Second)
	}
	if o.WaitInterval <= 0 {
		o.WaitInterval = 250 * time.Millisecond
	}
	o.WaitJitter = max(o.WaitJitter, 0)
	return o
}

type Lease struct {
	Key    string
	Holder string

	ctx    context.Context
	cancel context.CancelCauseFunc
	locker *Locker

	stopOnce sync.Once
	stopped  chan struct{}
}

func New(db DB) *Locker {
	return &Locker{db: db}
}

// Context is cancelled when the lease is released or lost. context.Cause
// returns ErrLost after a failed renewal.
func (l *Lease) Context() context.Context {
	return l.ctx
}

// WithLease runs fn while holding key. fn receives the lease context.
func (c *Locker) WithLease(ctx context.Context, key string, opts Options, fn func(ctx context.Context) error) error {
	lease, err := c.Acquire(ctx, key, opts)
	if err != nil {
		return err
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = lease.Release(releaseCtx)
	}()

	if err := fn(lease.ctx); err != nil {
		return err
	}
	if cause := context.Cause(lease.ctx); errors.Is(cause, ErrLost) {
		return ErrLost
	}
	return nil
}

func (c *Locker) Acquire(ctx context.Context, key string, opts Options) (*Lease, error) {
	if key == "" {
		return nil, ErrEmptyKey
	}
	opts = opts.withDefaults()
	ttlMs := opts.TTL.Milliseconds()

	token, err := gonanoid.New()
	if err != nil {
		return nil, err
	}
	holder := opts.HolderPrefix + token

	for {
		ok, err := c.tryAcquire(ctx, key, holder, ttlMs)
		if err != nil {
			return nil, err
		}
		if ok {
			break
		}
		if !opts.Wait {
			return nil, ErrBusy
		}
		if err := sleepWithJitter(ctx, opts.WaitInterval, opts.WaitJitter); err != nil {
			return nil, err
		}
	}

	leaseCtx, cancel := context.WithCancelCause(ctx)
	l := &Lease{
		Key:     key,
		Holder:  holder,
		ctx:     leaseCtx,
		cancel:  cancel,
		locker:  c,
		stopped: make(chan struct{}),
	}
	go l.renewLoop(opts.RenewEvery, ttlMs)

	return l, nil
}

func (c *Locker) tryAcquire(ctx context.Context, key, holder string, ttlMs int64) (bool, error) {
	var returned string
	err := c.db.QueryRow(ctx, acquireSQL, key, holder, ttlMs).Scan(&returned)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return returned == key, nil
}

// Release stops renewal and deletes the row if this lease still owns it.
func (l *Lease) Release(ctx context.Context) error {
	l.stopOnce.Do(func() {
		close(l.stopped)
		l.cancel(context.Canceled)
	})
	_, err := l.locker.db.Exec(ctx, releaseSQL, l.Key, l.Holder)
	return err
}

func (l *Lease) renewLoop(every time.Duration, ttlMs int64) {
	t := time.NewTicker(every)
	defer t.Stop()

	for {
		select {
		case <-l.stopped:
			return
		case <-l.ctx.Done():
			return
		case <-t.C:
			if err := l.renew(ttlMs); err != nil {
				l.cancel(err)
				return
			}
		}
	}
}

// renew extends the lease, retrying transient failures twice.
func (l *Lease) renew(ttlMs int64) error {
	var lastErr error
	for range 3 {
		ctx, cancel := context.WithTimeout(l.ctx, 15*time.Second)
		var returned string
		err := l.locker.db.QueryRow(ctx, renewSQL, l.Key, l.Holder, ttlMs).Scan(&returned)
		cancel()
		switch {
		case err == nil:
			return nil
		case errors.Is(err, pgx.ErrNoRows):
			return ErrLost
		}
		lastErr = err
		if err := sleepWithJitter(l.ctx, 200*time.Millisecond, 0); err != nil {
			return err
		}
	}
	return lastErr
}

func sleepWithJitter(ctx context.Context, base, jitter time.Duration) error {
	d := base
	if jitter > 0 {
		d += time.Duration(rand.Int64N(int64(jitter) + 1))
	}
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

const acquireSQL = `
INSERT INTO import_leases (lease_key, holder, expires_at)
VALUES ($1, $2, now() + ($3::bigint * interval '1 millisecond'))
ON CONFLICT (lease_key) DO UPDATE
SET holder     = EXCLUDED.holder,
    expires_at = EXCLUDED.expires_at
WHERE import_leases.expires_at < now()
   OR import_leases.holder = EXCLUDED.holder
RETURNING lease_key;
`

const renewSQL = `
UPDATE import_leases
SET expires_at = now() + ($3::bigint * interval '1 millisecond')
WHERE lease_key = $1 AND holder = $2
RETURNING lease_key;
`

const releaseSQL = `
DELETE FROM import_leases
WHERE lease_key = $1 AND holder = $2;
`
