package cache

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"recloud/lib/sl"
)

// resource is one independently refreshed cache entry. A fresh value is
// served directly; a stale one is served immediately while a single
// background refresh runs (stale-while-revalidate). Only the very first
// read blocks, on one inline fetch attempt with a short timeout, and a
// fetch failure falls back to the backup snapshot and then to the zero
// value. Upstream errors never leave this type.
type resource[T any] struct {
	name   string
	ttl    time.Duration
	inline time.Duration
	full   time.Duration
	fetch  func(ctx context.Context) (T, error)
	zero   func() T
	backup *backupStore
	log    *slog.Logger

	mu         sync.Mutex
	value      T
	loaded     bool
	fetchedAt  time.Time
	refreshing bool
}

type resourceOptions struct {
	ttl    time.Duration
	inline time.Duration
	full   time.Duration
	backup *backupStore
	log    *slog.Logger
}

func newResource[T any](name string, opts resourceOptions, fetch func(ctx context.Context) (T, error), zero func() T) *resource[T] {
	return &resource[T]{
		name:   name,
		ttl:    opts.ttl,
		inline: opts.inline,
		full:   opts.full,
		fetch:  fetch,
		zero:   zero,
		backup: opts.backup,
		log:    opts.log.With(slog.String("resource", name)),
	}
}

// get returns the best available value and never an error.
func (r *resource[T]) get(ctx context.Context) T {
	r.mu.Lock()

	if r.loaded && time.Since(r.fetchedAt) <= r.ttl {
		value := r.value
		r.mu.Unlock()
		return value
	}

	if r.loaded {
		// serve stale, refresh behind the caller's back
		if !r.refreshing {
			r.refreshing = true
			go r.backgroundRefresh()
		}
		value := r.value
		r.mu.Unlock()
		return value
	}

	// first load: one inline attempt, lock held so concurrent first
	// readers wait for this fetch instead of piling on the upstream
	defer r.mu.Unlock()
	ictx, cancel := context.WithTimeout(ctx, r.inline)
	defer cancel()
	value, err := r.fetch(ictx)
	if err == nil {
		r.store(value)
		return value
	}
	r.log.Warn("inline fetch failed, using fallback", sl.Err(err))

	if r.backup != nil {
		var saved T
		if berr := r.backup.load(r.name, &saved); berr == nil {
			// snapshot age is unknown, mark it stale so the next read
			// kicks off a refresh
			r.value = saved
			r.loaded = true
			r.fetchedAt = time.Time{}
			return saved
		}
	}
	if r.zero != nil {
		return r.zero()
	}
	var empty T
	return empty
}

// refresh fetches unconditionally and replaces the cached value. Used by
// the scheduler; a failure keeps the previous value.
func (r *resource[T]) refresh(ctx context.Context) error {
	value, err := r.fetch(ctx)
	if err != nil {
		r.log.Warn("refresh failed, keeping previous value", sl.Err(err))
		return err
	}
	r.mu.Lock()
	r.store(value)
	r.mu.Unlock()
	return nil
}

func (r *resource[T]) backgroundRefresh() {
	ctx, cancel := context.WithTimeout(context.Background(), r.full)
	defer cancel()

	value, err := r.fetch(ctx)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.refreshing = false
	if err != nil {
		r.log.Warn("background refresh failed, keeping previous value", sl.Err(err))
		return
	}
	r.store(value)
}

// store must be called with mu held.
func (r *resource[T]) store(value T) {
	r.value = value
	r.loaded = true
	r.fetchedAt = time.Now()
	if r.backup != nil {
		if err := r.backup.save(r.name, value); err != nil {
			r.log.Warn("backup write failed", sl.Err(err))
		}
	}
}
