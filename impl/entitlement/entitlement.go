// Package entitlement owns premium expiry reconciliation: the periodic
// sweep over all accounts and the lazy single-user check every read path
// runs before trusting a stored status.
package entitlement

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"recloud/entity"
	"recloud/lib/keylock"
	"recloud/lib/sl"
)

type UserStore interface {
	Users() ([]*entity.User, error)
	UserById(id string) (*entity.User, error)
	UserByUsername(username string) (*entity.User, error)
	SaveUsers(users []*entity.User) error
}

type Service struct {
	store UserStore
	locks *keylock.KeyLock
	log   *slog.Logger
}

func New(store UserStore, locks *keylock.KeyLock, log *slog.Logger) *Service {
	return &Service{
		store: store,
		locks: locks,
		log:   log.With(sl.Module("entitlement")),
	}
}

// Sweep demotes every user whose premium has passed its expiry, cascading
// to aligned dependents, and commits all changes as one batch write.
// A failure on one account is logged and skipped; the sweep continues.
func (s *Service) Sweep(ctx context.Context) {
	users, err := s.store.Users()
	if err != nil {
		s.log.Error("sweep: list users", sl.Err(err))
		return
	}
	now := time.Now()

	byUsername := make(map[string]*entity.User, len(users))
	for _, user := range users {
		byUsername[strings.ToLower(user.Username)] = user
	}

	// The listing is a snapshot used only to pick candidates and resolve
	// lock ids; every account is re-read under the lock before mutation,
	// so a write committed after the listing is never overwritten.
	var ownerIds, ids []string
	for _, user := range users {
		if !user.PremiumExpired(now) {
			continue
		}
		ownerIds = append(ownerIds, user.Id)
		ids = append(ids, user.Id)
		for _, friend := range user.Friends {
			if dep, ok := byUsername[strings.ToLower(friend)]; ok {
				ids = append(ids, dep.Id)
			}
		}
	}
	if len(ownerIds) == 0 {
		return
	}

	// Lock every account the cascade can touch for the whole apply+save
	// phase, so no foreground mutation interleaves with the batch.
	unlock := s.locks.Lock(ids...)
	defer unlock()

	fresh, freshByName := s.reloadUsers(ids)
	changed := make(map[string]*entity.User)
	for _, id := range ownerIds {
		owner, ok := fresh[id]
		if !ok || !owner.PremiumExpired(now) {
			continue
		}
		batch := s.demoteCascade(owner, "Premium subscription expired.", func(username string) *entity.User {
			return freshByName[strings.ToLower(username)]
		})
		for _, user := range batch {
			changed[user.Id] = user
		}
		s.log.Info("revoked expired premium", sl.User(owner.Username))
	}
	if len(changed) == 0 {
		return
	}

	batch := make([]*entity.User, 0, len(changed))
	for _, user := range changed {
		batch = append(batch, user)
	}
	if err = s.store.SaveUsers(batch); err != nil {
		s.log.Error("sweep: save users", sl.Err(err))
		return
	}
	s.log.Info("expiration sweep committed", slog.Int("updated", len(batch)))
}

// ReconcileUser runs the same demotion as the sweep, scoped to one
// account, before a read path acts on its stored status. The returned
// user reflects any demotion applied.
func (s *Service) ReconcileUser(ctx context.Context, user *entity.User) (*entity.User, error) {
	now := time.Now()
	if !user.PremiumExpired(now) {
		return user, nil
	}

	// Resolve dependent ids before locking, so both sides of each
	// alignment are held for the entire read-modify-save cycle. The
	// pre-lock reads fix lock ordering only; documents are re-read
	// under the lock.
	ids := s.resolveDependents(user)
	unlock := s.locks.Lock(ids...)
	defer unlock()

	fresh, err := s.store.UserById(user.Id)
	if err != nil {
		return user, err
	}
	if !fresh.PremiumExpired(now) {
		return fresh, nil
	}

	_, deps := s.reloadUsers(ids)
	batch := s.demoteCascade(fresh, "Premium subscription expired.", func(username string) *entity.User {
		return deps[strings.ToLower(username)]
	})
	if err = s.store.SaveUsers(batch); err != nil {
		return fresh, err
	}
	return fresh, nil
}

// Demote applies the full demotion cascade to one account on behalf of an
// administrative status change. Caller identifies the account by id.
func (s *Service) Demote(ctx context.Context, userId, reason string) error {
	user, err := s.store.UserById(userId)
	if err != nil {
		return err
	}

	ids := s.resolveDependents(user)
	unlock := s.locks.Lock(ids...)
	defer unlock()

	fresh, err := s.store.UserById(userId)
	if err != nil {
		return err
	}
	_, deps := s.reloadUsers(ids)
	batch := s.demoteCascade(fresh, reason, func(username string) *entity.User {
		return deps[strings.ToLower(username)]
	})
	return s.store.SaveUsers(batch)
}

// resolveDependents maps the user's friends to account ids for lock
// acquisition. The lookups happen before the lock and are used for
// ordering only, never as documents to mutate.
func (s *Service) resolveDependents(user *entity.User) []string {
	ids := []string{user.Id}
	for _, friend := range user.Friends {
		dep, err := s.store.UserByUsername(friend)
		if err != nil {
			continue
		}
		ids = append(ids, dep.Id)
	}
	return ids
}

// reloadUsers re-reads the given accounts while their locks are held and
// indexes them by id and by lowercase username. Missing accounts are
// skipped.
func (s *Service) reloadUsers(ids []string) (map[string]*entity.User, map[string]*entity.User) {
	byId := make(map[string]*entity.User, len(ids))
	byName := make(map[string]*entity.User, len(ids))
	for _, id := range ids {
		if _, ok := byId[id]; ok {
			continue
		}
		user, err := s.store.UserById(id)
		if err != nil {
			continue
		}
		byId[id] = user
		byName[strings.ToLower(user.Username)] = user
	}
	return byId, byName
}

// demoteCascade downgrades the owner and every dependent aligned by them.
// Dependent usernames are collected into a fixed list before any mutation,
// so the cascade never iterates a list it is changing. The alignment graph
// is depth one: aligned users cannot own slots, so no recursion is needed.
func (s *Service) demoteCascade(owner *entity.User, reason string, lookup func(username string) *entity.User) []*entity.User {
	batch := []*entity.User{owner}

	dependents := make([]string, len(owner.Friends))
	copy(dependents, owner.Friends)

	demote(owner, reason)
	for _, username := range dependents {
		dep := lookup(username)
		if dep == nil {
			continue
		}
		if dep.Status != entity.StatusAligned || !strings.EqualFold(dep.AlignedBy, owner.Username) {
			continue
		}
		demote(dep, "Alignment from "+owner.Username+" was removed.")
		batch = append(batch, dep)
	}
	owner.Friends = []string{}
	return batch
}

func demote(user *entity.User, reason string) {
	user.Status = entity.StatusStandard
	user.PremiumExpiresAt = ""
	user.AlignedBy = ""
	user.ForceDisconnectDevices("premium_lost")
	user.AppendHistory("Premium Status Revoked", "Premium status removed. "+reason+" All devices disconnected.")
}
