// Package slots manages delegation of premium to other accounts through
// an owner's slots. Assignment is positional: the recipient appended to
// the friends list occupies the first non-expired slot whose index is not
// already paired with an earlier friends entry.
package slots

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"recloud/entity"
	"recloud/lib/keylock"
	"recloud/lib/sl"
)

var (
	ErrOwnerNotFound     = errors.New("user not found")
	ErrRecipientNotFound = errors.New("user not found")
	ErrNoAvailableSlots  = errors.New("no available slots")
	ErrNotPremium        = errors.New("only users with active Premium subscription can assign slots")
	ErrPremiumExpired    = errors.New("your Premium subscription has expired or is invalid")
	ErrSelfAssign        = errors.New("cannot align yourself")
	ErrAlreadyAligned    = errors.New("user already aligned")
	ErrNotInSlot         = errors.New("user is not aligned to any of your slots")
	ErrNotAligned        = errors.New("you are not aligned by any user")
)

// CooldownError rejects a removal while the slot's 7-day lockout is active.
type CooldownError struct {
	DaysLeft int
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("each slot can only be reassigned once per week; wait %d more day(s)", e.DaysLeft)
}

type UserStore interface {
	UserById(id string) (*entity.User, error)
	UserByUsername(username string) (*entity.User, error)
	SaveUsers(users []*entity.User) error
}

type Manager struct {
	store UserStore
	locks *keylock.KeyLock
	log   *slog.Logger
}

func New(store UserStore, locks *keylock.KeyLock, log *slog.Logger) *Manager {
	return &Manager{
		store: store,
		locks: locks,
		log:   log.With(sl.Module("slots")),
	}
}

// Add assigns recipientUsername to the owner's first available slot and
// grants the recipient aligned premium unless they already hold their own.
func (m *Manager) Add(ctx context.Context, ownerId, recipientUsername string) error {
	// pre-lock lookup resolves the recipient id for lock ordering only
	resolved, err := m.store.UserByUsername(recipientUsername)
	if err != nil {
		return ErrRecipientNotFound
	}
	recipientId := resolved.Id

	unlock := m.locks.Lock(ownerId, recipientId)
	defer unlock()

	owner, err := m.store.UserById(ownerId)
	if err != nil {
		return ErrOwnerNotFound
	}
	recipient, err := m.store.UserById(recipientId)
	if err != nil {
		return ErrRecipientNotFound
	}
	now := time.Now()

	if owner.AvailableSlots(now) <= 0 {
		return ErrNoAvailableSlots
	}
	// Exactly Premium: aligned or admin owners cannot delegate.
	if owner.Status != entity.StatusPremium {
		return ErrNotPremium
	}
	if !owner.HasValidPremium(now) {
		return ErrPremiumExpired
	}
	if strings.EqualFold(owner.Username, recipient.Username) {
		return ErrSelfAssign
	}
	if owner.HasFriend(recipient.Username) {
		return ErrAlreadyAligned
	}

	// First available slot in storage order; slot i is taken iff
	// i < len(friends). This index convention is the assignment contract.
	slotIndex := -1
	for i, slot := range owner.SlotsInfo {
		if i < len(owner.Friends) {
			continue
		}
		if slot.Expired(now) {
			continue
		}
		slotIndex = i
		break
	}
	if slotIndex < 0 {
		return ErrNoAvailableSlots
	}

	owner.Friends = append(owner.Friends, recipient.Username)
	owner.SlotsInfo[slotIndex].Assign(recipient.Username)
	owner.AppendHistory("Slot Assigned", fmt.Sprintf("Assigned slot to user '%s'", recipient.Username))

	batch := []*entity.User{owner}
	if recipient.Status != entity.StatusPremium {
		recipient.Status = entity.StatusAligned
		recipient.AlignedBy = owner.Username
		recipient.AppendHistory("Premium Status Granted",
			fmt.Sprintf("Granted Premium via slot alignment from %s", owner.Username))
		batch = append(batch, recipient)
	}

	if err = m.store.SaveUsers(batch); err != nil {
		m.log.Error("add slot: save", sl.Err(err), sl.User(owner.Username))
		return err
	}
	m.log.Info("slot assigned", sl.User(owner.Username), slog.String("recipient", recipient.Username))
	return nil
}

// Remove frees the slot occupied by recipientUsername. The slot enters a
// 7-day cooldown; if one is already active the removal is rejected with
// the remaining day count.
func (m *Manager) Remove(ctx context.Context, ownerId, recipientUsername string) error {
	ids := []string{ownerId}
	recipientId := ""
	if resolved, rerr := m.store.UserByUsername(recipientUsername); rerr == nil {
		recipientId = resolved.Id
		ids = append(ids, recipientId)
	}
	unlock := m.locks.Lock(ids...)
	defer unlock()

	owner, err := m.store.UserById(ownerId)
	if err != nil {
		return ErrOwnerNotFound
	}
	var recipient *entity.User
	if recipientId != "" {
		recipient, _ = m.store.UserById(recipientId)
	}

	friendIndex := owner.FriendIndex(recipientUsername)
	if friendIndex < 0 {
		return ErrNotInSlot
	}
	username := owner.Friends[friendIndex]

	var slot *entity.Slot
	if friendIndex < len(owner.SlotsInfo) {
		slot = owner.SlotsInfo[friendIndex]
		if days := slot.CooldownDaysLeft(time.Now()); days > 0 {
			return &CooldownError{DaysLeft: days}
		}
	}

	owner.Friends = append(owner.Friends[:friendIndex], owner.Friends[friendIndex+1:]...)
	if slot != nil {
		slot.MarkRemoved(username, entity.SlotUserRemoved)
	}
	owner.AppendHistory("Slot Freed", fmt.Sprintf("Removed user '%s' from slot", username))

	batch := []*entity.User{owner}
	if recipient != nil && recipient.Status == entity.StatusAligned && strings.EqualFold(recipient.AlignedBy, owner.Username) {
		recipient.Status = entity.StatusStandard
		recipient.AlignedBy = ""
		recipient.ForceDisconnectDevices("premium_lost")
		recipient.AppendHistory("Premium Status Revoked",
			fmt.Sprintf("Revoked Premium because slot alignment from %s was removed", owner.Username))
		batch = append(batch, recipient)
	}

	if err = m.store.SaveUsers(batch); err != nil {
		m.log.Error("remove slot: save", sl.Err(err), sl.User(owner.Username))
		return err
	}
	m.log.Info("slot freed", sl.User(owner.Username), slog.String("recipient", username))
	return nil
}

// DisalignSelf lets a recipient leave their owner's slot. Effects mirror
// Remove, recorded as self_removed and without starting a cooldown. A
// missing owner is tolerated: only the recipient side is updated then.
func (m *Manager) DisalignSelf(ctx context.Context, userId string) error {
	self, err := m.store.UserById(userId)
	if err != nil {
		return ErrOwnerNotFound
	}
	if self.Status != entity.StatusAligned || self.AlignedBy == "" {
		return ErrNotAligned
	}
	alignedBy := self.AlignedBy

	ids := []string{userId}
	ownerId := ""
	if resolved, oerr := m.store.UserByUsername(alignedBy); oerr == nil {
		ownerId = resolved.Id
		ids = append(ids, ownerId)
	}
	unlock := m.locks.Lock(ids...)
	defer unlock()

	self, err = m.store.UserById(userId)
	if err != nil {
		return ErrOwnerNotFound
	}
	if self.Status != entity.StatusAligned || !strings.EqualFold(self.AlignedBy, alignedBy) {
		return ErrNotAligned
	}
	var owner *entity.User
	if ownerId != "" {
		owner, _ = m.store.UserById(ownerId)
	}

	self.Status = entity.StatusStandard
	self.AlignedBy = ""
	self.ForceDisconnectDevices("premium_lost")
	self.AppendHistory("Premium Status Revoked",
		fmt.Sprintf("You disaligned yourself from %s's slot", alignedBy))
	batch := []*entity.User{self}

	if owner != nil {
		if friendIndex := owner.FriendIndex(self.Username); friendIndex >= 0 {
			owner.Friends = append(owner.Friends[:friendIndex], owner.Friends[friendIndex+1:]...)
			if friendIndex < len(owner.SlotsInfo) {
				owner.SlotsInfo[friendIndex].MarkRemoved(self.Username, entity.SlotUserSelfRemoved)
			}
			owner.AppendHistory("Slot Freed",
				fmt.Sprintf("User '%s' disaligned themselves from your slot", self.Username))
			batch = append(batch, owner)
		}
	}

	if err = m.store.SaveUsers(batch); err != nil {
		m.log.Error("disalign self: save", sl.Err(err), sl.User(self.Username))
		return err
	}
	m.log.Info("self disaligned", sl.User(self.Username), slog.String("owner", alignedBy))
	return nil
}
