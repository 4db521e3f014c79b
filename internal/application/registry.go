package application

import "sync"

// registry indexes sessions by the foreign message ids inbound events carry,
// so reaction/edit/delete events route to the owning slot without a scan.
// Entries are added only on successful open/resume and removed on
// cancel/close/abort, always alongside the slot's status transition.
type registry struct {
	mu         sync.RWMutex
	byTrigger  map[string]*SessionSlot
	byNotice   map[string]*SessionSlot
	resumables map[string]*SessionSlot
}

func newRegistry() *registry {
	return &registry{
		byTrigger:  map[string]*SessionSlot{},
		byNotice:   map[string]*SessionSlot{},
		resumables: map[string]*SessionSlot{},
	}
}

func (r *registry) enterLiving(slot *SessionSlot, triggerID, noticeID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byTrigger[triggerID] = slot
	r.byNotice[noticeID] = slot
	delete(r.resumables, noticeID)
}

func (r *registry) exitLiving(triggerID, noticeID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byTrigger, triggerID)
	delete(r.byNotice, noticeID)
}

func (r *registry) enterResumable(noticeID string, slot *SessionSlot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resumables[noticeID] = slot
}

func (r *registry) triggerSlot(id string) *SessionSlot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byTrigger[id]
}

func (r *registry) noticeSlot(id string) *SessionSlot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byNotice[id]
}

func (r *registry) resumableSlot(id string) *SessionSlot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.resumables[id]
}

// dropSlot removes every entry pointing at the slot. Used when a slot leaves
// the pool (channel removed, pool rebuilt).
func (r *registry) dropSlot(slot *SessionSlot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, s := range r.byTrigger {
		if s == slot {
			delete(r.byTrigger, id)
		}
	}
	for id, s := range r.byNotice {
		if s == slot {
			delete(r.byNotice, id)
		}
	}
	for id, s := range r.resumables {
		if s == slot {
			delete(r.resumables, id)
		}
	}
}
