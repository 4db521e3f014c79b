package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"livepool/internal/domain"
	"livepool/internal/ports"
)

// SessionSlot is the state machine for one pool channel. The persisted
// descriptor in the channel's marker is the sole source of truth across
// restarts; in-memory status is always re-derivable from it.
//
// Lifecycle transitions are claimed synchronously under the slot mutex before
// the first platform call, so two triggers routed back to back can never
// operate on the same slot concurrently.
type SessionSlot struct {
	pool    *SessionPool
	channel ports.Channel
	log     *slog.Logger

	mu          sync.Mutex
	status      domain.SlotStatus
	markerID    string
	session     *domain.Session
	lastSession *domain.Session
	warned      bool
}

func newSessionSlot(pool *SessionPool, channel ports.Channel) *SessionSlot {
	return &SessionSlot{
		pool:    pool,
		channel: channel,
		status:  domain.StatusIdle,
		log:     pool.log.With("slot", channel.Name, "channel", channel.ID),
	}
}

func (s *SessionSlot) Status() domain.SlotStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *SessionSlot) ChannelID() string   { return s.channel.ID }
func (s *SessionSlot) ChannelName() string { return s.channel.Name }

// Session returns the refs of the current live session, or nil.
func (s *SessionSlot) Session() *domain.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session
}

// tryClaim flips an idle slot to live before any suspending call, closing the
// race window between allocation and open.
func (s *SessionSlot) tryClaim() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != domain.StatusIdle {
		return false
	}
	s.status = domain.StatusLive
	return true
}

// CheckLiving rebuilds the slot's state from its persisted descriptor. It
// lazily creates the marker, decodes the tag, and resolves every reference a
// live descriptor claims. Unresolvable references mean the persisted state is
// corrupt; the slot self-heals by rewriting CLOSED and staying idle.
func (s *SessionSlot) CheckLiving(ctx context.Context) error {
	platform := s.pool.platform

	markers, err := platform.ListMarkers(ctx, s.channel.ID)
	if err != nil {
		return fmt.Errorf("list markers: %w", err)
	}

	// Only markers inside the descriptor namespace are ours. A bot-owned
	// webhook with some other name is foreign and stays untouched.
	var marker *ports.Marker
	for i := range markers {
		if markers[i].OwnedByBot && domain.IsStateDescriptor(markers[i].Name) {
			marker = &markers[i]
			break
		}
	}
	if marker == nil {
		created, err := platform.CreateMarker(ctx, s.channel.ID, domain.StateClosed)
		if err != nil {
			return fmt.Errorf("create marker: %w", err)
		}
		marker = &created
	}

	refs := domain.DecodeState(marker.Name)
	if refs == nil {
		if marker.Name != domain.StateClosed {
			if err := platform.RenameMarker(ctx, s.channel.ID, marker.ID, domain.StateClosed); err != nil {
				s.log.Warn("could not normalize marker", "error", err)
			}
		}
		s.mu.Lock()
		s.markerID = marker.ID
		s.status = domain.StatusIdle
		s.session = nil
		s.mu.Unlock()
		return nil
	}

	trigger, terr := platform.FetchMessage(ctx, s.pool.AcceptChannelID(), refs.TriggerID)
	_, merr := platform.FetchMessage(ctx, s.channel.ID, refs.MirrorID)
	notice, nerr := platform.FetchMessage(ctx, s.pool.AcceptChannelID(), refs.NoticeID)

	if terr != nil || merr != nil || nerr != nil {
		// The descriptor claims a session whose messages are gone. Never
		// leave the slot claiming live with unresolvable references.
		if err := platform.RenameMarker(ctx, s.channel.ID, marker.ID, domain.StateClosed); err != nil {
			return fmt.Errorf("reset corrupt marker: %w", err)
		}
		s.mu.Lock()
		s.markerID = marker.ID
		s.status = domain.StatusIdle
		s.session = nil
		s.mu.Unlock()
		s.log.Info("reset slot with unresolvable session references")
		return nil
	}

	refs.OpenedAt = notice.CreatedAt
	refs.TriggerAuthorID = trigger.AuthorID

	s.mu.Lock()
	s.markerID = marker.ID
	s.status = domain.StatusLive
	s.session = refs
	s.warned = false
	s.mu.Unlock()

	s.pool.reg.enterLiving(s, refs.TriggerID, refs.NoticeID)
	s.log.Info("recovered live session", "trigger", refs.TriggerID)
	return nil
}

// ensureMarker makes sure the marker exists before a transition persists to
// it. Slots created by provisioning run CheckLiving first, so this is only a
// fallback.
func (s *SessionSlot) ensureMarker(ctx context.Context) error {
	s.mu.Lock()
	have := s.markerID != ""
	s.mu.Unlock()
	if have {
		return nil
	}
	return s.CheckLiving(ctx)
}

func (s *SessionSlot) persistState(ctx context.Context, session *domain.Session) error {
	s.mu.Lock()
	markerID := s.markerID
	s.mu.Unlock()
	if markerID == "" {
		return fmt.Errorf("slot %s has no marker", s.channel.Name)
	}
	return s.pool.platform.RenameMarker(ctx, s.channel.ID, markerID, domain.EncodeState(session))
}

// Open starts a session on a slot that was claimed from idle by the pool.
// Every step can fail; failure aborts with no partial commit and the error is
// propagated to the caller.
func (s *SessionSlot) Open(ctx context.Context, trigger ports.Message) error {
	settings := s.pool.Settings()
	platform := s.pool.platform
	log := s.log.With("op", "open", "trace", uuid.NewString())

	commit := func() error {
		if err := s.ensureMarker(ctx); err != nil {
			return err
		}
		for _, roleID := range settings.RestrictionRoles {
			if err := platform.SetSendPermission(ctx, s.channel.ID, roleID, true); err != nil {
				return fmt.Errorf("relax send restriction: %w", err)
			}
		}
		if _, err := platform.SendMessage(ctx, s.channel.ID, slotOpenedText); err != nil {
			return fmt.Errorf("post opened note: %w", err)
		}
		mirror, err := platform.SendMessage(ctx, s.channel.ID, trigger.Content)
		if err != nil {
			return fmt.Errorf("mirror trigger: %w", err)
		}
		if settings.PinOnOpen {
			if err := platform.PinMessage(ctx, s.channel.ID, mirror.ID); err != nil {
				return fmt.Errorf("pin mirror: %w", err)
			}
		}
		notice, err := platform.SendMessage(ctx, s.pool.AcceptChannelID(), openedNotice(s.channel.ID))
		if err != nil {
			return fmt.Errorf("post public notice: %w", err)
		}
		if err := platform.AddReaction(ctx, notice.ChannelID, notice.ID, settings.CloseEmoji); err != nil {
			return fmt.Errorf("attach close reaction: %w", err)
		}

		session := &domain.Session{
			TriggerID:       trigger.ID,
			MirrorID:        mirror.ID,
			NoticeID:        notice.ID,
			OpenedAt:        notice.CreatedAt,
			TriggerAuthorID: trigger.AuthorID,
		}
		if err := s.persistState(ctx, session); err != nil {
			return fmt.Errorf("persist state: %w", err)
		}

		s.mu.Lock()
		s.session = session
		s.warned = false
		s.mu.Unlock()
		s.pool.reg.enterLiving(s, session.TriggerID, session.NoticeID)
		return nil
	}

	if err := commit(); err != nil {
		s.abort(ctx, settings, log)
		return fmt.Errorf("open %s: %w", s.channel.Name, err)
	}

	log.Info("session opened", "trigger", trigger.ID)
	return nil
}

// abort force-resets a half-open slot: CLOSED tag, restored restrictions,
// idle status, no registry residue. Cleanup failures are logged, never
// escalated past the original error.
func (s *SessionSlot) abort(ctx context.Context, settings domain.Settings, log *slog.Logger) {
	if err := s.persistState(ctx, nil); err != nil {
		log.Warn("abort: could not persist closed state", "error", err)
	}
	s.restoreRestrictions(ctx, settings, log)

	s.mu.Lock()
	s.status = domain.StatusIdle
	s.session = nil
	s.mu.Unlock()
}

func (s *SessionSlot) restoreRestrictions(ctx context.Context, settings domain.Settings, log *slog.Logger) {
	for _, roleID := range settings.RestrictionRoles {
		if err := s.pool.platform.SetSendPermission(ctx, s.channel.ID, roleID, false); err != nil {
			log.Warn("could not restore send restriction", "role", roleID, "error", err)
		}
	}
}

// Resume reopens the last closed session with its original references. Valid
// only from resumable; when any reference was removed in the interim the slot
// stays resumable and the failure is reported to the caller.
func (s *SessionSlot) Resume(ctx context.Context) error {
	s.mu.Lock()
	if s.status != domain.StatusResumable || s.lastSession == nil {
		s.mu.Unlock()
		return domain.ErrSlotNotResumable
	}
	session := s.lastSession
	s.status = domain.StatusLive
	s.mu.Unlock()

	settings := s.pool.Settings()
	platform := s.pool.platform
	log := s.log.With("op", "resume", "trace", uuid.NewString())

	commit := func() error {
		for _, roleID := range settings.RestrictionRoles {
			if err := platform.SetSendPermission(ctx, s.channel.ID, roleID, true); err != nil {
				return fmt.Errorf("relax send restriction: %w", err)
			}
		}
		if _, err := platform.SendMessage(ctx, s.channel.ID, slotResumedText); err != nil {
			return fmt.Errorf("post resumed note: %w", err)
		}
		if settings.PinOnOpen {
			if err := platform.PinMessage(ctx, s.channel.ID, session.MirrorID); err != nil {
				return fmt.Errorf("pin mirror: %w", err)
			}
		}
		if err := platform.EditMessage(ctx, s.pool.AcceptChannelID(), session.NoticeID, resumedNotice(s.channel.ID)); err != nil {
			return fmt.Errorf("edit public notice: %w", err)
		}
		if err := s.persistState(ctx, session); err != nil {
			return fmt.Errorf("persist state: %w", err)
		}
		return nil
	}

	if err := commit(); err != nil {
		s.restoreRestrictions(ctx, settings, log)
		if perr := s.persistState(ctx, nil); perr != nil {
			log.Warn("resume rollback: could not persist closed state", "error", perr)
		}
		s.mu.Lock()
		s.status = domain.StatusResumable
		s.mu.Unlock()
		return fmt.Errorf("resume %s: %w: %w", s.channel.Name, domain.ErrSessionExpired, err)
	}

	s.mu.Lock()
	s.session = session
	s.lastSession = nil
	s.warned = false
	s.mu.Unlock()
	s.pool.reg.enterLiving(s, session.TriggerID, session.NoticeID)

	log.Info("session resumed", "trigger", session.TriggerID)
	return nil
}

// Edit propagates a trigger edit into the mirror. Best effort: the session's
// validity does not depend on it.
func (s *SessionSlot) Edit(ctx context.Context, content string) error {
	s.mu.Lock()
	if s.status != domain.StatusLive || s.session == nil {
		s.mu.Unlock()
		return domain.ErrSlotNotLive
	}
	mirrorID := s.session.MirrorID
	s.mu.Unlock()

	if err := s.pool.platform.EditMessage(ctx, s.channel.ID, mirrorID, content); err != nil {
		return fmt.Errorf("edit mirror: %w", err)
	}
	return nil
}

// Cancel tears a session down after its trigger was deleted. The mirror and
// the public notice are deleted rather than edited, and no resumable entry is
// left behind.
func (s *SessionSlot) Cancel(ctx context.Context) error {
	s.mu.Lock()
	if s.status != domain.StatusLive || s.session == nil {
		s.mu.Unlock()
		return domain.ErrSlotNotLive
	}
	session := s.session
	s.status = domain.StatusIdle
	s.session = nil
	s.mu.Unlock()
	s.pool.reg.exitLiving(session.TriggerID, session.NoticeID)

	settings := s.pool.Settings()
	platform := s.pool.platform
	log := s.log.With("op", "cancel", "trace", uuid.NewString())

	if err := s.persistState(ctx, nil); err != nil {
		log.Warn("could not persist closed state", "error", err)
	}
	if err := platform.DeleteMessage(ctx, s.pool.AcceptChannelID(), session.NoticeID); err != nil {
		log.Warn("could not delete public notice", "error", err)
	}
	if err := platform.DeleteMessage(ctx, s.channel.ID, session.MirrorID); err != nil {
		log.Warn("could not delete mirror", "error", err)
	}
	s.restoreRestrictions(ctx, settings, log)
	if _, err := platform.SendMessage(ctx, s.channel.ID, slotCanceledText); err != nil {
		log.Warn("could not post canceled note", "error", err)
	}

	log.Info("session canceled", "trigger", session.TriggerID)
	s.pool.endRouting(ctx, s)
	return nil
}

// Close gracefully ends a live session and leaves it resumable. The status
// transition and registry swap happen synchronously; side effects that fail
// afterwards are logged, since the persisted CLOSED tag plus recovery make
// them self-healing.
func (s *SessionSlot) Close(ctx context.Context, isAutomatic bool) error {
	s.mu.Lock()
	if s.status != domain.StatusLive || s.session == nil {
		s.mu.Unlock()
		return domain.ErrSlotNotLive
	}
	session := s.session
	s.status = domain.StatusResumable
	s.lastSession = session
	s.session = nil
	s.warned = false
	s.mu.Unlock()

	s.pool.reg.exitLiving(session.TriggerID, session.NoticeID)
	s.pool.reg.enterResumable(session.NoticeID, s)

	settings := s.pool.Settings()
	platform := s.pool.platform
	log := s.log.With("op", "close", "trace", uuid.NewString(), "automatic", isAutomatic)

	if err := s.persistState(ctx, nil); err != nil {
		log.Warn("could not persist closed state", "error", err)
	}
	s.restoreRestrictions(ctx, settings, log)
	if err := platform.UnpinMessage(ctx, s.channel.ID, session.MirrorID); err != nil {
		log.Warn("could not unpin mirror", "error", err)
	}
	if _, err := platform.SendMessage(ctx, s.channel.ID, slotClosedText); err != nil {
		log.Warn("could not post closed note", "error", err)
	}

	elapsed := s.pool.clock.Now().Sub(session.OpenedAt)
	threshold := time.Duration(settings.AutoCloseMinutes) * time.Minute
	if err := platform.EditMessage(ctx, s.pool.AcceptChannelID(), session.NoticeID, closedNotice(elapsed, isAutomatic, threshold)); err != nil {
		log.Warn("could not edit public notice", "error", err)
	}

	log.Info("session closed", "trigger", session.TriggerID, "elapsed", elapsed)
	s.pool.endRouting(ctx, s)
	return nil
}

// AutoCloseTick ages a live session against the guild's inactivity threshold.
// Fires the close exactly once and posts the five-minute warning exactly once
// per session.
func (s *SessionSlot) AutoCloseTick(ctx context.Context) error {
	settings := s.pool.Settings()
	if settings.AutoCloseMinutes <= 0 {
		return nil
	}
	if s.Status() != domain.StatusLive {
		return nil
	}

	last, err := s.pool.platform.LastActivity(ctx, s.channel.ID)
	if err != nil {
		return fmt.Errorf("last activity of %s: %w", s.channel.Name, err)
	}

	threshold := time.Duration(settings.AutoCloseMinutes) * time.Minute
	inactive := s.pool.clock.Now().Sub(last)

	if inactive >= threshold {
		// A manual close can land between the status check and here; the
		// session ending either way is not a failure.
		if err := s.Close(ctx, true); err != nil && !errors.Is(err, domain.ErrSlotNotLive) {
			return err
		}
		return nil
	}

	if threshold-inactive <= 5*time.Minute {
		s.mu.Lock()
		alreadyWarned := s.warned || s.status != domain.StatusLive
		s.warned = true
		s.mu.Unlock()
		if !alreadyWarned {
			if _, err := s.pool.platform.SendMessage(ctx, s.channel.ID, autoCloseWarningText); err != nil {
				return fmt.Errorf("post auto-close warning: %w", err)
			}
		}
	}
	return nil
}

// ReactionClose handles the close emoji landing on the public notice.
func (s *SessionSlot) ReactionClose(ctx context.Context, r ports.Reaction) error {
	settings := s.pool.Settings()
	if r.Emoji != settings.CloseEmoji {
		return nil
	}
	if settings.OnlyTriggerAuthorCanClose {
		s.mu.Lock()
		author := ""
		if s.session != nil {
			author = s.session.TriggerAuthorID
		}
		s.mu.Unlock()
		if author != "" && r.UserID != author {
			return nil
		}
	}
	return s.Close(ctx, false)
}

// ReactionResume handles the last close reaction leaving a resumable notice.
func (s *SessionSlot) ReactionResume(ctx context.Context, r ports.Reaction) error {
	settings := s.pool.Settings()
	if r.Emoji != settings.CloseEmoji || r.Count > 0 {
		return nil
	}
	return s.Resume(ctx)
}
