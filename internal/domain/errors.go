package domain

import "errors"

var (
	ErrSlotNotIdle      = errors.New("slot is not idle")
	ErrSlotNotLive      = errors.New("slot is not live")
	ErrSlotNotResumable = errors.New("slot is not resumable")
	ErrSessionExpired   = errors.New("session references no longer resolve")
	ErrPoolFull         = errors.New("no live channel available")
	ErrNoAcceptChannel  = errors.New("no accept channel bound")
	ErrGuildNotFound    = errors.New("guild not found")
)
