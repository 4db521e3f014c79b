package application

import (
	"context"
	"log/slog"
	"time"
)

// DefaultWatchInterval is how often live sessions are aged when no interval
// is configured.
const DefaultWatchInterval = 60 * time.Second

// Watchdog periodically ages live sessions and drives warnings and
// auto-close. One slot failing a tick never stops the rest of the sweep.
type Watchdog struct {
	dispatcher *Dispatcher
	interval   time.Duration
	log        *slog.Logger
}

func NewWatchdog(dispatcher *Dispatcher, interval time.Duration, log *slog.Logger) *Watchdog {
	if interval <= 0 {
		interval = DefaultWatchInterval
	}
	if log == nil {
		log = slog.Default()
	}
	return &Watchdog{dispatcher: dispatcher, interval: interval, log: log}
}

func (w *Watchdog) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

func (w *Watchdog) sweep(ctx context.Context) {
	for _, pool := range w.dispatcher.Pools() {
		for _, slot := range pool.Slots() {
			if err := slot.AutoCloseTick(ctx); err != nil {
				w.log.Error("watchdog tick failed", "guild", pool.guildID, "slot", slot.ChannelName(), "error", err)
			}
		}
	}
}
