package application

import (
	"fmt"
	"time"

	"livepool/internal/domain"
)

// Notice texts posted by the core. Plain content only; embed styling and
// localization live outside this module.
const (
	slotOpenedText   = "🔴 Live session started"
	slotResumedText  = "🔴 Live session resumed"
	slotClosedText   = "⚪ Live session closed"
	slotCanceledText = "↩️ Live session canceled"

	provisionFailedText = "⚠️ Could not create a live channel. The server or category channel limit may be reached."
	poolFullText        = "⚠️ No live channels available. An operator can react with 🆕 to add one temporarily."

	autoCloseWarningText = "⏳ This live session will be closed in 5 minutes unless there is new activity."

	extensionEmoji = "🆕"
)

func openedNotice(channelID string) string {
	return fmt.Sprintf("🔴 **Live session started** <#%s>", channelID)
}

func resumedNotice(channelID string) string {
	return fmt.Sprintf("🔴 **Live session resumed** <#%s>", channelID)
}

func closedNotice(elapsed time.Duration, isAutomatic bool, threshold time.Duration) string {
	if isAutomatic {
		return fmt.Sprintf("⚪ **Live session closed** (live for %s, closed after %s of inactivity)",
			domain.FormatLiveTime(elapsed), domain.FormatLiveTime(threshold))
	}
	return fmt.Sprintf("⚪ **Live session closed** (live for %s)", domain.FormatLiveTime(elapsed))
}
