// Package notifier provides desktop notifications for run lifecycle events
package notifier

import (
	"fmt"
	"runtime"
	"time"

	"github.com/gen2brain/beeep"

	"github.com/capstan/capstan/pkg/logger"
	"github.com/capstan/capstan/pkg/types"
)

// RunNotifier surfaces per-connection run events as desktop notifications
type RunNotifier struct {
	enabled      bool
	successSound string
	failureSound string
	logger       logger.Logger
}

// New creates a run notifier from the notification config. Notifications
// default on when the config leaves them unset.
func New(config types.NotificationConfig, log logger.Logger) *RunNotifier {
	return &RunNotifier{
		enabled:      config.Enabled == nil || *config.Enabled,
		successSound: config.SuccessSound,
		failureSound: config.FailureSound,
		logger:       log,
	}
}

// NotifyRunStart notifies that a run against a connection has started
func (n *RunNotifier) NotifyRunStart(connection string) {
	if !n.enabled {
		return
	}

	title := "⚓ Capstan"
	message := fmt.Sprintf("Deploying to %s...", connection)

	n.sendNotification(title, message, "")
}

// NotifyRunSuccess notifies that a run completed successfully
func (n *RunNotifier) NotifyRunSuccess(connection string, duration time.Duration) {
	if !n.enabled {
		return
	}

	title := "✅ Run Succeeded"
	message := fmt.Sprintf("%s finished in %s", connection, formatDuration(duration))

	n.sendNotification(title, message, n.successSound)
}

// NotifyRunFailure notifies that a run failed
func (n *RunNotifier) NotifyRunFailure(connection string, err error) {
	if !n.enabled {
		return
	}

	title := "❌ Run Failed"
	message := fmt.Sprintf("%s: %v", connection, err)

	n.sendNotification(title, message, n.failureSound)
}

// Private methods

func (n *RunNotifier) sendNotification(title, message, soundName string) {
	switch runtime.GOOS {
	case "darwin", "linux", "windows":
		if err := beeep.Notify(title, message, ""); err != nil {
			n.logger.Debug("Failed to send notification", logger.WithField("error", err))
		}
		if soundName != "" {
			if err := beeep.Beep(beeep.DefaultFreq, beeep.DefaultDuration); err != nil {
				n.logger.Debug("Failed to play sound", logger.WithField("error", err))
			}
		}
	default:
		// Fallback to console
		n.logger.Info(fmt.Sprintf("%s: %s", title, message))
	}
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
}
