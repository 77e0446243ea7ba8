package notify

import (
	"log/slog"

	"github.com/gen2brain/beeep"
)

// BeeepSender delivers notifications through the desktop notification daemon.
type BeeepSender struct {
	logger *slog.Logger
}

func NewBeeepSender(logger *slog.Logger) *BeeepSender {
	return &BeeepSender{logger: logger}
}

func (s *BeeepSender) Send(payload Payload) {
	if err := beeep.Notify(payload.Title, payload.Content, ""); err != nil {
		s.logger.Debug("desktop notification failed", "error", err)
	}
}
