package emitters

import (
	"family-custody/internal/interfaces"
	"family-custody/internal/logger"
	"family-custody/internal/models"
)

// LogEmitter wraps another emitter and logs every notification before
// forwarding it. Useful when debugging what actually goes out to Kafka.
type LogEmitter struct {
	Wrapped interfaces.EventEmitter
}

func (l *LogEmitter) EmitEvent(event models.NotificationEvent) error {
	logger.GetLogger().Debug().
		Str("type", event.Type).
		Str("childAddress", event.ChildAddress).
		Str("walletId", event.WalletID).
		Str("amount", event.Amount).
		Str("txHash", event.TxHash).
		Time("timestamp", event.Timestamp).
		Msg("Emitting notification")

	if l.Wrapped == nil {
		return nil
	}
	return l.Wrapped.EmitEvent(event)
}
