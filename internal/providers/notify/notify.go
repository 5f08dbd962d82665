package notify

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

// CardNotification tells a recipient their card is ready. The card code is
// never part of the notification payload; delivery channels fetch it through
// an authorized read.
type CardNotification struct {
	RequestID     string
	RecipientID   string
	RecipientName string
	Phone         string
	BrandName     string
	Denomination  int64
}

// Notifier delivers provisioned-card notifications. SMS/email transports
// implement this; the default wiring only logs.
type Notifier interface {
	NotifyCardProvisioned(ctx context.Context, notification CardNotification) error
}

// LogNotifier is the stub transport: it records the notification and does
// nothing else. Used until a real SMS provider is wired in.
type LogNotifier struct {
	log *zap.Logger
}

func NewLogNotifier(log *zap.Logger) Notifier {
	return &LogNotifier{log: log.Named("notify.log")}
}

func (n *LogNotifier) NotifyCardProvisioned(_ context.Context, notification CardNotification) error {
	n.log.Info("card provisioned notification",
		zap.String("request_id", notification.RequestID),
		zap.String("recipient_id", notification.RecipientID),
		zap.String("brand", notification.BrandName),
		zap.Int64("denomination", notification.Denomination),
	)
	return nil
}

var Module = fx.Module("providers.notify",
	fx.Provide(NewLogNotifier),
)
