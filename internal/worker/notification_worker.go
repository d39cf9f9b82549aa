package worker

import (
	"github.com/spec-kit/crm-intake-bot/internal/events"
	"github.com/spec-kit/crm-intake-bot/internal/service"
)

// StartNotificationWorker subscribes the chat fan-out and, when set, the
// NATS bridge to ticket events. The fan-out is registered first so chat
// copies go out before events leave the process.
func StartNotificationWorker(dispatcher events.Dispatcher, notificationService *service.NotificationService, bridge *events.NATSBridge) {
	if notificationService != nil {
		notificationService.RegisterHandlers()
	}
	if bridge != nil && dispatcher != nil {
		bridge.Register(dispatcher)
	}
}
