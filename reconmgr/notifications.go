package reconmgr

import (
	"fmt"

	"github.com/auratrade/aura-relay-server/model"
)

// NotificationType represents the type of a notification message.
type NotificationType int

// NotificationCallback is used for a caller to provide a callback for
// notifications about various events.
type NotificationCallback func(*Notification)

const (
	// NTTransactionAccepted indicates a newly submitted transaction has
	// been stored and entered reconciliation.
	NTTransactionAccepted NotificationType = iota

	// NTTransactionTransition indicates a stored transaction changed
	// status. The notification is emitted only after the store write
	// succeeded.
	NTTransactionTransition
)

// notificationTypeStrings is a map of notification types back to their constant
// names for pretty printing.
var notificationTypeStrings = map[NotificationType]string{
	NTTransactionAccepted:   "NTTransactionAccepted",
	NTTransactionTransition: "NTTransactionTransition",
}

// String returns the NotificationType in human-readable form.
func (n NotificationType) String() string {
	if s, ok := notificationTypeStrings[n]; ok {
		return s
	}
	return fmt.Sprintf("Unknown Notification Type (%d)", int(n))
}

// Notification defines notification that is sent to the caller via the
// callback function provided during the call to Subscribe and consists of a
// notification type as well as associated data that depends on the type as
// follows:
//   - NTTransactionAccepted:   *model.Transaction
//   - NTTransactionTransition: *TransitionEvent
type Notification struct {
	Type NotificationType
	Data interface{}
}

// TransitionEvent describes one committed status transition.
type TransitionEvent struct {
	Transaction *model.Transaction
	Previous    model.TxStatus

	// Override is set when the transition came from an admin override
	// rather than from oracle reconciliation.
	Override   bool
	VerifiedBy string
}

// Subscribe registers a callback to be executed when transactions are
// accepted or change status.
func (m *ReconManager) Subscribe(callback NotificationCallback) {
	m.notificationsLock.Lock()
	m.notifications = append(m.notifications, callback)
	m.notificationsLock.Unlock()
}

// sendNotification sends a notification with the passed type and data if the
// caller requested notifications by providing a callback function in the call
// to Subscribe.
func (m *ReconManager) sendNotification(typ NotificationType, data interface{}) {
	n := Notification{Type: typ, Data: data}
	m.notificationsLock.RLock()
	for _, callback := range m.notifications {
		callback(&n)
	}
	m.notificationsLock.RUnlock()
}
