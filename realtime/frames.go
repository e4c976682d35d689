package realtime

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	authclient "github.com/goliatone/go-auth-client"
	"github.com/google/uuid"
)

// Outbound frame types
const (
	FrameSubscribe = "SUBSCRIBE"
	FrameHeartbeat = "HEARTBEAT"
	FrameMarkRead  = "MARK_READ"
)

// Inbound frame types
const (
	FrameNotification    = "NOTIFICATION"
	FrameDashboardUpdate = "DASHBOARD_UPDATE"
	FramePolicyUpdate    = "POLICY_UPDATE"
	FrameClaimUpdate     = "CLAIM_UPDATE"
	FrameUserUpdate      = "USER_UPDATE"
	FrameMessage         = "message"
)

// Channel lifecycle events delivered to listeners next to frame types.
const (
	EventConnected           = "connected"
	EventDisconnected        = "disconnected"
	EventError               = "error"
	EventNotification        = "notification"
	EventNotificationRead    = "notification-read"
	EventMaxReconnectReached = "maxReconnectAttemptsReached"
)

// UpdateTopics are the live update topics requested by SubscribeToUpdates.
var UpdateTopics = []string{"dashboard", "policies", "claims", "users"}

// UpdateFrameTypes are the frame types those topics deliver.
var UpdateFrameTypes = []string{FrameDashboardUpdate, FramePolicyUpdate, FrameClaimUpdate, FrameUserUpdate}

// UserTopic is the per user notification topic.
func UserTopic(userID string) string {
	return fmt.Sprintf("/topic/user/%s/notifications", userID)
}

// RoleTopic is the per role notification topic.
func RoleTopic(role authclient.UserRole) string {
	return fmt.Sprintf("/topic/role/%s/notifications", role.Normalize())
}

// Frame is the JSON envelope exchanged over the socket.
type Frame struct {
	Type           string          `json:"type"`
	Topic          string          `json:"topic,omitempty"`
	Topics         []string        `json:"topics,omitempty"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	NotificationID string          `json:"notificationId,omitempty"`
	Timestamp      string          `json:"timestamp,omitempty"`
}

// IsNotification reports whether the frame carries a user notification.
func (f Frame) IsNotification() bool {
	return f.Type == FrameNotification || strings.HasSuffix(f.Topic, "/notifications")
}

// Notification is a pushed notification as kept in the local history.
type Notification struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Title     string          `json:"title"`
	Message   string          `json:"message"`
	Timestamp time.Time       `json:"timestamp"`
	Read      bool            `json:"read"`
	Priority  string          `json:"priority,omitempty"`
	Recipient string          `json:"recipient,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Backend timestamps may come without a zone.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// UnmarshalJSON accepts numeric ids, isRead and createdAt aliases, and
// timestamps without a zone.
func (n *Notification) UnmarshalJSON(data []byte) error {
	type alias Notification
	aux := struct {
		ID        json.RawMessage `json:"id"`
		Timestamp string          `json:"timestamp"`
		CreatedAt string          `json:"createdAt"`
		IsRead    *bool           `json:"isRead"`
		*alias
	}{alias: (*alias)(n)}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	n.ID = rawID(aux.ID)
	if aux.IsRead != nil && *aux.IsRead {
		n.Read = true
	}

	ts := aux.Timestamp
	if ts == "" {
		ts = aux.CreatedAt
	}
	n.Timestamp = parseTimestamp(ts)
	return nil
}

func rawID(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return strings.TrimSpace(string(raw))
}

func parseTimestamp(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

// notificationFromFrame decodes the payload, or the whole frame when the
// payload is empty. Missing ids and timestamps are filled in.
func notificationFromFrame(raw []byte, f Frame, now time.Time) (Notification, error) {
	var n Notification
	body := []byte(f.Payload)
	if len(body) == 0 {
		body = raw
	}
	if err := json.Unmarshal(body, &n); err != nil {
		return Notification{}, err
	}

	if n.Type == "" || n.Type == FrameNotification {
		n.Type = "info"
	}
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.Timestamp.IsZero() {
		n.Timestamp = now
	}
	return n, nil
}
