// Package eventsub reads channel point notifications from Twitch's EventSub
// websocket transport.
package eventsub

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Soypete/clackbot/types"
)

// ErrUnknownMessageType is returned by Decode for frames it does not understand.
var ErrUnknownMessageType = errors.New("unknown eventsub message type")

// RedemptionAddType is the subscription type for new channel point redemptions.
const RedemptionAddType = "channel.channel_points_custom_reward_redemption.add"

// MessageType is the metadata.message_type of a websocket frame.
type MessageType string

const (
	MessageWelcome      MessageType = "session_welcome"
	MessageKeepalive    MessageType = "session_keepalive"
	MessageNotification MessageType = "notification"
	MessageReconnect    MessageType = "session_reconnect"
	MessageRevocation   MessageType = "revocation"
)

type Metadata struct {
	MessageID           string      `json:"message_id"`
	MessageType         MessageType `json:"message_type"`
	MessageTimestamp    time.Time   `json:"message_timestamp"`
	SubscriptionType    string      `json:"subscription_type,omitempty"`
	SubscriptionVersion string      `json:"subscription_version,omitempty"`
}

// Session describes the websocket session Twitch assigned to the connection.
type Session struct {
	ID                      string    `json:"id"`
	Status                  string    `json:"status"`
	ConnectedAt             time.Time `json:"connected_at"`
	KeepaliveTimeoutSeconds int       `json:"keepalive_timeout_seconds"`
	ReconnectURL            string    `json:"reconnect_url"`
}

type Subscription struct {
	ID        string            `json:"id"`
	Status    string            `json:"status"`
	Type      string            `json:"type"`
	Version   string            `json:"version"`
	Cost      int               `json:"cost"`
	Condition map[string]string `json:"condition"`
	Transport Transport         `json:"transport"`
	CreatedAt time.Time         `json:"created_at"`
}

// Transport is where Twitch delivers a subscription's notifications.
type Transport struct {
	Method    string `json:"method"`
	SessionID string `json:"session_id"`
}

// Message is one decoded websocket frame.
type Message struct {
	Metadata Metadata
	Payload  Payload
}

// Payload is one of Welcome, Keepalive, Notification, Reconnect or Revocation.
type Payload interface {
	payload()
}

type Welcome struct {
	Session Session
}

type Keepalive struct{}

type Notification struct {
	Subscription Subscription
	Event        Event
}

type Reconnect struct {
	Session Session
}

type Revocation struct {
	Subscription Subscription
}

func (Welcome) payload()      {}
func (Keepalive) payload()    {}
func (Notification) payload() {}
func (Reconnect) payload()    {}
func (Revocation) payload()   {}

// Event is the body of a notification: RedemptionAdd or GenericEvent.
type Event interface {
	event()
}

// RedemptionAdd is a viewer redeeming a custom reward.
type RedemptionAdd struct {
	ID                   string                 `json:"id"`
	BroadcasterUserID    string                 `json:"broadcaster_user_id"`
	BroadcasterUserLogin string                 `json:"broadcaster_user_login"`
	BroadcasterUserName  string                 `json:"broadcaster_user_name"`
	UserID               string                 `json:"user_id"`
	UserLogin            string                 `json:"user_login"`
	UserName             string                 `json:"user_name"`
	UserInput            string                 `json:"user_input"`
	Status               types.RedemptionStatus `json:"status"`
	Reward               types.SimpleReward     `json:"reward"`
	RedeemedAt           time.Time              `json:"redeemed_at"`
}

// GenericEvent holds the raw fields of events the bot does not act on.
type GenericEvent map[string]any

func (RedemptionAdd) event() {}
func (GenericEvent) event()  {}

// Redemption converts the event to the shape returned by the Helix API.
func (r RedemptionAdd) Redemption() types.Redemption {
	return types.Redemption{
		ID:               r.ID,
		BroadcasterID:    r.BroadcasterUserID,
		BroadcasterLogin: r.BroadcasterUserLogin,
		BroadcasterName:  r.BroadcasterUserName,
		UserID:           r.UserID,
		UserLogin:        r.UserLogin,
		UserName:         r.UserName,
		UserInput:        r.UserInput,
		Status:           r.Status,
		RedeemedAt:       r.RedeemedAt,
		Reward:           r.Reward,
	}
}

type envelope struct {
	Metadata Metadata        `json:"metadata"`
	Payload  json.RawMessage `json:"payload"`
}

type sessionPayload struct {
	Session Session `json:"session"`
}

type notificationPayload struct {
	Subscription Subscription    `json:"subscription"`
	Event        json.RawMessage `json:"event"`
}

type revocationPayload struct {
	Subscription Subscription `json:"subscription"`
}

// Decode parses a websocket frame.
func Decode(data []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Message{}, fmt.Errorf("failed to parse eventsub frame: %w", err)
	}
	msg := Message{Metadata: env.Metadata}

	switch env.Metadata.MessageType {
	case MessageWelcome, MessageReconnect:
		var p sessionPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return Message{}, fmt.Errorf("failed to parse %s payload: %w", env.Metadata.MessageType, err)
		}
		if env.Metadata.MessageType == MessageWelcome {
			msg.Payload = Welcome{Session: p.Session}
		} else {
			msg.Payload = Reconnect{Session: p.Session}
		}
	case MessageKeepalive:
		msg.Payload = Keepalive{}
	case MessageNotification:
		n, err := decodeNotification(env.Payload)
		if err != nil {
			return Message{}, err
		}
		msg.Payload = n
	case MessageRevocation:
		var p revocationPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return Message{}, fmt.Errorf("failed to parse revocation payload: %w", err)
		}
		msg.Payload = Revocation{Subscription: p.Subscription}
	default:
		return Message{}, fmt.Errorf("%w: %q", ErrUnknownMessageType, env.Metadata.MessageType)
	}

	return msg, nil
}

func decodeNotification(raw json.RawMessage) (Notification, error) {
	var p notificationPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return Notification{}, fmt.Errorf("failed to parse notification payload: %w", err)
	}

	n := Notification{Subscription: p.Subscription}
	if p.Subscription.Type == RedemptionAddType {
		var event RedemptionAdd
		if err := json.Unmarshal(p.Event, &event); err != nil {
			return Notification{}, fmt.Errorf("failed to parse redemption event: %w", err)
		}
		n.Event = event
		return n, nil
	}

	event := GenericEvent{}
	if len(p.Event) > 0 {
		if err := json.Unmarshal(p.Event, &event); err != nil {
			return Notification{}, fmt.Errorf("failed to parse %s event: %w", p.Subscription.Type, err)
		}
	}
	n.Event = event
	return n, nil
}
