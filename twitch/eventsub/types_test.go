package eventsub

import (
	"testing"

	"github.com/Soypete/clackbot/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const welcomeFrame = `{
  "metadata": {"message_id": "96a3f3b5", "message_type": "session_welcome", "message_timestamp": "2023-07-19T14:56:51.634234626Z"},
  "payload": {"session": {"id": "AQoQILE98gtqShGmLD7AM6yJThAB", "status": "connected", "connected_at": "2023-07-19T14:56:51.616329898Z", "keepalive_timeout_seconds": 10, "reconnect_url": null}}
}`

const redemptionFrame = `{
  "metadata": {"message_id": "befa7b53", "message_type": "notification", "message_timestamp": "2023-07-19T10:11:12.464757833Z", "subscription_type": "channel.channel_points_custom_reward_redemption.add", "subscription_version": "1"},
  "payload": {
    "subscription": {"id": "f1c2a387", "status": "enabled", "type": "channel.channel_points_custom_reward_redemption.add", "version": "1", "cost": 0, "condition": {"broadcaster_user_id": "1337"}, "created_at": "2023-07-15T17:16:03.17106713Z"},
    "event": {
      "id": "17fa2df1-ad76-4804-bfa5-a40ef63efe63",
      "broadcaster_user_id": "1337", "broadcaster_user_login": "soypetetech", "broadcaster_user_name": "SoyPeteTech",
      "user_id": "9001", "user_login": "purryoverlord", "user_name": "PurryOverlord",
      "user_input": "", "status": "unfulfilled",
      "reward": {"id": "92af127c", "title": "10 Clacks", "cost": 350, "prompt": "10 Clacks"},
      "redeemed_at": "2023-07-19T10:11:12.123Z"
    }
  }
}`

func TestDecodeWelcome(t *testing.T) {
	msg, err := Decode([]byte(welcomeFrame))
	require.NoError(t, err)

	assert.Equal(t, MessageWelcome, msg.Metadata.MessageType)
	welcome, ok := msg.Payload.(Welcome)
	require.True(t, ok)
	assert.Equal(t, "AQoQILE98gtqShGmLD7AM6yJThAB", welcome.Session.ID)
	assert.Equal(t, 10, welcome.Session.KeepaliveTimeoutSeconds)
	assert.Empty(t, welcome.Session.ReconnectURL)
}

func TestDecodeRedemption(t *testing.T) {
	msg, err := Decode([]byte(redemptionFrame))
	require.NoError(t, err)

	n, ok := msg.Payload.(Notification)
	require.True(t, ok)
	assert.Equal(t, RedemptionAddType, n.Subscription.Type)

	event, ok := n.Event.(RedemptionAdd)
	require.True(t, ok)
	redemption := event.Redemption()
	assert.Equal(t, "17fa2df1-ad76-4804-bfa5-a40ef63efe63", redemption.ID)
	assert.Equal(t, "9001", redemption.UserID)
	assert.Equal(t, "purryoverlord", redemption.UserLogin)
	assert.Equal(t, types.SimpleReward{ID: "92af127c", Title: "10 Clacks", Cost: 350, Prompt: "10 Clacks"}, redemption.Reward)
}

func TestDecodeOtherFrames(t *testing.T) {
	tests := []struct {
		name  string
		frame string
		check func(t *testing.T, p Payload)
	}{
		{
			name:  "keepalive",
			frame: `{"metadata":{"message_id":"1","message_type":"session_keepalive","message_timestamp":"2023-07-19T10:11:12Z"},"payload":{}}`,
			check: func(t *testing.T, p Payload) { assert.IsType(t, Keepalive{}, p) },
		},
		{
			name:  "reconnect",
			frame: `{"metadata":{"message_id":"2","message_type":"session_reconnect","message_timestamp":"2023-07-19T10:11:12Z"},"payload":{"session":{"id":"abc","status":"reconnecting","keepalive_timeout_seconds":null,"reconnect_url":"wss://eventsub.wss.twitch.tv?id=abc","connected_at":"2023-07-19T10:11:12Z"}}}`,
			check: func(t *testing.T, p Payload) {
				r, ok := p.(Reconnect)
				require.True(t, ok)
				assert.Equal(t, "wss://eventsub.wss.twitch.tv?id=abc", r.Session.ReconnectURL)
			},
		},
		{
			name:  "revocation",
			frame: `{"metadata":{"message_id":"3","message_type":"revocation","message_timestamp":"2023-07-19T10:11:12Z","subscription_type":"channel.follow"},"payload":{"subscription":{"id":"s","status":"authorization_revoked","type":"channel.follow","version":"1"}}}`,
			check: func(t *testing.T, p Payload) {
				r, ok := p.(Revocation)
				require.True(t, ok)
				assert.Equal(t, "authorization_revoked", r.Subscription.Status)
			},
		},
		{
			name:  "notification for another event type",
			frame: `{"metadata":{"message_id":"4","message_type":"notification","message_timestamp":"2023-07-19T10:11:12Z"},"payload":{"subscription":{"type":"channel.follow","version":"2"},"event":{"user_login":"owesome"}}}`,
			check: func(t *testing.T, p Payload) {
				n, ok := p.(Notification)
				require.True(t, ok)
				assert.Equal(t, GenericEvent{"user_login": "owesome"}, n.Event)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := Decode([]byte(tt.frame))
			require.NoError(t, err)
			tt.check(t, msg.Payload)
		})
	}
}

func TestDecodeErrors(t *testing.T) {
	_, err := Decode([]byte(`{"metadata":{"message_type":"session_party"},"payload":{}}`))
	assert.ErrorIs(t, err, ErrUnknownMessageType)

	_, err = Decode([]byte(`not json`))
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrUnknownMessageType)
}
