package types

import "time"

// RedemptionStatus is the fulfillment state Twitch tracks for a redemption.
type RedemptionStatus string

const (
	RedemptionUnfulfilled RedemptionStatus = "UNFULFILLED"
	RedemptionFulfilled   RedemptionStatus = "FULFILLED"
	RedemptionCanceled    RedemptionStatus = "CANCELED"
)

// SimpleReward is the reward summary embedded in redemptions.
type SimpleReward struct {
	ID     string `json:"id"`
	Title  string `json:"title"`
	Prompt string `json:"prompt"`
	Cost   int    `json:"cost"`
}

// Redemption is a viewer's channel points claim waiting to be fulfilled.
type Redemption struct {
	ID               string           `json:"id"`
	BroadcasterID    string           `json:"broadcaster_id"`
	BroadcasterLogin string           `json:"broadcaster_login"`
	BroadcasterName  string           `json:"broadcaster_name"`
	UserID           string           `json:"user_id"`
	UserLogin        string           `json:"user_login"`
	UserName         string           `json:"user_name"`
	UserInput        string           `json:"user_input"`
	Status           RedemptionStatus `json:"status"`
	RedeemedAt       time.Time        `json:"redeemed_at"`
	Reward           SimpleReward     `json:"reward"`
}

// Image is a set of reward icon URLs.
type Image struct {
	URL1x string `json:"url_1x,omitempty"`
	URL2x string `json:"url_2x,omitempty"`
	URL4x string `json:"url_4x,omitempty"`
}

// MaxPerStreamSetting caps redemptions per stream.
type MaxPerStreamSetting struct {
	IsEnabled    bool `json:"is_enabled"`
	MaxPerStream int  `json:"max_per_stream"`
}

// MaxPerUserPerStreamSetting caps redemptions per user per stream.
type MaxPerUserPerStreamSetting struct {
	IsEnabled           bool `json:"is_enabled"`
	MaxPerUserPerStream int  `json:"max_per_user_per_stream"`
}

// GlobalCooldownSetting is the cooldown between redemptions of a reward.
type GlobalCooldownSetting struct {
	IsEnabled             bool `json:"is_enabled"`
	GlobalCooldownSeconds int  `json:"global_cooldown_seconds"`
}

// Reward is a custom channel points reward as returned by Twitch.
type Reward struct {
	ID                                string                     `json:"id"`
	BroadcasterID                     string                     `json:"broadcaster_id"`
	BroadcasterLogin                  string                     `json:"broadcaster_login"`
	BroadcasterName                   string                     `json:"broadcaster_name"`
	Title                             string                     `json:"title"`
	Prompt                            string                     `json:"prompt"`
	Cost                              int                        `json:"cost"`
	Image                             *Image                     `json:"image"`
	DefaultImage                      Image                      `json:"default_image"`
	BackgroundColor                   string                     `json:"background_color"`
	IsEnabled                         bool                       `json:"is_enabled"`
	IsUserInputRequired               bool                       `json:"is_user_input_required"`
	MaxPerStreamSetting               MaxPerStreamSetting        `json:"max_per_stream_setting"`
	MaxPerUserPerStreamSetting        MaxPerUserPerStreamSetting `json:"max_per_user_per_stream_setting"`
	GlobalCooldownSetting             GlobalCooldownSetting      `json:"global_cooldown_setting"`
	IsPaused                          bool                       `json:"is_paused"`
	IsInStock                         bool                       `json:"is_in_stock"`
	ShouldRedemptionsSkipRequestQueue bool                       `json:"should_redemptions_skip_request_queue"`
	RedemptionsRedeemedCurrentStream  *int                       `json:"redemptions_redeemed_current_stream"`
	CooldownExpiresAt                 *time.Time                 `json:"cooldown_expires_at"`
}

// RewardSettings is the create request body for a custom reward.
type RewardSettings struct {
	Title                             string `json:"title"`
	Cost                              int    `json:"cost"`
	Prompt                            string `json:"prompt,omitempty"`
	IsEnabled                         bool   `json:"is_enabled"`
	BackgroundColor                   string `json:"background_color,omitempty"`
	Image                             *Image `json:"image,omitempty"`
	IsUserInputRequired               bool   `json:"is_user_input_required"`
	IsMaxPerStreamEnabled             bool   `json:"is_max_per_stream_enabled"`
	MaxPerStream                      int    `json:"max_per_stream,omitempty"`
	IsMaxPerUserPerStreamEnabled      bool   `json:"is_max_per_user_per_stream_enabled"`
	MaxPerUserPerStream               int    `json:"max_per_user_per_stream,omitempty"`
	IsGlobalCooldownEnabled           bool   `json:"is_global_cooldown_enabled"`
	GlobalCooldownSeconds             int    `json:"global_cooldown_seconds,omitempty"`
	ShouldRedemptionsSkipRequestQueue bool   `json:"should_redemptions_skip_request_queue"`
}
