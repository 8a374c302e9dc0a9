package eventhub

import (
	"context"

	"github.com/google/uuid"
)

// Heartbeat is the client's periodic media quality report.
type Heartbeat struct {
	OutgoingAudioPercentageLost       float64 `json:"outgoing_audio_percentage_lost" cbor:"outgoing_audio_percentage_lost"`
	OutgoingAudioPercentageLostRecent float64 `json:"outgoing_audio_percentage_lost_recent" cbor:"outgoing_audio_percentage_lost_recent"`
	IncomingAudioPercentageLost       float64 `json:"incoming_audio_percentage_lost" cbor:"incoming_audio_percentage_lost"`
	IncomingAudioPercentageLostRecent float64 `json:"incoming_audio_percentage_lost_recent" cbor:"incoming_audio_percentage_lost_recent"`
	OutgoingVideoPercentageLost       float64 `json:"outgoing_video_percentage_lost" cbor:"outgoing_video_percentage_lost"`
	OutgoingVideoPercentageLostRecent float64 `json:"outgoing_video_percentage_lost_recent" cbor:"outgoing_video_percentage_lost_recent"`
	IncomingVideoPercentageLost       float64 `json:"incoming_video_percentage_lost" cbor:"incoming_video_percentage_lost"`
	IncomingVideoPercentageLostRecent float64 `json:"incoming_video_percentage_lost_recent" cbor:"incoming_video_percentage_lost_recent"`
	Browser                           string  `json:"browser" cbor:"browser"`
	BrowserVersion                    string  `json:"browser_version" cbor:"browser_version"`
	OperatingSystem                   string  `json:"operating_system" cbor:"operating_system"`
	OperatingSystemVersion            string  `json:"operating_system_version" cbor:"operating_system_version"`
}

// SendChat sends an instant message and returns the message id it was sent
// under.
func (c *Channel) SendChat(ctx context.Context, conferenceID, to, message string) (string, error) {
	id := uuid.New().String()
	if err := c.Send(ctx, TargetSendMessage, conferenceID, message, to, id); err != nil {
		return "", err
	}
	return id, nil
}

// SendHeartbeat reports this participant's media quality.
func (c *Channel) SendHeartbeat(ctx context.Context, conferenceID, participantID string, hb Heartbeat) error {
	return c.Send(ctx, TargetSendHeartbeat, conferenceID, participantID, hb)
}

// SendMediaStatus reports this participant's mute state.
func (c *Channel) SendMediaStatus(ctx context.Context, conferenceID, participantID string, status MediaStatus) error {
	return c.Send(ctx, TargetSendMediaStatus, conferenceID, participantID, status)
}
