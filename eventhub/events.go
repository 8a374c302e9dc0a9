package eventhub

import (
	"fmt"
	"time"
)

// Server-to-client invocation targets.
const (
	TargetParticipantStatus      = "ParticipantStatusMessage"
	TargetEndpointStatus         = "EndpointStatusMessage"
	TargetConferenceStatus       = "ConferenceStatusMessage"
	TargetCountdownFinished      = "CountdownFinished"
	TargetReceiveMessage         = "ReceiveMessage"
	TargetAdminAnsweredChat      = "AdminAnsweredChat"
	TargetReceiveHeartbeat       = "ReceiveHeartbeat"
	TargetHearingTransfer        = "HearingTransfer"
	TargetParticipantMediaStatus = "ParticipantMediaStatusMessage"
	TargetHearingLayoutChanged   = "HearingLayoutChanged"
)

// Client-to-server invocation targets.
const (
	TargetSendMessage     = "SendMessage"
	TargetSendHeartbeat   = "SendHeartbeat"
	TargetSendMediaStatus = "SendMediaDeviceStatus"
)

// Event is one decoded server message. The set of implementations is closed;
// consumers switch on the concrete type.
type Event interface {
	// Target returns the invocation target the event was decoded from.
	Target() string

	isEvent()
}

// ParticipantStatus is a participant's presence in a conference.
type ParticipantStatus string

const (
	ParticipantNotSignedIn    ParticipantStatus = "NotSignedIn"
	ParticipantJoining        ParticipantStatus = "Joining"
	ParticipantAvailable      ParticipantStatus = "Available"
	ParticipantInHearing      ParticipantStatus = "InHearing"
	ParticipantInConsultation ParticipantStatus = "InConsultation"
	ParticipantDisconnected   ParticipantStatus = "Disconnected"
	ParticipantUnableToJoin   ParticipantStatus = "UnableToJoin"
)

// EndpointStatus is a video endpoint's presence in a conference.
type EndpointStatus string

const (
	EndpointNotYetJoined   EndpointStatus = "NotYetJoined"
	EndpointConnected      EndpointStatus = "Connected"
	EndpointDisconnected   EndpointStatus = "Disconnected"
	EndpointInConsultation EndpointStatus = "InConsultation"
)

// ConferenceStatus is the state of the hearing itself.
type ConferenceStatus string

const (
	ConferenceNotStarted ConferenceStatus = "NotStarted"
	ConferenceInSession  ConferenceStatus = "InSession"
	ConferencePaused     ConferenceStatus = "Paused"
	ConferenceSuspended  ConferenceStatus = "Suspended"
	ConferenceClosed     ConferenceStatus = "Closed"
)

// HeartbeatHealth summarizes a participant's media quality.
type HeartbeatHealth string

const (
	HeartbeatNone HeartbeatHealth = "None"
	HeartbeatGood HeartbeatHealth = "Good"
	HeartbeatPoor HeartbeatHealth = "Poor"
	HeartbeatBad  HeartbeatHealth = "Bad"
)

// TransferDirection tells whether a participant moved into or out of the
// hearing room.
type TransferDirection string

const (
	TransferIn  TransferDirection = "In"
	TransferOut TransferDirection = "Out"
)

// ParticipantStatusMessage reports a participant status change.
type ParticipantStatusMessage struct {
	ParticipantID string
	Username      string
	ConferenceID  string
	Status        ParticipantStatus
	Reason        string
}

// EndpointStatusMessage reports an endpoint status change.
type EndpointStatusMessage struct {
	EndpointID   string
	ConferenceID string
	Status       EndpointStatus
}

// ConferenceStatusMessage reports a hearing status change.
type ConferenceStatusMessage struct {
	ConferenceID string
	Status       ConferenceStatus
}

// CountdownFinishedMessage signals the start-of-hearing countdown ended.
type CountdownFinishedMessage struct {
	ConferenceID string
}

// ChatMessage is an instant message delivered to this client.
type ChatMessage struct {
	ConferenceID    string
	From            string
	FromDisplayName string
	To              string
	Message         string
	Timestamp       time.Time
	MessageID       string
}

// AdminAnsweredChatMessage signals an admin replied to a participant chat.
type AdminAnsweredChatMessage struct {
	ConferenceID  string
	ParticipantID string
}

// HeartbeatMessage is a participant media heartbeat relayed by the hub.
type HeartbeatMessage struct {
	ConferenceID  string
	ParticipantID string
	Health        HeartbeatHealth
	Browser       string
	BrowserVer    string
	OS            string
	OSVer         string
}

// HearingTransferMessage reports a participant moved in or out of the room.
type HearingTransferMessage struct {
	ConferenceID  string
	ParticipantID string
	Direction     TransferDirection
}

// MediaStatus is a participant's local mute state.
type MediaStatus struct {
	AudioMuted bool `json:"is_local_audio_muted" cbor:"is_local_audio_muted"`
	VideoMuted bool `json:"is_local_video_muted" cbor:"is_local_video_muted"`
}

// ParticipantMediaStatusMessage reports a participant's mute state.
type ParticipantMediaStatusMessage struct {
	ParticipantID string
	ConferenceID  string
	Media         MediaStatus
}

// HearingLayoutChangedMessage reports a change of the hearing screen layout.
type HearingLayoutChangedMessage struct {
	ConferenceID string
	ChangedBy    string
	NewLayout    string
	OldLayout    string
}

func (ParticipantStatusMessage) Target() string      { return TargetParticipantStatus }
func (EndpointStatusMessage) Target() string         { return TargetEndpointStatus }
func (ConferenceStatusMessage) Target() string       { return TargetConferenceStatus }
func (CountdownFinishedMessage) Target() string      { return TargetCountdownFinished }
func (ChatMessage) Target() string                   { return TargetReceiveMessage }
func (AdminAnsweredChatMessage) Target() string      { return TargetAdminAnsweredChat }
func (HeartbeatMessage) Target() string              { return TargetReceiveHeartbeat }
func (HearingTransferMessage) Target() string        { return TargetHearingTransfer }
func (ParticipantMediaStatusMessage) Target() string { return TargetParticipantMediaStatus }
func (HearingLayoutChangedMessage) Target() string   { return TargetHearingLayoutChanged }

func (ParticipantStatusMessage) isEvent()      {}
func (EndpointStatusMessage) isEvent()         {}
func (ConferenceStatusMessage) isEvent()       {}
func (CountdownFinishedMessage) isEvent()      {}
func (ChatMessage) isEvent()                   {}
func (AdminAnsweredChatMessage) isEvent()      {}
func (HeartbeatMessage) isEvent()              {}
func (HearingTransferMessage) isEvent()        {}
func (ParticipantMediaStatusMessage) isEvent() {}
func (HearingLayoutChangedMessage) isEvent()   {}

// decodeEvent maps an invocation onto its Event type.
func decodeEvent(codec Codec, inv Invocation) (Event, error) {
	a := arguments{codec: codec, target: inv.Target, raw: inv.Arguments}

	switch inv.Target {
	case TargetParticipantStatus:
		var e ParticipantStatusMessage
		return e, a.scan(&e.ParticipantID, &e.Username, &e.ConferenceID, &e.Status, &e.Reason)
	case TargetEndpointStatus:
		var e EndpointStatusMessage
		return e, a.scan(&e.EndpointID, &e.ConferenceID, &e.Status)
	case TargetConferenceStatus:
		var e ConferenceStatusMessage
		return e, a.scan(&e.ConferenceID, &e.Status)
	case TargetCountdownFinished:
		var e CountdownFinishedMessage
		return e, a.scan(&e.ConferenceID)
	case TargetReceiveMessage:
		var e ChatMessage
		return e, a.scan(&e.ConferenceID, &e.From, &e.FromDisplayName, &e.To, &e.Message, &e.Timestamp, &e.MessageID)
	case TargetAdminAnsweredChat:
		var e AdminAnsweredChatMessage
		return e, a.scan(&e.ConferenceID, &e.ParticipantID)
	case TargetReceiveHeartbeat:
		var e HeartbeatMessage
		return e, a.scan(&e.ConferenceID, &e.ParticipantID, &e.Health, &e.Browser, &e.BrowserVer, &e.OS, &e.OSVer)
	case TargetHearingTransfer:
		var e HearingTransferMessage
		return e, a.scan(&e.ConferenceID, &e.ParticipantID, &e.Direction)
	case TargetParticipantMediaStatus:
		var e ParticipantMediaStatusMessage
		return e, a.scan(&e.ParticipantID, &e.ConferenceID, &e.Media)
	case TargetHearingLayoutChanged:
		var e HearingLayoutChangedMessage
		return e, a.scan(&e.ConferenceID, &e.ChangedBy, &e.NewLayout, &e.OldLayout)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, inv.Target)
	}
}

// arguments decodes positional invocation arguments.
type arguments struct {
	codec  Codec
	target string
	raw    [][]byte
}

func (a arguments) scan(dst ...any) error {
	if len(a.raw) < len(dst) {
		return fmt.Errorf("%w: %s expects %d arguments, got %d", ErrMalformedEvent, a.target, len(dst), len(a.raw))
	}
	for i, d := range dst {
		if err := a.codec.UnmarshalArgument(a.raw[i], d); err != nil {
			return fmt.Errorf("%w: %s argument %d: %v", ErrMalformedEvent, a.target, i, err)
		}
	}
	return nil
}
