package models

// CallType is the media kind of a call
type CallType string

const (
	CallTypeVoice CallType = "voice"
	CallTypeVideo CallType = "video"
)

// CallMode distinguishes 1:1 calls from group calls
type CallMode string

const (
	CallModePrivate CallMode = "private"
	CallModeGroup   CallMode = "group"
)

// SignalKind is the WebRTC negotiation message being relayed
type SignalKind string

const (
	SignalOffer        SignalKind = "offer"
	SignalAnswer       SignalKind = "answer"
	SignalICECandidate SignalKind = "ice-candidate"
)

// MediaHint is an out-of-band call control relayed to the other legs
type MediaHint string

const (
	HintMute          MediaHint = "call:mute"
	HintVideoToggle   MediaHint = "call:video:toggle"
	HintSpeakerToggle MediaHint = "call:speaker:toggle"
)

// Reasons carried in call ended/left notifications
const (
	ReasonEnded                = "ended"
	ReasonCancelled            = "cancelled"
	ReasonNoAnswer             = "no_answer"
	ReasonNoParticipantsJoined = "no_participants_joined"
	ReasonNoParticipants       = "no_participants"
	ReasonTimeout              = "timeout"
	ReasonDisconnected         = "disconnected"
	ReasonShutdown             = "shutdown"
)
