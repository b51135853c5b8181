package domain

import "encoding/json"

// Envelope is the kind-tagged wire message exchanged over a session.
// Inbound commands carry TargetUserID/ConversationID as needed; outbound
// events mirror the shape with FromUserID attached by the server. Clients
// never get to choose FromUserID — the relay overwrites it with the
// authenticated identity of the originating session.
type Envelope struct {
	Kind           string          `json:"kind"`
	ConversationID ConversationID  `json:"conversationId,omitempty"`
	TargetUserID   UserID          `json:"targetUserId,omitempty"`
	FromUserID     UserID          `json:"fromUserId,omitempty"`
	Payload        json.RawMessage `json:"payload,omitempty"`
}

// Inbound command kinds.
const (
	KindAuthenticate = "authenticate"
	KindHeartbeat    = "heartbeat"
	KindPing         = "ping"
	KindJoinRoom     = "join-room"
	KindLeaveRoom    = "leave-room"
	KindStartTyping  = "start-typing"
	KindStopTyping   = "stop-typing"
	KindCallEnd      = "call-end"
	KindCallReject   = "call-reject"
)

// Signaling kinds, relayed verbatim between peers.
const (
	KindOffer     = "offer"
	KindAnswer    = "answer"
	KindCandidate = "network-candidate"
)

// Outbound event kinds.
const (
	KindAuthenticated  = "authenticated"
	KindPong           = "pong"
	KindError          = "error"
	KindOnline         = "online"
	KindOffline        = "offline"
	KindOnlineUsers    = "online-users"
	KindUserTyping     = "user-typing"
	KindUserStopTyping = "user-stopped-typing"
	KindCallEnded      = "call-ended"
	KindCallRejected   = "call-rejected"
)

// IsSignaling reports whether kind is one of the relayed handshake kinds.
func IsSignaling(kind string) bool {
	return kind == KindOffer || kind == KindAnswer || kind == KindCandidate
}

type AuthPayload struct {
	Token string `json:"token"`
}

type TypingPayload struct {
	UserID      UserID `json:"userId"`
	DisplayName string `json:"displayName,omitempty"`
}

type PresencePayload struct {
	UserID UserID `json:"userId"`
}

type OfferPayload struct {
	SDP         string `json:"sdp"`
	DisplayName string `json:"displayName,omitempty"`
}

type AnswerPayload struct {
	SDP string `json:"sdp"`
}

type CandidatePayload struct {
	Candidate     string  `json:"candidate"`
	SDPMid        *string `json:"sdpMid,omitempty"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex,omitempty"`
}

type ErrorPayload struct {
	Reason string `json:"reason"`
}

type AuthenticatedPayload struct {
	UserID      UserID `json:"userId"`
	DisplayName string `json:"displayName,omitempty"`
}

type OnlineUsersPayload struct {
	Users []UserID `json:"users"`
}

// MustPayload marshals v for use as an Envelope payload. The payload structs
// above contain nothing json.Marshal can fail on.
func MustPayload(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}
