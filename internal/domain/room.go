package domain

type (
	RoomID         string
	ConversationID string
)

// UserRoom names the multicast group holding every live session of one user.
// A session joins its user room once, at authentication, and never leaves it.
func UserRoom(uid UserID) RoomID {
	return RoomID("user:" + string(uid))
}

// ConversationRoom names the multicast group of sessions that currently have
// a conversation open. Participant membership stays authoritative in the
// persistence collaborator; this is only the live-delivery set.
func ConversationRoom(cid ConversationID) RoomID {
	return RoomID("conv:" + string(cid))
}
