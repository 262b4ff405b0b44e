// Package control implements the control channel's JSON message envelope:
// presence, file-ops, approval, kick, summon, and focus, relayed verbatim
// between sockets of the same room except where routing fields (user id,
// approval, permission) must be inspected. Descended from the teacher's
// tunnelproto.Message discriminated-union idiom, generalized from a fixed
// Kind-keyed struct to a thin envelope that preserves the original bytes
// for verbatim relay.
package control

import "encoding/json"

// Inbound and server-emitted message types.
const (
	TypeFileOp         = "file-op"
	TypePresenceUpdate = "presence-update"
	TypeFollowUpdate   = "follow-update"
	TypeSessionEnd     = "session-end"
	TypeJoinRequest    = "join-request"
	TypeJoinResponse   = "join-response"
	TypeFocusRequest   = "focus-request"
	TypeSummon         = "summon"
	TypeKick           = "kick"

	// Server-emitted only.
	TypeKicked        = "kicked"
	TypePresenceLeave = "presence-leave"
)

// TargetAll is the sentinel "everyone" value for summon's targetUserId.
const TargetAll = "__all__"

// Envelope captures the routing-relevant fields of an inbound control
// message while retaining the original bytes so file-op and similar
// payloads can be relayed verbatim without being fully modeled.
type Envelope struct {
	Type         string `json:"type"`
	UserID       string `json:"userId,omitempty"`
	DisplayName  string `json:"displayName,omitempty"`
	AvatarURL    string `json:"avatarUrl,omitempty"`
	TargetUserID string `json:"targetUserId,omitempty"`
	Approved     *bool  `json:"approved,omitempty"`
	Permission   string `json:"permission,omitempty"`

	raw []byte
}

// Parse decodes a control message. An unparseable body or a JSON array,
// string, number or boolean yields an error; a JSON null decodes to an
// envelope with an empty Type. The caller silently drops both per spec §4.4.
func Parse(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, err
	}
	env.raw = raw
	return env, nil
}

// Raw returns the original wire bytes, for verbatim relay.
func (e Envelope) Raw() []byte {
	return e.raw
}

// IsKnownType reports whether t is one of the allowed inbound types.
func IsKnownType(t string) bool {
	switch t {
	case TypeFileOp, TypePresenceUpdate, TypeFollowUpdate, TypeSessionEnd,
		TypeJoinRequest, TypeJoinResponse, TypeFocusRequest, TypeSummon, TypeKick:
		return true
	default:
		return false
	}
}

// JoinRequestPayload builds the payload forwarded to the host on a
// join-request.
func JoinRequestPayload(userID, displayName, avatarURL string) []byte {
	b, _ := json.Marshal(struct {
		Type        string `json:"type"`
		UserID      string `json:"userId"`
		DisplayName string `json:"displayName"`
		AvatarURL   string `json:"avatarUrl,omitempty"`
	}{TypeJoinRequest, userID, displayName, avatarURL})
	return b
}

// JoinResponsePayload builds a join-response message for the target
// socket.
func JoinResponsePayload(approved bool, permission string) []byte {
	b, _ := json.Marshal(struct {
		Type       string `json:"type"`
		Approved   bool   `json:"approved"`
		Permission string `json:"permission,omitempty"`
	}{TypeJoinResponse, approved, permission})
	return b
}

// KickedPayload builds the message sent to a kicked socket before it is
// closed.
func KickedPayload() []byte {
	b, _ := json.Marshal(struct {
		Type string `json:"type"`
	}{TypeKicked})
	return b
}

// PresenceLeavePayload builds the message broadcast when a participant
// disconnects.
func PresenceLeavePayload(userID string) []byte {
	b, _ := json.Marshal(struct {
		Type   string `json:"type"`
		UserID string `json:"userId"`
	}{TypePresenceLeave, userID})
	return b
}
