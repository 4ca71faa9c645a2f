package models

type Membership string

const (
	MembershipInvite Membership = "invite"
	MembershipJoin   Membership = "join"
	MembershipKnock  Membership = "knock"
	MembershipLeave  Membership = "leave"
	MembershipBan    Membership = "ban"
)

// Known reports whether m is one of the five membership states.
func (m Membership) Known() bool {
	switch m {
	case MembershipInvite, MembershipJoin, MembershipKnock, MembershipLeave, MembershipBan:
		return true
	}
	return false
}

type CreateContent struct {
	Creator      string `json:"creator,omitempty"`
	Federate     *bool  `json:"m.federate,omitempty"`
	RoomVersion  string `json:"room_version,omitempty"`
	Type         string `json:"type,omitempty"`
	Pfennigfuchs bool   `json:"pfennigfuchs,omitempty"`
	OneOnOne     bool   `json:"pf_oneonone,omitempty"`
}

type MemberContent struct {
	Membership   Membership         `json:"membership"`
	DisplayName  string             `json:"displayname,omitempty"`
	AvatarURL    string             `json:"avatar_url,omitempty"`
	Pfennigfuchs *GlobalAccountData `json:"pfennigfuchs,omitempty"`
}

type NameContent struct {
	Name        string `json:"name"`
	AvatarURL   string `json:"pf_avatar_url,omitempty"`
	Description string `json:"pf_room_description,omitempty"`
}

type SpaceChildContent struct {
	Via       []string `json:"via,omitempty"`
	Canonical bool     `json:"canonical,omitempty"`
}

type TopicContent struct {
	Topic string `json:"topic"`
}

const (
	MsgTypeText = "m.text"

	FormatPayment = "pf.payment_data"
	FormatInitial = "pf.initial"
)

// MessageContent is the content of an m.room.message event. Ledger entries
// carry their JSON payload as a string in FormattedBody.
type MessageContent struct {
	Body          string `json:"body"`
	MsgType       string `json:"msgtype"`
	Format        string `json:"format,omitempty"`
	FormattedBody string `json:"formatted_body,omitempty"`
}
