package models

type EventList struct {
	Events []ClientEvent `json:"events"`
}

type AccountData struct {
	Events []AccountDataEvent `json:"events"`
}

type Timeline struct {
	Events    []ClientEvent `json:"events"`
	Limited   bool          `json:"limited"`
	PrevBatch string        `json:"prev_batch,omitempty"`
}

type RoomSummary struct {
	Heroes             []string `json:"m.heroes,omitempty"`
	InvitedMemberCount int      `json:"m.invited_member_count,omitempty"`
	JoinedMemberCount  int      `json:"m.joined_member_count,omitempty"`
}

type UnreadNotifications struct {
	HighlightCount    int `json:"highlight_count"`
	NotificationCount int `json:"notification_count"`
}

type JoinedRoom struct {
	State               EventList           `json:"state"`
	Timeline            Timeline            `json:"timeline"`
	Summary             RoomSummary         `json:"summary"`
	UnreadNotifications UnreadNotifications `json:"unread_notifications"`
}

type InvitedRoom struct {
	InviteState EventList `json:"invite_state"`
}

type LeftRoom struct {
	State    EventList `json:"state"`
	Timeline Timeline  `json:"timeline"`
}

type Rooms struct {
	Join   map[string]JoinedRoom  `json:"join,omitempty"`
	Invite map[string]InvitedRoom `json:"invite,omitempty"`
	Leave  map[string]LeftRoom    `json:"leave,omitempty"`
}

type SyncResponse struct {
	NextBatch   string       `json:"next_batch"`
	AccountData *AccountData `json:"account_data,omitempty"`
	Rooms       *Rooms       `json:"rooms,omitempty"`
}

// MessagesResponse is one page of /rooms/{id}/messages.
type MessagesResponse struct {
	Chunk []ClientEvent `json:"chunk"`
	Start string        `json:"start"`
	End   string        `json:"end,omitempty"`
	State []ClientEvent `json:"state,omitempty"`
}

type EventFilter struct {
	Limit int      `json:"limit,omitempty"`
	Types []string `json:"types"`
}

type RoomEventFilter struct {
	LazyLoadMembers         bool `json:"lazy_load_members"`
	IncludeRedundantMembers bool `json:"include_redundant_members"`
	Limit                   int  `json:"limit,omitempty"`
}

type RoomFilter struct {
	NotRooms  []string         `json:"not_rooms"`
	Ephemeral *EventFilter     `json:"ephemeral,omitempty"`
	State     *RoomEventFilter `json:"state,omitempty"`
	Timeline  *RoomEventFilter `json:"timeline,omitempty"`
}

type Filter struct {
	AccountData *EventFilter `json:"account_data,omitempty"`
	Presence    *EventFilter `json:"presence,omitempty"`
	Room        *RoomFilter  `json:"room,omitempty"`
}

type InitialStateEvent struct {
	Type     string `json:"type"`
	StateKey string `json:"state_key"`
	Content  any    `json:"content"`
}

type PowerLevelOverride struct {
	UsersDefault int `json:"users_default"`
}

type CreateRoomRequest struct {
	CreationContent           map[string]any      `json:"creation_content,omitempty"`
	InitialState              []InitialStateEvent `json:"initial_state,omitempty"`
	Invite                    []string            `json:"invite,omitempty"`
	Name                      string              `json:"name,omitempty"`
	PowerLevelContentOverride *PowerLevelOverride `json:"power_level_content_override,omitempty"`
	Preset                    string              `json:"preset"`
	RoomVersion               string              `json:"room_version"`
	Topic                     string              `json:"topic,omitempty"`
	Visibility                string              `json:"visibility"`
}

type CreateRoomResponse struct {
	RoomID string `json:"room_id"`
}

type Profile struct {
	DisplayName string `json:"displayname,omitempty"`
	AvatarURL   string `json:"avatar_url,omitempty"`
}

type MembershipRequest struct {
	UserID string `json:"user_id,omitempty"`
	Reason string `json:"reason"`
}
