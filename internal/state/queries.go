package state

import (
	"sort"
	"strings"

	"github.com/kit-dsn/pfennigfuchs/internal/models"
)

func (r *Reconciler) createContent(roomID string) (models.CreateContent, bool) {
	s, ok := r.lookup(roomID, models.TypeCreate, "")
	if !ok {
		return models.CreateContent{}, false
	}
	c, ok := s.ev.(*models.CreateEvent)
	if !ok {
		return models.CreateContent{}, false
	}
	return c.Content, true
}

func (r *Reconciler) nameContent(roomID string) (models.NameContent, bool) {
	s, ok := r.lookup(roomID, models.TypeName, "")
	if !ok {
		return models.NameContent{}, false
	}
	n, ok := s.ev.(*models.NameEvent)
	if !ok {
		return models.NameContent{}, false
	}
	return n.Content, true
}

func (r *Reconciler) member(roomID, userID string) (*models.MemberEvent, bool) {
	s, ok := r.lookup(roomID, models.TypeMember, userID)
	if !ok {
		return nil, false
	}
	m, ok := s.ev.(*models.MemberEvent)
	return m, ok
}

func (r *Reconciler) isProductRoom(roomID string) bool {
	c, ok := r.createContent(roomID)
	return ok && c.Type != models.RoomTypeSpace && c.Pfennigfuchs
}

func (r *Reconciler) isWorkspace(roomID string) bool {
	c, ok := r.createContent(roomID)
	return ok && c.Type == models.RoomTypeSpace && c.Pfennigfuchs
}

// IsProductRoom reports whether the room was created by this product
// (and is not the workspace container).
func (r *Reconciler) IsProductRoom(roomID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.isProductRoom(roomID)
}

func (r *Reconciler) IsOneOnOne(roomID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.createContent(roomID)
	return ok && r.isProductRoom(roomID) && c.OneOnOne
}

func (r *Reconciler) IsWorkspace(roomID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.isWorkspace(roomID)
}

// IsProductRelated is true for product rooms and the workspace container.
func (r *Reconciler) IsProductRelated(roomID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.isProductRoom(roomID) || r.isWorkspace(roomID)
}

func (r *Reconciler) membersWith(roomID string, keep func(models.Membership) bool) []string {
	rm, ok := r.rooms[roomID]
	if !ok {
		return nil
	}
	var out []string
	for _, key := range sortedKeys(rm.tables[models.TypeMember]) {
		m, ok := rm.tables[models.TypeMember][key].ev.(*models.MemberEvent)
		if ok && keep(m.Content.Membership) {
			out = append(out, key)
		}
	}
	return out
}

// JoinedMembers returns the sorted ids of members with membership "join".
func (r *Reconciler) JoinedMembers(roomID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.joinedMembers(roomID)
}

func (r *Reconciler) joinedMembers(roomID string) []string {
	return r.membersWith(roomID, func(m models.Membership) bool { return m == models.MembershipJoin })
}

// Members returns the sorted ids of every member with a known membership
// status, including those who left or were banned.
func (r *Reconciler) Members(roomID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.members(roomID)
}

func (r *Reconciler) members(roomID string) []string {
	return r.membersWith(roomID, models.Membership.Known)
}

func (r *Reconciler) MemberDisplayName(roomID, userID string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.memberDisplayName(roomID, userID)
}

func (r *Reconciler) memberDisplayName(roomID, userID string) string {
	m, ok := r.member(roomID, userID)
	if !ok {
		return userID
	}
	if pf := m.Content.Pfennigfuchs; pf != nil && pf.UserInfo != nil && pf.UserInfo.DisplayName != "" {
		return pf.UserInfo.DisplayName
	}
	if m.Content.DisplayName != "" {
		return m.Content.DisplayName
	}
	return userID
}

// DisplayName resolves the name shown for a room: its metadata name, else
// the sorted display names of joined members, else the raw room id.
func (r *Reconciler) DisplayName(roomID string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.displayName(roomID)
}

func (r *Reconciler) displayName(roomID string) string {
	if n, ok := r.nameContent(roomID); ok && n.Name != "" {
		return n.Name
	}
	joined := r.joinedMembers(roomID)
	names := make([]string, 0, len(joined))
	for _, id := range joined {
		names = append(names, r.memberDisplayName(roomID, id))
	}
	sort.Strings(names)
	if s := strings.Join(names, ","); s != "" {
		return s
	}
	return roomID
}

func (r *Reconciler) RoomAvatar(roomID string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n, _ := r.nameContent(roomID)
	return n.AvatarURL
}

func (r *Reconciler) RoomDescription(roomID string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n, _ := r.nameContent(roomID)
	return n.Description
}

// MetadataForRequest returns the current name content, ready to be modified
// and sent back with an update.
func (r *Reconciler) MetadataForRequest(roomID string) models.NameContent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n, _ := r.nameContent(roomID)
	return n
}

// ContactInfo returns the user record a member published in this room.
func (r *Reconciler) ContactInfo(roomID, userID string) (models.UserInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.member(roomID, userID)
	if !ok || m.Content.Pfennigfuchs == nil || m.Content.Pfennigfuchs.UserInfo == nil {
		return models.UserInfo{}, false
	}
	return *m.Content.Pfennigfuchs.UserInfo, true
}

// PaymentInfo returns a copy of the payment methods a member published in this room.
func (r *Reconciler) PaymentInfo(roomID, userID string) (map[string]models.PaymentMethod, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.member(roomID, userID)
	if !ok || m.Content.Pfennigfuchs == nil || m.Content.Pfennigfuchs.PaymentInfo == nil {
		return nil, false
	}
	out := make(map[string]models.PaymentMethod, len(m.Content.Pfennigfuchs.PaymentInfo))
	for k, v := range m.Content.Pfennigfuchs.PaymentInfo {
		out[k] = v
	}
	return out, true
}

// MemberEvent returns the current member event of userID.
func (r *Reconciler) MemberEvent(roomID, userID string) (*models.MemberEvent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.member(roomID, userID)
}

// Rooms returns every known room id, sorted.
func (r *Reconciler) Rooms() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.rooms)
}

// ProductRooms returns product room ids ordered by display name.
func (r *Reconciler) ProductRooms() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	for _, id := range sortedKeys(r.rooms) {
		if r.isProductRoom(id) {
			out = append(out, id)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return r.displayName(out[i]) < r.displayName(out[j])
	})
	return out
}

// WorkspaceID returns the workspace container room. When several rooms are
// flagged, the lowest id wins.
func (r *Reconciler) WorkspaceID() (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.workspaceID()
}

func (r *Reconciler) workspaceID() (string, bool) {
	for _, id := range sortedKeys(r.rooms) {
		if r.isWorkspace(id) {
			return id, true
		}
	}
	return "", false
}

// RoomsMissingFromWorkspace lists product rooms that are not yet linked as a
// child of the workspace. Without a workspace there is nothing to link into.
func (r *Reconciler) RoomsMissingFromWorkspace() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	space, ok := r.workspaceID()
	if !ok {
		return nil
	}
	children := r.rooms[space].tables[models.TypeSpaceChild]
	var out []string
	for _, id := range sortedKeys(r.rooms) {
		if id == space || !r.isProductRoom(id) {
			continue
		}
		if _, linked := children[id]; !linked {
			out = append(out, id)
		}
	}
	return out
}

// OneOnOneLeftMember returns the member that left a one-on-one room, if any.
func (r *Reconciler) OneOnOneLeftMember(roomID string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	left := r.membersWith(roomID, func(m models.Membership) bool { return m == models.MembershipLeave })
	if len(left) >= 2 {
		return "", ErrCorruptOneOnOne
	}
	if len(left) == 0 {
		return "", nil
	}
	return left[0], nil
}

// OneOnOneOther returns the participant of a one-on-one room that is not me.
func (r *Reconciler) OneOnOneOther(roomID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, id := range r.members(roomID) {
		if id != r.myID {
			return id, true
		}
	}
	return "", false
}

// AllContacts collects joined members (other than me) of product rooms and
// of rooms with exactly two joined members.
func (r *Reconciler) AllContacts() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[string]struct{})
	for id := range r.rooms {
		joined := r.joinedMembers(id)
		if !r.isProductRoom(id) && len(joined) != 2 {
			continue
		}
		for _, m := range joined {
			if m != r.myID {
				seen[m] = struct{}{}
			}
		}
	}
	return sortedKeys(seen)
}
