package syncer

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/kit-dsn/pfennigfuchs/internal/account"
	"github.com/kit-dsn/pfennigfuchs/internal/metrics"
	"github.com/kit-dsn/pfennigfuchs/internal/models"
	"github.com/kit-dsn/pfennigfuchs/internal/transport"
)

// runSideEffects issues the self-healing writes of a round concurrently. All
// tasks run to completion; the first error is returned.
func (d *Driver) runSideEffects(ctx context.Context, rooms *models.Rooms, cold bool) error {
	var g errgroup.Group

	g.Go(func() error { return d.seedProfile(ctx) })
	g.Go(func() error { return d.syncSelfMember(ctx) })
	if _, ok := d.state.WorkspaceID(); !ok {
		g.Go(func() error { return d.createWorkspace(ctx) })
	}
	g.Go(func() error { return d.linkRoomsToWorkspace(ctx) })

	if rooms != nil {
		for roomID, invite := range rooms.Invite {
			g.Go(func() error { return d.acceptInvite(ctx, roomID, invite, cold) })
		}
	}

	return g.Wait()
}

// seedProfile initialises the account record from the homeserver profile the
// first time the client runs without one.
func (d *Driver) seedProfile(ctx context.Context) error {
	if _, ok := d.account.UserInfo(); ok {
		return nil
	}

	var profile models.Profile
	err := d.transport.Get(ctx, "/profile/"+transport.PathEscape(d.myID), nil, &profile)
	if err != nil && !transport.IsNotFound(err) {
		return fmt.Errorf("failed to get profile: %w", err)
	}

	req := d.account.ForRequest()
	req.UserInfo = &models.UserInfo{
		DisplayName: profile.DisplayName,
		AvatarURL:   profile.AvatarURL,
	}
	metrics.SideEffectWrites.WithLabelValues("profile_seed").Inc()
	return d.UpdateAccountData(ctx, req)
}

// syncSelfMember pushes the account record into my member event of every
// product room I joined, skipping rooms where it is already current.
func (d *Driver) syncSelfMember(ctx context.Context) error {
	want := d.account.ForRequest()
	var g errgroup.Group
	for _, roomID := range d.state.Rooms() {
		if !d.state.IsProductRoom(roomID) {
			continue
		}
		me, ok := d.state.MemberEvent(roomID, d.myID)
		if !ok || me.Content.Membership != models.MembershipJoin {
			continue
		}
		if me.Content.Pfennigfuchs != nil && account.Equal(*me.Content.Pfennigfuchs, want) {
			continue
		}
		g.Go(func() error {
			content, err := mergeMemberContent(me.Raw, want)
			if err != nil {
				return err
			}
			metrics.SideEffectWrites.WithLabelValues("member_sync").Inc()
			path := "/rooms/" + transport.PathEscape(roomID) + "/state/" + models.TypeMember + "/" + transport.PathEscape(d.myID)
			if err := d.transport.Put(ctx, path, nil, content, nil); err != nil {
				return fmt.Errorf("failed to update member record in %s: %w", roomID, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// mergeMemberContent keeps every field of the current member content and
// replaces the product record.
func mergeMemberContent(raw json.RawMessage, record models.GlobalAccountData) (map[string]any, error) {
	content := map[string]any{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &content); err != nil {
			return nil, fmt.Errorf("failed to decode member content: %w", err)
		}
	}
	content[models.AccountDataType] = record
	return content, nil
}

func (d *Driver) createWorkspace(ctx context.Context) error {
	req := models.CreateRoomRequest{
		CreationContent: map[string]any{
			"m.federate":           false,
			"type":                 models.RoomTypeSpace,
			models.AccountDataType: true,
		},
		Preset:      "private_chat",
		RoomVersion: "9",
		Name:        "pfennigfuchs_" + uuid.NewString(),
		Visibility:  "private",
		InitialState: []models.InitialStateEvent{
			{Type: models.TypeTopic, StateKey: "", Content: models.TopicContent{Topic: ""}},
		},
	}
	metrics.SideEffectWrites.WithLabelValues("workspace_create").Inc()
	var resp models.CreateRoomResponse
	if err := d.transport.Post(ctx, "/createRoom", nil, req, &resp); err != nil {
		return fmt.Errorf("failed to create workspace: %w", err)
	}
	d.logger.Info().Str("room_id", resp.RoomID).Msg("created workspace")
	return nil
}

// linkRoomsToWorkspace adds every unlinked product room as a child of the workspace.
func (d *Driver) linkRoomsToWorkspace(ctx context.Context) error {
	space, ok := d.state.WorkspaceID()
	if !ok {
		return nil
	}
	missing := d.state.RoomsMissingFromWorkspace()
	if len(missing) == 0 {
		return nil
	}
	domain, err := d.state.MyDomain()
	if err != nil {
		return err
	}

	var g errgroup.Group
	for _, roomID := range missing {
		g.Go(func() error {
			metrics.SideEffectWrites.WithLabelValues("workspace_link").Inc()
			path := "/rooms/" + transport.PathEscape(space) + "/state/" + models.TypeSpaceChild + "/" + transport.PathEscape(roomID)
			body := models.SpaceChildContent{Via: []string{domain}, Canonical: true}
			if err := d.transport.Put(ctx, path, nil, body, nil); err != nil {
				return fmt.Errorf("failed to link %s to workspace: %w", roomID, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// acceptInvite joins invites to product rooms. A room that vanished before the
// join is left again and the error is dropped.
func (d *Driver) acceptInvite(ctx context.Context, roomID string, invite models.InvitedRoom, cold bool) error {
	var create *models.CreateEvent
	var name string
	for _, ev := range d.decode(roomID, invite.InviteState.Events) {
		switch e := ev.(type) {
		case *models.CreateEvent:
			if create != nil {
				return fmt.Errorf("%w: multiple create events in invite to %s", ErrAmbiguousEvent, roomID)
			}
			create = e
		case *models.NameEvent:
			name = e.Content.Name
		}
	}
	if create == nil || !create.Content.Pfennigfuchs {
		return nil
	}

	metrics.SideEffectWrites.WithLabelValues("join").Inc()
	err := d.transport.Post(ctx, "/join/"+transport.PathEscape(roomID), nil, nil, nil)
	if transport.IsNotFound(err) {
		d.logger.Warn().Err(err).Str("room_id", roomID).Msg("invited room is gone, leaving")
		if err := d.LeaveRoom(ctx, roomID); err != nil {
			d.logger.Warn().Err(err).Str("room_id", roomID).Msg("failed to leave vanished room")
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to join %s: %w", roomID, err)
	}

	if name == "" {
		name = roomID
	}
	if !cold {
		d.notifier.PushMessage("You have been invited to " + name)
	}
	return nil
}
