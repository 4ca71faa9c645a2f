package syncer

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/kit-dsn/pfennigfuchs/internal/ledger"
	"github.com/kit-dsn/pfennigfuchs/internal/models"
	"github.com/kit-dsn/pfennigfuchs/internal/transport"
)

// The write helpers issue a request and return. Local state is not touched;
// the effect shows up on a later Sync.

const initialMarkerBody = "🦊"

type CreateRoomOptions struct {
	Name        string
	Invite      []string
	OneOnOne    bool
	Description string
}

// CreateRoom creates a product room and posts its initial marker.
func (d *Driver) CreateRoom(ctx context.Context, opts CreateRoomOptions) (string, error) {
	creation := map[string]any{
		"m.federate":           true,
		models.AccountDataType: true,
	}
	if opts.OneOnOne {
		creation["pf_oneonone"] = true
	}
	req := models.CreateRoomRequest{
		CreationContent:           creation,
		Preset:                    "trusted_private_chat",
		RoomVersion:               "9",
		Visibility:                "private",
		Invite:                    opts.Invite,
		Topic:                     opts.Description,
		PowerLevelContentOverride: &models.PowerLevelOverride{UsersDefault: 100},
		InitialState: []models.InitialStateEvent{
			{Type: models.TypeName, StateKey: "", Content: models.NameContent{Name: opts.Name, Description: opts.Description}},
		},
	}

	var resp models.CreateRoomResponse
	if err := d.transport.Post(ctx, "/createRoom", nil, req, &resp); err != nil {
		return "", fmt.Errorf("failed to create room: %w", err)
	}

	marker, err := json.Marshal(models.InitialPayload{Initial: true})
	if err != nil {
		return "", fmt.Errorf("failed to marshal initial marker: %w", err)
	}
	msg := models.MessageContent{
		Body:          initialMarkerBody,
		MsgType:       models.MsgTypeText,
		Format:        models.FormatInitial,
		FormattedBody: string(marker),
	}
	if _, err := d.send(ctx, resp.RoomID, msg); err != nil {
		return "", fmt.Errorf("failed to send initial marker: %w", err)
	}
	return resp.RoomID, nil
}

func (d *Driver) InviteUser(ctx context.Context, roomID, userID string) error {
	body := models.MembershipRequest{UserID: userID}
	if err := d.transport.Post(ctx, "/rooms/"+transport.PathEscape(roomID)+"/invite", nil, body, nil); err != nil {
		return fmt.Errorf("failed to invite %s: %w", userID, err)
	}
	return nil
}

func (d *Driver) LeaveRoom(ctx context.Context, roomID string) error {
	if err := d.transport.Post(ctx, "/rooms/"+transport.PathEscape(roomID)+"/leave", nil, models.MembershipRequest{}, nil); err != nil {
		return fmt.Errorf("failed to leave %s: %w", roomID, err)
	}
	return nil
}

// UpdateRoomMetadata replaces the room's name content. Start from
// state.Reconciler.MetadataForRequest to keep the fields you do not change.
func (d *Driver) UpdateRoomMetadata(ctx context.Context, roomID string, content models.NameContent) error {
	path := "/rooms/" + transport.PathEscape(roomID) + "/state/" + models.TypeName + "/"
	if err := d.transport.Put(ctx, path, nil, content, nil); err != nil {
		return fmt.Errorf("failed to update metadata of %s: %w", roomID, err)
	}
	return nil
}

// UpdateAccountData replaces the account record on the homeserver.
func (d *Driver) UpdateAccountData(ctx context.Context, data models.GlobalAccountData) error {
	if data.PaymentInfo == nil {
		data.PaymentInfo = map[string]models.PaymentMethod{}
	}
	if data.UserInfo == nil {
		data.UserInfo = &models.UserInfo{}
	}
	path := "/user/" + transport.PathEscape(d.myID) + "/account_data/" + models.AccountDataType
	if err := d.transport.Put(ctx, path, nil, data, nil); err != nil {
		return fmt.Errorf("failed to update account data: %w", err)
	}
	return nil
}

// SendPayment posts a payment entry and returns its event id.
func (d *Driver) SendPayment(ctx context.Context, roomID string, payment models.PaymentPayload) (string, error) {
	payload, err := json.Marshal(payment)
	if err != nil {
		return "", fmt.Errorf("failed to marshal payment: %w", err)
	}
	msg := models.MessageContent{
		Body:          fmt.Sprintf("%s: %s", payment.Subject, ledger.CalcTotalAmount(&models.PaymentMessage{Payment: payment})),
		MsgType:       models.MsgTypeText,
		Format:        models.FormatPayment,
		FormattedBody: string(payload),
	}
	eventID, err := d.send(ctx, roomID, msg)
	if err != nil {
		return "", fmt.Errorf("failed to send payment: %w", err)
	}
	return eventID, nil
}

func (d *Driver) send(ctx context.Context, roomID string, msg models.MessageContent) (string, error) {
	path := "/rooms/" + transport.PathEscape(roomID) + "/send/" + models.TypeMessage + "/" + transport.PathEscape(uuid.NewString())
	var resp struct {
		EventID string `json:"event_id"`
	}
	if err := d.transport.Put(ctx, path, nil, msg, &resp); err != nil {
		return "", err
	}
	return resp.EventID, nil
}

// AvatarRefs maps room and user ids to avatar references found in product
// rooms, plus my own avatar from the account record.
func (d *Driver) AvatarRefs() map[string]string {
	out := make(map[string]string)
	for _, roomID := range d.state.ProductRooms() {
		if ref := d.state.RoomAvatar(roomID); ref != "" {
			out[roomID] = ref
		}
		for _, userID := range d.state.JoinedMembers(roomID) {
			info, ok := d.state.ContactInfo(roomID, userID)
			if ok && info.AvatarURL != "" {
				out[userID] = info.AvatarURL
			}
		}
	}
	if info, ok := d.account.UserInfo(); ok && info.AvatarURL != "" {
		out[d.myID] = info.AvatarURL
	}
	return out
}
