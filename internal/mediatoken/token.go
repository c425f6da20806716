// Package mediatoken mints ZEGOCLOUD room tokens so admitted clients can
// attach to the external media room. The media bitstreams themselves never
// touch this service.
package mediatoken

import (
	"encoding/json"
	"fmt"

	"github.com/ZEGOCLOUD/zego_server_assistant/token/go/src/token04"

	"github.com/enayetaitech/amplify-sub003/internal/models"
)

// RtcRoomPayload is the payload for room-based token04 tokens. See ZEGOCLOUD docs.
type RtcRoomPayload struct {
	RoomID       string      `json:"RoomId"`
	Privilege    map[int]int `json:"Privilege"`
	StreamIDList []string    `json:"StreamIdList,omitempty"`
}

// GenerateRoomToken generates a ZEGOCLOUD token04 token for one connection in
// a session room. Publish privilege follows the caller's role plus the
// screen-share decision already made by the authority: observers pull only.
func GenerateRoomToken(appID uint32, serverSecret, roomID, identity string, role models.Role, canShare bool, effectiveTimeSec int64) (string, error) {
	if appID == 0 || serverSecret == "" {
		return "", fmt.Errorf("zego: app_id and server_secret required")
	}
	if len(serverSecret) != 32 {
		return "", fmt.Errorf("zego: server_secret must be 32 characters")
	}
	privilege := map[int]int{
		token04.PrivilegeKeyLogin:   token04.PrivilegeEnable,
		token04.PrivilegeKeyPublish: token04.PrivilegeDisable,
	}
	if role.IsModerator() || (role == models.RoleParticipant && canShare) {
		privilege[token04.PrivilegeKeyPublish] = token04.PrivilegeEnable
	}
	payload := RtcRoomPayload{
		RoomID:    roomID,
		Privilege: privilege,
	}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("zego: marshal payload: %w", err)
	}
	return token04.GenerateToken04(appID, identity, serverSecret, effectiveTimeSec, string(payloadJSON))
}
