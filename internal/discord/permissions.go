package discord

import "github.com/bwmarrin/discordgo"

// PermissionChecker gates playback-control commands behind a DJ role.
// When no role is configured, everyone may control playback.
type PermissionChecker struct {
	djRoleID string
}

// NewPermissionChecker creates a checker for the given DJ role ID.
// An empty ID disables the check.
func NewPermissionChecker(djRoleID string) *PermissionChecker {
	return &PermissionChecker{djRoleID: djRoleID}
}

// IsDJ reports whether the interaction's member may control playback.
func (p *PermissionChecker) IsDJ(i *discordgo.InteractionCreate) bool {
	if p.djRoleID == "" {
		return true
	}
	if i.Member == nil {
		return false
	}
	for _, role := range i.Member.Roles {
		if role == p.djRoleID {
			return true
		}
	}
	return false
}
