package bot

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	twitch "github.com/gempir/go-twitch-irc/v4"

	"github.com/streamactions/streamactions/levels"
	"github.com/streamactions/streamactions/permissions"
	"github.com/streamactions/streamactions/telemetry"
)

// ManagePermission gates the permission command itself. Moderators and above
// hold it implicitly; anyone else needs a group grant.
const ManagePermission = "manage_permissions"

const permissionUsage = "usage: permission group create|delete <group> | user add|remove <group> <user_id> | allow|deny|remove <group> <name> | list"

// RegisterBuiltinPermissions seeds the registry with the names the bot itself
// gates features behind.
func RegisterBuiltinPermissions(reg *permissions.Registry) {
	if err := reg.Register(ManagePermission, "manage permission groups and grants"); err != nil {
		slog.Warn("builtin permission registration failed", slog.Any("err", err))
	}
}

func (b *Bot) dispatchCommand(ctx context.Context, actor *levels.Actor, pm twitch.PrivateMessage) {
	fields := strings.Fields(strings.TrimPrefix(pm.Message, b.prefix))
	if len(fields) == 0 {
		return
	}
	switch strings.ToLower(fields[0]) {
	case "permission", "perm":
		telemetry.CountCommandDispatched()
		b.handlePermissionCommand(ctx, actor, pm.Channel, pm.RoomID, fields[1:])
	}
}

// handlePermissionCommand mutates the channel's permission groups. Every
// subcommand is gated by one resolver check up front.
func (b *Bot) handlePermissionCommand(ctx context.Context, actor *levels.Actor, channel, channelID string, args []string) {
	required := levels.Moderator | levels.Custom
	if !b.resolver.CanAct(ctx, actor, required, ManagePermission) {
		telemetry.CountCommandDenied()
		login := ""
		if actor != nil {
			login = actor.Login
		}
		b.reply(channel, login, "you don't have permission to manage permissions")
		return
	}
	login := actor.Login

	if len(args) == 0 {
		b.reply(channel, login, permissionUsage)
		return
	}
	var err error
	var reply string
	switch strings.ToLower(args[0]) {
	case "group":
		if len(args) < 3 {
			b.reply(channel, login, permissionUsage)
			return
		}
		name := args[2]
		switch strings.ToLower(args[1]) {
		case "create":
			_, err = b.manager.CreateGroup(ctx, channelID, name)
			reply = fmt.Sprintf("group %q created", name)
		case "delete":
			err = b.manager.DeleteGroup(ctx, channelID, name)
			reply = fmt.Sprintf("group %q deleted", name)
		default:
			b.reply(channel, login, permissionUsage)
			return
		}
	case "user":
		if len(args) < 4 {
			b.reply(channel, login, permissionUsage)
			return
		}
		group, userID := args[2], args[3]
		switch strings.ToLower(args[1]) {
		case "add":
			err = b.manager.AddMember(ctx, channelID, group, userID)
			reply = fmt.Sprintf("user added to %q", group)
		case "remove":
			err = b.manager.RemoveMember(ctx, channelID, group, userID)
			reply = fmt.Sprintf("user removed from %q", group)
		default:
			b.reply(channel, login, permissionUsage)
			return
		}
	case "allow":
		if len(args) < 3 {
			b.reply(channel, login, permissionUsage)
			return
		}
		err = b.manager.AllowPermission(ctx, channelID, args[1], args[2])
		reply = fmt.Sprintf("%q allowed in %q", permissions.Normalize(args[2]), args[1])
	case "deny":
		if len(args) < 3 {
			b.reply(channel, login, permissionUsage)
			return
		}
		err = b.manager.DenyPermission(ctx, channelID, args[1], args[2])
		reply = fmt.Sprintf("%q denied in %q", permissions.Normalize(args[2]), args[1])
	case "remove":
		if len(args) < 3 {
			b.reply(channel, login, permissionUsage)
			return
		}
		err = b.manager.RemovePermission(ctx, channelID, args[1], args[2])
		reply = fmt.Sprintf("%q removed from %q", permissions.Normalize(args[2]), args[1])
	case "list":
		groups, lerr := b.store.GroupsForChannel(ctx, channelID)
		if lerr != nil {
			err = lerr
			break
		}
		if len(groups) == 0 {
			reply = "no permission groups configured"
			break
		}
		names := make([]string, 0, len(groups))
		for i := range groups {
			names = append(names, groups[i].Name)
		}
		reply = "groups: " + strings.Join(names, ", ")
	default:
		b.reply(channel, login, permissionUsage)
		return
	}

	if err != nil {
		telemetry.LoggerWithCorr(ctx).Warn("permission command failed",
			slog.String("channel", channelID), slog.Any("err", err))
		b.reply(channel, login, "error: "+err.Error())
		return
	}
	b.reply(channel, login, reply)
}

func (b *Bot) reply(channel, login, text string) {
	if b.say == nil {
		return
	}
	if login != "" {
		text = "@" + login + " " + text
	}
	b.say(channel, text)
}
