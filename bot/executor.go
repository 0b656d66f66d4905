package bot

import (
	"context"

	"github.com/streamactions/streamactions/moderation"
	"github.com/streamactions/streamactions/telemetry"
	"github.com/streamactions/streamactions/twitchapi"
)

// purgeSeconds is the timeout length used to clear a user's recent messages
// without a lasting penalty.
const purgeSeconds = 1

// Executor applies a moderation decision to the channel it was made for.
// channel is the IRC channel name; the Helix ids travel in msg.
type Executor interface {
	Apply(ctx context.Context, channel string, msg *moderation.Message, d *moderation.Decision) error
}

// HelixExecutor applies punishments through the Helix moderation endpoints,
// acting as BotUserID. Say, when set, posts the punishment's user-facing
// message back to chat after the API call succeeds.
type HelixExecutor struct {
	Helix     *twitchapi.HelixClient
	BotUserID string
	Say       func(channel, text string)
}

func (x *HelixExecutor) Apply(ctx context.Context, channel string, msg *moderation.Message, d *moderation.Decision) error {
	spec := d.Punishment
	telemetry.CountPunishment(string(spec.Kind))

	var err error
	switch spec.Kind {
	case moderation.PunishDelete:
		err = x.Helix.DeleteChatMessage(ctx, msg.ChannelID, x.BotUserID, msg.ID)
	case moderation.PunishPurge:
		err = x.Helix.BanUser(ctx, msg.ChannelID, x.BotUserID, msg.UserID, purgeSeconds, spec.Reason)
	case moderation.PunishTimeout:
		duration := spec.DurationSeconds
		if duration <= 0 {
			duration = 600
		}
		err = x.Helix.BanUser(ctx, msg.ChannelID, x.BotUserID, msg.UserID, duration, spec.Reason)
	case moderation.PunishBan:
		// Zero duration is a permanent ban.
		err = x.Helix.BanUser(ctx, msg.ChannelID, x.BotUserID, msg.UserID, 0, spec.Reason)
	}
	if err != nil {
		return err
	}
	if spec.Message != "" && x.Say != nil {
		x.Say(channel, spec.Message)
	}
	return nil
}
