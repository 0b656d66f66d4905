// Package bot connects Twitch chat to the moderation engine and the
// permission command surface. One Bot instance joins every configured channel
// over a single IRC connection; per-channel state lives in the policy store
// and the permission tables, keyed by the channel's Twitch room id.
package bot

import (
	"context"
	"database/sql"
	"log/slog"
	"strings"
	"time"

	twitch "github.com/gempir/go-twitch-irc/v4"
	"github.com/google/uuid"

	"github.com/streamactions/streamactions/config"
	"github.com/streamactions/streamactions/db"
	"github.com/streamactions/streamactions/levels"
	"github.com/streamactions/streamactions/moderation"
	"github.com/streamactions/streamactions/permissions"
	"github.com/streamactions/streamactions/telemetry"
)

type Bot struct {
	client   *twitch.Client
	db       *sql.DB
	engine   *moderation.Engine
	executor Executor
	store    *permissions.Store
	manager  *permissions.Manager
	resolver *permissions.Resolver
	counter  moderation.MessageCounter
	prefix   string
	channels []string

	// say is replaceable in tests; defaults to the IRC client.
	say func(channel, text string)
	// now is replaceable in tests.
	now func() time.Time
}

// New wires a bot from its collaborators. The IRC client is created but not
// connected; call Run to join channels and start the read loop.
func New(cfg *config.Config, dbx *sql.DB, engine *moderation.Engine, executor Executor, store *permissions.Store, manager *permissions.Manager) *Bot {
	client := twitch.NewClient(cfg.TwitchBotUsername, cfg.TwitchOAuthToken)
	b := &Bot{
		client:   client,
		db:       dbx,
		engine:   engine,
		executor: executor,
		store:    store,
		manager:  manager,
		resolver: engine.Resolver,
		counter:  engine.Messages,
		prefix:   cfg.CommandPrefix,
		channels: cfg.TwitchChannels,
		say:      client.Say,
		now:      time.Now,
	}
	if hx, ok := executor.(*HelixExecutor); ok && hx.Say == nil {
		hx.Say = b.say
	}
	client.OnConnect(func() {
		slog.Info("twitch chat connected", slog.Any("channels", b.channels))
		telemetry.SetJoinedChannels(len(b.channels))
	})
	client.OnPrivateMessage(b.handlePrivateMessage)
	return b
}

// Run joins the configured channels and blocks in the IRC read loop until the
// context is done or the connection fails.
func (b *Bot) Run(ctx context.Context) error {
	for _, ch := range b.channels {
		b.client.Join(ch)
	}

	done := make(chan struct{})
	go func() {
		<-ctx.Done()
		if err := b.client.Disconnect(); err != nil {
			slog.Warn("twitch chat disconnect", slog.Any("err", err))
		}
		close(done)
	}()

	err := b.client.Connect()
	if ctx.Err() != nil {
		<-done
		telemetry.SetJoinedChannels(0)
		return nil
	}
	return err
}

func (b *Bot) handlePrivateMessage(pm twitch.PrivateMessage) {
	ctx := telemetry.WithCorrelation(context.Background(), uuid.NewString())
	telemetry.CountMessageProcessed()

	actor := b.resolveActor(ctx, pm)

	if strings.HasPrefix(pm.Message, b.prefix) {
		b.dispatchCommand(ctx, actor, pm)
		return
	}

	msg := toMessage(pm)
	if b.counter != nil {
		if err := b.counter.Record(ctx, msg.ChannelID, msg.UserID, b.now()); err != nil {
			telemetry.LoggerWithCorr(ctx).Warn("message count record failed",
				slog.String("channel", msg.ChannelID), slog.Any("err", err))
		}
	}

	decision := b.engine.EvaluateMessage(ctx, actor, msg)
	if decision == nil || decision.Punishment.IsNone() {
		return
	}
	if err := b.executor.Apply(ctx, pm.Channel, msg, decision); err != nil {
		telemetry.LoggerWithCorr(ctx).Error("punishment failed",
			slog.String("channel", pm.Channel),
			slog.String("filter", string(decision.Kind)),
			slog.String("punishment", string(decision.Punishment.Kind)),
			slog.Any("err", err))
	}
}

// resolveActor rebuilds the actor snapshot from the message's badge metadata
// and the persisted standing and group memberships. Lookup failures degrade to
// the most restrictive value rather than dropping the message.
func (b *Bot) resolveActor(ctx context.Context, pm twitch.PrivateMessage) *levels.Actor {
	level := levels.FromBadges(pm.User.Badges)
	actor := &levels.Actor{
		UserID:    pm.User.ID,
		Login:     pm.User.Name,
		ChannelID: pm.RoomID,
		Level:     level,
	}
	if b.db == nil {
		return actor
	}

	standing, err := db.GetStanding(ctx, b.db, pm.User.ID)
	if err != nil {
		slog.Warn("standing lookup failed", slog.String("user", pm.User.ID), slog.Any("err", err))
		standing = levels.StandingNone
	}
	actor.Standing = standing

	if b.store != nil {
		groups, err := b.store.MembershipsFor(ctx, pm.RoomID, pm.User.ID)
		if err != nil {
			slog.Warn("membership lookup failed", slog.String("user", pm.User.ID), slog.Any("err", err))
		} else {
			actor.Groups = groups
		}
	}

	if err := db.UpsertUser(ctx, b.db, pm.User.ID, pm.User.Name); err != nil {
		slog.Warn("user upsert failed", slog.String("user", pm.User.ID), slog.Any("err", err))
	}
	if err := db.UpsertActor(ctx, b.db, pm.RoomID, pm.User.ID, pm.User.Name, level); err != nil {
		slog.Warn("actor upsert failed", slog.String("user", pm.User.ID), slog.Any("err", err))
	}
	return actor
}

// toMessage flattens the IRC message into the engine's shape. Emote position
// lists are merged across emotes; the engine sorts out overlaps.
func toMessage(pm twitch.PrivateMessage) *moderation.Message {
	var emotes []moderation.EmotePosition
	for _, e := range pm.Emotes {
		for _, p := range e.Positions {
			emotes = append(emotes, moderation.EmotePosition{Start: p.Start, End: p.End})
		}
	}
	return &moderation.Message{
		ID:        pm.ID,
		ChannelID: pm.RoomID,
		UserID:    pm.User.ID,
		Text:      pm.Message,
		Emotes:    emotes,
		IsAction:  pm.Action,
	}
}
