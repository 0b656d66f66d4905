package moderation

import (
	"context"
	"log/slog"
	"time"

	"github.com/streamactions/streamactions/levels"
	"github.com/streamactions/streamactions/permissions"
	"github.com/streamactions/streamactions/telemetry"
)

// Message is one chat message as the transport delivers it.
type Message struct {
	ID        string
	ChannelID string
	UserID    string
	Text      string
	Emotes    []EmotePosition
	IsAction  bool
}

// Decision is a punishment the executor should apply. A nil *Decision means
// no action.
type Decision struct {
	Kind       FilterKind
	Punishment PunishmentSpec
	// Escalated is true when the repeat tier was selected.
	Escalated bool
}

// Engine evaluates filter kinds against messages. It is stateless apart from
// the warning tracker and message counter it is handed; it may be called from
// any number of goroutines.
type Engine struct {
	Policies PolicySource
	Resolver *permissions.Resolver
	Warnings *WarningTracker
	Messages MessageCounter

	// Now is replaceable in tests.
	Now func() time.Time
}

func NewEngine(policies PolicySource, resolver *permissions.Resolver, warnings *WarningTracker, messages MessageCounter) *Engine {
	return &Engine{
		Policies: policies,
		Resolver: resolver,
		Warnings: warnings,
		Messages: messages,
		Now:      time.Now,
	}
}

// EvaluateMessage runs every filter kind in canonical order and returns the
// first decision, or nil when nothing triggers. The caller records the
// message in the counter before evaluating so one-man-spam counts include the
// current message.
func (e *Engine) EvaluateMessage(ctx context.Context, actor *levels.Actor, msg *Message) *Decision {
	ctx, span := telemetry.StartSpan(ctx, "moderation", "EvaluateMessage",
		telemetry.ChannelAttr(msg.ChannelID))
	defer span.End()

	var decision *Decision
	telemetry.TimeFunc(telemetry.EvaluateDuration, func() {
		for _, kind := range FilterKinds {
			if d := e.Evaluate(ctx, kind, actor, msg); d != nil {
				decision = d
				return
			}
		}
	})
	if decision != nil {
		telemetry.SetSpanSuccess(span)
	}
	return decision
}

// Evaluate runs one filter kind against one message. Missing or malformed
// policy documents fail closed: no decision, never a panic or accidental
// default.
func (e *Engine) Evaluate(ctx context.Context, kind FilterKind, actor *levels.Actor, msg *Message) *Decision {
	policy, err := e.Policies.PolicyFor(ctx, msg.ChannelID)
	if err != nil {
		slog.Warn("policy load failed; skipping moderation",
			slog.String("channel", msg.ChannelID), slog.Any("err", err))
		return nil
	}
	if policy == nil {
		return nil
	}
	fp := policy.Filter(kind)
	if fp == nil || !fp.Enabled {
		return nil
	}

	required := levels.Broadcaster | levels.Moderator | fp.ExcludedLevels
	if e.Resolver.CanAct(ctx, actor, required, "") {
		return nil
	}

	switch kind {
	case FilterBlacklist:
		spec, ok := policy.MatchBlacklist(kind, msg.Text)
		if !ok {
			return nil
		}
		telemetry.CountFilterTrigger(string(kind))
		return &Decision{Kind: kind, Punishment: spec}
	case FilterOneManSpam:
		if !e.triggersOneManSpam(ctx, fp, msg) {
			return nil
		}
	default:
		if !e.triggers(kind, fp, msg) {
			return nil
		}
	}

	telemetry.CountFilterTrigger(string(kind))
	window := time.Duration(fp.WarningWindowSeconds) * time.Second
	escalated := e.Warnings.Observe(msg.ChannelID, msg.UserID, window, e.Now())
	if escalated {
		return &Decision{Kind: kind, Punishment: fp.Repeat, Escalated: true}
	}
	return &Decision{Kind: kind, Punishment: fp.Warning}
}

func (e *Engine) triggers(kind FilterKind, fp *FilterPolicy, msg *Message) bool {
	switch kind {
	case FilterCaps:
		return triggersCaps(StripEmotes(msg.Text, msg.Emotes), fp)
	case FilterSymbols:
		return triggersSymbols(StripEmotes(msg.Text, msg.Emotes), fp)
	case FilterZalgo:
		return triggersZalgo(msg.Text)
	case FilterLinks:
		return triggersLinks(msg.Text)
	case FilterLengthy:
		return triggersLengthy(msg.Text, fp)
	case FilterRepetition:
		return triggersRepetition(StripEmotes(msg.Text, msg.Emotes), fp)
	case FilterEmotes:
		return triggersEmotes(msg.Text, msg.Emotes, fp)
	case FilterFakePurge:
		return triggersFakePurge(msg.Text)
	case FilterAction:
		return triggersAction(msg.Text, msg.IsAction)
	}
	return false
}

func (e *Engine) triggersOneManSpam(ctx context.Context, fp *FilterPolicy, msg *Message) bool {
	if e.Messages == nil || fp.MaximumMessages <= 0 || fp.ResetWindowSeconds <= 0 {
		return false
	}
	since := e.Now().Add(-time.Duration(fp.ResetWindowSeconds) * time.Second)
	count, err := e.Messages.CountSince(ctx, msg.ChannelID, msg.UserID, since)
	if err != nil {
		slog.Warn("message count failed; skipping one-man-spam",
			slog.String("channel", msg.ChannelID), slog.Any("err", err))
		return false
	}
	return count >= fp.MaximumMessages
}
