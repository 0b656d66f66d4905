// Package moderation holds the per-channel content filter bank: policy
// documents, the filter trigger predicates, the warning escalation tracker,
// and the decision engine tying them together.
package moderation

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/streamactions/streamactions/levels"
)

// PunishmentKind enumerates the actions the executor knows how to apply.
type PunishmentKind string

const (
	PunishNone    PunishmentKind = "none"
	PunishDelete  PunishmentKind = "delete"
	PunishPurge   PunishmentKind = "purge"
	PunishTimeout PunishmentKind = "timeout"
	PunishBan     PunishmentKind = "ban"
)

// PunishmentSpec describes one action the executor should take.
type PunishmentSpec struct {
	Kind            PunishmentKind `json:"kind"`
	DurationSeconds int            `json:"duration_seconds,omitempty"`
	Reason          string         `json:"reason,omitempty"`
	// Message is sent to chat alongside the punishment.
	Message string `json:"message,omitempty"`
}

// IsNone reports whether the spec carries no action.
func (p PunishmentSpec) IsNone() bool {
	return p.Kind == "" || p.Kind == PunishNone
}

// FilterKind names one content filter.
type FilterKind string

const (
	FilterCaps       FilterKind = "caps"
	FilterSymbols    FilterKind = "symbols"
	FilterZalgo      FilterKind = "zalgo"
	FilterLinks      FilterKind = "links"
	FilterLengthy    FilterKind = "lengthy"
	FilterRepetition FilterKind = "repetition"
	FilterEmotes     FilterKind = "emotes"
	FilterFakePurge  FilterKind = "fakepurge"
	FilterAction     FilterKind = "action"
	FilterOneManSpam FilterKind = "onemanspam"
	FilterBlacklist  FilterKind = "blacklist"
)

// FilterKinds is the canonical evaluation order. Blacklist runs first so a
// blacklisted phrase always receives its own punishment rather than a generic
// tier from another filter that happens to match too.
var FilterKinds = []FilterKind{
	FilterBlacklist,
	FilterLinks,
	FilterFakePurge,
	FilterZalgo,
	FilterOneManSpam,
	FilterCaps,
	FilterSymbols,
	FilterRepetition,
	FilterEmotes,
	FilterLengthy,
	FilterAction,
}

// BlacklistEntry is one ordered phrase or pattern with its own one-shot
// punishment. Blacklist matches do not go through the warning tiers.
type BlacklistEntry struct {
	Phrase     string         `json:"phrase"`
	IsRegex    bool           `json:"is_regex"`
	Punishment PunishmentSpec `json:"punishment"`
}

// FilterPolicy holds the settings for one filter kind in one channel. Only
// the thresholds relevant to the kind are consulted.
type FilterPolicy struct {
	Enabled bool `json:"enabled"`

	// ExcludedLevels widens the exemption check beyond the implicit
	// Broadcaster|Moderator exemption.
	ExcludedLevels levels.Level `json:"excluded_levels,omitempty"`

	MinimumMessageLength       int `json:"minimum_message_length,omitempty"`
	MaximumPercentage          int `json:"maximum_percentage,omitempty"`
	MaximumGrouped             int `json:"maximum_grouped,omitempty"`
	MaximumLength              int `json:"maximum_length,omitempty"`
	MaximumRepeatingCharacters int `json:"maximum_repeating_characters,omitempty"`
	MaximumRepeatingWords      int `json:"maximum_repeating_words,omitempty"`
	MaximumAllowedEmotes       int `json:"maximum_allowed_emotes,omitempty"`
	OnlyEmotes                 bool `json:"only_emotes,omitempty"`
	MaximumMessages            int `json:"maximum_messages,omitempty"`
	ResetWindowSeconds         int `json:"reset_window_seconds,omitempty"`

	Warning              PunishmentSpec `json:"warning"`
	Repeat               PunishmentSpec `json:"repeat"`
	WarningWindowSeconds int            `json:"warning_window_seconds,omitempty"`

	Blacklist []BlacklistEntry `json:"blacklist,omitempty"`
}

// ChannelPolicy is the per-channel policy document as persisted.
type ChannelPolicy struct {
	ChannelID string                        `json:"channel_id"`
	Filters   map[FilterKind]*FilterPolicy `json:"filters"`
}

// Filter returns the policy for a kind, or nil when unconfigured.
func (c *ChannelPolicy) Filter(kind FilterKind) *FilterPolicy {
	if c == nil {
		return nil
	}
	return c.Filters[kind]
}

// compiledEntry pairs a blacklist entry with its precompiled matcher.
type compiledEntry struct {
	entry BlacklistEntry
	re    *regexp.Regexp
}

// CompiledPolicy is a ChannelPolicy with every blacklist pattern compiled
// once at load time. Engines only see compiled policies.
type CompiledPolicy struct {
	ChannelPolicy
	blacklist map[FilterKind][]compiledEntry
}

// Compile precompiles all blacklist entries. Non-regex phrases are quoted and
// matched case-insensitively as substrings. Entries that fail to compile are
// rejected so a typo in one pattern cannot silently disable matching.
func Compile(p *ChannelPolicy) (*CompiledPolicy, error) {
	if p == nil {
		return nil, fmt.Errorf("nil policy")
	}
	cp := &CompiledPolicy{ChannelPolicy: *p, blacklist: make(map[FilterKind][]compiledEntry)}
	for kind, fp := range p.Filters {
		if fp == nil || len(fp.Blacklist) == 0 {
			continue
		}
		compiled := make([]compiledEntry, 0, len(fp.Blacklist))
		for i, e := range fp.Blacklist {
			expr := e.Phrase
			if !e.IsRegex {
				expr = regexp.QuoteMeta(strings.TrimSpace(e.Phrase))
			}
			re, err := regexp.Compile("(?i)" + expr)
			if err != nil {
				return nil, fmt.Errorf("blacklist entry %d for %s: %w", i, kind, err)
			}
			compiled = append(compiled, compiledEntry{entry: e, re: re})
		}
		cp.blacklist[kind] = compiled
	}
	return cp, nil
}

// MatchBlacklist returns the first matching entry's punishment, in list order.
func (cp *CompiledPolicy) MatchBlacklist(kind FilterKind, text string) (PunishmentSpec, bool) {
	for _, ce := range cp.blacklist[kind] {
		if ce.re.MatchString(text) {
			return ce.entry.Punishment, true
		}
	}
	return PunishmentSpec{}, false
}

// PolicySource supplies compiled policies to the engine. A missing policy is
// returned as (nil, nil); the engine fails closed on it.
type PolicySource interface {
	PolicyFor(ctx context.Context, channelID string) (*CompiledPolicy, error)
}

// policyCacheSize bounds the compiled policy cache. Well above the number of
// channels a single bot instance joins.
const policyCacheSize = 512

// PolicyStore persists channel policy documents as JSONB and serves compiled
// policies from an LRU cache so hot-path evaluation never re-parses JSON or
// recompiles patterns.
type PolicyStore struct {
	DB    *sql.DB
	cache *lru.Cache[string, *CompiledPolicy]
}

func NewPolicyStore(db *sql.DB) (*PolicyStore, error) {
	cache, err := lru.New[string, *CompiledPolicy](policyCacheSize)
	if err != nil {
		return nil, err
	}
	return &PolicyStore{DB: db, cache: cache}, nil
}

// PolicyFor returns the compiled policy for a channel, or (nil, nil) when the
// channel has never been configured.
func (s *PolicyStore) PolicyFor(ctx context.Context, channelID string) (*CompiledPolicy, error) {
	if cp, ok := s.cache.Get(channelID); ok {
		return cp, nil
	}
	var raw []byte
	err := s.DB.QueryRowContext(ctx,
		`SELECT doc FROM moderation_policies WHERE channel_id = $1`, channelID).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load policy: %w", err)
	}
	var doc ChannelPolicy
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode policy for %s: %w", channelID, err)
	}
	doc.ChannelID = channelID
	cp, err := Compile(&doc)
	if err != nil {
		return nil, fmt.Errorf("compile policy for %s: %w", channelID, err)
	}
	s.cache.Add(channelID, cp)
	return cp, nil
}

// SavePolicy validates, compiles, and persists a channel policy document,
// replacing any cached compilation.
func (s *PolicyStore) SavePolicy(ctx context.Context, channelID string, doc *ChannelPolicy) error {
	if channelID == "" {
		return fmt.Errorf("channel id is required")
	}
	doc.ChannelID = channelID
	cp, err := Compile(doc)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode policy: %w", err)
	}
	_, err = s.DB.ExecContext(ctx, `INSERT INTO moderation_policies (channel_id, doc, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (channel_id) DO UPDATE SET doc=EXCLUDED.doc, updated_at=NOW()`, channelID, raw)
	if err != nil {
		return fmt.Errorf("save policy: %w", err)
	}
	s.cache.Add(channelID, cp)
	return nil
}

// DeletePolicy removes a channel's policy document and drops the cached copy.
func (s *PolicyStore) DeletePolicy(ctx context.Context, channelID string) error {
	if _, err := s.DB.ExecContext(ctx, `DELETE FROM moderation_policies WHERE channel_id = $1`, channelID); err != nil {
		return fmt.Errorf("delete policy: %w", err)
	}
	s.cache.Remove(channelID)
	return nil
}
