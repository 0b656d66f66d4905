package moderation

import (
	"context"
	"testing"

	"github.com/streamactions/streamactions/testutil"
)

func TestCompileBlacklist(t *testing.T) {
	doc := &ChannelPolicy{Filters: map[FilterKind]*FilterPolicy{
		FilterBlacklist: {
			Enabled: true,
			Blacklist: []BlacklistEntry{
				{Phrase: "some (phrase)", Punishment: PunishmentSpec{Kind: PunishDelete}},
				{Phrase: `\bw[o0]rd\b`, IsRegex: true, Punishment: PunishmentSpec{Kind: PunishBan}},
			},
		},
	}}
	cp, err := Compile(doc)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}

	// Non-regex phrases are literal: the parentheses must match as text.
	if _, ok := cp.MatchBlacklist(FilterBlacklist, "here is SOME (PHRASE) indeed"); !ok {
		t.Error("literal phrase did not match case-insensitively")
	}
	if _, ok := cp.MatchBlacklist(FilterBlacklist, "some phrase"); ok {
		t.Error("literal phrase matched without its punctuation")
	}

	spec, ok := cp.MatchBlacklist(FilterBlacklist, "that w0rd again")
	if !ok || spec.Kind != PunishBan {
		t.Errorf("regex entry match = (%+v, %v), want ban", spec, ok)
	}

	// First match in list order wins.
	spec, ok = cp.MatchBlacklist(FilterBlacklist, "some (phrase) with that w0rd")
	if !ok || spec.Kind != PunishDelete {
		t.Errorf("overlapping match = (%+v, %v), want first entry's delete", spec, ok)
	}
}

func TestCompileRejectsBadPattern(t *testing.T) {
	doc := &ChannelPolicy{Filters: map[FilterKind]*FilterPolicy{
		FilterBlacklist: {
			Enabled: true,
			Blacklist: []BlacklistEntry{
				{Phrase: `([unclosed`, IsRegex: true, Punishment: PunishmentSpec{Kind: PunishDelete}},
			},
		},
	}}
	if _, err := Compile(doc); err == nil {
		t.Error("invalid regex compiled without error")
	}
}

func TestPunishmentSpecIsNone(t *testing.T) {
	if !(PunishmentSpec{}).IsNone() {
		t.Error("zero spec should be none")
	}
	if !(PunishmentSpec{Kind: PunishNone}).IsNone() {
		t.Error("explicit none should be none")
	}
	if (PunishmentSpec{Kind: PunishDelete}).IsNone() {
		t.Error("delete should not be none")
	}
}

func TestPolicyStoreRoundTrip(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store, err := NewPolicyStore(db)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	ctx := context.Background()

	doc := &ChannelPolicy{Filters: map[FilterKind]*FilterPolicy{
		FilterCaps: {
			Enabled:              true,
			MinimumMessageLength: 10,
			MaximumPercentage:    70,
			Warning:              PunishmentSpec{Kind: PunishTimeout, DurationSeconds: 30},
			Repeat:               PunishmentSpec{Kind: PunishTimeout, DurationSeconds: 600},
			WarningWindowSeconds: 60,
		},
	}}
	if err := store.SavePolicy(ctx, "store-chan", doc); err != nil {
		t.Fatalf("save: %v", err)
	}

	cp, err := store.PolicyFor(ctx, "store-chan")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cp == nil {
		t.Fatal("saved policy not found")
	}
	fp := cp.Filter(FilterCaps)
	if fp == nil || !fp.Enabled || fp.MaximumPercentage != 70 {
		t.Errorf("loaded caps policy = %+v", fp)
	}

	// Unconfigured channels resolve to nil without error.
	cp, err = store.PolicyFor(ctx, "never-configured")
	if err != nil {
		t.Fatalf("load unconfigured: %v", err)
	}
	if cp != nil {
		t.Errorf("unconfigured channel returned policy %+v", cp)
	}

	// Saving again replaces the cached compilation.
	doc.Filters[FilterCaps].MaximumPercentage = 90
	if err := store.SavePolicy(ctx, "store-chan", doc); err != nil {
		t.Fatalf("re-save: %v", err)
	}
	cp, _ = store.PolicyFor(ctx, "store-chan")
	if cp.Filter(FilterCaps).MaximumPercentage != 90 {
		t.Errorf("cache served stale policy after save")
	}

	if err := store.DeletePolicy(ctx, "store-chan"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	cp, err = store.PolicyFor(ctx, "store-chan")
	if err != nil || cp != nil {
		t.Errorf("policy survived delete: (%+v, %v)", cp, err)
	}
}

func TestPolicyStoreMalformedDoc(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store, err := NewPolicyStore(db)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	ctx := context.Background()

	if _, err := db.ExecContext(ctx, `INSERT INTO moderation_policies (channel_id, doc)
		VALUES ('bad-chan', '{"filters": "not an object"}')
		ON CONFLICT (channel_id) DO UPDATE SET doc=EXCLUDED.doc`); err != nil {
		t.Fatalf("seed malformed doc: %v", err)
	}
	if _, err := store.PolicyFor(ctx, "bad-chan"); err == nil {
		t.Error("malformed document loaded without error")
	}
}

func TestSavePolicyRejectsBadBlacklist(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store, err := NewPolicyStore(db)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	doc := &ChannelPolicy{Filters: map[FilterKind]*FilterPolicy{
		FilterBlacklist: {
			Enabled: true,
			Blacklist: []BlacklistEntry{
				{Phrase: `(`, IsRegex: true},
			},
		},
	}}
	if err := store.SavePolicy(context.Background(), "reject-chan", doc); err == nil {
		t.Error("policy with invalid pattern saved without error")
	}
}
