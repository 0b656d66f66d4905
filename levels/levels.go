// Package levels defines the per-channel user level vocabulary shared by the
// permission resolver and the moderation engine: a bit-set of held levels with
// mixed ranked/flag semantics, the channel-independent global standing, and
// badge parsing for deriving a level from Twitch chat metadata.
package levels

import (
	"fmt"
	"sort"
	"strings"
)

// Level is a bit-set of user levels held in a channel. Viewer is the universal
// "anyone" bit. TwitchStaff > TwitchAdmin > Moderator form a ranked hierarchy;
// VIP and Subscriber are plain flags. Broadcaster satisfies everything.
// Custom means "also consult named permission groups".
type Level uint16

const (
	Viewer Level = 1 << iota
	Subscriber
	VIP
	Moderator
	Broadcaster
	TwitchStaff
	TwitchAdmin
	Custom

	// None means no level held in the channel at all.
	None Level = 0

	flagBits   = Subscriber | VIP
	rankedBits = Moderator | TwitchAdmin | TwitchStaff
)

var levelNames = map[Level]string{
	Viewer:      "viewer",
	Subscriber:  "subscriber",
	VIP:         "vip",
	Moderator:   "moderator",
	Broadcaster: "broadcaster",
	TwitchStaff: "twitch_staff",
	TwitchAdmin: "twitch_admin",
	Custom:      "custom",
}

// Has reports whether l includes every bit of want.
func (l Level) Has(want Level) bool { return l&want == want }

// HasAny reports whether l includes at least one bit of want.
func (l Level) HasAny(want Level) bool { return l&want != 0 }

// rankValue maps a single ranked bit to its position in the hierarchy.
// Higher value outranks lower. Non-ranked bits map to 0.
func rankValue(bit Level) int {
	switch bit {
	case Moderator:
		return 1
	case TwitchAdmin:
		return 2
	case TwitchStaff:
		return 3
	}
	return 0
}

// maxRank returns the highest rank value held in l, or 0 when l holds no
// ranked bit.
func maxRank(l Level) int {
	best := 0
	for _, bit := range []Level{Moderator, TwitchAdmin, TwitchStaff} {
		if l.Has(bit) {
			if v := rankValue(bit); v > best {
				best = v
			}
		}
	}
	return best
}

// minRequiredRank returns the lowest rank value demanded by required, or 0
// when required names no ranked bit.
func minRequiredRank(required Level) int {
	min := 0
	for _, bit := range []Level{Moderator, TwitchAdmin, TwitchStaff} {
		if required.Has(bit) {
			v := rankValue(bit)
			if min == 0 || v < min {
				min = v
			}
		}
	}
	return min
}

// SatisfiesRank reports whether a ranked bit held in held meets the ranked
// threshold demanded by required. Holding a higher rank satisfies any
// requirement at or below it. Returns false when either side carries no
// ranked bit, so flags never leak into rank comparison.
func SatisfiesRank(held, required Level) bool {
	threshold := minRequiredRank(required)
	if threshold == 0 {
		return false
	}
	return maxRank(held) >= threshold
}

// HasFlag reports whether held carries a non-ranked flag (VIP, Subscriber)
// that required explicitly names. Flags only ever satisfy exact-flag
// requirements.
func HasFlag(held, required Level) bool {
	return held&required&flagBits != 0
}

// Names returns the canonical lower-case names of every bit set in l,
// in a stable order.
func (l Level) Names() []string {
	var out []string
	for bit, name := range levelNames {
		if l.Has(bit) {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

func (l Level) String() string {
	if l == None {
		return "none"
	}
	return strings.Join(l.Names(), "|")
}

// Parse resolves a single level name to its bit. Names are matched
// case-insensitively.
func Parse(name string) (Level, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	if n == "" || n == "none" {
		return None, nil
	}
	for bit, s := range levelNames {
		if s == n {
			return bit, nil
		}
	}
	return None, fmt.Errorf("unknown level %q", name)
}

// ParseSet resolves a list of level names to a combined bit-set.
func ParseSet(names []string) (Level, error) {
	var l Level
	for _, n := range names {
		bit, err := Parse(n)
		if err != nil {
			return None, err
		}
		l |= bit
	}
	return l, nil
}

// FromBadges derives a channel level from Twitch badge metadata. Precedence
// when multiple badges are present is Staff > Admin > Broadcaster > Moderator
// > Subscriber > VIP, first match wins. A user with no recognized badges is a
// plain Viewer.
func FromBadges(badges map[string]int) Level {
	checks := []struct {
		badge string
		level Level
	}{
		{"staff", TwitchStaff},
		{"admin", TwitchAdmin},
		{"global_mod", TwitchAdmin},
		{"broadcaster", Broadcaster},
		{"moderator", Moderator},
		{"subscriber", Subscriber},
		{"founder", Subscriber},
		{"vip", VIP},
	}
	for _, c := range checks {
		if badges[c.badge] > 0 {
			return c.level
		}
	}
	return Viewer
}
