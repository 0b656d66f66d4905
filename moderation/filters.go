package moderation

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// EmotePosition is a half-open rune range [Start, End] into the message text,
// as reported by the chat transport.
type EmotePosition struct {
	Start int
	End   int
}

// StripEmotes removes the rune ranges covered by emotes. Out-of-bounds or
// inverted positions are clamped, never an error; transports occasionally
// report indexes past the end of a trimmed message.
func StripEmotes(text string, positions []EmotePosition) string {
	if len(positions) == 0 {
		return text
	}
	runes := []rune(text)
	keep := make([]bool, len(runes))
	for i := range keep {
		keep[i] = true
	}
	for _, p := range positions {
		start, end := p.Start, p.End
		if start < 0 {
			start = 0
		}
		if end >= len(runes) {
			end = len(runes) - 1
		}
		for i := start; i <= end && i < len(runes); i++ {
			keep[i] = false
		}
	}
	var b strings.Builder
	b.Grow(len(text))
	for i, r := range runes {
		if keep[i] {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// normalizeText applies NFKC so visually equivalent codepoint sequences
// compare equal in the run and word checks.
func normalizeText(s string) string {
	return norm.NFKC.String(s)
}

// triggersCaps reports whether the stripped text is long enough and loud
// enough. A stripped length of zero is a defined non-trigger, and an unset
// percentage threshold disables the check.
func triggersCaps(stripped string, p *FilterPolicy) bool {
	runes := []rune(stripped)
	n := len(runes)
	if n == 0 || n < p.MinimumMessageLength {
		return false
	}
	if p.MaximumPercentage <= 0 {
		return false
	}
	upper := 0
	for _, r := range runes {
		if unicode.IsUpper(r) {
			upper++
		}
	}
	return upper*100/n >= p.MaximumPercentage
}

func isSymbol(r rune) bool {
	return unicode.IsSymbol(r) || unicode.IsPunct(r)
}

// triggersSymbols fires on either a high symbol ratio or a long run of one
// identical symbol.
func triggersSymbols(stripped string, p *FilterPolicy) bool {
	runes := []rune(stripped)
	n := len(runes)
	if n == 0 || n < p.MinimumMessageLength {
		return false
	}
	symbols := 0
	run, longestRun := 0, 0
	var prev rune
	for _, r := range runes {
		if isSymbol(r) {
			symbols++
			if r == prev {
				run++
			} else {
				run = 1
			}
			if run > longestRun {
				longestRun = run
			}
		} else {
			run = 0
		}
		prev = r
	}
	if p.MaximumGrouped > 0 && longestRun >= p.MaximumGrouped {
		return true
	}
	return p.MaximumPercentage > 0 && symbols*100/n >= p.MaximumPercentage
}

// triggersZalgo fires on combining marks and the control/format runes used to
// stack glyphs into glitch text.
func triggersZalgo(text string) bool {
	for _, r := range text {
		if unicode.In(r, unicode.Mn, unicode.Me) {
			return true
		}
		if r >= 0x0300 && r <= 0x036F { // combining diacritical marks
			return true
		}
		if r >= 0x1AB0 && r <= 0x1AFF { // combining diacritical marks extended
			return true
		}
		if r >= 0x20D0 && r <= 0x20FF { // combining marks for symbols
			return true
		}
		if r >= 0xFE20 && r <= 0xFE2F { // combining half marks
			return true
		}
	}
	return false
}

// tlds is the bare-domain TLD alternation, derived from the IANA TLD
// registry. Regenerate from https://data.iana.org/TLD/tlds-alpha-by-domain.txt
// when coverage gaps show up; ordering is longest-first within each group so
// the alternation never stops at a prefix.
var tlds = []string{
	// original gTLDs and infrastructure
	"com", "net", "org", "edu", "gov", "mil", "int", "arpa",
	"info", "biz", "name", "pro", "aero", "asia", "cat", "coop",
	"jobs", "mobi", "museum", "post", "tel", "travel", "xxx",
	// new gTLDs commonly used in chat spam
	"app", "dev", "page", "blog", "shop", "store", "online", "site",
	"website", "space", "tech", "cloud", "host", "press", "news",
	"stream", "live", "video", "media", "chat", "social", "email",
	"download", "link", "click", "win", "bet", "casino", "money",
	"cash", "gold", "vip", "top", "best", "cool", "fun", "games",
	"game", "play", "run", "world", "life", "today", "guru", "ninja",
	"agency", "digital", "network", "systems", "solutions", "support",
	"services", "company", "group", "team", "zone", "works", "tools",
	"gift", "gifts", "free", "market", "sale", "deals", "codes",
	"club", "city", "land", "wiki", "review", "reviews", "rocks",
	"expert", "exchange", "finance", "financial", "capital", "fund",
	"credit", "loan", "loans", "porn", "sex", "adult", "date",
	"dating", "singles", "xyz", "lol", "wtf", "fail", "pics",
	"photo", "photos", "art", "design", "studio", "band", "fm",
	// ccTLDs seen in links, including the vanity ones
	"ac", "ad", "ae", "af", "ag", "ai", "al", "am", "ar", "at",
	"au", "az", "ba", "bd", "be", "bg", "bh", "bo", "br", "by",
	"bz", "ca", "cc", "cd", "ch", "cl", "cm", "cn", "co", "cr",
	"cu", "cx", "cz", "de", "dk", "do", "dz", "ec", "ee", "eg",
	"es", "eu", "fi", "fo", "fr", "ga", "gd", "ge", "gg", "gl",
	"gr", "gs", "gt", "gy", "hk", "hn", "hr", "ht", "hu", "id",
	"ie", "il", "im", "in", "io", "iq", "ir", "is", "it", "je",
	"jm", "jo", "jp", "ke", "kg", "kh", "kr", "kw", "ky", "kz",
	"la", "lb", "li", "lk", "lt", "lu", "lv", "ly", "ma", "md",
	"me", "mk", "ml", "mm", "mn", "mo", "ms", "mt", "mu", "mv",
	"mx", "my", "ng", "ni", "nl", "no", "np", "nu", "nz", "om",
	"pa", "pe", "ph", "pk", "pl", "pm", "pr", "ps", "pt", "pw",
	"py", "qa", "re", "ro", "rs", "ru", "rw", "sa", "sb", "sc",
	"se", "sg", "sh", "si", "sk", "sn", "so", "st", "su", "sv",
	"sx", "sy", "th", "tj", "tk", "tm", "tn", "to", "tr", "tt",
	"tv", "tw", "ua", "ug", "uk", "us", "uy", "uz", "vc", "ve",
	"vg", "vn", "vu", "ws", "ye", "za", "zm", "zw",
}

// linkPattern recognizes scheme://host forms, www-prefixed hosts, bare
// domains with a known TLD, and a few non-http URI schemes used to smuggle
// links past naive matchers.
var linkPattern = regexp.MustCompile(`(?i)\b(` +
	`(?:https?|ftp|ftps|irc|ircs)://\S+` +
	`|www\.[a-z0-9-]+(?:\.[a-z0-9-]+)+(?:/\S*)?` +
	`|[a-z0-9-]+(?:\.[a-z0-9-]+)*\.(?:` + strings.Join(tlds, "|") + `)\b(?:/\S*)?` +
	`)`)

func triggersLinks(text string) bool {
	return linkPattern.MatchString(text)
}

// triggersLengthy is the only strict comparison in the bank: the raw message
// must exceed the maximum, not merely reach it.
func triggersLengthy(text string, p *FilterPolicy) bool {
	return p.MaximumLength > 0 && len([]rune(text)) > p.MaximumLength
}

// triggersRepetition fires on a run of an identical character or of an
// identical whole word in the normalized stripped text.
func triggersRepetition(stripped string, p *FilterPolicy) bool {
	text := normalizeText(stripped)
	runes := []rune(text)
	if len(runes) == 0 || len(runes) < p.MinimumMessageLength {
		return false
	}

	if p.MaximumRepeatingCharacters > 0 {
		run := 0
		var prev rune
		for i, r := range runes {
			if i > 0 && r == prev {
				run++
			} else {
				run = 1
			}
			if run >= p.MaximumRepeatingCharacters {
				return true
			}
			prev = r
		}
	}

	if p.MaximumRepeatingWords > 0 {
		words := strings.Fields(strings.ToLower(text))
		run := 0
		prev := ""
		for i, w := range words {
			if i > 0 && w == prev {
				run++
			} else {
				run = 1
			}
			if run >= p.MaximumRepeatingWords {
				return true
			}
			prev = w
		}
	}
	return false
}

// triggersEmotes fires on too many emotes, or on an emote-only message when
// the policy forbids those.
func triggersEmotes(text string, positions []EmotePosition, p *FilterPolicy) bool {
	count := len(positions)
	if count == 0 {
		return false
	}
	if p.MaximumAllowedEmotes > 0 && count >= p.MaximumAllowedEmotes {
		return true
	}
	if p.OnlyEmotes {
		stripped := strings.TrimSpace(StripEmotes(text, positions))
		return stripped == ""
	}
	return false
}

// fakePurgeNotices is the fixed set of deletion-notice strings users paste to
// fake a moderator action.
var fakePurgeNotices = []string{
	"<message deleted>",
	"message purged by a moderator",
	"message deleted by a moderator",
}

func triggersFakePurge(text string) bool {
	trimmed := strings.TrimSpace(text)
	for _, notice := range fakePurgeNotices {
		if strings.EqualFold(trimmed, notice) {
			return true
		}
	}
	return false
}

// actionPrefix is the IRC CTCP ACTION form as it reaches us after transport
// decoding, plus the user-typed command form.
func triggersAction(text string, isAction bool) bool {
	return isAction || strings.HasPrefix(text, "/me ") || strings.HasPrefix(text, ".me ")
}
