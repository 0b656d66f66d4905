package levels

// GlobalStanding is a channel-independent per-user standing. Banned vetoes
// every permission check; SuperAdmin bypasses every check.
type GlobalStanding int

const (
	StandingNone GlobalStanding = iota
	StandingBanned
	StandingSuperAdmin
)

func (s GlobalStanding) String() string {
	switch s {
	case StandingBanned:
		return "banned"
	case StandingSuperAdmin:
		return "superadmin"
	}
	return "none"
}

// Actor is the resolved per-channel identity snapshot used for policy checks.
// It is re-derived from badge metadata on every observed chat message; absence
// of badges clears the channel-specific level back to Viewer.
type Actor struct {
	UserID    string
	Login     string
	ChannelID string
	Standing  GlobalStanding
	Level     Level
	// Groups holds permission group ids the actor is a member of. Ids that no
	// longer resolve to a live group are tolerated (treated as absent).
	Groups []string
}
