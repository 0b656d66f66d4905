package permissions

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
)

// Entry is one allow/deny rule inside a group. Names are stored normalized.
type Entry struct {
	Name   string `json:"name"`
	Denied bool   `json:"denied"`
}

// Group is a named custom permission group scoped to a channel. Group names
// are unique per channel, case-insensitively.
type Group struct {
	ID        string
	ChannelID string
	Name      string
	Entries   []Entry
}

// Allows reports whether the group carries a non-denied entry for the
// (already normalized) name.
func (g *Group) Allows(name string) bool {
	for _, e := range g.Entries {
		if e.Name == name && !e.Denied {
			return true
		}
	}
	return false
}

// Denies reports whether the group carries a denied entry for the name.
func (g *Group) Denies(name string) bool {
	for _, e := range g.Entries {
		if e.Name == name && e.Denied {
			return true
		}
	}
	return false
}

// ErrGroupNotFound is returned when a named group does not exist in the
// channel. Dangling group ids in membership lists are not errors; they are
// skipped during resolution.
var ErrGroupNotFound = errors.New("permission group not found")

// ErrEntryNotFound is returned by UpdateEntry when the permission name has no
// entry in the group.
var ErrEntryNotFound = errors.New("permission entry not found")

// GroupSource is the read side the resolver needs: resolve live groups by id,
// silently skipping ids that no longer exist.
type GroupSource interface {
	GroupsByID(ctx context.Context, ids []string) ([]Group, error)
}

// Store persists permission groups and memberships in Postgres. Mutations of a
// single group are serialized through a per-group mutex so concurrent
// read-modify-write cycles on the same group cannot lose updates; different
// groups never contend.
type Store struct {
	DB    *sql.DB
	locks sync.Map // group id -> *sync.Mutex
}

func NewStore(db *sql.DB) *Store { return &Store{DB: db} }

func (s *Store) lockGroup(id string) func() {
	v, _ := s.locks.LoadOrStore(id, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// CreateGroup creates a named group in the channel. Creating a group whose
// name is already taken (case-insensitively) is a no-op success returning the
// existing group.
func (s *Store) CreateGroup(ctx context.Context, channelID, name string) (*Group, error) {
	if channelID == "" || name == "" {
		return nil, fmt.Errorf("channel id and group name are required")
	}
	id := uuid.New().String()
	_, err := s.DB.ExecContext(ctx, `INSERT INTO permission_groups (id, channel_id, name, entries, created_at)
		VALUES ($1, $2, $3, '[]', NOW())
		ON CONFLICT (channel_id, lower(name)) DO NOTHING`, id, channelID, name)
	if err != nil {
		return nil, fmt.Errorf("create group: %w", err)
	}
	return s.GroupByName(ctx, channelID, name)
}

// GroupByName fetches a group by its case-insensitive name within a channel.
func (s *Store) GroupByName(ctx context.Context, channelID, name string) (*Group, error) {
	if channelID == "" || name == "" {
		return nil, fmt.Errorf("channel id and group name are required")
	}
	row := s.DB.QueryRowContext(ctx, `SELECT id, channel_id, name, entries FROM permission_groups
		WHERE channel_id=$1 AND lower(name)=lower($2)`, channelID, name)
	return scanGroup(row)
}

// GroupsByID resolves live groups for the given ids. Ids with no backing row
// (a deletion raced with membership cleanup) are skipped, never an error.
func (s *Store) GroupsByID(ctx context.Context, ids []string) ([]Group, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.DB.QueryContext(ctx, `SELECT id, channel_id, name, entries FROM permission_groups
		WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("load groups: %w", err)
	}
	defer rows.Close()
	var out []Group
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *g)
	}
	return out, rows.Err()
}

// GroupsForChannel lists every group in a channel.
func (s *Store) GroupsForChannel(ctx context.Context, channelID string) ([]Group, error) {
	if channelID == "" {
		return nil, fmt.Errorf("channel id is required")
	}
	rows, err := s.DB.QueryContext(ctx, `SELECT id, channel_id, name, entries FROM permission_groups
		WHERE channel_id=$1 ORDER BY lower(name)`, channelID)
	if err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}
	defer rows.Close()
	var out []Group
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *g)
	}
	return out, rows.Err()
}

// DeleteGroup removes a group, cascading the membership removal first so no
// member keeps a reference past the transaction.
func (s *Store) DeleteGroup(ctx context.Context, channelID, name string) error {
	g, err := s.GroupByName(ctx, channelID, name)
	if err != nil {
		return err
	}
	unlock := s.lockGroup(g.ID)
	defer unlock()
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("delete group begin tx: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM group_members WHERE group_id=$1`, g.ID); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("delete group memberships: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM permission_groups WHERE id=$1`, g.ID); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("delete group: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("delete group commit: %w", err)
	}
	s.locks.Delete(g.ID)
	return nil
}

// AddMember adds a user to a group. Adding an existing member is a no-op.
func (s *Store) AddMember(ctx context.Context, channelID, groupName, userID string) error {
	if userID == "" {
		return fmt.Errorf("user id is required")
	}
	g, err := s.GroupByName(ctx, channelID, groupName)
	if err != nil {
		return err
	}
	_, err = s.DB.ExecContext(ctx, `INSERT INTO group_members (group_id, channel_id, user_id, created_at)
		VALUES ($1, $2, $3, NOW()) ON CONFLICT (group_id, user_id) DO NOTHING`, g.ID, channelID, userID)
	if err != nil {
		return fmt.Errorf("add member: %w", err)
	}
	return nil
}

// RemoveMember removes a user from a group.
func (s *Store) RemoveMember(ctx context.Context, channelID, groupName, userID string) error {
	if userID == "" {
		return fmt.Errorf("user id is required")
	}
	g, err := s.GroupByName(ctx, channelID, groupName)
	if err != nil {
		return err
	}
	if _, err := s.DB.ExecContext(ctx, `DELETE FROM group_members WHERE group_id=$1 AND user_id=$2`, g.ID, userID); err != nil {
		return fmt.Errorf("remove member: %w", err)
	}
	return nil
}

// MembershipsFor returns the group ids a user belongs to in a channel.
func (s *Store) MembershipsFor(ctx context.Context, channelID, userID string) ([]string, error) {
	if channelID == "" || userID == "" {
		return nil, fmt.Errorf("channel id and user id are required")
	}
	rows, err := s.DB.QueryContext(ctx, `SELECT group_id FROM group_members
		WHERE channel_id=$1 AND user_id=$2`, channelID, userID)
	if err != nil {
		return nil, fmt.Errorf("load memberships: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// AddEntry adds an allow or deny entry for a permission name. Adding a name
// the group already carries is a no-op success regardless of its flag; use
// UpdateEntry to change the flag.
func (s *Store) AddEntry(ctx context.Context, channelID, groupName, permission string, denied bool) error {
	return s.mutateEntries(ctx, channelID, groupName, permission, func(entries []Entry, name string) ([]Entry, error) {
		for _, e := range entries {
			if e.Name == name {
				return entries, nil
			}
		}
		return append(entries, Entry{Name: name, Denied: denied}), nil
	})
}

// UpdateEntry replaces the denied flag of an existing entry in place.
func (s *Store) UpdateEntry(ctx context.Context, channelID, groupName, permission string, denied bool) error {
	return s.mutateEntries(ctx, channelID, groupName, permission, func(entries []Entry, name string) ([]Entry, error) {
		for i := range entries {
			if entries[i].Name == name {
				entries[i].Denied = denied
				return entries, nil
			}
		}
		return nil, fmt.Errorf("%w: %s", ErrEntryNotFound, name)
	})
}

// RemoveEntry deletes the entry for a permission name; removing an absent
// entry is a no-op.
func (s *Store) RemoveEntry(ctx context.Context, channelID, groupName, permission string) error {
	return s.mutateEntries(ctx, channelID, groupName, permission, func(entries []Entry, name string) ([]Entry, error) {
		out := entries[:0]
		for _, e := range entries {
			if e.Name != name {
				out = append(out, e)
			}
		}
		return out, nil
	})
}

// RemoveEntryEverywhere strips a permission name from every group in every
// channel that references it. Used by the registry unregister cascade.
// Failures on individual groups are aggregated so one bad group does not stop
// the sweep.
func (s *Store) RemoveEntryEverywhere(ctx context.Context, permission string) error {
	name := Normalize(permission)
	if name == "" {
		return fmt.Errorf("permission name is required")
	}
	rows, err := s.DB.QueryContext(ctx, `SELECT id, channel_id, name FROM permission_groups
		WHERE entries @> $1::jsonb`, fmt.Sprintf(`[{"name":%q}]`, name))
	if err != nil {
		return fmt.Errorf("find referencing groups: %w", err)
	}
	type ref struct{ id, channel, group string }
	var refs []ref
	for rows.Next() {
		var r ref
		if err := rows.Scan(&r.id, &r.channel, &r.group); err != nil {
			rows.Close()
			return err
		}
		refs = append(refs, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}
	var result *multierror.Error
	for _, r := range refs {
		if err := s.RemoveEntry(ctx, r.channel, r.group, name); err != nil {
			slog.Warn("unregister cascade failed for group",
				slog.String("group", r.group), slog.String("channel", r.channel), slog.Any("err", err))
			result = multierror.Append(result, fmt.Errorf("group %s: %w", r.group, err))
		}
	}
	return result.ErrorOrNil()
}

// mutateEntries runs a serialized read-modify-write cycle on a group's entry
// list. The per-group lock guarantees two concurrent mutations of the same
// group cannot interleave; the transaction keeps the write atomic.
func (s *Store) mutateEntries(ctx context.Context, channelID, groupName, permission string, fn func([]Entry, string) ([]Entry, error)) error {
	name := Normalize(permission)
	if name == "" {
		return fmt.Errorf("permission name is required")
	}
	g, err := s.GroupByName(ctx, channelID, groupName)
	if err != nil {
		return err
	}
	unlock := s.lockGroup(g.ID)
	defer unlock()
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("mutate entries begin tx: %w", err)
	}
	row := tx.QueryRowContext(ctx, `SELECT entries FROM permission_groups WHERE id=$1`, g.ID)
	var raw []byte
	if err := row.Scan(&raw); err != nil {
		_ = tx.Rollback()
		if errors.Is(err, sql.ErrNoRows) {
			return ErrGroupNotFound
		}
		return fmt.Errorf("read entries: %w", err)
	}
	var entries []Entry
	if err := json.Unmarshal(raw, &entries); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("decode entries: %w", err)
	}
	next, err := fn(entries, name)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	if next == nil {
		next = []Entry{}
	}
	buf, err := json.Marshal(next)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("encode entries: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE permission_groups SET entries=$1, updated_at=NOW() WHERE id=$2`, buf, g.ID); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("write entries: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("mutate entries commit: %w", err)
	}
	return nil
}

type rowScanner interface{ Scan(dest ...any) error }

func scanGroup(row rowScanner) (*Group, error) {
	var g Group
	var raw []byte
	if err := row.Scan(&g.ID, &g.ChannelID, &g.Name, &raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrGroupNotFound
		}
		return nil, fmt.Errorf("scan group: %w", err)
	}
	if err := json.Unmarshal(raw, &g.Entries); err != nil {
		return nil, fmt.Errorf("decode entries: %w", err)
	}
	return &g, nil
}
