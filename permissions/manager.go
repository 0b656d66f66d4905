package permissions

import "context"

// Manager bundles the registry and the group store into the mutation API the
// administrative command layer and the HTTP admin surface call. Each operation
// is independently atomic; the cascading operations (group delete, permission
// unregister) run their cleanup before removing the parent record.
type Manager struct {
	Registry *Registry
	Store    *Store
}

func NewManager(registry *Registry, store *Store) *Manager {
	return &Manager{Registry: registry, Store: store}
}

// RegisterPermission records a name plugins can gate features behind.
func (m *Manager) RegisterPermission(name, description string) error {
	return m.Registry.Register(name, description)
}

// UnregisterPermission removes a name from the registry and strips it from
// every group that references it, in that order so late readers of the
// registry already see it gone while the sweep runs.
func (m *Manager) UnregisterPermission(ctx context.Context, name string) error {
	m.Registry.Unregister(name)
	return m.Store.RemoveEntryEverywhere(ctx, name)
}

func (m *Manager) CreateGroup(ctx context.Context, channelID, name string) (*Group, error) {
	return m.Store.CreateGroup(ctx, channelID, name)
}

func (m *Manager) DeleteGroup(ctx context.Context, channelID, name string) error {
	return m.Store.DeleteGroup(ctx, channelID, name)
}

func (m *Manager) AddMember(ctx context.Context, channelID, groupName, userID string) error {
	return m.Store.AddMember(ctx, channelID, groupName, userID)
}

func (m *Manager) RemoveMember(ctx context.Context, channelID, groupName, userID string) error {
	return m.Store.RemoveMember(ctx, channelID, groupName, userID)
}

func (m *Manager) AllowPermission(ctx context.Context, channelID, groupName, permission string) error {
	return m.Store.AddEntry(ctx, channelID, groupName, permission, false)
}

func (m *Manager) DenyPermission(ctx context.Context, channelID, groupName, permission string) error {
	return m.Store.AddEntry(ctx, channelID, groupName, permission, true)
}

func (m *Manager) UpdatePermission(ctx context.Context, channelID, groupName, permission string, denied bool) error {
	return m.Store.UpdateEntry(ctx, channelID, groupName, permission, denied)
}

func (m *Manager) RemovePermission(ctx context.Context, channelID, groupName, permission string) error {
	return m.Store.RemoveEntry(ctx, channelID, groupName, permission)
}
