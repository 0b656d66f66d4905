// Package permissions implements custom permission groups and the permission
// resolution algorithm: a per-channel user-level check combined with named
// permission groups supporting allow/deny/inherit semantics, where an explicit
// deny in any group vetoes an allow from any other group.
package permissions

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
)

var whitespaceRun = regexp.MustCompile(`\s+`)

// Normalize canonicalizes a permission name: case-folded with whitespace runs
// collapsed to underscores. All comparison and storage goes through this.
func Normalize(name string) string {
	return whitespaceRun.ReplaceAllString(strings.ToLower(strings.TrimSpace(name)), "_")
}

// Registry is the process-wide set of permission names plugins gate features
// behind, with a human description per name. It is advisory metadata: a group
// may reference a name whether or not it is registered. Reads happen on every
// custom-permission check and never block on a concurrent registration.
type Registry struct {
	names sync.Map // normalized name -> description
}

// NewRegistry returns an empty, isolated registry. Tests and plugin hosts use
// this instead of the process default.
func NewRegistry() *Registry { return &Registry{} }

var defaultRegistry = NewRegistry()

// Default returns the process-wide registry used by the bot runtime.
func Default() *Registry { return defaultRegistry }

// Register records a permission name with its description. Registering an
// already-known name updates the description in place.
func (r *Registry) Register(name, description string) error {
	n := Normalize(name)
	if n == "" {
		return fmt.Errorf("permission name is required")
	}
	r.names.Store(n, description)
	return nil
}

// Unregister removes a name from the registry. Removing the name from groups
// that reference it is the store's cascade (see Manager.UnregisterPermission).
func (r *Registry) Unregister(name string) {
	r.names.Delete(Normalize(name))
}

// Describe returns the stored description for a name.
func (r *Registry) Describe(name string) (string, bool) {
	v, ok := r.names.Load(Normalize(name))
	if !ok {
		return "", false
	}
	return v.(string), true
}

// Names returns all registered names in sorted order.
func (r *Registry) Names() []string {
	var out []string
	r.names.Range(func(k, _ any) bool {
		out = append(out, k.(string))
		return true
	})
	sort.Strings(out)
	return out
}
