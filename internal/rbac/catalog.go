package rbac

import (
	"fmt"
	"sort"
)

// Module is a protected area of the application that permissions are granted
// against. The catalog is static and read-only at runtime.
type Module struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Category    string `json:"category"`
}

// ModuleGroup bundles the modules of one category for role-editing UIs.
type ModuleGroup struct {
	Category string   `json:"category"`
	Modules  []Module `json:"modules"`
}

const (
	CategoryGeneral        = "General"
	CategoryOperations     = "Operations"
	CategoryAdministration = "Administration"
)

var catalog = []Module{
	{ID: "dashboard", DisplayName: "Dashboard", Category: CategoryGeneral},
	{ID: "reports", DisplayName: "Reports", Category: CategoryGeneral},
	{ID: "customers", DisplayName: "Customers", Category: CategoryOperations},
	{ID: "tickets", DisplayName: "Tickets", Category: CategoryOperations},
	{ID: "invoices", DisplayName: "Invoices", Category: CategoryOperations},
	{ID: "products", DisplayName: "Products", Category: CategoryOperations},
	{ID: "users", DisplayName: "Users", Category: CategoryAdministration},
	{ID: "roles", DisplayName: "Roles", Category: CategoryAdministration},
	{ID: "settings", DisplayName: "Settings", Category: CategoryAdministration},
	{ID: "audit_logs", DisplayName: "Audit Logs", Category: CategoryAdministration},
}

var catalogByID = func() map[string]Module {
	m := make(map[string]Module, len(catalog))
	for _, mod := range catalog {
		m[mod.ID] = mod
	}
	return m
}()

// categoryOrder fixes the grouping order returned by Modules.
var categoryOrder = []string{CategoryGeneral, CategoryOperations, CategoryAdministration}

// Modules returns the full catalog grouped by category in stable order.
func Modules() []ModuleGroup {
	byCategory := make(map[string][]Module)
	for _, mod := range catalog {
		byCategory[mod.Category] = append(byCategory[mod.Category], mod)
	}
	groups := make([]ModuleGroup, 0, len(categoryOrder))
	for _, cat := range categoryOrder {
		mods := byCategory[cat]
		if len(mods) == 0 {
			continue
		}
		sort.Slice(mods, func(i, j int) bool { return mods[i].ID < mods[j].ID })
		groups = append(groups, ModuleGroup{Category: cat, Modules: mods})
	}
	return groups
}

// ModuleByID looks up a catalog entry.
func ModuleByID(id string) (Module, bool) {
	mod, ok := catalogByID[id]
	return mod, ok
}

// ParseKind validates a raw permission kind value.
func ParseKind(raw string) (Kind, error) {
	switch Kind(raw) {
	case KindView, KindCreate, KindEdit, KindDelete:
		return Kind(raw), nil
	default:
		return "", fmt.Errorf("%w: unknown permission kind %q", ErrInvalidInput, raw)
	}
}

// ValidateGrants checks every module of the set against the catalog. Empty
// kind sets are rejected; callers normalize first if they want them dropped.
func ValidateGrants(grants GrantSet) error {
	for module, kinds := range grants {
		if _, ok := ModuleByID(module); !ok {
			return fmt.Errorf("%w: unknown module %q", ErrInvalidGrant, module)
		}
		if kinds.Empty() {
			return fmt.Errorf("%w: module %q has no permission kinds", ErrInvalidGrant, module)
		}
	}
	return nil
}
