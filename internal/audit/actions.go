package audit

import "strings"

// Action codes emitted by this service. Collaborators may record their own
// codes; anything unknown defaults to low severity.
const (
	ActionRoleCreated     = "role.created"
	ActionRoleUpdated     = "role.updated"
	ActionRoleDeleted     = "role.deleted"
	ActionUsersReassigned = "role.users_reassigned"
	ActionUserCreated     = "user.created"
	ActionUserUpdated     = "user.updated"
	ActionUserDeleted     = "user.deleted"
	ActionUserRoleChanged = "user.role_changed"
	ActionSettingsUpdated = "settings.updated"
	ActionLoginSucceeded  = "auth.login"
	ActionLoginFailed     = "auth.login_failed"
	ActionLogout          = "auth.logout"
	ActionAuditExported   = "audit.exported"
	ActionAuditCleanup    = "audit.cleanup"
)

var severityByAction = map[string]Severity{
	ActionRoleCreated:     SeverityLow,
	ActionRoleUpdated:     SeverityMedium,
	ActionRoleDeleted:     SeverityMedium,
	ActionUsersReassigned: SeverityMedium,
	ActionUserCreated:     SeverityLow,
	ActionUserUpdated:     SeverityLow,
	ActionUserDeleted:     SeverityHigh,
	ActionUserRoleChanged: SeverityMedium,
	ActionSettingsUpdated: SeverityMedium,
	ActionLoginSucceeded:  SeverityLow,
	ActionLoginFailed:     SeverityMedium,
	ActionLogout:          SeverityLow,
	ActionAuditExported:   SeverityLow,
	ActionAuditCleanup:    SeverityMedium,
}

// SeverityOf maps an action code to its severity. Unknown codes are low.
func SeverityOf(action string) Severity {
	if sev, ok := severityByAction[action]; ok {
		return sev
	}
	return SeverityLow
}

// DisplayName derives the human label of an action code: separators become
// spaces and each word is title-cased. The derivation is pure and stable so
// exported reports stay reproducible.
func DisplayName(action string) string {
	replaced := strings.NewReplacer(".", " ", "_", " ", "-", " ").Replace(action)
	words := strings.Fields(replaced)
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + strings.ToLower(w[1:])
	}
	return strings.Join(words, " ")
}
