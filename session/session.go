package session

// Console roles recognised by the dashboards.
const (
	RoleAdmin      = "admin"
	RoleStore      = "store"
	RoleProduction = "production"
	RoleFleet      = "fleet"
	RoleFinance    = "finance"
	RoleVendor     = "vendor"
	RoleWarehouse  = "warehouse"
)

// User is the authenticated identity behind a session.
type User struct {
	ID            string   `json:"id"`
	DisplayName   string   `json:"displayName"`
	Role          string   `json:"role"`
	AssignedUnits []string `json:"assignedUnits"`
	PrimaryUnit   string   `json:"primaryUnit,omitempty"`
}

// CanOperate reports whether the user may select the given unit as their
// active operating unit.
func (u *User) CanOperate(unitID string) bool {
	if u == nil || unitID == "" {
		return false
	}
	if unitID == u.PrimaryUnit {
		return true
	}
	for _, id := range u.AssignedUnits {
		if id == unitID {
			return true
		}
	}
	return false
}

// Session is the client's authenticated state: the bearer token, the
// identity it belongs to, and the currently selected operating unit.
// Token and User are either both present or both absent.
type Session struct {
	Token      string `json:"token,omitempty"`
	User       *User  `json:"user,omitempty"`
	ActiveUnit string `json:"activeUnit,omitempty"`
}

// Authenticated reports whether the session carries an identity.
func (s Session) Authenticated() bool {
	return s.Token != "" && s.User != nil
}

// deriveActiveUnit picks the initial operating unit at login: the primary
// unit when set, otherwise the first assigned unit.
func deriveActiveUnit(u *User) string {
	if u == nil {
		return ""
	}
	if u.PrimaryUnit != "" {
		return u.PrimaryUnit
	}
	if len(u.AssignedUnits) > 0 {
		return u.AssignedUnits[0]
	}
	return ""
}
