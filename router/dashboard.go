package router

import "github.com/Marveltechapps/selorg-console-core/session"

// Dashboard identifiers used by the encompassing routing layer.
const (
	DashboardAdmin      = "admin"
	DashboardStore      = "store"
	DashboardProduction = "production"
	DashboardFleet      = "fleet"
	DashboardFinance    = "finance"
	DashboardVendor     = "vendor"
	DashboardWarehouse  = "warehouse"
)

// defaultDashboard is where unrecognised roles land.
const defaultDashboard = DashboardStore

var dashboards = map[string]string{
	session.RoleAdmin:      DashboardAdmin,
	session.RoleStore:      DashboardStore,
	session.RoleProduction: DashboardProduction,
	session.RoleFleet:      DashboardFleet,
	session.RoleFinance:    DashboardFinance,
	session.RoleVendor:     DashboardVendor,
	session.RoleWarehouse:  DashboardWarehouse,
}

// DashboardFor maps a role to its dashboard. Unrecognised roles fall back to
// the default dashboard.
func DashboardFor(role string) string {
	if d, ok := dashboards[role]; ok {
		return d
	}
	return defaultDashboard
}

// Authorize resolves a dashboard request: a role asking for a dashboard it
// does not own is redirected to its own.
func Authorize(role, requested string) string {
	own := DashboardFor(role)
	if requested == own || (role == session.RoleAdmin && requested != "") {
		if _, known := dashboardKnown(requested); known {
			return requested
		}
	}
	return own
}

func dashboardKnown(d string) (string, bool) {
	for _, v := range dashboards {
		if v == d {
			return d, true
		}
	}
	return "", false
}
