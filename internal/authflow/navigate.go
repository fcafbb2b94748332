package authflow

import "marketplace-auth/internal/model"

const (
	RouteHome                = "/"
	RouteOnboarding          = "/onboarding"
	RouteFreelancerDashboard = "/freelancer/dashboard"
	RouteClientDashboard     = "/client/dashboard"
	RouteAdminDashboard      = "/admin/dashboard"
)

type Navigator interface {
	Navigate(route string)
}

type NavigatorFunc func(route string)

func (f NavigatorFunc) Navigate(route string) {
	f(route)
}

func DashboardRoute(role model.Role) string {
	switch role {
	case model.RoleFreelancer:
		return RouteFreelancerDashboard
	case model.RoleClient:
		return RouteClientDashboard
	case model.RoleAdmin:
		return RouteAdminDashboard
	default:
		return RouteHome
	}
}

// RouteAfterVerify picks where to go once an OTP challenge succeeds. New
// registrations always go through onboarding.
func RouteAfterVerify(flow Flow, user model.User, activeRole model.Role) string {
	if flow == FlowRegister || !user.ProfileCompleted {
		return RouteOnboarding
	}
	return DashboardRoute(activeRole)
}
