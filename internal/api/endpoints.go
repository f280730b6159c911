package api

// Authentication service endpoints
const (
	// Service name
	AuthService = "authcore.v1.Auth"

	// Session lifecycle endpoints
	AuthRegister        = "/authcore.v1.Auth/Register"
	AuthLogin           = "/authcore.v1.Auth/Login"
	AuthLogout          = "/authcore.v1.Auth/Logout"
	AuthValidateSession = "/authcore.v1.Auth/ValidateSession"

	// Endpoints that require a live session
	AuthRefreshSession = "/authcore.v1.Auth/RefreshSession"
	AuthMe             = "/authcore.v1.Auth/Me"
)

// PublicEndpoints defines endpoints that don't require authentication
var PublicEndpoints = map[string]bool{
	AuthRegister:        true,
	AuthLogin:           true,
	AuthLogout:          true,
	AuthValidateSession: true,
	AuthRefreshSession:  false,
	AuthMe:              false,
}

// IsProtected reports whether method needs a validated session. Unknown
// methods are protected.
func IsProtected(method string) bool {
	isPublic, exists := PublicEndpoints[method]
	return !exists || !isPublic
}
