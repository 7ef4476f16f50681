package domain

// Role is the UI-session-local role of the signed-in identity.
// It is assigned from the entry path, never read from stored data.
type Role string

const (
	RoleUnknown Role = "unknown"
	RoleRegular Role = "regular"
	RoleAdmin   Role = "admin"
)

// NavigationFlags are the user-driven inputs to screen resolution.
// The zero value is the public-site default.
type NavigationFlags struct {
	WantsAdminArea   bool `json:"wants_admin_area"`
	WantsUserLogin   bool `json:"wants_user_login"`
	WantsUserProfile bool `json:"wants_user_profile"`
}

// Screen is the single top-level view shown to a visitor tab.
type Screen string

const (
	ScreenPublicSite     Screen = "public_site"
	ScreenAdminLogin     Screen = "admin_login"
	ScreenAdminDashboard Screen = "admin_dashboard"
	ScreenUserLogin      Screen = "user_login"
	ScreenUserProfile    Screen = "user_profile"
)
