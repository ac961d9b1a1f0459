package models

// Workspace is one country program the copilot can be pointed at.
type Workspace struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Flag  string `json:"flag"`
	Color string `json:"color"`
}

// UserProfile is stored per workspace.
type UserProfile struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
	Bio       string `json:"bio"`
}

// ProfilePatch carries a partial profile update; nil fields are left alone.
type ProfilePatch struct {
	FirstName *string `json:"firstName"`
	LastName  *string `json:"lastName"`
	Email     *string `json:"email"`
	Bio       *string `json:"bio"`
}

// Apply merges the non-nil fields of the patch into p.
func (p UserProfile) Apply(patch ProfilePatch) UserProfile {
	if patch.FirstName != nil {
		p.FirstName = *patch.FirstName
	}
	if patch.LastName != nil {
		p.LastName = *patch.LastName
	}
	if patch.Email != nil {
		p.Email = *patch.Email
	}
	if patch.Bio != nil {
		p.Bio = *patch.Bio
	}
	return p
}
