package models

// UnknownName is shown in place of a display name the provider did not supply.
const UnknownName = "Unknown"

// Identity is the authenticated principal exposed to handlers for the lifetime of one request.
type Identity struct {
	Subject  string `json:"sub"`
	Name     string `json:"name,omitempty"`
	Email    string `json:"email,omitempty"`
	Provider string `json:"provider,omitempty"`
}

// DisplayName returns Name, or UnknownName when it is absent.
func (i Identity) DisplayName() string {
	if i.Name == "" {
		return UnknownName
	}
	return i.Name
}
