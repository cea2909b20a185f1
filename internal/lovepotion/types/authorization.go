package types

// AuthorizationResult is the user directory's answer for one credential.
// Principal is empty when the id is unknown.
type AuthorizationResult struct {
	Authorized bool   `json:"authorized"`
	Principal  string `json:"principal,omitempty"`
}

// User is one entry of the user directory.
type User struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Enabled bool   `json:"enabled"`
}
