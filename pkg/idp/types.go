package idp

// TokenPair is the credential set returned by the token endpoint.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
	TokenType    string `json:"token_type"`
}

// Defaults applied when the token endpoint omits a field.
const (
	DefaultExpiresIn = 300
	DefaultTokenType = "Bearer"
)

// UserRepresentation is the subset of the admin API user document we read
// and write.
type UserRepresentation struct {
	ID               string                     `json:"id,omitempty"`
	Username         string                     `json:"username,omitempty"`
	Email            string                     `json:"email,omitempty"`
	FirstName        string                     `json:"firstName,omitempty"`
	LastName         string                     `json:"lastName,omitempty"`
	Enabled          bool                       `json:"enabled"`
	EmailVerified    bool                       `json:"emailVerified"`
	RequiredActions  []string                   `json:"requiredActions"`
	Credentials      []CredentialRepresentation `json:"credentials,omitempty"`
	CreatedTimestamp int64                      `json:"createdTimestamp,omitempty"`
}

// FullName composes the display name stored locally.
func (u *UserRepresentation) FullName() string {
	return joinName(u.FirstName, u.LastName)
}

// CredentialRepresentation is a password credential
type CredentialRepresentation struct {
	Type      string `json:"type"`
	Value     string `json:"value"`
	Temporary bool   `json:"temporary"`
}

// UserPatch is a partial user update. Nil fields are left untouched by the
// identity provider.
type UserPatch struct {
	FirstName       *string   `json:"firstName,omitempty"`
	LastName        *string   `json:"lastName,omitempty"`
	Email           *string   `json:"email,omitempty"`
	Enabled         *bool     `json:"enabled,omitempty"`
	EmailVerified   *bool     `json:"emailVerified,omitempty"`
	RequiredActions *[]string `json:"requiredActions,omitempty"`
}

// Empty reports whether the patch would change nothing
func (p UserPatch) Empty() bool {
	return p.FirstName == nil && p.LastName == nil && p.Email == nil &&
		p.Enabled == nil && p.EmailVerified == nil && p.RequiredActions == nil
}
