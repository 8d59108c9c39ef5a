package auth

// TokenPair carries the access and refresh tokens issued together at
// login. The pair is always replaced as a unit; handing out one half
// is never valid.
type TokenPair struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
}

// LoginKind distinguishes the two credential flows sharing the same
// lifecycle: the admin portal and the client application.
type LoginKind string

const (
	LoginAdmin  LoginKind = "administrativo"
	LoginClient LoginKind = "cliente"
)
