// Package credentials resolves the access token used to authenticate
// against the remote store.
//
// A token comes from an environment variable or from an AWS Secrets
// Manager secret. Its value never reaches logs or error messages: Token
// formats as a redaction marker.
package credentials

import (
	"log/slog"
)

const redacted = "[REDACTED]"

// Token is an access token whose value is hidden from formatting and logging.
type Token struct {
	value string
}

// NewToken wraps value as a Token.
func NewToken(value string) Token {
	return Token{value: value}
}

// Reveal returns the token value. Call it only where the value is handed
// to the remote client.
func (t Token) Reveal() string {
	return t.value
}

// IsZero reports whether the token is empty.
func (t Token) IsZero() bool {
	return t.value == ""
}

// String implements fmt.Stringer.
func (t Token) String() string {
	return redacted
}

// GoString implements fmt.GoStringer so %#v does not leak the value.
func (t Token) GoString() string {
	return "credentials.Token{" + redacted + "}"
}

// LogValue implements slog.LogValuer.
func (t Token) LogValue() slog.Value {
	return slog.StringValue(redacted)
}

var (
	_ slog.LogValuer = Token{}
)
