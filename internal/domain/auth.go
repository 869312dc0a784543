package domain

// TokenKind differentiates the token families issued by the service. The
// kind travels as a claim so one family's token never validates as
// another's.
type TokenKind string

const (
	TokenKindAccess        TokenKind = "ACCESS"
	TokenKindRefresh       TokenKind = "REFRESH"
	TokenKindPasswordReset TokenKind = "PASSWORD_RESET"
)
