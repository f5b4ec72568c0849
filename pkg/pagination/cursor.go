package pagination

import "fmt"

// CursorState is the lifecycle state of a partition cursor.
type CursorState int

const (
	// CursorUnfetched means no page has been requested yet.
	CursorUnfetched CursorState = iota

	// CursorToken means the next page is addressed by Token.
	CursorToken

	// CursorExhausted means the partition has no further pages this session.
	CursorExhausted
)

// String returns the state name.
func (s CursorState) String() string {
	switch s {
	case CursorUnfetched:
		return "unfetched"
	case CursorToken:
		return "token"
	case CursorExhausted:
		return "exhausted"
	default:
		return fmt.Sprintf("CursorState(%d)", int(s))
	}
}

// Cursor is the resume point of one partition.
type Cursor struct {
	State CursorState `json:"state"`
	Token string      `json:"token,omitempty"`
}

// Unfetched returns the initial cursor.
func Unfetched() Cursor {
	return Cursor{State: CursorUnfetched}
}

// TokenCursor returns a cursor that resumes at token.
func TokenCursor(token string) Cursor {
	return Cursor{State: CursorToken, Token: token}
}

// Exhausted returns the terminal cursor.
func Exhausted() Cursor {
	return Cursor{State: CursorExhausted}
}

// IsExhausted reports whether the cursor is terminal.
func (c Cursor) IsExhausted() bool {
	return c.State == CursorExhausted
}

// PageToken returns the token to send for the next page ("" for the first page).
func (c Cursor) PageToken() string {
	if c.State == CursorToken {
		return c.Token
	}
	return ""
}

// String renders the cursor for logs.
func (c Cursor) String() string {
	if c.State == CursorToken {
		return "token(" + c.Token + ")"
	}
	return c.State.String()
}
