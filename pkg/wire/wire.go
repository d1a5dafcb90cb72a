// Package wire implements the text framing used between application servers.
//
// A frame is a list of tokens joined by Separator and closed by Terminator:
//
//	service SEP method SEP arg0 SEP arg1 ... TERM
//
// Neither control byte is escaped. An argument that contains Separator or
// Terminator corrupts the frame it belongs to.
package wire

import (
	"fmt"
	"strings"
)

const (
	// Separator delimits tokens inside a frame (ASCII unit separator).
	Separator byte = 0x1f
	// Terminator ends a frame (ASCII record separator).
	Terminator byte = 0x1e
)

// Format joins service, method and the stringified args with Separator.
func Format(service, method string, args ...any) string {
	var b strings.Builder
	b.Grow(len(service) + len(method) + 1 + len(args)*8)
	b.WriteString(service)
	b.WriteByte(Separator)
	b.WriteString(method)
	for _, arg := range args {
		b.WriteByte(Separator)
		b.WriteString(stringify(arg))
	}
	return b.String()
}

// Frame is Format followed by Terminator.
func Frame(service, method string, args ...any) string {
	return Format(service, method, args...) + string(Terminator)
}

// Split breaks a frame body (without Terminator) into its tokens.
func Split(frame string) []string {
	return strings.Split(frame, string(Separator))
}

func stringify(arg any) string {
	switch v := arg.(type) {
	case string:
		return v
	case []byte:
		return string(v)
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprint(v)
	}
}
