package exec

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrEmptyArgument         = errors.New("argument is empty")
	ErrArgumentNullByte      = errors.New("argument contains a null byte")
	ErrArgumentControlChar   = errors.New("argument contains control characters")
	ErrArgumentShellMetachar = errors.New("argument contains shell metacharacters")
)

// classifyArgument returns the first violation found in arg, or nil if it's
// safe. Arguments are checked less strictly than executable values — a
// leading dash or embedded quote is fine, since those are common in
// legitimate flags and quoted strings.
func classifyArgument(arg string) error {
	switch {
	case arg == "":
		return ErrEmptyArgument
	case strings.Contains(arg, "\x00"):
		return ErrArgumentNullByte
	case ControlChars.MatchString(arg):
		return ErrArgumentControlChar
	case ShellMetachars.MatchString(arg):
		return ErrArgumentShellMetachar
	default:
		return nil
	}
}

// IsSafeArgument reports whether arg is safe to pass as a command argument.
func IsSafeArgument(arg string) bool {
	return classifyArgument(arg) == nil
}

// SanitizeArgument validates arg and returns it unchanged if safe, or the
// specific error describing why it was rejected.
func SanitizeArgument(arg string) (string, error) {
	if err := classifyArgument(arg); err != nil {
		return "", err
	}
	return arg, nil
}

// SanitizeArguments validates every element of args, returning a new slice
// of the same arguments if all pass, or an *ArgumentError naming the first
// one that doesn't.
func SanitizeArguments(args []string) ([]string, error) {
	if args == nil {
		return nil, nil
	}

	result := make([]string, 0, len(args))
	for i, arg := range args {
		sanitized, err := SanitizeArgument(arg)
		if err != nil {
			return nil, &ArgumentError{Index: i, Arg: arg, Err: err}
		}
		result = append(result, sanitized)
	}
	return result, nil
}

// ArgumentError names which positional argument failed SanitizeArguments and
// why.
type ArgumentError struct {
	Index int
	Arg   string
	Err   error
}

func (e *ArgumentError) Error() string {
	return fmt.Sprintf("argument %d is unsafe: %s", e.Index, e.Err)
}

func (e *ArgumentError) Unwrap() error {
	return e.Err
}
