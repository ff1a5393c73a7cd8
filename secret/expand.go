package secret

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"slices"
	"strings"
)

// ErrMissingEnv is returned when a referenced variable is unset and has
// no default.
var ErrMissingEnv = errors.New("secret: missing environment variable")

// LookupFunc reports the value of a variable and whether it is set.
type LookupFunc func(name string) (string, bool)

var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:-([^}]*))?\}`)

const literalDollar = "\x00calcops-dollar\x00"

// Expand replaces every ${NAME} and ${NAME:-default} in s using lookup.
// Bare $NAME is left alone so passwords may contain dollar signs; "$$"
// yields "$". Every unset variable without a default is reported.
func Expand(s string, lookup LookupFunc) (string, error) {
	if !strings.Contains(s, "$") {
		return s, nil
	}
	s = strings.ReplaceAll(s, "$$", literalDollar)

	var missing []string
	s = envRef.ReplaceAllStringFunc(s, func(m string) string {
		sub := envRef.FindStringSubmatch(m)
		if v, ok := lookup(sub[1]); ok {
			return v
		}
		if sub[2] != "" {
			return sub[3]
		}
		if !slices.Contains(missing, sub[1]) {
			missing = append(missing, sub[1])
		}
		return ""
	})
	if len(missing) > 0 {
		slices.Sort(missing)
		return "", fmt.Errorf("%w: %s", ErrMissingEnv, strings.Join(missing, ", "))
	}
	return strings.ReplaceAll(s, literalDollar, "$"), nil
}

// ExpandEnv is Expand over the process environment.
func ExpandEnv(s string) (string, error) {
	return Expand(s, os.LookupEnv)
}
