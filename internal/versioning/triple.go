// Package versioning parses and orders the "major.minor.patch" version strings
// used by resource bundles and persisted documents.
package versioning

import (
	"fmt"
	"strconv"
	"strings"

	ferrors "git.home.luguber.info/inful/bootstrapd/internal/foundation/errors"
)

// Triple is a parsed version with exactly three non-negative integer components.
type Triple struct {
	Major int
	Minor int
	Patch int
}

// Zero is the version assumed for documents that never recorded one.
var Zero = Triple{}

// Parse parses s as "major.minor.patch". Anything else, including prefixes
// such as "v", pre-release suffixes, or negative numbers, is rejected.
func Parse(s string) (Triple, error) {
	parts := strings.Split(s, ".")
	if len(parts) != 3 {
		return Triple{}, invalid(s, "expected three dot-separated components")
	}
	var nums [3]int
	for i, p := range parts {
		if p == "" || strings.TrimLeft(p, "0123456789") != "" {
			return Triple{}, invalid(s, fmt.Sprintf("component %q is not a non-negative integer", p))
		}
		n, err := strconv.Atoi(p)
		if err != nil {
			return Triple{}, invalid(s, err.Error())
		}
		nums[i] = n
	}
	return Triple{Major: nums[0], Minor: nums[1], Patch: nums[2]}, nil
}

// MustParse is Parse for compiled-in constants; it panics on malformed input.
func MustParse(s string) Triple {
	t, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return t
}

func invalid(s, reason string) error {
	return ferrors.ValidationError("invalid version").
		WithContext("version", s).
		WithContext("reason", reason).
		Build()
}

// String renders the triple in its canonical dotted form.
func (t Triple) String() string {
	return fmt.Sprintf("%d.%d.%d", t.Major, t.Minor, t.Patch)
}

// Compare returns -1, 0 or +1 comparing t and o component-wise.
func (t Triple) Compare(o Triple) int {
	switch {
	case t.Major != o.Major:
		return sign(t.Major - o.Major)
	case t.Minor != o.Minor:
		return sign(t.Minor - o.Minor)
	default:
		return sign(t.Patch - o.Patch)
	}
}

// Less reports whether t orders before o.
func (t Triple) Less(o Triple) bool { return t.Compare(o) < 0 }

// compareMinor compares only (major, minor).
func (t Triple) compareMinor(o Triple) int {
	return Triple{Major: t.Major, Minor: t.Minor}.Compare(Triple{Major: o.Major, Minor: o.Minor})
}

func sign(n int) int {
	switch {
	case n < 0:
		return -1
	case n > 0:
		return 1
	default:
		return 0
	}
}
