// Package match implements the entry filters the CLI applies to each
// delivered traversal entry. It is deliberately not a predicate language;
// every filter is a simple conjunction over the entry's cached view.
package match

import (
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/openwalk/bfind/internal/traverse"
)

// Entry is the read-only view a filter evaluates. *traverse.Visit
// satisfies it.
type Entry interface {
	Name() string
	Path() string
	Depth() int
	Type() traverse.Type
	Stat(follow bool) (*traverse.Status, error)
}

// Filter defines the criteria an entry must meet. Zero-value fields are
// not applied.
type Filter struct {
	// NamePattern matches the base name with shell wildcards.
	NamePattern string
	// PathPattern matches the full path with shell wildcards.
	PathPattern string
	// Regex matches against the full path.
	Regex *regexp.Regexp

	// Types restricts matches to the given file types (f, d, l, ...).
	Types []traverse.Type

	// LargerThan and SmallerThan bound the size in bytes.
	LargerThan  int64
	SmallerThan int64

	// ModifiedBefore and ModifiedAfter bound the modification time.
	ModifiedBefore time.Time
	ModifiedAfter  time.Time

	// IncludeHidden keeps dotfiles in the results.
	IncludeHidden bool

	// FollowForStat uses the symlink target's metadata for size and
	// time checks.
	FollowForStat bool
}

// NeedsStat reports whether evaluating the filter requires status
// metadata, as opposed to just the name, path and type hint.
func (f *Filter) NeedsStat() bool {
	return f.LargerThan > 0 || f.SmallerThan > 0 ||
		!f.ModifiedBefore.IsZero() || !f.ModifiedAfter.IsZero()
}

// Matches evaluates the filter against one traversal entry. A failed
// status fetch is returned so the caller can report it; the entry does
// not match in that case.
func (f *Filter) Matches(v Entry) (bool, error) {
	if !f.IncludeHidden && IsHidden(v.Name()) && v.Depth() > 0 {
		return false, nil
	}

	if f.NamePattern != "" {
		matched, err := filepath.Match(f.NamePattern, norm.NFC.String(v.Name()))
		if err != nil || !matched {
			return false, nil
		}
	}

	if f.PathPattern != "" {
		matched, err := filepath.Match(f.PathPattern, norm.NFC.String(v.Path()))
		if err != nil || !matched {
			return false, nil
		}
	}

	if f.Regex != nil && !f.Regex.MatchString(norm.NFC.String(v.Path())) {
		return false, nil
	}

	if len(f.Types) > 0 {
		found := false
		for _, t := range f.Types {
			if v.Type() == t {
				found = true
				break
			}
		}
		if !found {
			return false, nil
		}
	}

	if f.NeedsStat() {
		st, err := v.Stat(f.FollowForStat)
		if err != nil {
			return false, err
		}
		if f.LargerThan > 0 && st.Size <= f.LargerThan {
			return false, nil
		}
		if f.SmallerThan > 0 && st.Size >= f.SmallerThan {
			return false, nil
		}
		if !f.ModifiedAfter.IsZero() && st.ModTime.Before(f.ModifiedAfter) {
			return false, nil
		}
		if !f.ModifiedBefore.IsZero() && st.ModTime.After(f.ModifiedBefore) {
			return false, nil
		}
	}

	return true, nil
}

// IsHidden reports whether a base name is a dotfile.
func IsHidden(name string) bool {
	return strings.HasPrefix(name, ".") && name != "." && name != ".."
}

// ParseTypes converts a find-style comma list such as "f,d,l" into types.
func ParseTypes(spec string) ([]traverse.Type, bool) {
	var types []traverse.Type
	for _, part := range strings.Split(spec, ",") {
		switch strings.TrimSpace(part) {
		case "f":
			types = append(types, traverse.TypeRegular)
		case "d":
			types = append(types, traverse.TypeDir)
		case "l":
			types = append(types, traverse.TypeSymlink)
		case "b":
			types = append(types, traverse.TypeBlockDev)
		case "c":
			types = append(types, traverse.TypeCharDev)
		case "p":
			types = append(types, traverse.TypeFIFO)
		case "s":
			types = append(types, traverse.TypeSocket)
		case "":
			continue
		default:
			return nil, false
		}
	}
	return types, true
}
