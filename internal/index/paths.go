package index

import "strings"

const (
	// Prefix is where fragments live inside a classpath root.
	Prefix = "META-INF/json/"
	// LegacyPrefix is where the older line format lived. Read only.
	LegacyPrefix = "META-INF/annotations/"
)

// FragmentPath returns the resource path of the fragment for annotationType.
func FragmentPath(annotationType string) string { return Prefix + annotationType }

// LegacyFragmentPath returns the resource path of a legacy fragment.
func LegacyFragmentPath(annotationType string) string { return LegacyPrefix + annotationType }

// TypeFromPath reverses FragmentPath and LegacyFragmentPath. ok is false for
// paths outside either prefix or naming a directory.
func TypeFromPath(path string) (annotationType string, legacy, ok bool) {
	switch {
	case strings.HasPrefix(path, Prefix):
		annotationType = path[len(Prefix):]
	case strings.HasPrefix(path, LegacyPrefix):
		annotationType, legacy = path[len(LegacyPrefix):], true
	default:
		return "", false, false
	}
	if annotationType == "" || strings.ContainsRune(annotationType, '/') {
		return "", false, false
	}
	return annotationType, legacy, true
}
