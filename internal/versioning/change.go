package versioning

// NeedsChange decides whether an installed version must be replaced by target.
//
// An older install always needs the upgrade. A newer install is only forced
// back when its (major, minor) is ahead of the target; a patch-only lead is
// tolerated so hotfixed bundles survive a reinstall of the same release line.
func NeedsChange(current, target Triple) bool {
	switch c := current.Compare(target); {
	case c == 0:
		return false
	case c < 0:
		return true
	default:
		return current.compareMinor(target) > 0
	}
}

// NeedsChangeString parses both sides before applying NeedsChange.
func NeedsChangeString(current, target string) (bool, error) {
	c, err := Parse(current)
	if err != nil {
		return false, err
	}
	t, err := Parse(target)
	if err != nil {
		return false, err
	}
	return NeedsChange(c, t), nil
}
