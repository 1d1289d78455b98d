// Package runtimeinfo resolves the module's own build version and offers
// CheckCompatible to compare it against another advertised version. The
// spawn path does not call CheckCompatible, so a cross-version spawn is
// neither detected nor refused.
package runtimeinfo

import (
	"fmt"

	"github.com/Masterminds/semver/v3"
)

// Version is set at build time via -ldflags "-X ... .Version=v1.2.3"; it
// defaults to a development placeholder.
var Version = "0.0.0-dev"

// Parsed returns the module's own version as a semver.Version.
func Parsed() (*semver.Version, error) {
	return semver.NewVersion(Version)
}

// CheckCompatible refuses to proceed if remote's advertised version
// differs from ours in major or minor component — gob's same-binary
// contract (internal/wire) makes even a patch mismatch risky, but major/
// minor is the bar spec.md's non-goal leaves room to draw the line at.
func CheckCompatible(remote string) error {
	ours, err := Parsed()
	if err != nil {
		return fmt.Errorf("runtimeinfo: parsing local version %q: %w", Version, err)
	}
	theirs, err := semver.NewVersion(remote)
	if err != nil {
		return fmt.Errorf("runtimeinfo: parsing remote version %q: %w", remote, err)
	}
	if ours.Major() != theirs.Major() || ours.Minor() != theirs.Minor() {
		return fmt.Errorf("runtimeinfo: version mismatch: local %s, remote %s", ours, theirs)
	}
	return nil
}
