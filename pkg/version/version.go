// Package version holds build-time version info for flotilla.
// Values are injected with -ldflags "-X" and read through Get.
package version

import (
	"fmt"

	"github.com/Masterminds/semver/v3"
)

// Build information, overridden by the linker.
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

// Info is the build metadata of this binary.
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"build_date"`
}

// Get returns the build metadata.
func Get() Info {
	return Info{Version: version, Commit: commit, BuildDate: buildDate}
}

// String renders "version (commit, date)".
func (i Info) String() string {
	return fmt.Sprintf("%s (%s, %s)", i.Version, i.Commit, i.BuildDate)
}

// Compatible reports whether a client built as local can drive an agent that
// reports remote. Both must share a major version; development builds on
// either side are always accepted.
func Compatible(local, remote string) error {
	if isDev(local) || isDev(remote) {
		return nil
	}
	lv, err := semver.NewVersion(local)
	if err != nil {
		return fmt.Errorf("local version %q: %w", local, err)
	}
	rv, err := semver.NewVersion(remote)
	if err != nil {
		return fmt.Errorf("agent version %q: %w", remote, err)
	}

	c, err := semver.NewConstraint(fmt.Sprintf("^%d.0.0-0", lv.Major()))
	if err != nil {
		return err
	}
	if lv.Major() == 0 {
		// 0.x releases only promise compatibility within a minor line.
		c, err = semver.NewConstraint(fmt.Sprintf("~0.%d.0-0", lv.Minor()))
		if err != nil {
			return err
		}
	}
	if !c.Check(rv) {
		return fmt.Errorf("agent version %s is not compatible with client %s", rv, lv)
	}
	return nil
}

func isDev(v string) bool {
	return v == "" || v == "dev"
}
