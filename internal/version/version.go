// Package version reports the build of the binary and the numerical library
// it was linked against.
package version

import (
	"errors"
	"fmt"
	"runtime/debug"

	"golang.org/x/mod/semver"
)

const (
	GonumModule = "gonum.org/v1/gonum"
	// MinGonum is the oldest gonum release whose mat.EigenSym and diff/fd
	// behaviour the model relies on.
	MinGonum = "v0.15.0"
)

var ErrUnsupported = errors.New("version: unsupported numerical library")

// Info describes the running binary.
type Info struct {
	Module    string
	Version   string
	GoVersion string
	Gonum     string
}

// Read inspects the build info embedded in the binary.
func Read() Info {
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return Info{}
	}
	return FromBuildInfo(bi)
}

// FromBuildInfo extracts Info from bi. A replaced gonum reports the
// replacement's version.
func FromBuildInfo(bi *debug.BuildInfo) Info {
	info := Info{
		Module:    bi.Main.Path,
		Version:   bi.Main.Version,
		GoVersion: bi.GoVersion,
	}
	for _, d := range bi.Deps {
		if d.Path != GonumModule {
			continue
		}
		info.Gonum = d.Version
		if d.Replace != nil && d.Replace.Version != "" {
			info.Gonum = d.Replace.Version
		}
	}
	return info
}

func (i Info) String() string {
	v := i.Version
	if v == "" {
		v = "(devel)"
	}
	g := i.Gonum
	if g == "" {
		g = "unknown"
	}
	return fmt.Sprintf("%s %s go=%s gonum=%s", i.Module, v, i.GoVersion, g)
}

// Check rejects a gonum older than MinGonum. An unknown version, as in
// binaries built without module information, is accepted.
func Check(i Info) error {
	if i.Gonum == "" {
		return nil
	}
	if !semver.IsValid(i.Gonum) {
		return fmt.Errorf("%w: invalid gonum version %q", ErrUnsupported, i.Gonum)
	}
	if semver.Compare(i.Gonum, MinGonum) < 0 {
		return fmt.Errorf("%w: gonum %s is older than %s", ErrUnsupported, i.Gonum, MinGonum)
	}
	return nil
}
