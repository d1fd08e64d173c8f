// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

// Package build reports how the running binary was built.
package build

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
)

var (
	// These variables are initialized via the linker -X flag when
	// compiling release binaries.
	tag      = "unknown" // Tag of this build (git describe --tags w/ optional '-dirty' suffix)
	utcTime  string      // Build time in UTC (year/month/day hour:min:sec)
	rev      string      // SHA-1 of this build (git rev-parse)
	platform = fmt.Sprintf("%s %s", runtime.GOOS, runtime.GOARCH)
)

// Info describes the build of the running binary.
type Info struct {
	GoVersion    string
	Tag          string
	Time         string
	Revision     string
	Platform     string
	Dependencies []string
}

// Short returns a pretty printed build and version summary.
func (b Info) Short() string {
	return fmt.Sprintf("lockarbiter %s (%s, built %s, %s)", b.Tag, b.Platform, b.Time, b.GoVersion)
}

// GetInfo returns an Info struct populated with the build information.
// Revision and dependencies fall back to what the Go toolchain embedded in
// the binary.
func GetInfo() Info {
	info := Info{
		GoVersion: runtime.Version(),
		Tag:       tag,
		Time:      utcTime,
		Revision:  rev,
		Platform:  platform,
	}
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return info
	}
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			if info.Revision == "" {
				info.Revision = s.Value
			}
		case "vcs.time":
			if info.Time == "" {
				info.Time = s.Value
			}
		}
	}
	for _, dep := range bi.Deps {
		info.Dependencies = append(info.Dependencies, dep.Path+":"+dep.Version)
	}
	return info
}

// TestingOverrideTag allows tests to override the build tag.
func TestingOverrideTag(t string) func() {
	prev := tag
	tag = t
	return func() { tag = prev }
}

// IsDevelopment returns whether the binary was built without a release tag.
func IsDevelopment() bool {
	return tag == "unknown" || strings.HasSuffix(tag, "-dirty")
}
