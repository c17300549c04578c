// SPDX-License-Identifier: MIT
//
// Package build exposes metadata injected at link time:
//
//	go build -ldflags "-X spectra/pkg/build.buildName=spectra \
//	  -X spectra/pkg/build.buildTime=$(date -u +%FT%TZ) \
//	  -X spectra/pkg/build.buildCommit=$(git rev-parse --short HEAD) \
//	  -X spectra/pkg/build.buildVersion=v0.3.0"
//
// Development builds keep the defaults.
package build

import (
	"errors"
	"fmt"
)

// Info describes the running binary.
type Info struct {
	Name        string
	Description string
	Time        string
	Commit      string
	Version     string
}

// String formats Info as a version banner.
func (i Info) String() string {
	return fmt.Sprintf("%s %s (commit %s, built %s)", i.Name, i.Version, i.Commit, i.Time)
}

const description = "Live microphone spectrum analyzer"

// Populated by -ldflags.
var (
	buildName    string
	buildTime    string
	buildCommit  string
	buildVersion string
	buildFlags   = &Info{
		Name:        "spectra",
		Description: description,
		Time:        "unknown",
		Commit:      "unknown",
		Version:     "dev",
	}
)

// Initialize copies the ldflags values into the build info. When any is
// missing it returns an error and leaves the development defaults in place.
func Initialize() error {
	var missing []error
	if buildName == "" {
		missing = append(missing, errors.New("BuildName is required"))
	}
	if buildTime == "" {
		missing = append(missing, errors.New("BuildTime is required"))
	}
	if buildCommit == "" {
		missing = append(missing, errors.New("BuildCommit is required"))
	}
	if buildVersion == "" {
		missing = append(missing, errors.New("BuildVersion is required"))
	}
	if len(missing) > 0 {
		return errors.Join(missing...)
	}

	buildFlags.Name = buildName
	buildFlags.Time = buildTime
	buildFlags.Commit = buildCommit
	buildFlags.Version = buildVersion
	return nil
}

// GetBuildFlags returns the current build information.
func GetBuildFlags() *Info {
	return buildFlags
}
