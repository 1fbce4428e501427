// Package selfprof profiles sizemap itself while it runs, so slow
// extractions of very large artifacts can be investigated.
//
// File mode records a CPU profile for the whole run and snapshots the other
// profiles when the profiler stops. HTTP mode serves the net/http/pprof
// endpoints under /debug/pprof/ for on-demand collection.
package selfprof

import (
	"fmt"
	"strings"
)

// Mode selects how profiles are collected.
type Mode string

const (
	ModeFile Mode = "file"
	ModeHTTP Mode = "http"
)

// Profile names a runtime profile.
type Profile string

const (
	ProfileCPU       Profile = "cpu"
	ProfileHeap      Profile = "heap"
	ProfileGoroutine Profile = "goroutine"
	ProfileBlock     Profile = "block"
	ProfileMutex     Profile = "mutex"
	ProfileAllocs    Profile = "allocs"
)

var knownProfiles = map[Profile]bool{
	ProfileCPU: true, ProfileHeap: true, ProfileGoroutine: true,
	ProfileBlock: true, ProfileMutex: true, ProfileAllocs: true,
}

// DefaultProfiles returns the profiles collected when none are named.
func DefaultProfiles() []Profile {
	return []Profile{ProfileCPU, ProfileHeap}
}

// ParseProfiles parses a comma separated profile list. Duplicates are
// dropped; the empty string yields DefaultProfiles.
func ParseProfiles(s string) ([]Profile, error) {
	if strings.TrimSpace(s) == "" {
		return DefaultProfiles(), nil
	}
	seen := make(map[Profile]bool)
	var out []Profile
	for _, part := range strings.Split(s, ",") {
		p := Profile(strings.ToLower(strings.TrimSpace(part)))
		if p == "" {
			continue
		}
		if !knownProfiles[p] {
			return nil, fmt.Errorf("unknown profile type: %q", part)
		}
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return DefaultProfiles(), nil
	}
	return out, nil
}

// Config configures a Profiler.
type Config struct {
	Mode     Mode
	Profiles []Profile
	// Dir receives the profiles in file mode.
	Dir string
	// Addr is the listen address in HTTP mode.
	Addr string
}

// DefaultConfig returns a file mode config writing to ./pprof.
func DefaultConfig() *Config {
	return &Config{
		Mode:     ModeFile,
		Profiles: DefaultProfiles(),
		Dir:      "./pprof",
		Addr:     "localhost:6060",
	}
}

// Has reports whether p is among the configured profiles.
func (c *Config) Has(p Profile) bool {
	for _, q := range c.Profiles {
		if q == p {
			return true
		}
	}
	return false
}

// Validate checks the config for the selected mode.
func (c *Config) Validate() error {
	switch c.Mode {
	case ModeFile:
		if c.Dir == "" {
			return fmt.Errorf("profile directory is required in file mode")
		}
	case ModeHTTP:
		if c.Addr == "" {
			return fmt.Errorf("listen address is required in http mode")
		}
	default:
		return fmt.Errorf("invalid profiling mode: %q (valid: file, http)", c.Mode)
	}
	for _, p := range c.Profiles {
		if !knownProfiles[p] {
			return fmt.Errorf("unknown profile type: %q", p)
		}
	}
	return nil
}
