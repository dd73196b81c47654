package rsync

import (
	"fmt"
	"strings"
)

// Profile is a named rsync flag set trading CPU cost against metadata depth
// and integrity checking. Every profile runs in atomic-move mode: one
// invocation copies into the destination and removes each source file once
// its destination bytes are durable, so interrupted transfers resume.
type Profile struct {
	Name        string
	Description string
	Flags       []string
}

// baseFlags are shared by all profiles: resumable partial transfers written
// in place, numeric uid/gid, machine-readable whole-transfer progress, and
// source removal after durable write.
var baseFlags = []string{
	"--partial",
	"--inplace",
	"--numeric-ids",
	"--info=progress2",
	"--remove-source-files",
}

var profiles = map[string]Profile{
	"fast": {
		Name:        "fast",
		Description: "Fastest transfers, minimal CPU overhead (permissions and timestamps only)",
		Flags:       append([]string{"-a", "--no-compress"}, baseFlags...),
	},
	"balanced": {
		Name:        "balanced",
		Description: "Balanced speed and features, adds extended attributes",
		Flags:       append([]string{"-aX"}, baseFlags...),
	},
	"integrity": {
		Name:        "integrity",
		Description: "Full content checksums plus hard links, ACLs and xattrs",
		Flags:       append([]string{"-aHAX", "--checksum"}, baseFlags...),
	},
}

// ProfileNames lists the defined profiles in documentation order.
func ProfileNames() []string {
	return []string{"fast", "balanced", "integrity"}
}

// GetProfile resolves a profile by name.
func GetProfile(name string) (Profile, error) {
	p, ok := profiles[name]
	if !ok {
		return Profile{}, fmt.Errorf("unknown rsync profile %q (have %s)",
			name, strings.Join(ProfileNames(), ", "))
	}
	return p, nil
}

// BuildArgs assembles the full argument vector for one move. Extra flags
// are appended verbatim after the profile's base set. Directory sources get
// a trailing slash so rsync copies the directory contents into dst.
func BuildArgs(p Profile, extra []string, src, dst string, srcIsDir bool) []string {
	args := make([]string, 0, len(p.Flags)+len(extra)+2)
	args = append(args, p.Flags...)
	args = append(args, extra...)
	if srcIsDir && !strings.HasSuffix(src, "/") {
		src += "/"
	}
	args = append(args, src, dst)
	return args
}
