package domain

import (
	"fmt"
	"strings"
)

// AppVersion identifies one installed build of an app.
type AppVersion struct {
	AppID   string
	Version string
}

// ParseAppVersion parses "app.id@version".
func ParseAppVersion(s string) (AppVersion, error) {
	id, version, ok := strings.Cut(s, "@")
	id = strings.TrimSpace(id)
	version = strings.TrimSpace(version)
	if !ok || id == "" || version == "" {
		return AppVersion{}, fmt.Errorf("invalid app version %q, want <app-id>@<version>", s)
	}
	return AppVersion{AppID: id, Version: version}, nil
}

func (v AppVersion) String() string {
	return v.AppID + "@" + v.Version
}

// PermissionEntry is a permission manifest for a single version.
type PermissionEntry struct {
	Version     string
	Permissions []string
}

// UpdateResult is reported by the package manager after an install,
// update or uninstall finishes.
type UpdateResult struct {
	AppID    string
	Success  bool
	ExitCode int
	Output   string
}

// Succeeded reports whether the operation finished cleanly.
func (r UpdateResult) Succeeded() bool {
	return r.Success && r.ExitCode == 0
}
