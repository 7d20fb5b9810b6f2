// Package flatpak reads installed apps and their permission manifests from
// the flatpak CLI.
package flatpak

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/rs/zerolog"

	"github.com/jwulff/appcache/internal/domain"
)

var (
	// ErrCommandFailed wraps any failure to run the flatpak binary.
	ErrCommandFailed = errors.New("flatpak command failed")
	// ErrVersionMismatch is returned when the installed build is not the
	// version permissions were requested for.
	ErrVersionMismatch = errors.New("installed version differs")
)

// Runner runs a command and returns its standard output.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

// Run implements Runner. Standard error is included in the returned error.
// Output is requested in the C locale so labels are not translated.
func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Env = append(os.Environ(), "LC_ALL=C")

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("%s: %w: %s", name, err, msg)
		}
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return stdout.Bytes(), nil
}

// Client queries the local flatpak installation.
type Client struct {
	Binary string
	runner Runner
	log    zerolog.Logger
}

// NewClient creates a client. A nil runner uses ExecRunner.
func NewClient(runner Runner, log zerolog.Logger) *Client {
	if runner == nil {
		runner = ExecRunner{}
	}
	return &Client{
		Binary: "flatpak",
		runner: runner,
		log:    log.With().Str("component", "flatpak").Logger(),
	}
}

func (c *Client) run(ctx context.Context, args ...string) ([]byte, error) {
	out, err := c.runner.Run(ctx, c.Binary, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrCommandFailed, strings.Join(args, " "), err)
	}
	return out, nil
}

// Installed lists installed apps with their versions. Apps that report no
// version cannot be keyed in the permission cache and are skipped.
func (c *Client) Installed(ctx context.Context) ([]domain.AppVersion, error) {
	out, err := c.run(ctx, "list", "--app", "--columns=application,version")
	if err != nil {
		return nil, err
	}

	var apps []domain.AppVersion
	seen := make(map[domain.AppVersion]bool)
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Split(line, "\t")
		id := strings.TrimSpace(fields[0])
		if id == "" || id == "Application ID" {
			continue
		}
		var version string
		if len(fields) > 1 {
			version = strings.TrimSpace(fields[1])
		}
		if version == "" {
			c.log.Debug().Str("app_id", id).Msg("skipping app without version")
			continue
		}
		app := domain.AppVersion{AppID: id, Version: version}
		if seen[app] {
			continue
		}
		seen[app] = true
		apps = append(apps, app)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read flatpak list: %w", err)
	}
	return apps, nil
}

// FetchPermissions returns the permission manifest of appID at version. It
// fails with ErrVersionMismatch when a different build is installed, so a
// manifest is never recorded under the wrong version.
func (c *Client) FetchPermissions(ctx context.Context, appID, version string) ([]string, error) {
	installed, err := c.InstalledVersion(ctx, appID)
	if err != nil {
		return nil, err
	}
	if installed != version {
		return nil, fmt.Errorf("%w: %s is at %q, want %q", ErrVersionMismatch, appID, installed, version)
	}

	out, err := c.run(ctx, "info", "--show-permissions", appID)
	if err != nil {
		return nil, err
	}
	perms := ParsePermissions(out)
	c.log.Debug().Str("app_id", appID).Str("version", version).Int("permissions", len(perms)).
		Msg("read permissions")
	return perms, nil
}

// InstalledVersion returns the version of the installed build of appID.
func (c *Client) InstalledVersion(ctx context.Context, appID string) (string, error) {
	out, err := c.run(ctx, "info", appID)
	if err != nil {
		return "", err
	}
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		key, value, ok := strings.Cut(scanner.Text(), ":")
		if ok && strings.TrimSpace(key) == "Version" {
			return strings.TrimSpace(value), nil
		}
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("read flatpak info: %w", err)
	}
	return "", nil
}

// ParsePermissions flattens the keyfile printed by
// "flatpak info --show-permissions" into an ordered list.
//
// Entries of the [Context] group are split on ';' into "key=value" items.
// Entries of other groups are prefixed with the group name, as in
// "Session Bus Policy:org.freedesktop.Notifications=talk".
func ParsePermissions(data []byte) []string {
	perms := []string{}
	group := ""

	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			group = strings.TrimSpace(line[1 : len(line)-1])
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)

		if group == "Context" {
			for _, item := range strings.Split(value, ";") {
				if item = strings.TrimSpace(item); item != "" {
					perms = append(perms, key+"="+item)
				}
			}
			continue
		}
		perms = append(perms, group+":"+key+"="+value)
	}
	return perms
}
