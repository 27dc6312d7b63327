//go:build linux

package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// CLI runs the command in-process against an isolated environment.
type CLI struct {
	t   *testing.T
	Dir string
	Env map[string]string
}

// NewCLITester creates a CLI tester rooted in a fresh temp directory.
// HOMESTAGE_CONFIG_DIR points at that directory so the system config is
// never read.
func NewCLITester(t *testing.T) *CLI {
	t.Helper()

	dir := t.TempDir()

	return &CLI{
		t:   t,
		Dir: dir,
		Env: map[string]string{
			"PATH":       os.Getenv("PATH"),
			EnvConfigDir: dir,
		},
	}
}

// Run executes the CLI with the given args and returns stdout, stderr, and exit code.
// Args should not include "homestage".
func (c *CLI) Run(args ...string) (string, string, int) {
	var outBuf, errBuf bytes.Buffer

	fullArgs := append([]string{"homestage"}, args...)
	code := Run(nil, &outBuf, &errBuf, fullArgs, c.Env, nil)

	return outBuf.String(), errBuf.String(), code
}

// MustRun executes the CLI and fails the test if the command returns non-zero.
// Returns stdout on success.
func (c *CLI) MustRun(args ...string) string {
	c.t.Helper()

	stdout, stderr, code := c.Run(args...)
	if code != 0 {
		c.t.Fatalf("command %v failed with exit code %d\nstderr: %s", args, code, stderr)
	}

	return stdout
}

// WriteFile writes content to a file in the test directory.
func (c *CLI) WriteFile(relPath, content string) string {
	c.t.Helper()

	path := filepath.Join(c.Dir, relPath)

	err := os.MkdirAll(filepath.Dir(path), 0o750)
	if err != nil {
		c.t.Fatalf("failed to create dir for %s: %v", relPath, err)
	}

	err = os.WriteFile(path, []byte(content), 0o644)
	if err != nil {
		c.t.Fatalf("failed to write file %s: %v", relPath, err)
	}

	return path
}

// Mkdir creates a directory in the test directory.
func (c *CLI) Mkdir(relPath string) string {
	c.t.Helper()

	path := filepath.Join(c.Dir, relPath)

	err := os.MkdirAll(path, 0o750)
	if err != nil {
		c.t.Fatalf("failed to create dir %s: %v", relPath, err)
	}

	return path
}

// MountFixture is a passwd file, home, session and container root for the
// current user, all under the tester's directory.
type MountFixture struct {
	Home         string
	SessionDir   string
	ContainerDir string
	Passwd       string
	Extra        []string // appended after the fixture flags
}

// NewMountFixture lays out a fixture whose home directory exists.
func (c *CLI) NewMountFixture() MountFixture {
	c.t.Helper()

	f := MountFixture{
		Home:         c.Mkdir("home/tester"),
		SessionDir:   c.Mkdir("session"),
		ContainerDir: c.Mkdir("container"),
	}

	f.Passwd = c.WriteFile("passwd", fmt.Sprintf("tester:x:%d:%d::%s:/bin/sh\n", os.Getuid(), os.Getgid(), f.Home))

	return f
}

// Args returns dry-run mount args for the fixture followed by extra.
func (f MountFixture) Args(extra ...string) []string {
	return append([]string{"mount", "--dry-run"}, f.mountFlags(extra)...)
}

// LiveArgs returns mount args for a real mount.
func (f MountFixture) LiveArgs(extra ...string) []string {
	return append([]string{"mount"}, f.mountFlags(extra)...)
}

func (f MountFixture) mountFlags(extra []string) []string {
	args := []string{
		"--overlay",
		"--session-dir", f.SessionDir,
		"--container-dir", f.ContainerDir,
		"--passwd", f.Passwd,
	}
	args = append(args, f.Extra...)

	return append(args, extra...)
}

// AssertContains fails the test if content doesn't contain substr.
func AssertContains(t *testing.T, content, substr string) {
	t.Helper()

	if !strings.Contains(content, substr) {
		t.Errorf("content should contain %q\ncontent:\n%s", substr, content)
	}
}

// AssertNotContains fails the test if content contains substr.
func AssertNotContains(t *testing.T, content, substr string) {
	t.Helper()

	if strings.Contains(content, substr) {
		t.Errorf("content should NOT contain %q\ncontent:\n%s", substr, content)
	}
}

// AssertDirEmpty fails the test if dir has entries or does not exist.
func AssertDirEmpty(t *testing.T, dir string) {
	t.Helper()

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("failed to read dir %s: %v", dir, err)
	}

	if len(entries) != 0 {
		t.Errorf("dir %s should be empty, has %d entries (first: %s)", dir, len(entries), entries[0].Name())
	}
}

// AssertExitCode fails the test if code is not want.
func AssertExitCode(t *testing.T, code, want int, stderr string) {
	t.Helper()

	if code != want {
		t.Fatalf("exit code = %d, want %d\nstderr: %s", code, want, stderr)
	}
}
