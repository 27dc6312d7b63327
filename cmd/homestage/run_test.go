//go:build linux

package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/calvinalkan/homestage/homestage"
)

func Test_Run_Shows_Help_When_No_Args(t *testing.T) {
	t.Parallel()

	c := NewCLITester(t)

	stdout := c.MustRun()

	AssertContains(t, stdout, "Usage: homestage")
	AssertContains(t, stdout, "mount")
	AssertContains(t, stdout, "check")
}

func Test_Run_Shows_Version(t *testing.T) {
	t.Parallel()

	c := NewCLITester(t)

	stdout := c.MustRun("--version")

	AssertContains(t, stdout, "homestage "+version)
}

func Test_Run_Returns_Error_When_Unknown_Flag(t *testing.T) {
	t.Parallel()

	c := NewCLITester(t)

	_, stderr, code := c.Run("--bogus")

	AssertExitCode(t, code, 1, stderr)
	AssertContains(t, stderr, "unknown flag")
	AssertContains(t, stderr, "Global flags:")
}

func Test_Run_Returns_Error_When_Unknown_Command(t *testing.T) {
	t.Parallel()

	c := NewCLITester(t)

	_, stderr, code := c.Run("stage")

	AssertExitCode(t, code, 1, stderr)
	AssertContains(t, stderr, `unknown command "stage"`)
}

func Test_Run_Returns_Error_When_Config_Invalid(t *testing.T) {
	t.Parallel()

	c := NewCLITester(t)
	c.WriteFile("homestage.json", `{"mount home": "yes"}`)

	_, stderr, code := c.Run("check")

	AssertExitCode(t, code, 1, stderr)
	AssertContains(t, stderr, "config value must be a boolean")
}

func Test_Mount_Shows_Help(t *testing.T) {
	t.Parallel()

	c := NewCLITester(t)

	stdout := c.MustRun("mount", "--help")

	AssertContains(t, stdout, "Usage: homestage mount")
	AssertContains(t, stdout, "--session-dir")
	AssertContains(t, stdout, "--dry-run")
}

func Test_Mount_Returns_Error_When_Dirs_Missing(t *testing.T) {
	t.Parallel()

	c := NewCLITester(t)

	_, stderr, code := c.Run("mount", "--dry-run")

	AssertExitCode(t, code, 1, stderr)
	AssertContains(t, stderr, "--session-dir is required")
	AssertContains(t, stderr, "--container-dir is required")
}

func Test_Mount_Returns_Error_When_Args_Given(t *testing.T) {
	t.Parallel()

	c := NewCLITester(t)
	f := c.NewMountFixture()

	_, stderr, code := c.Run(f.Args("extra")...)

	AssertExitCode(t, code, 1, stderr)
	AssertContains(t, stderr, "mount takes no arguments")
}

func Test_Mount_Dry_Run_Prints_Plan_When_Home_Exists(t *testing.T) {
	t.Parallel()

	c := NewCLITester(t)
	f := c.NewMountFixture()

	stdout := c.MustRun(f.Args()...)

	stage := filepath.Join(f.SessionDir, f.Home)

	AssertContains(t, stdout, "outcome: mounted")
	AssertContains(t, stdout, "source: "+f.Home+" [default]")
	AssertContains(t, stdout, "stage: "+stage)
	AssertContains(t, stdout, "bind point: "+f.Home+" (created in container)")
	AssertContains(t, stdout, "=== Planned Mounts ===")
	AssertContains(t, stdout, f.Home+" -> "+stage+" [bind,rec,nosuid]")
	AssertContains(t, stdout, stage+" -> "+filepath.Join(f.ContainerDir, f.Home)+" [bind,rec,nosuid]")
	AssertContains(t, stdout, "=== Planned Directories ===")
	AssertContains(t, stdout, stage+" (0755)")
	AssertContains(t, stdout, filepath.Join(f.ContainerDir, f.Home)+" (0750)")

	AssertDirEmpty(t, f.SessionDir)
	AssertDirEmpty(t, f.ContainerDir)
}

func Test_Mount_Dry_Run_Creates_No_Contained_Home(t *testing.T) {
	t.Parallel()

	c := NewCLITester(t)
	f := c.NewMountFixture()
	workDir := c.Mkdir("scratch")
	c.Env[homestage.EnvContain] = "1"
	c.Env[homestage.EnvWorkDir] = workDir

	stdout := c.MustRun(f.Args()...)

	AssertContains(t, stdout, "source: "+filepath.Join(workDir, "home")+" (ephemeral) [contained-workdir]")
	AssertContains(t, stdout, filepath.Join(workDir, "home")+" (0755)")

	AssertDirEmpty(t, workDir)
	AssertDirEmpty(t, f.SessionDir)
	AssertDirEmpty(t, f.ContainerDir)
}

func Test_Mount_Dry_Run_Uses_Ancestor_When_Not_Overlay(t *testing.T) {
	t.Parallel()

	c := NewCLITester(t)
	f := c.NewMountFixture()

	parent := filepath.Dir(f.Home)
	c.Mkdir(filepath.Join("container", parent))

	stdout := c.MustRun(f.Args("--overlay=false")...)

	AssertContains(t, stdout, "bind point: "+parent+" (nearest existing ancestor)")
	AssertContains(t, stdout, filepath.Join(f.SessionDir, parent)+" -> "+filepath.Join(f.ContainerDir, parent))
}

func Test_Mount_Exits_5_When_Custom_Home_And_Bind_Control_Disabled(t *testing.T) {
	t.Parallel()

	c := NewCLITester(t)
	f := c.NewMountFixture()
	c.WriteFile("homestage.jsonc", `{
		// users may not pick their own home
		"user bind control": false,
	}`)
	c.Env[homestage.EnvHome] = c.Mkdir("data/tester")

	stdout, stderr, code := c.Run(f.Args()...)

	AssertExitCode(t, code, int(homestage.ExitBindControlDisabled), stderr)
	AssertContains(t, stderr, "user bind control is disabled")
	AssertNotContains(t, stdout, "=== Planned Mounts ===\n  •")
}

func Test_Mount_Exits_5_When_Workdir_And_Bind_Control_Disabled(t *testing.T) {
	t.Parallel()

	c := NewCLITester(t)
	f := c.NewMountFixture()
	configPath := c.WriteFile("etc/custom.json", `{"user bind control": false}`)
	workDir := c.Mkdir("scratch")
	c.Env[homestage.EnvContain] = "1"
	c.Env[homestage.EnvWorkDir] = workDir

	_, stderr, code := c.Run(append([]string{"--config", configPath}, f.Args()...)...)

	AssertExitCode(t, code, int(homestage.ExitBindControlDisabled), stderr)

	_, err := os.Stat(filepath.Join(workDir, "home"))
	if !os.IsNotExist(err) {
		t.Fatalf("expected %s/home not to be created, stat err: %v", workDir, err)
	}
}

func Test_Mount_Exits_255_When_Home_Missing(t *testing.T) {
	t.Parallel()

	c := NewCLITester(t)
	f := c.NewMountFixture()

	err := os.Remove(f.Home)
	if err != nil {
		t.Fatalf("remove home: %v", err)
	}

	stdout, stderr, code := c.Run(f.Args()...)

	AssertExitCode(t, code, int(homestage.ExitFatal), stderr)
	AssertContains(t, stderr, "cannot identify home directory path")
	AssertContains(t, stdout, "outcome: failed")
}

func Test_Mount_Exits_255_When_Passwd_Unreadable(t *testing.T) {
	t.Parallel()

	c := NewCLITester(t)
	f := c.NewMountFixture()
	f.Passwd = filepath.Join(c.Dir, "missing-passwd")

	_, stderr, code := c.Run(f.Args()...)

	AssertExitCode(t, code, int(homestage.ExitFatal), stderr)
	AssertContains(t, stderr, "failed to look up passwd entry")
}

func Test_Mount_Skips_When_Mount_Home_Disabled(t *testing.T) {
	t.Parallel()

	c := NewCLITester(t)
	f := c.NewMountFixture()
	c.WriteFile("homestage.json", `{"mount home": false}`)

	stdout, stderr, code := c.Run(f.Args()...)

	AssertExitCode(t, code, 0, stderr)
	AssertContains(t, stdout, "outcome: skipped (home mounting disabled by configuration)")
	AssertNotContains(t, stderr, "skipping home dir mounting")
}

func Test_Mount_Logs_Skip_When_Verbose(t *testing.T) {
	t.Parallel()

	c := NewCLITester(t)
	f := c.NewMountFixture()
	c.WriteFile("homestage.json", `{"mount home": false}`)

	_, stderr, code := c.Run(append([]string{"-v"}, f.Args()...)...)

	AssertExitCode(t, code, 0, stderr)
	AssertContains(t, stderr, "skipping home dir mounting (per config)")
}

func Test_Mount_Skips_When_NoHome_Requested(t *testing.T) {
	t.Parallel()

	c := NewCLITester(t)
	f := c.NewMountFixture()
	c.Env[homestage.EnvNoHome] = "1"

	stdout := c.MustRun(f.Args()...)

	AssertContains(t, stdout, "outcome: skipped")
	AssertContains(t, stdout, "(none)")
}

func Test_Mount_Skips_When_User_Has_No_Passwd_Entry(t *testing.T) {
	t.Parallel()

	c := NewCLITester(t)
	f := c.NewMountFixture()

	stdout := c.MustRun(f.Args("--uid", "4242424")...)

	AssertContains(t, stdout, "outcome: skipped (no passwd entry for uid 4242424)")
}

func Test_Mount_Stages_Ephemeral_Home_When_Contained(t *testing.T) {
	t.Parallel()

	c := NewCLITester(t)
	f := c.NewMountFixture()
	c.Env[homestage.EnvContain] = ""

	stdout := c.MustRun(f.Args()...)

	tmpHome := filepath.Join(f.SessionDir, "home.tmp")

	AssertContains(t, stdout, "source: "+tmpHome+" (ephemeral) [contained-session]")
	AssertContains(t, stdout, tmpHome+" -> ")
}

func Test_Mount_Rejects_Caller_Controlled_Inputs_When_Unprivileged(t *testing.T) {
	t.Parallel()

	if os.Getuid() == 0 {
		t.Skip("root may set every input")
	}

	tests := []struct {
		name    string
		setup   func(c *CLI, f *MountFixture) []string // returns global flags
		wantErr string
	}{
		{
			name: "Config_Flag",
			setup: func(c *CLI, _ *MountFixture) []string {
				return []string{"--config", c.WriteFile("mine.json", `{"user bind control": true}`)}
			},
			wantErr: "--config: only root may set this outside --dry-run",
		},
		{
			name: "Config_Dir_Env",
			setup: func(c *CLI, _ *MountFixture) []string {
				c.Env[EnvConfigDir] = c.Mkdir("etc")

				return nil
			},
			wantErr: EnvConfigDir + ": only root may set this outside --dry-run",
		},
		{
			name: "Passwd_Flag",
			setup: func(*CLI, *MountFixture) []string {
				return nil
			},
			wantErr: "--passwd ",
		},
		{
			name: "Uid_Flag",
			setup: func(_ *CLI, f *MountFixture) []string {
				f.Passwd = homestage.DefaultPasswdPath
				f.Extra = []string{"--uid", "0"}

				return nil
			},
			wantErr: "--uid 0: only root may set this outside --dry-run",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			c := NewCLITester(t)
			delete(c.Env, EnvConfigDir)

			f := c.NewMountFixture()
			global := tt.setup(c, &f)

			_, stderr, code := c.Run(append(global, f.LiveArgs()...)...)

			AssertExitCode(t, code, int(homestage.ExitFatal), stderr)
			AssertContains(t, stderr, tt.wantErr)
			AssertNotContains(t, stderr, "check privileges")
			AssertDirEmpty(t, f.SessionDir)
			AssertDirEmpty(t, f.ContainerDir)
		})
	}
}

func Test_Mount_Accepts_Caller_Controlled_Inputs_When_Dry_Run(t *testing.T) {
	t.Parallel()

	c := NewCLITester(t)
	f := c.NewMountFixture()
	c.WriteFile("homestage.json", `{"user bind control": false}`)
	mine := c.WriteFile("mine.json", `{"user bind control": true}`)
	c.Env[homestage.EnvHome] = c.Mkdir("data/tester")

	stdout := c.MustRun(append([]string{"--config", mine}, f.Args()...)...)

	AssertContains(t, stdout, "outcome: mounted")
	AssertContains(t, stdout, "[override]")
	AssertDirEmpty(t, f.SessionDir)
}

func Test_CheckCallerInputs(t *testing.T) {
	t.Parallel()

	system := mountInputs{UID: 1000, Passwd: homestage.DefaultPasswdPath, Config: ConfigSourceSystem}

	tests := []struct {
		name    string
		realUID int
		in      mountInputs
		wantErr []string
	}{
		{name: "Own_Uid_System_Inputs", realUID: 1000, in: system},
		{
			name:    "Root_May_Override_Everything",
			realUID: 0,
			in:      mountInputs{UID: 1000, Passwd: "/tmp/passwd", Config: ConfigSourceFlag},
		},
		{
			name:    "Other_Uid",
			realUID: 1001,
			in:      system,
			wantErr: []string{"--uid 1000"},
		},
		{
			name:    "All_Overrides_Reported_Together",
			realUID: 1000,
			in:      mountInputs{UID: 0, Passwd: "/tmp/passwd", Config: ConfigSourceEnv},
			wantErr: []string{"--uid 0", "--passwd /tmp/passwd", EnvConfigDir},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := checkCallerInputs(tt.realUID, tt.in)

			if len(tt.wantErr) == 0 {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}

				return
			}

			if !errors.Is(err, ErrCallerControlled) {
				t.Fatalf("expected ErrCallerControlled, got %v", err)
			}

			for _, want := range tt.wantErr {
				AssertContains(t, err.Error(), want)
			}
		})
	}
}

func Test_Mount_Returns_Error_When_Context_Canceled(t *testing.T) {
	t.Parallel()

	c := NewCLITester(t)
	f := c.NewMountFixture()

	cfg, err := LoadConfig(LoadConfigInput{Env: c.Env})
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var stdout, stderr bytes.Buffer

	cmd := MountCmd(cfg, c.Env, NewLogger(&stderr, Verbosity{}))
	code := cmd.Run(ctx, nil, &stdout, &stderr, f.Args()[1:])

	AssertExitCode(t, code, 1, stderr.String())
	AssertContains(t, stderr.String(), "context canceled")
	AssertDirEmpty(t, f.SessionDir)
}
