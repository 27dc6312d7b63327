//go:build linux

package homestage

// Environment variables read by [EnvironmentFromMap].
const (
	EnvHome    = "SINGULARITY_HOME"
	EnvContain = "SINGULARITY_CONTAIN"
	EnvWorkDir = "SINGULARITY_WORKDIR"
	EnvNoHome  = "SINGULARITY_NOHOME"
)

// Environment holds the caller-supplied overrides that steer source
// selection. It is a read-only input to a single Run.
type Environment struct {
	// HomeOverride is an explicit host path to use as the home source.
	HomeOverride string

	// HomeOverrideSet selects the override even when HomeOverride is empty,
	// matching a variable that is present but blank.
	HomeOverrideSet bool

	// Contain requests an ephemeral home instead of the real one.
	Contain bool

	// WorkDir is the host directory used for ephemeral data in contained
	// mode. Its "home" subdirectory becomes the home source.
	WorkDir string

	// WorkDirSet is the presence flag for WorkDir, like HomeOverrideSet.
	WorkDirSet bool

	// NoHome disables the home mount for this launch.
	NoHome bool
}

// EnvironmentFromMap reads an Environment from a snapshot of environment
// variables. Every variable takes effect when present, even with an empty
// value.
func EnvironmentFromMap(env map[string]string) Environment {
	home, homeSet := env[EnvHome]
	workDir, workDirSet := env[EnvWorkDir]
	_, contain := env[EnvContain]
	_, noHome := env[EnvNoHome]

	return Environment{
		HomeOverride:    home,
		HomeOverrideSet: homeSet,
		Contain:         contain,
		WorkDir:         workDir,
		WorkDirSet:      workDirSet,
		NoHome:          noHome,
	}
}

func (e Environment) hasHomeOverride() bool {
	return e.HomeOverrideSet || e.HomeOverride != ""
}

func (e Environment) hasWorkDir() bool {
	return e.WorkDirSet || e.WorkDir != ""
}
