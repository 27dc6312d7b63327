//go:build linux

package homestage

import "path/filepath"

// prepareStaging creates the stage directory for the home and checks that
// the resolved source belongs to the acting user. It returns the stage path.
//
// A stage creation failure is only recorded in report.Warnings; the mount
// into it fails later if the directory is really missing.
func (s *Stager) prepareStaging(report *Report) (string, error) {
	stage := stagePath(s.opts.SessionDir, report.Identity.HomeDir)

	err := s.ensureDir(stage, 0o755)
	if err != nil {
		s.log.WithError(err).WithField("stage", stage).Error("failed creating home directory bind path")
		report.Warnings = append(report.Warnings, err)
	}

	source := report.Source.Path
	s.log.WithField("source", source).Debug("checking permissions on home directory")

	err = s.checkOwner(source, s.opts.UID)
	if err != nil {
		return stage, fatalf("prepare staging", ErrHomeOwnership, "%w", err)
	}

	return stage, nil
}

// stagePath returns where path is staged below the session directory.
func stagePath(sessionDir, path string) string {
	return filepath.Join(sessionDir, path)
}
