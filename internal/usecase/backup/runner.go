package backup

import (
	"context"
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/bnema/zerowrap"

	"github.com/bnema/flotilla/internal/boundaries/out"
	"github.com/bnema/flotilla/internal/domain"
)

// exitVerification is the status a sidecar script exits with when the dump
// was written but did not pass its check.
const exitVerification = 1

var keptPattern = regexp.MustCompile(`artifact kept at (\S+)`)

// Run builds a spec's sidecar from contextDir and runs it once to completion.
// A failed verification comes back as *domain.BackupVerificationError with the
// host path of the kept artifact.
func (s *Service) Run(ctx context.Context, spec domain.BackupJobSpec, jobs out.JobRunner, contextDir string) error {
	log := s.log.With().
		Str(zerowrap.FieldLayer, "usecase").
		Str(zerowrap.FieldUseCase, "RunBackup").
		Str(zerowrap.FieldService, spec.Service).
		Str("kind", string(spec.ServiceType)).
		Logger()

	if err := WriteSidecarContext(contextDir, spec); err != nil {
		return err
	}
	if err := jobs.Build(ctx, domain.BuildSpec{Tag: spec.Sidecar.ImageTag, ContextDir: contextDir}); err != nil {
		return fmt.Errorf("build backup sidecar for %s: %w", spec.Service, err)
	}

	err := jobs.RunToCompletion(ctx, domain.RunSpec{
		Name:    spec.Sidecar.ContainerName,
		Image:   spec.Sidecar.ImageTag,
		Env:     spec.EnvVars,
		Volumes: spec.Volumes,
		Network: spec.Network,
	})
	if err == nil {
		log.Info().Msg("backup completed")
		return nil
	}

	var opErr *domain.AgentOperationError
	if errors.As(err, &opErr) && opErr.ExitCode == exitVerification {
		if m := keptPattern.FindStringSubmatch(opErr.Output); m != nil {
			verr := &domain.BackupVerificationError{
				Service: spec.Service,
				Path:    hostPath(spec.Volumes, m[1]),
				Reason:  lastLine(opErr.Output),
			}
			log.Warn().Str("path", verr.Path).Msg("backup failed verification")
			return verr
		}
	}
	return fmt.Errorf("run backup sidecar for %s: %w", spec.Service, err)
}

// hostPath maps a path inside the sidecar back through its bind mounts. A path
// outside every mount is returned unchanged.
func hostPath(volumes map[string]string, containerPath string) string {
	containerPath = path.Clean(containerPath)
	best, bestHost := "", ""
	for host, target := range volumes {
		target, _, _ = strings.Cut(target, ":")
		target = path.Clean(target)
		if containerPath != target && !strings.HasPrefix(containerPath, target+"/") {
			continue
		}
		if len(target) > len(best) {
			best, bestHost = target, host
		}
	}
	if best == "" {
		return containerPath
	}
	return filepath.Join(bestHost, filepath.FromSlash(strings.TrimPrefix(containerPath, best)))
}

func lastLine(output string) string {
	lines := strings.Split(strings.TrimSpace(output), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}
