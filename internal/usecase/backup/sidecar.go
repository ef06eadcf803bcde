package backup

import (
	"crypto/sha256"
	"embed"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bnema/flotilla/internal/domain"
)

//go:embed sidecars
var sidecarFS embed.FS

// sidecarImage is the build definition for one kind.
type sidecarImage struct {
	Dockerfile string
	Script     string
	Tag        string
}

// sidecarFor returns the build definition for a kind. The content depends on
// the kind alone.
func sidecarFor(kind domain.ServiceKind) (sidecarImage, error) {
	dockerfile, err := sidecarFS.ReadFile("sidecars/" + string(kind) + "/Dockerfile")
	if err != nil {
		return sidecarImage{}, fmt.Errorf("%w: no sidecar for %q", domain.ErrUnsupportedService, kind)
	}
	script, err := sidecarFS.ReadFile("sidecars/" + string(kind) + "/backup.sh")
	if err != nil {
		return sidecarImage{}, fmt.Errorf("%w: no backup script for %q", domain.ErrUnsupportedService, kind)
	}

	sum := sha256.New()
	sum.Write(dockerfile)
	sum.Write(script)
	digest := hex.EncodeToString(sum.Sum(nil))[:12]

	return sidecarImage{
		Dockerfile: string(dockerfile),
		Script:     string(script),
		Tag:        fmt.Sprintf("flotilla-backup-%s:%s", kind, digest),
	}, nil
}

// WriteSidecarContext writes the build context and env file of a spec's sidecar
// into dir: Dockerfile, backup.sh and backup.env.
func WriteSidecarContext(dir string, spec domain.BackupJobSpec) error {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("failed to create sidecar dir: %w", err)
	}
	files := []struct {
		name    string
		content string
		mode    os.FileMode
	}{
		{"Dockerfile", spec.Sidecar.Dockerfile, 0o644},
		{"backup.sh", spec.Sidecar.Script, 0o755},
		{"backup.env", envFile(spec.EnvVars), 0o600},
	}
	for _, f := range files {
		if err := os.WriteFile(filepath.Join(dir, f.name), []byte(f.content), f.mode); err != nil {
			return fmt.Errorf("failed to write %s: %w", f.name, err)
		}
	}
	return nil
}

// envFile renders KEY=VALUE lines as read by `docker run --env-file`, which
// takes values literally.
func envFile(env map[string]string) string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(env[k])
		b.WriteByte('\n')
	}
	return b.String()
}

// CrontabLine renders the crontab entry that runs a spec's sidecar once per
// scheduled tick. runtimeBin is the docker-compatible CLI on the host and
// contextDir is where WriteSidecarContext put the env file.
func CrontabLine(spec domain.BackupJobSpec, runtimeBin, contextDir string) string {
	args := []string{
		spec.Schedule,
		runtimeBin, "run", "--rm",
		"--name", spec.Sidecar.ContainerName,
		"--network", spec.Network,
		"--env-file", filepath.Join(contextDir, "backup.env"),
	}

	hosts := make([]string, 0, len(spec.Volumes))
	for h := range spec.Volumes {
		hosts = append(hosts, h)
	}
	sort.Strings(hosts)
	for _, h := range hosts {
		args = append(args, "-v", h+":"+spec.Volumes[h])
	}

	args = append(args, spec.Sidecar.ImageTag)
	return strings.Join(args, " ")
}
