// Package servicefile reads declared service definitions from a YAML file.
package servicefile

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bnema/zerowrap"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/bnema/flotilla/internal/boundaries/out"
	"github.com/bnema/flotilla/internal/domain"
)

var _ out.ServiceDefinitions = (*File)(nil)

// File loads services from a YAML document shaped like:
//
//	services:
//	  db:
//	    image: postgres:16
//	    environment:
//	      POSTGRES_USER: app
//	    env_file: db.env
//	    backup:
//	      schedule: "0 4 * * *"
//	      retention_days: 14
//
// env_file paths are relative to the YAML file. Keys under environment
// override the same keys from env_file.
type File struct {
	path string
}

// New creates a loader for path.
func New(path string) *File {
	return &File{path: path}
}

type document struct {
	Services map[string]serviceEntry `yaml:"services"`
}

type serviceEntry struct {
	Type        string       `yaml:"type"`
	Image       string       `yaml:"image"`
	Build       *buildEntry  `yaml:"build"`
	Ports       []int        `yaml:"ports"`
	Environment environment  `yaml:"environment"`
	EnvFile     string       `yaml:"env_file"`
	Backup      *backupEntry `yaml:"backup"`
}

type buildEntry struct {
	Context    string `yaml:"context"`
	Dockerfile string `yaml:"dockerfile"`
}

// UnmarshalYAML accepts the short form "build: ./dir".
func (b *buildEntry) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		b.Context = node.Value
		return nil
	}
	type plain buildEntry
	return node.Decode((*plain)(b))
}

type backupEntry struct {
	Enabled       *bool  `yaml:"enabled"`
	Schedule      string `yaml:"schedule"`
	RetentionDays *int   `yaml:"retention_days"`
}

// environment accepts both a mapping and a list of KEY=VALUE strings.
type environment map[string]string

func (e *environment) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.MappingNode:
		m := map[string]string{}
		if err := node.Decode(&m); err != nil {
			return err
		}
		*e = m
	case yaml.SequenceNode:
		var list []string
		if err := node.Decode(&list); err != nil {
			return err
		}
		m := make(map[string]string, len(list))
		for _, item := range list {
			k, v, ok := strings.Cut(item, "=")
			if !ok {
				return fmt.Errorf("line %d: environment entry %q is not KEY=VALUE", node.Line, item)
			}
			m[strings.TrimSpace(k)] = v
		}
		*e = m
	default:
		return fmt.Errorf("line %d: environment must be a mapping or a list", node.Line)
	}
	return nil
}

// Services parses the file and merges each service's env_file into its environment.
func (f *File) Services(ctx context.Context) (map[string]domain.ServiceConfig, error) {
	ctx = zerowrap.CtxWithFields(ctx, map[string]any{
		zerowrap.FieldLayer:   "adapter",
		zerowrap.FieldAdapter: "servicefile",
		zerowrap.FieldAction:  "Services",
		"path":                f.path,
	})
	log := zerowrap.FromCtx(ctx)

	data, err := os.ReadFile(f.path)
	if err != nil {
		return nil, log.WrapErr(fmt.Errorf("%w: %w", domain.ErrConfigLoadFailed, err), "failed to read services file")
	}

	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, log.WrapErr(fmt.Errorf("%w: %s: %w", domain.ErrInvalidConfig, f.path, err), "failed to parse services file")
	}

	baseDir := filepath.Dir(f.path)
	services := make(map[string]domain.ServiceConfig, len(doc.Services))
	for _, name := range sortedNames(doc.Services) {
		entry := doc.Services[name]
		cfg, err := entry.toDomain(baseDir)
		if err != nil {
			return nil, log.WrapErr(fmt.Errorf("service %s: %w", name, err), "failed to load service")
		}
		services[name] = cfg
		log.Debug().Str("service", name).Int(zerowrap.FieldCount, len(cfg.Environment)).Msg("service loaded")
	}

	log.Info().Int(zerowrap.FieldCount, len(services)).Msg("services loaded")
	return services, nil
}

func (e serviceEntry) toDomain(baseDir string) (domain.ServiceConfig, error) {
	cfg := domain.ServiceConfig{
		Type:    e.Type,
		Image:   e.Image,
		Ports:   e.Ports,
		EnvFile: e.EnvFile,
	}
	if e.Build != nil {
		cfg.Build = &domain.BuildConfig{Context: e.Build.Context, Dockerfile: e.Build.Dockerfile}
	}
	if e.Backup != nil {
		cfg.Backup = &domain.BackupSettings{
			Enabled:       e.Backup.Enabled,
			Schedule:      e.Backup.Schedule,
			RetentionDays: e.Backup.RetentionDays,
		}
	}

	env := map[string]string{}
	if e.EnvFile != "" {
		path := e.EnvFile
		if !filepath.IsAbs(path) {
			path = filepath.Join(baseDir, path)
		}
		fromFile, err := godotenv.Read(path)
		if err != nil {
			return cfg, fmt.Errorf("%w: env file %s: %w", domain.ErrConfigLoadFailed, path, err)
		}
		for k, v := range fromFile {
			env[k] = v
		}
	}
	for k, v := range e.Environment {
		env[k] = v
	}
	cfg.Environment = env
	return cfg, nil
}

func sortedNames(m map[string]serviceEntry) []string {
	names := make([]string, 0, len(m))
	for n := range m {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
