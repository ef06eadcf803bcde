package backup

import (
	"strings"

	"github.com/bnema/flotilla/internal/domain"
)

// explicitTypes are the accepted values of a service's type field.
var explicitTypes = map[string]domain.ServiceKind{
	"postgres":   domain.KindPostgres,
	"postgresql": domain.KindPostgres,
	"redis":      domain.KindRedis,
	"valkey":     domain.KindRedis,
}

// kindAliases maps substrings found in images and service names to a kind.
// Checked in order so "postgres" wins over a later, looser match.
var kindAliases = []struct {
	needle string
	kind   domain.ServiceKind
}{
	{"postgres", domain.KindPostgres},
	{"postgis", domain.KindPostgres},
	{"timescale", domain.KindPostgres},
	{"redis", domain.KindRedis},
	{"valkey", domain.KindRedis},
}

// DetectServiceType maps a declared service to a backup kind.
// An explicit type is authoritative, then the image name, then the service name.
func DetectServiceType(serviceName string, cfg domain.ServiceConfig) (domain.ServiceKind, bool) {
	if t := strings.ToLower(strings.TrimSpace(cfg.Type)); t != "" {
		kind, ok := explicitTypes[t]
		return kind, ok
	}

	if kind, ok := matchKind(imageName(cfg.Image)); ok {
		return kind, true
	}
	return matchKind(strings.ToLower(serviceName))
}

func matchKind(s string) (domain.ServiceKind, bool) {
	for _, a := range kindAliases {
		if strings.Contains(s, a.needle) {
			return a.kind, true
		}
	}
	return "", false
}

// imageName strips the registry host and tag from an image reference.
// "ghcr.io/acme/postgres-tools:1.2" gives "postgres-tools".
func imageName(ref string) string {
	ref = strings.ToLower(ref)
	if i := strings.Index(ref, "@"); i >= 0 {
		ref = ref[:i]
	}
	if i := strings.LastIndex(ref, "/"); i >= 0 {
		ref = ref[i+1:]
	}
	if i := strings.Index(ref, ":"); i >= 0 {
		ref = ref[:i]
	}
	return ref
}
