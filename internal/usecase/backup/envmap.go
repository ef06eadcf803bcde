package backup

import "github.com/bnema/flotilla/internal/domain"

// envMapping copies one variable of the parent service into the sidecar.
type envMapping struct {
	From     string
	To       string
	Fallback string
}

// envTables lists, per kind, which parent variables the sidecar needs and under
// which name. A Fallback is used when the parent does not set From.
var envTables = map[domain.ServiceKind][]envMapping{
	domain.KindPostgres: {
		{From: "POSTGRES_USER", To: "PGUSER", Fallback: "postgres"},
		{From: "POSTGRES_DB", To: "PGDATABASE"},
		{From: "POSTGRES_PASSWORD", To: "PGPASSWORD"},
		{From: "POSTGRES_PASSWORD_FILE", To: "PGPASSWORD_FILE"},
		{From: "PGPORT", To: "PGPORT"},
	},
	domain.KindRedis: {
		{From: "REDIS_PASSWORD", To: "REDISCLI_AUTH"},
		{From: "REDIS_PASSWORD_FILE", To: "REDIS_PASSWORD_FILE"},
		{From: "REDIS_PORT", To: "REDIS_PORT"},
	},
}

// mapEnv applies the kind's table to the parent's environment.
func mapEnv(kind domain.ServiceKind, parent map[string]string) map[string]string {
	out := make(map[string]string)
	for _, m := range envTables[kind] {
		if v, ok := parent[m.From]; ok && v != "" {
			out[m.To] = v
		} else if m.Fallback != "" {
			out[m.To] = m.Fallback
		}
	}
	return out
}
