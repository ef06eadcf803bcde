package certs

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestServerName(t *testing.T) {
	tests := []struct {
		name   string
		conf   string
		want   string
		wantOK bool
	}{
		{
			name:   "own line",
			conf:   "server {\n  listen 443 ssl;\n  server_name api.acme.dev;\n}\n",
			want:   "api.acme.dev",
			wantOK: true,
		},
		{
			name:   "same line as other directives",
			conf:   "server { listen 443 ssl; server_name one.example.com; }",
			want:   "one.example.com",
			wantOK: true,
		},
		{
			name:   "value on following lines",
			conf:   "server {\n  server_name\n    _\n    two.example.com;\n}\n",
			want:   "two.example.com",
			wantOK: true,
		},
		{
			name:   "skips catch-all and wildcard",
			conf:   "server { server_name _ *.example.com Www.Example.com; }",
			want:   "www.example.com",
			wantOK: true,
		},
		{
			name:   "commented out",
			conf:   "server {\n  # server_name hidden.example.com;\n  listen 80;\n}\n",
			wantOK: false,
		},
		{
			name:   "comment after directive",
			conf:   "server_name three.example.com; # primary\n",
			want:   "three.example.com",
			wantOK: true,
		},
		{
			name:   "directive prefix only",
			conf:   "server_names_hash_bucket_size 64;\n",
			wantOK: false,
		},
		{
			name:   "only localhost",
			conf:   "server { server_name localhost; }",
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := serverName([]byte(tt.conf))
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}
