package config

import (
	"bytes"
	"os"
	"strings"
	"text/template"
)

// ExpandEnv expands environment variables in YAML content using Go
// templates. Uses {{.VAR_NAME}} syntax so literal $ characters survive
// untouched, which matters in a file that configures shells:
//   - shell env entries and prompts: TERM=$TERM, PS1='\u \$ '
//   - postgres DSNs with $ in passwords
//
// Examples:
//   - {{.DATABASE_URL}} → value of the DATABASE_URL environment variable
//   - {{.DB_HOST}}:{{.DB_PORT}} → host:port, both references expanded
//
// Missing variables expand to empty string. Validation catches required
// fields that end up empty.
func ExpandEnv(data []byte) []byte {
	tmpl, err := template.New("relay").Option("missingkey=zero").Parse(string(data))
	if err != nil {
		// Not template syntax, pass the file through untouched
		return data
	}

	env := make(map[string]string)
	for _, kv := range os.Environ() {
		// Split only on the first =, values may contain = themselves
		if idx := strings.IndexByte(kv, '='); idx > 0 {
			env[kv[:idx]] = kv[idx+1:]
		}
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, env); err != nil {
		return data
	}

	return buf.Bytes()
}
