package config

import (
	"bytes"
	"os"
	"strings"
	"text/template"
)

// ExpandEnv expands environment references in bootstrap file content
// using Go template syntax: {{.SLACK_WEBHOOK_URL}} becomes the value of
// that variable. Template syntax is used instead of $-expansion so
// literal dollars survive untouched in values where they are common:
//
//   - metric name patterns: ^orders.*$, queue\$depth
//   - passwords: p@ss$word
//   - shell snippets: $PATH, ${ARRAY[0]}
//
// Missing variables expand to the empty string; downstream validation
// catches required fields left empty. Content that does not parse or
// execute as a template is returned unchanged so the YAML parser can
// report the real problem.
func ExpandEnv(data []byte) []byte {
	tmpl, err := template.New("bootstrap").Option("missingkey=zero").Parse(string(data))
	if err != nil {
		return data
	}

	env := make(map[string]string)
	for _, kv := range os.Environ() {
		if name, value, ok := strings.Cut(kv, "="); ok && name != "" {
			env[name] = value
		}
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, env); err != nil {
		return data
	}
	return buf.Bytes()
}
