package dispatcher

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "script.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadScript_OverridesKeepDefaults(t *testing.T) {
	path := writeScript(t, "task_found: \"Case opened for {{.Identity}}.\"\n")

	s, err := LoadScript(path)
	require.NoError(t, err)
	assert.Equal(t, "Case opened for {{.Identity}}.", s.TaskFound)
	assert.Equal(t, DefaultScript().Reveal, s.Reveal)
}

func TestLoadScript_Errors(t *testing.T) {
	_, err := LoadScript(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = LoadScript(writeScript(t, "task_found: [unclosed\n"))
	assert.ErrorContains(t, err, "parse script")

	_, err = LoadScript(writeScript(t, "reveal: \"{{.Fields.card_ending\"\n"))
	assert.ErrorContains(t, err, "script reveal")
}

func TestScript_FieldsOnlyInReveal(t *testing.T) {
	tests := []struct {
		name   string
		script Script
	}{
		{"task found", Script{TaskFound: "Found {{.Identity}}: ${{.Fields.transaction_amount}}"}},
		{"challenge", Script{ChallengePrompt: "{{.Challenge}} (card {{.Fields.card_ending}})"}},
		{"verify success", Script{VerifySuccess: "{{range $k, $v := .Fields}}{{$v}}{{end}}"}},
		{"session complete", Script{SessionComplete: "{{index .Fields \"card_ending\"}}"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := compileScript(tt.script)
			assert.ErrorContains(t, err, "Fields")
		})
	}

	_, err := compileScript(Script{Reveal: "card {{.Fields.card_ending}} for {{.Identity}}"})
	assert.NoError(t, err)

	_, err = LoadScript(writeScript(t, "task_found: \"{{.Identity}} {{.Fields.card_ending}}\"\n"))
	assert.ErrorContains(t, err, "script task_found")
}
