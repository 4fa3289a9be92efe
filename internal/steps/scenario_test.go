package steps

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/locus/api/schemas"
)

func TestReadScenario(t *testing.T) {
	doc := `
name: checkout
start_url: " https://shop.example.com/cart "
steps:
  - Click the 'Submit' button
  - description: Enter "jane@example.com" in the email field
    action_type: fill
`
	sc, err := ReadScenario(strings.NewReader(doc))
	require.NoError(t, err)
	assert.Equal(t, "checkout", sc.Name)
	assert.Equal(t, "https://shop.example.com/cart", sc.StartURL)
	assert.Equal(t, []schemas.ActionStep{
		{StepNumber: 1, Description: "Click the 'Submit' button"},
		{StepNumber: 2, Description: `Enter "jane@example.com" in the email field`, ActionType: schemas.ActionFill},
	}, sc.Steps)
}

func TestReadScenarioErrors(t *testing.T) {
	tests := map[string]string{
		"empty":          "",
		"no steps":       "name: x\n",
		"blank step":     "steps:\n  - '  '\n",
		"unknown action": "steps:\n  - description: do it\n    action_type: dance\n",
		"unknown field":  "steps: [a]\ntimeout: 3\n",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ReadScenario(strings.NewReader(doc))
			assert.Error(t, err)
		})
	}
}

func TestLoadScenarioDefaultsName(t *testing.T) {
	path := filepath.Join(t.TempDir(), "login-flow.yaml")
	require.NoError(t, os.WriteFile(path, []byte("steps:\n  - Click 'Sign in'\n"), 0o600))

	sc, err := LoadScenario(path)
	require.NoError(t, err)
	assert.Equal(t, "login-flow", sc.Name)

	_, err = LoadScenario(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
