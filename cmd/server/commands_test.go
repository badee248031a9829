package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/safecoach/internal/domain"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestClassifyCommand(t *testing.T) {
	out, err := run(t, "classify", "I", "want", "to", "end", "my", "life")
	require.NoError(t, err)

	var got classifyOutput
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, domain.CategoryCrisis, got.Category)
	assert.True(t, got.RuleMatched)
	assert.Equal(t, "crisis", got.Precedence[0])
}

func TestClassifyCommandPendingConfirmation(t *testing.T) {
	out, err := run(t, "classify", "--pending", "yes")
	require.NoError(t, err)

	var got classifyOutput
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, domain.CategoryBookingEmail, got.Category)
}

func TestRulesCheckCommand(t *testing.T) {
	out, err := run(t, "rules", "check")
	require.NoError(t, err)
	assert.Contains(t, out, "built-in rules")
	assert.Contains(t, out, "OK")

	bad := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("version: 2\ncrisis: []\n"), 0o600))
	_, err = run(t, "rules", "check", bad)
	assert.Error(t, err)
}
