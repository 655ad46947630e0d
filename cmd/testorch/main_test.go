package main

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridianlabs/testorch/engine"
	"github.com/meridianlabs/testorch/models"
	"github.com/meridianlabs/testorch/runner"
)

func TestParseTestTypesAccepted(t *testing.T) {
	got, err := parseTestTypes("deployment, evm,load")
	require.NoError(t, err)
	assert.Equal(t, []models.TestType{models.TestTypeDeployment, models.TestTypeEVM, models.TestTypeLoad}, got)
}

func TestParseTestTypesRejectsUnknown(t *testing.T) {
	_, err := parseTestTypes("deployment,not-a-phase")
	assert.Error(t, err)
}

func TestParseTestTypesRejectsEmpty(t *testing.T) {
	_, err := parseTestTypes("  ,  ")
	assert.Error(t, err)
}

func TestRunMissingNetworksIsConfigError(t *testing.T) {
	t.Setenv("TESTORCH_PRIVATE_KEY", "deadbeef")
	code := run([]string{})
	assert.Equal(t, exitConfig, code)
}

func TestRunMissingPrivateKeyIsConfigError(t *testing.T) {
	t.Setenv("TESTORCH_PRIVATE_KEY", "")
	code := run([]string{"-networks", "localdev"})
	assert.Equal(t, exitConfig, code)
}

func TestRunUnparsableFlagsIsConfigError(t *testing.T) {
	code := run([]string{"-does-not-exist"})
	assert.Equal(t, exitConfig, code)
}

func TestRunUnknownNetworkIsConfigError(t *testing.T) {
	t.Setenv("TESTORCH_PRIVATE_KEY", "deadbeef")
	dir := t.TempDir()
	code := run([]string{"-networks", "nope", "-registryDir", dir, "-storePath", dir + "/results.db"})
	assert.Equal(t, exitConfig, code)
}

func TestRunWithSnapshotsReturnsImmediatelyWhenDisabled(t *testing.T) {
	dir := t.TempDir()
	cfg := engine.Defaults()
	cfg.RegistryDir = dir
	cfg.StorePath = filepath.Join(dir, "results.db")
	eng, err := engine.New(context.Background(), cfg, slog.Default())
	require.NoError(t, err)
	t.Cleanup(func() { _ = eng.Close() })

	_, err = runWithSnapshots(context.Background(), eng, runner.Config{Networks: []string{"nope"}}, 0, slog.Default())
	assert.Error(t, err)
}

func TestRunWithSnapshotsLogsWhileWaiting(t *testing.T) {
	dir := t.TempDir()
	cfg := engine.Defaults()
	cfg.RegistryDir = dir
	cfg.StorePath = filepath.Join(dir, "results.db")
	eng, err := engine.New(context.Background(), cfg, slog.Default())
	require.NoError(t, err)
	t.Cleanup(func() { _ = eng.Close() })

	_, err = runWithSnapshots(context.Background(), eng, runner.Config{Networks: []string{"nope"}}, 10*time.Millisecond, slog.Default())
	assert.Error(t, err)
}
