package main

import (
	"bytes"
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"surveychat/pkg/config"
	"surveychat/pkg/identity"
	"surveychat/pkg/mockserver"
	"surveychat/pkg/recovery"
	"surveychat/pkg/storage"
	"surveychat/pkg/transcript"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Cleanup(func() { config.SetConfigForTesting(nil) })
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "surveychat dev")
}

func TestResetCommand(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	_, err := execute(t, "reset", "--project-dir", dir)
	require.NoError(t, err)

	dbPath := filepath.Join(dir, config.ProjectConfigDir, "state.db")
	kv, err := storage.NewSQLiteStore(dbPath)
	require.NoError(t, err)
	require.NoError(t, recovery.NewStore(kv).Save(ctx, "s-1", 3))
	id := identity.NewStore(kv).GetOrCreateRespondentID(ctx)
	require.NoError(t, kv.Close())

	out, err := execute(t, "reset", "--project-dir", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "Cleared saved interview progress")
	assert.NotContains(t, out, "respondent id")

	kv, err = storage.NewSQLiteStore(dbPath)
	require.NoError(t, err)
	st, err := recovery.NewStore(kv).Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, st)
	assert.Equal(t, id, identity.NewStore(kv).GetOrCreateRespondentID(ctx))
	require.NoError(t, kv.Close())

	out, err = execute(t, "reset", "--project-dir", dir, "--identity")
	require.NoError(t, err)
	assert.Contains(t, out, "Forgot the respondent id")

	kv, err = storage.NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer kv.Close() //nolint:errcheck
	assert.NotEqual(t, id, identity.NewStore(kv).GetOrCreateRespondentID(ctx))
}

func TestMockServerRejectsBadSurveyFile(t *testing.T) {
	dir := t.TempDir()
	bad := filepath.Join(dir, "survey.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("id: empty\nquestions: []\n"), 0644))

	_, err := execute(t, "mock-server", "--project-dir", dir, "--survey-file", bad)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no questions")
}

func TestExplicitEnvFileMustExist(t *testing.T) {
	_, err := execute(t, "reset", "--project-dir", t.TempDir(), "--env-file", "missing.env")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing.env")
}

func TestDotEnvFeedsConfig(t *testing.T) {
	t.Cleanup(func() {
		config.SetConfigForTesting(nil)
		_ = os.Unsetenv("SURVEYCHAT_API_SURVEY_ID")
	})
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("SURVEYCHAT_API_SURVEY_ID=Commute Survey\n"), 0644))

	cfg, configDir, err := loadEnvironment(&globalOptions{projectDir: dir})
	require.NoError(t, err)
	assert.Equal(t, "Commute Survey", cfg.API.SurveyID)
	assert.Equal(t, filepath.Join(dir, config.ProjectConfigDir), configDir)
}

func TestRunInterviewLeavesResumableSession(t *testing.T) {
	t.Cleanup(func() { config.SetConfigForTesting(nil) })
	srv := mockserver.NewServer(nil)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	dir := t.TempDir()
	t.Setenv("SURVEYCHAT_API_BASE_URL", ts.URL+mockserver.APIPrefix)
	t.Setenv("SURVEYCHAT_METRICS_TEXTFILE_PATH", "metrics.prom")

	cfg, configDir, err := loadEnvironment(&globalOptions{projectDir: dir})
	require.NoError(t, err)

	var out bytes.Buffer
	// Input ends straight away, as when stdin is closed mid-interview.
	require.NoError(t, runInterview(context.Background(), cfg, configDir, strings.NewReader(""), &out))

	assert.Contains(t, out.String(), "📋 Immigration Policy Opinion Survey")
	assert.Contains(t, out.String(), "Your progress is saved")

	kv, err := storage.NewSQLiteStore(cfg.StoragePath(configDir))
	require.NoError(t, err)
	defer kv.Close() //nolint:errcheck
	st, err := recovery.NewStore(kv).Load(context.Background())
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.Equal(t, 1, st.CurrentPosition)

	files, err := transcript.List(cfg.TranscriptDir(configDir))
	require.NoError(t, err)
	assert.Len(t, files, 1)

	metrics, err := os.ReadFile(cfg.MetricsPath(configDir))
	require.NoError(t, err)
	assert.Contains(t, string(metrics), "surveychat_")

	_, err = os.Stat(cfg.LogFilePath(configDir))
	assert.NoError(t, err)
}
