package tuning

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoad_PartialFileKeepsDefaults(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "tuning.yaml")
	require.NoError(t, os.WriteFile(p, []byte(`
general:
  default-generator-limit: 8
protection:
  prevent-explosions: false
scheduler:
  batch-divisor: 10
`), 0o644))

	tu, err := Load(p)
	require.NoError(t, err)
	require.Equal(t, 8, tu.General.DefaultGeneratorLimit)
	require.False(t, tu.Protection.PreventExplosions)
	require.Equal(t, 10, tu.Scheduler.BatchDivisor)
	require.Equal(t, 5*time.Minute, tu.AutoSaveInterval())
	require.Equal(t, 200*time.Millisecond, tu.Scheduler.CycleInterval())
	require.Equal(t, 5*time.Second, tu.Scheduler.RegionRefresh())
}

func TestLoad_RejectsBadValues(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "tuning.yaml")
	require.NoError(t, os.WriteFile(p, []byte("scheduler:\n  region-size: 12\n"), 0o644))

	_, err := Load(p)
	require.Error(t, err)
	require.Contains(t, err.Error(), "region-size")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.True(t, os.IsNotExist(err))
}

func TestDefaults_Valid(t *testing.T) {
	require.NoError(t, Defaults().Validate())
}
