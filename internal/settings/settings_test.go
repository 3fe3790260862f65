package settings

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/foraging-rig/go-controller/internal/task"
)

// Left valve: 4 uL per 0.02 s, 8 uL per 0.04 s on the latest date.
const waterJSON = `{
  "2024-01-10": {"Left": {"0.02": {"0.5": {"100": [100]}}}},
  "2024-03-02": {
    "Left": {
      "0.02": {"0.5": {"100": [390, 410]}},
      "0.04": {"0.5": {"100": [800], "50": [400]}}
    }
  }
}`

const laserJSON = `{
  "2024-02-01": {"Blue": {"Constant": {"Laser_1": {"LaserPowerVoltage": [[1, 2], [2, 4]]}}}},
  "2024-04-01": {
    "Blue": {
      "Constant": {"Laser_1": {"LaserPowerVoltage": [[1, 5], [3, 15]]}},
      "Sine": {"40": {"Laser_1": {"LaserPowerVoltage": [[0.5, 1], [1.5, 3]]}}}
    }
  }
}`

func TestValveTimeFromLatestDate(t *testing.T) {
	c, err := NewCalibration([]byte(waterJSON), nil)
	require.NoError(t, err)
	sec, ok := c.ValveTime(task.Left, 6)
	require.True(t, ok)
	require.InDelta(t, 0.03, sec, 1e-9)
	_, ok = c.ValveTime(task.Right, 6)
	require.False(t, ok, "right valve has no calibration")
}

func TestValveTimesFallback(t *testing.T) {
	c, err := NewCalibration([]byte(waterJSON), nil)
	require.NoError(t, err)
	v := c.ValveTimes(task.Valves{LeftOpen: 0.05, RightOpen: 0.06, LeftVolume: 4, RightVolume: 4})
	require.InDelta(t, 0.02, v.Left, 1e-9)
	require.Equal(t, 0.06, v.Right)

	var nilCal *Calibration
	v = nilCal.ValveTimes(task.Valves{LeftOpen: 0.05, RightOpen: 0.06})
	require.Equal(t, 0.05, v.Left)
}

func TestLaserVoltage(t *testing.T) {
	c, err := NewCalibration(nil, []byte(laserJSON))
	require.NoError(t, err)

	v, ok := c.Voltage("Blue", task.Constant, 0, 10)
	require.True(t, ok)
	require.InDelta(t, 2, v, 1e-9)

	v, ok = c.Voltage("Blue", task.Sine, 40, 2)
	require.True(t, ok)
	require.InDelta(t, 1, v, 1e-9)

	// Second lookup is served from the fit cache.
	v2, _ := c.Voltage("Blue", task.Sine, 40, 2)
	require.Equal(t, v, v2)

	_, ok = c.Voltage("Blue", task.Sine, 20, 2)
	require.False(t, ok)
	_, ok = c.Voltage("Red", task.Constant, 0, 2)
	require.False(t, ok)
}

func TestLoadCalibrationMissingFiles(t *testing.T) {
	c, err := LoadCalibration(filepath.Join(t.TempDir(), "nope.json"), "")
	require.NoError(t, err)
	_, ok := c.ValveTime(task.Left, 3)
	require.False(t, ok)
}

func TestBadCalibration(t *testing.T) {
	_, err := NewCalibration([]byte(`{"2024-01-01": {"Left": {"abc": {"1": {"1": [1]}}}}}`), nil)
	require.Error(t, err)
}

func TestLoadTaskConfigOverlay(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "task.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"task": "Uncoupled Baiting", "block": {"min": 20, "max": 35, "beta": 10, "min_reward": 1}}`), 0o644))
	cfg, err := LoadTaskConfig(path)
	require.NoError(t, err)
	require.Equal(t, task.UncoupledBaiting, cfg.Task)
	require.Equal(t, 35, cfg.Block.Max)
	require.Equal(t, 1.0, cfg.ResponseTime, "unset fields keep defaults")

	require.NoError(t, os.WriteFile(path, []byte(`{"uncoupled_reward_pool": [], "task": "Uncoupled Baiting"}`), 0o644))
	_, err = LoadTaskConfig(path)
	var ce *task.ConfigError
	require.ErrorAs(t, err, &ce)
	require.ErrorIs(t, err, task.ErrEmptyPool)
}

func TestSessionEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "session.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"rig_name": "rig-3", "bus_addr": "rig3:50051"}`), 0o644))
	s, err := LoadSession(path)
	require.NoError(t, err)
	require.Equal(t, "rig-3", s.RigName)
	require.Equal(t, "foraging.db", s.DBPath)

	t.Setenv("FORAGING_BUS_ADDR", "override:1")
	t.Setenv("FORAGING_SEED", "42")
	s = LoadEnv(s)
	require.Equal(t, "override:1", s.BusAddr)
	require.Equal(t, int64(42), s.Seed)
}
