package settings

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/foraging-rig/go-controller/internal/task"
)

// #region session
// Session holds the rig-level settings read once at start.
type Session struct {
	RigName          string  `json:"rig_name"`
	DBPath           string  `json:"db_path"`
	BusAddr          string  `json:"bus_addr"`
	MonitorAddr      string  `json:"monitor_addr"`
	WaterCalibration string  `json:"water_calibration"`
	LaserCalibration string  `json:"laser_calibration"`
	TaskConfig       string  `json:"task_config"`
	Seed             int64   `json:"seed"`
	Simulate         string  `json:"simulate"`
	OutcomeTimeout   float64 `json:"outcome_timeout_s"`
	EventQueueSize   int     `json:"event_queue_size"`
}

// DefaultSession returns settings for a local simulated rig.
func DefaultSession() Session {
	return Session{
		RigName:        "local",
		DBPath:         "foraging.db",
		OutcomeTimeout: 300,
		EventQueueSize: 4096,
	}
}

// Timeout returns the per-trial outcome timeout.
func (s Session) Timeout() time.Duration {
	return time.Duration(s.OutcomeTimeout * float64(time.Second))
}

// LoadSession overlays the JSON at path on the defaults. An empty path
// returns the defaults.
func LoadSession(path string) (Session, error) {
	s := DefaultSession()
	if path == "" {
		return s, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return s, fmt.Errorf("read session settings: %w", err)
	}
	if err := json.Unmarshal(b, &s); err != nil {
		return s, fmt.Errorf("parse session settings %s: %w", path, err)
	}
	return s, nil
}

// LoadEnv reads a .env file when present and applies FORAGING_* variables
// over s.
func LoadEnv(s Session) Session {
	_ = godotenv.Load()
	s.DBPath = envOr("FORAGING_DB", s.DBPath)
	s.BusAddr = envOr("FORAGING_BUS_ADDR", s.BusAddr)
	s.MonitorAddr = envOr("FORAGING_MONITOR_ADDR", s.MonitorAddr)
	s.WaterCalibration = envOr("FORAGING_WATER_CALIBRATION", s.WaterCalibration)
	s.LaserCalibration = envOr("FORAGING_LASER_CALIBRATION", s.LaserCalibration)
	s.TaskConfig = envOr("FORAGING_TASK", s.TaskConfig)
	s.Simulate = envOr("FORAGING_SIMULATE", s.Simulate)
	if v := strings.TrimSpace(os.Getenv("FORAGING_SEED")); v != "" {
		if seed, err := strconv.ParseInt(v, 10, 64); err == nil {
			s.Seed = seed
		}
	}
	return s
}

// SettingsPath returns FORAGING_SETTINGS or fallback.
func SettingsPath(fallback string) string { return envOr("FORAGING_SETTINGS", fallback) }

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

// #endregion session

// #region task-config
// LoadTaskConfig overlays the JSON at path on task.DefaultConfig and
// validates the result. An empty path returns the defaults.
func LoadTaskConfig(path string) (task.Config, error) {
	cfg := task.DefaultConfig()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read task config: %w", err)
		}
		if err := json.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("parse task config %s: %w", path, err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// #endregion task-config
