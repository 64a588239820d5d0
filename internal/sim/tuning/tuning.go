package tuning

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Tuning struct {
	General    General    `yaml:"general" json:"general"`
	Protection Protection `yaml:"protection" json:"protection"`
	Scheduler  Scheduler  `yaml:"scheduler" json:"scheduler"`
}

type General struct {
	DefaultGeneratorLimit   int `yaml:"default-generator-limit" json:"default_generator_limit"`
	AutoSaveIntervalMinutes int `yaml:"auto-save-interval-minutes" json:"auto_save_interval_minutes"`
	MaxStalenessMinutes     int `yaml:"max-staleness-minutes" json:"max_staleness_minutes"`
	KeepBackups             int `yaml:"keep-backups" json:"keep_backups"`
}

type Protection struct {
	PreventExplosions bool `yaml:"prevent-explosions" json:"prevent_explosions"`
}

type Scheduler struct {
	CycleIntervalMs int `yaml:"cycle-interval-ms" json:"cycle_interval_ms"`
	InitialDelayMs  int `yaml:"initial-delay-ms" json:"initial_delay_ms"`
	BatchDivisor    int `yaml:"batch-divisor" json:"batch_divisor"`
	RegionRefreshMs int `yaml:"region-refresh-ms" json:"region_refresh_ms"`
	RegionSize      int `yaml:"region-size" json:"region_size"`
	EntityThreshold int `yaml:"entity-threshold" json:"entity_threshold"`
	EntityRadius    int `yaml:"entity-radius" json:"entity_radius"`
	ParticleChance  int `yaml:"particle-chance" json:"particle_chance"`
}

func Defaults() Tuning {
	return Tuning{
		General: General{
			DefaultGeneratorLimit:   5,
			AutoSaveIntervalMinutes: 5,
			MaxStalenessMinutes:     5,
			KeepBackups:             12,
		},
		Protection: Protection{PreventExplosions: true},
		Scheduler: Scheduler{
			// 4 game ticks at 20 TPS, first run after 20 ticks.
			CycleIntervalMs: 200,
			InitialDelayMs:  1000,
			BatchDivisor:    5,
			RegionRefreshMs: 5000,
			RegionSize:      16,
			EntityThreshold: 50,
			EntityRadius:    5,
			ParticleChance:  3,
		},
	}
}

// Load reads tuning.yaml on top of Defaults. Keys missing from the file keep
// their default value.
func Load(path string) (Tuning, error) {
	t := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	t.Normalize()
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

// Normalize replaces zero values with defaults. Negative values are left for
// Validate to reject.
func (t *Tuning) Normalize() {
	if t == nil {
		return
	}
	d := Defaults()
	if t.General.AutoSaveIntervalMinutes == 0 {
		t.General.AutoSaveIntervalMinutes = d.General.AutoSaveIntervalMinutes
	}
	if t.General.MaxStalenessMinutes == 0 {
		t.General.MaxStalenessMinutes = d.General.MaxStalenessMinutes
	}
	s := &t.Scheduler
	if s.CycleIntervalMs == 0 {
		s.CycleIntervalMs = d.Scheduler.CycleIntervalMs
	}
	if s.BatchDivisor == 0 {
		s.BatchDivisor = d.Scheduler.BatchDivisor
	}
	if s.RegionRefreshMs == 0 {
		s.RegionRefreshMs = d.Scheduler.RegionRefreshMs
	}
	if s.RegionSize == 0 {
		s.RegionSize = d.Scheduler.RegionSize
	}
	if s.EntityThreshold == 0 {
		s.EntityThreshold = d.Scheduler.EntityThreshold
	}
	if s.EntityRadius == 0 {
		s.EntityRadius = d.Scheduler.EntityRadius
	}
	if s.ParticleChance == 0 {
		s.ParticleChance = d.Scheduler.ParticleChance
	}
}

func (t Tuning) Validate() error {
	if t.General.DefaultGeneratorLimit < 0 {
		return fmt.Errorf("general.default-generator-limit must be >= 0")
	}
	if t.General.AutoSaveIntervalMinutes <= 0 {
		return fmt.Errorf("general.auto-save-interval-minutes must be > 0")
	}
	if t.General.MaxStalenessMinutes <= 0 {
		return fmt.Errorf("general.max-staleness-minutes must be > 0")
	}
	if t.General.KeepBackups < 0 {
		return fmt.Errorf("general.keep-backups must be >= 0")
	}
	s := t.Scheduler
	if s.CycleIntervalMs <= 0 {
		return fmt.Errorf("scheduler.cycle-interval-ms must be > 0")
	}
	if s.InitialDelayMs < 0 {
		return fmt.Errorf("scheduler.initial-delay-ms must be >= 0")
	}
	if s.BatchDivisor <= 0 {
		return fmt.Errorf("scheduler.batch-divisor must be > 0")
	}
	if s.RegionRefreshMs < 0 {
		return fmt.Errorf("scheduler.region-refresh-ms must be >= 0")
	}
	if s.RegionSize <= 0 || s.RegionSize&(s.RegionSize-1) != 0 {
		return fmt.Errorf("scheduler.region-size must be a power of two")
	}
	if s.EntityThreshold <= 0 {
		return fmt.Errorf("scheduler.entity-threshold must be > 0")
	}
	if s.EntityRadius <= 0 {
		return fmt.Errorf("scheduler.entity-radius must be > 0")
	}
	if s.ParticleChance <= 0 {
		return fmt.Errorf("scheduler.particle-chance must be > 0")
	}
	return nil
}

func (t Tuning) AutoSaveInterval() time.Duration {
	return time.Duration(t.General.AutoSaveIntervalMinutes) * time.Minute
}

func (t Tuning) MaxStaleness() time.Duration {
	return time.Duration(t.General.MaxStalenessMinutes) * time.Minute
}

func (s Scheduler) CycleInterval() time.Duration {
	return time.Duration(s.CycleIntervalMs) * time.Millisecond
}

func (s Scheduler) InitialDelay() time.Duration {
	return time.Duration(s.InitialDelayMs) * time.Millisecond
}

func (s Scheduler) RegionRefresh() time.Duration {
	return time.Duration(s.RegionRefreshMs) * time.Millisecond
}
