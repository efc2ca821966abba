package config

import (
	"fmt"
	"time"
)

// Launcher names accepted in worker specs.
const (
	RuntimeProcess = "process"
	RuntimeDocker  = "docker"
)

// Defaults applied when the manifest leaves supervision tunables unset.
const (
	DefaultPollInterval = 500 * time.Millisecond
	DefaultGracePeriod  = 10 * time.Second
)

// Duration wraps time.Duration for YAML unmarshalling.
type Duration struct {
	time.Duration
	explicit bool
}

// UnmarshalText parses a textual duration, accepting empty strings.
func (d *Duration) UnmarshalText(text []byte) error {
	d.explicit = true
	if len(text) == 0 {
		d.Duration = 0
		return nil
	}
	dur, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	d.Duration = dur
	return nil
}

// MarshalText renders the duration using time.Duration formatting.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// IsSet reports whether the duration was explicitly provided or non-zero.
func (d Duration) IsSet() bool {
	return d.explicit || d.Duration != 0
}

// Manifest mirrors the job.yaml document structure.
type Manifest struct {
	Version   string        `yaml:"version"`
	Job       JobMeta       `yaml:"job"`
	Defaults  Defaults      `yaml:"defaults"`
	Supervise SuperviseSpec `yaml:"supervise"`
	Slurm     *SlurmSpec    `yaml:"slurm"`
	Workers   []*WorkerSpec `yaml:"workers"`
}

// JobMeta contains metadata about the job group.
type JobMeta struct {
	Name    string `yaml:"name"`
	Workdir string `yaml:"workdir"`
}

// Defaults captures defaults applied to workers that leave fields unset.
type Defaults struct {
	Runtime string            `yaml:"runtime"`
	Env     map[string]string `yaml:"env"`
}

// SuperviseSpec holds the group supervision tunables.
type SuperviseSpec struct {
	PollInterval Duration `yaml:"pollInterval"`
	GracePeriod  Duration `yaml:"gracePeriod"`
}

// SlurmSpec describes the batch submission wrapping for the job group.
type SlurmSpec struct {
	JobName     string         `yaml:"jobName"`
	Account     string         `yaml:"account"`
	Partition   string         `yaml:"partition"`
	Nodes       int            `yaml:"nodes"`
	GPUsPerNode int            `yaml:"gpusPerNode"`
	TimeLimit   string         `yaml:"timeLimit"`
	Output      string         `yaml:"output"`
	Container   *ContainerSpec `yaml:"container"`
	Directives  []string       `yaml:"directives"`
	Setup       []string       `yaml:"setup"`
}

// ContainerSpec identifies the container image and bind mounts the batch
// job runs under.
type ContainerSpec struct {
	Image  string   `yaml:"image"`
	Mounts []string `yaml:"mounts"`
}

// WorkerSpec describes an individual worker in the job group. Workers are
// an ordered sequence: the order decides the tie-break when several exit
// within the same poll cycle.
type WorkerSpec struct {
	Name        string            `yaml:"name"`
	Runtime     string            `yaml:"runtime"`
	Command     []string          `yaml:"command"`
	Env         map[string]string `yaml:"env"`
	EnvFromFile string            `yaml:"envFromFile"`
	Workdir     string            `yaml:"workdir"`
	Image       string            `yaml:"image"`
	Mounts      []string          `yaml:"mounts"`
	Ports       []string          `yaml:"ports"`

	// ResolvedWorkdir is the absolute working directory computed at load
	// time from the manifest location and the job workdir.
	ResolvedWorkdir string `yaml:"-"`
}

// Clone creates a deep copy of the worker spec.
func (w *WorkerSpec) Clone() *WorkerSpec {
	if w == nil {
		return nil
	}
	cp := *w
	if len(w.Command) > 0 {
		cp.Command = append([]string(nil), w.Command...)
	}
	if len(w.Env) > 0 {
		cp.Env = make(map[string]string, len(w.Env))
		for k, v := range w.Env {
			cp.Env[k] = v
		}
	}
	if len(w.Mounts) > 0 {
		cp.Mounts = append([]string(nil), w.Mounts...)
	}
	if len(w.Ports) > 0 {
		cp.Ports = append([]string(nil), w.Ports...)
	}
	return &cp
}

// ApplyDefaults fills unset fields from the manifest defaults.
func (m *Manifest) ApplyDefaults() error {
	if !m.Supervise.PollInterval.IsSet() {
		m.Supervise.PollInterval = Duration{Duration: DefaultPollInterval}
	}
	if !m.Supervise.GracePeriod.IsSet() {
		m.Supervise.GracePeriod = Duration{Duration: DefaultGracePeriod}
	}

	defaultRuntime := m.Defaults.Runtime
	if defaultRuntime == "" {
		defaultRuntime = RuntimeProcess
	}
	for _, w := range m.Workers {
		if w == nil {
			continue
		}
		if w.Runtime == "" {
			w.Runtime = defaultRuntime
		}
		if len(m.Defaults.Env) > 0 {
			merged := make(map[string]string, len(m.Defaults.Env)+len(w.Env))
			for k, v := range m.Defaults.Env {
				merged[k] = v
			}
			for k, v := range w.Env {
				merged[k] = v
			}
			w.Env = merged
		}
	}

	if m.Slurm != nil {
		if m.Slurm.JobName == "" {
			m.Slurm.JobName = m.Job.Name
		}
		if m.Slurm.Nodes == 0 {
			m.Slurm.Nodes = 1
		}
	}
	return nil
}
