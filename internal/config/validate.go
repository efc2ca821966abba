package config

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/docker/go-connections/nat"
)

var (
	namePattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_.-]*$`)
	// SLURM accepts minutes, mm:ss, hh:mm:ss, days-hh and friends; accept
	// the common numeric-and-separator forms.
	timeLimitPattern = regexp.MustCompile(`^\d+(-\d{1,2}(:\d{2}(:\d{2})?)?|:\d{2}(:\d{2})?)?$`)
)

// Validate checks the manifest for structural problems after defaults have
// been applied.
func (m *Manifest) Validate() error {
	if m.Job.Name == "" {
		return fmt.Errorf("job.name is required")
	}
	if !namePattern.MatchString(m.Job.Name) {
		return fmt.Errorf("job.name %q contains invalid characters", m.Job.Name)
	}

	if m.Supervise.PollInterval.Duration <= 0 {
		return fmt.Errorf("supervise.pollInterval must be positive")
	}
	if m.Supervise.GracePeriod.Duration < 0 {
		return fmt.Errorf("supervise.gracePeriod must not be negative")
	}

	if len(m.Workers) == 0 {
		return fmt.Errorf("workers must not be empty")
	}
	seen := make(map[string]struct{}, len(m.Workers))
	for i, w := range m.Workers {
		if w == nil {
			return fmt.Errorf("%s: worker is empty", workerField(i, "", ""))
		}
		if w.Name == "" {
			return fmt.Errorf("%s: name is required", workerField(i, "", ""))
		}
		if !namePattern.MatchString(w.Name) {
			return fmt.Errorf("%s: name contains invalid characters", workerField(i, w.Name, ""))
		}
		if _, dup := seen[w.Name]; dup {
			return fmt.Errorf("%s: duplicate worker name", workerField(i, w.Name, ""))
		}
		seen[w.Name] = struct{}{}

		switch w.Runtime {
		case RuntimeProcess:
			if len(w.Command) == 0 {
				return fmt.Errorf("%s: process workers require a command", workerField(i, w.Name, "command"))
			}
			if len(w.Mounts) > 0 || len(w.Ports) > 0 || w.Image != "" {
				return fmt.Errorf("%s: image, mounts and ports only apply to docker workers", workerField(i, w.Name, "runtime"))
			}
		case RuntimeDocker:
			if w.Image == "" {
				return fmt.Errorf("%s: docker workers require an image", workerField(i, w.Name, "image"))
			}
			for idx, mount := range w.Mounts {
				if err := validateMount(mount); err != nil {
					return fmt.Errorf("%s: %w", workerField(i, w.Name, fmt.Sprintf("mounts[%d]", idx)), err)
				}
			}
			for idx, spec := range w.Ports {
				if _, err := nat.ParsePortSpec(spec); err != nil {
					return fmt.Errorf("%s: invalid port mapping %q: %w", workerField(i, w.Name, fmt.Sprintf("ports[%d]", idx)), spec, err)
				}
			}
		default:
			return fmt.Errorf("%s: unknown runtime %q", workerField(i, w.Name, "runtime"), w.Runtime)
		}
	}

	if m.Slurm != nil {
		if err := m.Slurm.validate(); err != nil {
			return err
		}
	}
	return nil
}

func (s *SlurmSpec) validate() error {
	if s.Nodes < 1 {
		return fmt.Errorf("slurm.nodes must be at least 1")
	}
	if s.GPUsPerNode < 0 {
		return fmt.Errorf("slurm.gpusPerNode must not be negative")
	}
	if s.TimeLimit != "" && !timeLimitPattern.MatchString(s.TimeLimit) {
		return fmt.Errorf("slurm.timeLimit %q is not a valid time limit", s.TimeLimit)
	}
	if s.Container != nil {
		if s.Container.Image == "" {
			return fmt.Errorf("slurm.container.image is required when a container is configured")
		}
		for idx, mount := range s.Container.Mounts {
			if err := validateMount(mount); err != nil {
				return fmt.Errorf("slurm.container.mounts[%d]: %w", idx, err)
			}
		}
	}
	return nil
}

func validateMount(mount string) error {
	parts := strings.Split(mount, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return fmt.Errorf("invalid mount %q, expected src:dst[:options]", mount)
	}
	src, dst := parts[0], parts[1]
	if src == "" || dst == "" {
		return fmt.Errorf("invalid mount %q, source and destination are required", mount)
	}
	if !filepath.IsAbs(dst) {
		return fmt.Errorf("invalid mount %q, destination must be absolute", mount)
	}
	return nil
}

func workerField(index int, name, field string) string {
	label := fmt.Sprintf("workers[%d]", index)
	if name != "" {
		label = fmt.Sprintf("workers[%d] (%s)", index, name)
	}
	if field == "" {
		return label
	}
	return label + "." + field
}
