// Package slurm renders and submits the batch wrapper that carries a job
// group onto a SLURM cluster. The rendered script re-invokes the launcher
// inside the allocation so the group supervisor runs next to its workers.
package slurm

import (
	"fmt"
	"sort"
	"strings"
	"text/template"

	"github.com/cohort-run/cohort/internal/config"
)

const scriptTemplate = `#!/bin/bash
#SBATCH --job-name={{.JobName}}
{{- if .Account}}
#SBATCH --account={{.Account}}
{{- end}}
{{- if .Partition}}
#SBATCH --partition={{.Partition}}
{{- end}}
#SBATCH --nodes={{.Nodes}}
{{- if .GPUsPerNode}}
#SBATCH --gpus-per-node={{.GPUsPerNode}}
{{- end}}
{{- if .TimeLimit}}
#SBATCH --time={{.TimeLimit}}
{{- end}}
{{- if .Output}}
#SBATCH --output={{.Output}}
{{- end}}
{{- range .Directives}}
#SBATCH {{.}}
{{- end}}

set -eu
{{- range .Setup}}
{{.}}
{{- end}}
{{- range .Exports}}
export {{.}}
{{- end}}

srun {{if .ContainerImage}}--container-image "{{.ContainerImage}}" {{end}}{{if .ContainerMounts}}--container-mounts "{{.ContainerMounts}}" {{end}}{{.Command}}
`

type scriptContext struct {
	JobName         string
	Account         string
	Partition       string
	Nodes           int
	GPUsPerNode     int
	TimeLimit       string
	Output          string
	Directives      []string
	Setup           []string
	Exports         []string
	ContainerImage  string
	ContainerMounts string
	Command         string
}

var tmpl = template.Must(template.New("sbatch").Parse(scriptTemplate))

// Render produces the sbatch script submitting the manifest's job group,
// with command as the program srun executes inside the allocation.
func Render(m *config.Manifest, command []string) (string, error) {
	if m == nil || m.Slurm == nil {
		return "", fmt.Errorf("manifest has no slurm section")
	}
	if len(command) == 0 {
		return "", fmt.Errorf("srun command is required")
	}

	spec := m.Slurm
	ctx := scriptContext{
		JobName:     spec.JobName,
		Account:     spec.Account,
		Partition:   spec.Partition,
		Nodes:       spec.Nodes,
		GPUsPerNode: spec.GPUsPerNode,
		TimeLimit:   spec.TimeLimit,
		Output:      spec.Output,
		Directives:  spec.Directives,
		Setup:       spec.Setup,
		Exports:     renderExports(m.Defaults.Env),
		Command:     shellJoin(command),
	}
	if spec.Container != nil {
		ctx.ContainerImage = spec.Container.Image
		ctx.ContainerMounts = strings.Join(spec.Container.Mounts, ",")
	}

	var b strings.Builder
	if err := tmpl.Execute(&b, ctx); err != nil {
		return "", fmt.Errorf("render sbatch script: %w", err)
	}
	return b.String(), nil
}

func renderExports(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	exports := make([]string, 0, len(env))
	for k, v := range env {
		exports = append(exports, fmt.Sprintf("%s=%s", k, shellQuote(v)))
	}
	sort.Strings(exports)
	return exports
}

func shellJoin(args []string) string {
	quoted := make([]string, len(args))
	for i, arg := range args {
		quoted[i] = shellQuote(arg)
	}
	return strings.Join(quoted, " ")
}

// shellQuote single-quotes an argument when it contains anything the shell
// would interpret.
func shellQuote(arg string) string {
	if arg == "" {
		return "''"
	}
	if !strings.ContainsAny(arg, " \t\n\"'\\$`*?[]{}()<>|&;~#") {
		return arg
	}
	return "'" + strings.ReplaceAll(arg, "'", `'"'"'`) + "'"
}
