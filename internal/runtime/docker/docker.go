package docker

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/api/types/strslice"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"

	"github.com/cohort-run/cohort/internal/runtime"
)

const stopTimeout = 10 * time.Second

func init() {
	runtime.Register("docker", New)
}

type launcher struct {
	client     *client.Client
	clientOnce sync.Once
	clientErr  error
}

// New returns a Docker backed launcher implementation.
func New() runtime.Launcher {
	return &launcher{}
}

func (l *launcher) getClient() (*client.Client, error) {
	l.clientOnce.Do(func() {
		cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
		if err != nil {
			l.clientErr = err
			return
		}
		l.client = cli
	})
	return l.client, l.clientErr
}

func (l *launcher) Start(ctx context.Context, spec runtime.StartSpec) (runtime.Handle, error) {
	if spec.Image == "" {
		return nil, errors.New("worker image is required")
	}

	cli, err := l.getClient()
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}

	if err := ensureImage(ctx, cli, spec.Image); err != nil {
		return nil, err
	}

	containerCfg, hostCfg, err := buildConfigs(spec)
	if err != nil {
		return nil, err
	}

	createResp, err := cli.ContainerCreate(ctx, containerCfg, hostCfg, &network.NetworkingConfig{}, nil, "")
	if err != nil {
		return nil, fmt.Errorf("container create: %w", err)
	}
	containerID := createResp.ID

	if err := cli.ContainerStart(ctx, containerID, types.ContainerStartOptions{}); err != nil {
		return nil, fmt.Errorf("container start: %w", err)
	}

	h := newDockerHandle(cli, containerID, spec.Name)
	h.startLogStreamer()
	h.startWaiter()
	return h, nil
}

type dockerHandle struct {
	cli         *client.Client
	containerID string
	name        string

	logs    chan runtime.LogEntry
	logCtx  context.Context
	logStop context.CancelFunc
	logOnce sync.Once
	logDone chan struct{}

	waitOnce   sync.Once
	waitDone   chan struct{}
	waitResult waitOutcome
}

type waitOutcome struct {
	status container.WaitResponse
	err    error
}

func newDockerHandle(cli *client.Client, id, name string) *dockerHandle {
	logCtx, logCancel := context.WithCancel(context.Background())
	return &dockerHandle{
		cli:         cli,
		containerID: id,
		name:        name,
		logs:        make(chan runtime.LogEntry, 128),
		logCtx:      logCtx,
		logStop:     logCancel,
		logDone:     make(chan struct{}),
		waitDone:    make(chan struct{}),
	}
}

func (h *dockerHandle) startLogStreamer() {
	h.logOnce.Do(func() {
		go func() {
			defer close(h.logs)
			defer close(h.logDone)
			reader, err := h.cli.ContainerLogs(h.logCtx, h.containerID, types.ContainerLogsOptions{
				ShowStdout: true,
				ShowStderr: true,
				Follow:     true,
				Tail:       "all",
			})
			if err != nil {
				return
			}
			defer reader.Close()

			stdout := newLogWriter(h.logCtx, h.logs, runtime.LogSourceStdout, "")
			stderr := newLogWriter(h.logCtx, h.logs, runtime.LogSourceStderr, "warn")
			_, _ = stdcopy.StdCopy(stdout, stderr, reader)
			stdout.Close()
			stderr.Close()
		}()
	})
}

func (h *dockerHandle) startWaiter() {
	go func() {
		statusCh, errCh := h.cli.ContainerWait(context.Background(), h.containerID, container.WaitConditionNextExit)
		var outcome waitOutcome
		select {
		case err := <-errCh:
			if err != nil {
				outcome.err = err
			}
		case resp := <-statusCh:
			outcome.status = resp
		}
		h.setWaitOutcome(outcome)
	}()
}

func (h *dockerHandle) setWaitOutcome(outcome waitOutcome) {
	h.waitOnce.Do(func() {
		h.waitResult = outcome
		h.logStop()
		close(h.waitDone)
	})
}

func (h *dockerHandle) TryWait() (int, bool, error) {
	select {
	case <-h.waitDone:
	default:
		return 0, false, nil
	}
	outcome := h.waitResult
	if outcome.err != nil {
		return 0, true, fmt.Errorf("container wait %s: %w", h.name, outcome.err)
	}
	if outcome.status.Error != nil {
		return 0, true, errors.New(outcome.status.Error.Message)
	}
	return int(outcome.status.StatusCode), true, nil
}

// Terminate delivers SIGTERM to the container's init process. Grace and
// escalation are the supervisor's job, so the daemon's own stop timeout is
// deliberately not used here.
func (h *dockerHandle) Terminate() error {
	return h.signal("SIGTERM")
}

// Kill delivers SIGKILL to the container's init process.
func (h *dockerHandle) Kill() error {
	return h.signal("SIGKILL")
}

func (h *dockerHandle) signal(sig string) error {
	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	if err := h.cli.ContainerKill(ctx, h.containerID, sig); err != nil {
		return fmt.Errorf("signal container %s: %w", h.name, err)
	}
	return nil
}

func (h *dockerHandle) Logs() <-chan runtime.LogEntry {
	return h.logs
}

type logWriter struct {
	ctx    context.Context
	ch     chan<- runtime.LogEntry
	source string
	level  string
	buf    bytes.Buffer
	mu     sync.Mutex
}

func newLogWriter(ctx context.Context, ch chan<- runtime.LogEntry, source, level string) *logWriter {
	return &logWriter{ctx: ctx, ch: ch, source: source, level: level}
}

func (w *logWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	total := len(p)
	reader := bufio.NewReader(bytes.NewReader(p))
	for {
		segment, err := reader.ReadBytes('\n')
		if len(segment) > 0 {
			if segment[len(segment)-1] == '\n' {
				w.buf.Write(segment[:len(segment)-1])
				w.emit(w.buf.String())
				w.buf.Reset()
			} else {
				w.buf.Write(segment)
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return total, err
		}
	}
	return total, nil
}

func (w *logWriter) emit(line string) {
	if line == "" {
		return
	}
	select {
	case w.ch <- runtime.LogEntry{Message: line, Source: w.source, Level: w.level}:
	case <-w.ctx.Done():
	}
}

func (w *logWriter) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.buf.Len() == 0 {
		return
	}
	w.emit(w.buf.String())
	w.buf.Reset()
}

func ensureImage(ctx context.Context, cli *client.Client, imageName string) error {
	_, _, err := cli.ImageInspectWithRaw(ctx, imageName)
	if err == nil {
		return nil
	}
	if !client.IsErrNotFound(err) {
		return fmt.Errorf("inspect image: %w", err)
	}
	reader, err := cli.ImagePull(ctx, imageName, types.ImagePullOptions{})
	if err != nil {
		return fmt.Errorf("pull image: %w", err)
	}
	defer reader.Close()
	_, _ = io.Copy(io.Discard, reader)
	return nil
}

func buildConfigs(spec runtime.StartSpec) (*container.Config, *container.HostConfig, error) {
	env := make([]string, 0, len(spec.Env))
	for k, v := range spec.Env {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}
	sort.Strings(env)

	exposed := nat.PortSet{}
	bindings := nat.PortMap{}
	for _, portSpec := range spec.Ports {
		mappings, err := nat.ParsePortSpec(portSpec)
		if err != nil {
			return nil, nil, fmt.Errorf("parse port %q: %w", portSpec, err)
		}
		for _, mapping := range mappings {
			exposed[mapping.Port] = struct{}{}
			bindings[mapping.Port] = append(bindings[mapping.Port], mapping.Binding)
		}
	}

	var cmdSlice []string
	if len(spec.Command) > 0 {
		cmdSlice = append([]string(nil), spec.Command...)
	}

	cfg := &container.Config{
		Image:        spec.Image,
		Env:          env,
		Cmd:          strslice.StrSlice(cmdSlice),
		ExposedPorts: exposed,
		WorkingDir:   spec.Workdir,
	}
	host := &container.HostConfig{
		PortBindings: bindings,
		Binds:        append([]string(nil), spec.Mounts...),
	}
	return cfg, host, nil
}
