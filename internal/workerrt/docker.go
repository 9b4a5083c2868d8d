package workerrt

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/nikhilbhutani/trainingorchestrator/internal/training"
)

// Runner executes one CLI invocation and returns what it printed.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)
}

type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}

// LaunchError carries the diagnostic text the runtime printed when a worker
// could not be started.
type LaunchError struct {
	Diagnostic string
	Err        error
}

func (e *LaunchError) Error() string {
	if e.Diagnostic != "" {
		return e.Diagnostic
	}
	return fmt.Sprintf("launch worker: %v", e.Err)
}

func (e *LaunchError) Unwrap() error { return e.Err }

type DockerConfig struct {
	Bin           string
	Image         string
	ModelCacheDir string
	GPUs          string
	LaunchTimeout time.Duration
	ProbeTimeout  time.Duration
}

// Docker runs each training job in its own container via the docker CLI.
// User-supplied values reach the container only through the mounted config
// file; the command line is fixed apart from ids and host paths.
type Docker struct {
	cfg    DockerConfig
	runner Runner
}

var _ training.WorkerBackend = (*Docker)(nil)

func NewDocker(cfg DockerConfig, runner Runner) *Docker {
	if cfg.Bin == "" {
		cfg.Bin = "docker"
	}
	if cfg.LaunchTimeout <= 0 {
		cfg.LaunchTimeout = 2 * time.Minute
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 15 * time.Second
	}
	if runner == nil {
		runner = ExecRunner{}
	}
	return &Docker{cfg: cfg, runner: runner}
}

func ContainerName(m *training.Materialized) string {
	return "trainer-" + m.JobID.String()
}

func (d *Docker) runArgs(m *training.Materialized) []string {
	args := []string{
		"run", "--detach",
		"--name", ContainerName(m),
		"--label", "trainer.job_id=" + m.JobID.String(),
		"--volume", m.DatasetPath + ":" + training.WorkerDatasetDir + ":ro",
		"--volume", m.OutputPath + ":" + training.WorkerOutputDir,
		"--volume", m.ConfigPath + ":" + training.WorkerConfigPath + ":ro",
	}
	if d.cfg.ModelCacheDir != "" {
		args = append(args, "--volume", d.cfg.ModelCacheDir+":"+training.WorkerCacheDir)
	}
	if d.cfg.GPUs != "" {
		args = append(args, "--gpus", d.cfg.GPUs)
	}
	return append(args, d.cfg.Image, "--config", training.WorkerConfigPath)
}

func (d *Docker) Launch(ctx context.Context, m *training.Materialized) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.LaunchTimeout)
	defer cancel()

	stdout, stderr, err := d.runner.Run(ctx, d.cfg.Bin, d.runArgs(m)...)
	if err != nil {
		return "", &LaunchError{Diagnostic: strings.TrimSpace(string(stderr)), Err: err}
	}

	handle := strings.TrimSpace(string(stdout))
	if handle == "" {
		handle = ContainerName(m)
	}
	return handle, nil
}

func (d *Docker) Probe(ctx context.Context, handle string) (training.WorkerState, error) {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.ProbeTimeout)
	defer cancel()

	stdout, stderr, err := d.runner.Run(ctx, d.cfg.Bin, "inspect", "--format", "{{.State.Status}}", handle)
	if err != nil {
		if noSuchContainer(stderr) {
			return training.WorkerExited, nil
		}
		return training.WorkerUnreachable, fmt.Errorf("inspect %s: %w", handle, err)
	}

	switch strings.TrimSpace(string(stdout)) {
	case "created", "running", "restarting", "paused":
		return training.WorkerRunning, nil
	case "exited", "dead", "removing":
		return training.WorkerExited, nil
	default:
		return training.WorkerUnreachable, fmt.Errorf("inspect %s: unknown state %q", handle, strings.TrimSpace(string(stdout)))
	}
}

// FetchLog returns the container's output with stdout and stderr lines
// interleaved in the order the worker wrote them.
func (d *Docker) FetchLog(ctx context.Context, handle string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.ProbeTimeout)
	defer cancel()

	stdout, stderr, err := d.runner.Run(ctx, d.cfg.Bin, "logs", "--timestamps", handle)
	if err != nil {
		return "", fmt.Errorf("logs %s: %w", handle, err)
	}
	return mergeStreams(stdout, stderr), nil
}

func (d *Docker) Stop(ctx context.Context, handle string) error {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.ProbeTimeout)
	defer cancel()

	_, stderr, err := d.runner.Run(ctx, d.cfg.Bin, "rm", "--force", handle)
	if err != nil && !noSuchContainer(stderr) {
		return fmt.Errorf("remove %s: %w", handle, err)
	}
	return nil
}

func noSuchContainer(stderr []byte) bool {
	s := string(stderr)
	return strings.Contains(s, "No such object") || strings.Contains(s, "No such container")
}
