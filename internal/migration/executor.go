package migration

import (
	"context"
	"fmt"
	"time"

	"github.com/kubev2v/vdc-migrator/pkg/metrics"
	"github.com/lthibault/jitterbug/v2"
	"go.uber.org/zap"
)

const DefaultPollInterval = 10 * time.Second

// Executor submits a relocation and blocks until the remote task reaches a terminal
// state. It never rolls back: a failed move stays wherever the remote system left it.
type Executor struct {
	compute  ComputeSession
	interval time.Duration
	jitter   time.Duration
	thin     bool
}

type ExecutorOption func(e *Executor)

func WithPollInterval(d time.Duration) ExecutorOption {
	return func(e *Executor) {
		if d > 0 {
			e.interval = d
		}
	}
}

// WithPollJitter spreads the poll interval with a normal distribution. Zero keeps the
// interval fixed.
func WithPollJitter(stdev time.Duration) ExecutorOption {
	return func(e *Executor) {
		e.jitter = stdev
	}
}

func WithThinProvisioning(thin bool) ExecutorOption {
	return func(e *Executor) {
		e.thin = thin
	}
}

func NewExecutor(compute ComputeSession, opts ...ExecutorOption) *Executor {
	e := &Executor{compute: compute, interval: DefaultPollInterval, thin: true}
	for _, o := range opts {
		o(e)
	}
	return e
}

func (e *Executor) Execute(ctx context.Context, vm VirtualMachine, placement PlacementDecision, networks NetworkMapping) (*TaskInfo, error) {
	spec := RelocationSpec{
		Placement:       placement,
		Networks:        networks,
		ThinProvisioned: e.thin,
	}
	id, err := e.compute.Relocate(ctx, vm, spec)
	if err != nil {
		return nil, fmt.Errorf("submitting relocation of %s: %w", vm.Name, err)
	}
	zap.S().Named("executor").Infof("vm %s: relocation submitted as task %s", vm.Name, id)

	start := time.Now()
	info, err := e.Wait(ctx, id)
	metrics.ObserveRelocationDuration(string(taskStateOf(info)), time.Since(start))
	return info, err
}

// Wait polls the task until Success or Error. A task that cannot be found is a
// transient read and polling goes on. There is no client side deadline; only the
// context stops the wait, and it leaves the remote task untouched.
func (e *Executor) Wait(ctx context.Context, id string) (*TaskInfo, error) {
	ticker := jitterbug.New(e.interval, &jitterbug.Norm{Stdev: e.jitter})
	defer ticker.Stop()

	log := zap.S().Named("executor")
	for {
		metrics.IncreaseTaskPolls()
		info, err := e.compute.Task(ctx, id)
		switch {
		case IsNotFound(err):
			log.Warnf("task %s not found, polling again", id)
		case err != nil:
			return nil, fmt.Errorf("reading task %s: %w", id, err)
		default:
			log.Infof("task %s: %s %d%%", id, info.State, info.PercentComplete)
			switch info.State {
			case TaskSuccess:
				return info, nil
			case TaskError:
				return info, NewErrExecution(id, info.Error)
			}
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("stopped waiting for task %s: %w", id, ctx.Err())
		case <-ticker.C:
		}
	}
}

func taskStateOf(info *TaskInfo) TaskState {
	if info == nil {
		return TaskError
	}
	return info.State
}
