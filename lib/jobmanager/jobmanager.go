// Package jobmanager implements the control loop described in spec.md
// §4.6: pick jobs in state Created, deploy them via a driver.Driver, and
// advance each job's lifecycle through Selected/Deployed/Running/Finish.
// Translated from original_source's src/job/job_mgr.rs.
package jobmanager

import (
	"context"
	"sync"
	"time"

	"github.com/gravitational/trace"
	"github.com/jiaoziflow/jiaoziflow/lib/dag"
	"github.com/jiaoziflow/jiaoziflow/lib/driver"
	"github.com/jiaoziflow/jiaoziflow/lib/jlog"
	"github.com/jiaoziflow/jiaoziflow/lib/store"
)

// DefaultPickInterval is how often the control loop retries
// GetJobForRunning once the queue has drained.
const DefaultPickInterval = 5 * time.Second

// DefaultReconcileInterval is how often a job watcher polls
// IsAllNodeFinish for its job's per-job store.
const DefaultReconcileInterval = 10 * time.Second

// JobStoreOpener opens (or creates) the per-job durable store a deployed
// job's trackers and state controllers read and write through. Namespacing
// this store per job is a deployment concern (e.g. one Mongo database per
// job) left to the caller, matching original_source's MongoRunDbRepo::new
// being handed a per-run database URL.
type JobStoreOpener func(ctx context.Context, job *store.Job) (store.JobDbRepo, error)

// Namespace derives the cluster namespace a job is deployed under. The
// original Rust used job.name + "-" + job.retry_number, but the retry
// counter never made it into the persisted Job model (main_db_models.rs
// carries no such field) — we substitute the job's unique id, preserving
// uniqueness without inventing an unmodeled field.
func Namespace(job *store.Job) string {
	return job.Name + "-" + job.ID.Hex()
}

// Manager is the JobManager control loop: one process-wide instance drives
// every job this process is responsible for picking up.
type Manager struct {
	driver driver.Driver
	main   store.MainRepo
	open   JobStoreOpener
	log    jlog.Logger

	pickInterval      time.Duration
	reconcileInterval time.Duration

	mu       sync.Mutex
	watchers map[string]context.CancelFunc
	wg       sync.WaitGroup
}

// New builds a Manager.
func New(d driver.Driver, main store.MainRepo, open JobStoreOpener, log jlog.Logger) *Manager {
	if log == nil {
		log = jlog.NewDefault("job-manager")
	}
	return &Manager{
		driver:            d,
		main:              main,
		open:              open,
		log:               log,
		pickInterval:      DefaultPickInterval,
		reconcileInterval: DefaultReconcileInterval,
		watchers:          make(map[string]context.CancelFunc),
	}
}

// Run drives the control loop until ctx is canceled: repeatedly drain
// GetJobForRunning, deploy each picked job, and spawn a finish reconciler
// watcher for it. It returns when ctx is canceled, after waiting for every
// spawned watcher to stop.
func (m *Manager) Run(ctx context.Context) error {
	defer m.wg.Wait()

	for {
		select {
		case <-ctx.Done():
			m.stopAllWatchers()
			return trace.Wrap(ctx.Err())
		default:
		}

		for {
			job, err := m.main.GetJobForRunning(ctx)
			if err != nil {
				m.log.WithError(err).Error("get job for running")
				break
			}
			if job == nil {
				break
			}
			m.handlePickedJob(ctx, job)
		}

		if err := sleepOrDone(ctx, m.pickInterval); err != nil {
			m.stopAllWatchers()
			return trace.Wrap(err)
		}
	}
}

func (m *Manager) handlePickedJob(ctx context.Context, job *store.Job) {
	log := m.log.WithField("job_name", job.Name)

	g, err := dag.FromJSON([]byte(job.GraphJSON))
	if err != nil {
		log.WithError(err).Error("parse graph_json")
		m.markError(ctx, job)
		return
	}

	namespace := Namespace(job)
	if _, err := m.driver.Deploy(ctx, namespace, g); err != nil {
		log.WithError(err).Error("deploy job")
		m.markError(ctx, job)
		return
	}

	if err := m.main.Update(ctx, job.ID, store.JobUpdateInfo{State: jobStatePtr(store.JobStateDeployed)}); err != nil {
		log.WithError(err).Error("mark job deployed")
		return
	}
	job.State = store.JobStateDeployed

	repo, err := m.open(ctx, job)
	if err != nil {
		log.WithError(err).Error("open per-job store")
		m.markError(ctx, job)
		return
	}

	m.spawnWatcher(ctx, job, repo)
}

func (m *Manager) markError(ctx context.Context, job *store.Job) {
	if err := m.main.Update(ctx, job.ID, store.JobUpdateInfo{State: jobStatePtr(store.JobStateError)}); err != nil {
		m.log.WithField("job_name", job.Name).WithError(err).Error("mark job error")
	}
}

// spawnWatcher starts the per-job reconciler: waits for every node to
// become Ready (Deployed -> Running), then polls IsAllNodeFinish until it
// is true, at which point the job transitions to Finish.
func (m *Manager) spawnWatcher(parent context.Context, job *store.Job, repo store.JobDbRepo) {
	ctx, cancel := context.WithCancel(parent)

	m.mu.Lock()
	m.watchers[job.Name] = cancel
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer func() {
			m.mu.Lock()
			delete(m.watchers, job.Name)
			m.mu.Unlock()
			cancel()
		}()
		m.reconcile(ctx, job, repo)
	}()
}

func (m *Manager) reconcile(ctx context.Context, job *store.Job, repo store.JobDbRepo) {
	log := m.log.WithField("job_name", job.Name)
	runningMarked := false

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if !runningMarked {
			ready, err := repo.IsAllNodeReady(ctx)
			if err != nil {
				log.WithError(err).Error("check job ready state")
			} else if ready {
				if err := m.main.Update(ctx, job.ID, store.JobUpdateInfo{State: jobStatePtr(store.JobStateRunning)}); err != nil {
					log.WithError(err).Error("mark job running")
				} else {
					runningMarked = true
				}
			}
		}

		done, err := repo.IsAllNodeFinish(ctx)
		if err != nil {
			log.WithError(err).Error("check job finish state")
		} else if done {
			if err := m.main.Update(ctx, job.ID, store.JobUpdateInfo{State: jobStatePtr(store.JobStateFinish)}); err != nil {
				log.WithError(err).Error("mark job finish")
				return
			}
			return
		}

		if err := sleepOrDone(ctx, m.reconcileInterval); err != nil {
			return
		}
	}
}

// Clean asks the Driver to tear down the job's namespace and marks the job
// Clean. Dropping the per-job store itself is left to the caller (e.g. a
// Mongo database drop), since Manager only holds a JobDbRepo handle, not
// the underlying client.
func (m *Manager) Clean(ctx context.Context, job *store.Job) error {
	if err := m.driver.Clean(ctx, Namespace(job)); err != nil {
		return trace.Wrap(err, "cleaning namespace for job %v", job.Name)
	}
	return trace.Wrap(m.main.Update(ctx, job.ID, store.JobUpdateInfo{State: jobStatePtr(store.JobStateClean)}))
}

func (m *Manager) stopAllWatchers() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, cancel := range m.watchers {
		cancel()
	}
}

func jobStatePtr(s store.JobState) *store.JobState { return &s }

func sleepOrDone(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
