// internal/service/service.go
// Package service owns admission control and the registries behind the
// CLI surface. One browser session exists, so at most one run — task,
// replay, batch, or recording — may drive it at a time; anything else
// is refused with ErrBusy.
package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/webpilot-ai/webpilot/api/schemas"
	"github.com/webpilot-ai/webpilot/internal/agent"
	"github.com/webpilot-ai/webpilot/internal/batch"
	"github.com/webpilot-ai/webpilot/internal/browser"
	"github.com/webpilot-ai/webpilot/internal/config"
	"github.com/webpilot-ai/webpilot/internal/events"
	"github.com/webpilot-ai/webpilot/internal/provider"
	"github.com/webpilot-ai/webpilot/internal/replay"
	"github.com/webpilot-ai/webpilot/internal/workflow"
)

// Deps are the collaborators the service is built around. Tests inject
// fakes; production wiring lives in cmd.
type Deps struct {
	Driver   browser.Driver
	Provider provider.Provider
	Bus      *events.Bus
	Store    *workflow.FileStore
}

// Service coordinates tasks, workflow replays, batches and recordings
// over the single shared browser session.
type Service struct {
	cfg    *config.Config
	logger *zap.Logger

	driver   browser.Driver
	provider provider.Provider
	bus      *events.Bus
	store    *workflow.FileStore

	runner   *agent.Runner
	interp   *replay.Interpreter
	recorder *browser.Recorder
	orch     *batch.Orchestrator

	// sem guards browser exclusivity. TryAcquire at admission: refuse,
	// never queue.
	sem *semaphore.Weighted

	mu          sync.RWMutex
	tasks       map[string]*agent.Task
	taskDone    map[string]chan struct{}
	batches     map[string]*batch.Batch
	batchDone   map[string]chan struct{}
	recording   bool
	recStartURL string

	wg sync.WaitGroup
}

// New wires a service from its collaborators.
func New(cfg *config.Config, deps Deps, logger *zap.Logger) *Service {
	s := &Service{
		cfg:       cfg,
		logger:    logger.Named("service"),
		driver:    deps.Driver,
		provider:  deps.Provider,
		bus:       deps.Bus,
		store:     deps.Store,
		sem:       semaphore.NewWeighted(1),
		tasks:     map[string]*agent.Task{},
		taskDone:  map[string]chan struct{}{},
		batches:   map[string]*batch.Batch{},
		batchDone: map[string]chan struct{}{},
	}
	s.runner = agent.NewRunner(deps.Driver, deps.Provider, deps.Bus, cfg.Agent, logger)
	s.interp = replay.NewInterpreter(deps.Driver, deps.Bus, cfg.Agent, logger)
	s.recorder = browser.NewRecorder(deps.Driver, logger)
	s.orch = batch.NewOrchestrator(s.runBatchRow, deps.Bus, logger)
	return s
}

// Start launches the browser and restores a saved session if one is
// configured.
func (s *Service) Start(ctx context.Context) error {
	if err := s.driver.Start(ctx); err != nil {
		return fmt.Errorf("failed to start browser: %w", err)
	}
	if f := s.cfg.Browser.SessionFile; f != "" {
		if err := s.driver.RestoreSession(ctx, f); err != nil {
			s.logger.Warn("Failed to restore browser session.", zap.String("file", f), zap.Error(err))
		}
	}
	return nil
}

// Shutdown waits for in-flight runs, persists the session and closes
// the browser.
func (s *Service) Shutdown(ctx context.Context) {
	s.wg.Wait()
	if f := s.cfg.Browser.SessionFile; f != "" {
		if err := s.driver.SaveSession(ctx, f); err != nil {
			s.logger.Warn("Failed to save browser session.", zap.String("file", f), zap.Error(err))
		}
	}
	if err := s.driver.Close(ctx); err != nil {
		s.logger.Warn("Browser close reported an error.", zap.Error(err))
	}
	s.bus.Shutdown()
}

// CreateTask admits and starts a free-form agent task. The returned
// task is already running; observe it via GetTask, the event bus, or
// WaitTask.
func (s *Service) CreateTask(ctx context.Context, req schemas.TaskRequest) (*agent.Task, error) {
	if strings.TrimSpace(req.Instruction) == "" {
		return nil, fmt.Errorf("task instruction must not be empty")
	}
	if !s.sem.TryAcquire(1) {
		return nil, ErrBusy
	}

	task := agent.NewTask(req, s.cfg.Agent.MaxSteps)
	done := s.registerTask(task)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(done)
		defer s.sem.Release(1)
		if err := s.runner.Run(ctx, task); err != nil {
			task.Fail(fmt.Sprintf("internal error: %v", err))
		}
	}()
	return task, nil
}

// GetTask returns a snapshot of one task.
func (s *Service) GetTask(id string) (schemas.TaskView, error) {
	s.mu.RLock()
	task, ok := s.tasks[id]
	s.mu.RUnlock()
	if !ok {
		return schemas.TaskView{}, &NotFoundError{Kind: "task", ID: id}
	}
	return task.View(), nil
}

// CancelTask requests cooperative cancellation of a task.
func (s *Service) CancelTask(id string) error {
	s.mu.RLock()
	task, ok := s.tasks[id]
	s.mu.RUnlock()
	if !ok {
		return &NotFoundError{Kind: "task", ID: id}
	}
	task.Cancel()
	return nil
}

// WaitTask blocks until the task's run finishes or the context ends.
func (s *Service) WaitTask(ctx context.Context, id string) error {
	s.mu.RLock()
	done, ok := s.taskDone[id]
	s.mu.RUnlock()
	if !ok {
		return &NotFoundError{Kind: "task", ID: id}
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunWorkflow admits and starts a stored workflow replay in the given
// mode. Unknown workflows and missing required parameters are refused
// at admission; no task is created for them.
func (s *Service) RunWorkflow(ctx context.Context, name string, mode replay.Mode, params map[string]string) (*agent.Task, error) {
	w, err := s.store.Load(name)
	if err != nil {
		return nil, err
	}
	if missing := w.MissingParameters(params); len(missing) > 0 {
		return nil, &ParameterMissingError{Workflow: name, Missing: missing}
	}
	if !s.sem.TryAcquire(1) {
		return nil, ErrBusy
	}

	resolved := w.Substitute(params)
	task := agent.NewTask(schemas.TaskRequest{
		Instruction: fmt.Sprintf("Replay workflow '%s' (%s mode)", name, mode),
	}, s.cfg.Agent.MaxSteps)
	done := s.registerTask(task)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(done)
		defer s.sem.Release(1)
		var runErr error
		if mode == replay.ModeAI {
			runErr = s.interp.RunAI(ctx, task, resolved, s.provider)
		} else {
			runErr = s.interp.RunDirect(ctx, task, resolved)
		}
		if runErr != nil {
			task.Fail(fmt.Sprintf("internal error: %v", runErr))
		}
	}()
	return task, nil
}

// StartBatch admits and starts a batch replay. Every row's parameters
// are validated up front so a doomed batch never leaves a record in a
// running state.
func (s *Service) StartBatch(ctx context.Context, req schemas.BatchRequest) (*batch.Batch, error) {
	if len(req.Rows) == 0 {
		return nil, fmt.Errorf("batch requires at least one parameter row")
	}
	w, err := s.store.Load(req.Workflow)
	if err != nil {
		return nil, err
	}
	missingSet := map[string]struct{}{}
	for _, row := range req.Rows {
		for _, m := range w.MissingParameters(row) {
			missingSet[m] = struct{}{}
		}
	}
	if len(missingSet) > 0 {
		missing := make([]string, 0, len(missingSet))
		for m := range missingSet {
			missing = append(missing, m)
		}
		sort.Strings(missing)
		return nil, &ParameterMissingError{Workflow: req.Workflow, Missing: missing}
	}
	if !s.sem.TryAcquire(1) {
		return nil, ErrBusy
	}

	mode := replay.ModeDirect
	if req.AIMode {
		mode = replay.ModeAI
	}
	b := batch.NewBatch(req.Workflow, mode, req.Rows)
	done := s.registerBatch(b)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(done)
		defer s.sem.Release(1)
		if err := s.orch.Run(ctx, b, w); err != nil {
			s.logger.Error("Batch run reported an internal error.", zap.String("batch_id", b.ID()), zap.Error(err))
		}
	}()
	return b, nil
}

// runBatchRow replays one substituted workflow for the orchestrator.
// The batch already holds the browser, so no admission happens here.
func (s *Service) runBatchRow(ctx context.Context, w *workflow.Workflow, mode replay.Mode) (*agent.Task, error) {
	task := agent.NewTask(schemas.TaskRequest{
		Instruction: fmt.Sprintf("Batch row of workflow '%s'", w.Name),
	}, s.cfg.Agent.MaxSteps)
	s.mu.Lock()
	s.tasks[task.ID()] = task
	s.mu.Unlock()

	var err error
	if mode == replay.ModeAI {
		err = s.interp.RunAI(ctx, task, w, s.provider)
	} else {
		err = s.interp.RunDirect(ctx, task, w)
	}
	return task, err
}

// GetBatch returns a snapshot of one batch.
func (s *Service) GetBatch(id string) (schemas.BatchView, error) {
	s.mu.RLock()
	b, ok := s.batches[id]
	s.mu.RUnlock()
	if !ok {
		return schemas.BatchView{}, &NotFoundError{Kind: "batch", ID: id}
	}
	return b.View(), nil
}

// CancelBatch requests cooperative cancellation of a batch.
func (s *Service) CancelBatch(id string) error {
	s.mu.RLock()
	b, ok := s.batches[id]
	s.mu.RUnlock()
	if !ok {
		return &NotFoundError{Kind: "batch", ID: id}
	}
	b.Cancel()
	return nil
}

// WaitBatch blocks until the batch's run finishes or the context ends.
func (s *Service) WaitBatch(ctx context.Context, id string) error {
	s.mu.RLock()
	done, ok := s.batchDone[id]
	s.mu.RUnlock()
	if !ok {
		return &NotFoundError{Kind: "batch", ID: id}
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ListWorkflows returns the stored workflow library.
func (s *Service) ListWorkflows() ([]*workflow.Workflow, error) {
	return s.store.List()
}

// GetWorkflow loads one stored workflow.
func (s *Service) GetWorkflow(name string) (*workflow.Workflow, error) {
	return s.store.Load(name)
}

// DeleteWorkflow removes a stored workflow.
func (s *Service) DeleteWorkflow(name string) error {
	return s.store.Delete(name)
}

// StartRecording takes the browser and begins capturing interactions.
// An optional start URL is opened first and becomes the workflow's
// starting page.
func (s *Service) StartRecording(ctx context.Context, startURL string) error {
	if !s.sem.TryAcquire(1) {
		return ErrBusy
	}
	if startURL != "" {
		if err := s.driver.Navigate(ctx, startURL); err != nil {
			s.sem.Release(1)
			return fmt.Errorf("failed to open starting URL: %w", err)
		}
	}
	current, err := s.driver.CurrentURL(ctx)
	if err != nil {
		current = startURL
	}
	if err := s.recorder.Start(ctx); err != nil {
		s.sem.Release(1)
		return err
	}
	s.mu.Lock()
	s.recording = true
	s.recStartURL = current
	s.mu.Unlock()
	return nil
}

// StopRecording finishes the capture, distills the raw events into
// steps and saves the workflow under the given name.
func (s *Service) StopRecording(ctx context.Context, name, description string) (*workflow.Workflow, error) {
	s.mu.Lock()
	if !s.recording {
		s.mu.Unlock()
		return nil, ErrNotRecording
	}
	s.recording = false
	startURL := s.recStartURL
	s.mu.Unlock()
	defer s.sem.Release(1)

	raw, err := s.recorder.Stop(ctx)
	if err != nil {
		return nil, err
	}
	steps := workflow.Distill(raw, startURL)
	if len(steps) == 0 {
		return nil, fmt.Errorf("recording captured no usable steps")
	}
	w := workflow.New(name, description, startURL, steps)
	if err := s.store.Save(w); err != nil {
		return nil, err
	}
	s.logger.Info("Recording saved as workflow.",
		zap.String("name", name), zap.Int("steps", len(steps)), zap.Int("raw_events", len(raw)))
	return w, nil
}

// DrainRecording pulls buffered events out of the page mid-capture.
// Call it periodically: a hard navigation resets the in-page buffer,
// and only drained events survive it.
func (s *Service) DrainRecording(ctx context.Context) error {
	s.mu.RLock()
	recording := s.recording
	s.mu.RUnlock()
	if !recording {
		return ErrNotRecording
	}
	return s.recorder.Drain(ctx)
}

// DiscardRecording aborts the capture without persisting anything.
func (s *Service) DiscardRecording(ctx context.Context) error {
	s.mu.Lock()
	if !s.recording {
		s.mu.Unlock()
		return ErrNotRecording
	}
	s.recording = false
	s.mu.Unlock()
	defer s.sem.Release(1)

	_, err := s.recorder.Stop(ctx)
	return err
}

func (s *Service) registerTask(task *agent.Task) chan struct{} {
	done := make(chan struct{})
	s.mu.Lock()
	s.tasks[task.ID()] = task
	s.taskDone[task.ID()] = done
	s.mu.Unlock()
	return done
}

func (s *Service) registerBatch(b *batch.Batch) chan struct{} {
	done := make(chan struct{})
	s.mu.Lock()
	s.batches[b.ID()] = b
	s.batchDone[b.ID()] = done
	s.mu.Unlock()
	return done
}
