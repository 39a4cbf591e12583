// internal/service/service_test.go
package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/webpilot-ai/webpilot/api/schemas"
	"github.com/webpilot-ai/webpilot/internal/browser"
	"github.com/webpilot-ai/webpilot/internal/config"
	"github.com/webpilot-ai/webpilot/internal/events"
	"github.com/webpilot-ai/webpilot/internal/provider"
	"github.com/webpilot-ai/webpilot/internal/replay"
	"github.com/webpilot-ai/webpilot/internal/workflow"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// stubDriver is an in-memory browser.Driver for service tests.
type stubDriver struct {
	scaler    *browser.Scaler
	commands  []browser.Command
	navigated []string
	sessions  []string
	pending   [][]browser.RawEvent // successive Drain results
	closed    bool
}

func newStubDriver() *stubDriver {
	return &stubDriver{scaler: browser.NewScaler(1280, 800)}
}

func (d *stubDriver) Start(context.Context) error { return nil }
func (d *stubDriver) Navigate(_ context.Context, url string) error {
	d.navigated = append(d.navigated, url)
	return nil
}
func (d *stubDriver) CurrentURL(context.Context) (string, error) {
	if len(d.navigated) > 0 {
		return d.navigated[len(d.navigated)-1], nil
	}
	return "about:blank", nil
}
func (d *stubDriver) Screenshot(context.Context) (browser.Screenshot, error) {
	w, h := d.scaler.ModelSize()
	return browser.Screenshot{PNG: []byte{1}, Width: w, Height: h}, nil
}
func (d *stubDriver) Execute(_ context.Context, cmd browser.Command) error {
	d.commands = append(d.commands, cmd)
	return nil
}
func (d *stubDriver) InjectOnLoad(context.Context, string) error { return nil }
func (d *stubDriver) Evaluate(_ context.Context, _ string, out any) error {
	events, ok := out.(*[]browser.RawEvent)
	if !ok {
		return nil
	}
	if len(d.pending) == 0 {
		*events = nil
		return nil
	}
	*events = d.pending[0]
	d.pending = d.pending[1:]
	return nil
}
func (d *stubDriver) SaveSession(_ context.Context, file string) error {
	d.sessions = append(d.sessions, file)
	return nil
}
func (d *stubDriver) RestoreSession(context.Context, string) error { return nil }
func (d *stubDriver) Scaler() *browser.Scaler                      { return d.scaler }
func (d *stubDriver) Close(context.Context) error {
	d.closed = true
	return nil
}

// gateProvider blocks every decision until released, then reports done.
type gateProvider struct {
	release chan struct{}
}

func (p *gateProvider) Name() string { return "gate" }
func (p *gateProvider) Reset()       {}
func (p *gateProvider) Decide(ctx context.Context, _ provider.DecisionContext) (schemas.AgentAction, error) {
	select {
	case <-p.release:
		return schemas.AgentAction{Kind: schemas.ActionDone, Text: "released"}, nil
	case <-ctx.Done():
		return schemas.AgentAction{}, ctx.Err()
	}
}

func newTestService(t *testing.T, prov provider.Provider) (*Service, *stubDriver) {
	t.Helper()
	cfg := config.Default()
	cfg.Agent.StepDelay = 0
	cfg.Browser.SessionFile = ""
	cfg.Workflows.Dir = t.TempDir()

	drv := newStubDriver()
	bus := events.NewBus(zaptest.NewLogger(t), 256)
	store := workflow.NewFileStore(cfg.Workflows.Dir, zaptest.NewLogger(t))
	svc := New(cfg, Deps{Driver: drv, Provider: prov, Bus: bus, Store: store}, zaptest.NewLogger(t))
	t.Cleanup(func() {
		svc.wg.Wait()
		bus.Shutdown()
	})
	return svc, drv
}

func openGate() *gateProvider {
	p := &gateProvider{release: make(chan struct{})}
	close(p.release)
	return p
}

func saveWorkflow(t *testing.T, svc *Service, w *workflow.Workflow) {
	t.Helper()
	require.NoError(t, svc.store.Save(w))
}

func TestCreateTaskRunsToCompletion(t *testing.T) {
	svc, _ := newTestService(t, openGate())
	ctx := context.Background()

	task, err := svc.CreateTask(ctx, schemas.TaskRequest{Instruction: "do the thing"})
	require.NoError(t, err)
	require.NoError(t, svc.WaitTask(ctx, task.ID()))

	view, err := svc.GetTask(task.ID())
	require.NoError(t, err)
	assert.Equal(t, schemas.StatusCompleted, view.Status)
	assert.Equal(t, "released", view.Result)
}

func TestCreateTaskRejectsEmptyInstruction(t *testing.T) {
	svc, _ := newTestService(t, openGate())
	_, err := svc.CreateTask(context.Background(), schemas.TaskRequest{Instruction: "   "})
	assert.Error(t, err)
}

func TestAdmissionRefusedWhileBusy(t *testing.T) {
	gate := &gateProvider{release: make(chan struct{})}
	svc, _ := newTestService(t, gate)
	ctx := context.Background()
	saveWorkflow(t, svc, workflow.New("w", "", "", []workflow.Step{{Action: workflow.StepKey, Key: "Enter"}}))

	task, err := svc.CreateTask(ctx, schemas.TaskRequest{Instruction: "long running"})
	require.NoError(t, err)

	// Every browser-driving operation is refused, not queued.
	_, err = svc.CreateTask(ctx, schemas.TaskRequest{Instruction: "second"})
	assert.ErrorIs(t, err, ErrBusy)
	_, err = svc.RunWorkflow(ctx, "w", replay.ModeDirect, nil)
	assert.ErrorIs(t, err, ErrBusy)
	_, err = svc.StartBatch(ctx, schemas.BatchRequest{Workflow: "w", Rows: []map[string]string{{}}})
	assert.ErrorIs(t, err, ErrBusy)
	assert.ErrorIs(t, svc.StartRecording(ctx, ""), ErrBusy)

	close(gate.release)
	require.NoError(t, svc.WaitTask(ctx, task.ID()))

	// The browser frees up on terminal transition.
	task2, err := svc.CreateTask(ctx, schemas.TaskRequest{Instruction: "third"})
	require.NoError(t, err)
	require.NoError(t, svc.WaitTask(ctx, task2.ID()))
}

func TestGetAndCancelUnknownTask(t *testing.T) {
	svc, _ := newTestService(t, openGate())

	_, err := svc.GetTask("nope")
	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "task", nf.Kind)
	assert.Error(t, svc.CancelTask("nope"))
	assert.Error(t, svc.WaitTask(context.Background(), "nope"))
}

func TestRunWorkflowDirect(t *testing.T) {
	svc, drv := newTestService(t, openGate())
	ctx := context.Background()
	saveWorkflow(t, svc, workflow.New("greet", "", "https://example.com", []workflow.Step{
		{Action: workflow.StepType, Text: "Hello {{name}}", Coordinates: []int{10, 10}},
	}))

	task, err := svc.RunWorkflow(ctx, "greet", replay.ModeDirect, map[string]string{"name": "Ada"})
	require.NoError(t, err)
	require.NoError(t, svc.WaitTask(ctx, task.ID()))

	view, err := svc.GetTask(task.ID())
	require.NoError(t, err)
	assert.Equal(t, schemas.StatusCompleted, view.Status)

	// The substituted text reached the browser.
	var typed string
	for _, cmd := range drv.commands {
		if cmd.Op == browser.OpType {
			typed = cmd.Text
		}
	}
	assert.Equal(t, "Hello Ada", typed)
}

func TestRunWorkflowAdmissionErrors(t *testing.T) {
	svc, _ := newTestService(t, openGate())
	ctx := context.Background()

	_, err := svc.RunWorkflow(ctx, "ghost", replay.ModeDirect, nil)
	assert.True(t, workflow.IsNotFound(err))

	w := workflow.New("needy", "", "", []workflow.Step{{Action: workflow.StepType, Text: "{{name}}"}})
	w.Parameters = []workflow.Parameter{{Name: "name", Required: true}}
	saveWorkflow(t, svc, w)

	_, err = svc.RunWorkflow(ctx, "needy", replay.ModeDirect, nil)
	var pm *ParameterMissingError
	require.ErrorAs(t, err, &pm)
	assert.Equal(t, []string{"name"}, pm.Missing)

	// Admission failures leave the browser free.
	task, err := svc.RunWorkflow(ctx, "needy", replay.ModeDirect, map[string]string{"name": "Ada"})
	require.NoError(t, err)
	require.NoError(t, svc.WaitTask(ctx, task.ID()))
}

func TestStartBatchValidatesEveryRow(t *testing.T) {
	svc, _ := newTestService(t, openGate())
	ctx := context.Background()

	w := workflow.New("mail", "", "", []workflow.Step{{Action: workflow.StepType, Text: "{{to}}"}})
	w.Parameters = []workflow.Parameter{{Name: "to", Required: true}}
	saveWorkflow(t, svc, w)

	_, err := svc.StartBatch(ctx, schemas.BatchRequest{
		Workflow: "mail",
		Rows:     []map[string]string{{"to": "a@example.com"}, {}},
	})
	var pm *ParameterMissingError
	require.ErrorAs(t, err, &pm)
	assert.Equal(t, []string{"to"}, pm.Missing)

	_, err = svc.StartBatch(ctx, schemas.BatchRequest{Workflow: "mail"})
	assert.Error(t, err, "empty batches are refused")
}

func TestStartBatchRunsAllRows(t *testing.T) {
	svc, _ := newTestService(t, openGate())
	ctx := context.Background()
	saveWorkflow(t, svc, workflow.New("greet", "", "", []workflow.Step{
		{Action: workflow.StepType, Text: "Hi {{name}}", Coordinates: []int{5, 5}},
	}))

	b, err := svc.StartBatch(ctx, schemas.BatchRequest{
		Workflow: "greet",
		Rows:     []map[string]string{{"name": "Ada"}, {"name": "Bob"}},
	})
	require.NoError(t, err)
	require.NoError(t, svc.WaitBatch(ctx, b.ID()))

	view, err := svc.GetBatch(b.ID())
	require.NoError(t, err)
	assert.Equal(t, schemas.BatchCompleted, view.Status)
	assert.Equal(t, 2, view.Completed)

	// Row tasks are observable through the task registry.
	for _, row := range view.Rows {
		require.NotEmpty(t, row.TaskID)
		tv, err := svc.GetTask(row.TaskID)
		require.NoError(t, err)
		assert.Equal(t, schemas.StatusCompleted, tv.Status)
	}
}

func TestRecordingLifecycle(t *testing.T) {
	svc, drv := newTestService(t, openGate())
	ctx := context.Background()
	drv.pending = [][]browser.RawEvent{{
		{Type: "click", X: 10, Y: 20, Element: browser.ElementInfo{Tag: "button", Text: "Go"}},
		{Type: "input", Value: "hello", Element: browser.ElementInfo{Name: "q"}},
	}}

	require.NoError(t, svc.StartRecording(ctx, "https://example.com"))
	assert.Equal(t, []string{"https://example.com"}, drv.navigated)

	w, err := svc.StopRecording(ctx, "captured", "a test capture")
	require.NoError(t, err)
	assert.Equal(t, "captured", w.Name)
	assert.Equal(t, "https://example.com", w.StartURL)
	require.Len(t, w.Steps, 2)

	// Saved and loadable; the browser is free again.
	loaded, err := svc.GetWorkflow("captured")
	require.NoError(t, err)
	assert.Equal(t, "a test capture", loaded.Description)

	require.NoError(t, svc.StartRecording(ctx, ""))
	require.NoError(t, svc.DiscardRecording(ctx))
	_, err = svc.StopRecording(ctx, "x", "")
	assert.ErrorIs(t, err, ErrNotRecording)
}

func TestStopRecordingWithNoStepsFails(t *testing.T) {
	svc, _ := newTestService(t, openGate())
	ctx := context.Background()

	require.NoError(t, svc.StartRecording(ctx, ""))
	_, err := svc.StopRecording(ctx, "empty", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no usable steps")

	// The failed stop still released the browser.
	require.NoError(t, svc.StartRecording(ctx, ""))
	require.NoError(t, svc.DiscardRecording(ctx))
}

func TestShutdownSavesSessionAndClosesBrowser(t *testing.T) {
	gate := openGate()
	svc, drv := newTestService(t, gate)
	svc.cfg.Browser.SessionFile = "/tmp/webpilot-session.json"
	ctx := context.Background()

	require.NoError(t, svc.Start(ctx))
	task, err := svc.CreateTask(ctx, schemas.TaskRequest{Instruction: "quick"})
	require.NoError(t, err)
	require.NoError(t, svc.WaitTask(ctx, task.ID()))

	svc.Shutdown(ctx)
	assert.Equal(t, []string{"/tmp/webpilot-session.json"}, drv.sessions)
	assert.True(t, drv.closed)
}

func TestListAndDeleteWorkflows(t *testing.T) {
	svc, _ := newTestService(t, openGate())
	saveWorkflow(t, svc, workflow.New("a", "", "", nil))
	saveWorkflow(t, svc, workflow.New("b", "", "", nil))

	list, err := svc.ListWorkflows()
	require.NoError(t, err)
	assert.Len(t, list, 2)

	require.NoError(t, svc.DeleteWorkflow("a"))
	list, err = svc.ListWorkflows()
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "b", list[0].Name)
}
