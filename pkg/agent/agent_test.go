package agent

import (
	"context"
	"fmt"
	"net/netip"
	"path/filepath"
	"strings"
	"testing"

	"github.com/amazonlinux/bottlerocket/otaboot/pkg/bringup"
	"github.com/amazonlinux/bottlerocket/otaboot/pkg/config"
	"github.com/amazonlinux/bottlerocket/otaboot/pkg/internal/testoutput"
	"github.com/amazonlinux/bottlerocket/otaboot/pkg/lifecycle"
	"github.com/amazonlinux/bottlerocket/otaboot/pkg/logging"
	"github.com/amazonlinux/bottlerocket/otaboot/pkg/platform"
	"github.com/pkg/errors"
	"gotest.tools/assert"
)

const testConfig = `
target = "xmc7100d-f176k4160"

[server]
host = "update.example.com"
file = "/fw.bin"
connection = "http"

[agent]
reboot-on-completion = false
`

func testAgent(t *testing.T, raw string) (*Agent, *testHooks) {
	cfg, err := config.Parse([]byte(raw))
	assert.NilError(t, err)

	hooks := &testHooks{
		Storage: &testStorage{},
		Engine:  &testEngine{},
		Manager: &testManager{},
		Proc:    &testProc{},
	}
	a, err := New(testoutput.Logger(t, logging.New("agent")), cfg, Providers{
		Storage: hooks.Storage,
		Engine:  hooks.Engine,
		Manager: hooks.Manager,
		Console: testoutput.NewCapture(t),
	}, bringup.WithExit(hooks.Proc.Exit), bringup.WithNotify(func() error { return nil }))
	assert.NilError(t, err)
	return a, hooks
}

type testHooks struct {
	Storage *testStorage
	Engine  *testEngine
	Manager *testManager
	Proc    *testProc
}

type testProc struct {
	codes []int
}

func (p *testProc) Exit(code int) {
	p.codes = append(p.codes, code)
}

type testStorage struct {
	platform.Storage

	InitFn     func() error
	ValidateFn func(appID int) error
	calls      []string
}

func (s *testStorage) Init() error {
	s.calls = append(s.calls, "init")
	if s.InitFn != nil {
		return s.InitFn()
	}
	return nil
}

func (s *testStorage) Validate(appID int) error {
	s.calls = append(s.calls, "validate")
	if s.ValidateFn != nil {
		return s.ValidateFn(appID)
	}
	return nil
}

func (s *testStorage) AppInfo() (platform.AppInfo, error) {
	return platform.AppInfo{Version: "1.0.0"}, nil
}

type testEngine struct {
	StartFn func(platform.NetworkParams, platform.AgentParams) (platform.Session, error)

	started int
	network platform.NetworkParams
	agent   platform.AgentParams
}

func (e *testEngine) Start(_ context.Context, n platform.NetworkParams, a platform.AgentParams, _ platform.Storage) (platform.Session, error) {
	e.started++
	e.network, e.agent = n, a
	if e.StartFn != nil {
		return e.StartFn(n, a)
	}
	return &testSession{done: make(chan struct{})}, nil
}

type testSession struct {
	done chan struct{}
}

func (s *testSession) Wait() error {
	<-s.done
	return nil
}

func (s *testSession) LastError() lifecycle.ErrorCode { return lifecycle.ErrorNone }

type testInterface string

func (i testInterface) Name() string { return string(i) }

type testManager struct {
	ConnectFn func(attempt int) (netip.Addr, error)

	inits    int
	iface    platform.InterfaceID
	attempts int
}

func (m *testManager) Init() error {
	m.inits++
	return nil
}

func (m *testManager) InterfaceInit(id platform.InterfaceID, _ platform.PHY) (platform.Interface, error) {
	m.iface = id
	return testInterface(id), nil
}

func (m *testManager) Connect(context.Context, platform.Interface) (netip.Addr, error) {
	m.attempts++
	if m.ConnectFn != nil {
		return m.ConnectFn(m.attempts)
	}
	return netip.MustParseAddr("127.0.0.1"), nil
}

func stepNames(steps []bringup.Step) []string {
	var names []string
	for _, s := range steps {
		names = append(names, s.Name)
	}
	return names
}

func cancelled() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	return ctx
}

func TestSteps(t *testing.T) {
	a, _ := testAgent(t, testConfig)
	assert.DeepEqual(t, stepNames(a.Steps()), []string{
		StepStorageInit, StepImageValidate, StepNetworkConnect, StepTransportInit, StepAgentStart,
	})

	skip, _ := testAgent(t, testConfig+"skip-image-validate = true\n")
	assert.DeepEqual(t, stepNames(skip.Steps()), []string{
		StepStorageInit, StepNetworkConnect, StepTransportInit, StepAgentStart,
	})
}

func TestRun(t *testing.T) {
	a, hooks := testAgent(t, testConfig)
	assert.NilError(t, a.Run(cancelled()))

	assert.DeepEqual(t, hooks.Storage.calls, []string{"init", "validate"})
	assert.Equal(t, hooks.Manager.iface, platform.InterfaceID("eth0"))
	assert.Equal(t, hooks.Engine.started, 1)
	assert.Equal(t, len(hooks.Proc.codes), 0)

	n := hooks.Engine.network
	assert.Equal(t, n.Server, lifecycle.Server{Host: "update.example.com", Port: 443})
	assert.Equal(t, n.File, "/fw.bin")
	assert.Assert(t, n.UseJobFlow)
	assert.Equal(t, n.Transport.Local, netip.MustParseAddr("127.0.0.1"))
	assert.Assert(t, n.Transport.TLS == nil)

	ag := hooks.Engine.agent
	assert.Assert(t, !ag.RebootOnCompletion)
	assert.Assert(t, ag.ValidateAfterReboot)
	assert.Assert(t, ag.DoNotSendResult)

	// The dispatcher is the engine's callback.
	assert.Equal(t, ag.Callback(nil), lifecycle.Stop)
	assert.Equal(t, ag.Callback(&lifecycle.Event{
		Reason: lifecycle.ReasonStateChange,
		State:  lifecycle.StateJobConnect,
		Server: lifecycle.Server{Host: "update.example.com", Port: 443},
		File:   "/fw.bin",
	}), lifecycle.Continue)
}

func TestRunSkipsValidation(t *testing.T) {
	a, hooks := testAgent(t, testConfig+"skip-image-validate = true\n")
	assert.NilError(t, a.Run(cancelled()))
	assert.DeepEqual(t, hooks.Storage.calls, []string{"init"})
	assert.Equal(t, hooks.Engine.started, 1)
}

func TestStorageInitFailureAborts(t *testing.T) {
	a, hooks := testAgent(t, testConfig)
	hooks.Storage.InitFn = func() error { return errors.New("flash not present") }

	err := a.Run(context.Background())
	assert.ErrorContains(t, err, "initializing ota storage failed")
	assert.DeepEqual(t, hooks.Proc.codes, []int{1})
	assert.Equal(t, hooks.Manager.inits, 0)
	assert.Equal(t, hooks.Manager.attempts, 0)
	assert.Equal(t, hooks.Engine.started, 0)
}

func TestValidateFailureAborts(t *testing.T) {
	a, hooks := testAgent(t, testConfig)
	hooks.Storage.ValidateFn = func(int) error { return errors.New("signpost failed") }

	err := a.Run(context.Background())
	assert.ErrorContains(t, err, "failed to validate the update")
	assert.DeepEqual(t, hooks.Proc.codes, []int{1})
	assert.Equal(t, hooks.Manager.inits, 0)
}

func TestConnectExhaustionAborts(t *testing.T) {
	a, hooks := testAgent(t, testConfig+"[link]\nmax-retries = 3\nretry-delay = \"1ms\"\n")
	hooks.Manager.ConnectFn = func(int) (netip.Addr, error) {
		return netip.Addr{}, platform.Result("test", 4, errors.New("link down"))
	}

	err := a.Run(context.Background())
	assert.ErrorContains(t, err, "failed to connect to network")
	assert.Equal(t, hooks.Manager.attempts, 3)
	assert.DeepEqual(t, hooks.Proc.codes, []int{1})
	assert.Equal(t, hooks.Engine.started, 0)
}

func TestTransportInitFailureAborts(t *testing.T) {
	dir := t.TempDir()
	raw := strings.Replace(testConfig, `connection = "http"`, `connection = "https"`, 1) +
		fmt.Sprintf("[credentials]\nclient-cert = %q\nclient-key = %q\n",
			filepath.Join(dir, "client.pem"), filepath.Join(dir, "client.key"))
	a, hooks := testAgent(t, raw)

	err := a.Run(context.Background())
	assert.ErrorContains(t, err, "initializing secure sockets failed")
	assert.ErrorContains(t, err, "unable to load client certificate")
	assert.Equal(t, hooks.Manager.attempts, 1)
	assert.DeepEqual(t, hooks.Proc.codes, []int{1})
	assert.Equal(t, hooks.Engine.started, 0)
}

func TestEngineStartFailureAborts(t *testing.T) {
	a, hooks := testAgent(t, testConfig)
	hooks.Engine.StartFn = func(platform.NetworkParams, platform.AgentParams) (platform.Session, error) {
		return nil, errors.New("no engine")
	}

	err := a.Run(context.Background())
	assert.ErrorContains(t, err, "initializing and starting the ota agent failed")
	assert.DeepEqual(t, hooks.Proc.codes, []int{1})
}

func TestNewRequiresProviders(t *testing.T) {
	cfg, err := config.Parse([]byte(testConfig))
	assert.NilError(t, err)
	_, err = New(logging.New("agent"), cfg, Providers{Storage: &testStorage{}})
	assert.ErrorContains(t, err, "misconfigured")
	_, err = New(logging.New("agent"), nil, Providers{})
	assert.ErrorContains(t, err, "configuration")
}
