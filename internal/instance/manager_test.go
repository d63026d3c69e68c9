package instance

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jeeftor/vmcap/internal/capability"
	"github.com/jeeftor/vmcap/internal/images"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMachine struct {
	mac        string
	startGate  chan struct{}
	startErr   error
	ignoreStop bool

	mu       sync.Mutex
	exited   chan struct{}
	once     sync.Once
	exitErr  error
	started  int
	requests int
	halts    int
	closed   bool
}

func newFakeMachine() *fakeMachine {
	return &fakeMachine{mac: "0a:00:27:00:00:01", exited: make(chan struct{})}
}

func (f *fakeMachine) exit(err error) {
	f.once.Do(func() {
		f.mu.Lock()
		f.exitErr = err
		f.mu.Unlock()
		close(f.exited)
	})
}

func (f *fakeMachine) GraphicsDevices(context.Context) ([]capability.GraphicsDevice, error) {
	return nil, nil
}
func (f *fakeMachine) Keyboards(context.Context) ([]capability.Keyboard, error) { return nil, nil }
func (f *fakeMachine) PointingDevices(context.Context) ([]capability.PointingDevice, error) {
	return nil, nil
}

func (f *fakeMachine) StartWithOptions(ctx context.Context, _ *capability.StartOptions) error {
	if f.startGate != nil {
		select {
		case <-f.startGate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	f.mu.Lock()
	f.started++
	f.mu.Unlock()
	return f.startErr
}

func (f *fakeMachine) State(context.Context) (capability.MachineState, error) {
	select {
	case <-f.exited:
		return capability.MachineStopped, nil
	default:
		return capability.MachineRunning, nil
	}
}

func (f *fakeMachine) Stop(context.Context) error {
	f.mu.Lock()
	f.halts++
	f.mu.Unlock()
	f.exit(nil)
	return nil
}

func (f *fakeMachine) RequestStop(context.Context) error {
	f.mu.Lock()
	f.requests++
	f.mu.Unlock()
	if !f.ignoreStop {
		f.exit(nil)
	}
	return nil
}

func (f *fakeMachine) Wait(ctx context.Context) error {
	select {
	case <-f.exited:
		f.mu.Lock()
		defer f.mu.Unlock()
		return f.exitErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *fakeMachine) MACAddress() string { return f.mac }

func (f *fakeMachine) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func (f *fakeMachine) counts() (started, requests, halts int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.started, f.requests, f.halts
}

type fakeResolver struct {
	block bool
	calls chan struct{}
}

func (r *fakeResolver) Resolve(ctx context.Context, mac string) (string, error) {
	if r.calls != nil {
		r.calls <- struct{}{}
	}
	if r.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return "192.168.64.7", nil
}

type fakeNVRAM struct {
	mu      sync.Mutex
	copies  [][2]string
	deleted []string
}

func (n *fakeNVRAM) Copy(_ context.Context, from, to string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.copies = append(n.copies, [2]string{from, to})
	return nil
}

func (n *fakeNVRAM) DeleteMachine(_ context.Context, machine string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.deleted = append(n.deleted, machine)
	return nil
}

// newTestStore holds a tiny image called "base".
func newTestStore(t *testing.T) *images.Store {
	t.Helper()
	s := images.NewStore(t.TempDir())
	require.NoError(t, s.Init())
	dir := s.Path("base")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, images.MainStorageFile), []byte("disk"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, images.AuxiliaryStorageFile), nil, 0o600))
	cfg := &images.Configuration{SSHPublicKey: "ssh-ed25519 AAAA Host", SSHPrivateKey: "PRIVATE"}
	require.NoError(t, cfg.Save(dir))
	return s
}

type harness struct {
	mgr      *Manager
	machines chan *fakeMachine
	specs    chan MachineSpec
}

func newHarness(t *testing.T, resolver AddressResolver, build func() *fakeMachine) *harness {
	t.Helper()
	h := &harness{machines: make(chan *fakeMachine, 8), specs: make(chan MachineSpec, 8)}
	factory := MachineFactoryFunc(func(_ context.Context, spec MachineSpec) (capability.Machine, error) {
		m := build()
		h.specs <- spec
		h.machines <- m
		return m, nil
	})
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	h.mgr = NewManager(ctx, newTestStore(t), factory, resolver)
	h.mgr.StopTimeout = 50 * time.Millisecond
	return h
}

type outcome struct {
	creds   chan Credentials
	stopped chan error
}

func newOutcome() outcome {
	return outcome{creds: make(chan Credentials, 1), stopped: make(chan error, 1)}
}

func (o outcome) request(typ Type, name string) RunRequest {
	return RunRequest{
		Type:    typ,
		Name:    name,
		Started: func(c Credentials) { o.creds <- c },
		Stopped: func(err error) { o.stopped <- err },
	}
}

func receive[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(5 * time.Second):
		t.Fatal("timed out")
		var zero T
		return zero
	}
}

func TestRunBaseAndDispose(t *testing.T) {
	h := newHarness(t, &fakeResolver{}, newFakeMachine)
	out := newOutcome()

	id, err := h.mgr.Run(out.request(Base, "base"))
	require.NoError(t, err)

	creds := receive(t, out.creds)
	assert.Equal(t, Credentials{ID: id, IPAddress: "192.168.64.7", PublicKey: "ssh-ed25519 AAAA Host", PrivateKey: "PRIVATE"}, creds)
	assert.Equal(t, []string{id}, h.mgr.RunningIDs())
	assert.Equal(t, []Info{{ID: id, Name: "base", Type: "base", State: "running", IP: "192.168.64.7"}}, h.mgr.Snapshot())

	spec := receive(t, h.specs)
	assert.Equal(t, "base", spec.NVRAMKey)
	assert.Equal(t, h.mgr.Store.Path("base"), spec.Dir)

	m, err := h.mgr.Machine(id)
	require.NoError(t, err)
	fm := m.(*fakeMachine)

	h.mgr.Dispose(id)
	assert.NoError(t, receive(t, out.stopped))
	require.NoError(t, h.mgr.WaitIdle(context.Background()))

	_, requests, halts := fm.counts()
	assert.Equal(t, 1, requests)
	assert.Zero(t, halts)
	assert.True(t, fm.closed)
	assert.Empty(t, h.mgr.Snapshot())

	_, err = h.mgr.Machine(id)
	assert.ErrorIs(t, err, ErrUnknownInstance)
}

func TestRunMissingImage(t *testing.T) {
	h := newHarness(t, &fakeResolver{}, newFakeMachine)
	out := newOutcome()
	_, err := h.mgr.Run(out.request(Base, "missing"))
	require.NoError(t, err)
	assert.ErrorIs(t, receive(t, out.stopped), ErrBaseImageNotFound)

	_, err = h.mgr.Run(out.request(Base, "../etc"))
	assert.ErrorIs(t, err, images.ErrInvalidName)
}

func TestRunRejectsConflictingOptions(t *testing.T) {
	h := newHarness(t, &fakeResolver{}, newFakeMachine)
	_, err := h.mgr.Run(RunRequest{Name: "base", Options: &capability.StartOptions{ForceDFU: true, BootMacOSRecovery: true}})
	assert.ErrorIs(t, err, capability.ErrConflictingStartOptions)
}

func TestPendingStartsAreFIFO(t *testing.T) {
	h := newHarness(t, &fakeResolver{}, newFakeMachine)
	first, second, third := newOutcome(), newOutcome(), newOutcome()

	id1, _ := h.mgr.Run(first.request(Base, "base"))
	id2, _ := h.mgr.Run(second.request(Base, "base"))
	id3, _ := h.mgr.Run(third.request(Base, "base"))

	receive(t, first.creds)
	states := map[string]string{}
	for _, info := range h.mgr.Snapshot() {
		states[info.ID] = info.State
	}
	assert.Equal(t, map[string]string{id1: "running", id2: "ready", id3: "ready"}, states)

	// A pending instance can be dropped without ever starting.
	h.mgr.Dispose(id2)
	assert.NoError(t, receive(t, second.stopped))

	h.mgr.Dispose(id1)
	receive(t, first.stopped)
	c := receive(t, third.creds)
	assert.Equal(t, id3, c.ID)

	h.mgr.Dispose("no-such-id")
	h.mgr.Dispose(id3)
	receive(t, third.stopped)
	assert.Len(t, h.machines, 2, "the disposed pending instance never got a machine")
}

func TestDisposeWhileStarting(t *testing.T) {
	gate := make(chan struct{})
	var fm *fakeMachine
	h := newHarness(t, &fakeResolver{}, func() *fakeMachine {
		fm = newFakeMachine()
		fm.startGate = gate
		return fm
	})
	out := newOutcome()
	id, _ := h.mgr.Run(out.request(Base, "base"))

	require.Eventually(t, func() bool {
		s := h.mgr.Snapshot()
		return len(s) == 1 && s[0].State == "starting" && len(h.machines) == 1
	}, 5*time.Second, time.Millisecond)

	h.mgr.Dispose(id)
	assert.Equal(t, "starting", h.mgr.Snapshot()[0].State, "stop waits for the start to complete")
	close(gate)

	assert.NoError(t, receive(t, out.stopped))
	assert.Empty(t, out.creds)
	started, requests, _ := fm.counts()
	assert.Equal(t, 1, started)
	assert.Equal(t, 1, requests)
}

func TestDisposeWhileAcquiringCredentials(t *testing.T) {
	resolver := &fakeResolver{block: true, calls: make(chan struct{}, 1)}
	h := newHarness(t, resolver, newFakeMachine)
	out := newOutcome()
	id, _ := h.mgr.Run(out.request(Base, "base"))

	receive(t, resolver.calls)
	assert.Equal(t, "acquiring-credentials", h.mgr.Snapshot()[0].State)

	h.mgr.Dispose(id)
	assert.NoError(t, receive(t, out.stopped))
	assert.Empty(t, out.creds)
}

func TestUnsolicitedExit(t *testing.T) {
	h := newHarness(t, &fakeResolver{}, newFakeMachine)
	out := newOutcome()
	_, _ = h.mgr.Run(out.request(Base, "base"))
	receive(t, out.creds)

	fm := receive(t, h.machines)
	fm.exit(nil)
	assert.ErrorIs(t, receive(t, out.stopped), ErrUnexpectedShutdown)

	boom := errors.New("guest panicked")
	_, _ = h.mgr.Run(out.request(Base, "base"))
	receive(t, out.creds)
	receive(t, h.machines).exit(boom)
	assert.ErrorIs(t, receive(t, out.stopped), boom)
}

func TestStartFailureHaltsMachine(t *testing.T) {
	var fm *fakeMachine
	h := newHarness(t, &fakeResolver{}, func() *fakeMachine {
		fm = newFakeMachine()
		fm.startErr = capability.ErrUnsupported
		return fm
	})
	out := newOutcome()
	_, _ = h.mgr.Run(out.request(Base, "base"))
	assert.ErrorIs(t, receive(t, out.stopped), capability.ErrUnsupported)
	_, _, halts := fm.counts()
	assert.Equal(t, 1, halts)
}

func TestIgnoredStopRequestIsHalted(t *testing.T) {
	var fm *fakeMachine
	h := newHarness(t, &fakeResolver{}, func() *fakeMachine {
		fm = newFakeMachine()
		fm.ignoreStop = true
		return fm
	})
	out := newOutcome()
	id, _ := h.mgr.Run(out.request(Base, "base"))
	receive(t, out.creds)

	h.mgr.Dispose(id)
	assert.NoError(t, receive(t, out.stopped))
	_, requests, halts := fm.counts()
	assert.Equal(t, 1, requests)
	assert.Equal(t, 1, halts)
}

func TestCloneIsStagedAndRemoved(t *testing.T) {
	h := newHarness(t, &fakeResolver{}, newFakeMachine)
	nv := &fakeNVRAM{}
	h.mgr.NVRAM = nv
	out := newOutcome()

	id, _ := h.mgr.Run(out.request(Clone, "base"))
	receive(t, out.creds)

	spec := receive(t, h.specs)
	assert.Equal(t, h.mgr.Store.StagingPath(id), spec.Dir)
	assert.Equal(t, id, spec.NVRAMKey)
	assert.FileExists(t, filepath.Join(spec.Dir, images.MainStorageFile))
	key, err := h.mgr.NVRAMKey(id)
	require.NoError(t, err)
	assert.Equal(t, id, key)

	h.mgr.Dispose(id)
	receive(t, out.stopped)
	require.Eventually(t, func() bool {
		_, err := os.Stat(spec.Dir)
		nv.mu.Lock()
		defer nv.mu.Unlock()
		return os.IsNotExist(err) && len(nv.deleted) == 1
	}, 5*time.Second, time.Millisecond)
	assert.Equal(t, [][2]string{{"base", id}}, nv.copies)
}

func TestShutdown(t *testing.T) {
	h := newHarness(t, &fakeResolver{}, newFakeMachine)
	a, b := newOutcome(), newOutcome()
	_, _ = h.mgr.Run(a.request(Base, "base"))
	_, _ = h.mgr.Run(b.request(Base, "base"))
	receive(t, a.creds)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.mgr.Shutdown(ctx))
	assert.NoError(t, receive(t, a.stopped))
	assert.NoError(t, receive(t, b.stopped))
	assert.Empty(t, h.mgr.IDs())
}

func TestParseType(t *testing.T) {
	typ, err := ParseType("clone")
	require.NoError(t, err)
	assert.Equal(t, Clone, typ)
	typ, err = ParseType("BASE")
	require.NoError(t, err)
	assert.Equal(t, Base, typ)
	_, err = ParseType("other")
	assert.Error(t, err)
}

type fakeInstaller struct {
	err  error
	keys chan [2]string
}

func (f *fakeInstaller) Install(_ context.Context, ip, publicKey string) error {
	f.keys <- [2]string{ip, publicKey}
	return f.err
}

func TestInstallerRunsBeforeStarted(t *testing.T) {
	h := newHarness(t, &fakeResolver{}, newFakeMachine)
	inst := &fakeInstaller{keys: make(chan [2]string, 1)}
	h.mgr.Installer = inst
	out := newOutcome()

	_, err := h.mgr.Run(out.request(Base, "base"))
	require.NoError(t, err)

	assert.Equal(t, [2]string{"192.168.64.7", "ssh-ed25519 AAAA Host"}, receive(t, inst.keys))
	creds := receive(t, out.creds)
	assert.Equal(t, "192.168.64.7", creds.IPAddress)
	require.NoError(t, h.mgr.Shutdown(context.Background()))
}

func TestInstallerFailureStopsInstance(t *testing.T) {
	h := newHarness(t, &fakeResolver{}, newFakeMachine)
	h.mgr.Installer = &fakeInstaller{err: errors.New("auth failed"), keys: make(chan [2]string, 1)}
	out := newOutcome()

	_, err := h.mgr.Run(out.request(Base, "base"))
	require.NoError(t, err)

	err = receive(t, out.stopped)
	assert.ErrorContains(t, err, "auth failed")
	fm := receive(t, h.machines)
	_, _, halts := fm.counts()
	assert.Equal(t, 1, halts)
}
