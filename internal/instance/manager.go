package instance

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jeeftor/vmcap/internal/capability"
	"github.com/jeeftor/vmcap/internal/filesystem"
	"github.com/jeeftor/vmcap/internal/images"
	"github.com/jeeftor/vmcap/internal/logging"
	"github.com/samber/lo"
)

// DefaultStopTimeout is how long a guest gets to shut down after a stop
// request before it is halted.
const DefaultStopTimeout = 30 * time.Second

type instance struct {
	id      string
	name    string
	typ     Type
	options *capability.StartOptions
	started func(Credentials)
	stopped func(error)

	state         State
	stopRequested bool
	dir           string
	config        *images.Configuration
	machine       capability.Machine
	ip            string
	cancelCreds   context.CancelFunc
	// failure is the reason a machine is being halted by the manager.
	failure error
}

func (i *instance) nvramKey() string {
	if i.typ == Clone {
		return i.id
	}
	return i.name
}

// Manager owns every instance. At most one is active; the others wait in
// FIFO order.
type Manager struct {
	Store    *images.Store
	Factory  MachineFactory
	Resolver AddressResolver
	// NVRAM, when set, gives clones a copy of their image's variables.
	NVRAM NVRAMCloner
	// Installer, when set, pushes the image's public key to the guest
	// before the instance counts as running.
	Installer   CredentialInstaller
	StopTimeout time.Duration

	mu        sync.Mutex
	ctx       context.Context
	cancel    context.CancelFunc
	instances map[string]*instance
	order     []string
	pending   []*instance
	active    *instance
	changed   chan struct{}
}

// NewManager creates a manager whose background work ends with ctx.
func NewManager(ctx context.Context, store *images.Store, factory MachineFactory, resolver AddressResolver) *Manager {
	ctx, cancel := context.WithCancel(ctx)
	return &Manager{
		Store:       store,
		Factory:     factory,
		Resolver:    resolver,
		StopTimeout: DefaultStopTimeout,
		ctx:         ctx,
		cancel:      cancel,
		instances:   make(map[string]*instance),
		changed:     make(chan struct{}),
	}
}

// notifyLocked wakes everyone blocked in WaitIdle.
func (m *Manager) notifyLocked() {
	close(m.changed)
	m.changed = make(chan struct{})
}

// Run queues req and returns the new instance id.
func (m *Manager) Run(req RunRequest) (string, error) {
	if err := images.ValidateName(req.Name); err != nil {
		return "", err
	}
	if req.Options != nil {
		if err := req.Options.Validate(); err != nil {
			return "", err
		}
	}
	inst := &instance{
		id:      uuid.NewString(),
		name:    req.Name,
		typ:     req.Type,
		options: req.Options,
		started: req.Started,
		stopped: req.Stopped,
		state:   Ready,
	}

	m.mu.Lock()
	m.instances[inst.id] = inst
	m.order = append(m.order, inst.id)
	m.pending = append(m.pending, inst)
	logging.Info("Queued instance", "id", inst.id, "image", inst.name, "type", inst.typ.String(), "queued", len(m.pending))
	m.startNextLocked()
	m.notifyLocked()
	m.mu.Unlock()
	return inst.id, nil
}

func (m *Manager) startNextLocked() {
	if m.active != nil || len(m.pending) == 0 {
		return
	}
	inst := m.pending[0]
	m.pending = m.pending[1:]
	m.active = inst
	go m.start(inst)
}

func (m *Manager) start(inst *instance) {
	log := logging.NewContextualLogger(inst.id, "start")
	timer := logging.StartTimer("instance_start", inst.id)

	m.mu.Lock()
	if inst.state != Ready {
		m.mu.Unlock()
		return
	}
	inst.state = Starting
	m.notifyLocked()
	m.mu.Unlock()

	spec, err := m.prepare(inst)
	if err != nil {
		timer.StopWithError(err)
		m.finish(inst, err)
		return
	}

	machine, err := m.Factory.NewMachine(m.ctx, spec)
	if err != nil {
		timer.StopWithError(err)
		m.finish(inst, fmt.Errorf("failed to create machine: %w", err))
		return
	}

	m.mu.Lock()
	inst.machine = machine
	m.mu.Unlock()
	go m.watch(inst, machine)

	if err := machine.StartWithOptions(m.ctx, inst.options); err != nil {
		timer.StopWithError(err)
		m.abort(inst, machine, fmt.Errorf("failed to start machine: %w", err))
		return
	}
	log.Info("Machine started", "options", inst.options.String())

	m.mu.Lock()
	switch {
	case inst.state == Stopped:
		m.mu.Unlock()
		return
	case inst.stopRequested:
		inst.state = Stopping
		m.notifyLocked()
		m.mu.Unlock()
		log.Info("Stop was requested during start")
		go m.stop(inst, machine)
		return
	}
	credCtx, cancel := context.WithCancel(m.ctx)
	inst.state = AcquiringCredentials
	inst.cancelCreds = cancel
	m.notifyLocked()
	m.mu.Unlock()
	defer cancel()

	ip, err := m.Resolver.Resolve(credCtx, machine.MACAddress())
	if err == nil && m.Installer != nil {
		m.mu.Lock()
		cfg := inst.config
		m.mu.Unlock()
		if cfg != nil && cfg.SSHPublicKey != "" {
			log.Debug("Installing credentials", "ip", ip)
			err = m.Installer.Install(credCtx, ip, cfg.SSHPublicKey)
		}
	}

	m.mu.Lock()
	if inst.state != AcquiringCredentials {
		// Disposed or exited while resolving.
		m.mu.Unlock()
		return
	}
	if err != nil {
		m.mu.Unlock()
		timer.StopWithError(err)
		m.abort(inst, machine, fmt.Errorf("failed to acquire credentials: %w", err))
		return
	}
	inst.state = Running
	inst.ip = ip
	inst.cancelCreds = nil
	creds := Credentials{ID: inst.id, IPAddress: ip}
	if inst.config != nil {
		creds.PublicKey = inst.config.SSHPublicKey
		creds.PrivateKey = inst.config.SSHPrivateKey
	}
	started := inst.started
	m.notifyLocked()
	m.mu.Unlock()

	timer.Stop()
	log.Info("Instance running", "ip", ip)
	if started != nil {
		started(creds)
	}
}

// prepare resolves the image directory, cloning it when needed.
func (m *Manager) prepare(inst *instance) (MachineSpec, error) {
	if !m.Store.Exists(inst.name) {
		return MachineSpec{}, fmt.Errorf("%w: %s", ErrBaseImageNotFound, inst.name)
	}

	var (
		dir string
		cfg *images.Configuration
		err error
	)
	if inst.typ == Clone {
		m.mu.Lock()
		inst.dir = m.Store.StagingPath(inst.id)
		m.mu.Unlock()
		dir, cfg, err = m.Store.Clone(inst.name, inst.id)
		if err == nil && m.NVRAM != nil {
			err = m.NVRAM.Copy(m.ctx, inst.name, inst.id)
		}
	} else {
		dir = m.Store.Path(inst.name)
		cfg, err = images.LoadConfiguration(dir)
	}
	if err != nil {
		return MachineSpec{}, err
	}

	m.mu.Lock()
	inst.config = cfg
	m.mu.Unlock()
	return MachineSpec{ID: inst.id, Name: inst.name, Dir: dir, Config: cfg, NVRAMKey: inst.nvramKey()}, nil
}

// watch turns the machine's exit into a Stopped transition.
func (m *Manager) watch(inst *instance, machine capability.Machine) {
	err := machine.Wait(m.ctx)
	if m.ctx.Err() != nil {
		// Manager shut down; Shutdown finishes the instance.
		return
	}

	m.mu.Lock()
	state := inst.state
	m.mu.Unlock()

	switch state {
	case Stopped:
		return
	case Stopping:
		m.mu.Lock()
		failure := inst.failure
		m.mu.Unlock()
		m.finish(inst, failure)
	default:
		if err == nil {
			err = ErrUnexpectedShutdown
		}
		logging.Warn("Machine exited", "id", inst.id, "state", state.String(), "error", err)
		m.finish(inst, err)
	}
}

// stop asks the guest to shut down and halts it after StopTimeout.
func (m *Manager) stop(inst *instance, machine capability.Machine) {
	log := logging.NewContextualLogger(inst.id, "stop")
	if err := machine.RequestStop(m.ctx); err != nil {
		log.Warn("Stop request failed, halting", "error", err)
		m.halt(machine)
		return
	}

	timeout := m.StopTimeout
	if timeout <= 0 {
		timeout = DefaultStopTimeout
	}
	ctx, cancel := context.WithTimeout(m.ctx, timeout)
	defer cancel()
	if err := machine.Wait(ctx); err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		log.Warn("Guest ignored stop request, halting", "timeout", timeout)
		m.halt(machine)
	}
}

// abort halts a machine that failed to come up and stops inst with err.
func (m *Manager) abort(inst *instance, machine capability.Machine, err error) {
	m.mu.Lock()
	if inst.state == Stopped {
		m.mu.Unlock()
		return
	}
	inst.state = Stopping
	inst.failure = err
	m.notifyLocked()
	m.mu.Unlock()

	m.halt(machine)
	m.finish(inst, err)
}

func (m *Manager) halt(machine capability.Machine) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(m.ctx), 10*time.Second)
	defer cancel()
	if err := machine.Stop(ctx); err != nil {
		logging.Debug("Machine stop failed", "error", err)
	}
}

// finish moves inst to Stopped, runs its Stopped callback and starts the
// next pending instance.
func (m *Manager) finish(inst *instance, err error) {
	m.mu.Lock()
	if inst.state == Stopped {
		m.mu.Unlock()
		return
	}
	inst.state = Stopped
	if inst.cancelCreds != nil {
		inst.cancelCreds()
		inst.cancelCreds = nil
	}
	delete(m.instances, inst.id)
	m.order = lo.Without(m.order, inst.id)
	m.pending = lo.Without(m.pending, inst)
	if m.active == inst {
		m.active = nil
	}
	machine, stopped, dir := inst.machine, inst.stopped, inst.dir
	m.mu.Unlock()

	if machine != nil {
		if cerr := machine.Close(); cerr != nil {
			logging.Debug("Machine close failed", "id", inst.id, "error", cerr)
		}
	}
	if err != nil {
		logging.Warn("Instance stopped", "id", inst.id, "error", err)
	} else {
		logging.Info("Instance stopped", "id", inst.id)
	}
	if stopped != nil {
		stopped(err)
	}

	if inst.typ == Clone {
		go m.cleanup(inst.id, dir)
	}

	m.mu.Lock()
	m.startNextLocked()
	m.notifyLocked()
	m.mu.Unlock()
}

func (m *Manager) cleanup(id, dir string) {
	if dir != "" {
		if err := filesystem.SafeRemoveAll(dir); err != nil {
			logging.Warn("Failed to remove clone", "dir", dir, "error", err)
		}
	}
	if m.NVRAM != nil {
		if err := m.NVRAM.DeleteMachine(context.WithoutCancel(m.ctx), id); err != nil {
			logging.Warn("Failed to remove clone NVRAM", "id", id, "error", err)
		}
	}
}

// Dispose stops the instance id whatever state it is in. Unknown ids are
// ignored.
func (m *Manager) Dispose(id string) {
	m.mu.Lock()
	inst, ok := m.instances[id]
	if !ok {
		m.mu.Unlock()
		return
	}

	switch inst.state {
	case Ready:
		m.mu.Unlock()
		m.finish(inst, nil)
	case Starting:
		inst.stopRequested = true
		m.mu.Unlock()
		logging.Debug("Stop deferred until start completes", "id", id)
	case AcquiringCredentials, Running:
		if inst.cancelCreds != nil {
			inst.cancelCreds()
			inst.cancelCreds = nil
		}
		inst.state = Stopping
		machine := inst.machine
		m.notifyLocked()
		m.mu.Unlock()
		go m.stop(inst, machine)
	default:
		m.mu.Unlock()
	}
}

// DisposeAll disposes every known instance.
func (m *Manager) DisposeAll() {
	for _, id := range m.IDs() {
		m.Dispose(id)
	}
}

// IDs lists every instance in creation order.
func (m *Manager) IDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.order...)
}

// RunningIDs lists the instances that are up.
func (m *Manager) RunningIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return lo.Filter(m.order, func(id string, _ int) bool {
		return m.instances[id].state == Running
	})
}

// Snapshot describes every instance in creation order.
func (m *Manager) Snapshot() []Info {
	m.mu.Lock()
	defer m.mu.Unlock()
	return lo.Map(m.order, func(id string, _ int) Info {
		inst := m.instances[id]
		return Info{ID: id, Name: inst.name, Type: inst.typ.String(), State: inst.state.String(), IP: inst.ip}
	})
}

// Machine returns the machine of a running instance.
func (m *Manager) Machine(id string) (capability.Machine, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inst, ok := m.instances[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownInstance, id)
	}
	if inst.state != Running {
		return nil, fmt.Errorf("%w: %s is %s", ErrInvalidState, id, inst.state)
	}
	return inst.machine, nil
}

// NVRAMKey returns the variable set name of instance id.
func (m *Manager) NVRAMKey(id string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inst, ok := m.instances[id]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownInstance, id)
	}
	return inst.nvramKey(), nil
}

// WaitIdle blocks until no instance is left or ctx is done.
func (m *Manager) WaitIdle(ctx context.Context) error {
	for {
		m.mu.Lock()
		n, ch := len(m.instances), m.changed
		m.mu.Unlock()
		if n == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ch:
		}
	}
}

// Shutdown disposes everything and waits for it to stop. Machines still up
// when ctx ends are halted.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.DisposeAll()
	err := m.WaitIdle(ctx)
	m.cancel()
	if err != nil {
		for _, id := range m.IDs() {
			m.mu.Lock()
			inst, ok := m.instances[id]
			var machine capability.Machine
			if ok {
				machine = inst.machine
			}
			m.mu.Unlock()
			if !ok {
				continue
			}
			if machine != nil {
				m.halt(machine)
			}
			m.finish(inst, err)
		}
	}
	return err
}
