// Package daemon serves the instance manager, the image store and the
// capabilities of running instances over the RPC socket.
package daemon

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/jeeftor/vmcap/internal/automation"
	"github.com/jeeftor/vmcap/internal/backend/qemu"
	"github.com/jeeftor/vmcap/internal/capability"
	"github.com/jeeftor/vmcap/internal/config"
	"github.com/jeeftor/vmcap/internal/filesystem"
	"github.com/jeeftor/vmcap/internal/images"
	"github.com/jeeftor/vmcap/internal/input"
	"github.com/jeeftor/vmcap/internal/instance"
	"github.com/jeeftor/vmcap/internal/logging"
	"github.com/jeeftor/vmcap/internal/network"
	"github.com/jeeftor/vmcap/internal/nvram"
	"github.com/jeeftor/vmcap/internal/rpc"
	"golang.org/x/sync/errgroup"
)

// Daemon wires the manager and stores to the RPC server.
type Daemon struct {
	Store   *images.Store
	Catalog *images.Catalog
	NVRAM   *nvram.Store
	Manager *instance.Manager
	Server  *rpc.Server
	Timing  input.Timing
	// ShutdownTimeout bounds how long Run waits for instances to stop.
	ShutdownTimeout time.Duration
}

// New builds a daemon that launches QEMU guests as described by cfg.
func New(cfg *config.Config) (*Daemon, error) {
	store := images.NewStore(cfg.Daemon.BasePath)

	if err := filesystem.EnsureDirectoryForFile(cfg.NVRAM.Database); err != nil {
		return nil, err
	}
	nv, err := nvram.Open(cfg.NVRAM.Database)
	if err != nil {
		return nil, err
	}
	catalog, err := images.LoadCatalog(cfg.Daemon.Catalog, store.RestoreImagesDir())
	if err != nil {
		nv.Close()
		return nil, err
	}

	factory := &qemuFactory{
		QEMU:      cfg.QEMU,
		SocketDir: filepath.Join(cfg.Daemon.BasePath, "run"),
		NVRAM:     nv,
	}
	mgr := instance.NewManager(context.Background(), store, factory, &network.ARPResolver{})
	mgr.NVRAM = nv
	mgr.StopTimeout = cfg.Daemon.StopTimeout
	mgr.Installer = automation.NewCredentialInstaller()

	d := &Daemon{
		Store:   store,
		Catalog: catalog,
		NVRAM:   nv,
		Manager: mgr,
		Timing: input.Timing{
			KeyHold:       cfg.Input.KeyHold,
			KeyGap:        cfg.Input.KeyGap,
			PointerSettle: cfg.Input.PointerSettle,
		},
		ShutdownTimeout: cfg.Daemon.StopTimeout + 10*time.Second,
	}
	d.Server = &rpc.Server{Endpoint: cfg.Daemon.Socket, Handler: d}
	return d, nil
}

// Run prepares the store and serves until ctx ends. Running instances are
// stopped before it returns.
func (d *Daemon) Run(ctx context.Context) error {
	if err := d.Store.Init(); err != nil {
		return fmt.Errorf("failed to initialize image store: %w", err)
	}
	if err := d.Server.Listen(); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := d.Store.PurgeCleanup(); err != nil {
			logging.Warn("Failed to purge cleanup directory", "error", err)
		}
		return nil
	})
	g.Go(func() error {
		return d.Server.Serve(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		timeout := d.ShutdownTimeout
		if timeout <= 0 {
			timeout = instance.DefaultStopTimeout
		}
		sctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := d.Manager.Shutdown(sctx); err != nil {
			logging.Warn("Instances did not stop in time", "error", err)
		}
		return nil
	})
	return g.Wait()
}

// Close releases the NVRAM database.
func (d *Daemon) Close() error {
	if d.NVRAM == nil {
		return nil
	}
	return d.NVRAM.Close()
}

// qemuFactory launches one QEMU process per instance.
type qemuFactory struct {
	QEMU      config.QEMUConfig
	SocketDir string
	NVRAM     *nvram.Store
}

func (f *qemuFactory) NewMachine(ctx context.Context, spec instance.MachineSpec) (capability.Machine, error) {
	var mac string
	if spec.Config != nil {
		mac = spec.Config.MACAddress
	}
	lc := qemu.LaunchConfig{
		Binary:         f.QEMU.Binary,
		Name:           spec.ID,
		ImageDir:       spec.Dir,
		SocketDir:      f.SocketDir,
		MemoryMB:       f.QEMU.MemoryMB,
		CPUs:           f.QEMU.CPUs,
		MACAddress:     mac,
		Netdev:         f.QEMU.Netdev,
		Display:        f.QEMU.Display,
		ConnectTimeout: 30 * time.Second,
	}
	opts := qemu.Options{MACAddress: mac}
	if f.NVRAM != nil {
		opts.NVRAM = f.NVRAM.ForMachine(spec.NVRAMKey)
	}
	m, err := qemu.Launch(ctx, lc, opts)
	if err != nil {
		return nil, err
	}
	return m, nil
}
