package qemu

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/jeeftor/vmcap/internal/logging"
	"github.com/jeeftor/vmcap/internal/qmp"
)

// LaunchConfig describes a QEMU process for one image directory.
type LaunchConfig struct {
	Binary    string
	Name      string
	ImageDir  string
	SocketDir string
	MemoryMB  int
	CPUs      int
	// MACAddress of the virtio NIC.
	MACAddress string
	// Netdev is the -netdev backend without its id, e.g. "user" or
	// "bridge,br=br0". Address discovery over ARP needs a bridged backend.
	Netdev string
	// Display is the graphics device driver.
	Display   string
	ExtraArgs []string
	// ConnectTimeout bounds the wait for the QMP socket to appear.
	ConnectTimeout time.Duration
}

// DiskPath is the image's main disk.
func (c LaunchConfig) DiskPath() string { return filepath.Join(c.ImageDir, "main-storage.img") }

// SocketPath is where QEMU listens for QMP.
func (c LaunchConfig) SocketPath() string { return filepath.Join(c.SocketDir, c.Name+".qmp") }

// Args builds the QEMU command line. The guest starts paused.
func (c LaunchConfig) Args() []string {
	netdev := c.Netdev
	if netdev == "" {
		netdev = "user"
	}
	display := c.Display
	if display == "" {
		display = "virtio-gpu-pci"
	}
	nic := "virtio-net-pci,netdev=net0"
	if c.MACAddress != "" {
		nic += ",mac=" + c.MACAddress
	}

	args := []string{
		"-name", c.Name,
		"-m", strconv.Itoa(c.MemoryMB),
		"-smp", strconv.Itoa(c.CPUs),
		"-drive", "file=" + c.DiskPath() + ",if=virtio,format=raw",
		"-netdev", netdev + ",id=net0",
		"-device", nic,
		"-device", display + ",id=video0",
		"-device", "qemu-xhci,id=xhci",
		"-device", "usb-kbd,id=kbd0",
		"-device", "usb-tablet,id=pointer0",
		"-display", "none",
		"-qmp", "unix:" + c.SocketPath() + ",server=on,wait=off",
		"-S",
	}
	return append(args, c.ExtraArgs...)
}

type process struct {
	cmd  *exec.Cmd
	done chan struct{}
	once sync.Once
	err  error
}

func startProcess(cmd *exec.Cmd) (*process, error) {
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	p := &process{cmd: cmd, done: make(chan struct{})}
	go func() {
		p.err = cmd.Wait()
		close(p.done)
	}()
	return p, nil
}

func (p *process) exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

func (p *process) wait(ctx context.Context) error {
	select {
	case <-p.done:
		var exitErr *exec.ExitError
		if errors.As(p.err, &exitErr) && exitErr.ExitCode() == 0 {
			return nil
		}
		return p.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *process) kill() {
	p.once.Do(func() {
		if !p.exited() && p.cmd.Process != nil {
			p.cmd.Process.Kill()
		}
	})
}

// Launch starts QEMU for cfg and connects to it. The guest is left paused
// until StartWithOptions.
func Launch(ctx context.Context, cfg LaunchConfig, opts Options) (*Machine, error) {
	if cfg.Binary == "" {
		return nil, errors.New("no QEMU binary configured")
	}
	if _, err := os.Stat(cfg.DiskPath()); err != nil {
		return nil, fmt.Errorf("image disk: %w", err)
	}
	if err := os.MkdirAll(cfg.SocketDir, 0o755); err != nil {
		return nil, err
	}
	socket := cfg.SocketPath()
	os.Remove(socket)

	logPath := filepath.Join(cfg.SocketDir, cfg.Name+".log")
	logFile, err := os.Create(logPath)
	if err != nil {
		return nil, err
	}
	defer logFile.Close()

	cmd := exec.Command(cfg.Binary, cfg.Args()...)
	cmd.Stdout = logFile
	cmd.Stderr = logFile

	logging.Debug("Launching QEMU", "name", cfg.Name, "binary", cfg.Binary, "args", cfg.Args())
	proc, err := startProcess(cmd)
	if err != nil {
		return nil, fmt.Errorf("failed to start QEMU: %w", err)
	}

	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	connectCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := connectWhenReady(connectCtx, cfg.Name, socket, proc)
	if err != nil {
		proc.kill()
		return nil, fmt.Errorf("QEMU did not come up (see %s): %w", logPath, err)
	}
	if opts.MACAddress == "" {
		opts.MACAddress = cfg.MACAddress
	}
	return newMachine(client, opts, proc), nil
}

func connectWhenReady(ctx context.Context, name, socket string, proc *process) (*qmp.Client, error) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		if proc.exited() {
			return nil, fmt.Errorf("process exited: %v", proc.err)
		}
		if _, err := os.Stat(socket); err == nil {
			client := qmp.NewWithSocketPath(name, socket)
			if err := client.Connect(ctx); err == nil {
				return client, nil
			} else if ctx.Err() != nil {
				return nil, err
			}
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
