// Package instance runs machine images one at a time and tracks each
// instance from queued to stopped.
package instance

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jeeftor/vmcap/internal/capability"
	"github.com/jeeftor/vmcap/internal/images"
)

var (
	ErrInvalidState       = errors.New("instance is not in a valid state for this operation")
	ErrBaseImageNotFound  = errors.New("base image not found")
	ErrUnknownInstance    = errors.New("unknown instance")
	ErrUnexpectedShutdown = errors.New("machine stopped unexpectedly")
)

// Type says whether an instance runs the image itself or a throwaway copy.
type Type int

const (
	// Base runs the image in place; changes persist.
	Base Type = iota
	// Clone runs a copy in staging that is deleted on stop.
	Clone
)

func (t Type) String() string {
	if t == Clone {
		return "clone"
	}
	return "base"
}

// ParseType accepts "base" and "clone".
func ParseType(s string) (Type, error) {
	switch strings.ToLower(s) {
	case "base":
		return Base, nil
	case "clone", "working":
		return Clone, nil
	}
	return Base, fmt.Errorf("unknown instance type %q", s)
}

// State is the lifecycle position of an instance.
type State int

const (
	Ready State = iota
	Starting
	AcquiringCredentials
	Running
	Stopping
	Stopped
)

func (s State) String() string {
	switch s {
	case Ready:
		return "ready"
	case Starting:
		return "starting"
	case AcquiringCredentials:
		return "acquiring-credentials"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	case Stopped:
		return "stopped"
	}
	return "unknown"
}

// Credentials let a client log into a running instance.
type Credentials struct {
	ID         string `json:"id"`
	IPAddress  string `json:"ipAddress"`
	PublicKey  string `json:"publicKey"`
	PrivateKey string `json:"privateKey"`
}

// MachineSpec is what a factory needs to build a machine.
type MachineSpec struct {
	ID     string
	Name   string
	Dir    string
	Config *images.Configuration
	// NVRAMKey names the variable set of this machine in the NVRAM store.
	NVRAMKey string
}

// MachineFactory creates a machine that has not started yet.
type MachineFactory interface {
	NewMachine(ctx context.Context, spec MachineSpec) (capability.Machine, error)
}

// MachineFactoryFunc adapts a function to MachineFactory.
type MachineFactoryFunc func(ctx context.Context, spec MachineSpec) (capability.Machine, error)

func (f MachineFactoryFunc) NewMachine(ctx context.Context, spec MachineSpec) (capability.Machine, error) {
	return f(ctx, spec)
}

// AddressResolver finds the IP address behind a MAC address.
type AddressResolver interface {
	Resolve(ctx context.Context, mac string) (string, error)
}

// CredentialInstaller authorizes an instance's public key on the guest at ip.
type CredentialInstaller interface {
	Install(ctx context.Context, ip, publicKey string) error
}

// NVRAMCloner copies and drops per-machine variable sets.
type NVRAMCloner interface {
	Copy(ctx context.Context, from, to string) error
	DeleteMachine(ctx context.Context, machine string) error
}

// RunRequest queues an instance of an image.
type RunRequest struct {
	Type    Type
	Name    string
	Options *capability.StartOptions
	// Started runs once credentials are known.
	Started func(Credentials)
	// Stopped runs exactly once when the instance ends, with the reason
	// it failed or nil.
	Stopped func(error)
}

// Info is a point-in-time view of one instance.
type Info struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Type  string `json:"type"`
	State string `json:"state"`
	IP    string `json:"ipAddress,omitempty"`
}
