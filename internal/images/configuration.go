package images

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/jeeftor/vmcap/internal/filesystem"
	"github.com/jeeftor/vmcap/internal/logging"
	"github.com/jeeftor/vmcap/internal/network"
)

// DefaultDiskGiB is the main disk size of a new image.
const DefaultDiskGiB = 80

// DefaultHardwareModel is recorded for images created by the QEMU backend.
var DefaultHardwareModel = []byte("qemu-virt")

// PlatformVersion is the guest OS version an image was installed with.
type PlatformVersion struct {
	Major int `json:"majorVersion"`
	Minor int `json:"minorVersion"`
	Patch int `json:"patchVersion"`
}

// DefaultPlatformVersion is assumed for images that do not record one.
var DefaultPlatformVersion = PlatformVersion{Major: 13}

func (v PlatformVersion) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// ParsePlatformVersion parses "13", "13.1" or "13.1.2".
func ParsePlatformVersion(s string) (PlatformVersion, error) {
	parts := strings.Split(strings.TrimSpace(s), ".")
	if len(parts) == 0 || len(parts) > 3 {
		return PlatformVersion{}, fmt.Errorf("invalid version %q", s)
	}
	var nums [3]int
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return PlatformVersion{}, fmt.Errorf("invalid version %q", s)
		}
		nums[i] = n
	}
	return PlatformVersion{Major: nums[0], Minor: nums[1], Patch: nums[2]}, nil
}

// Configuration is the identity of a machine image.
type Configuration struct {
	MachineIdentifier      []byte           `json:"machineIdentifier"`
	HardwareModel          []byte           `json:"hardwareModel"`
	SSHPrivateKey          string           `json:"sshPrivateKey"`
	SSHPublicKey           string           `json:"sshPublicKey"`
	MACAddress             string           `json:"macAddress,omitempty"`
	InitialPlatformVersion *PlatformVersion `json:"initialPlatformVersion,omitempty"`
}

// PlatformVersion returns the recorded version or DefaultPlatformVersion.
func (c *Configuration) PlatformVersion() PlatformVersion {
	if c.InitialPlatformVersion == nil {
		return DefaultPlatformVersion
	}
	return *c.InitialPlatformVersion
}

// LoadConfiguration reads dir/configuration.json.
func LoadConfiguration(dir string) (*Configuration, error) {
	data, err := os.ReadFile(filepath.Join(dir, ConfigurationFile))
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration: %w", err)
	}
	var cfg Configuration
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}
	if cfg.InitialPlatformVersion == nil {
		v := DefaultPlatformVersion
		cfg.InitialPlatformVersion = &v
	}
	return &cfg, nil
}

// Save writes the configuration into dir.
func (c *Configuration) Save(dir string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return filesystem.WriteFileAtomic(filepath.Join(dir, ConfigurationFile), data, 0o600)
}

// Allocate creates the disks and a fresh identity in the existing dir.
func Allocate(dir string, diskGiB int, version PlatformVersion) (*Configuration, error) {
	if !filesystem.Exists(dir) {
		return nil, fmt.Errorf("image directory %s does not exist", dir)
	}
	if diskGiB <= 0 {
		diskGiB = DefaultDiskGiB
	}

	if err := filesystem.CreateSparseFile(filepath.Join(dir, MainStorageFile), int64(diskGiB)<<30); err != nil {
		return nil, fmt.Errorf("failed to create main storage: %w", err)
	}
	if err := filesystem.CreateSparseFile(filepath.Join(dir, AuxiliaryStorageFile), 0); err != nil {
		return nil, fmt.Errorf("failed to create auxiliary storage: %w", err)
	}

	priv, pub, err := GenerateSSHKeyPair("Host")
	if err != nil {
		return nil, err
	}
	mac, err := network.GenerateMAC()
	if err != nil {
		return nil, err
	}
	id := uuid.New()

	cfg := &Configuration{
		MachineIdentifier:      id[:],
		HardwareModel:          DefaultHardwareModel,
		SSHPrivateKey:          priv,
		SSHPublicKey:           pub,
		MACAddress:             mac,
		InitialPlatformVersion: &version,
	}
	if err := cfg.Save(dir); err != nil {
		return nil, err
	}
	logging.Info("Allocated image", "dir", dir, "disk_gib", diskGiB, "version", version.String())
	return cfg, nil
}

// Duplicate copies the disks of src into the existing dst and gives dst the
// same identity.
func Duplicate(src, dst string) (*Configuration, error) {
	if !filesystem.Exists(dst) {
		return nil, fmt.Errorf("destination %s does not exist", dst)
	}
	cfg, err := LoadConfiguration(src)
	if err != nil {
		return nil, err
	}
	for _, f := range []string{MainStorageFile, AuxiliaryStorageFile} {
		if err := filesystem.CopyFile(filepath.Join(src, f), filepath.Join(dst, f)); err != nil {
			return nil, err
		}
	}
	if err := cfg.Save(dst); err != nil {
		return nil, err
	}
	return cfg, nil
}
