package qemu

import (
	"context"
	"fmt"
	"image"
	"os"
	"strings"

	"github.com/jeeftor/vmcap/internal/capability"
	"github.com/jeeftor/vmcap/internal/qmp"
	"github.com/spakin/netpbm"
)

const (
	peripheralPath     = qmp.PeripheralPath
	peripheralAnonPath = "/machine/peripheral-anon"
)

type graphicsDevice struct {
	m      *Machine
	id     string
	driver string
	kind   capability.GraphicsDeviceType
}

func (g *graphicsDevice) Type() capability.GraphicsDeviceType { return g.kind }

// Framebuffers returns head 0. QEMU exposes extra heads only on multi-head
// virtio-gpu setups, which are addressed with ScreenDump directly.
func (g *graphicsDevice) Framebuffers() []capability.Framebuffer {
	return []capability.Framebuffer{&framebuffer{dev: g}}
}

func (g *graphicsDevice) String() string {
	if g.id == "" {
		return g.driver + " (primary)"
	}
	return g.driver + " (" + g.id + ")"
}

type framebuffer struct {
	dev  *graphicsDevice
	head int
}

// Screenshot dumps the display to a temporary PPM and decodes it.
func (f *framebuffer) Screenshot(ctx context.Context) (image.Image, error) {
	m := f.dev.m
	path, err := m.client.ScreenDumpToTemp(ctx, f.dev.id, f.head)
	if err != nil {
		return nil, err
	}
	defer os.Remove(path)

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open screendump: %w", err)
	}
	defer file.Close()

	img, err := netpbm.Decode(file, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decode screendump: %w", err)
	}
	m.setSize(img.Bounds().Size())
	return img, nil
}

// GraphicsDevices lists the display adapters found in the QOM tree. When
// none can be identified the primary console is returned as a single VGA
// device.
func (m *Machine) GraphicsDevices(ctx context.Context) ([]capability.GraphicsDevice, error) {
	var devices []capability.GraphicsDevice
	primaryTaken := false

	for _, root := range []string{peripheralPath, peripheralAnonPath} {
		props, err := m.client.QOMList(ctx, root)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			m.log.Debug("QOM listing failed", "path", root, "error", err)
			continue
		}
		for _, p := range props {
			driver, ok := childType(p.Type)
			if !ok || !isDisplayDriver(driver) {
				continue
			}
			id := p.Name
			if root == peripheralAnonPath {
				// Anonymous devices can only be reached as the primary console.
				if primaryTaken {
					continue
				}
				id = ""
			}
			if id == "" {
				primaryTaken = true
			}
			devices = append(devices, &graphicsDevice{m: m, id: id, driver: driver, kind: GraphicsTypeForDriver(driver)})
		}
	}

	if len(devices) == 0 {
		devices = append(devices, &graphicsDevice{m: m, driver: "VGA", kind: capability.GraphicsDeviceVGA})
	}
	return devices, nil
}

// childType extracts "virtio-gpu-pci" from "child<virtio-gpu-pci>".
func childType(t string) (string, bool) {
	if !strings.HasPrefix(t, "child<") || !strings.HasSuffix(t, ">") {
		return "", false
	}
	return t[len("child<") : len(t)-1], true
}

func isDisplayDriver(driver string) bool {
	d := strings.ToLower(driver)
	for _, s := range []string{"vga", "gpu", "bochs-display", "ramfb", "qxl", "cirrus"} {
		if strings.Contains(d, s) {
			return true
		}
	}
	return false
}

// GraphicsTypeForDriver classifies a QEMU display driver.
func GraphicsTypeForDriver(driver string) capability.GraphicsDeviceType {
	d := strings.ToLower(driver)
	switch {
	case strings.HasPrefix(d, "virtio-gpu"), strings.HasPrefix(d, "virtio-vga"):
		return capability.GraphicsDeviceVirtio
	case strings.Contains(d, "vga"), strings.HasPrefix(d, "bochs"),
		strings.HasPrefix(d, "qxl"), strings.HasPrefix(d, "cirrus"), d == "ramfb":
		return capability.GraphicsDeviceVGA
	default:
		return capability.GraphicsDeviceUnknown
	}
}
