package daemon

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image/png"
	"math"

	"github.com/jeeftor/vmcap/internal/capability"
	"github.com/jeeftor/vmcap/internal/input"
	"github.com/jeeftor/vmcap/internal/rpc"
	"github.com/samber/lo"
)

// machine resolves the running instance named by "id".
func (d *Daemon) machine(req rpc.Message) (capability.Machine, error) {
	id, ok := req.String("id")
	if !ok {
		return nil, errors.New(`Missing "id" field`)
	}
	return d.Manager.Machine(id)
}

func (d *Daemon) injector(ctx context.Context, req rpc.Message) (*input.Injector, error) {
	m, err := d.machine(req)
	if err != nil {
		return nil, err
	}
	return input.NewInjector(ctx, m, d.Timing)
}

func (d *Daemon) handleScreenshot(ctx context.Context, req rpc.Message, w *rpc.ResponseWriter) {
	m, err := d.machine(req)
	if err != nil {
		reply(w, errorResponse("%v", err))
		return
	}
	img, err := capability.TakeScreenshot(ctx, m)
	if err != nil {
		reply(w, errorResponse("screenshot failed: %v", err))
		return
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		reply(w, errorResponse("failed to encode screenshot: %v", err))
		return
	}
	b := img.Bounds()
	msg := Response{
		"png":    base64.StdEncoding.EncodeToString(buf.Bytes()),
		"width":  b.Dx(),
		"height": b.Dy(),
	}
	if err := w.Send(msg); err != nil {
		reply(w, errorResponse("%v", err))
		return
	}
	w.Close()
}

func (d *Daemon) handleGraphicsList(ctx context.Context, req rpc.Message, w *rpc.ResponseWriter) {
	m, err := d.machine(req)
	if err != nil {
		reply(w, errorResponse("%v", err))
		return
	}
	devices, err := m.GraphicsDevices(ctx)
	if err != nil {
		reply(w, errorResponse("%v", err))
		return
	}
	list := lo.Map(devices, func(g capability.GraphicsDevice, _ int) Response {
		return Response{
			"type":         int(g.Type()),
			"kind":         g.Type().String(),
			"framebuffers": len(g.Framebuffers()),
		}
	})
	reply(w, Response{"devices": list})
}

// keyCodes reads a list of key codes or key names.
func keyCodes(req rpc.Message, key string) ([]uint16, error) {
	raw, ok := req[key]
	if !ok || raw == nil {
		return nil, nil
	}
	list, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("%q must be a list", key)
	}
	codes := make([]uint16, 0, len(list))
	for _, v := range list {
		switch x := v.(type) {
		case float64:
			if x < 0 || x > math.MaxUint16 || x != math.Trunc(x) {
				return nil, fmt.Errorf("invalid key code %v", x)
			}
			codes = append(codes, uint16(x))
		case string:
			code, ok := capability.KeyCodeByName(x)
			if !ok {
				return nil, fmt.Errorf("unknown key %q", x)
			}
			codes = append(codes, code)
		default:
			return nil, fmt.Errorf("invalid key %v", v)
		}
	}
	return codes, nil
}

func (d *Daemon) handleSendKeys(ctx context.Context, req rpc.Message, w *rpc.ResponseWriter) {
	codes, err := keyCodes(req, "codes")
	if err != nil {
		reply(w, errorResponse("%v", err))
		return
	}
	holding, err := keyCodes(req, "holding")
	if err != nil {
		reply(w, errorResponse("%v", err))
		return
	}
	in, err := d.injector(ctx, req)
	if err != nil {
		reply(w, errorResponse("%v", err))
		return
	}
	if err := in.PressKeys(ctx, codes, holding...); err != nil {
		reply(w, errorResponse("%v", err))
		return
	}
	reply(w, Response{"status": "ok"})
}

func (d *Daemon) handleTypeText(ctx context.Context, req rpc.Message, w *rpc.ResponseWriter) {
	text, ok := req.String("text")
	if !ok {
		reply(w, errorResponse(`Missing "text" field`))
		return
	}
	in, err := d.injector(ctx, req)
	if err != nil {
		reply(w, errorResponse("%v", err))
		return
	}
	if err := in.TypeText(ctx, text); err != nil {
		reply(w, errorResponse("%v", err))
		return
	}
	reply(w, Response{"status": "ok"})
}

func (d *Daemon) handleClick(ctx context.Context, req rpc.Message, w *rpc.ResponseWriter) {
	x, okX := req.Number("x")
	y, okY := req.Number("y")
	if !okX || !okY {
		reply(w, errorResponse(`Missing "x" or "y" field`))
		return
	}
	in, err := d.injector(ctx, req)
	if err != nil {
		reply(w, errorResponse("%v", err))
		return
	}
	if err := in.Click(ctx, capability.Point{X: x, Y: y}); err != nil {
		reply(w, errorResponse("%v", err))
		return
	}
	reply(w, Response{"status": "ok"})
}

// nvramStore picks the variable set of instance "id" or of image "image".
func (d *Daemon) nvramStore(req rpc.Message) (capability.NVRAMStore, error) {
	if id, ok := req.String("id"); ok {
		key, err := d.Manager.NVRAMKey(id)
		if err != nil {
			return nil, err
		}
		return d.NVRAM.ForMachine(key), nil
	}
	if name, ok := req.String("image"); ok {
		if !d.Store.Exists(name) {
			return nil, fmt.Errorf("Image %q does not exist", name)
		}
		return d.NVRAM.ForMachine(name), nil
	}
	return nil, errors.New(`Missing "id" field`)
}

func (d *Daemon) handleNVRAMList(ctx context.Context, req rpc.Message, w *rpc.ResponseWriter) {
	store, err := d.nvramStore(req)
	if err != nil {
		reply(w, errorResponse("%v", err))
		return
	}
	var vars map[string]capability.NVRAMValue
	if p, ok := req["partition"]; ok && p != nil {
		partition, perr := capability.ParseNVRAMPartition(fmt.Sprint(p))
		if perr != nil {
			reply(w, errorResponse("%v", perr))
			return
		}
		vars, err = store.AllVariablesInPartition(ctx, partition)
	} else {
		vars, err = store.AllVariables(ctx)
	}
	if err != nil {
		reply(w, errorResponse("%v", err))
		return
	}
	reply(w, Response{"variables": vars})
}

func (d *Daemon) handleNVRAMGet(ctx context.Context, req rpc.Message, w *rpc.ResponseWriter) {
	name, ok := req.String("name")
	if !ok {
		reply(w, errorResponse(`Missing "name" field`))
		return
	}
	store, err := d.nvramStore(req)
	if err != nil {
		reply(w, errorResponse("%v", err))
		return
	}
	v, err := store.Value(ctx, name)
	switch {
	case errors.Is(err, capability.ErrNoValue):
		reply(w, Response{"name": name, "value": nil})
	case err != nil:
		reply(w, errorResponse("%v", err))
	default:
		reply(w, Response{"name": name, "value": v})
	}
}

// nvramValue decodes "value", or "data" as base64 bytes. Integral JSON
// numbers become int64.
func nvramValue(req rpc.Message) (capability.NVRAMValue, error) {
	if s, ok := req.String("data"); ok {
		return base64.StdEncoding.DecodeString(s)
	}
	raw, ok := req["value"]
	if !ok {
		return nil, errors.New(`Missing "value" field`)
	}
	if f, ok := raw.(float64); ok && f == math.Trunc(f) && math.Abs(f) < 1<<53 {
		return int64(f), nil
	}
	return capability.NormalizeNVRAMValue(raw)
}

func (d *Daemon) handleNVRAMSet(ctx context.Context, req rpc.Message, w *rpc.ResponseWriter) {
	name, ok := req.String("name")
	if !ok {
		reply(w, errorResponse(`Missing "name" field`))
		return
	}
	value, err := nvramValue(req)
	if err != nil {
		reply(w, errorResponse("%v", err))
		return
	}
	store, err := d.nvramStore(req)
	if err != nil {
		reply(w, errorResponse("%v", err))
		return
	}
	if err := store.SetValue(ctx, name, value); err != nil {
		reply(w, errorResponse("%v", err))
		return
	}
	reply(w, Response{"status": "ok"})
}

func (d *Daemon) handleNVRAMRemove(ctx context.Context, req rpc.Message, w *rpc.ResponseWriter) {
	name, ok := req.String("name")
	if !ok {
		reply(w, errorResponse(`Missing "name" field`))
		return
	}
	store, err := d.nvramStore(req)
	if err != nil {
		reply(w, errorResponse("%v", err))
		return
	}
	err = store.Remove(ctx, name)
	switch {
	case errors.Is(err, capability.ErrNoValue):
		reply(w, Response{"removed": false})
	case err != nil:
		reply(w, errorResponse("%v", err))
	default:
		reply(w, Response{"removed": true})
	}
}
