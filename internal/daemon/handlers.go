package daemon

import (
	"context"
	"errors"
	"fmt"

	"github.com/jeeftor/vmcap/internal/automation"
	"github.com/jeeftor/vmcap/internal/capability"
	"github.com/jeeftor/vmcap/internal/images"
	"github.com/jeeftor/vmcap/internal/instance"
	"github.com/jeeftor/vmcap/internal/logging"
	"github.com/jeeftor/vmcap/internal/rpc"
)

// Response is one reply frame.
type Response map[string]any

func errorResponse(format string, args ...any) Response {
	return Response{"error": fmt.Sprintf(format, args...)}
}

// reply sends msg as the only response.
func reply(w *rpc.ResponseWriter, msg Response) {
	if err := w.Send(msg); err != nil {
		logging.Debug("Failed to send response", "error", err)
	}
	w.Close()
}

func imageMissing(name string) Response {
	return errorResponse("Image %q does not exist", name)
}

// HandleRequest dispatches on the "request" field.
func (d *Daemon) HandleRequest(ctx context.Context, req rpc.Message, w *rpc.ResponseWriter) {
	kind, ok := req.String("request")
	if !ok {
		reply(w, errorResponse(`Missing "request" field`))
		return
	}
	logging.Debug("Handling request", "request", kind)

	switch kind {
	case "image-list":
		d.handleImageList(w)
	case "image-create":
		d.handleImageCreate(req, w)
	case "container-list":
		reply(w, Response{"list": d.Manager.RunningIDs()})
	case "container-status":
		reply(w, Response{"instances": d.Manager.Snapshot()})
	case "container-kill":
		d.handleKill(req, w)
	case "installable-image-list":
		reply(w, Response{"list": d.Catalog.Names()})
	case "run-base-image":
		d.handleRun(req, w, instance.Base)
	case "run-working-image":
		d.handleRun(req, w, instance.Clone)
	case "fetch":
		d.handleFetch(ctx, req, w)
	case "install":
		reply(w, errorResponse("install is not supported on this host"))
	case "screenshot":
		d.handleScreenshot(ctx, req, w)
	case "graphics-list":
		d.handleGraphicsList(ctx, req, w)
	case "send-keys":
		d.handleSendKeys(ctx, req, w)
	case "type-text":
		d.handleTypeText(ctx, req, w)
	case "click":
		d.handleClick(ctx, req, w)
	case "nvram-list":
		d.handleNVRAMList(ctx, req, w)
	case "nvram-get":
		d.handleNVRAMGet(ctx, req, w)
	case "nvram-set":
		d.handleNVRAMSet(ctx, req, w)
	case "nvram-remove":
		d.handleNVRAMRemove(ctx, req, w)
	default:
		reply(w, errorResponse("Unknown request type"))
	}
}

func (d *Daemon) handleImageList(w *rpc.ResponseWriter) {
	names, err := d.Store.List()
	if err != nil {
		reply(w, errorResponse("%v", err))
		return
	}
	reply(w, Response{"list": names})
}

// handleImageCreate allocates an empty image. Installing an OS into it is
// up to the caller.
func (d *Daemon) handleImageCreate(req rpc.Message, w *rpc.ResponseWriter) {
	name, ok := req.String("name")
	if !ok {
		reply(w, errorResponse(`Missing "name" field`))
		return
	}
	diskGiB := images.DefaultDiskGiB
	if n, ok := req.Number("diskGiB"); ok && n > 0 {
		diskGiB = int(n)
	}
	version := images.DefaultPlatformVersion
	if s, ok := req.String("version"); ok {
		v, err := images.ParsePlatformVersion(s)
		if err != nil {
			reply(w, errorResponse("%v", err))
			return
		}
		version = v
	}

	cfg, err := d.Store.Create(name, diskGiB, version)
	if err != nil {
		reply(w, errorResponse("%v", err))
		return
	}
	reply(w, Response{
		"name":              name,
		"machineIdentifier": cfg.MachineIdentifier,
		"macAddress":        cfg.MACAddress,
		"version":           cfg.PlatformVersion().String(),
	})
}

func (d *Daemon) handleKill(req rpc.Message, w *rpc.ResponseWriter) {
	id, ok := req.String("id")
	if !ok {
		reply(w, errorResponse(`Missing "id" field`))
		return
	}
	if id == "all" {
		d.Manager.DisposeAll()
	} else {
		d.Manager.Dispose(id)
	}
	reply(w, Response{"killed": id})
}

// handleRun keeps the stream open for the life of the instance. Unless the
// request sets "daemon", closing the connection disposes the instance.
func (d *Daemon) handleRun(req rpc.Message, w *rpc.ResponseWriter, typ instance.Type) {
	name, ok := req.String("name")
	if !ok {
		reply(w, errorResponse(`Missing "name" field`))
		return
	}
	if !d.Store.Exists(name) {
		reply(w, imageMissing(name))
		return
	}

	var opts *capability.StartOptions
	if _, ok := req["options"]; ok {
		opts = &capability.StartOptions{}
		if err := req.Decode("options", opts); err != nil {
			reply(w, errorResponse("invalid start options: %v", err))
			return
		}
	}
	detach := req.Bool("daemon")
	if req.Bool("gui") {
		logging.Debug("Ignoring gui flag; guests run headless")
	}

	// Callbacks wait until the queued reply is out.
	queued := make(chan struct{})
	id, err := d.Manager.Run(instance.RunRequest{
		Type:    typ,
		Name:    name,
		Options: opts,
		Started: func(c instance.Credentials) {
			<-queued
			w.Send(Response{"ssh": Response{
				"id":         c.ID,
				"ipAddress":  c.IPAddress,
				"publicKey":  c.PublicKey,
				"privateKey": c.PrivateKey,
				"login":      automation.DefaultLogin,
				"password":   automation.DefaultLogin,
			}})
			if detach {
				w.Close()
			}
		},
		Stopped: func(err error) {
			<-queued
			msg := Response{"status": "stopped"}
			if err != nil {
				msg["error"] = err.Error()
			}
			w.Send(msg)
			w.Close()
		},
	})
	if err != nil {
		reply(w, errorResponse("%v", err))
		return
	}
	w.Send(Response{"status": "queued", "id": id})
	close(queued)

	if !detach {
		w.OnClose(func() {
			logging.Debug("Client disconnected, disposing instance", "id", id)
			d.Manager.Dispose(id)
		})
	}
}

func (d *Daemon) handleFetch(ctx context.Context, req rpc.Message, w *rpc.ResponseWriter) {
	name, ok := req.String("name")
	if !ok {
		reply(w, errorResponse(`Missing "name" field`))
		return
	}
	if _, ok := d.Catalog.Lookup(name); !ok {
		reply(w, Response{"status": "unknown", "error": fmt.Sprintf("Unknown restore image name %q", name)})
		return
	}
	if path, ok := d.Catalog.FetchedPath(name); ok {
		reply(w, Response{"status": "already", "path": path})
		return
	}

	w.Send(Response{"status": "downloading"})
	path, err := d.Catalog.Fetch(ctx, name, func(percent int) {
		w.Send(Response{"status": "progress", "progress": percent})
	})
	if err != nil {
		if errors.Is(err, context.Canceled) {
			logging.Info("Fetch cancelled", "name", name)
		}
		reply(w, Response{"status": "error", "error": err.Error()})
		return
	}
	reply(w, Response{"status": "done", "path": path})
}
