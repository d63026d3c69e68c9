package qmp_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/jeeftor/vmcap/internal/qmp"
	"github.com/jeeftor/vmcap/internal/qmp/qmptest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func connect(t *testing.T, srv *qmptest.Server) *qmp.Client {
	t.Helper()
	c := qmp.NewWithSocketPath("test", srv.Path)
	require.NoError(t, c.Connect(context.Background()))
	t.Cleanup(func() { c.Close() })
	return c
}

func TestSocketPath(t *testing.T) {
	assert.Equal(t, "/var/run/qemu-server/104.qmp", qmp.New("104").SocketPath())
	assert.Equal(t, "/tmp/x.sock", qmp.NewWithSocketPath("104", "/tmp/x.sock").SocketPath())
}

func TestExecuteNotConnected(t *testing.T) {
	_, err := qmp.New("104").Execute(context.Background(), "query-status", nil)
	assert.ErrorIs(t, err, qmp.ErrNotConnected)
}

func TestQueryStatus(t *testing.T) {
	srv := qmptest.NewServer(t)
	srv.Handle("query-status", func(json.RawMessage) (interface{}, *qmp.Error) {
		return map[string]interface{}{"running": false, "status": "prelaunch"}, nil
	})
	c := connect(t, srv)

	status, err := c.QueryStatus(context.Background())
	require.NoError(t, err)
	assert.False(t, status.Running)
	assert.Equal(t, "prelaunch", status.Status)
}

func TestErrorReply(t *testing.T) {
	srv := qmptest.NewServer(t)
	srv.Handle("device_add", func(json.RawMessage) (interface{}, *qmp.Error) {
		return nil, &qmp.Error{Class: "GenericError", Desc: "Duplicate ID"}
	})
	c := connect(t, srv)

	err := c.DeviceAdd(context.Background(), "usb-tablet", "touch0", nil)
	require.Error(t, err)
	var qerr *qmp.Error
	require.ErrorAs(t, err, &qerr)
	assert.Equal(t, "Duplicate ID", qerr.Desc)
	assert.False(t, qmp.IsCommandNotFound(err))
}

func TestEventsAreQueuedAndAwaited(t *testing.T) {
	srv := qmptest.NewServer(t)
	srv.EmitOn("system_reset", "RESET")
	srv.EmitOn("cont", "RESUME")
	c := connect(t, srv)
	ctx := context.Background()

	require.NoError(t, c.SystemReset(ctx))
	require.NoError(t, c.Cont(ctx))

	ev, err := c.WaitEvent(ctx, "RESUME")
	require.NoError(t, err)
	assert.Equal(t, "RESUME", ev.Name)
	assert.Equal(t, int64(1), ev.Timestamp.Seconds)

	rest := c.DrainEvents()
	require.Len(t, rest, 1)
	assert.Equal(t, "RESET", rest[0].Name)
}

func TestWaitEventHonoursContext(t *testing.T) {
	srv := qmptest.NewServer(t)
	c := connect(t, srv)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := c.WaitEvent(ctx, "SHUTDOWN")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// The connection stays usable after an abandoned wait.
	_, err = c.QueryStatus(context.Background())
	assert.NoError(t, err)
}

func TestSendKeyAndInputEvents(t *testing.T) {
	srv := qmptest.NewServer(t)
	c := connect(t, srv)
	ctx := context.Background()

	require.NoError(t, c.SendKey(ctx, "ctrl-alt-del"))
	require.NoError(t, c.InputSendEvent(ctx, "", []qmp.InputEvent{
		qmp.AbsInputEvent("x", 100),
		qmp.ButtonInputEvent("left", true),
		qmp.KeyInputEvent("a", false),
	}))

	got := srv.Received()
	require.Len(t, got, 2)

	assert.Equal(t, "send-key", got[0].Name)
	assert.JSONEq(t, `{"keys":[{"type":"qcode","data":"ctrl"},{"type":"qcode","data":"alt"},{"type":"qcode","data":"delete"}]}`, string(got[0].Args))

	assert.Equal(t, "input-send-event", got[1].Name)
	assert.JSONEq(t, `{"events":[
		{"type":"abs","data":{"axis":"x","value":100}},
		{"type":"btn","data":{"button":"left","down":true}},
		{"type":"key","data":{"down":false,"key":{"type":"qcode","data":"a"}}}
	]}`, string(got[1].Args))
}

func TestScreenDumpArguments(t *testing.T) {
	srv := qmptest.NewServer(t)
	c := connect(t, srv)

	require.NoError(t, c.ScreenDump(context.Background(), "/tmp/a.ppm", "", 0))
	require.NoError(t, c.ScreenDump(context.Background(), "/tmp/b.ppm", "video0", 1))

	got := srv.Received()
	assert.JSONEq(t, `{"filename":"/tmp/a.ppm"}`, string(got[0].Args))
	assert.JSONEq(t, `{"filename":"/tmp/b.ppm","device":"video0","head":1}`, string(got[1].Args))
}

func TestSendKeyComboRejectsSequences(t *testing.T) {
	srv := qmptest.NewServer(t)
	c := connect(t, srv)

	err := c.SendKeyCombo(context.Background(), []string{"ctrl", "!"})
	assert.Error(t, err)
	assert.Empty(t, srv.Received())
}

func TestQueryUSBListsUSBPeripherals(t *testing.T) {
	srv := qmptest.NewServer(t)
	srv.Handle("qom-list", func(args json.RawMessage) (interface{}, *qmp.Error) {
		var req struct {
			Path string `json:"path"`
		}
		json.Unmarshal(args, &req)
		if req.Path != qmp.PeripheralPath {
			return []qmp.QOMProperty{}, nil
		}
		return []qmp.QOMProperty{
			{Name: "type", Type: "string"},
			{Name: "touch0", Type: "child<usb-tablet>"},
			{Name: "net0", Type: "child<virtio-net-pci>"},
			{Name: "kbd", Type: "child<usb-kbd>"},
		}, nil
	})
	c := connect(t, srv)

	devices, err := c.QueryUSB(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []qmp.USBDevice{
		{Driver: "usb-tablet", ID: "touch0"},
		{Driver: "usb-kbd", ID: "kbd"},
	}, devices)
}

func TestEventsChannelDeliversAndCloses(t *testing.T) {
	srv := qmptest.NewServer(t)
	srv.EmitOn("stop", "STOP")
	c := qmp.NewWithSocketPath("test", srv.Path)
	assert.Nil(t, c.Events())
	require.NoError(t, c.Connect(context.Background()))
	events := c.Events()
	require.NotNil(t, events)

	require.NoError(t, c.Stop(context.Background()))
	select {
	case ev := <-events:
		assert.Equal(t, "STOP", ev.Name)
	case <-time.After(5 * time.Second):
		t.Fatal("no event delivered")
	}

	require.NoError(t, c.Close())
	select {
	case _, ok := <-events:
		assert.False(t, ok)
	case <-time.After(5 * time.Second):
		t.Fatal("events channel not closed")
	}
}

func TestExecuteWhileWaitingForEvent(t *testing.T) {
	srv := qmptest.NewServer(t)
	srv.EmitOn("cont", "RESUME")
	c := connect(t, srv)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	waited := make(chan error, 1)
	go func() {
		_, err := c.WaitEvent(ctx, "RESUME")
		waited <- err
	}()

	// Commands keep flowing while the waiter is blocked.
	_, err := c.QueryStatus(ctx)
	require.NoError(t, err)
	require.NoError(t, c.Cont(ctx))
	require.NoError(t, <-waited)
}
