package input

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jeeftor/vmcap/internal/capability"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recorder is a fake keyboard and pointing device that logs events with timestamps.
type recorder struct {
	mu      sync.Mutex
	keys    []capability.KeyEvent
	keyAt   []time.Time
	pointer []capability.PointerEvent
	fail    error
}

func (r *recorder) SendKeyEvents(_ context.Context, events []capability.KeyEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil {
		return r.fail
	}
	for _, e := range events {
		r.keys = append(r.keys, e)
		r.keyAt = append(r.keyAt, time.Now())
	}
	return nil
}

func (r *recorder) SendPointerEvents(_ context.Context, events []capability.PointerEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pointer = append(r.pointer, events...)
	return nil
}

func (r *recorder) Keyboards(context.Context) ([]capability.Keyboard, error) {
	return []capability.Keyboard{r}, nil
}

func (r *recorder) PointingDevices(context.Context) ([]capability.PointingDevice, error) {
	return []capability.PointingDevice{r}, nil
}

var fastTiming = Timing{KeyHold: time.Millisecond, KeyGap: time.Millisecond, PointerSettle: time.Millisecond}

func newInjector(t *testing.T, timing Timing) (*Injector, *recorder) {
	t.Helper()
	rec := &recorder{}
	in, err := NewInjector(context.Background(), rec, timing)
	require.NoError(t, err)
	return in, rec
}

func down(c uint16) capability.KeyEvent { return capability.KeyEvent{Type: capability.KeyDown, KeyCode: c} }
func up(c uint16) capability.KeyEvent   { return capability.KeyEvent{Type: capability.KeyUp, KeyCode: c} }

func TestPressKeyHoldsForKeyHold(t *testing.T) {
	in, rec := newInjector(t, Timing{KeyHold: 30 * time.Millisecond})

	require.NoError(t, in.PressKey(context.Background(), capability.KeyReturn))
	assert.Equal(t, []capability.KeyEvent{down(capability.KeyReturn), up(capability.KeyReturn)}, rec.keys)
	assert.GreaterOrEqual(t, rec.keyAt[1].Sub(rec.keyAt[0]), 30*time.Millisecond)
}

func TestPressKeysWithHolding(t *testing.T) {
	in, rec := newInjector(t, fastTiming)

	err := in.PressKeys(context.Background(), []uint16{capability.KeyQ, capability.KeyW}, capability.KeyCommand, capability.KeyShift)
	require.NoError(t, err)

	assert.Equal(t, []capability.KeyEvent{
		down(capability.KeyCommand), down(capability.KeyShift),
		down(capability.KeyQ), up(capability.KeyQ),
		down(capability.KeyW), up(capability.KeyW),
		up(capability.KeyCommand), up(capability.KeyShift),
	}, rec.keys)
}

func TestPressKeyReleasesOnCancel(t *testing.T) {
	in, rec := newInjector(t, Timing{KeyHold: time.Second})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := in.PressKeys(ctx, []uint16{capability.KeyA}, capability.KeyControl)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, []capability.KeyEvent{
		down(capability.KeyControl), down(capability.KeyA), up(capability.KeyA), up(capability.KeyControl),
	}, rec.keys)
}

func TestClickSequence(t *testing.T) {
	in, rec := newInjector(t, fastTiming)
	p := capability.Point{X: 10, Y: 20}

	require.NoError(t, in.Click(context.Background(), p))
	assert.Equal(t, []capability.PointerEvent{
		{Location: p},
		{Location: p, PressedButtons: capability.ButtonPrimary},
		{Location: p},
	}, rec.pointer)
}

func TestTypeText(t *testing.T) {
	in, rec := newInjector(t, Timing{})

	require.NoError(t, in.TypeText(context.Background(), "Hi!"))
	assert.Equal(t, []capability.KeyEvent{
		down(capability.KeyShift), down(capability.KeyH), up(capability.KeyH), up(capability.KeyShift),
		down(capability.KeyI), up(capability.KeyI),
		down(capability.KeyShift), down(capability.Key1), up(capability.Key1), up(capability.KeyShift),
	}, rec.keys)

	assert.Error(t, in.TypeText(context.Background(), "naïve"))
}

func TestKeystrokes(t *testing.T) {
	strokes, err := Keystrokes("a Z\n")
	require.NoError(t, err)
	assert.Equal(t, []Keystroke{
		{Code: capability.KeyA},
		{Code: capability.KeySpace},
		{Code: capability.KeyZ, Shift: true},
		{Code: capability.KeyReturn},
	}, strokes)
}

func TestKeyboardErrorsPropagate(t *testing.T) {
	in, rec := newInjector(t, fastTiming)
	rec.fail = errors.New("socket closed")
	assert.EqualError(t, in.PressKey(context.Background(), capability.KeyA), "socket closed")
}

type noDevices struct{}

func (noDevices) Keyboards(context.Context) ([]capability.Keyboard, error) { return nil, nil }
func (noDevices) PointingDevices(context.Context) ([]capability.PointingDevice, error) {
	return nil, nil
}

func TestNewInjectorWithoutDevices(t *testing.T) {
	_, err := NewInjector(context.Background(), noDevices{}, DefaultTiming)
	assert.ErrorIs(t, err, capability.ErrNoValue)
}

func TestParseChord(t *testing.T) {
	codes, holding, err := ParseChord("cmd+shift+4")
	require.NoError(t, err)
	assert.Equal(t, []uint16{capability.Key4}, codes)
	assert.Equal(t, []uint16{capability.KeyCommand, capability.KeyShift}, holding)

	codes, holding, err = ParseChord("Return")
	require.NoError(t, err)
	assert.Equal(t, []uint16{capability.KeyReturn}, codes)
	assert.Empty(t, holding)

	codes, holding, err = ParseChord("shift")
	require.NoError(t, err)
	assert.Equal(t, []uint16{capability.KeyShift}, codes)
	assert.Empty(t, holding)

	_, _, err = ParseChord("cmd+nope")
	assert.ErrorContains(t, err, "nope")
}
