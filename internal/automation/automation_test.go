package automation

import (
	"context"
	"errors"
	"image"
	"sync"
	"testing"
	"time"

	"github.com/jeeftor/vmcap/internal/capability"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeFramebuffer struct{ err error }

func (f fakeFramebuffer) Screenshot(context.Context) (image.Image, error) {
	if f.err != nil {
		return nil, f.err
	}
	return image.NewRGBA(image.Rect(0, 0, 8, 8)), nil
}

type fakeDevice struct{ fbs []capability.Framebuffer }

func (d fakeDevice) Type() capability.GraphicsDeviceType     { return capability.GraphicsDeviceVirtio }
func (d fakeDevice) Framebuffers() []capability.Framebuffer { return d.fbs }

type fakeScreens struct{ devices []capability.GraphicsDevice }

func (s fakeScreens) GraphicsDevices(context.Context) ([]capability.GraphicsDevice, error) {
	return s.devices, nil
}

func screensWith(fb capability.Framebuffer) fakeScreens {
	return fakeScreens{devices: []capability.GraphicsDevice{fakeDevice{fbs: []capability.Framebuffer{fb}}}}
}

// scripted returns one frame of texts per call and repeats the last.
type scripted struct {
	mu     sync.Mutex
	frames [][]RecognizedText
	calls  int
}

func (s *scripted) Recognize(context.Context, image.Image) ([]RecognizedText, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.calls
	if i >= len(s.frames) {
		i = len(s.frames) - 1
	}
	s.calls++
	return s.frames[i], nil
}

func words(ws ...string) []RecognizedText {
	out := make([]RecognizedText, len(ws))
	for i, w := range ws {
		out[i] = RecognizedText{Text: w, Rect: image.Rect(10*i, 0, 10*i+8, 16)}
	}
	return out
}

type recordedInput struct {
	mu     sync.Mutex
	events []string
	clicks []capability.Point
}

func (r *recordedInput) PressKeys(_ context.Context, codes []uint16, holding ...uint16) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range codes {
		if len(holding) > 0 {
			r.events = append(r.events, "held:"+capability.KeyName(c))
			continue
		}
		r.events = append(r.events, capability.KeyName(c))
	}
	return nil
}

func (r *recordedInput) Click(_ context.Context, p capability.Point) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clicks = append(r.clicks, p)
	r.events = append(r.events, "click")
	return nil
}

func (r *recordedInput) TypeText(_ context.Context, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, "type:"+text)
	return nil
}

func TestPredicates(t *testing.T) {
	texts := words("Select Your Country or Region", "United Kingdom")

	assert.True(t, ContainsExact("united kingdom")(texts))
	assert.False(t, ContainsExact("united")(texts))
	assert.True(t, ContainsPrefix("select your")(texts))
	assert.True(t, ContainsSubstring("country")(texts))
	assert.False(t, ContainsSubstring("france")(texts))
	assert.True(t, Any(ContainsExact("nope"), ContainsPrefix("united"))(texts))

	found, ok := FirstOf(First(Exact("general")), First(Suffix(" kingdom")))(texts)
	require.True(t, ok)
	assert.Equal(t, "United Kingdom", found.Text)
}

func TestRecognizeScreenWithoutFramebuffer(t *testing.T) {
	s := &ScreenRecognizer{Screens: fakeScreens{}, Recognizer: &scripted{frames: [][]RecognizedText{words("x")}}}
	texts, err := s.RecognizeScreen(context.Background())
	require.NoError(t, err)
	assert.Empty(t, texts)

	s.Screens = screensWith(fakeFramebuffer{err: errors.New("display gone")})
	texts, err = s.RecognizeScreen(context.Background())
	require.NoError(t, err)
	assert.Empty(t, texts)
}

func TestWaitForTextRunsAlternatively(t *testing.T) {
	rec := &scripted{frames: [][]RecognizedText{words("booting"), words("booting"), words("Language")}}
	s := &ScreenRecognizer{Screens: screensWith(fakeFramebuffer{}), Recognizer: rec, PollInterval: time.Millisecond}

	alts := 0
	err := s.WaitForText(context.Background(), ContainsExact("language"), func(context.Context) error {
		alts++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, alts)
	assert.Equal(t, 3, rec.calls)
}

func TestWaitForTextHonoursContext(t *testing.T) {
	s := &ScreenRecognizer{
		Screens:      screensWith(fakeFramebuffer{}),
		Recognizer:   &scripted{frames: [][]RecognizedText{words("nothing")}},
		PollInterval: time.Millisecond,
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := s.WaitForText(ctx, ContainsExact("never"), nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestWaitForTextResult(t *testing.T) {
	s := &ScreenRecognizer{
		Screens:      screensWith(fakeFramebuffer{}),
		Recognizer:   &scripted{frames: [][]RecognizedText{nil, words("Remote", "Remote Login")}},
		PollInterval: time.Millisecond,
	}
	got, err := WaitForTextResult(context.Background(), s, First(Exact("remote login")), nil)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(10, 0, 18, 16), got.Rect)
	assert.Equal(t, capability.Point{X: 14, Y: 8}, got.Center())
}

func TestRunnerShutdownSteps(t *testing.T) {
	rec := &scripted{frames: [][]RecognizedText{
		words("About This Mac"),
		words("Are you sure you want to shut down"),
	}}
	in := &recordedInput{}
	r := &Runner{
		Screen: &ScreenRecognizer{Screens: screensWith(fakeFramebuffer{}), Recognizer: rec, PollInterval: time.Millisecond},
		Input:  in,
	}
	require.NoError(t, r.Run(context.Background(), ShutdownSteps()))
	assert.Equal(t, []string{"click", "type:shut", "return", "tab", "tab", "space"}, in.events)
	assert.Equal(t, []capability.Point{{}}, in.clicks)
}

func TestRunnerClickOffset(t *testing.T) {
	rec := &scripted{frames: [][]RecognizedText{words("a", "Sharing")}}
	in := &recordedInput{}
	r := &Runner{
		Screen: &ScreenRecognizer{Screens: screensWith(fakeFramebuffer{}), Recognizer: rec, PollInterval: time.Millisecond},
		Input:  in,
	}
	steps := []Step{{
		ClickOn: First(Substring("sharing")),
		ClickOffset: func(r image.Rectangle) capability.Point {
			return capability.Point{X: float64(r.Max.X) + float64(r.Dx())*3.5, Y: float64(r.Min.Y+r.Max.Y) / 2}
		},
		Keys:    []uint16{capability.KeyQ},
		Holding: []uint16{capability.KeyCommand},
	}}
	require.NoError(t, r.Run(context.Background(), steps))
	assert.Equal(t, []capability.Point{{X: 46, Y: 8}}, in.clicks)
	assert.Equal(t, []string{"click", "held:q"}, in.events)
}

func TestRunnerWrapsStepError(t *testing.T) {
	r := &Runner{
		Screen: &ScreenRecognizer{Screens: screensWith(fakeFramebuffer{}), Recognizer: &scripted{frames: [][]RecognizedText{nil}}, PollInterval: time.Millisecond},
		Input:  &recordedInput{},
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := r.Run(ctx, ConsoleLoginSteps("root", "pw"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "waiting for login prompt")
	assert.ErrorIs(t, err, context.Canceled)
}
