package script

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeeftor/vmcap/internal/automation"
	"github.com/jeeftor/vmcap/internal/capability"
)

func TestParse(t *testing.T) {
	src := `
# set up the installer
wait Welcome
click Continue
click 10 20
type  hello world
key cmd+q
sleep 2s
`
	steps, err := Parse(strings.NewReader(src))
	require.NoError(t, err)
	require.Len(t, steps, 6)

	screen := []automation.RecognizedText{{Text: "Welcome to macOS"}}
	require.NotNil(t, steps[0].Until)
	assert.True(t, steps[0].Until(screen))

	require.NotNil(t, steps[1].ClickOn)
	_, ok := steps[1].ClickOn([]automation.RecognizedText{{Text: "continue"}})
	assert.True(t, ok)

	require.NotNil(t, steps[2].ClickAt)
	assert.Equal(t, capability.Point{X: 10, Y: 20}, *steps[2].ClickAt)

	assert.Equal(t, " hello world", steps[3].Text)

	assert.Equal(t, []uint16{capability.KeyQ}, steps[4].Keys)
	assert.Equal(t, []uint16{capability.KeyCommand}, steps[4].Holding)

	assert.Equal(t, 2*time.Second, steps[5].Pause)
}

func TestParseWaitExact(t *testing.T) {
	steps, err := Parse(strings.NewReader("wait-exact Continue\n"))
	require.NoError(t, err)
	require.Len(t, steps, 1)

	until := steps[0].Until
	require.NotNil(t, until)
	assert.True(t, until([]automation.RecognizedText{{Text: "continue"}}))
	assert.False(t, until([]automation.RecognizedText{{Text: "Continue Setup"}}))
}

func TestParseExpandsMacros(t *testing.T) {
	steps, err := Parse(strings.NewReader("login admin secret\nshutdown\n"))
	require.NoError(t, err)
	assert.Len(t, steps, len(automation.ConsoleLoginSteps("a", "b"))+len(automation.ShutdownSteps()))
	assert.Equal(t, "admin", steps[0].Text)
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		line int
	}{
		{"unknown directive", "jump high", 1},
		{"missing argument", "# c\nwait", 2},
		{"missing exact text", "wait-exact", 1},
		{"bad key", "key hyper", 1},
		{"bad duration", "sleep soon", 1},
		{"negative duration", "sleep -1s", 1},
		{"login arity", "login admin", 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(tt.src))
			require.Error(t, err)
			var pe *ParseError
			require.True(t, errors.As(err, &pe))
			assert.Equal(t, tt.line, pe.Line)
		})
	}
}
