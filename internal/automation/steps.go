package automation

import (
	"context"
	"fmt"
	"image"
	"time"

	"github.com/jeeftor/vmcap/internal/capability"
	"github.com/jeeftor/vmcap/internal/logging"
)

// Inputs is the subset of input.Injector a Runner needs.
type Inputs interface {
	PressKeys(ctx context.Context, codes []uint16, holding ...uint16) error
	Click(ctx context.Context, p capability.Point) error
	TypeText(ctx context.Context, text string) error
}

// Step is one stage of a setup sequence. Its parts run in field order:
// wait, pause, click, type, keys. Zero parts are skipped.
type Step struct {
	Description string

	Until         Predicate
	Alternatively Action
	Pause         time.Duration

	// ClickOn waits for a text and clicks it. ClickOffset maps its box to
	// the click point; the centre is used when nil.
	ClickOn     Finder
	ClickOffset func(image.Rectangle) capability.Point
	ClickAt     *capability.Point

	Text    string
	Keys    []uint16
	Holding []uint16
}

// Runner executes steps against one machine.
type Runner struct {
	Screen  *ScreenRecognizer
	Input   Inputs
	Verbose bool
}

// Run executes steps in order and stops at the first error.
func (r *Runner) Run(ctx context.Context, steps []Step) error {
	for i, st := range steps {
		if st.Description != "" {
			if r.Verbose {
				logging.Info("Setup: "+st.Description, "step", i+1, "of", len(steps))
			} else {
				logging.Debug("Setup: "+st.Description, "step", i+1)
			}
		}
		if err := r.runStep(ctx, st); err != nil {
			if st.Description != "" {
				return fmt.Errorf("%s: %w", st.Description, err)
			}
			return fmt.Errorf("step %d: %w", i+1, err)
		}
	}
	return nil
}

func (r *Runner) runStep(ctx context.Context, st Step) error {
	if st.Until != nil {
		if err := r.Screen.WaitForText(ctx, st.Until, st.Alternatively); err != nil {
			return err
		}
	}
	if st.Pause > 0 {
		if err := sleep(ctx, st.Pause); err != nil {
			return err
		}
	}
	if st.ClickOn != nil {
		target, err := WaitForTextResult(ctx, r.Screen, st.ClickOn, nil)
		if err != nil {
			return err
		}
		p := target.Center()
		if st.ClickOffset != nil {
			p = st.ClickOffset(target.Rect)
		}
		if err := r.Input.Click(ctx, p); err != nil {
			return err
		}
	}
	if st.ClickAt != nil {
		if err := r.Input.Click(ctx, *st.ClickAt); err != nil {
			return err
		}
	}
	if st.Text != "" {
		if err := r.Input.TypeText(ctx, st.Text); err != nil {
			return err
		}
	}
	if len(st.Keys) > 0 {
		if err := r.Input.PressKeys(ctx, st.Keys, st.Holding...); err != nil {
			return err
		}
	}
	return nil
}

// ShutdownSteps shuts a macOS guest down from the Apple menu.
func ShutdownSteps() []Step {
	tab, space := capability.KeyTab, capability.KeySpace
	return []Step{
		{Description: "opening the Apple menu", ClickAt: &capability.Point{}},
		{
			Description: "shutting down",
			Until:       ContainsPrefix("about this mac"),
			Text:        "shut",
			Keys:        []uint16{capability.KeyReturn},
		},
		{
			Description: "confirming shut down",
			Until:       ContainsPrefix("are you sure you want"),
			Keys:        []uint16{tab, tab, space},
		},
	}
}

// ConsoleLoginSteps logs into a text console that prints "login:" and
// "Password:" prompts.
func ConsoleLoginSteps(user, password string) []Step {
	ret := []uint16{capability.KeyReturn}
	return []Step{
		{Description: "waiting for login prompt", Until: ContainsSubstring("login:"), Text: user, Keys: ret},
		{Description: "entering password", Until: ContainsPrefix("password:"), Text: password, Keys: ret},
	}
}
