// Package automation drives guest setup by reading text off the screen and
// answering with keyboard and pointer input.
package automation

import (
	"context"
	"errors"
	"image"
	"time"

	"github.com/jeeftor/vmcap/internal/capability"
	"github.com/jeeftor/vmcap/internal/logging"
	"github.com/jeeftor/vmcap/internal/ocr"
)

// DefaultPollInterval is the pause between two screen recognitions.
const DefaultPollInterval = time.Second

// RecognizedText is one piece of text found on screen, in screen pixels.
type RecognizedText struct {
	Text string
	Rect image.Rectangle
}

// Center is the middle of the text's bounding box.
func (r RecognizedText) Center() capability.Point {
	return capability.Point{
		X: float64(r.Rect.Min.X+r.Rect.Max.X) / 2,
		Y: float64(r.Rect.Min.Y+r.Rect.Max.Y) / 2,
	}
}

// TextRecognizer finds text in an image.
type TextRecognizer interface {
	Recognize(ctx context.Context, img image.Image) ([]RecognizedText, error)
}

// OCRRecognizer recognizes fixed-grid console text with trained bitmaps.
type OCRRecognizer struct {
	Config   ocr.Config
	Training *ocr.TrainingData
}

func (o OCRRecognizer) Recognize(_ context.Context, img image.Image) ([]RecognizedText, error) {
	res, err := ocr.Recognize(img, o.Config, o.Training)
	if err != nil {
		return nil, err
	}
	items := res.TextItems()
	out := make([]RecognizedText, len(items))
	for i, it := range items {
		out[i] = RecognizedText{Text: it.Text, Rect: it.Rect}
	}
	return out, nil
}

// ScreenRecognizer polls a machine's screen for text.
type ScreenRecognizer struct {
	Screens      capability.ScreenshotProvider
	Recognizer   TextRecognizer
	PollInterval time.Duration
}

func (s *ScreenRecognizer) interval() time.Duration {
	if s.PollInterval > 0 {
		return s.PollInterval
	}
	return DefaultPollInterval
}

// RecognizeScreen captures the screen and recognizes it. A machine without
// a framebuffer, or a failed capture, yields no text rather than an error.
func (s *ScreenRecognizer) RecognizeScreen(ctx context.Context) ([]RecognizedText, error) {
	img, err := capability.TakeScreenshot(ctx, s.Screens)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !errors.Is(err, capability.ErrNoValue) {
			logging.Debug("Screenshot unavailable", "error", err)
		}
		return nil, nil
	}
	res, err := s.Recognizer.Recognize(ctx, img)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		logging.Debug("Text recognition failed", "error", err)
		return nil, nil
	}
	return res, nil
}

// Action is run between polls while waiting for text.
type Action func(ctx context.Context) error

// WaitForText polls until pred holds. alternatively, when set, runs after
// each miss before the next poll.
func (s *ScreenRecognizer) WaitForText(ctx context.Context, pred Predicate, alternatively Action) error {
	_, err := WaitForTextResult(ctx, s, func(texts []RecognizedText) (struct{}, bool) {
		return struct{}{}, pred(texts)
	}, alternatively)
	return err
}

// WaitForTextResult polls until find reports a value and returns it.
func WaitForTextResult[T any](ctx context.Context, s *ScreenRecognizer, find func([]RecognizedText) (T, bool), alternatively Action) (T, error) {
	var zero T
	for {
		texts, err := s.RecognizeScreen(ctx)
		if err != nil {
			return zero, err
		}
		if v, ok := find(texts); ok {
			return v, nil
		}
		if alternatively != nil {
			if err := alternatively(ctx); err != nil {
				return zero, err
			}
		}
		if err := sleep(ctx, s.interval()); err != nil {
			return zero, err
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
