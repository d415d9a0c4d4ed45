package rectify

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/fpang/card-restore/internal/domain"
	"github.com/fpang/card-restore/internal/imaging"
	"github.com/fpang/card-restore/internal/pool"
)

type fakeCorrector struct {
	calls int
	out   []byte
	err   error
}

func (f *fakeCorrector) Correct(_ context.Context, raw []byte) ([]byte, error) {
	f.calls++
	return f.out, f.err
}

func framedPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 600, 400))
	for y := 0; y < 400; y++ {
		for x := 0; x < 600; x++ {
			c := color.RGBA{250, 250, 250, 255}
			inFrame := x >= 60 && x < 540 && y >= 40 && y < 360
			inInner := x >= 90 && x < 510 && y >= 70 && y < 330
			if inFrame && !inInner {
				c = color.RGBA{225, 15, 25, 255}
			}
			img.SetRGBA(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func plainPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 200, 120))
	for i := range img.Pix {
		img.Pix[i] = 240
	}
	var buf bytes.Buffer
	png.Encode(&buf, img)
	return buf.Bytes()
}

func TestRectify_FrameTier(t *testing.T) {
	corr := &fakeCorrector{out: []byte("model")}
	e := NewEngine(corr, pool.NewWorkers(1, 1))

	out := e.Rectify(context.Background(), framedPNG(t), true)
	if corr.calls != 0 {
		t.Errorf("corrector called %d times, want 0 when frame is found", corr.calls)
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("output is not an image: %v", err)
	}
	if cfg.Width != imaging.CanonicalWidth || cfg.Height != imaging.CanonicalHeight {
		t.Errorf("output size = %dx%d, want canonical", cfg.Width, cfg.Height)
	}
}

func TestRectify_FallsBackToModel(t *testing.T) {
	corr := &fakeCorrector{out: []byte("model")}
	e := NewEngine(corr, pool.NewWorkers(1, 1))

	out := e.Rectify(context.Background(), plainPNG(t), true)
	if corr.calls != 1 {
		t.Errorf("corrector calls = %d, want 1", corr.calls)
	}
	if string(out) != "model" {
		t.Errorf("Rectify() = %q, want model output", out)
	}
}

func TestRectify_SkipsFrameWhenNotRequested(t *testing.T) {
	corr := &fakeCorrector{out: []byte("model")}
	e := NewEngine(corr, nil)
	frameCalled := false
	e.frameCrop = func([]byte) ([]byte, bool) {
		frameCalled = true
		return nil, false
	}

	e.Rectify(context.Background(), framedPNG(t), false)
	if frameCalled {
		t.Error("frame crop should not run for model-crop strategies")
	}
	if corr.calls != 1 {
		t.Errorf("corrector calls = %d, want 1", corr.calls)
	}
}

func TestRectify_NeverNil(t *testing.T) {
	generated := plainPNG(t)
	tests := []struct {
		name string
		corr *fakeCorrector
	}{
		{"model error", &fakeCorrector{err: errors.New("gpu down")}},
		{"model empty", &fakeCorrector{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := NewEngine(tt.corr, nil).Rectify(context.Background(), generated, true)
			if out == nil {
				t.Fatal("Rectify() returned nil")
			}
			if !bytes.Equal(out, generated) {
				t.Error("Rectify() should return the generated bytes unchanged")
			}
		})
	}
}

func TestTryFrame_MissIsFrameMiss(t *testing.T) {
	e := NewEngine(&fakeCorrector{}, nil)

	_, err := e.tryFrame(context.Background(), plainPNG(t))
	if !errors.Is(err, domain.ErrNoFrame) {
		t.Fatalf("tryFrame() error = %v, want ErrNoFrame", err)
	}
	if kind := domain.KindOf(err); kind != domain.FailureFrameMiss {
		t.Errorf("kind = %v, want %v", kind, domain.FailureFrameMiss)
	}
	if domain.IsFatal(err) {
		t.Error("a frame miss must not end the item")
	}

	if out, err := e.tryFrame(context.Background(), framedPNG(t)); err != nil || len(out) == 0 {
		t.Errorf("tryFrame(framed) = %d bytes, %v", len(out), err)
	}
}
