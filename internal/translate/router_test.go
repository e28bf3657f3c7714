package translate

import (
	"context"
	"testing"
)

type fakeBackend struct {
	name      string
	confirmed int
	partial   int
	closed    bool
}

func (f *fakeBackend) TranslateConfirmed(ctx context.Context, req Request) (string, error) {
	f.confirmed++
	return f.name + ":confirmed", nil
}

func (f *fakeBackend) TranslatePartial(ctx context.Context, req Request) (string, error) {
	f.partial++
	return f.name + ":partial", nil
}

func (f *fakeBackend) Close() error {
	f.closed = true
	return nil
}

func TestRouter_PartialAlwaysUsesSpeedRegardlessOfMode(t *testing.T) {
	for _, confirmUsesSpeed := range []bool{true, false} {
		speed := &fakeBackend{name: "speed"}
		quality := &fakeBackend{name: "quality"}
		r := &Router{Speed: speed, Quality: quality, ConfirmUsesSpeed: confirmUsesSpeed}

		out, err := r.TranslatePartial(context.Background(), Request{})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if out != "speed:partial" {
			t.Errorf("partial translation = %q, want speed:partial", out)
		}
		if quality.partial != 0 {
			t.Errorf("quality backend should never see partial requests")
		}
	}
}

func TestRouter_ConfirmedFollowsTranslatorMode(t *testing.T) {
	speed := &fakeBackend{name: "speed"}
	quality := &fakeBackend{name: "quality"}

	speedMode := &Router{Speed: speed, Quality: quality, ConfirmUsesSpeed: true}
	if out, _ := speedMode.TranslateConfirmed(context.Background(), Request{}); out != "speed:confirmed" {
		t.Errorf("confirmed translation in speed mode = %q, want speed:confirmed", out)
	}

	qualityMode := &Router{Speed: speed, Quality: quality, ConfirmUsesSpeed: false}
	if out, _ := qualityMode.TranslateConfirmed(context.Background(), Request{}); out != "quality:confirmed" {
		t.Errorf("confirmed translation in quality mode = %q, want quality:confirmed", out)
	}
}

func TestRouter_CloseClosesBothBackends(t *testing.T) {
	speed := &fakeBackend{name: "speed"}
	quality := &fakeBackend{name: "quality"}
	r := &Router{Speed: speed, Quality: quality}

	if err := r.Close(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !speed.closed || !quality.closed {
		t.Errorf("expected both backends closed, speed=%v quality=%v", speed.closed, quality.closed)
	}
}
