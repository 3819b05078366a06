package render

import (
	"context"
	"errors"
	"image"
	"strings"
	"testing"
	"time"

	logx "inkframe/pkg/logx"
)

func blank() image.Image {
	return image.NewNRGBA(image.Rect(0, 0, 2, 2))
}

func TestRegistryRegisterAndLookup(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	r := RendererFunc(func(ctx context.Context, settings map[string]string) (image.Image, error) {
		return blank(), nil
	})

	if err := reg.Register("clock", r); err != nil {
		t.Fatalf("Register error: %v", err)
	}
	if err := reg.Register("clock", r); err == nil {
		t.Fatal("expected duplicate registration error")
	}
	if err := reg.Register("", r); err == nil {
		t.Fatal("expected error for empty plugin id")
	}
	if err := reg.Register("nil", nil); err == nil {
		t.Fatal("expected error for nil renderer")
	}

	if _, ok := reg.Lookup("clock"); !ok {
		t.Fatal("registered plugin not found")
	}
	if _, ok := reg.Lookup("ghost"); ok {
		t.Fatal("unregistered plugin found")
	}

	_ = reg.Register("aaa", r)
	ids := reg.IDs()
	if len(ids) != 3 || ids[0] != "aaa" {
		t.Fatalf("IDs = %v, want sorted list of 3", ids)
	}
}

func TestGatewayUnknownPlugin(t *testing.T) {
	t.Parallel()

	g := NewGateway(NewRegistry(), 0, logx.Nop())
	_, err := g.Render(context.Background(), "ghost", nil)
	if !errors.Is(err, ErrUnknownPlugin) {
		t.Fatalf("error = %v, want ErrUnknownPlugin", err)
	}
}

func TestGatewayRecoversPanic(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	_ = reg.Register("bomb", RendererFunc(func(ctx context.Context, settings map[string]string) (image.Image, error) {
		panic("kaboom")
	}))
	g := NewGateway(reg, 0, logx.Nop())

	img, err := g.Render(context.Background(), "bomb", nil)
	if err == nil || !strings.Contains(err.Error(), "panicked") {
		t.Fatalf("error = %v, want panic converted to error", err)
	}
	if img != nil {
		t.Fatal("expected nil image after panic")
	}
}

func TestGatewayNilImage(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	_ = reg.Register("empty", RendererFunc(func(ctx context.Context, settings map[string]string) (image.Image, error) {
		return nil, nil
	}))
	g := NewGateway(reg, 0, logx.Nop())

	if _, err := g.Render(context.Background(), "empty", nil); err == nil {
		t.Fatal("expected error for nil image with nil error")
	}
}

func TestGatewayTimeout(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	_ = reg.Register("slow", RendererFunc(func(ctx context.Context, settings map[string]string) (image.Image, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(5 * time.Second):
			return blank(), nil
		}
	}))
	g := NewGateway(reg, 20*time.Millisecond, logx.Nop())

	start := time.Now()
	_, err := g.Render(context.Background(), "slow", nil)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("error = %v, want DeadlineExceeded", err)
	}
	if time.Since(start) > time.Second {
		t.Fatal("timeout did not bound the call")
	}
}

func TestGatewaySettingsPassthrough(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	var got map[string]string
	_ = reg.Register("echo", RendererFunc(func(ctx context.Context, settings map[string]string) (image.Image, error) {
		got = settings
		return blank(), nil
	}))
	g := NewGateway(reg, 0, logx.Nop())

	want := map[string]string{"city": "Reykjavik", "units": "metric"}
	if _, err := g.Render(context.Background(), "echo", want); err != nil {
		t.Fatalf("Render error: %v", err)
	}
	if got["city"] != "Reykjavik" || got["units"] != "metric" {
		t.Fatalf("settings not passed through: %v", got)
	}
}
