package containers

import (
	"context"
	"testing"
)

func TestUnavailableProviderFailsGracefully(t *testing.T) {
	p := &Provider{} // no daemon connection
	if p.Available() {
		t.Error("zero provider should be unavailable")
	}
	if _, err := p.List(context.Background()); err == nil {
		t.Error("List should fail when the daemon is unavailable")
	}
	if err := p.Close(); err != nil {
		t.Errorf("Close on unavailable provider: %v", err)
	}
}
