package device

import (
	"strings"
	"testing"

	"cgan-forge/internal/errs"
)

func TestSelectCPU(t *testing.T) {
	for _, name := range []string{"", "auto", "cpu", "CPU"} {
		info, err := Select(name)
		if err != nil {
			t.Fatalf("%q: %v", name, err)
		}
		if info.Name != "cpu" || info.LogicalCores <= 0 {
			t.Fatalf("%q: unexpected info %+v", name, info)
		}
		if !strings.HasPrefix(info.String(), "device=cpu ") {
			t.Fatalf("unexpected log form %q", info.String())
		}
	}
}

func TestSelectRejectsAccelerators(t *testing.T) {
	for _, name := range []string{"cuda", "mps", "tpu"} {
		if _, err := Select(name); !errs.IsConfiguration(err) {
			t.Fatalf("%q: expected configuration error, got %v", name, err)
		}
	}
}

func TestWorkers(t *testing.T) {
	info := Info{LogicalCores: 8}
	if got := info.Workers(3); got != 3 {
		t.Fatalf("explicit workers overridden: %d", got)
	}
	if got := info.Workers(0); got != 4 {
		t.Fatalf("default workers %d, want 4", got)
	}
	if got := (Info{LogicalCores: 1}).Workers(0); got != 1 {
		t.Fatalf("single core workers %d, want 1", got)
	}
}
