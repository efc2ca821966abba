package runtime_test

import (
	"testing"

	"github.com/cohort-run/cohort/internal/runtime"
	_ "github.com/cohort-run/cohort/internal/runtime/docker"
	_ "github.com/cohort-run/cohort/internal/runtime/process"
)

func TestNewRegistryContainsBuiltInLaunchers(t *testing.T) {
	reg := runtime.NewRegistry()

	for _, key := range []string{"docker", "process"} {
		if _, ok := reg[key]; !ok {
			t.Fatalf("expected registry to contain %q launcher", key)
		}
	}
}

func TestCloneIsIndependent(t *testing.T) {
	reg := runtime.NewRegistry()
	dup := reg.Clone()

	delete(dup, "process")
	if _, ok := reg["process"]; !ok {
		t.Fatalf("expected original registry to keep process launcher")
	}
}
