package proxyserver

import (
	"testing"
	"time"
)

func TestDefaultOptionsAppliesSpecDefaults(t *testing.T) {
	opts := DefaultOptions()

	if !opts.AllowLocalOnly {
		t.Error("expected AllowLocalOnly to default to true")
	}
	if !opts.AuthenticateSslClients {
		t.Error("expected AuthenticateSslClients to default to true")
	}
	if opts.Port != 8080 {
		t.Errorf("expected default port 8080, got %d", opts.Port)
	}
	if opts.IdleConnectionTimeout != 70*time.Second {
		t.Errorf("expected default idle timeout 70s, got %s", opts.IdleConnectionTimeout)
	}
	if opts.ConnectTimeout != 40*time.Second {
		t.Errorf("expected default connect timeout 40s, got %s", opts.ConnectTimeout)
	}
	if opts.FiltersSource == nil {
		t.Error("expected a default NoOpFiltersSource to be installed")
	}
}

func TestNormalizeDoesNotMutateReceiver(t *testing.T) {
	opts := Options{}
	normalized := opts.Normalize()

	if opts.Port != 0 {
		t.Error("expected Normalize to leave the original Options unmutated")
	}
	if normalized.Port == 0 {
		t.Error("expected the normalized copy to have defaults applied")
	}
}

func TestNormalizePreservesExplicitOverrides(t *testing.T) {
	opts := Options{Port: 9999, Name: "custom"}.Normalize()

	if opts.Port != 9999 || opts.Name != "custom" {
		t.Errorf("expected explicit overrides to survive Normalize, got port=%d name=%s", opts.Port, opts.Name)
	}
}

func TestClientSideConstructors(t *testing.T) {
	if PlainClientSide().Kind != ClientSidePlain {
		t.Error("expected PlainClientSide to set ClientSidePlain")
	}
	if MitmClientSide(nil).Kind != ClientSideMitm {
		t.Error("expected MitmClientSide to set ClientSideMitm")
	}
}
