package parser

import (
	"testing"
)

type fakeProvider struct {
	name string
}

func (f *fakeProvider) Name() string                 { return f.name }
func (f *fakeProvider) ParseLine(line string) *Entry { return nil }
func (f *fakeProvider) DefaultSearchPaths() []string { return nil }
func (f *fakeProvider) FilePatterns() []string       { return []string{"*.log"} }

func TestRegistry_RegisterAndGet(t *testing.T) {
	r := NewRegistry()

	if err := r.Register(&fakeProvider{name: "jellyfin"}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	p, err := r.Get("jellyfin")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if p.Name() != "jellyfin" {
		t.Errorf("Expected provider 'jellyfin', got '%s'", p.Name())
	}
}

func TestRegistry_DuplicateRegistration(t *testing.T) {
	r := NewRegistry()

	if err := r.Register(&fakeProvider{name: "jellyfin"}); err != nil {
		t.Fatalf("First Register failed: %v", err)
	}
	if err := r.Register(&fakeProvider{name: "jellyfin"}); err == nil {
		t.Error("Expected duplicate registration to fail")
	}
}

func TestRegistry_UnknownProvider(t *testing.T) {
	r := NewRegistry()

	if _, err := r.Get("plex"); err == nil {
		t.Error("Expected unknown provider lookup to fail")
	}
}

func TestRegistry_Names(t *testing.T) {
	r := NewRegistry()
	r.Register(&fakeProvider{name: "servarr"})
	r.Register(&fakeProvider{name: "jellyfin"})

	names := r.Names()
	if len(names) != 2 || names[0] != "jellyfin" || names[1] != "servarr" {
		t.Errorf("Expected sorted provider names [jellyfin servarr], got %v", names)
	}
}
