package capture

import (
	"context"
	"testing"
)

// mockSource is a test implementation of Source
type mockSource struct {
	name        string
	description string
	loadFunc    func(ctx context.Context, path string) (*Capture, error)
}

func (m *mockSource) Name() string {
	return m.name
}

func (m *mockSource) Description() string {
	return m.description
}

func (m *mockSource) Load(ctx context.Context, path string) (*Capture, error) {
	if m.loadFunc != nil {
		return m.loadFunc(ctx, path)
	}
	return &Capture{Name: path}, nil
}

func TestRegistry(t *testing.T) {
	registry := NewRegistry()

	source1 := &mockSource{name: "test1", description: "Test source 1"}
	if err := registry.Register(source1); err != nil {
		t.Fatalf("Failed to register source: %v", err)
	}

	if err := registry.Register(source1); err == nil {
		t.Fatal("Expected error when registering duplicate source")
	}

	if err := registry.Register(nil); err == nil {
		t.Fatal("Expected error when registering nil source")
	}

	if err := registry.Register(&mockSource{name: ""}); err == nil {
		t.Fatal("Expected error when registering source with empty name")
	}

	got, err := registry.Get("test1")
	if err != nil {
		t.Fatalf("Failed to get source: %v", err)
	}
	if got.Name() != "test1" {
		t.Errorf("Got wrong source: expected test1, got %s", got.Name())
	}

	if _, err := registry.Get("nonexistent"); err == nil {
		t.Fatal("Expected error when getting non-existent source")
	}

	registry.Register(&mockSource{name: "test3", description: "Test source 3"})

	list := registry.List()
	if len(list) != 2 {
		t.Errorf("Expected 2 sources, got %d", len(list))
	}
	if list[0] != "test1" || list[1] != "test3" {
		t.Errorf("List not sorted correctly: %v", list)
	}

	if all := registry.GetAll(); len(all) != 2 {
		t.Errorf("Expected 2 sources from GetAll, got %d", len(all))
	}

	registry.Clear()
	if list = registry.List(); len(list) != 0 {
		t.Errorf("Expected 0 sources after Clear, got %d", len(list))
	}
}

func TestBuiltinSources(t *testing.T) {
	list := List()
	want := []string{"csv", "rigol", "trace"}
	if len(list) != len(want) {
		t.Fatalf("List() = %v, want %v", list, want)
	}
	for i, name := range want {
		if list[i] != name {
			t.Errorf("List()[%d] = %s, want %s", i, list[i], name)
		}
	}

	for _, info := range Info() {
		if info.Description == "" {
			t.Errorf("source %s has no description", info.Name)
		}
		wantChannels := 2
		if info.Name == "trace" {
			wantChannels = 1
		}
		if info.Channels != wantChannels {
			t.Errorf("source %s: Channels = %d, want %d", info.Name, info.Channels, wantChannels)
		}
	}
}

func TestSourceInfo(t *testing.T) {
	registry := NewRegistry()
	registry.Register(&mockSource{name: "basic", description: "Basic source"})

	infos := registry.Info()
	if len(infos) != 1 {
		t.Fatalf("Expected 1 source info, got %d", len(infos))
	}
	if infos[0].Name != "basic" || infos[0].Description != "Basic source" {
		t.Errorf("Unexpected info: %+v", infos[0])
	}
}
