package domain

import (
	"reflect"
	"testing"
)

func TestBuildGraph_LayersAreDeterministic(t *testing.T) {
	jobs := []Job{
		{Name: "deploy", Needs: []string{"test", "lint"}},
		{Name: "lint", Needs: []string{"build"}},
		{Name: "test", Needs: []string{"build"}},
		{Name: "build"},
	}

	want := [][]string{{"build"}, {"lint", "test"}, {"deploy"}}
	for i := 0; i < 20; i++ {
		g, err := BuildGraph(jobs)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got := g.Layers(); !reflect.DeepEqual(got, want) {
			t.Fatalf("iteration %d: got %v, want %v", i, got, want)
		}
	}
}

func TestBuildGraph_CycleIsConfigError(t *testing.T) {
	jobs := []Job{
		{Name: "a", Needs: []string{"c"}},
		{Name: "b", Needs: []string{"a"}},
		{Name: "c", Needs: []string{"b"}},
	}
	_, err := BuildGraph(jobs)
	if err == nil {
		t.Fatal("expected cycle error")
	}
	if _, ok := err.(*ConfigError); !ok {
		t.Fatalf("expected ConfigError, got %T", err)
	}
}

func TestBuildGraph_UnknownNeedIsConfigError(t *testing.T) {
	_, err := BuildGraph([]Job{{Name: "a", Needs: []string{"ghost"}}})
	if err == nil {
		t.Fatal("expected error for unknown need")
	}
}

func TestBuildGraph_SelfNeedIsConfigError(t *testing.T) {
	_, err := BuildGraph([]Job{{Name: "a", Needs: []string{"a"}}})
	if err == nil {
		t.Fatal("expected error for self-referential need")
	}
}

func TestBuildGraph_DuplicateNameIsConfigError(t *testing.T) {
	_, err := BuildGraph([]Job{{Name: "a"}, {Name: "a"}})
	if err == nil {
		t.Fatal("expected error for duplicate job name")
	}
}

func TestGraph_Dependencies(t *testing.T) {
	g, err := BuildGraph([]Job{
		{Name: "build"},
		{Name: "test", Needs: []string{"build"}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := g.Dependencies("test"); !reflect.DeepEqual(got, []string{"build"}) {
		t.Fatalf("got %v", got)
	}
}
