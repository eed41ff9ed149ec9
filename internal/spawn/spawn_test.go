package spawn

import (
	"context"
	"os"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nuxinl/scuba/internal/argdata"
)

func mustParseDoc(t *testing.T, src string) *yaml.Node {
	t.Helper()
	var doc yaml.Node
	if err := yaml.Unmarshal([]byte(src), &doc); err != nil {
		t.Fatalf("yaml.Unmarshal: %v", err)
	}
	return &doc
}

func TestToJSONAssignsSequentialFdNumbers(t *testing.T) {
	logR, logW, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	defer logR.Close()
	defer logW.Close()

	mountF, err := os.Open(".")
	if err != nil {
		t.Fatal(err)
	}
	defer mountF.Close()

	doc := mustParseDoc(t, `
log: !<tag:nuxi.nl,2015:cloudabi/kubernetes/container_log> "x"
data: !<tag:nuxi.nl,2015:cloudabi/kubernetes/mount> "/data"
`)
	arena := argdata.NewArena()
	defer arena.Close()

	tree, err := argdata.Build(context.Background(), arena, doc, argdata.Mounts{"/data": mountF}, logW, nil, argdata.Metadata{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	var extra []*os.File
	j := toJSON(tree, &extra)
	if j.Kind != "map" || len(j.Map) != 2 {
		t.Fatalf("root = %+v, want a 2-entry map", j)
	}
	if len(extra) != 2 {
		t.Fatalf("len(extra) = %d, want 2", len(extra))
	}
	first := *j.Map[0].Value.Fd
	second := *j.Map[1].Value.Fd
	if first != argBlobFD+1 || second != argBlobFD+2 {
		t.Errorf("fd numbers = %d, %d, want %d, %d", first, second, argBlobFD+1, argBlobFD+2)
	}
}

func TestSpawnTrueExitsZero(t *testing.T) {
	if _, err := os.Stat("/bin/true"); err != nil {
		t.Skip("/bin/true not present on this system")
	}

	arena := argdata.NewArena()
	defer arena.Close()

	tree, err := argdata.Build(context.Background(), arena, mustParseDoc(t, "null"), nil, nil, nil, argdata.Metadata{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	proc, err := Spawn(ctx, "/bin/true", tree)
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	state, err := proc.Wait()
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if !state.Success() {
		t.Errorf("process exited with %v, want success", state)
	}
}

func TestSpawnUnknownExecutableFails(t *testing.T) {
	arena := argdata.NewArena()
	defer arena.Close()

	tree, err := argdata.Build(context.Background(), arena, mustParseDoc(t, "null"), nil, nil, nil, argdata.Metadata{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	if _, err := Spawn(context.Background(), "/nonexistent/binary/path", tree); err == nil {
		t.Fatal("Spawn succeeded against a nonexistent executable")
	}
}
