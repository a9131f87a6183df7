package api

import (
	"context"
	"net"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/signalsfoundry/modeltree/internal/observability"
	"github.com/signalsfoundry/modeltree/internal/sim"
)

type harness struct {
	sim       *sim.Simulation
	client    *Client
	collector *observability.APICollector
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	s, err := sim.New("Sim")
	if err != nil {
		t.Fatalf("sim.New: %v", err)
	}
	collector, err := observability.NewAPICollector(prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("NewAPICollector: %v", err)
	}

	server := NewServer(NewStructureService(s, nil), nil, collector)
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go func() { _ = server.Serve(lis) }()
	t.Cleanup(server.Stop)

	conn, err := grpc.NewClient(lis.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("grpc.NewClient: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	return &harness{sim: s, client: NewClient(conn), collector: collector}
}

func (h *harness) call(t *testing.T, method string, req map[string]any) *structpb.Struct {
	t.Helper()
	out, err := h.client.Call(context.Background(), method, req)
	if err != nil {
		t.Fatalf("%s(%v): %v", method, req, err)
	}
	return out
}

func (h *harness) callCode(method string, req map[string]any) codes.Code {
	_, err := h.client.Call(context.Background(), method, req)
	return status.Code(err)
}

func field(s *structpb.Struct, key string) string {
	return s.GetFields()[key].GetStringValue()
}

func TestAddAndGetTree(t *testing.T) {
	h := newHarness(t)

	field1 := h.call(t, "Add", map[string]any{"parent": ".Sim", "kind": "Folder", "name": "Field"})
	if got := field(field1, "path"); got != ".Sim.Field" {
		t.Fatalf("path = %q, want .Sim.Field", got)
	}
	h.call(t, "Add", map[string]any{"parent": ".Sim", "kind": "Clock", "name": "Clock"})
	counter := h.call(t, "AddFragment", map[string]any{
		"parent":   field(field1, "id"),
		"fragment": `{"kind": "Counter", "name": "C", "props": {"increment": 2}}`,
	})
	if got := field(counter, "path"); got != ".Sim.Field.C" {
		t.Fatalf("fragment path = %q", got)
	}

	tree := h.call(t, "GetTree", nil)
	text := field(tree, "text")
	for _, want := range []string{"Sim (Simulation)", "  Field (Folder)", "    C (Counter) increment=2", "  Clock (Clock)"} {
		if !strings.Contains(text, want) {
			t.Fatalf("tree text missing %q:\n%s", want, text)
		}
	}
	doc := tree.GetFields()["document"].GetStructValue()
	if got := doc.GetFields()["kind"].GetStringValue(); got != "Simulation" {
		t.Fatalf("document kind = %q", got)
	}

	sub := h.call(t, "GetTree", map[string]any{"node": ".Sim.Field"})
	if strings.Contains(field(sub, "text"), "Clock") {
		t.Fatalf("subtree should not include siblings:\n%s", field(sub, "text"))
	}

	if got := testutil.ToFloat64(h.collector.RPCRequests.WithLabelValues("StructureService", "Add", "OK")); got != 2 {
		t.Fatalf("Add requests = %v, want 2", got)
	}
}

func TestGetTreeByNameReportsLinks(t *testing.T) {
	h := newHarness(t)

	clock := h.call(t, "Add", map[string]any{"parent": ".Sim", "kind": "Clock", "name": "Clock"})
	h.call(t, "Add", map[string]any{"parent": ".Sim", "kind": "Folder", "name": "Field"})
	h.call(t, "Add", map[string]any{"parent": "Field", "kind": "Counter", "name": "C"})
	if err := h.sim.Run(context.Background(), 1); err != nil {
		t.Fatalf("Run: %v", err)
	}

	tree := h.call(t, "GetTree", map[string]any{"node": "C"})
	doc := tree.GetFields()["document"].GetStructValue()
	if got := doc.GetFields()["name"].GetStringValue(); got != "C" {
		t.Fatalf("document name = %q", got)
	}
	targets := tree.GetFields()["links"].GetStructValue().GetFields()["clock"].GetListValue().GetValues()
	if len(targets) != 1 || targets[0].GetStringValue() != field(clock, "id") {
		t.Fatalf("clock link = %v, want %s", targets, field(clock, "id"))
	}

	if code := h.callCode("GetTree", map[string]any{"node": "Nowhere"}); code != codes.NotFound {
		t.Fatalf("unknown name code = %v", code)
	}
}

func TestRenameMoveDelete(t *testing.T) {
	h := newHarness(t)

	h.call(t, "Add", map[string]any{"parent": ".Sim", "kind": "Folder", "name": "A"})
	b := h.call(t, "Add", map[string]any{"parent": ".Sim", "kind": "Folder", "name": "B"})
	id := field(b, "id")

	renamed := h.call(t, "Rename", map[string]any{"node": id, "name": "A"})
	if got := field(renamed, "name"); got != "A1" {
		t.Fatalf("renamed to %q, want A1", got)
	}

	moved := h.call(t, "Move", map[string]any{"node": id, "parent": ".Sim.A"})
	if got := field(moved, "path"); got != ".Sim.A.A1" {
		t.Fatalf("moved path = %q", got)
	}
	if got := field(moved, "id"); got != id {
		t.Fatalf("move changed id %q -> %q", id, got)
	}

	first := h.call(t, "Delete", map[string]any{"node": ".Sim.A"})
	if !first.GetFields()["deleted"].GetBoolValue() {
		t.Fatalf("first delete reported nothing removed")
	}
	second := h.call(t, "Delete", map[string]any{"node": ".Sim.A"})
	if second.GetFields()["deleted"].GetBoolValue() {
		t.Fatalf("second delete reported a removal")
	}
	if h.sim.Registry().Get(id) != nil {
		t.Fatalf("moved child still registered after parent delete")
	}
}

func TestStructureServiceErrorCodes(t *testing.T) {
	h := newHarness(t)

	h.call(t, "Add", map[string]any{"parent": ".Sim", "kind": "Folder", "name": "Outer"})
	h.call(t, "Add", map[string]any{"parent": ".Sim.Outer", "kind": "Folder", "name": "Inner"})
	h.call(t, "AddFragment", map[string]any{
		"parent":   ".Sim",
		"fragment": `{"kind": "Folder", "name": "Locked", "readOnly": true}`,
	})

	tests := []struct {
		name   string
		method string
		req    map[string]any
		code   codes.Code
	}{
		{"missing kind", "Add", map[string]any{"parent": ".Sim", "name": "X"}, codes.InvalidArgument},
		{"unknown kind", "Add", map[string]any{"parent": ".Sim", "kind": "Nope", "name": "X"}, codes.InvalidArgument},
		{"props on folder", "Add", map[string]any{"parent": ".Sim", "kind": "Folder", "name": "X", "props": map[string]any{"a": 1}}, codes.InvalidArgument},
		{"unknown parent", "Add", map[string]any{"parent": ".Sim.Missing", "kind": "Folder", "name": "X"}, codes.NotFound},
		{"read-only parent", "Add", map[string]any{"parent": ".Sim.Locked", "kind": "Folder", "name": "X"}, codes.FailedPrecondition},
		{"bad fragment", "AddFragment", map[string]any{"parent": ".Sim", "fragment": "not a model"}, codes.InvalidArgument},
		{"move into descendant", "Move", map[string]any{"node": ".Sim.Outer", "parent": ".Sim.Outer.Inner"}, codes.FailedPrecondition},
		{"rename missing", "Rename", map[string]any{"node": "no-such-id", "name": "Y"}, codes.NotFound},
		{"tree missing", "GetTree", map[string]any{"node": ".Sim.Missing"}, codes.NotFound},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := h.callCode(tc.method, tc.req); got != tc.code {
				t.Fatalf("%s code = %v, want %v", tc.method, got, tc.code)
			}
		})
	}
}
