package format

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/signalsfoundry/modeltree/kinds"
	"github.com/signalsfoundry/modeltree/model"
)

func childNames(n *model.Node) []string {
	var out []string
	for _, c := range n.Children() {
		out = append(out, c.Name)
	}
	return out
}

func TestTryParseNativeJSON(t *testing.T) {
	n, ok, err := TryParseNative(`{
		"kind": "Folder",
		"name": "Field",
		"readOnly": true,
		"children": [
			{"kind": "Clock", "props": {"start": "2010-03-01", "step": "12h"}},
			{"kind": "Counter", "name": "Steps", "props": {"increment": 2}}
		]
	}`)
	if err != nil || !ok {
		t.Fatalf("TryParseNative = ok %v, err %v", ok, err)
	}
	if n.Kind != kinds.KindFolder || n.Name != "Field" || !n.ReadOnly {
		t.Fatalf("root = %s %s readOnly=%v", n.Kind, n.Name, n.ReadOnly)
	}
	if diff := cmp.Diff([]string{"Clock", "Steps"}, childNames(n)); diff != "" {
		t.Fatalf("children (-want +got):\n%s", diff)
	}
	clock := n.FindChild("Clock").Component.(*kinds.Clock)
	if clock.Step.Hours() != 12 || clock.Start.Year() != 2010 {
		t.Fatalf("clock props not applied: %+v", clock.Props())
	}
	if inc := n.FindChild("Steps").Component.(*kinds.Counter).Increment; inc != 2 {
		t.Fatalf("counter increment = %d, want 2", inc)
	}
	for _, c := range n.Children() {
		if c.Parent() != n {
			t.Fatalf("%s has parent %v", c.Name, c.Parent())
		}
	}
}

func TestTryParseNativeYAML(t *testing.T) {
	n, ok, err := TryParseNative("kind: Simulations\nchildren:\n  - kind: Folder\n    name: Paddock\n")
	if err != nil || !ok {
		t.Fatalf("TryParseNative = ok %v, err %v", ok, err)
	}
	if n.Kind != kinds.KindSimulations || n.Name != "Simulations" {
		t.Fatalf("root = %s %s", n.Kind, n.Name)
	}
	if diff := cmp.Diff([]string{"Paddock"}, childNames(n)); diff != "" {
		t.Fatalf("children (-want +got):\n%s", diff)
	}
}

func TestTryParseNativeDeclinesOtherInput(t *testing.T) {
	for _, s := range []string{`<Folder name="x"/>`, "just words", "[1, 2]", `{"kind": `} {
		n, ok, err := TryParseNative(s)
		if ok || err != nil || n != nil {
			t.Fatalf("TryParseNative(%q) = %v, %v, %v; want a decline", s, n, ok, err)
		}
	}
}

func TestTryParseNativeRejectsUnknownKind(t *testing.T) {
	for _, s := range []string{`{"kind": "Tractor"}`, `{"name": "NoKind"}`, "kind: Tractor\n"} {
		_, ok, err := TryParseNative(s)
		if !ok || !errors.Is(err, ErrInvalidFormat) {
			t.Fatalf("TryParseNative(%q) = ok %v, err %v; want ErrInvalidFormat", s, ok, err)
		}
	}
}

func TestImportLegacy(t *testing.T) {
	n, err := ImportLegacy(`
		<memo>ignored</memo>
		<folder name="Farm">
			<Counter>
				<Name>Days</Name>
				<increment>3</increment>
			</Counter>
			<notes><line>complex, dropped</line></notes>
			<summaryfile />
		</folder>
		<clock />`)
	if err != nil {
		t.Fatalf("ImportLegacy: %v", err)
	}
	if n.Kind != kinds.KindFolder || n.Name != "Farm" {
		t.Fatalf("first model = %s %s, want Folder Farm", n.Kind, n.Name)
	}
	if diff := cmp.Diff([]string{"Days", "Summary"}, childNames(n)); diff != "" {
		t.Fatalf("children (-want +got):\n%s", diff)
	}
	if inc := n.FindChild("Days").Component.(*kinds.Counter).Increment; inc != 3 {
		t.Fatalf("increment = %d, want 3", inc)
	}
}

func TestImportLegacyInvalid(t *testing.T) {
	for _, s := range []string{"<Folder>", "<memo>no models</memo>", ""} {
		if _, err := ImportLegacy(s); !errors.Is(err, ErrInvalidFormat) {
			t.Fatalf("ImportLegacy(%q) error = %v, want ErrInvalidFormat", s, err)
		}
	}
}

func TestImportLegacyUnknownModel(t *testing.T) {
	for _, s := range []string{
		`<folder name="Paddock"><Wheat><Name>W</Name><Cultivar>x</Cultivar></Wheat><clock name="C"/></folder>`,
		`<folder name="Paddock"><Wheat name="W"/></folder>`,
		`<Wheat><Name>W</Name></Wheat><folder name="Paddock"/>`,
	} {
		_, err := ImportLegacy(s)
		if !errors.Is(err, ErrInvalidFormat) || !errors.Is(err, model.ErrUnknownKind) {
			t.Fatalf("ImportLegacy(%q) error = %v, want an unknown kind", s, err)
		}
		if !strings.Contains(err.Error(), "Wheat") {
			t.Fatalf("error %q does not name the model", err)
		}
	}
}

func TestParseFallsBackToLegacy(t *testing.T) {
	n, err := Parse(`<Clock name="Met"><start>2020-02-02</start></Clock>`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if n.Name != "Met" || n.Component.(*kinds.Clock).Start.Day() != 2 {
		t.Fatalf("parsed %s with props %v", n.Name, n.Component.(*kinds.Clock).Props())
	}
}

func TestEncodeParsesBack(t *testing.T) {
	root, err := Parse(`{"kind":"Folder","name":"Root","children":[{"kind":"Counter","name":"C","props":{"increment":5}}]}`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	b, err := Encode(root)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	again, err := Parse(string(b))
	if err != nil {
		t.Fatalf("Parse(Encode): %v\n%s", err, b)
	}
	if diff := cmp.Diff(Describe(root), Describe(again)); diff != "" {
		t.Fatalf("tree changed through Encode (-before +after):\n%s", diff)
	}

	y, err := EncodeYAML(root)
	if err != nil {
		t.Fatalf("EncodeYAML: %v", err)
	}
	if !strings.Contains(string(y), "kind: Counter") {
		t.Fatalf("EncodeYAML output:\n%s", y)
	}
}

func TestDescribe(t *testing.T) {
	root, err := Parse(`{"kind":"Folder","name":"Root","readOnly":true,"children":[{"kind":"Counter","name":"C"}]}`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	want := "Root (Folder) [read-only]\n  C (Counter) increment=1\n"
	if got := Describe(root); got != want {
		t.Fatalf("Describe =\n%s\nwant\n%s", got, want)
	}
}
