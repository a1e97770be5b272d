package lds

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestLinkedDataIdentity(t *testing.T) {
	a, err := ParseLinkedData([]byte(`{"@type":"Note","title":"x","n":1}`))
	if err != nil {
		t.Fatal(err)
	}
	b, err := ParseLinkedData([]byte(`{"n":1.0,"title":"x","@type":"Note"}`))
	if err != nil {
		t.Fatal(err)
	}

	ha, err := a.Hash()
	if err != nil {
		t.Fatal(err)
	}
	hb, err := b.Hash()
	if err != nil {
		t.Fatal(err)
	}
	if ha != hb {
		t.Errorf("key order or number form changed the hash: %s vs %s", ha, hb)
	}

	identified, h, err := a.Identify()
	if err != nil {
		t.Fatal(err)
	}
	if h != ha {
		t.Errorf("Identify gave %s, want %s", h, ha)
	}
	if _, ok := a[IDField]; ok {
		t.Error("Identify modified its receiver")
	}
	if id, ok := identified.ID(); !ok || id != h {
		t.Errorf("got id %s, want %s", id, h)
	}

	// The id field does not contribute to the hash.
	again, err := identified.Hash()
	if err != nil {
		t.Fatal(err)
	}
	if again != h {
		t.Errorf("rehashing an identified record gave %s, want %s", again, h)
	}

	hr, err := HashOf(identified)
	if err != nil {
		t.Fatal(err)
	}
	if hr != h {
		t.Errorf("HashOf gave %s, want %s", hr, h)
	}
}

func TestReferences(t *testing.T) {
	r1 := Sum([]byte("one"))
	r2 := Sum([]byte("two"))
	self := Sum([]byte("self"))

	ld := LinkedData{
		IDField:  string(self.URI()),
		"image":  string(r1.URI()),
		"parent": map[string]interface{}{IDField: string(r2.URI())},
		"tags":   []interface{}{"plain", string(r1.URI())},
		"other":  "hash:nonsense",
	}
	got := ld.References()

	want := []Hash{r1, r2}
	if want[1].Less(want[0]) {
		want[0], want[1] = want[1], want[0]
	}
	if diff := cmp.Diff(want, got, cmp.Comparer(func(a, b Hash) bool { return a == b })); diff != "" {
		t.Errorf("references mismatch (-want +got):\n%s", diff)
	}

	if got := ld.String("parent"); got != string(r2.URI()) {
		t.Errorf("got parent %s, want %s", got, r2.URI())
	}
}

func TestLinkedDataFields(t *testing.T) {
	ld := LinkedData{
		TypeField: []interface{}{1.0, "Task"},
		"due":     "2024-03-01",
		"at":      "2024-03-01T10:00:00Z",
		"bad":     "tomorrow",
	}
	if got := ld.Type(); got != "Task" {
		t.Errorf("got type %q, want Task", got)
	}
	if _, ok := ld.Time("due"); !ok {
		t.Error("date-only field did not parse")
	}
	if tm, ok := ld.Time("at"); !ok || tm.Hour() != 10 {
		t.Errorf("got %s, %v", tm, ok)
	}
	if _, ok := ld.Time("bad"); ok {
		t.Error("unparseable time parsed")
	}
}

func TestResourceHash(t *testing.T) {
	r := &Resource{Data: []byte("hello"), MediaType: "text/plain"}
	h, err := HashOf(r)
	if err != nil {
		t.Fatal(err)
	}
	if h != r.Hash() || h != Sum([]byte("hello")) {
		t.Errorf("resource hash %s depends on more than its bytes", h)
	}
}
