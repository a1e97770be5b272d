package remote

import (
	"bytes"
	"fmt"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/pkg/errors"

	"github.com/bobg/lds"
)

func zipOf(t *testing.T, entries map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range entries {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err = w.Write([]byte(content)); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestExtract(t *testing.T) {
	cases := []struct {
		payload  func(*testing.T) Payload
		want     int
		wantErr  bool
		badEntry string
	}{{
		payload: func(t *testing.T) Payload {
			return Payload{
				Data: zipOf(t, map[string]string{
					"x" + RecordSuffix: `{"@type": "Article", "name": "x"}`,
					"notes.txt":        "not a record",
				}),
				MediaType: MediaTypeZip,
			}
		},
		want: 1,
	}, {
		payload: func(t *testing.T) Payload {
			return Payload{
				Data: zipOf(t, map[string]string{
					"good" + RecordSuffix: `{"@type": "Article"}`,
					"bad" + RecordSuffix:  `{"@type": `,
				}),
			}
		},
		want:     1,
		wantErr:  true,
		badEntry: "bad" + RecordSuffix,
	}, {
		payload: func(*testing.T) Payload {
			return Payload{Data: []byte(`{"@type": "Book"}`), MediaType: MediaTypeLinkedData}
		},
		want: 1,
	}, {
		payload: func(*testing.T) Payload {
			return Payload{Data: []byte(` [{"a": 1}, 17, {"b": 2}] `), MediaType: MediaTypeJSON}
		},
		want:     2,
		wantErr:  true,
		badEntry: "[1]",
	}, {
		payload: func(*testing.T) Payload {
			return Payload{Data: []byte(`not json`)}
		},
		wantErr: true,
	}, {
		payload: func(*testing.T) Payload {
			return Payload{Data: []byte("PK\x03\x04garbage"), MediaType: MediaTypeZip}
		},
		wantErr: true,
	}}

	for i, tc := range cases {
		t.Run(fmt.Sprintf("case_%02d", i+1), func(t *testing.T) {
			recs, err := Extract(tc.payload(t))
			if len(recs) != tc.want {
				t.Errorf("got %d records, want %d", len(recs), tc.want)
			}
			if tc.wantErr != (err != nil) {
				t.Fatalf("got error %v, want error: %v", err, tc.wantErr)
			}
			if tc.badEntry != "" {
				var m lds.MultiErr
				if !errors.As(err, &m) {
					t.Fatalf("got %T, want MultiErr", err)
				}
				if _, ok := m[tc.badEntry]; !ok || len(m) != 1 {
					t.Errorf("got %v, want only %s", m, tc.badEntry)
				}
			}
		})
	}
}

func TestEncodeBundle(t *testing.T) {
	created := time.Date(2021, 8, 7, 0, 0, 0, 0, time.UTC)

	if _, err := EncodeBundle(nil, created); err == nil {
		t.Error("got no error for empty bundle")
	}

	single := lds.LinkedData{"@type": "Article", "name": "solo"}
	p, err := EncodeBundle([]lds.LinkedData{single}, created)
	if err != nil {
		t.Fatal(err)
	}
	if p.MediaType != MediaTypeLinkedData {
		t.Errorf("single record sent as %s", p.MediaType)
	}
	recs, err := Extract(p)
	if err != nil {
		t.Fatal(err)
	}
	h, _ := single.Hash()
	if id, ok := recs[0].ID(); !ok || id != h {
		t.Errorf("got @id %v, want %s", recs[0][lds.IDField], h.URI())
	}

	many := []lds.LinkedData{
		{"@type": "Article", "name": "a"},
		{"@type": "Article", "name": "b"},
		{"@type": "Article", "name": "a"}, // duplicate
	}
	p, err = EncodeBundle(many, created)
	if err != nil {
		t.Fatal(err)
	}
	if p.MediaType != MediaTypeZip {
		t.Errorf("bundle sent as %s", p.MediaType)
	}
	recs, err = Extract(p)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 2 {
		t.Errorf("got %d records, want 2", len(recs))
	}
	for _, ld := range recs {
		id, ok := ld.ID()
		if !ok {
			t.Errorf("record %v has no @id", ld)
			continue
		}
		if h, _ := ld.Hash(); h != id {
			t.Errorf("record @id %s, hash %s", id, h)
		}
	}
}
