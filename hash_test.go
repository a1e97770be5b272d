package lds

import (
	"fmt"
	"testing"
	"testing/quick"

	"github.com/pkg/errors"
)

func TestHashForms(t *testing.T) {
	h := Sum([]byte("hello"))

	const hexdigest = "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"
	if got, want := string(h.Name()), "sha256_"+hexdigest; got != want {
		t.Errorf("got name %s, want %s", got, want)
	}
	if got, want := string(h.URI()), "hash:sha256;"+hexdigest; got != want {
		t.Errorf("got uri %s, want %s", got, want)
	}

	fromName, err := h.Name().Hash()
	if err != nil {
		t.Fatal(err)
	}
	fromURI, err := h.URI().Hash()
	if err != nil {
		t.Fatal(err)
	}
	if fromName != h || fromURI != h {
		t.Errorf("parsed %s and %s, want %s", fromName, fromURI, h)
	}
}

func TestHashRoundTrip(t *testing.T) {
	f := func(b []byte) bool {
		for _, alg := range []Algorithm{SHA256, SHA512} {
			h, err := SumWith(alg, b)
			if err != nil {
				return false
			}
			n, err := ParseName(string(h.Name()))
			if err != nil || n != h {
				return false
			}
			u, err := ParseURI(string(h.URI()))
			if err != nil || u != h {
				return false
			}
		}
		return true
	}
	if err := quick.Check(f, nil); err != nil {
		t.Error(err)
	}
}

func TestParseErrors(t *testing.T) {
	good := Sum(nil)
	hexdigest := string(good.Name())[len("sha256_"):]

	cases := []struct {
		s       string
		uri     bool
		wantErr error
	}{
		{s: "sha256" + hexdigest, wantErr: ErrMalformedHash},
		{s: "md5_" + hexdigest, wantErr: ErrUnsupportedAlgorithm},
		{s: "sha256_" + hexdigest[2:], wantErr: ErrMalformedHash},
		{s: "sha256_zz" + hexdigest[2:], wantErr: ErrMalformedHash},
		{s: "sha256_E3" + hexdigest[2:], wantErr: ErrMalformedHash},
		{s: "sha512_" + hexdigest, wantErr: ErrMalformedHash},
		{s: "sha256;" + hexdigest, uri: true, wantErr: ErrMalformedHash},
		{s: "hash:sha256_" + hexdigest, uri: true, wantErr: ErrMalformedHash},
		{s: "hash:sha1;" + hexdigest, uri: true, wantErr: ErrUnsupportedAlgorithm},
	}

	for i, tc := range cases {
		t.Run(fmt.Sprintf("case_%02d", i+1), func(t *testing.T) {
			var err error
			if tc.uri {
				_, err = ParseURI(tc.s)
			} else {
				_, err = ParseName(tc.s)
			}
			if !errors.Is(err, tc.wantErr) {
				t.Errorf("got %v, want %v", err, tc.wantErr)
			}
		})
	}
}

func TestHashText(t *testing.T) {
	h := Sum([]byte("x"))
	text, err := h.MarshalText()
	if err != nil {
		t.Fatal(err)
	}
	if string(text) != string(h.URI()) {
		t.Errorf("got %s, want the uri form", text)
	}

	var got Hash
	if err = got.UnmarshalText([]byte(h.Name())); err != nil {
		t.Fatal(err)
	}
	if got != h {
		t.Errorf("got %s, want %s", got, h)
	}

	if err = got.UnmarshalText(nil); err != nil {
		t.Fatal(err)
	}
	if !got.IsZero() {
		t.Error("empty text did not produce the zero hash")
	}
}
