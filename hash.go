package lds

import (
	"bytes"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"strings"

	"github.com/pkg/errors"
)

// Algorithm names a hash function usable for content addressing.
type Algorithm string

const (
	SHA256 Algorithm = "sha256"
	SHA512 Algorithm = "sha512"

	// DefaultAlgorithm is what Sum uses.
	DefaultAlgorithm = SHA256
)

// URIScheme is the scheme of a hash's uri form.
const URIScheme = "hash"

var digestSize = map[Algorithm]int{
	SHA256: sha256.Size,
	SHA512: sha512.Size,
}

var (
	ErrUnsupportedAlgorithm = errors.New("unsupported hash algorithm")
	ErrMalformedHash        = errors.New("malformed hash")
)

type (
	// Hash is the content address of a blob:
	// an algorithm plus the digest it produced.
	// The zero Hash is not the hash of anything.
	//
	// Hashes are comparable and can be used as map keys.
	// The only way to get a non-zero Hash is to compute one
	// (Sum, SumWith)
	// or to parse one
	// (ParseName, ParseURI).
	Hash struct {
		alg    Algorithm
		digest string
	}

	// Name is the "name" form of a hash,
	// algorithm_hexdigest,
	// used as a key in local stores.
	Name string

	// URI is the "uri" form of a hash,
	// hash:algorithm;hexdigest,
	// used to refer to one record from inside another.
	URI string
)

// Sum computes the Hash of b using DefaultAlgorithm.
func Sum(b []byte) Hash {
	d := sha256.Sum256(b)
	return Hash{alg: SHA256, digest: string(d[:])}
}

// SumWith computes the Hash of b using the given algorithm.
func SumWith(alg Algorithm, b []byte) (Hash, error) {
	switch alg {
	case SHA256:
		return Sum(b), nil
	case SHA512:
		d := sha512.Sum512(b)
		return Hash{alg: SHA512, digest: string(d[:])}, nil
	}
	return Hash{}, errors.Wrapf(ErrUnsupportedAlgorithm, "%q", alg)
}

// IsZero tells whether h is the zero Hash.
func (h Hash) IsZero() bool {
	return h.alg == ""
}

// Algorithm returns the hash function that produced h.
func (h Hash) Algorithm() Algorithm {
	return h.alg
}

// Digest returns a copy of h's digest bytes.
func (h Hash) Digest() []byte {
	return []byte(h.digest)
}

// Name produces the name form of h.
func (h Hash) Name() Name {
	if h.IsZero() {
		return ""
	}
	return Name(string(h.alg) + "_" + hex.EncodeToString([]byte(h.digest)))
}

// URI produces the uri form of h.
func (h Hash) URI() URI {
	if h.IsZero() {
		return ""
	}
	return URI(URIScheme + ":" + string(h.alg) + ";" + hex.EncodeToString([]byte(h.digest)))
}

func (h Hash) String() string {
	return string(h.Name())
}

// Less orders hashes the same way their name forms sort.
func (h Hash) Less(other Hash) bool {
	if h.alg != other.alg {
		return h.alg < other.alg
	}
	return bytes.Compare([]byte(h.digest), []byte(other.digest)) < 0
}

// ParseName is the inverse of Hash.Name.
func ParseName(s string) (Hash, error) {
	i := strings.IndexByte(s, '_')
	if i < 0 {
		return Hash{}, errors.Wrapf(ErrMalformedHash, "name %q has no separator", s)
	}
	return parse(Algorithm(s[:i]), s[i+1:])
}

// ParseURI is the inverse of Hash.URI.
func ParseURI(s string) (Hash, error) {
	rest := strings.TrimPrefix(s, URIScheme+":")
	if len(rest) == len(s) {
		return Hash{}, errors.Wrapf(ErrMalformedHash, "uri %q does not begin with %s:", s, URIScheme)
	}
	i := strings.IndexByte(rest, ';')
	if i < 0 {
		return Hash{}, errors.Wrapf(ErrMalformedHash, "uri %q has no separator", s)
	}
	return parse(Algorithm(rest[:i]), rest[i+1:])
}

func parse(alg Algorithm, hexdigest string) (Hash, error) {
	size, ok := digestSize[alg]
	if !ok {
		return Hash{}, errors.Wrapf(ErrUnsupportedAlgorithm, "%q", alg)
	}
	if len(hexdigest) != 2*size {
		return Hash{}, errors.Wrapf(ErrMalformedHash, "digest length %d, want %d", len(hexdigest), 2*size)
	}
	if strings.ToLower(hexdigest) != hexdigest {
		// Uppercase hex would parse but not round-trip.
		return Hash{}, errors.Wrap(ErrMalformedHash, "digest is not lowercase hex")
	}
	d, err := hex.DecodeString(hexdigest)
	if err != nil {
		return Hash{}, errors.Wrap(ErrMalformedHash, err.Error())
	}
	return Hash{alg: alg, digest: string(d)}, nil
}

// MarshalText implements encoding.TextMarshaler using the uri form.
func (h Hash) MarshalText() ([]byte, error) {
	return []byte(h.URI()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
// It accepts either form.
func (h *Hash) UnmarshalText(text []byte) error {
	s := string(text)
	if s == "" {
		*h = Hash{}
		return nil
	}
	var (
		parsed Hash
		err    error
	)
	if strings.HasPrefix(s, URIScheme+":") {
		parsed, err = ParseURI(s)
	} else {
		parsed, err = ParseName(s)
	}
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

// Hash parses n.
func (n Name) Hash() (Hash, error) {
	return ParseName(string(n))
}

// Hash parses u.
func (u URI) Hash() (Hash, error) {
	return ParseURI(string(u))
}
