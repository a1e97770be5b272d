package index

import (
	"github.com/bobg/lds"
	"github.com/bobg/lds/store"
)

// Annotations maps each annotated target to its annotations.
// The target is whatever the annotation's "target" names:
// a hash uri for a stored document,
// or a plain url.
// A target given as an object contributes its "source" (or "@id").
type Annotations struct{}

var _ Index = Annotations{}

const (
	AnnotationsName = "annotations"

	// AnnotationType is the @type of an annotation record.
	AnnotationType = "Annotation"
)

// AnnotationProps is the value of an Annotations entry.
type AnnotationProps struct {
	Hash    lds.Hash `json:"hash"`
	Target  string   `json:"target"`
	Created string   `json:"created,omitempty"`
}

func (Annotations) Name() string { return AnnotationsName }

func (Annotations) Update(rec lds.Record, h lds.Hash) ([]Op, error) {
	ld, ok := rec.(lds.LinkedData)
	if !ok || ld.Type() != AnnotationType {
		return nil, nil
	}

	var ops []Op
	for _, target := range annotationTargets(ld) {
		val, err := marshal(AnnotationProps{Hash: h, Target: target, Created: ld.String("created")})
		if err != nil {
			return nil, err
		}
		ops = append(ops, Op{Key: key(target, string(h.Name())), Value: val})
	}
	return ops, nil
}

func annotationTargets(ld lds.LinkedData) []string {
	var out []string
	add := func(v interface{}) {
		switch v := v.(type) {
		case string:
			if v = clean(v); v != "" {
				out = append(out, v)
			}
		case map[string]interface{}:
			obj := lds.LinkedData(v)
			if s := clean(obj.String("source")); s != "" {
				out = append(out, s)
			} else if s := clean(obj.String(lds.IDField)); s != "" {
				out = append(out, s)
			}
		}
	}

	switch v := ld["target"].(type) {
	case []interface{}:
		for _, item := range v {
			add(item)
		}
	default:
		add(v)
	}
	return out
}

// AnnotationsPrefix is the key prefix selecting the annotations on target.
func AnnotationsPrefix(target string) []byte {
	return prefix(target)
}

// QueryAnnotations lists the annotations on target.
func QueryAnnotations(tx store.Tx, target string) ([]AnnotationProps, error) {
	return decodeAll[AnnotationProps](tx, AnnotationsName, AnnotationsPrefix(target))
}
