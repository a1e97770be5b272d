package mem

import (
	"context"
	"testing"

	"github.com/pkg/errors"

	"github.com/bobg/lds"
	"github.com/bobg/lds/testutil"
)

func TestDrive(t *testing.T) {
	testutil.Drive(context.Background(), t, New())
}

func TestFail(t *testing.T) {
	ctx := context.Background()
	d := New()
	boom := errors.New("boom")
	d.Fail = func(op string) error {
		if op == "UploadLinkedData" {
			return boom
		}
		return nil
	}
	if _, err := d.UploadLinkedData(ctx, []lds.LinkedData{{"a": "b"}}, d.now()); !errors.Is(err, boom) {
		t.Errorf("got %v, want boom", err)
	}
	if d.Len() != 0 {
		t.Errorf("failed upload left %d files", d.Len())
	}
	if n := d.Calls("UploadLinkedData"); n != 1 {
		t.Errorf("got %d calls, want 1", n)
	}
}
