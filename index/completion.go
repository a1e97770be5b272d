package index

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/pkg/errors"

	"github.com/bobg/lds"
	"github.com/bobg/lds/store"
)

// Completion tracks tasks and their completion state.
//
// A task may be revised by writing new records with the same "identifier".
// The task entry (key t NUL identifier) holds the newest revision,
// chosen by timestamp and then by hash,
// so the winner does not depend on arrival order.
// Every revision also gets a window entry
// (key w NUL timestamp NUL identifier NUL hashname)
// used to find tasks by time;
// queries discard window entries whose revision is no longer the newest.
type Completion struct{}

var _ Index = Completion{}

const (
	CompletionName = "completion"

	TaskType   = "Task"
	ActionType = "Action"

	// CompletedStatus is the actionStatus of a finished task.
	CompletedStatus = "CompletedActionStatus"
)

// CompletionProps is the value of a Completion entry.
type CompletionProps struct {
	Hash       lds.Hash  `json:"hash"`
	Identifier string    `json:"identifier"`
	Completed  bool      `json:"completed"`
	Timestamp  time.Time `json:"timestamp"`
}

func (Completion) Name() string { return CompletionName }

func (Completion) Update(rec lds.Record, h lds.Hash) ([]Op, error) {
	ld, ok := rec.(lds.LinkedData)
	if !ok || !isTask(ld) {
		return nil, nil
	}

	props := CompletionProps{
		Hash:       h,
		Identifier: clean(ld.String("identifier")),
		Completed:  isCompleted(ld),
	}
	if props.Identifier == "" {
		props.Identifier = string(h.URI())
	}

	fields := []string{"dateModified", "startTime", "dateCreated"}
	if props.Completed {
		fields = append([]string{"endTime"}, fields...)
	}
	for _, f := range fields {
		if t, ok := ld.Time(f); ok {
			props.Timestamp = t.UTC()
			break
		}
	}

	val, err := marshal(props)
	if err != nil {
		return nil, err
	}

	ops := []Op{{
		Key:     key("t", props.Identifier),
		Value:   val,
		Replace: newerTask,
	}}
	if !props.Timestamp.IsZero() {
		ops = append(ops, Op{
			Key:   key("w", timeKey(props.Timestamp), props.Identifier, string(h.Name())),
			Value: val,
		})
	}
	return ops, nil
}

func isTask(ld lds.LinkedData) bool {
	switch ld.Type() {
	case TaskType, ActionType:
		return true
	case WatchActionType:
		return false
	}
	_, ok := ld["actionStatus"]
	return ok
}

func isCompleted(ld lds.LinkedData) bool {
	if ld.String("actionStatus") == CompletedStatus {
		return true
	}
	b, _ := ld["completed"].(bool)
	return b
}

// newerTask reports whether newVal is a newer revision than oldVal.
func newerTask(oldVal, newVal []byte) bool {
	var oldProps, newProps CompletionProps
	if err := json.Unmarshal(oldVal, &oldProps); err != nil {
		return true
	}
	if err := json.Unmarshal(newVal, &newProps); err != nil {
		return false
	}
	return oldProps.less(newProps)
}

func (p CompletionProps) less(other CompletionProps) bool {
	if !p.Timestamp.Equal(other.Timestamp) {
		return p.Timestamp.Before(other.Timestamp)
	}
	return p.Hash.Less(other.Hash)
}

// timeKey renders t so that byte order is time order.
// Times before the Unix epoch sort together at the beginning.
func timeKey(t time.Time) string {
	n := t.UnixNano()
	if n < 0 {
		n = 0
	}
	return fmt.Sprintf("%020d", n)
}

// Window selects tasks by timestamp.
// A zero From or To leaves that end of the window open.
// A non-nil Completed selects only tasks in that state.
type Window struct {
	From, To  time.Time
	Completed *bool
}

// Task gets the newest revision of the task with the given identifier,
// or lds.ErrNotFound.
func Task(tx store.Tx, identifier string) (CompletionProps, error) {
	var props CompletionProps
	val, err := tx.Get(CompletionName, key("t", identifier))
	if err != nil {
		return props, err
	}
	err = json.Unmarshal(val, &props)
	return props, errors.Wrapf(err, "decoding task %s", identifier)
}

// QueryCompletion lists the newest revision of each task
// whose timestamp falls in w (inclusive at both ends),
// in timestamp order.
func QueryCompletion(tx store.Tx, w Window) ([]CompletionProps, error) {
	var (
		out     []CompletionProps
		wprefix = prefix("w")
		start   = []byte("w")
	)
	if !w.From.IsZero() && w.From.UnixNano() > 0 {
		// Every time at or before the epoch shares the first time key.
		start = []byte(string(wprefix) + timeKey(w.From.Add(-time.Nanosecond)) + "\xff")
	}
	var toKey []byte
	if !w.To.IsZero() {
		toKey = []byte(string(wprefix) + timeKey(w.To) + "\x00")
	}

	err := tx.Each(CompletionName, start, func(k, val []byte) error {
		if !bytes.HasPrefix(k, wprefix) {
			return store.ErrStop
		}
		if toKey != nil && bytes.Compare(k[:len(toKey)], toKey) > 0 {
			return store.ErrStop
		}

		var props CompletionProps
		if err := json.Unmarshal(val, &props); err != nil {
			return errors.Wrapf(err, "decoding %s entry", CompletionName)
		}
		if w.Completed != nil && props.Completed != *w.Completed {
			return nil
		}

		current, err := Task(tx, props.Identifier)
		if err != nil {
			return errors.Wrapf(err, "getting task %s", props.Identifier)
		}
		if current.Hash != props.Hash {
			// Superseded revision.
			return nil
		}
		out = append(out, props)
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].less(out[j]) })
	return out, nil
}

// CompletionPrefix is the key prefix of the per-task entries,
// suitable for subscribing to every task's newest revision.
func CompletionPrefix() []byte {
	return prefix("t")
}
