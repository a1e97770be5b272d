package index

import (
	"fmt"
	"math"
	"time"

	"github.com/bobg/lds"
	"github.com/bobg/lds/store"
)

// WatchHistory records what was watched (or read, or listened to) and when.
//
// Each WatchAction record gets two entries,
// o NUL object NUL rtime NUL hashname
// and
// h NUL rtime NUL hashname,
// where rtime sorts newest first.
type WatchHistory struct{}

var _ Index = WatchHistory{}

const (
	WatchHistoryName = "watchhistory"
	WatchActionType  = "WatchAction"
)

// WatchProps is the value of a WatchHistory entry.
type WatchProps struct {
	Hash     lds.Hash  `json:"hash"`
	Object   string    `json:"object"`
	Time     time.Time `json:"time"`
	Duration string    `json:"duration,omitempty"`
}

func (WatchHistory) Name() string { return WatchHistoryName }

func (WatchHistory) Update(rec lds.Record, h lds.Hash) ([]Op, error) {
	ld, ok := rec.(lds.LinkedData)
	if !ok || ld.Type() != WatchActionType {
		return nil, nil
	}
	obj := clean(ld.String("object"))
	if obj == "" {
		return nil, nil
	}
	t, ok := ld.Time("startTime")
	if !ok {
		if t, ok = ld.Time("endTime"); !ok {
			return nil, nil
		}
	}
	t = t.UTC()

	val, err := marshal(WatchProps{Hash: h, Object: obj, Time: t, Duration: ld.String("duration")})
	if err != nil {
		return nil, err
	}
	rt := reverseTimeKey(t)
	return []Op{
		{Key: key("o", obj, rt, string(h.Name())), Value: val},
		{Key: key("h", rt, string(h.Name())), Value: val},
	}, nil
}

// reverseTimeKey renders t so that byte order is reverse time order.
func reverseTimeKey(t time.Time) string {
	n := t.UnixNano()
	if n < 0 {
		n = 0
	}
	return fmt.Sprintf("%020d", math.MaxInt64-n)
}

// WatchHistoryPrefix is the key prefix selecting the history of one object.
func WatchHistoryPrefix(object string) []byte {
	return prefix("o", object)
}

// QueryWatchHistory lists the times object was watched, newest first.
func QueryWatchHistory(tx store.Tx, object string) ([]WatchProps, error) {
	return decodeAll[WatchProps](tx, WatchHistoryName, WatchHistoryPrefix(object))
}

// LatestWatched lists the n most recent watch actions on any object,
// newest first.
// A non-positive n means all of them.
func LatestWatched(tx store.Tx, n int) ([]WatchProps, error) {
	var out []WatchProps
	err := Scan(tx, WatchHistoryName, prefix("h"), func(_, val []byte) error {
		var p WatchProps
		if err := (Change{Index: WatchHistoryName, Value: val}).Decode(&p); err != nil {
			return err
		}
		out = append(out, p)
		if n > 0 && len(out) >= n {
			return store.ErrStop
		}
		return nil
	})
	return out, err
}
