package gcs

import (
	"fmt"
	"math/big"
	"time"
)

// Object names carry creation times as nanoseconds since the zero time.Time,
// zero-padded so that lexical order is time order.
// That span overflows an int64, hence big.Int.

var nanosPerSecond, zeroTimeNanos *big.Int

func timeToNanos(t time.Time) *big.Int {
	n := big.NewInt(t.Unix())
	n.Mul(n, nanosPerSecond)
	return n.Add(n, big.NewInt(int64(t.Nanosecond())))
}

func nanosToTime(n *big.Int) time.Time {
	var secs, nanos big.Int
	secs.DivMod(n, nanosPerSecond, &nanos)
	return time.Unix(secs.Int64(), nanos.Int64())
}

func timeToOffsetNanos(t time.Time) *big.Int {
	n := timeToNanos(t)
	return n.Sub(n, zeroTimeNanos)
}

func offsetNanosToTime(n *big.Int) time.Time {
	var abs big.Int
	abs.Add(n, zeroTimeNanos)
	return nanosToTime(&abs)
}

func nanosToStr(n *big.Int) string {
	return fmt.Sprintf("%030s", n)
}

func strToNanos(s string) (*big.Int, bool) {
	var n big.Int
	_, ok := n.SetString(s, 10)
	return &n, ok
}

// timeKey renders t for use in an object name.
func timeKey(t time.Time) string {
	return nanosToStr(timeToOffsetNanos(t))
}

// timeKeyAfter is the smallest key greater than timeKey(t).
func timeKeyAfter(t time.Time) string {
	n := timeToOffsetNanos(t)
	return nanosToStr(n.Add(n, big.NewInt(1)))
}

func init() {
	nanosPerSecond = big.NewInt(int64(time.Second))
	zeroTimeNanos = timeToNanos(time.Time{}) // Must call after nanosPerSecond is initialized
}
