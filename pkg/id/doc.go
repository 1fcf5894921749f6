// Package id provides a 128-bit, lexicographically sortable identifier.
//
// The ID is 16 bytes big-endian: [8 bytes ms_timestamp][8 bytes sequence], so
// byte-wise comparison preserves chronological order. The Generator is
// monotonic per process: clock regressions pin to the last seen millisecond,
// and sequence overflow within a millisecond waits for the next one.
//
// The broker uses NextString for server-assigned task ids; workers typically
// bring their own ids.
package id
