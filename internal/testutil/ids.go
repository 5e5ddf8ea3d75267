package testutil

import (
	"fmt"
	"sync/atomic"
)

// SequentialIDs returns a generator producing "<prefix>-1", "<prefix>-2", ...
//
// An empty prefix uses "row". Safe for concurrent use.
func SequentialIDs(prefix string) func() string {
	if prefix == "" {
		prefix = "row"
	}
	var n atomic.Int64
	return func() string {
		return fmt.Sprintf("%s-%d", prefix, n.Add(1))
	}
}
