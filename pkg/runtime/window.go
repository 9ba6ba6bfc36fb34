package runtime

import (
	"fmt"
	"math"

	"github.com/jsonjet/jsonjet/pkg/document"
	"github.com/jsonjet/jsonjet/pkg/lang"
)

// Window decides when grouped aggregations close. Before runs with the
// record prior to accumulation and may declare the record late (dropped) or
// close the open window first; After runs once the record is accumulated.
type Window interface {
	Before(sc *lang.Scope) (drop bool, closeFirst bool, err error)
	After() (close bool)
}

// countWindow closes after every n accumulated records. Backs both
// tumbling_window(n) and count_window(n).
type countWindow struct {
	n    int
	seen int
}

func (w *countWindow) Before(*lang.Scope) (bool, bool, error) { return false, false, nil }

func (w *countWindow) After() bool {
	w.seen++
	if w.seen >= w.n {
		w.seen = 0
		return true
	}
	return false
}

// Sliding windows have no policy type: they emit the affected group on
// every record, which the summarize operator handles directly from its row
// buffers.

// hoppingWindow emits every `hop` records over the last `size` records.
type hoppingWindow struct {
	size int
	hop  int
	seen int
}

func (w *hoppingWindow) Before(*lang.Scope) (bool, bool, error) { return false, false, nil }

func (w *hoppingWindow) After() bool {
	w.seen++
	if w.seen >= w.hop {
		w.seen = 0
		return true
	}
	return false
}

// valueWindow is keyed on a record field: tumbling_window_by and
// hopping_window_by bucket the key, session_window closes on gaps. The
// watermark advances monotonically with the maximum observed key; records
// below it are late and dropped.
type valueWindow struct {
	key       lang.Compiled
	size      float64
	hop       float64 // equals size for tumbling, gap threshold for session
	session   bool
	bucket    float64
	lastKey   float64
	watermark float64
	started   bool
}

func (w *valueWindow) Before(sc *lang.Scope) (bool, bool, error) {
	v, err := w.key(sc)
	if err != nil {
		return false, false, err
	}
	k, ok := document.AsNumber(v)
	if !ok {
		return false, false, fmt.Errorf("window key is not numeric: %v", v)
	}
	if w.started && k < w.watermark {
		return true, false, nil
	}
	closeFirst := false
	if w.session {
		if w.started && k-w.lastKey > w.hop {
			closeFirst = true
		}
	} else {
		b := math.Floor(k / w.hop)
		if !w.started {
			w.bucket = b
		} else if b > w.bucket {
			closeFirst = true
			w.bucket = b
		}
	}
	w.lastKey = k
	if !w.started || k > w.watermark {
		w.watermark = k
	}
	w.started = true
	return false, closeFirst, nil
}

func (w *valueWindow) After() bool { return false }
