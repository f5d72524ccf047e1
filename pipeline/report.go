package pipeline

import (
	"errors"
	"fmt"
	"time"

	"github.com/robert-malhotra/go-rasterstats/engine"
)

// Item is the outcome of one operation on one dataset or group.
type Item struct {
	Op      string
	Name    string
	Status  engine.Status
	Err     error
	Elapsed time.Duration
}

func (it Item) String() string {
	if it.Err != nil {
		return fmt.Sprintf("%s %s: failed: %v", it.Op, it.Name, it.Err)
	}
	return fmt.Sprintf("%s %s: %s in %s", it.Op, it.Name, it.Status, it.Elapsed.Round(time.Millisecond))
}

// Report collects the items of a run.
type Report struct {
	Items []Item
}

func (r *Report) add(it Item) {
	r.Items = append(r.Items, it)
}

// Failed returns the items that failed.
func (r *Report) Failed() []Item {
	var out []Item
	for _, it := range r.Items {
		if it.Err != nil {
			out = append(out, it)
		}
	}
	return out
}

// Counts returns how many items were computed, skipped and failed.
func (r *Report) Counts() (computed, skipped, failed int) {
	for _, it := range r.Items {
		switch {
		case it.Err != nil:
			failed++
		case it.Status == engine.StatusSkipped:
			skipped++
		default:
			computed++
		}
	}
	return computed, skipped, failed
}

// Err joins the errors of every failed item, or returns nil.
func (r *Report) Err() error {
	var errs []error
	for _, it := range r.Failed() {
		errs = append(errs, it.Err)
	}
	return errors.Join(errs...)
}

// ok reports whether op on name succeeded.
func (r *Report) ok(op, name string) bool {
	for _, it := range r.Items {
		if it.Op == op && it.Name == name {
			return it.Err == nil
		}
	}
	return false
}
