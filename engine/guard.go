package engine

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// Guard decides whether an operation's outputs are already done.
type Guard struct {
	Store Store
	Log   logrus.FieldLogger
}

// Check returns true when every path exists and is complete. Otherwise
// any of the paths that exist are partial leftovers: they are unlinked so
// the operation can rebuild them, and Check returns false.
func (g Guard) Check(paths ...string) (skip bool, err error) {
	log := loggerOrDiscard(g.Log)

	var existing []string
	complete := 0
	for _, p := range paths {
		if !g.Store.Exists(p) {
			continue
		}
		existing = append(existing, p)
		ds, err := g.Store.OpenDataset(p)
		if err != nil {
			return false, fmt.Errorf("checking output %s: %w", p, err)
		}
		if ds.Complete() {
			complete++
		}
	}

	if len(paths) > 0 && complete == len(paths) {
		log.WithField("outputs", paths).Debug("outputs complete, skipping")
		return true, nil
	}
	for _, p := range existing {
		log.WithField("dataset", p).Warn("removing partial output")
		if err := g.Store.Unlink(p); err != nil {
			return false, fmt.Errorf("removing partial output %s: %w", p, err)
		}
	}
	return false, nil
}
