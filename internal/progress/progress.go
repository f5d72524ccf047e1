// Package progress shows operation progress on a terminal.
package progress

import (
	"fmt"
	"io"
	"time"

	"github.com/theckman/yacspin"
	"golang.org/x/time/rate"

	"github.com/robert-malhotra/go-rasterstats/engine"
)

// DefaultInterval is the minimum time between two progress updates.
const DefaultInterval = 250 * time.Millisecond

func percent(done, total int) float64 {
	if total <= 0 {
		return 100
	}
	return 100 * float64(done) / float64(total)
}

// Percent prints "\r12.34%" lines, for output that is not a terminal.
type Percent struct {
	w       io.Writer
	limiter *rate.Limiter
}

// NewPercent returns a printer writing at most one update per interval.
func NewPercent(w io.Writer, interval time.Duration) *Percent {
	return &Percent{w: w, limiter: rate.NewLimiter(rate.Every(interval), 1)}
}

// Begin prints the label of a new operation.
func (p *Percent) Begin(op, name string) engine.Progress {
	fmt.Fprintf(p.w, "%s %s\n", op, name)
	return p
}

// Report prints the percentage. The final report is always printed.
func (p *Percent) Report(done, total int) {
	if done < total && !p.limiter.Allow() {
		return
	}
	fmt.Fprintf(p.w, "\r%.2f%%", percent(done, total))
	if done >= total {
		fmt.Fprintln(p.w)
	}
}

// End prints a failure, if any.
func (p *Percent) End(err error) {
	if err != nil {
		fmt.Fprintf(p.w, "\nfailed: %v\n", err)
	}
}

// Spinner shows a spinner with the current operation and percentage.
type Spinner struct {
	sp      *yacspin.Spinner
	limiter *rate.Limiter
	label   string
}

// NewSpinner creates a spinner writing to w.
func NewSpinner(w io.Writer, interval time.Duration) (*Spinner, error) {
	sp, err := yacspin.New(yacspin.Config{
		Writer:            w,
		Frequency:         100 * time.Millisecond,
		CharSet:           yacspin.CharSets[14],
		Suffix:            " ",
		SuffixAutoColon:   true,
		StopCharacter:     "✓",
		StopColors:        []string{"fgGreen"},
		StopFailCharacter: "✗",
		StopFailColors:    []string{"fgRed"},
	})
	if err != nil {
		return nil, fmt.Errorf("creating spinner: %w", err)
	}
	return &Spinner{sp: sp, limiter: rate.NewLimiter(rate.Every(interval), 1)}, nil
}

// Begin starts the spinner for an operation.
func (s *Spinner) Begin(op, name string) engine.Progress {
	s.label = op + " " + name
	s.sp.Suffix(" " + s.label)
	s.sp.Message("0.00%")
	s.sp.Start()
	return s
}

// Report updates the spinner message.
func (s *Spinner) Report(done, total int) {
	if done < total && !s.limiter.Allow() {
		return
	}
	s.sp.Message(fmt.Sprintf("%.2f%%", percent(done, total)))
}

// End stops the spinner, marking the operation failed when err is set.
func (s *Spinner) End(err error) {
	if err != nil {
		s.sp.StopFailMessage(err.Error())
		s.sp.StopFail()
		return
	}
	s.sp.StopMessage("done")
	s.sp.Stop()
}

// Nop discards everything.
type Nop struct{}

func (Nop) Begin(string, string) engine.Progress { return engine.NopProgress{} }
func (Nop) End(error) {}
