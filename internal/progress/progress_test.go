package progress

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPercentFinalAlwaysPrinted(t *testing.T) {
	var buf bytes.Buffer
	p := NewPercent(&buf, time.Hour)
	pr := p.Begin("reverse", "/g1/sum")
	for i := 1; i <= 10; i++ {
		pr.Report(i, 10)
	}
	out := buf.String()
	assert.True(t, strings.HasPrefix(out, "reverse /g1/sum\n"))
	// The first report passes the limiter, the rest are dropped until the last.
	assert.Contains(t, out, "\r10.00%")
	assert.Contains(t, out, "\r100.00%\n")
	assert.NotContains(t, out, "50.00%")
}

func TestPercentEnd(t *testing.T) {
	var buf bytes.Buffer
	p := NewPercent(&buf, 0)
	p.End(nil)
	assert.Empty(t, buf.String())
	p.End(errors.New("boom"))
	assert.Contains(t, buf.String(), "failed: boom")
}

func TestPercentZeroTotal(t *testing.T) {
	var buf bytes.Buffer
	NewPercent(&buf, time.Second).Report(0, 0)
	assert.Equal(t, "\r100.00%\n", buf.String())
}

func TestSpinner(t *testing.T) {
	var buf bytes.Buffer
	s, err := NewSpinner(&buf, time.Millisecond)
	assert.NoError(t, err)
	pr := s.Begin("stats", "/g1")
	pr.Report(5, 10)
	pr.Report(10, 10)
	s.End(nil)

	s.Begin("stats", "/g2")
	s.End(errors.New("missing input"))
}

func TestNop(t *testing.T) {
	var n Nop
	n.Begin("x", "y").Report(1, 1)
	n.End(nil)
}
