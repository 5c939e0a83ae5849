package output

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestManagerSummary(t *testing.T) {
	var buf bytes.Buffer
	m := NewManagerWithWriter(&buf, false)
	m.StartDisplay()

	ok := m.Register("a.zip")
	cancelled := m.Register("b.iso")
	failed := m.Register("c.tar")
	m.SetProgress(ok, 500, 1000)
	assert.Equal(t, StatusActive, m.GetStatus(ok))
	m.Complete(ok, "")
	m.Cancelled(cancelled, "Cancelled b.iso")
	m.ReportError(failed, errors.New("segment 2: transport error"))
	m.StopDisplay()

	success, c, f := m.Counts()
	assert.Equal(t, 1, success)
	assert.Equal(t, 1, c)
	assert.Equal(t, 1, f)

	out := buf.String()
	assert.Contains(t, out, "Completed a.zip")
	assert.Contains(t, out, "Completed 1 of 3")
	assert.Contains(t, out, "Cancelled 1 of 3")
	assert.Contains(t, out, "Failed 1 of 3")
	assert.Contains(t, out, "segment 2: transport error")
	assert.False(t, strings.Contains(out, "\033[J"), "non-interactive output must not redraw")
}

func TestManagerUnknownJob(t *testing.T) {
	m := NewManagerWithWriter(&bytes.Buffer{}, false)
	m.SetMessage(42, "ignored")
	assert.Equal(t, "unknown", m.GetStatus(42))
}

func TestPrintProgressBarClamps(t *testing.T) {
	assert.Contains(t, PrintProgressBar(2000, 1000, 10), "100.0%")
	assert.Contains(t, PrintProgressBar(-5, 1000, 10), "0.0%")
	assert.Contains(t, PrintProgressBar(250, 1000, 10), "25.0%")
}

func TestFormatProgress(t *testing.T) {
	assert.Equal(t, "500 kB of 1.0 MB", FormatProgress(500_000, 1_000_000))
	assert.Equal(t, "0 B/s", FormatSpeed(100, 0))
	assert.Equal(t, "1.0 kB/s", FormatSpeed(2000, 2))
}
