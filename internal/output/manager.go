package output

import (
	"fmt"
	"io"
	"os"
	"sort"
	"sync"
	"time"

	"golang.org/x/term"
)

const (
	StatusPending   = "pending"
	StatusActive    = "active"
	StatusSuccess   = "success"
	StatusCancelled = "cancelled"
	StatusError     = "error"
)

type JobOutput struct {
	ID          int
	Name        string
	Status      string
	Message     string
	ProgressBar string
	Complete    bool
	StartTime   time.Time
	LastUpdated time.Time
	Error       error
}

type ErrorReport struct {
	JobName string
	Error   error
	Time    time.Time
}

// Manager renders one line per job (plus a progress bar while it downloads)
// and redraws them in place on a fixed tick.
type Manager struct {
	outputs     map[int]*JobOutput
	mutex       sync.RWMutex
	out         io.Writer
	interactive bool
	numLines    int
	errors      []ErrorReport
	doneCh      chan struct{}
	displayTick time.Duration
	jobCount    int
	displayWg   sync.WaitGroup
}

func NewManager() *Manager {
	return NewManagerWithWriter(os.Stdout, term.IsTerminal(int(os.Stdout.Fd())))
}

// NewManagerWithWriter renders into w; without interactive it prints only the
// final state instead of redrawing.
func NewManagerWithWriter(w io.Writer, interactive bool) *Manager {
	return &Manager{
		outputs:     make(map[int]*JobOutput),
		out:         w,
		interactive: interactive,
		doneCh:      make(chan struct{}),
		displayTick: 200 * time.Millisecond,
	}
}

func (m *Manager) Register(name string) int {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.jobCount++
	m.outputs[m.jobCount] = &JobOutput{
		ID:          m.jobCount,
		Name:        name,
		Status:      StatusPending,
		StartTime:   time.Now(),
		LastUpdated: time.Now(),
	}
	return m.jobCount
}

func (m *Manager) update(id int, fn func(info *JobOutput)) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if info, exists := m.outputs[id]; exists {
		fn(info)
		info.LastUpdated = time.Now()
	}
}

func (m *Manager) SetMessage(id int, message string) {
	m.update(id, func(info *JobOutput) { info.Message = message })
}

func (m *Manager) SetStatus(id int, status string) {
	m.update(id, func(info *JobOutput) { info.Status = status })
}

func (m *Manager) GetStatus(id int) string {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	if info, exists := m.outputs[id]; exists {
		return info.Status
	}
	return "unknown"
}

func (m *Manager) SetProgress(id int, downloaded, total int64) {
	m.update(id, func(info *JobOutput) {
		elapsed := time.Since(info.StartTime).Seconds()
		info.Status = StatusActive
		info.Message = fmt.Sprintf("Downloading %s (%s)", info.Name, FormatProgress(downloaded, total))
		info.ProgressBar = PrintProgressBar(downloaded, total, 30) + debugStyle.Render(FormatSpeed(downloaded, elapsed))
	})
}

func (m *Manager) Complete(id int, message string) {
	m.update(id, func(info *JobOutput) {
		if message == "" {
			message = fmt.Sprintf("Completed %s", info.Name)
		}
		info.Message = message
		info.ProgressBar = ""
		info.Complete = true
		info.Status = StatusSuccess
	})
}

// Cancelled marks a job stopped on request; its partial file is not valid.
func (m *Manager) Cancelled(id int, message string) {
	m.update(id, func(info *JobOutput) {
		info.Message = message
		info.ProgressBar = ""
		info.Complete = true
		info.Status = StatusCancelled
	})
}

func (m *Manager) ReportError(id int, err error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if info, exists := m.outputs[id]; exists {
		info.Complete = true
		info.Status = StatusError
		info.Error = err
		info.ProgressBar = ""
		info.LastUpdated = time.Now()
		m.errors = append(m.errors, ErrorReport{
			JobName: info.Name,
			Error:   err,
			Time:    time.Now(),
		})
	}
}

func (m *Manager) statusIndicator(status string) string {
	switch status {
	case StatusSuccess:
		return successStyle.Render(StyleSymbols["pass"])
	case StatusError:
		return errorStyle.Render(StyleSymbols["fail"])
	case StatusCancelled:
		return warningStyle.Render(StyleSymbols["warning"])
	case StatusPending:
		return pendingStyle.Render(StyleSymbols["pending"])
	default:
		return infoStyle.Render(StyleSymbols["bullet"])
	}
}

func (m *Manager) styledMessage(info *JobOutput) string {
	message := info.Message
	if message == "" {
		message = "Waiting..."
	}
	switch info.Status {
	case StatusSuccess:
		return successStyle.Render(message)
	case StatusError:
		return errorStyle.Render(message)
	case StatusCancelled:
		return warningStyle.Render(message)
	default:
		return pendingStyle.Render(message)
	}
}

// sortedJobs returns running jobs first, then finished ones, each in
// registration order.
func (m *Manager) sortedJobs() []*JobOutput {
	jobs := make([]*JobOutput, 0, len(m.outputs))
	for _, info := range m.outputs {
		jobs = append(jobs, info)
	}
	sort.Slice(jobs, func(i, j int) bool {
		if jobs[i].Complete != jobs[j].Complete {
			return !jobs[i].Complete
		}
		return jobs[i].ID < jobs[j].ID
	})
	return jobs
}

func (m *Manager) render() {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	availableLines := getTerminalHeight() - 3
	if m.interactive && m.numLines > 0 {
		fmt.Fprintf(m.out, "\033[%dA\033[J", m.numLines)
	}
	lineCount := 0
	for _, info := range m.sortedJobs() {
		if lineCount >= availableLines {
			break
		}
		elapsed := time.Since(info.StartTime).Round(time.Second)
		if info.Complete {
			elapsed = info.LastUpdated.Sub(info.StartTime).Round(time.Second)
		}
		fmt.Fprintf(m.out, "  %s %s %s\n", m.statusIndicator(info.Status), debugStyle.Render(elapsed.String()), m.styledMessage(info))
		lineCount++
		if info.ProgressBar != "" && lineCount < availableLines {
			fmt.Fprintf(m.out, "      %s\n", streamStyle.Render(info.ProgressBar))
			lineCount++
		}
	}
	m.numLines = lineCount
}

func (m *Manager) StartDisplay() {
	m.displayWg.Add(1)
	go func() {
		defer m.displayWg.Done()
		ticker := time.NewTicker(m.displayTick)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if m.interactive {
					m.render()
				}
			case <-m.doneCh:
				m.render()
				m.ShowSummary()
				return
			}
		}
	}()
}

func (m *Manager) StopDisplay() {
	close(m.doneCh)
	m.displayWg.Wait()
}

func (m *Manager) displayErrors() {
	if len(m.errors) == 0 {
		return
	}
	fmt.Fprintln(m.out)
	fmt.Fprintln(m.out, "  "+errorStyle.Bold(true).Render("Errors:"))
	for i, report := range m.errors {
		fmt.Fprintf(m.out, "    %s %s %s\n",
			errorStyle.Render(fmt.Sprintf("%d.", i+1)),
			debugStyle.Render(fmt.Sprintf("[%s]", report.Time.Format("15:04:05"))),
			errorStyle.Render(report.JobName))
		fmt.Fprintf(m.out, "      %s\n", errorStyle.Render(fmt.Sprintf("Error: %v", report.Error)))
	}
}

func (m *Manager) Counts() (success, cancelled, failed int) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	for _, info := range m.outputs {
		switch info.Status {
		case StatusSuccess:
			success++
		case StatusCancelled:
			cancelled++
		case StatusError:
			failed++
		}
	}
	return success, cancelled, failed
}

func (m *Manager) ShowSummary() {
	success, cancelled, failed := m.Counts()
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	total := len(m.outputs)
	fmt.Fprintln(m.out)
	fmt.Fprintln(m.out, "  "+summaryStyle.Render(fmt.Sprintf("Completed %d of %d", success, total)))
	if cancelled > 0 {
		fmt.Fprintln(m.out, "  "+warningStyle.Render(fmt.Sprintf("Cancelled %d of %d", cancelled, total)))
	}
	if failed > 0 {
		fmt.Fprintln(m.out, "  "+errorStyle.Render(fmt.Sprintf("Failed %d of %d", failed, total)))
	}
	m.displayErrors()
	fmt.Fprintln(m.out)
}
