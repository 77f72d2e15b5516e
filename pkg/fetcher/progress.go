package fetcher

import (
	"io"
	"sync"
	"time"

	"github.com/cheggaaa/pb/v3"
)

// Progress receives byte counts from streamed transfers
type Progress interface {
	Track(label string, total int64) Tracker
}

// Tracker follows a single transfer
type Tracker interface {
	Add(n int)
	Finish()
}

// NopProgress discards all progress updates
type NopProgress struct{}

func (NopProgress) Track(string, int64) Tracker { return nopTracker{} }

type nopTracker struct{}

func (nopTracker) Add(int) {}
func (nopTracker) Finish() {}

const barTemplate = `{{ string . "prefix" }} {{ counters . }} {{ bar . }} {{ percent . }} {{ speed . }}`

// BarProgress renders a pb bar for one transfer at a time. Transfers
// started while a bar is running are not drawn, so concurrent downloads
// never interleave bar output on the writer.
type BarProgress struct {
	out    io.Writer
	mu     sync.Mutex
	active bool
}

// NewBarProgress creates a Progress that draws bars to out
func NewBarProgress(out io.Writer) *BarProgress {
	return &BarProgress{out: out}
}

// Track starts a bar. An unknown total (<= 0) still shows the byte counter.
func (p *BarProgress) Track(label string, total int64) Tracker {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.active {
		return nopTracker{}
	}
	p.active = true

	bar := pb.New64(total)
	bar.SetTemplateString(barTemplate)
	bar.Set("prefix", label)
	bar.Set(pb.Bytes, true)
	bar.SetMaxWidth(100)
	bar.SetRefreshRate(200 * time.Millisecond)
	bar.SetWriter(p.out)
	bar.Start()
	return &barTracker{bar: bar, owner: p}
}

func (p *BarProgress) release() {
	p.mu.Lock()
	p.active = false
	p.mu.Unlock()
}

type barTracker struct {
	bar   *pb.ProgressBar
	owner *BarProgress
	once  sync.Once
}

func (t *barTracker) Add(n int) { t.bar.Add(n) }

func (t *barTracker) Finish() {
	t.once.Do(func() {
		t.bar.Finish()
		t.owner.release()
	})
}
