package storage

import (
	"io"
	"sync"
)

// percentReporter forwards only increasing percentages.
type percentReporter struct {
	mu   sync.Mutex
	fn   Progress
	last int
}

func (p *percentReporter) report(pct int) {
	if p == nil || p.fn == nil {
		return
	}
	p.mu.Lock()
	if pct <= p.last {
		p.mu.Unlock()
		return
	}
	p.last = pct
	p.mu.Unlock()
	p.fn(pct)
}

// progressReader reports once per Read call.
type progressReader struct {
	r        io.Reader
	total    int64
	read     int64
	reporter *percentReporter
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 && p.total > 0 {
		p.read += int64(n)
		// 100 is reserved for an accepted response.
		p.reporter.report(min(int(p.read*100/p.total), 99))
	}
	return n, err
}
