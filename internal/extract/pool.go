package extract

import (
	"context"
	"runtime"
	"sync"

	"blogwatch/internal/types"
)

type task struct {
	html    []byte
	pageURL string
	reply   chan result
}

type result struct {
	content types.ArticleContent
	err     error
}

// Pool runs extractions on a fixed set of workers so the CPU-bound parse
// never occupies an I/O goroutine's slot in the orchestrator's budget.
type Pool struct {
	ex    *Extractor
	tasks chan task

	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewPool starts workers goroutines; workers <= 0 uses GOMAXPROCS.
func NewPool(workers int, ex *Extractor) *Pool {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	p := &Pool{ex: ex, tasks: make(chan task)}
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.worker()
	}
	return p
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for t := range p.tasks {
		content, err := p.ex.Extract(t.html, t.pageURL)
		t.reply <- result{content: content, err: err}
	}
}

// Extract submits one page and waits for its result or ctx cancellation.
func (p *Pool) Extract(ctx context.Context, html []byte, pageURL string) (types.ArticleContent, error) {
	reply := make(chan result, 1)
	select {
	case p.tasks <- task{html: html, pageURL: pageURL, reply: reply}:
	case <-ctx.Done():
		return types.ArticleContent{}, ctx.Err()
	}
	select {
	case r := <-reply:
		return r.content, r.err
	case <-ctx.Done():
		return types.ArticleContent{}, ctx.Err()
	}
}

// Close stops the workers after in-flight tasks finish.
func (p *Pool) Close() {
	p.closeOnce.Do(func() { close(p.tasks) })
	p.wg.Wait()
}
