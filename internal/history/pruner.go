package history

import (
	"log"
	"sync"
	"time"
)

type PrunerConfig struct {
	Interval   time.Duration
	KeepRecent int
}

func DefaultPrunerConfig() PrunerConfig {
	return PrunerConfig{
		Interval:   10 * time.Minute,
		KeepRecent: 1000,
	}
}

// Pruner trims the run log on a schedule so it never grows without
// bound.
type Pruner struct {
	store  *Store
	config PrunerConfig
	stop   chan struct{}
	wg     sync.WaitGroup
}

func NewPruner(store *Store, config PrunerConfig) *Pruner {
	return &Pruner{
		store:  store,
		config: config,
		stop:   make(chan struct{}),
	}
}

func (p *Pruner) Start() {
	p.wg.Add(1)
	go p.run()
	log.Printf("Run log pruner started (interval: %v, keep: %d)",
		p.config.Interval, p.config.KeepRecent)
}

func (p *Pruner) Stop() {
	close(p.stop)
	p.wg.Wait()
	log.Println("Run log pruner stopped")
}

func (p *Pruner) run() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.config.Interval)
	defer ticker.Stop()

	p.pruneOnce()

	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
			p.pruneOnce()
		}
	}
}

func (p *Pruner) pruneOnce() {
	removed, err := p.store.Prune(p.config.KeepRecent)
	if err != nil {
		log.Printf("Pruning run log failed: %v", err)
		return
	}
	if removed > 0 {
		log.Printf("Pruned %d old runs from the log", removed)
	}
}
