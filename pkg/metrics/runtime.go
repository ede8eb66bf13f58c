package metrics

import (
	"runtime"
	"time"
)

// CollectRuntime samples Go runtime stats into <prefix>_runtime_* gauges on
// the given interval until stop is called.
func (r *Registry) CollectRuntime(prefix string, every time.Duration) (stop func()) {
	goroutines := r.Gauge(prefix+"_runtime_goroutines", "Number of goroutines")
	heapAlloc := r.Gauge(prefix+"_runtime_heap_alloc_bytes", "Heap bytes allocated and in use")
	heapSys := r.Gauge(prefix+"_runtime_heap_sys_bytes", "Heap bytes obtained from the OS")
	gcRuns := r.Gauge(prefix+"_runtime_gc_total", "Completed GC cycles")
	pauseNs := r.Gauge(prefix+"_runtime_gc_pause_total_ns", "Cumulative GC pause nanoseconds")

	sample := func() {
		var ms runtime.MemStats
		runtime.ReadMemStats(&ms)
		goroutines.Set(float64(runtime.NumGoroutine()))
		heapAlloc.Set(float64(ms.HeapAlloc))
		heapSys.Set(float64(ms.HeapSys))
		gcRuns.Set(float64(ms.NumGC))
		pauseNs.Set(float64(ms.PauseTotalNs))
	}
	sample()

	done := make(chan struct{})
	go func() {
		t := time.NewTicker(every)
		defer t.Stop()
		for {
			select {
			case <-done:
				return
			case <-t.C:
				sample()
			}
		}
	}()
	return func() { close(done) }
}
