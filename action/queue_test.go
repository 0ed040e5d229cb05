package action

import (
	"sync"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestDrainExecutesInEnqueueOrder(t *testing.T) {
	q := NewQueue(zap.NewNop().Sugar())

	var got []int
	for i := 0; i < 5; i++ {
		i := i
		q.Enqueue(func() { got = append(got, i) })
	}

	if n := q.DrainAndExecuteAll(); n != 5 {
		t.Fatalf("expected 5 executed, got %d", n)
	}
	for i, v := range got {
		if v != i {
			t.Fatalf("expected order 0..4, got %v", got)
		}
	}
	if q.Len() != 0 {
		t.Fatalf("expected empty queue")
	}
}

func TestPanicDoesNotBlockRest(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	q := NewQueue(zap.New(core).Sugar())

	ran := 0
	q.Enqueue(func() { ran++ })
	q.Enqueue(func() { panic("boom") })
	q.Enqueue(func() { ran++ })

	q.DrainAndExecuteAll()

	if ran != 2 {
		t.Fatalf("expected 2 closures to run around the panic, got %d", ran)
	}
	if q.Panicked() != 1 || q.Executed() != 3 {
		t.Fatalf("unexpected counters executed=%d panicked=%d", q.Executed(), q.Panicked())
	}
	if logs.Len() != 1 {
		t.Fatalf("expected one error log, got %d", logs.Len())
	}
}

func TestEnqueueDuringDrainRunsNextDrain(t *testing.T) {
	q := NewQueue(zap.NewNop().Sugar())

	second := false
	q.Enqueue(func() {
		q.Enqueue(func() { second = true })
	})

	if n := q.DrainAndExecuteAll(); n != 1 {
		t.Fatalf("expected 1 executed, got %d", n)
	}
	if second {
		t.Fatalf("closure enqueued during drain must wait for the next drain")
	}
	if n := q.DrainAndExecuteAll(); n != 1 || !second {
		t.Fatalf("expected nested closure on second drain, n=%d", n)
	}
}

func TestConcurrentEnqueuePreservesPerProducerOrder(t *testing.T) {
	q := NewQueue(zap.NewNop().Sugar())

	const producers = 8
	const perProducer = 200

	var wg sync.WaitGroup
	seen := make([][]int, producers)
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				i := i
				q.Enqueue(func() { seen[p] = append(seen[p], i) })
			}
		}(p)
	}

	total := 0
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	for {
		total += q.DrainAndExecuteAll()
		select {
		case <-done:
			total += q.DrainAndExecuteAll()
			if total != producers*perProducer {
				t.Fatalf("expected %d executed, got %d", producers*perProducer, total)
			}
			for p := range seen {
				for i, v := range seen[p] {
					if v != i {
						t.Fatalf("producer %d out of order at %d", p, i)
					}
				}
			}
			return
		default:
		}
	}
}

func TestNilIgnored(t *testing.T) {
	q := NewQueue(zap.NewNop().Sugar())
	q.Enqueue(nil)
	if q.Len() != 0 {
		t.Fatalf("expected nil closure to be ignored")
	}
}
