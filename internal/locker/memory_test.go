package locker

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestMemoryLocker_TryAcquire(t *testing.T) {
	l := NewMemoryLocker()
	defer l.Close()
	ctx := context.Background()

	ok, err := l.TryAcquire(ctx, "a", time.Minute)
	if err != nil || !ok {
		t.Fatalf("первый захват: ok=%v err=%v", ok, err)
	}

	ok, err = l.TryAcquire(ctx, "a", time.Minute)
	if err != nil {
		t.Fatalf("повторный захват: %v", err)
	}
	if ok {
		t.Error("повторный захват занятого ключа должен вернуть false")
	}

	// Другой ключ свободен
	ok, _ = l.TryAcquire(ctx, "b", time.Minute)
	if !ok {
		t.Error("независимый ключ должен захватываться")
	}
}

func TestMemoryLocker_ReleaseFreesKey(t *testing.T) {
	l := NewMemoryLocker()
	defer l.Close()
	ctx := context.Background()

	if ok, _ := l.TryAcquire(ctx, "k", time.Minute); !ok {
		t.Fatal("захват не удался")
	}
	if err := l.Release(ctx, "k"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if ok, _ := l.TryAcquire(ctx, "k", time.Minute); !ok {
		t.Error("после Release ключ должен быть свободен")
	}
}

func TestMemoryLocker_TTLExpires(t *testing.T) {
	l := NewMemoryLocker()
	defer l.Close()
	ctx := context.Background()

	if ok, _ := l.TryAcquire(ctx, "k", 20*time.Millisecond); !ok {
		t.Fatal("захват не удался")
	}
	time.Sleep(30 * time.Millisecond)
	if ok, _ := l.TryAcquire(ctx, "k", time.Minute); !ok {
		t.Error("истёкший ключ должен захватываться заново")
	}
}

func TestMemoryLocker_SingleWinnerUnderConcurrency(t *testing.T) {
	l := NewMemoryLocker()
	defer l.Close()
	ctx := context.Background()

	const goroutines = 64
	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := l.TryAcquire(ctx, "contended", time.Minute)
			if err != nil {
				t.Errorf("TryAcquire: %v", err)
				return
			}
			if ok {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if winners != 1 {
		t.Errorf("победителей = %d, ожидался ровно 1", winners)
	}
}
