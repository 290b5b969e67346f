package service

import (
	"fmt"
	"sync"
	"testing"

	"statarb/internal/domain"
)

func TestMarketState_PublishRead(t *testing.T) {
	s := NewMarketState()

	if _, ok := s.Read("BTCUSDT"); ok {
		t.Fatal("empty cache should miss")
	}

	s.Publish(domain.Quote{Symbol: "BTCUSDT", LastPrice: 100, BidSize: 1, AskSize: 2})
	s.Publish(domain.Quote{Symbol: "BTCUSDT", LastPrice: 101, BidSize: 3, AskSize: 4})

	q, ok := s.Read("BTCUSDT")
	if !ok {
		t.Fatal("BTCUSDT should exist")
	}
	if q.LastPrice != 101 || q.BidSize != 3 || q.AskSize != 4 {
		t.Errorf("expected the latest quote, got %+v", q)
	}
}

func TestMarketState_Snapshot(t *testing.T) {
	s := NewMarketState()
	s.Publish(domain.Quote{Symbol: "SOLUSDT", LastPrice: 1})
	s.Publish(domain.Quote{Symbol: "BTCUSDT", LastPrice: 2})
	s.Publish(domain.Quote{Symbol: "ETHUSDT", LastPrice: 3})

	all := s.Snapshot()
	if len(all) != 3 || s.Len() != 3 {
		t.Fatalf("Expected 3 items, got %d", len(all))
	}
	for i, want := range []string{"BTCUSDT", "ETHUSDT", "SOLUSDT"} {
		if all[i].Symbol != want {
			t.Errorf("position %d: got %s, want %s", i, all[i].Symbol, want)
		}
	}
}

// Writers always publish consistent quotes (BidSize == AskSize == price);
// a reader must never observe a mix of two writes.
func TestMarketState_NoTornReads(t *testing.T) {
	s := NewMarketState()
	var wg sync.WaitGroup

	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 2000; i++ {
				v := float64(w*10000 + i)
				s.Publish(domain.Quote{Symbol: "X", LastPrice: v, BidSize: v, AskSize: v})
			}
		}(w)
	}

	errs := make(chan error, 1)
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 5000; i++ {
			q, ok := s.Read("X")
			if ok && (q.BidSize != q.LastPrice || q.AskSize != q.LastPrice) {
				select {
				case errs <- fmt.Errorf("torn read: %+v", q):
				default:
				}
				return
			}
		}
	}()

	wg.Wait()
	close(errs)
	if err := <-errs; err != nil {
		t.Fatal(err)
	}
}
