package extsys

import (
	"context"
	"fmt"
	"sync"

	"planbridge/internal/domain"
)

// FakeProduct is an in-memory ProductClient. It backs the simulate mode of
// the CLI and the test suites.
type FakeProduct struct {
	mu        sync.Mutex
	Orderings map[string][]domain.RankedItem
	Records   map[string]domain.Snapshot
	Err       error
}

func NewFakeProduct() *FakeProduct {
	return &FakeProduct{
		Orderings: map[string][]domain.RankedItem{},
		Records:   map[string]domain.Snapshot{},
	}
}

func (f *FakeProduct) FetchBoardOrdering(ctx context.Context, boardID, bearerToken string) ([]domain.RankedItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	items, ok := f.Orderings[boardID]
	if !ok {
		return nil, fmt.Errorf("board %s not found", boardID)
	}
	out := make([]domain.RankedItem, len(items))
	copy(out, items)
	return out, nil
}

func (f *FakeProduct) FetchRecord(ctx context.Context, externalIDA string) (domain.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return domain.Snapshot{}, f.Err
	}
	snap, ok := f.Records[externalIDA]
	if !ok {
		return domain.Snapshot{}, fmt.Errorf("record %s not found", externalIDA)
	}
	return snap, nil
}

// SimulatedOrdering seeds a deterministic board ordering for demo runs.
func (f *FakeProduct) SimulatedOrdering(boardID string, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	items := make([]domain.RankedItem, 0, n)
	for i := 1; i <= n; i++ {
		items = append(items, domain.RankedItem{
			ExternalIDA: fmt.Sprintf("%s-item-%d", boardID, i),
			Rank:        i,
			DisplayName: fmt.Sprintf("Simulated item %d", i),
		})
	}
	f.Orderings[boardID] = items
}

// FakeTracker is an in-memory TrackerClient for tests and dry runs.
type FakeTracker struct {
	mu       sync.Mutex
	Records  map[string]domain.Snapshot
	Ranks    map[string]int
	FailIDs  map[string]error
	SetCalls []string
}

func NewFakeTracker() *FakeTracker {
	return &FakeTracker{
		Records: map[string]domain.Snapshot{},
		Ranks:   map[string]int{},
		FailIDs: map[string]error{},
	}
}

func (f *FakeTracker) SetOrderingField(ctx context.Context, externalIDB string, rank int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.SetCalls = append(f.SetCalls, externalIDB)
	if err, ok := f.FailIDs[externalIDB]; ok {
		return err
	}
	f.Ranks[externalIDB] = rank
	return nil
}

func (f *FakeTracker) FetchRecord(ctx context.Context, externalIDB string) (domain.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	snap, ok := f.Records[externalIDB]
	if !ok {
		return domain.Snapshot{}, fmt.Errorf("work item %s not found", externalIDB)
	}
	return snap, nil
}
