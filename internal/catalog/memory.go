package catalog

import (
	"context"
	"sort"
	"sync"
)

// Memory is an in-process catalog, safe for concurrent use.
type Memory struct {
	mu          sync.RWMutex
	routings    map[string][]RoutingOperation
	boms        map[string]BOMHeader
	bomLines    map[string][]BOMLine
	workCenters map[string]WorkCenter
}

var _ Catalog = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		routings:    map[string][]RoutingOperation{},
		boms:        map[string]BOMHeader{},
		bomLines:    map[string][]BOMLine{},
		workCenters: map[string]WorkCenter{},
	}
}

func (m *Memory) PutRouting(id string, ops ...RoutingOperation) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.routings[id] = append([]RoutingOperation(nil), ops...)
}

func (m *Memory) PutBOM(h BOMHeader, lines ...BOMLine) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.boms[h.ID] = h
	cp := make([]BOMLine, len(lines))
	for i, l := range lines {
		if l.LineNo == 0 {
			l.LineNo = i + 1
		}
		cp[i] = l
	}
	m.bomLines[h.ID] = cp
}

func (m *Memory) PutWorkCenter(wc WorkCenter) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.workCenters[wc.ID] = wc
}

func (m *Memory) GetOperations(_ context.Context, routingID string) ([]RoutingOperation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ops, ok := m.routings[routingID]
	if !ok {
		return nil, ErrNotFound
	}
	out := append([]RoutingOperation(nil), ops...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out, nil
}

func (m *Memory) GetBomHeader(_ context.Context, bomID string) (BOMHeader, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h, ok := m.boms[bomID]
	if !ok {
		return BOMHeader{}, ErrNotFound
	}
	return h, nil
}

func (m *Memory) GetBomLines(_ context.Context, bomID string) ([]BOMLine, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.boms[bomID]; !ok {
		return nil, ErrNotFound
	}
	return append([]BOMLine(nil), m.bomLines[bomID]...), nil
}

func (m *Memory) GetWorkCenter(_ context.Context, id string) (WorkCenter, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	wc, ok := m.workCenters[id]
	if !ok {
		return WorkCenter{}, ErrNotFound
	}
	return wc, nil
}
