// internal/engine/filter.go
package engine

import (
	"math"
	"sync"
)

const (
	defaultChangeThreshold = 0.05
	minChangeThreshold     = 0.01
	maxChangeThreshold     = 1.0
)

// ChangeFilter пропускает уведомления о движении цены. Память ведётся по
// адресу токена, поэтому несколько мониторов одного токена делят один ритм
// уведомлений.
type ChangeFilter struct {
	mu        sync.Mutex
	threshold float64
	last      map[string]float64
}

func NewChangeFilter() *ChangeFilter {
	return &ChangeFilter{
		threshold: defaultChangeThreshold,
		last:      make(map[string]float64),
	}
}

// SetThreshold задаёт долю изменения, допускающую уведомление.
// Значение ограничивается отрезком [0.01, 1.0].
func (f *ChangeFilter) SetThreshold(threshold float64) {
	if threshold < minChangeThreshold {
		threshold = minChangeThreshold
	}
	if threshold > maxChangeThreshold {
		threshold = maxChangeThreshold
	}
	f.mu.Lock()
	f.threshold = threshold
	f.mu.Unlock()
}

// Observe сравнивает текущее значение с последним виденным. Первое наблюдение
// адреса запоминается и ничего не пропускает. Допуск проверяется по модулю,
// возвращаемый процент сохраняет знак.
func (f *ChangeFilter) Observe(tokenAddress string, current float64) (bool, *float64) {
	f.mu.Lock()
	defer f.mu.Unlock()

	last, ok := f.last[tokenAddress]
	if !ok {
		f.last[tokenAddress] = current
		return false, nil
	}
	if last == 0 {
		f.last[tokenAddress] = current
		return false, nil
	}

	pct := (current - last) / last * 100
	if math.Abs(pct)/100 >= f.threshold {
		f.last[tokenAddress] = current
		return true, &pct
	}
	return false, &pct
}

// CleanupUnused убирает адреса, не используемые ни одним живым монитором.
func (f *ChangeFilter) CleanupUnused(active map[string]struct{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for addr := range f.last {
		if _, ok := active[addr]; !ok {
			delete(f.last, addr)
		}
	}
}

// Clear сбрасывает всю память фильтра.
func (f *ChangeFilter) Clear() {
	f.mu.Lock()
	f.last = make(map[string]float64)
	f.mu.Unlock()
}
