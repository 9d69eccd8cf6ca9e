// allocator.go вычисляет размер очередной доли конверта.
//
// Политика even: остаток делится нацело, последняя доля забирает
// недоделившиеся копейки. Политика random — «два средних»: доля
// равномерна на [minShare, min(2*остаток/долей, остаток-(долей-1)*minShare)].
// Верхняя граница гарантирует, что каждому оставшемуся хватит минимум
// minShare, а последняя доля всегда равна точному остатку. Поэтому сумма
// долей сходится с номиналом копейка в копейку при любой политике.
package redpacket

import (
	"fmt"
	"math/rand/v2"
)

// Allocator выдаёт размер следующей доли.
type Allocator struct {
	minShare int64 // Минимальная доля, копейки
}

// NewAllocator создаёт аллокатор с минимальной долей из конфига.
func NewAllocator(minShare int64) *Allocator {
	if minShare <= 0 {
		minShare = 1
	}
	return &Allocator{minShare: minShare}
}

// Next возвращает размер следующей доли в копейках.
// Постусловие: 0 < share ≤ remainAmount и после выдачи каждому из
// оставшихся достаётся не меньше minShare.
func (a *Allocator) Next(remainAmount int64, remainCount int, policy Policy) (int64, error) {
	if remainCount <= 0 {
		return 0, fmt.Errorf("нет оставшихся долей")
	}
	if remainAmount < int64(remainCount)*a.minShare {
		return 0, fmt.Errorf("остаток %d меньше %d долей по %d", remainAmount, remainCount, a.minShare)
	}

	// Последняя доля — точный остаток, независимо от политики
	if remainCount == 1 {
		return remainAmount, nil
	}

	switch policy {
	case PolicyEven:
		return remainAmount / int64(remainCount), nil
	case PolicyRandom:
		return a.lucky(remainAmount, remainCount), nil
	default:
		return 0, fmt.Errorf("неизвестная политика деления: %q", policy)
	}
}

// lucky — случайная доля методом удвоенного среднего.
func (a *Allocator) lucky(remainAmount int64, remainCount int) int64 {
	low := a.minShare
	high := 2 * remainAmount / int64(remainCount)
	// Оставшимся должно хватить по минимальной доле
	if most := remainAmount - int64(remainCount-1)*a.minShare; high > most {
		high = most
	}
	if high <= low {
		return low
	}
	// rand/v2: глобальный генератор потокобезопасен
	return low + rand.Int64N(high-low+1)
}

// MinShare возвращает минимальную долю (для текстов подсказок).
func (a *Allocator) MinShare() int64 {
	return a.minShare
}
