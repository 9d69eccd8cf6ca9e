package redpacket

import "testing"

// drain полностью разбирает конверт и возвращает выданные доли.
func drain(t *testing.T, a *Allocator, total int64, count int, policy Policy) []int64 {
	t.Helper()

	remain := total
	shares := make([]int64, 0, count)
	for i := count; i > 0; i-- {
		share, err := a.Next(remain, i, policy)
		if err != nil {
			t.Fatalf("Next(%d, %d, %s): %v", remain, i, policy, err)
		}
		if share <= 0 {
			t.Fatalf("доля %d не положительна: %d", count-i+1, share)
		}
		if share > remain {
			t.Fatalf("доля %d больше остатка: %d > %d", count-i+1, share, remain)
		}
		shares = append(shares, share)
		remain -= share
	}
	if remain != 0 {
		t.Fatalf("после раздачи остался остаток %d", remain)
	}
	return shares
}

func TestAllocatorConservation(t *testing.T) {
	a := NewAllocator(1)

	cases := []struct {
		total  int64
		count  int
		policy Policy
	}{
		{10000, 10, PolicyRandom},
		{10000, 10, PolicyEven},
		{500, 3, PolicyRandom},
		{3, 3, PolicyRandom}, // ровно по минимальной доле
		{1, 1, PolicyRandom},
		{999999, 100, PolicyRandom},
		{1000, 7, PolicyEven}, // 1000/7 не делится нацело
	}
	for _, c := range cases {
		// Случайные политики гоняем многократно
		runs := 1
		if c.policy == PolicyRandom {
			runs = 200
		}
		for r := 0; r < runs; r++ {
			shares := drain(t, a, c.total, c.count, c.policy)
			var sum int64
			for _, s := range shares {
				sum += s
			}
			if sum != c.total {
				t.Fatalf("сумма долей %d != номинала %d (%+v)", sum, c.total, c)
			}
		}
	}
}

func TestAllocatorMinShareFloor(t *testing.T) {
	a := NewAllocator(1)

	// 500 копеек на 3 доли: каждая доля ≥ 1 и каждому оставшемуся
	// гарантированно хватает
	for r := 0; r < 500; r++ {
		shares := drain(t, a, 500, 3, PolicyRandom)
		for i, s := range shares {
			if s < 1 {
				t.Fatalf("доля %d меньше минимальной: %d", i+1, s)
			}
		}
	}
}

func TestAllocatorLastShareExactRemainder(t *testing.T) {
	a := NewAllocator(1)

	// Последняя доля — точный остаток независимо от политики
	for _, policy := range []Policy{PolicyRandom, PolicyEven} {
		share, err := a.Next(437, 1, policy)
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if share != 437 {
			t.Fatalf("последняя доля %d, ожидалось 437", share)
		}
	}
}

func TestAllocatorEvenSplit(t *testing.T) {
	a := NewAllocator(1)

	// 100.00 на 10 долей поровну — десять раз по 10.00
	shares := drain(t, a, 10000, 10, PolicyEven)
	for i, s := range shares {
		if s != 1000 {
			t.Fatalf("доля %d при делении поровну: %d, ожидалось 1000", i+1, s)
		}
	}
}

func TestAllocatorEvenRemainderGoesLast(t *testing.T) {
	a := NewAllocator(1)

	// 10.00 на 3: 333, 333, 334
	shares := drain(t, a, 1000, 3, PolicyEven)
	want := []int64{333, 333, 334}
	for i := range want {
		if shares[i] != want[i] {
			t.Fatalf("доли %v, ожидалось %v", shares, want)
		}
	}
}

func TestAllocatorRandomUpperBound(t *testing.T) {
	a := NewAllocator(1)

	// Метод удвоенного среднего: доля не превышает 2*остаток/долей
	// (кроме последней)
	for r := 0; r < 1000; r++ {
		share, err := a.Next(10000, 10, PolicyRandom)
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if share > 2000 {
			t.Fatalf("доля %d выше потолка 2000", share)
		}
		if share < 1 {
			t.Fatalf("доля %d ниже пола", share)
		}
	}
}

func TestAllocatorErrors(t *testing.T) {
	a := NewAllocator(1)

	if _, err := a.Next(100, 0, PolicyRandom); err == nil {
		t.Fatal("ожидалась ошибка при нуле оставшихся долей")
	}
	// Остатка не хватает на минимальные доли
	if _, err := a.Next(2, 3, PolicyRandom); err == nil {
		t.Fatal("ожидалась ошибка при остатке меньше минимума")
	}
	if _, err := a.Next(100, 2, Policy("chaos")); err == nil {
		t.Fatal("ожидалась ошибка при неизвестной политике")
	}
}
