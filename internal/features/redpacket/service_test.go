package redpacket

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"serotonyl.ru/redpacket-bot/internal/common"
	"serotonyl.ru/redpacket-bot/internal/config"
	"serotonyl.ru/redpacket-bot/internal/locker"
)

// allowAll — заглушка реестра участников: никто не забанен.
type allowAll struct{}

func (allowAll) IsActive(context.Context, int64) (bool, error) { return true, nil }

// bannedUsers — заглушка с чёрным списком.
type bannedUsers map[int64]bool

func (b bannedUsers) IsActive(_ context.Context, userID int64) (bool, error) {
	return !b[userID], nil
}

func newTestService(t *testing.T, cfg *config.Config) (*Service, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	locks := locker.NewMemoryLocker()
	t.Cleanup(locks.Close)
	return NewService(store, locks, allowAll{}, cfg), store
}

func createPacket(t *testing.T, s *Service, store *MemoryStore, senderID, chatID int64, amount int64, count int, policy Policy) *RedPacket {
	t.Helper()
	store.SetBalance(senderID, amount)
	p, err := s.Create(context.Background(), senderID, chatID, ChatGroup, &CreateParams{
		AmountKop: amount,
		Count:     count,
		Policy:    policy,
		Title:     "тест",
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return p
}

func TestClaimExactlyOncePerUser(t *testing.T) {
	cfg := testConfig()
	s, store := newTestService(t, cfg)
	ctx := context.Background()

	p := createPacket(t, s, store, 1, 100, 10000, 10, PolicyRandom)

	// Пользователь 2 открывает конверт — успех
	res, err := s.Claim(ctx, 100, p.PacketID, 2)
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if res.Amount <= 0 || res.ClaimOrder != 1 {
		t.Fatalf("неожиданный результат: %+v", res)
	}

	// Повтор того же пользователя мимо токена частоты: чистим блокировки
	fresh := locker.NewMemoryLocker()
	t.Cleanup(fresh.Close)
	s2 := NewService(store, fresh, allowAll{}, cfg)
	if _, err := s2.Claim(ctx, 100, p.PacketID, 2); !errors.Is(err, common.ErrAlreadyClaimed) {
		t.Fatalf("повторное открытие: %v, ожидался ErrAlreadyClaimed", err)
	}
}

func TestClaimConcurrentUsersNoOverdraw(t *testing.T) {
	cfg := testConfig()
	s, store := newTestService(t, cfg)
	ctx := context.Background()

	const shares = 10
	p := createPacket(t, s, store, 1, 100, 10000, shares, PolicyRandom)

	// 30 пользователей ломятся одновременно за 10 долей
	const users = 30
	var wg sync.WaitGroup
	results := make([]*ClaimResult, users)
	errs := make([]error, users)
	for i := 0; i < users; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = s.Claim(ctx, 100, p.PacketID, int64(1000+i))
		}(i)
	}
	wg.Wait()

	won := 0
	var sum int64
	for i := 0; i < users; i++ {
		switch {
		case errs[i] == nil:
			won++
			sum += results[i].Amount
		case errors.Is(errs[i], common.ErrPacketEmpty), errors.Is(errs[i], common.ErrPacketEnded):
		default:
			t.Fatalf("пользователь %d: неожиданная ошибка %v", i, errs[i])
		}
	}
	if won != shares {
		t.Fatalf("выдано %d долей, ожидалось %d", won, shares)
	}
	if sum != 10000 {
		t.Fatalf("роздано %d копеек, ожидалось 10000", sum)
	}

	got, err := store.GetPacket(ctx, p.PacketID)
	if err != nil {
		t.Fatalf("GetPacket: %v", err)
	}
	if got.Status != StatusCompleted || got.RemainAmount != 0 || got.RemainCount != 0 {
		t.Fatalf("конверт после разбора: %+v", got)
	}

	// Порядковые номера выдач — 1..N без дыр
	claims, err := store.ListClaims(ctx, p.PacketID)
	if err != nil {
		t.Fatalf("ListClaims: %v", err)
	}
	seen := make(map[int]bool)
	for _, c := range claims {
		if c.ClaimOrder < 1 || c.ClaimOrder > shares || seen[c.ClaimOrder] {
			t.Fatalf("битый порядковый номер: %+v", c)
		}
		seen[c.ClaimOrder] = true
	}
}

func TestClaimAfterEmpty(t *testing.T) {
	cfg := testConfig()
	s, store := newTestService(t, cfg)
	ctx := context.Background()

	p := createPacket(t, s, store, 1, 100, 1000, 2, PolicyEven)

	if _, err := s.Claim(ctx, 100, p.PacketID, 2); err != nil {
		t.Fatalf("Claim 1: %v", err)
	}
	res, err := s.Claim(ctx, 100, p.PacketID, 3)
	if err != nil {
		t.Fatalf("Claim 2: %v", err)
	}
	if !res.Completed {
		t.Fatal("вторая доля должна закрыть конверт")
	}

	// Одиннадцатый лишний — конверт уже completed
	if _, err := s.Claim(ctx, 100, p.PacketID, 4); !errors.Is(err, common.ErrPacketEnded) {
		t.Fatalf("открытие пустого: %v, ожидался ErrPacketEnded", err)
	}
}

func TestClaimThrottle(t *testing.T) {
	cfg := testConfig()
	s, store := newTestService(t, cfg)
	ctx := context.Background()

	p := createPacket(t, s, store, 1, 100, 10000, 10, PolicyRandom)

	if _, err := s.Claim(ctx, 100, p.PacketID, 2); err != nil {
		t.Fatalf("Claim: %v", err)
	}
	// Мгновенный второй запрос того же пользователя гасится токеном частоты,
	// леджер даже не трогается
	if _, err := s.Claim(ctx, 100, p.PacketID, 2); !errors.Is(err, common.ErrTooFrequent) {
		t.Fatalf("мгновенный повтор: %v, ожидался ErrTooFrequent", err)
	}
}

func TestClaimWrongChat(t *testing.T) {
	cfg := testConfig()
	s, store := newTestService(t, cfg)
	ctx := context.Background()

	p := createPacket(t, s, store, 1, 100, 1000, 2, PolicyRandom)

	if _, err := s.Claim(ctx, 999, p.PacketID, 2); !errors.Is(err, common.ErrPacketNotFound) {
		t.Fatalf("чужой чат: %v, ожидался ErrPacketNotFound", err)
	}
}

func TestClaimExpiredLazily(t *testing.T) {
	cfg := testConfig()
	s, store := newTestService(t, cfg)
	ctx := context.Background()

	store.SetBalance(1, 1000)
	p := &RedPacket{
		PacketID:    "RPEXPIRED00001",
		SenderID:    1,
		ChatID:      100,
		ChatKind:    ChatGroup,
		Policy:      PolicyRandom,
		Title:       "старый",
		TotalAmount: 1000,
		TotalCount:  2,
		ExpiresAt:   time.Now().Add(-time.Hour),
	}
	if err := store.CreatePacket(ctx, p); err != nil {
		t.Fatalf("CreatePacket: %v", err)
	}

	if _, err := s.Claim(ctx, 100, p.PacketID, 2); !errors.Is(err, common.ErrPacketEnded) {
		t.Fatalf("открытие истёкшего: %v, ожидался ErrPacketEnded", err)
	}

	// Ленивое истечение перевело конверт в терминальный статус
	// и вернуло остаток отправителю
	got, err := store.GetPacket(ctx, p.PacketID)
	if err != nil {
		t.Fatalf("GetPacket: %v", err)
	}
	if got.Status != StatusExpired {
		t.Fatalf("статус %s, ожидался expired", got.Status)
	}
	if store.Balance(1) != 1000 {
		t.Fatalf("баланс отправителя %d, ожидалось 1000", store.Balance(1))
	}
}

func TestClaimBannedUser(t *testing.T) {
	cfg := testConfig()
	store := NewMemoryStore()
	locks := locker.NewMemoryLocker()
	t.Cleanup(locks.Close)
	s := NewService(store, locks, bannedUsers{7: true}, cfg)
	ctx := context.Background()

	store.SetBalance(1, 1000)
	p, err := s.Create(ctx, 1, 100, ChatGroup, &CreateParams{AmountKop: 1000, Count: 2, Policy: PolicyRandom, Title: "т"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := s.Claim(ctx, 100, p.PacketID, 7); !errors.Is(err, common.ErrSenderBanned) {
		t.Fatalf("забаненный получатель: %v, ожидался ErrSenderBanned", err)
	}
}

func TestCreateGuards(t *testing.T) {
	cfg := testConfig()
	ctx := context.Background()

	t.Run("недопустимый тип чата", func(t *testing.T) {
		s, store := newTestService(t, cfg)
		store.SetBalance(1, 1000)
		_, err := s.Create(ctx, 1, 100, ChatPrivate, &CreateParams{AmountKop: 1000, Count: 2, Policy: PolicyRandom, Title: "т"})
		if !errors.Is(err, common.ErrChatKindNotAllowed) {
			t.Fatalf("ошибка %v, ожидался ErrChatKindNotAllowed", err)
		}
	})

	t.Run("нет денег", func(t *testing.T) {
		s, _ := newTestService(t, cfg)
		_, err := s.Create(ctx, 1, 100, ChatGroup, &CreateParams{AmountKop: 1000, Count: 2, Policy: PolicyRandom, Title: "т"})
		if !errors.Is(err, common.ErrInsufficientBalance) {
			t.Fatalf("ошибка %v, ожидался ErrInsufficientBalance", err)
		}
	})

	t.Run("дубль заявки", func(t *testing.T) {
		s, store := newTestService(t, cfg)
		store.SetBalance(1, 5000)
		params := &CreateParams{AmountKop: 1000, Count: 2, Policy: PolicyRandom, Title: "т"}
		if _, err := s.Create(ctx, 1, 100, ChatGroup, params); err != nil {
			t.Fatalf("Create: %v", err)
		}
		// Та же заявка в окне защиты от дублей
		if _, err := s.Create(ctx, 1, 100, ChatGroup, params); !errors.Is(err, common.ErrDuplicateSubmit) {
			t.Fatalf("ошибка %v, ожидался ErrDuplicateSubmit", err)
		}
		// Другой заголовок — другой отпечаток, проходит
		other := &CreateParams{AmountKop: 1000, Count: 2, Policy: PolicyRandom, Title: "другой"}
		if _, err := s.Create(ctx, 1, 100, ChatGroup, other); err != nil {
			t.Fatalf("другая заявка: %v", err)
		}
	})

	t.Run("дневной лимит по числу", func(t *testing.T) {
		capped := testConfig()
		capped.RPDailyCountCap = 1
		s, store := newTestService(t, capped)
		store.SetBalance(1, 10000)
		if _, err := s.Create(ctx, 1, 100, ChatGroup, &CreateParams{AmountKop: 1000, Count: 2, Policy: PolicyRandom, Title: "a"}); err != nil {
			t.Fatalf("Create: %v", err)
		}
		_, err := s.Create(ctx, 1, 100, ChatGroup, &CreateParams{AmountKop: 1000, Count: 2, Policy: PolicyRandom, Title: "b"})
		if !errors.Is(err, common.ErrDailyCountCap) {
			t.Fatalf("ошибка %v, ожидался ErrDailyCountCap", err)
		}
	})

	t.Run("дневной лимит по сумме", func(t *testing.T) {
		capped := testConfig()
		capped.RPDailyAmountCap = 1500
		s, store := newTestService(t, capped)
		store.SetBalance(1, 10000)
		if _, err := s.Create(ctx, 1, 100, ChatGroup, &CreateParams{AmountKop: 1000, Count: 2, Policy: PolicyRandom, Title: "a"}); err != nil {
			t.Fatalf("Create: %v", err)
		}
		_, err := s.Create(ctx, 1, 100, ChatGroup, &CreateParams{AmountKop: 1000, Count: 2, Policy: PolicyRandom, Title: "b"})
		if !errors.Is(err, common.ErrDailyAmountCap) {
			t.Fatalf("ошибка %v, ожидался ErrDailyAmountCap", err)
		}
	})
}

func TestRevoke(t *testing.T) {
	cfg := testConfig()
	ctx := context.Background()

	t.Run("до первой выдачи", func(t *testing.T) {
		s, store := newTestService(t, cfg)
		p := createPacket(t, s, store, 1, 100, 1000, 2, PolicyRandom)

		refund, err := s.Revoke(ctx, p.PacketID, 1, false)
		if err != nil {
			t.Fatalf("Revoke: %v", err)
		}
		if refund != 1000 {
			t.Fatalf("возврат %d, ожидалось 1000", refund)
		}
		if store.Balance(1) != 1000 {
			t.Fatalf("баланс %d, ожидалось 1000", store.Balance(1))
		}
	})

	t.Run("после выдачи запрещён", func(t *testing.T) {
		s, store := newTestService(t, cfg)
		p := createPacket(t, s, store, 1, 100, 1000, 2, PolicyRandom)
		if _, err := s.Claim(ctx, 100, p.PacketID, 2); err != nil {
			t.Fatalf("Claim: %v", err)
		}
		if _, err := s.Revoke(ctx, p.PacketID, 1, false); !errors.Is(err, common.ErrRevokeAfterClaims) {
			t.Fatalf("ошибка %v, ожидался ErrRevokeAfterClaims", err)
		}
	})

	t.Run("чужой не может", func(t *testing.T) {
		s, store := newTestService(t, cfg)
		p := createPacket(t, s, store, 1, 100, 1000, 2, PolicyRandom)
		if _, err := s.Revoke(ctx, p.PacketID, 99, false); !errors.Is(err, common.ErrNotPacketSender) {
			t.Fatalf("ошибка %v, ожидался ErrNotPacketSender", err)
		}
	})

	t.Run("админ может чужой", func(t *testing.T) {
		s, store := newTestService(t, cfg)
		p := createPacket(t, s, store, 1, 100, 1000, 2, PolicyRandom)
		if _, err := s.Revoke(ctx, p.PacketID, 99, true); err != nil {
			t.Fatalf("Revoke админом: %v", err)
		}
	})
}

func TestExpireOverdue(t *testing.T) {
	cfg := testConfig()
	s, store := newTestService(t, cfg)
	ctx := context.Background()

	// Два просроченных, один живой
	for i, age := range []time.Duration{-2 * time.Hour, -time.Minute, time.Hour} {
		store.SetBalance(int64(10+i), 1000)
		p := &RedPacket{
			PacketID:    fmt.Sprintf("RPEXP%09d", i),
			SenderID:    int64(10 + i),
			ChatID:      100,
			ChatKind:    ChatGroup,
			Policy:      PolicyRandom,
			Title:       "т",
			TotalAmount: 1000,
			TotalCount:  2,
			ExpiresAt:   time.Now().Add(age),
		}
		if err := store.CreatePacket(ctx, p); err != nil {
			t.Fatalf("CreatePacket: %v", err)
		}
	}

	n, err := s.ExpireOverdue(ctx)
	if err != nil {
		t.Fatalf("ExpireOverdue: %v", err)
	}
	if n != 2 {
		t.Fatalf("закрыто %d конвертов, ожидалось 2", n)
	}

	// Остатки вернулись отправителям просроченных
	if store.Balance(10) != 1000 || store.Balance(11) != 1000 {
		t.Fatalf("балансы после истечения: %d, %d", store.Balance(10), store.Balance(11))
	}
	if store.Balance(12) != 0 {
		t.Fatalf("живой конверт тронут, баланс %d", store.Balance(12))
	}
}

func TestRandomLastClaimExactRemainder(t *testing.T) {
	cfg := testConfig()
	s, store := newTestService(t, cfg)
	ctx := context.Background()

	// 5.00 на 3 доли: сколько бы ни забрали первые двое,
	// третий получает точный остаток
	p := createPacket(t, s, store, 1, 100, 500, 3, PolicyRandom)

	var taken int64
	for i, uid := range []int64{2, 3} {
		res, err := s.Claim(ctx, 100, p.PacketID, uid)
		if err != nil {
			t.Fatalf("Claim %d: %v", i+1, err)
		}
		taken += res.Amount
	}

	res, err := s.Claim(ctx, 100, p.PacketID, 4)
	if err != nil {
		t.Fatalf("Claim 3: %v", err)
	}
	if res.Amount != 500-taken {
		t.Fatalf("последняя доля %d, ожидалось %d", res.Amount, 500-taken)
	}
	if !res.Completed {
		t.Fatal("последняя выдача должна закрыть конверт")
	}
}

func TestBestShareTracking(t *testing.T) {
	cfg := testConfig()
	s, store := newTestService(t, cfg)
	ctx := context.Background()

	p := createPacket(t, s, store, 1, 100, 10000, 5, PolicyRandom)

	var runningBest int64
	for _, uid := range []int64{2, 3, 4, 5, 6} {
		res, err := s.Claim(ctx, 100, p.PacketID, uid)
		if err != nil {
			t.Fatalf("Claim(%d): %v", uid, err)
		}
		wantBest := res.Amount > runningBest
		if res.IsBest != wantBest {
			t.Fatalf("пользователь %d: IsBest=%v при доле %d и максимуме %d", uid, res.IsBest, res.Amount, runningBest)
		}
		if wantBest {
			runningBest = res.Amount
		}
	}

	claims, err := store.ListClaims(ctx, p.PacketID)
	if err != nil {
		t.Fatalf("ListClaims: %v", err)
	}
	best := BestClaim(claims)
	if best == nil || best.Amount != runningBest {
		t.Fatalf("BestClaim = %+v, ожидалась доля %d", best, runningBest)
	}
}
