// service.go — бизнес-логика конвертов: создание, выдача долей,
// отзыв, истечение, сводка.
//
// Путь выдачи (шаги в Claim):
//  1. токен частоты на пользователя — не чаще одной попытки в N секунд;
//  2. блокировка (конверт, пользователь) через set-if-absent с TTL;
//  3. перечитка конверта, ленивое истечение;
//  4. проверка леджера — повтор безопасно отклоняется;
//  5. атомарная транзакция хранилища: доля + леджер + счётчики + начисление.
//
// Блокировка снимается в defer на любом пути выхода. Падение процесса
// между фиксацией и снятием просто оставляет ключ истекать по TTL.
package redpacket

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/redpacket-bot/internal/common"
	"serotonyl.ru/redpacket-bot/internal/config"
	"serotonyl.ru/redpacket-bot/internal/locker"
)

// MemberChecker — проверка, не заблокирован ли пользователь.
// Реализуется сервисом участников; интерфейс здесь, чтобы движок
// тестировался без него.
type MemberChecker interface {
	IsActive(ctx context.Context, userID int64) (bool, error)
}

// Service — движок красных конвертов. Все зависимости — через конструктор.
type Service struct {
	store   Store
	locks   locker.Locker
	members MemberChecker
	alloc   *Allocator
	cfg     *config.Config
}

// NewService создаёт движок конвертов.
func NewService(store Store, locks locker.Locker, members MemberChecker, cfg *config.Config) *Service {
	return &Service{
		store:   store,
		locks:   locks,
		members: members,
		alloc:   NewAllocator(cfg.RPMinShare),
		cfg:     cfg,
	}
}

// Create проверяет политику отправителя и создаёт конверт.
// Списание номинала и вставка конверта — одна транзакция хранилища:
// любой сбой после списания откатывает и его.
func (s *Service) Create(ctx context.Context, senderID, chatID int64, chatKind ChatKind, params *CreateParams) (*RedPacket, error) {
	if !lo.Contains(s.cfg.RPAllowedChats, string(chatKind)) {
		return nil, common.ErrChatKindNotAllowed
	}

	if senderID != 0 {
		active, err := s.members.IsActive(ctx, senderID)
		if err != nil {
			return nil, fmt.Errorf("ошибка проверки отправителя: %w", err)
		}
		if !active {
			return nil, common.ErrSenderBanned
		}

		// Скользящие дневные лимиты отправителя
		since := common.StartOfDay(time.Now(), s.cfg.Timezone())
		count, amount, err := s.store.SenderStatsSince(ctx, senderID, since)
		if err != nil {
			return nil, fmt.Errorf("ошибка подсчёта дневных лимитов: %w", err)
		}
		if count >= s.cfg.RPDailyCountCap {
			return nil, common.ErrDailyCountCap
		}
		if amount+params.AmountKop > s.cfg.RPDailyAmountCap {
			return nil, common.ErrDailyAmountCap
		}
	}

	// Защита от двойной отправки: отпечаток заявки живёт несколько секунд.
	// Заголовок входит в отпечаток, чтобы два действительно разных
	// конверта никогда не блокировали друг друга.
	dupKey := createFingerprint(senderID, params)
	ok, err := s.locks.TryAcquire(ctx, dupKey, s.cfg.DupGuardTTL)
	if err != nil {
		return nil, fmt.Errorf("ошибка защиты от дублей: %w", err)
	}
	if !ok {
		return nil, common.ErrDuplicateSubmit
	}

	p := &RedPacket{
		PacketID:     newPacketID(),
		SenderID:     senderID,
		ChatID:       chatID,
		ChatKind:     chatKind,
		Policy:       params.Policy,
		Title:        params.Title,
		TotalAmount:  params.AmountKop,
		TotalCount:   params.Count,
		RemainAmount: params.AmountKop,
		RemainCount:  params.Count,
		Status:       StatusActive,
		ExpiresAt:    time.Now().Add(time.Duration(s.cfg.RPExpiryHours) * time.Hour),
	}

	if err := s.store.CreatePacket(ctx, p); err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{
		"packet_id": p.PacketID,
		"sender_id": senderID,
		"amount":    common.FormatMoney(p.TotalAmount),
		"count":     p.TotalCount,
		"policy":    p.Policy,
	}).Info("Конверт создан")
	return p, nil
}

// Claim выдаёт пользователю долю из конверта.
// Либо фиксируется целиком, либо отклоняется — промежуточных состояний
// наружу нет, вызывающая сторона повторов не получает.
func (s *Service) Claim(ctx context.Context, chatID int64, packetID string, userID int64) (*ClaimResult, error) {
	// 1. Токен частоты: ключ не снимается, истекает сам
	ok, err := s.locks.TryAcquire(ctx, throttleKey(userID), s.cfg.ClaimThrottle)
	if err != nil {
		return nil, fmt.Errorf("ошибка токена частоты: %w", err)
	}
	if !ok {
		return nil, common.ErrTooFrequent
	}

	// 2. Блокировка (конверт, пользователь): дубль-тап того же
	// пользователя не попадёт в обработку дважды
	lockKey := claimLockKey(packetID, userID)
	ok, err = s.locks.TryAcquire(ctx, lockKey, s.cfg.ClaimLockTTL)
	if err != nil {
		return nil, fmt.Errorf("ошибка блокировки: %w", err)
	}
	if !ok {
		return nil, common.ErrSystemBusy
	}
	defer func() {
		if err := s.locks.Release(ctx, lockKey); err != nil {
			log.WithError(err).WithField("key", lockKey).Warn("Не удалось снять блокировку (истечёт по TTL)")
		}
	}()

	if active, err := s.members.IsActive(ctx, userID); err != nil {
		return nil, fmt.Errorf("ошибка проверки получателя: %w", err)
	} else if !active {
		return nil, common.ErrSenderBanned
	}

	// 3. Перечитываем конверт
	p, err := s.store.GetPacket(ctx, packetID)
	if err != nil {
		return nil, err
	}
	if p.ChatID != chatID {
		// Конверт из другого чата не раскрываем
		return nil, common.ErrPacketNotFound
	}
	if p.Status == StatusActive && p.ExpiredAt(time.Now()) {
		// Ленивое истечение: cron мог ещё не добежать.
		// ErrPacketEnded здесь — конверт закрыли параллельно, это не сбой
		if _, err := s.store.Expire(ctx, packetID); err != nil && !errors.Is(err, common.ErrPacketEnded) {
			log.WithError(err).WithField("packet_id", packetID).Warn("Ленивое истечение не удалось")
		}
		return nil, common.ErrPacketEnded
	}
	if p.Status != StatusActive {
		return nil, common.ErrPacketEnded
	}
	if p.RemainCount <= 0 || p.RemainAmount <= 0 {
		return nil, common.ErrPacketEmpty
	}

	// 4. Леджер: одна доля на пользователя на конверт
	claimed, err := s.store.HasClaim(ctx, packetID, userID)
	if err != nil {
		return nil, fmt.Errorf("ошибка проверки леджера: %w", err)
	}
	if claimed {
		return nil, common.ErrAlreadyClaimed
	}

	// 5. Атомарная выдача. Доля считается внутри транзакции по остатку
	// под блокировкой строки — параллельные выдачи других пользователей
	// не могут раздать больше, чем лежит в конверте
	claim, completed, err := s.store.Claim(ctx, packetID, userID, func(remainAmount int64, remainCount int) (int64, error) {
		return s.alloc.Next(remainAmount, remainCount, p.Policy)
	})
	if err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{
		"packet_id":   packetID,
		"user_id":     userID,
		"amount":      common.FormatMoney(claim.Amount),
		"claim_order": claim.ClaimOrder,
		"completed":   completed,
	}).Info("Доля выдана")

	return &ClaimResult{
		Amount:     claim.Amount,
		ClaimOrder: claim.ClaimOrder,
		IsBest:     claim.IsBest,
		Completed:  completed,
	}, nil
}

// Revoke отзывает конверт и возвращает номинал отправителю.
// Доступно отправителю и админам, только пока не разобрана ни одна доля.
func (s *Service) Revoke(ctx context.Context, packetID string, requesterID int64, isAdmin bool) (int64, error) {
	p, err := s.store.GetPacket(ctx, packetID)
	if err != nil {
		return 0, err
	}
	if !isAdmin && p.SenderID != requesterID {
		return 0, common.ErrNotPacketSender
	}

	refund, err := s.store.Revoke(ctx, packetID)
	if err != nil {
		return 0, err
	}

	log.WithFields(log.Fields{
		"packet_id": packetID,
		"by":        requesterID,
		"refund":    common.FormatMoney(refund),
	}).Info("Конверт отозван")
	return refund, nil
}

// GetSummary возвращает конверт и его выдачи для показа в чате.
func (s *Service) GetSummary(ctx context.Context, packetID string) (*Summary, error) {
	p, err := s.store.GetPacket(ctx, packetID)
	if err != nil {
		return nil, err
	}
	claims, err := s.store.ListClaims(ctx, packetID)
	if err != nil {
		return nil, err
	}
	return &Summary{Packet: p, Claims: claims}, nil
}

// ExpireOverdue закрывает все просроченные конверты и возвращает остатки.
// Вызывается кроном раз в час; возвращает число закрытых конвертов.
func (s *Service) ExpireOverdue(ctx context.Context) (int, error) {
	ids, err := s.store.ListExpiredIDs(ctx, time.Now(), 500)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, id := range ids {
		refund, err := s.store.Expire(ctx, id)
		if err != nil {
			// Конверт могли закрыть параллельно — это не сбой обхода
			log.WithError(err).WithField("packet_id", id).Warn("Не удалось закрыть просроченный конверт")
			continue
		}
		count++
		log.WithFields(log.Fields{
			"packet_id": id,
			"refund":    common.FormatMoney(refund),
		}).Info("Конверт истёк, остаток возвращён")
	}
	return count, nil
}

// StatsSince возвращает число конвертов и выдач с момента since.
func (s *Service) StatsSince(ctx context.Context, since time.Time) (int, int, error) {
	return s.store.StatsSince(ctx, since)
}

// BestClaim возвращает лучшую долю из списка (для сводки завершённого
// конверта); nil, если выдач не было.
func BestClaim(claims []*ClaimRecord) *ClaimRecord {
	if len(claims) == 0 {
		return nil
	}
	return lo.MaxBy(claims, func(a, b *ClaimRecord) bool {
		return a.Amount > b.Amount
	})
}

func newPacketID() string {
	return "RP" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:12])
}

func createFingerprint(senderID int64, params *CreateParams) string {
	sum := sha1.Sum([]byte(fmt.Sprintf("create|%d|%d|%d|%s", senderID, params.AmountKop, params.Count, params.Title)))
	return "dup:" + hex.EncodeToString(sum[:])
}

func throttleKey(userID int64) string {
	return fmt.Sprintf("freq:%d", userID)
}

func claimLockKey(packetID string, userID int64) string {
	return fmt.Sprintf("claim:%s:%d", packetID, userID)
}
