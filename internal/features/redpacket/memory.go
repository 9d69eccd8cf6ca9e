// memory.go — in-memory реализация Store для тестов и разработки
// без PostgreSQL. Один мьютекс на всё хранилище: каждая операция
// атомарна по построению, чем и пользуются конкурентные тесты.
package redpacket

import (
	"context"
	"sort"
	"sync"
	"time"

	"serotonyl.ru/redpacket-bot/internal/common"
)

// MemoryStore реализует Store в памяти процесса.
type MemoryStore struct {
	mu       sync.Mutex
	packets  map[string]*RedPacket
	claims   map[string][]*ClaimRecord // packetID → выдачи в порядке выдачи
	balances map[int64]int64           // userID → копейки
	nextID   int64
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore создаёт пустое хранилище.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		packets:  make(map[string]*RedPacket),
		claims:   make(map[string][]*ClaimRecord),
		balances: make(map[int64]int64),
	}
}

// SetBalance выставляет баланс пользователя (настройка тестов и дев-стендов).
func (s *MemoryStore) SetBalance(userID, kop int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[userID] = kop
}

// Balance возвращает текущий баланс пользователя.
func (s *MemoryStore) Balance(userID int64) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balances[userID]
}

func (s *MemoryStore) CreatePacket(_ context.Context, p *RedPacket) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.SenderID != 0 {
		if s.balances[p.SenderID] < p.TotalAmount {
			return common.ErrInsufficientBalance
		}
		s.balances[p.SenderID] -= p.TotalAmount
	}

	s.nextID++
	now := time.Now()
	stored := *p
	stored.ID = s.nextID
	stored.RemainAmount = p.TotalAmount
	stored.RemainCount = p.TotalCount
	stored.Status = StatusActive
	stored.CreatedAt = now
	stored.UpdatedAt = now
	s.packets[p.PacketID] = &stored
	return nil
}

func (s *MemoryStore) GetPacket(_ context.Context, packetID string) (*RedPacket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.packets[packetID]
	if !ok {
		return nil, common.ErrPacketNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *MemoryStore) HasClaim(_ context.Context, packetID string, userID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range s.claims[packetID] {
		if c.UserID == userID {
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryStore) Claim(_ context.Context, packetID string, userID int64, alloc AllocateFunc) (*ClaimRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.packets[packetID]
	if !ok {
		return nil, false, common.ErrPacketNotFound
	}
	if p.Status != StatusActive {
		return nil, false, common.ErrPacketEnded
	}
	if p.RemainCount <= 0 || p.RemainAmount <= 0 {
		return nil, false, common.ErrPacketEmpty
	}
	for _, c := range s.claims[packetID] {
		if c.UserID == userID {
			return nil, false, common.ErrAlreadyClaimed
		}
	}

	share, err := alloc(p.RemainAmount, p.RemainCount)
	if err != nil {
		return nil, false, err
	}

	s.nextID++
	claim := &ClaimRecord{
		ID:         s.nextID,
		PacketID:   packetID,
		UserID:     userID,
		Amount:     share,
		ClaimOrder: p.TotalCount - p.RemainCount + 1,
		IsBest:     share > p.BestAmount,
		ClaimedAt:  time.Now(),
	}
	s.claims[packetID] = append(s.claims[packetID], claim)

	p.RemainAmount -= share
	p.RemainCount--
	p.UpdatedAt = claim.ClaimedAt
	if claim.IsBest {
		p.BestUserID = userID
		p.BestAmount = share
	}
	completed := p.RemainCount == 0
	if completed {
		p.Status = StatusCompleted
	}

	s.balances[userID] += share
	return claim, completed, nil
}

func (s *MemoryStore) Revoke(_ context.Context, packetID string) (int64, error) {
	return s.terminate(packetID, StatusRevoked, true)
}

func (s *MemoryStore) Expire(_ context.Context, packetID string) (int64, error) {
	return s.terminate(packetID, StatusExpired, false)
}

func (s *MemoryStore) terminate(packetID string, status Status, requireUntouched bool) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.packets[packetID]
	if !ok {
		return 0, common.ErrPacketNotFound
	}
	if p.Status != StatusActive {
		return 0, common.ErrPacketEnded
	}
	if requireUntouched && p.RemainCount != p.TotalCount {
		return 0, common.ErrRevokeAfterClaims
	}

	refund := p.RemainAmount
	p.Status = status
	p.RefundAmount = refund
	p.UpdatedAt = time.Now()
	if refund > 0 && p.SenderID != 0 {
		s.balances[p.SenderID] += refund
	}
	return refund, nil
}

func (s *MemoryStore) ListClaims(_ context.Context, packetID string) ([]*ClaimRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	src := s.claims[packetID]
	out := make([]*ClaimRecord, len(src))
	for i, c := range src {
		cp := *c
		out[i] = &cp
	}
	return out, nil
}

func (s *MemoryStore) ListExpiredIDs(_ context.Context, now time.Time, limit int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []string
	for id, p := range s.packets {
		if p.Status == StatusActive && now.After(p.ExpiresAt) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

func (s *MemoryStore) StatsSince(_ context.Context, since time.Time) (int, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	packets, claims := 0, 0
	for _, p := range s.packets {
		if !p.CreatedAt.Before(since) {
			packets++
		}
	}
	for _, cs := range s.claims {
		for _, c := range cs {
			if !c.ClaimedAt.Before(since) {
				claims++
			}
		}
	}
	return packets, claims, nil
}

func (s *MemoryStore) SenderStatsSince(_ context.Context, senderID int64, since time.Time) (int, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	var amount int64
	for _, p := range s.packets {
		if p.SenderID == senderID && !p.CreatedAt.Before(since) {
			count++
			amount += p.TotalAmount
		}
	}
	return count, amount, nil
}
