// conversation.go — пошаговый диалог создания конверта.
//
// Машина состояний: idle → await_amount → await_count → await_title →
// confirming → (создание | отмена). Неразборчивый ввод не двигает машину:
// пользователь остаётся на том же шаге и получает повторный запрос.
// Состояние живёт с TTL: брошенный диалог тихо испаряется.
//
// Ключ состояния — пара (чат, пользователь): в одном чате параллельно
// могут собирать конверты разные люди, не мешая друг другу.
package redpacket

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/redpacket-bot/internal/common"
)

// Stage — шаг диалога создания.
type Stage string

const (
	StageAwaitAmount Stage = "await_amount"
	StageAwaitCount  Stage = "await_count"
	StageAwaitTitle  Stage = "await_title"
	StageConfirming  Stage = "confirming"
)

// ConversationState — накопленные ответы пользователя.
type ConversationState struct {
	Stage     Stage     `json:"stage"`
	AmountKop int64     `json:"amount_kop"`
	Count     int       `json:"count"`
	Policy    Policy    `json:"policy"`
	Title     string    `json:"title"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ConversationStore хранит состояние диалога с TTL.
// Get возвращает (nil, nil), если диалога нет или он истёк.
type ConversationStore interface {
	Get(ctx context.Context, chatID, userID int64) (*ConversationState, error)
	Set(ctx context.Context, chatID, userID int64, st *ConversationState) error
	Clear(ctx context.Context, chatID, userID int64) error
}

func convKey(prefix string, chatID, userID int64) string {
	return fmt.Sprintf("%s:%d:%d", prefix, chatID, userID)
}

// --- Redis-реализация ---

// RedisConversations хранит состояния диалогов в Redis как JSON.
type RedisConversations struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

var _ ConversationStore = (*RedisConversations)(nil)

func NewRedisConversations(client *redis.Client, prefix string, ttl time.Duration) *RedisConversations {
	return &RedisConversations{client: client, prefix: prefix, ttl: ttl}
}

func (r *RedisConversations) Get(ctx context.Context, chatID, userID int64) (*ConversationState, error) {
	raw, err := r.client.Get(ctx, convKey(r.prefix, chatID, userID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения состояния диалога: %w", err)
	}
	var st ConversationState
	if err := json.Unmarshal(raw, &st); err != nil {
		// Битое состояние хуже отсутствующего
		return nil, nil
	}
	return &st, nil
}

func (r *RedisConversations) Set(ctx context.Context, chatID, userID int64, st *ConversationState) error {
	st.UpdatedAt = time.Now()
	raw, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("ошибка сериализации состояния диалога: %w", err)
	}
	return r.client.Set(ctx, convKey(r.prefix, chatID, userID), raw, r.ttl).Err()
}

func (r *RedisConversations) Clear(ctx context.Context, chatID, userID int64) error {
	return r.client.Del(ctx, convKey(r.prefix, chatID, userID)).Err()
}

// --- In-memory реализация ---

type memoryConvEntry struct {
	state     ConversationState
	expiresAt time.Time
}

// MemoryConversations — состояния диалогов в памяти процесса,
// с фоновой уборкой истёкших записей.
type MemoryConversations struct {
	mu      sync.Mutex
	entries map[string]memoryConvEntry
	ttl     time.Duration

	stopCh   chan struct{}
	stopOnce sync.Once
}

var _ ConversationStore = (*MemoryConversations)(nil)

func NewMemoryConversations(ttl time.Duration) *MemoryConversations {
	m := &MemoryConversations{
		entries: make(map[string]memoryConvEntry),
		ttl:     ttl,
		stopCh:  make(chan struct{}),
	}
	go m.cleanupLoop()
	return m
}

func (m *MemoryConversations) Get(_ context.Context, chatID, userID int64) (*ConversationState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[convKey("conv", chatID, userID)]
	if !ok || time.Now().After(e.expiresAt) {
		return nil, nil
	}
	st := e.state
	return &st, nil
}

func (m *MemoryConversations) Set(_ context.Context, chatID, userID int64, st *ConversationState) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	st.UpdatedAt = time.Now()
	m.entries[convKey("conv", chatID, userID)] = memoryConvEntry{
		state:     *st,
		expiresAt: time.Now().Add(m.ttl),
	}
	return nil
}

func (m *MemoryConversations) Clear(_ context.Context, chatID, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, convKey("conv", chatID, userID))
	return nil
}

func (m *MemoryConversations) cleanupLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.mu.Lock()
			now := time.Now()
			for k, e := range m.entries {
				if now.After(e.expiresAt) {
					delete(m.entries, k)
				}
			}
			m.mu.Unlock()
		case <-m.stopCh:
			return
		}
	}
}

// Close останавливает фоновую уборку.
func (m *MemoryConversations) Close() {
	m.stopOnce.Do(func() { close(m.stopCh) })
}

// --- Машина диалога ---

var (
	confirmWords = []string{"да", "ок", "ok", "yes", "+", "давай"}
	cancelWords  = []string{"отмена", "cancel", "стоп", "нет"}
)

// StepResult — исход одного шага диалога.
type StepResult struct {
	Reply     string        // ответ пользователю
	Params    *CreateParams // != nil — диалог завершён подтверждением
	Cancelled bool
}

// Conversation ведёт диалог создания конверта.
type Conversation struct {
	store  ConversationStore
	parser *Parser
}

// NewConversation создаёт машину диалога.
func NewConversation(store ConversationStore, parser *Parser) *Conversation {
	return &Conversation{store: store, parser: parser}
}

// Start открывает диалог с шага суммы. Уже идущий диалог перезапускается.
func (c *Conversation) Start(ctx context.Context, chatID, userID int64) (*StepResult, error) {
	st := &ConversationState{Stage: StageAwaitAmount, Policy: PolicyRandom}
	if err := c.store.Set(ctx, chatID, userID, st); err != nil {
		return nil, err
	}
	return &StepResult{Reply: "🧧 Собираем конверт. Введите сумму (например, 100 или 99.50):"}, nil
}

// Active сообщает, ведёт ли пользователь диалог в этом чате.
func (c *Conversation) Active(ctx context.Context, chatID, userID int64) (bool, error) {
	st, err := c.store.Get(ctx, chatID, userID)
	return st != nil, err
}

// HandleText обрабатывает очередную реплику пользователя.
// Возвращает (nil, nil), если диалога нет, — текст не для нас.
func (c *Conversation) HandleText(ctx context.Context, chatID, userID int64, text string) (*StepResult, error) {
	st, err := c.store.Get(ctx, chatID, userID)
	if err != nil {
		return nil, err
	}
	if st == nil {
		return nil, nil
	}

	text = strings.TrimSpace(text)
	if isWordOf(text, cancelWords) {
		if err := c.store.Clear(ctx, chatID, userID); err != nil {
			log.WithError(err).Warn("Не удалось очистить состояние диалога")
		}
		return &StepResult{Reply: "Создание конверта отменено.", Cancelled: true}, nil
	}

	switch st.Stage {
	case StageAwaitAmount:
		return c.stepAmount(ctx, chatID, userID, st, text)
	case StageAwaitCount:
		return c.stepCount(ctx, chatID, userID, st, text)
	case StageAwaitTitle:
		return c.stepTitle(ctx, chatID, userID, st, text)
	case StageConfirming:
		return c.stepConfirm(ctx, chatID, userID, st, text)
	default:
		// Незнакомый шаг из старой версии — начинаем заново
		if err := c.store.Clear(ctx, chatID, userID); err != nil {
			log.WithError(err).Warn("Не удалось очистить состояние диалога")
		}
		return c.Start(ctx, chatID, userID)
	}
}

func (c *Conversation) stepAmount(ctx context.Context, chatID, userID int64, st *ConversationState, text string) (*StepResult, error) {
	amount, err := c.parser.ParseAmount(text)
	if err != nil {
		return &StepResult{Reply: UserText(err) + "\nВведите сумму (например, 100 или 99.50):"}, nil
	}
	st.AmountKop = amount
	st.Stage = StageAwaitCount
	if err := c.store.Set(ctx, chatID, userID, st); err != nil {
		return nil, err
	}
	return &StepResult{Reply: "На сколько долей делим? Число, можно добавить «поровну»:"}, nil
}

func (c *Conversation) stepCount(ctx context.Context, chatID, userID int64, st *ConversationState, text string) (*StepResult, error) {
	fields := strings.Fields(text)
	if len(fields) == 2 && isWordOf(fields[1], []string{"поровну", "even"}) {
		st.Policy = PolicyEven
		text = fields[0]
	}
	count, err := c.parser.ParseCount(text)
	if err != nil {
		return &StepResult{Reply: UserText(err) + "\nВведите количество долей (целое число):"}, nil
	}
	st.Count = count
	st.Stage = StageAwaitTitle
	if err := c.store.Set(ctx, chatID, userID, st); err != nil {
		return nil, err
	}
	return &StepResult{Reply: "Заголовок конверта (или «-» для стандартного):"}, nil
}

func (c *Conversation) stepTitle(ctx context.Context, chatID, userID int64, st *ConversationState, text string) (*StepResult, error) {
	if text == "-" {
		text = ""
	}
	title, err := c.parser.ParseTitle(text)
	if err != nil {
		return &StepResult{Reply: UserText(err) + "\nЗаголовок конверта (или «-» для стандартного):"}, nil
	}
	st.Title = title

	// Полная проверка собранных параметров до подтверждения:
	// узнать о слишком мелкой доле лучше сейчас, чем после «да»
	params := st.params()
	if err := c.parser.Validate(params); err != nil {
		if clearErr := c.store.Clear(ctx, chatID, userID); clearErr != nil {
			log.WithError(clearErr).Warn("Не удалось очистить состояние диалога")
		}
		return &StepResult{Reply: UserText(err) + "\nСоздание отменено, начните заново.", Cancelled: true}, nil
	}

	st.Stage = StageConfirming
	if err := c.store.Set(ctx, chatID, userID, st); err != nil {
		return nil, err
	}

	policyText := "на удачу"
	if st.Policy == PolicyEven {
		policyText = "поровну"
	}
	reply := fmt.Sprintf(
		"Проверьте: %s ₽ на %d долей (%s)\n«%s»\nОтправляем? (да/нет)",
		common.FormatMoney(st.AmountKop), st.Count, policyText, st.Title,
	)
	return &StepResult{Reply: reply}, nil
}

func (c *Conversation) stepConfirm(ctx context.Context, chatID, userID int64, st *ConversationState, text string) (*StepResult, error) {
	if !isWordOf(text, confirmWords) {
		return &StepResult{Reply: "Ответьте «да» для отправки или «отмена»."}, nil
	}
	if err := c.store.Clear(ctx, chatID, userID); err != nil {
		log.WithError(err).Warn("Не удалось очистить состояние диалога")
	}
	return &StepResult{Params: st.params()}, nil
}

func (st *ConversationState) params() *CreateParams {
	return &CreateParams{
		AmountKop: st.AmountKop,
		Count:     st.Count,
		Policy:    st.Policy,
		Title:     st.Title,
	}
}

func isWordOf(text string, words []string) bool {
	text = strings.ToLower(strings.TrimSpace(text))
	for _, w := range words {
		if text == w {
			return true
		}
	}
	return false
}
