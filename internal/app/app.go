// Package app инициализирует все компоненты приложения.
// app.go — точка сборки: создаёт БД-пул, Redis (или in-memory замены),
// репозитории, сервисы, обработчики и собирает всё в один объект Bot.
package app

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/redpacket-bot/internal/bot"
	"serotonyl.ru/redpacket-bot/internal/bot/filters"
	"serotonyl.ru/redpacket-bot/internal/config"
	"serotonyl.ru/redpacket-bot/internal/db/postgres"
	"serotonyl.ru/redpacket-bot/internal/db/redisdb"
	"serotonyl.ru/redpacket-bot/internal/features/admin"
	"serotonyl.ru/redpacket-bot/internal/features/members"
	"serotonyl.ru/redpacket-bot/internal/features/redpacket"
	"serotonyl.ru/redpacket-bot/internal/features/wallet"
	"serotonyl.ru/redpacket-bot/internal/jobs"
	"serotonyl.ru/redpacket-bot/internal/locker"
)

// App содержит все компоненты приложения.
type App struct {
	Bot       *bot.Bot
	Scheduler *jobs.Scheduler
	DB        *pgxpool.Pool
	Redis     *redis.Client
	BotAPI    *tgbotapi.BotAPI

	closers []func()
}

// New создаёт и инициализирует приложение.
// Порядок инициализации важен — компоненты зависят друг от друга.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	app := &App{}

	// === 1. База данных ===
	pool, err := postgres.NewPool(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("ошибка подключения к БД: %w", err)
	}
	app.DB = pool

	if err := runMigrations(ctx, pool); err != nil {
		return nil, fmt.Errorf("ошибка миграций: %w", err)
	}

	// === 2. Redis или in-memory замены ===
	// Блокировки, токены частоты и состояние диалогов. Пустой REDIS_ADDR —
	// одноинстансный режим без Redis.
	var locks locker.Locker
	var convStore redpacket.ConversationStore
	if cfg.RedisAddr == "" {
		log.Warn("REDIS_ADDR пуст: блокировки и диалоги в памяти процесса")
		memLocks := locker.NewMemoryLocker()
		app.closers = append(app.closers, memLocks.Close)
		locks = memLocks

		memConv := redpacket.NewMemoryConversations(cfg.ConversationTTL)
		app.closers = append(app.closers, memConv.Close)
		convStore = memConv
	} else {
		client, err := redisdb.NewClient(ctx, cfg)
		if err != nil {
			return nil, err
		}
		app.Redis = client
		locks = locker.NewRedisLocker(client, "rp:lock")
		convStore = redpacket.NewRedisConversations(client, "rp:conv", cfg.ConversationTTL)
	}

	// === 3. Telegram Bot API ===
	botAPI, err := tgbotapi.NewBotAPI(cfg.TelegramBotToken)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания Telegram API: %w", err)
	}
	botAPI.Debug = cfg.AppEnv == "development"
	log.Infof("Авторизован как @%s", botAPI.Self.UserName)
	app.BotAPI = botAPI

	// === 4. Репозитории ===
	memberRepo := members.NewRepository(pool)
	walletRepo := wallet.NewRepository(pool)
	packetRepo := redpacket.NewRepository(pool)
	adminRepo := admin.NewRepository(pool)

	// === 5. Сервисы ===
	memberService := members.NewService(memberRepo)
	walletService := wallet.NewService(walletRepo, cfg.Timezone())
	redpacketService := redpacket.NewService(packetRepo, locks, memberService, cfg)
	adminService := admin.NewService(adminRepo, cfg)

	// === 6. Обработчики ===
	conversation := redpacket.NewConversation(convStore, redpacket.NewParser(cfg))
	redpacketHandler := redpacket.NewHandler(redpacketService, conversation, memberService, botAPI, cfg)
	adminHandler := admin.NewHandler(adminService, memberService, walletService, botAPI)

	// === 7. Фильтры ===
	chatFilter := filters.NewChatFilter(cfg.RPAllowedChats)

	// === 8. Собираем бота ===
	b := bot.New(
		botAPI, cfg,
		memberService,
		walletService,
		redpacketHandler,
		adminHandler,
		chatFilter,
	)
	app.Bot = b
	app.closers = append(app.closers, b.Close)

	// === 9. Планировщик задач ===
	app.Scheduler = jobs.NewScheduler(redpacketService, cfg.Timezone())

	return app, nil
}

// Close освобождает ресурсы приложения в обратном порядке создания.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			log.WithError(err).Warn("Ошибка закрытия Redis")
		}
	}
	if a.DB != nil {
		a.DB.Close()
	}
}

// runMigrations выполняет все SQL-миграции.
func runMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	if err := postgres.EnsureMigrationsTable(ctx, pool); err != nil {
		return err
	}

	migrations := []struct {
		version int
		sql     string
	}{
		{1, migration001Members},
		{2, migration002Wallet},
		{3, migration003RedPackets},
		{4, migration004Admin},
	}

	for _, m := range migrations {
		if err := postgres.ExecMigrationSQL(ctx, pool, m.version, m.sql); err != nil {
			return fmt.Errorf("миграция %d: %w", m.version, err)
		}
		log.Infof("Миграция %d применена", m.version)
	}
	return nil
}

// SQL-миграции встроены в код для упрощения деплоя.

var migration001Members = `
CREATE TABLE IF NOT EXISTS members (
    id BIGSERIAL PRIMARY KEY,
    user_id BIGINT UNIQUE NOT NULL,
    username VARCHAR(255),
    first_name VARCHAR(255) NOT NULL,
    last_name VARCHAR(255),
    is_banned BOOLEAN DEFAULT FALSE,
    joined_at TIMESTAMP DEFAULT NOW(),
    created_at TIMESTAMP DEFAULT NOW(),
    updated_at TIMESTAMP DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_members_user_id ON members(user_id);
CREATE INDEX IF NOT EXISTS idx_members_username ON members(username);
`

var migration002Wallet = `
CREATE TABLE IF NOT EXISTS balances (
    id BIGSERIAL PRIMARY KEY,
    user_id BIGINT UNIQUE NOT NULL REFERENCES members(user_id),
    balance BIGINT DEFAULT 0,
    total_earned BIGINT DEFAULT 0,
    total_spent BIGINT DEFAULT 0,
    created_at TIMESTAMP DEFAULT NOW(),
    updated_at TIMESTAMP DEFAULT NOW()
);
CREATE TABLE IF NOT EXISTS transactions (
    id BIGSERIAL PRIMARY KEY,
    from_user_id BIGINT REFERENCES members(user_id),
    to_user_id BIGINT REFERENCES members(user_id),
    amount BIGINT NOT NULL,
    transaction_type VARCHAR(50) NOT NULL,
    description TEXT,
    created_at TIMESTAMP DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_transactions_from_user ON transactions(from_user_id);
CREATE INDEX IF NOT EXISTS idx_transactions_to_user ON transactions(to_user_id);
CREATE INDEX IF NOT EXISTS idx_transactions_created_at ON transactions(created_at DESC);
`

var migration003RedPackets = `
CREATE TABLE IF NOT EXISTS red_packets (
    id BIGSERIAL PRIMARY KEY,
    packet_id VARCHAR(64) UNIQUE NOT NULL,
    sender_id BIGINT NOT NULL,
    chat_id BIGINT NOT NULL,
    chat_kind VARCHAR(20) NOT NULL,
    policy VARCHAR(20) NOT NULL,
    title VARCHAR(200) NOT NULL,
    total_amount BIGINT NOT NULL,
    total_count INTEGER NOT NULL,
    remain_amount BIGINT NOT NULL,
    remain_count INTEGER NOT NULL,
    status VARCHAR(20) NOT NULL DEFAULT 'active',
    best_user_id BIGINT DEFAULT 0,
    best_amount BIGINT DEFAULT 0,
    refund_amount BIGINT DEFAULT 0,
    expires_at TIMESTAMP NOT NULL,
    created_at TIMESTAMP DEFAULT NOW(),
    updated_at TIMESTAMP DEFAULT NOW(),
    CONSTRAINT chk_remain_amount CHECK (remain_amount >= 0 AND remain_amount <= total_amount),
    CONSTRAINT chk_remain_count CHECK (remain_count >= 0 AND remain_count <= total_count)
);
CREATE INDEX IF NOT EXISTS idx_red_packets_packet_id ON red_packets(packet_id);
CREATE INDEX IF NOT EXISTS idx_red_packets_sender ON red_packets(sender_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_red_packets_expiry ON red_packets(expires_at) WHERE status = 'active';
CREATE TABLE IF NOT EXISTS red_packet_claims (
    id BIGSERIAL PRIMARY KEY,
    packet_id VARCHAR(64) NOT NULL REFERENCES red_packets(packet_id),
    user_id BIGINT NOT NULL,
    amount BIGINT NOT NULL,
    claim_order INTEGER NOT NULL,
    is_best BOOLEAN DEFAULT FALSE,
    claimed_at TIMESTAMP DEFAULT NOW(),
    CONSTRAINT uq_packet_user UNIQUE (packet_id, user_id)
);
CREATE INDEX IF NOT EXISTS idx_claims_packet ON red_packet_claims(packet_id, claim_order);
CREATE INDEX IF NOT EXISTS idx_claims_user ON red_packet_claims(user_id, claimed_at DESC);
`

var migration004Admin = `
CREATE TABLE IF NOT EXISTS admin_sessions (
    id BIGSERIAL PRIMARY KEY,
    user_id BIGINT NOT NULL,
    session_token VARCHAR(255) UNIQUE,
    authenticated_at TIMESTAMP DEFAULT NOW(),
    expires_at TIMESTAMP,
    last_activity TIMESTAMP DEFAULT NOW(),
    is_active BOOLEAN DEFAULT TRUE
);
CREATE INDEX IF NOT EXISTS idx_admin_sessions_user_id ON admin_sessions(user_id);
CREATE TABLE IF NOT EXISTS admin_login_attempts (
    id BIGSERIAL PRIMARY KEY,
    user_id BIGINT,
    attempt_time TIMESTAMP DEFAULT NOW(),
    success BOOLEAN DEFAULT FALSE
);
CREATE INDEX IF NOT EXISTS idx_login_attempts_user ON admin_login_attempts(user_id, attempt_time DESC);
`
