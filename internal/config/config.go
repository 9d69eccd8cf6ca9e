// Package config загружает конфигурацию бота из переменных окружения.
// Используется envconfig для маппинга переменных окружения на поля структуры.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"

	"serotonyl.ru/redpacket-bot/internal/common"
)

// Config содержит ВСЕ настройки приложения.
type Config struct {
	// --- Telegram ---
	TelegramBotToken string  `envconfig:"TELEGRAM_BOT_TOKEN" required:"true"`
	AdminIDsRaw      string  `envconfig:"ADMIN_IDS" default:""`
	AdminIDs         []int64 `envconfig:"-"` // заполняется в Load из AdminIDsRaw

	// --- Database ---
	// В Docker внутри контейнера "localhost" почти всегда неправильно.
	// Дефолт — имя сервиса в docker-compose, для локалки переопределяй DB_HOST.
	DBHost     string `envconfig:"DB_HOST" default:"postgres"`
	DBPort     int    `envconfig:"DB_PORT" default:"5432"`
	DBUser     string `envconfig:"DB_USER" default:"botuser"`
	DBPassword string `envconfig:"DB_PASSWORD" required:"true"`
	DBName     string `envconfig:"DB_NAME" default:"redpacket_bot"`
	DBSSLMode  string `envconfig:"DB_SSLMODE" default:"disable"`
	DBMaxConns int32  `envconfig:"DB_MAX_CONNS" default:"25"`
	DBMinConns int32  `envconfig:"DB_MIN_CONNS" default:"5"`

	// --- Redis ---
	// Redis держит распределённые блокировки, токены частоты, отпечатки
	// дублей и состояние диалогов. Пустой REDIS_ADDR переключает всё это
	// на in-memory реализации (годится только для одного инстанса).
	RedisAddr     string `envconfig:"REDIS_ADDR" default:"redis:6379"`
	RedisPassword string `envconfig:"REDIS_PASSWORD" default:""`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`

	// --- Application ---
	AppEnv      string `envconfig:"APP_ENV" default:"development"`
	AppLogLevel string `envconfig:"APP_LOG_LEVEL" default:"debug"`
	AppTimezone string `envconfig:"APP_TIMEZONE" default:"Europe/Moscow"`

	// --- Bot runtime ---
	// Сколько апдейтов обрабатываем параллельно. Иначе "go на каждый апдейт"
	// = утечка памяти при флуде.
	BotMaxInflight          int `envconfig:"BOT_MAX_INFLIGHT" default:"64"`
	BotUpdateTimeoutSeconds int `envconfig:"BOT_UPDATE_TIMEOUT_SECONDS" default:"60"`

	// --- Admin ---
	AdminPasswordHash string `envconfig:"ADMIN_PASSWORD_HASH" required:"true"`

	// --- Red packet policy ---
	RPMinTotalRaw       string `envconfig:"REDPACKET_MIN_TOTAL" default:"0.01"`
	RPMaxTotalRaw       string `envconfig:"REDPACKET_MAX_TOTAL" default:"20000.00"`
	RPMinShareRaw       string `envconfig:"REDPACKET_MIN_SHARE" default:"0.01"`
	RPMaxCount          int    `envconfig:"REDPACKET_MAX_COUNT" default:"100"`
	RPExpiryHours       int    `envconfig:"REDPACKET_EXPIRY_HOURS" default:"24"`
	RPDailyAmountCapRaw string `envconfig:"REDPACKET_DAILY_AMOUNT_CAP" default:"50000.00"`
	RPDailyCountCap     int    `envconfig:"REDPACKET_DAILY_COUNT_CAP" default:"50"`
	// Типы чатов, где разрешено создание: private/group/supergroup через запятую
	RPAllowedChatsRaw string   `envconfig:"REDPACKET_ALLOWED_CHATS" default:"group,supergroup"`
	RPAllowedChats    []string `envconfig:"-"`
	RPDefaultGreeting string   `envconfig:"REDPACKET_DEFAULT_GREETING" default:"恭喜发财"`

	// Суммы в копейках, заполняются в Load из *Raw-полей
	RPMinTotal       int64 `envconfig:"-"`
	RPMaxTotal       int64 `envconfig:"-"`
	RPMinShare       int64 `envconfig:"-"`
	RPDailyAmountCap int64 `envconfig:"-"`

	// --- Guards / TTLs ---
	// Токен частоты: одна попытка открыть конверт в N секунд на пользователя
	ClaimThrottle time.Duration `envconfig:"REDPACKET_CLAIM_THROTTLE" default:"3s"`
	// TTL блокировки (packet, user); при падении процесса снимется сама
	ClaimLockTTL time.Duration `envconfig:"REDPACKET_CLAIM_LOCK_TTL" default:"10s"`
	// TTL отпечатка против двойной отправки одинаковой заявки на создание
	DupGuardTTL time.Duration `envconfig:"REDPACKET_DUP_GUARD_TTL" default:"5s"`
	// TTL диалога создания: дольше молчишь — начинай заново
	ConversationTTL time.Duration `envconfig:"REDPACKET_CONVERSATION_TTL" default:"10m"`

	// --- Rate Limiting (общий, на любые сообщения) ---
	RateLimitRequests int           `envconfig:"RATE_LIMIT_REQUESTS" default:"10"`
	RateLimitWindow   time.Duration `envconfig:"RATE_LIMIT_WINDOW" default:"1m"`
}

// DatabaseDSN возвращает строку подключения к PostgreSQL в формате DSN.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName, c.DBSSLMode,
	)
}

func (c *Config) Validate() error {
	if c.BotMaxInflight <= 0 {
		return fmt.Errorf("BOT_MAX_INFLIGHT должен быть > 0")
	}
	if c.BotUpdateTimeoutSeconds <= 0 {
		return fmt.Errorf("BOT_UPDATE_TIMEOUT_SECONDS должен быть > 0")
	}
	if c.DBMaxConns <= 0 || c.DBMinConns < 0 || c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("некорректные DB_MIN_CONNS/DB_MAX_CONNS")
	}
	if c.RPMinShare <= 0 {
		return fmt.Errorf("REDPACKET_MIN_SHARE должен быть > 0")
	}
	if c.RPMinTotal < c.RPMinShare {
		return fmt.Errorf("REDPACKET_MIN_TOTAL не может быть меньше REDPACKET_MIN_SHARE")
	}
	if c.RPMaxTotal < c.RPMinTotal {
		return fmt.Errorf("REDPACKET_MAX_TOTAL меньше REDPACKET_MIN_TOTAL")
	}
	if c.RPMaxCount <= 0 || c.RPExpiryHours <= 0 {
		return fmt.Errorf("некорректные REDPACKET_MAX_COUNT/REDPACKET_EXPIRY_HOURS")
	}
	if c.ClaimThrottle <= 0 || c.ClaimLockTTL <= 0 || c.DupGuardTTL <= 0 || c.ConversationTTL <= 0 {
		return fmt.Errorf("TTL-параметры должны быть > 0")
	}
	if len(c.RPAllowedChats) == 0 {
		return fmt.Errorf("REDPACKET_ALLOWED_CHATS пуст — создание конвертов невозможно нигде")
	}
	for _, kind := range c.RPAllowedChats {
		switch kind {
		case "private", "group", "supergroup":
		default:
			return fmt.Errorf("неизвестный тип чата в REDPACKET_ALLOWED_CHATS: %q", kind)
		}
	}
	return nil
}

// Load читает переменные окружения и заполняет структуру Config.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("не удалось загрузить конфигурацию: %w", err)
	}

	ids, err := parseInt64CSV(cfg.AdminIDsRaw)
	if err != nil {
		return nil, fmt.Errorf("ADMIN_IDS parse: %w", err)
	}
	cfg.AdminIDs = ids

	// Денежные параметры задаются в рублях, храним в копейках
	for _, m := range []struct {
		name string
		raw  string
		dst  *int64
	}{
		{"REDPACKET_MIN_TOTAL", cfg.RPMinTotalRaw, &cfg.RPMinTotal},
		{"REDPACKET_MAX_TOTAL", cfg.RPMaxTotalRaw, &cfg.RPMaxTotal},
		{"REDPACKET_MIN_SHARE", cfg.RPMinShareRaw, &cfg.RPMinShare},
		{"REDPACKET_DAILY_AMOUNT_CAP", cfg.RPDailyAmountCapRaw, &cfg.RPDailyAmountCap},
	} {
		kop, err := common.ParseMoney(m.raw)
		if err != nil {
			return nil, fmt.Errorf("%s: некорректная сумма %q", m.name, m.raw)
		}
		*m.dst = kop
	}

	for _, kind := range strings.Split(cfg.RPAllowedChatsRaw, ",") {
		kind = strings.TrimSpace(strings.ToLower(kind))
		if kind != "" {
			cfg.RPAllowedChats = append(cfg.RPAllowedChats, kind)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func parseInt64CSV(s string) ([]int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	out := make([]int64, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		v, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("bad int64 %q: %w", p, err)
		}
		out = append(out, v)
	}
	return out, nil
}

// Timezone возвращает часовой пояс бота (для дневных лимитов и дат в ответах).
func (c *Config) Timezone() *time.Location {
	loc, err := time.LoadLocation(c.AppTimezone)
	if err != nil {
		return time.FixedZone("MSK", 3*60*60)
	}
	return loc
}

// IsAdmin проверяет, входит ли пользователь в список админов из окружения.
func (c *Config) IsAdmin(userID int64) bool {
	for _, id := range c.AdminIDs {
		if id == userID {
			return true
		}
	}
	return false
}
