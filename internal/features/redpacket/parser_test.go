package redpacket

import (
	"errors"
	"testing"
	"time"

	"serotonyl.ru/redpacket-bot/internal/common"
	"serotonyl.ru/redpacket-bot/internal/config"
)

// testConfig — конфигурация для тестов пакета, без чтения окружения.
func testConfig() *config.Config {
	return &config.Config{
		AppTimezone:       "Europe/Moscow",
		RPMinTotal:        1,        // 0.01
		RPMaxTotal:        2_000_000, // 20000.00
		RPMinShare:        1,
		RPMaxCount:        100,
		RPExpiryHours:     24,
		RPDailyAmountCap:  5_000_000,
		RPDailyCountCap:   50,
		RPAllowedChats:    []string{"group", "supergroup"},
		RPDefaultGreeting: "恭喜发财",
		ClaimThrottle:     3 * time.Second,
		ClaimLockTTL:      10 * time.Second,
		DupGuardTTL:       5 * time.Second,
		ConversationTTL:   10 * time.Minute,
	}
}

func TestParseCreate(t *testing.T) {
	p := NewParser(testConfig())

	cases := []struct {
		name string
		in   string
		want CreateParams
	}{
		{
			name: "сумма и количество",
			in:   "100 10",
			want: CreateParams{AmountKop: 10000, Count: 10, Policy: PolicyRandom, Title: "恭喜发财"},
		},
		{
			name: "копейки и заголовок",
			in:   "99.50 5 С Новым годом!",
			want: CreateParams{AmountKop: 9950, Count: 5, Policy: PolicyRandom, Title: "С Новым годом!"},
		},
		{
			name: "поровну",
			in:   "100 10 поровну",
			want: CreateParams{AmountKop: 10000, Count: 10, Policy: PolicyEven, Title: "恭喜发财"},
		},
		{
			name: "even с заголовком",
			in:   "50 2 even на чай",
			want: CreateParams{AmountKop: 5000, Count: 2, Policy: PolicyEven, Title: "на чай"},
		},
		{
			name: "валютный и штучный суффиксы",
			in:   "100руб 10шт",
			want: CreateParams{AmountKop: 10000, Count: 10, Policy: PolicyRandom, Title: "恭喜发财"},
		},
		{
			name: "запятая в сумме",
			in:   "12,34 2",
			want: CreateParams{AmountKop: 1234, Count: 2, Policy: PolicyRandom, Title: "恭喜发财"},
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got, err := p.ParseCreate(c.in)
			if err != nil {
				t.Fatalf("ParseCreate(%q): %v", c.in, err)
			}
			if *got != c.want {
				t.Fatalf("ParseCreate(%q) = %+v, ожидалось %+v", c.in, *got, c.want)
			}
		})
	}
}

func TestParseCreateRejects(t *testing.T) {
	p := NewParser(testConfig())

	cases := []struct {
		name string
		in   string
		want error
	}{
		{"пустая строка", "", common.ErrBadAmount},
		{"одно поле", "100", common.ErrBadAmount},
		{"не число", "сто 10", common.ErrBadAmount},
		{"три знака после точки", "1.234 2", common.ErrBadAmount},
		{"ноль", "0 5", common.ErrBadAmount},
		{"отрицательная сумма", "-5 2", common.ErrBadAmount},
		{"дробное количество", "100 2.5", common.ErrBadCount},
		{"ноль долей", "100 0", common.ErrBadCount},
		{"отрицательное количество", "100 -3", common.ErrBadCount},
		{"выше лимита долей", "1000 101", common.ErrTooManyShares},
		{"сумма выше максимума", "20000.01 5", common.ErrTotalTooLarge},
		{"на всех не хватает", "0.02 3", common.ErrShareBelowFloor},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := p.ParseCreate(c.in)
			if !errors.Is(err, c.want) {
				t.Fatalf("ParseCreate(%q): ошибка %v, ожидалась %v", c.in, err, c.want)
			}
		})
	}
}

func TestParseTitle(t *testing.T) {
	p := NewParser(testConfig())

	if title, err := p.ParseTitle("  "); err != nil || title != "恭喜发财" {
		t.Fatalf("пустой заголовок: (%q, %v), ожидалось приветствие по умолчанию", title, err)
	}

	long := make([]rune, 51)
	for i := range long {
		long[i] = 'ж'
	}
	if _, err := p.ParseTitle(string(long)); !errors.Is(err, common.ErrTitleTooLong) {
		t.Fatalf("длинный заголовок: %v, ожидался ErrTitleTooLong", err)
	}

	// Ровно 50 рун проходит
	if _, err := p.ParseTitle(string(long[:50])); err != nil {
		t.Fatalf("заголовок в 50 рун: %v", err)
	}
}

func TestValidateDialogParams(t *testing.T) {
	p := NewParser(testConfig())

	ok := &CreateParams{AmountKop: 10000, Count: 10, Policy: PolicyRandom, Title: "x"}
	if err := p.Validate(ok); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	bad := &CreateParams{AmountKop: 2, Count: 3, Policy: PolicyRandom, Title: "x"}
	if err := p.Validate(bad); !errors.Is(err, common.ErrShareBelowFloor) {
		t.Fatalf("Validate: %v, ожидался ErrShareBelowFloor", err)
	}
}
