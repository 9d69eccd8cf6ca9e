package redpacket

import (
	"context"
	"strings"
	"testing"
	"time"
)

func newTestConversation(t *testing.T) *Conversation {
	t.Helper()
	store := NewMemoryConversations(10 * time.Minute)
	t.Cleanup(store.Close)
	return NewConversation(store, NewParser(testConfig()))
}

func step(t *testing.T, c *Conversation, chatID, userID int64, text string) *StepResult {
	t.Helper()
	res, err := c.HandleText(context.Background(), chatID, userID, text)
	if err != nil {
		t.Fatalf("HandleText(%q): %v", text, err)
	}
	if res == nil {
		t.Fatalf("HandleText(%q): диалог потерян", text)
	}
	return res
}

func TestConversationHappyPath(t *testing.T) {
	c := newTestConversation(t)
	ctx := context.Background()

	if _, err := c.Start(ctx, 100, 1); err != nil {
		t.Fatalf("Start: %v", err)
	}

	step(t, c, 100, 1, "99.50")
	step(t, c, 100, 1, "5")
	res := step(t, c, 100, 1, "С праздником")
	if !strings.Contains(res.Reply, "99.50") || !strings.Contains(res.Reply, "С праздником") {
		t.Fatalf("подтверждение без параметров: %q", res.Reply)
	}

	res = step(t, c, 100, 1, "да")
	if res.Params == nil {
		t.Fatalf("после «да» ожидались параметры, получено: %+v", res)
	}
	want := CreateParams{AmountKop: 9950, Count: 5, Policy: PolicyRandom, Title: "С праздником"}
	if *res.Params != want {
		t.Fatalf("параметры %+v, ожидалось %+v", *res.Params, want)
	}

	// Диалог закрыт
	if active, _ := c.Active(ctx, 100, 1); active {
		t.Fatal("диалог должен быть закрыт после подтверждения")
	}
}

func TestConversationDefaultTitleAndEvenPolicy(t *testing.T) {
	c := newTestConversation(t)

	if _, err := c.Start(context.Background(), 100, 1); err != nil {
		t.Fatalf("Start: %v", err)
	}
	step(t, c, 100, 1, "100")
	step(t, c, 100, 1, "10 поровну")
	step(t, c, 100, 1, "-")
	res := step(t, c, 100, 1, "ок")

	if res.Params == nil {
		t.Fatalf("ожидались параметры: %+v", res)
	}
	if res.Params.Policy != PolicyEven {
		t.Fatalf("политика %s, ожидалась even", res.Params.Policy)
	}
	if res.Params.Title != "恭喜发财" {
		t.Fatalf("заголовок %q, ожидалось приветствие по умолчанию", res.Params.Title)
	}
}

func TestConversationInvalidInputStaysOnStage(t *testing.T) {
	c := newTestConversation(t)

	if _, err := c.Start(context.Background(), 100, 1); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// Мусор на шаге суммы не двигает машину
	res := step(t, c, 100, 1, "стопицот")
	if res.Params != nil || res.Cancelled {
		t.Fatalf("мусор продвинул диалог: %+v", res)
	}
	if !strings.Contains(res.Reply, "сумму") {
		t.Fatalf("ожидался повторный запрос суммы: %q", res.Reply)
	}

	// Нормальный ввод после мусора принимается
	res = step(t, c, 100, 1, "100")
	if !strings.Contains(res.Reply, "долей") {
		t.Fatalf("ожидался запрос количества: %q", res.Reply)
	}
}

func TestConversationCancelAnywhere(t *testing.T) {
	c := newTestConversation(t)
	ctx := context.Background()

	for _, inputs := range [][]string{
		{"отмена"},
		{"100", "cancel"},
		{"100", "5", "заголовок", "нет"},
	} {
		if _, err := c.Start(ctx, 100, 1); err != nil {
			t.Fatalf("Start: %v", err)
		}
		var res *StepResult
		for _, in := range inputs {
			res = step(t, c, 100, 1, in)
		}
		if !res.Cancelled {
			t.Fatalf("ввод %v не отменил диалог: %+v", inputs, res)
		}
		if active, _ := c.Active(ctx, 100, 1); active {
			t.Fatalf("после отмены %v диалог остался", inputs)
		}
	}
}

func TestConversationConfirmRequiresYes(t *testing.T) {
	c := newTestConversation(t)

	if _, err := c.Start(context.Background(), 100, 1); err != nil {
		t.Fatalf("Start: %v", err)
	}
	step(t, c, 100, 1, "100")
	step(t, c, 100, 1, "5")
	step(t, c, 100, 1, "т")

	// Невнятный ответ на подтверждении не создаёт конверт
	res := step(t, c, 100, 1, "ну наверное")
	if res.Params != nil || res.Cancelled {
		t.Fatalf("невнятный ответ продвинул диалог: %+v", res)
	}
	res = step(t, c, 100, 1, "+")
	if res.Params == nil {
		t.Fatalf("«+» должен подтверждать: %+v", res)
	}
}

func TestConversationRejectsUndividableAtTitle(t *testing.T) {
	c := newTestConversation(t)
	ctx := context.Background()

	if _, err := c.Start(ctx, 100, 1); err != nil {
		t.Fatalf("Start: %v", err)
	}
	step(t, c, 100, 1, "0.02")
	step(t, c, 100, 1, "3")
	res := step(t, c, 100, 1, "-")

	// 0.02 на троих не делится: диалог закрывается с объяснением
	if !res.Cancelled {
		t.Fatalf("ожидалась отмена из-за мелкой доли: %+v", res)
	}
	if active, _ := c.Active(ctx, 100, 1); active {
		t.Fatal("диалог должен быть закрыт")
	}
}

func TestConversationPerUserIsolation(t *testing.T) {
	c := newTestConversation(t)
	ctx := context.Background()

	// Два пользователя в одном чате собирают конверты параллельно
	if _, err := c.Start(ctx, 100, 1); err != nil {
		t.Fatalf("Start(1): %v", err)
	}
	if _, err := c.Start(ctx, 100, 2); err != nil {
		t.Fatalf("Start(2): %v", err)
	}

	step(t, c, 100, 1, "100")
	step(t, c, 100, 2, "200")
	step(t, c, 100, 1, "5")
	step(t, c, 100, 2, "7")
	step(t, c, 100, 1, "от Пети")
	step(t, c, 100, 2, "от Васи")

	res1 := step(t, c, 100, 1, "да")
	res2 := step(t, c, 100, 2, "да")
	if res1.Params == nil || res2.Params == nil {
		t.Fatal("оба диалога должны завершиться")
	}
	if res1.Params.AmountKop != 10000 || res1.Params.Count != 5 || res1.Params.Title != "от Пети" {
		t.Fatalf("диалоги перемешались: %+v", res1.Params)
	}
	if res2.Params.AmountKop != 20000 || res2.Params.Count != 7 || res2.Params.Title != "от Васи" {
		t.Fatalf("диалоги перемешались: %+v", res2.Params)
	}
}

func TestConversationExpiry(t *testing.T) {
	store := NewMemoryConversations(30 * time.Millisecond)
	t.Cleanup(store.Close)
	c := NewConversation(store, NewParser(testConfig()))
	ctx := context.Background()

	if _, err := c.Start(ctx, 100, 1); err != nil {
		t.Fatalf("Start: %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	// Истёкший диалог — текст не для нас
	res, err := c.HandleText(ctx, 100, 1, "100")
	if err != nil {
		t.Fatalf("HandleText: %v", err)
	}
	if res != nil {
		t.Fatalf("истёкший диалог ответил: %+v", res)
	}
}

func TestConversationNoDialogNoReply(t *testing.T) {
	c := newTestConversation(t)

	res, err := c.HandleText(context.Background(), 100, 1, "просто болтаем")
	if err != nil {
		t.Fatalf("HandleText: %v", err)
	}
	if res != nil {
		t.Fatalf("без диалога ожидалось nil, получено: %+v", res)
	}
}
