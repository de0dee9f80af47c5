package telegram

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/ivankudzin/anonmod/internal/domain/enums"
	"github.com/ivankudzin/anonmod/internal/domain/model"
)

type sentMessage struct {
	chatID int64
	text   string
	file   tgbotapi.RequestFileData
	markup *tgbotapi.InlineKeyboardMarkup
}

type fakeSender struct {
	mu     sync.Mutex
	sent   []sentMessage
	failTo map[int64]error
}

func (f *fakeSender) SendText(_ context.Context, chatID int64, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failTo[chatID]; err != nil {
		return err
	}
	f.sent = append(f.sent, sentMessage{chatID: chatID, text: text})
	return nil
}

func (f *fakeSender) SendContent(_ context.Context, chatID int64, _ model.Content, file tgbotapi.RequestFileData, header string, markup *tgbotapi.InlineKeyboardMarkup) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failTo[chatID]; err != nil {
		return err
	}
	f.sent = append(f.sent, sentMessage{chatID: chatID, text: header, file: file, markup: markup})
	return nil
}

func (f *fakeSender) to(chatID int64) []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]sentMessage, 0)
	for _, m := range f.sent {
		if m.chatID == chatID {
			out = append(out, m)
		}
	}
	return out
}

func TestDeliverToModeratorsReportsEachAttempt(t *testing.T) {
	sender := &fakeSender{failTo: map[int64]error{3: errors.New("bot was blocked by the user")}}
	tr := NewTransport(sender, nil, TransportConfig{}, nil)

	item := model.ModerationItem{ID: 17, SubmitterID: 1, Content: model.PhotoContent{FileRef: "AgACAgIAAxkBAAE"}}
	attempts := tr.DeliverToModerators(context.Background(), item, []int64{2, 3, 4})

	if len(attempts) != 3 {
		t.Fatalf("expected 3 attempts, got %d", len(attempts))
	}
	if attempts[0].Err != nil || attempts[1].Err == nil || attempts[2].Err != nil {
		t.Fatalf("unexpected attempts: %+v", attempts)
	}

	got := sender.to(2)
	if len(got) != 1 {
		t.Fatalf("expected one delivery to moderator 2, got %d", len(got))
	}
	if !strings.Contains(got[0].text, "#17") {
		t.Fatalf("header must carry the item id: %q", got[0].text)
	}
	if got[0].file != tgbotapi.FileID("AgACAgIAAxkBAAE") {
		t.Fatalf("unexpected file data %#v", got[0].file)
	}
	if got[0].markup == nil || got[0].markup.InlineKeyboard[0][0].CallbackData == nil ||
		*got[0].markup.InlineKeyboard[0][0].CallbackData != "mod:approve:17" {
		t.Fatalf("unexpected keyboard %+v", got[0].markup)
	}
}

func TestDeliverResolvesObjectStoreRefs(t *testing.T) {
	sender := &fakeSender{}
	var resolved []string
	resolve := func(_ context.Context, ref string) (string, error) {
		resolved = append(resolved, ref)
		return "https://signed.local/a.mp4", nil
	}
	tr := NewTransport(sender, resolve, TransportConfig{}, nil)

	item := model.ModerationItem{ID: 5, Content: model.VideoContent{FileRef: "s3:clips/a.mp4"}}
	tr.DeliverToModerators(context.Background(), item, []int64{2, 3})

	if len(resolved) != 1 {
		t.Fatalf("ref must be resolved once per delivery, got %v", resolved)
	}
	if got := sender.to(3); len(got) != 1 || got[0].file != tgbotapi.FileURL("https://signed.local/a.mp4") {
		t.Fatalf("unexpected deliveries %+v", got)
	}
}

func TestDeliverFailsEveryAttemptWhenRefCannotResolve(t *testing.T) {
	sender := &fakeSender{}
	tr := NewTransport(sender, nil, TransportConfig{}, nil)

	item := model.ModerationItem{ID: 5, Content: model.DocumentContent{FileRef: "s3:docs/a.pdf"}}
	attempts := tr.DeliverToModerators(context.Background(), item, []int64{2, 3})
	for _, a := range attempts {
		if a.Err == nil {
			t.Fatalf("expected resolve error for moderator %d", a.ModeratorID)
		}
	}
	if len(sender.sent) != 0 {
		t.Fatalf("nothing must be sent, got %+v", sender.sent)
	}
}

func TestNotifySubmitterWritesLog(t *testing.T) {
	sender := &fakeSender{}
	tr := NewTransport(sender, nil, TransportConfig{LogChannelID: -100500}, nil)
	tr.now = func() time.Time { return time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC) }

	outcome := model.Outcome{ItemID: 9, Kind: model.OutcomeRejected, ModeratorID: 2, Reason: "Спам"}
	if err := tr.NotifySubmitter(context.Background(), 1, outcome); err != nil {
		t.Fatalf("notify: %v", err)
	}

	toUser := sender.to(1)
	if len(toUser) != 1 || !strings.Contains(toUser[0].text, "Причина: Спам") {
		t.Fatalf("unexpected submitter message %+v", toUser)
	}
	logs := sender.to(-100500)
	if len(logs) != 1 || !strings.Contains(logs[0].text, "отклонено") || !strings.Contains(logs[0].text, "2026-03-01 12:00:00") {
		t.Fatalf("unexpected log %+v", logs)
	}
}

func TestNotifySubmitterStillLogsOnFailure(t *testing.T) {
	sender := &fakeSender{failTo: map[int64]error{1: errors.New("forbidden")}}
	tr := NewTransport(sender, nil, TransportConfig{LogChannelID: -7}, nil)

	err := tr.NotifySubmitter(context.Background(), 1, model.Outcome{ItemID: 1, Kind: model.OutcomeExpired})
	if err == nil {
		t.Fatalf("expected delivery error")
	}
	if len(sender.to(-7)) != 1 {
		t.Fatalf("log must be written even when the submitter is unreachable")
	}
}

func TestPublishRequiresChannel(t *testing.T) {
	sender := &fakeSender{}
	tr := NewTransport(sender, nil, TransportConfig{}, nil)
	if err := tr.Publish(context.Background(), model.TextContent{Text: "hi"}); err == nil {
		t.Fatalf("expected error without channel")
	}

	tr = NewTransport(sender, nil, TransportConfig{ChannelID: -42}, nil)
	if err := tr.Publish(context.Background(), model.TextContent{Text: "hi"}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	got := sender.to(-42)
	if len(got) != 1 || got[0].markup != nil || got[0].text != "" {
		t.Fatalf("published content must carry no header or keyboard: %+v", got)
	}
}

func TestNotifyPunishment(t *testing.T) {
	sender := &fakeSender{}
	tr := NewTransport(sender, nil, TransportConfig{LogChannelID: -7}, nil)

	event := model.PunishmentEvent{
		Kind: model.PunishmentImposed,
		Punishment: model.Punishment{
			SubjectID:   11,
			ModeratorID: 2,
			Kind:        enums.PunishmentKindMute,
			Reason:      "флуд",
			ExpiresAt:   time.Date(2026, time.March, 2, 8, 30, 0, 0, time.UTC),
		},
	}
	if err := tr.NotifyPunishment(context.Background(), event); err != nil {
		t.Fatalf("notify punishment: %v", err)
	}

	subject := sender.to(11)
	if len(subject) != 1 || !strings.Contains(subject[0].text, "заглушка") || !strings.Contains(subject[0].text, "2026-03-02 08:30:00") {
		t.Fatalf("unexpected subject message %+v", subject)
	}
	logs := sender.to(-7)
	if len(logs) != 1 || !strings.Contains(logs[0].text, "ID наказанного: 11") {
		t.Fatalf("unexpected punishment log %+v", logs)
	}
}
