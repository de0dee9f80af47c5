package telegram

import (
	"strings"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/ivankudzin/anonmod/internal/domain/model"
)

func TestContentFromMessage(t *testing.T) {
	cases := []struct {
		name string
		msg  *tgbotapi.Message
		want model.Content
	}{
		{
			name: "largest photo",
			msg: &tgbotapi.Message{
				Photo:   []tgbotapi.PhotoSize{{FileID: "small"}, {FileID: "large"}},
				Caption: "view",
			},
			want: model.PhotoContent{FileRef: "large", Caption: "view"},
		},
		{
			name: "video note",
			msg:  &tgbotapi.Message{VideoNote: &tgbotapi.VideoNote{FileID: "round"}},
			want: model.VideoContent{FileRef: "round", Round: true},
		},
		{
			name: "voice",
			msg:  &tgbotapi.Message{Voice: &tgbotapi.Voice{FileID: "v"}},
			want: model.AudioContent{FileRef: "v", Voice: true},
		},
		{
			name: "sticker",
			msg:  &tgbotapi.Message{Sticker: &tgbotapi.Sticker{FileID: "st", Emoji: "🔥"}},
			want: model.StickerContent{FileRef: "st", Emoji: "🔥"},
		},
		{
			name: "document",
			msg:  &tgbotapi.Message{Document: &tgbotapi.Document{FileID: "doc", FileName: "a.pdf"}},
			want: model.DocumentContent{FileRef: "doc", FileName: "a.pdf"},
		},
		{
			name: "text",
			msg:  &tgbotapi.Message{Text: "привет"},
			want: model.TextContent{Text: "привет"},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := ContentFromMessage(tc.msg)
			if !ok {
				t.Fatalf("expected content")
			}
			if got != tc.want {
				t.Fatalf("got %#v want %#v", got, tc.want)
			}
		})
	}

	if _, ok := ContentFromMessage(&tgbotapi.Message{Text: "   "}); ok {
		t.Fatalf("blank text must not be content")
	}
}

func TestParseCallbackData(t *testing.T) {
	action, id, err := ParseCallbackData(CallbackData(ActionWarn, 31))
	if err != nil || action != ActionWarn || id != 31 {
		t.Fatalf("unexpected parse: %s %d %v", action, id, err)
	}

	for _, bad := range []string{"", "approve_31", "mod:delete:31", "mod:approve:x", "mod:approve:0", "x:approve:1"} {
		if _, _, err := ParseCallbackData(bad); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}

func TestModerationHeaderKeepsSubmitterAnonymous(t *testing.T) {
	header := ModerationHeader(model.ModerationItem{ID: 3, SubmitterID: 777, Content: model.AudioContent{FileRef: "a", Voice: true}})
	if strings.Contains(header, "777") {
		t.Fatalf("header leaks submitter id: %q", header)
	}
	if !strings.Contains(header, "Голосовое") {
		t.Fatalf("header must name the content kind: %q", header)
	}
}

func TestTruncateCountsRunes(t *testing.T) {
	if got := truncate("привет", 3); got != "при..." {
		t.Fatalf("unexpected truncate %q", got)
	}
	if got := truncate("ok", 3); got != "ok" {
		t.Fatalf("unexpected truncate %q", got)
	}
}
