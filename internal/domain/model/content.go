package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/ivankudzin/anonmod/internal/domain/enums"
)

const MaxCaptionLength = 1024

var (
	ErrUnknownContentKind = errors.New("unknown content kind")
	ErrEmptyContent       = errors.New("content is empty")
	ErrContentTooLong     = errors.New("content is too long")
)

// Content is the payload of a submission. Each case carries only the fields
// its media kind needs.
type Content interface {
	Kind() enums.ContentKind
	validate(maxTextLength int) error
}

type TextContent struct {
	Text string `json:"text"`
}

type PhotoContent struct {
	FileRef string `json:"file_ref"`
	Caption string `json:"caption,omitempty"`
}

type VideoContent struct {
	FileRef string `json:"file_ref"`
	Caption string `json:"caption,omitempty"`
	Round   bool   `json:"round,omitempty"`
}

type AudioContent struct {
	FileRef string `json:"file_ref"`
	Caption string `json:"caption,omitempty"`
	Voice   bool   `json:"voice,omitempty"`
}

type StickerContent struct {
	FileRef string `json:"file_ref"`
	Emoji   string `json:"emoji,omitempty"`
}

type DocumentContent struct {
	FileRef  string `json:"file_ref"`
	Caption  string `json:"caption,omitempty"`
	FileName string `json:"file_name,omitempty"`
}

func (TextContent) Kind() enums.ContentKind { return enums.ContentKindText }
func (PhotoContent) Kind() enums.ContentKind { return enums.ContentKindPhoto }
func (VideoContent) Kind() enums.ContentKind { return enums.ContentKindVideo }
func (AudioContent) Kind() enums.ContentKind { return enums.ContentKindAudio }
func (StickerContent) Kind() enums.ContentKind { return enums.ContentKindSticker }
func (DocumentContent) Kind() enums.ContentKind { return enums.ContentKindDocument }

func (c TextContent) validate(maxTextLength int) error {
	text := strings.TrimSpace(c.Text)
	if text == "" {
		return ErrEmptyContent
	}
	if maxTextLength > 0 && utf8.RuneCountInString(text) > maxTextLength {
		return ErrContentTooLong
	}
	return nil
}

func (c PhotoContent) validate(int) error { return validateRef(c.FileRef, c.Caption) }
func (c VideoContent) validate(int) error { return validateRef(c.FileRef, c.Caption) }
func (c AudioContent) validate(int) error { return validateRef(c.FileRef, c.Caption) }
func (c StickerContent) validate(int) error { return validateRef(c.FileRef, "") }
func (c DocumentContent) validate(int) error { return validateRef(c.FileRef, c.Caption) }

func validateRef(ref, caption string) error {
	if strings.TrimSpace(ref) == "" {
		return ErrEmptyContent
	}
	if utf8.RuneCountInString(caption) > MaxCaptionLength {
		return ErrContentTooLong
	}
	return nil
}

// ValidateContent checks that c is one of the known variants and that its
// fields are usable.
func ValidateContent(c Content, maxTextLength int) error {
	if c == nil {
		return ErrEmptyContent
	}
	switch c.(type) {
	case TextContent, PhotoContent, VideoContent, AudioContent, StickerContent, DocumentContent:
	default:
		return fmt.Errorf("%w: %T", ErrUnknownContentKind, c)
	}
	return c.validate(maxTextLength)
}

// Caption returns the human readable part of the payload, if any.
func Caption(c Content) string {
	switch v := c.(type) {
	case TextContent:
		return v.Text
	case PhotoContent:
		return v.Caption
	case VideoContent:
		return v.Caption
	case AudioContent:
		return v.Caption
	case StickerContent:
		return v.Emoji
	case DocumentContent:
		return v.Caption
	default:
		return ""
	}
}

// FileRef returns the external storage reference, empty for text.
func FileRef(c Content) string {
	switch v := c.(type) {
	case PhotoContent:
		return v.FileRef
	case VideoContent:
		return v.FileRef
	case AudioContent:
		return v.FileRef
	case StickerContent:
		return v.FileRef
	case DocumentContent:
		return v.FileRef
	default:
		return ""
	}
}

type contentEnvelope struct {
	Kind enums.ContentKind `json:"kind"`
	Body json.RawMessage   `json:"body"`
}

// EncodeContent produces the tagged JSON form stored in the database and the
// shared cache.
func EncodeContent(c Content) ([]byte, error) {
	if c == nil {
		return nil, ErrEmptyContent
	}
	body, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("marshal content body: %w", err)
	}
	out, err := json.Marshal(contentEnvelope{Kind: c.Kind(), Body: body})
	if err != nil {
		return nil, fmt.Errorf("marshal content envelope: %w", err)
	}
	return out, nil
}

func DecodeContent(data []byte) (Content, error) {
	var env contentEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("unmarshal content envelope: %w", err)
	}

	var (
		content Content
		err     error
	)
	switch env.Kind {
	case enums.ContentKindText:
		content, err = decodeBody[TextContent](env.Body)
	case enums.ContentKindPhoto:
		content, err = decodeBody[PhotoContent](env.Body)
	case enums.ContentKindVideo:
		content, err = decodeBody[VideoContent](env.Body)
	case enums.ContentKindAudio:
		content, err = decodeBody[AudioContent](env.Body)
	case enums.ContentKindSticker:
		content, err = decodeBody[StickerContent](env.Body)
	case enums.ContentKindDocument:
		content, err = decodeBody[DocumentContent](env.Body)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownContentKind, env.Kind)
	}
	if err != nil {
		return nil, err
	}
	return content, nil
}

func decodeBody[T Content](body json.RawMessage) (Content, error) {
	var v T
	if err := json.Unmarshal(body, &v); err != nil {
		return nil, fmt.Errorf("unmarshal %s content: %w", v.Kind(), err)
	}
	return v, nil
}
