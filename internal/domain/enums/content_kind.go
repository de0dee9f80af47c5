package enums

type ContentKind string

const (
	ContentKindText     ContentKind = "text"
	ContentKindPhoto    ContentKind = "photo"
	ContentKindVideo    ContentKind = "video"
	ContentKindAudio    ContentKind = "audio"
	ContentKindSticker  ContentKind = "sticker"
	ContentKindDocument ContentKind = "document"
)
