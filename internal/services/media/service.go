package media

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ivankudzin/anonmod/internal/domain/apperr"
	"github.com/ivankudzin/anonmod/internal/domain/enums"
	"github.com/ivankudzin/anonmod/internal/domain/model"
)

// Content refs with this scheme point into the object store; everything else
// is a Telegram file id that only the bot can resolve.
const S3Scheme = "s3:"

const defaultPresignTTL = 15 * time.Minute

type PresignOptions struct {
	TTL time.Duration
	// FileName, when set, makes the signed URL download under that name.
	FileName string
}

type URLSigner interface {
	PresignGet(ctx context.Context, key string, opts PresignOptions) (string, error)
}

type Service struct {
	signer URLSigner
	ttl    time.Duration
	now    func() time.Time
}

// View is the admin rendering of a content payload.
type View struct {
	Kind         enums.ContentKind
	Caption      string
	FileRef      string
	URL          string
	URLExpiresAt *time.Time
}

func NewService(signer URLSigner, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = defaultPresignTTL
	}
	return &Service{
		signer: signer,
		ttl:    ttl,
		now:    time.Now,
	}
}

// Describe flattens content for display and signs object store refs.
func (s *Service) Describe(ctx context.Context, content model.Content) (View, error) {
	if content == nil {
		return View{}, fmt.Errorf("%w: empty content", apperr.ErrValidation)
	}

	view := View{
		Kind:    content.Kind(),
		Caption: model.Caption(content),
		FileRef: model.FileRef(content),
	}

	key, ok := ObjectKey(view.FileRef)
	if !ok || s.signer == nil {
		return view, nil
	}

	url, err := s.signer.PresignGet(ctx, key, s.presignOptions(content))
	if err != nil {
		return View{}, fmt.Errorf("presign %s: %w", key, err)
	}
	expiresAt := s.now().UTC().Add(s.ttl)
	view.URL = url
	view.URLExpiresAt = &expiresAt
	return view, nil
}

// ObjectKey extracts the object key from an s3: ref.
func ObjectKey(ref string) (string, bool) {
	ref = strings.TrimSpace(ref)
	if !strings.HasPrefix(ref, S3Scheme) {
		return "", false
	}
	key := strings.TrimLeft(strings.TrimPrefix(ref, S3Scheme), "/")
	if key == "" {
		return "", false
	}
	return key, true
}

func (s *Service) presignOptions(content model.Content) PresignOptions {
	opts := PresignOptions{TTL: s.ttl}
	if doc, ok := content.(model.DocumentContent); ok {
		opts.FileName = doc.FileName
	}
	return opts
}

// ResolveURL signs an s3: ref so the bot can hand Telegram a fetchable URL.
func (s *Service) ResolveURL(ctx context.Context, ref string) (string, error) {
	key, ok := ObjectKey(ref)
	if !ok {
		return "", fmt.Errorf("%w: %q is not an object store ref", apperr.ErrValidation, ref)
	}
	if s.signer == nil {
		return "", fmt.Errorf("object store is not configured")
	}
	url, err := s.signer.PresignGet(ctx, key, PresignOptions{TTL: s.ttl})
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", key, err)
	}
	return url, nil
}
