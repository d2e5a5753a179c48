// Package intake turns a raw submission into the normalized text and content
// hash the pipeline keys on.
package intake

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/yungbote/quickentry-backend/internal/domain/entries"
)

// Submission is one caller request. At least one of Text or a media ref is
// required.
type Submission struct {
	UserID      uuid.UUID
	Text        string
	AudioRef    string
	ImageRefs   []string
	DocumentRef string
	OccurredAt  *time.Time
}

func (s Submission) MediaRefs() entries.MediaRefs {
	refs := entries.MediaRefs{
		AudioRef:    strings.TrimSpace(s.AudioRef),
		DocumentRef: strings.TrimSpace(s.DocumentRef),
	}
	for _, r := range s.ImageRefs {
		if r = strings.TrimSpace(r); r != "" {
			refs.ImageRefs = append(refs.ImageRefs, r)
		}
	}
	return refs
}

// Modalities lists the input kinds present, text first.
func (s Submission) Modalities() []entries.Modality {
	var out []entries.Modality
	if strings.TrimSpace(s.Text) != "" {
		out = append(out, entries.ModalityText)
	}
	refs := s.MediaRefs()
	if refs.AudioRef != "" {
		out = append(out, entries.ModalityVoice)
	}
	if len(refs.ImageRefs) > 0 {
		out = append(out, entries.ModalityImage)
	}
	if refs.DocumentRef != "" {
		out = append(out, entries.ModalityDocument)
	}
	return out
}

func (s Submission) Validate() error {
	if s.UserID == uuid.Nil {
		return entries.NewError(entries.KindValidation, "user_id required", nil)
	}
	if strings.TrimSpace(s.Text) == "" && s.MediaRefs().Empty() {
		return entries.NewError(entries.KindValidation, "submission has no text or media", nil)
	}
	if !utf8.ValidString(s.Text) {
		return entries.NewError(entries.KindValidation, "text is not valid UTF-8", nil)
	}
	return nil
}

// Normalize trims, drops control characters and collapses whitespace runs.
// Case is kept; extraction needs it for names.
func Normalize(text string) string {
	text = strings.ToValidUTF8(text, "")
	var b strings.Builder
	b.Grow(len(text))
	space := false
	for _, r := range text {
		switch {
		case unicode.IsSpace(r):
			space = true
			continue
		case unicode.IsControl(r), r == '\uFEFF', r == '\u200B':
			continue
		}
		if space && b.Len() > 0 {
			b.WriteByte(' ')
		}
		space = false
		b.WriteRune(r)
	}
	return b.String()
}

// ContentHash is the hex sha256 of normalized text.
func ContentHash(normalized string) string {
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

// Compose joins typed text and media transcripts into one body. Transcripts
// follow the typed text in the order given.
func Compose(text string, transcripts ...string) string {
	parts := make([]string, 0, len(transcripts)+1)
	if t := strings.TrimSpace(text); t != "" {
		parts = append(parts, t)
	}
	for _, tr := range transcripts {
		if tr = strings.TrimSpace(tr); tr != "" {
			parts = append(parts, tr)
		}
	}
	return strings.Join(parts, "\n")
}
