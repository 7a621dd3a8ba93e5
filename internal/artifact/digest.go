package artifact

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap/zapcore"
)

const maxDigestItems = 25

// Digest is a compact view of a page's interactive surface
type Digest struct {
	Title   string
	Dialogs int
	Buttons []string
	Inputs  []string
}

// Summarize extracts the dialogs, buttons and input labels from an HTML document
func Summarize(src string) (Digest, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(src))
	if err != nil {
		return Digest{}, err
	}

	d := Digest{
		Title:   strings.TrimSpace(doc.Find("title").First().Text()),
		Dialogs: doc.Find(`[role="dialog"]`).Length(),
	}
	doc.Find(`button, [role="button"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if name := accessibleName(s); name != "" {
			d.Buttons = append(d.Buttons, name)
		}
		return len(d.Buttons) < maxDigestItems
	})
	doc.Find("input, textarea").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		name := s.AttrOr("aria-label", "")
		if name == "" {
			name = s.AttrOr("placeholder", s.AttrOr("name", ""))
		}
		if name != "" {
			d.Inputs = append(d.Inputs, name)
		}
		return len(d.Inputs) < maxDigestItems
	})
	return d, nil
}

func accessibleName(s *goquery.Selection) string {
	if text := strings.Join(strings.Fields(s.Text()), " "); text != "" {
		return text
	}
	return s.AttrOr("aria-label", "")
}

// MarshalLogObject implements zapcore.ObjectMarshaler
func (d Digest) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("title", d.Title)
	enc.AddInt("dialogs", d.Dialogs)
	enc.AddString("buttons", strings.Join(d.Buttons, " | "))
	enc.AddString("inputs", strings.Join(d.Inputs, " | "))
	return nil
}
