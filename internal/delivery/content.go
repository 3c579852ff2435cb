package delivery

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/nextlevelbuilder/qqrelay/pkg/protocol"
)

// Media kinds accepted in Content.Media.Type.
const (
	MediaImage = "image"
	MediaVideo = "video"
	MediaVoice = "voice"
	MediaFile  = "file"
)

// Content is what gets posted through the borrowed capability.
type Content struct {
	Text       string `json:"text,omitempty"`
	Markdown   string `json:"markdown,omitempty"`
	KeyboardID string `json:"keyboard_id,omitempty"`
	Media      *Media `json:"media,omitempty"`
}

// Media is a single rich-media attachment, given inline or by URL.
type Media struct {
	Type string `json:"type"`
	URL  string `json:"url,omitempty"`
	Data []byte `json:"data,omitempty"`
}

// Validate rejects empty or malformed content.
func (c Content) Validate() error {
	if strings.TrimSpace(c.Text) == "" && strings.TrimSpace(c.Markdown) == "" && c.Media == nil {
		return errors.New("content is empty")
	}
	if c.Text != "" && c.Markdown != "" {
		return errors.New("content: text and markdown are mutually exclusive")
	}
	if c.Media != nil {
		if _, err := fileType(c.Media.Type); err != nil {
			return err
		}
		if len(c.Media.Data) == 0 && c.Media.URL == "" {
			return errors.New("content: media needs data or url")
		}
	}
	return nil
}

// PlainText is the best plain rendition of c, used for the host fallback.
func (c Content) PlainText() string {
	switch {
	case c.Text != "":
		return c.Text
	case c.Markdown != "":
		return c.Markdown
	case c.Media != nil && c.Media.URL != "":
		return c.Media.URL
	}
	return ""
}

var blankRuns = regexp.MustCompile(`\n{3,}`)

// PrepareMarkdown normalises line endings, strips trailing spaces and
// collapses runs of blank lines to one.
func PrepareMarkdown(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimRight(l, " \t")
	}
	s = strings.Join(lines, "\n")
	s = blankRuns.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

func fileType(kind string) (int, error) {
	switch kind {
	case MediaImage:
		return protocol.FileTypeImage, nil
	case MediaVideo:
		return protocol.FileTypeVideo, nil
	case MediaVoice:
		return protocol.FileTypeVoice, nil
	case MediaFile:
		return protocol.FileTypeFile, nil
	}
	return 0, fmt.Errorf("content: unknown media type %q", kind)
}
