package delivery

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/disintegration/imaging"

	"github.com/nextlevelbuilder/qqrelay/internal/capability"
)

func TestPrepareMarkdown(t *testing.T) {
	in := "# Title  \r\n\r\n\r\n\r\nbody\t\r\nend\n\n"
	want := "# Title\n\nbody\nend"
	if got := PrepareMarkdown(in); got != want {
		t.Errorf("PrepareMarkdown = %q, want %q", got, want)
	}
}

func TestContent_Validate(t *testing.T) {
	cases := []struct {
		name string
		c    Content
		ok   bool
	}{
		{"text", Content{Text: "x"}, true},
		{"markdown", Content{Markdown: "x"}, true},
		{"empty", Content{Text: "  "}, false},
		{"both", Content{Text: "x", Markdown: "y"}, false},
		{"media url", Content{Media: &Media{Type: MediaImage, URL: "https://x/y.png"}}, true},
		{"media no source", Content{Media: &Media{Type: MediaImage}}, false},
		{"media bad type", Content{Media: &Media{Type: "gif", URL: "u"}}, false},
	}
	for _, tc := range cases {
		err := tc.c.Validate()
		if (err == nil) != tc.ok {
			t.Errorf("%s: err = %v, ok = %v", tc.name, err, tc.ok)
		}
	}
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x += 7 {
		img.Set(x, x%h, color.RGBA{R: 200, A: 255})
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestShrinkImage_FitsLargeImages(t *testing.T) {
	out, err := shrinkImage(pngBytes(t, 2400, 600))
	if err != nil {
		t.Fatalf("shrinkImage: %v", err)
	}
	img, err := imaging.Decode(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if b := img.Bounds(); b.Dx() != imageMaxSide || b.Dy() != 300 {
		t.Errorf("size = %dx%d, want %dx300", b.Dx(), b.Dy(), imageMaxSide)
	}
}

func TestShrinkImage_LeavesSmallImages(t *testing.T) {
	in := pngBytes(t, 64, 64)
	out, err := shrinkImage(in)
	if err != nil {
		t.Fatalf("shrinkImage: %v", err)
	}
	if !bytes.Equal(in, out) {
		t.Error("small image was re-encoded")
	}
}

func TestOrchestrator_MediaUploadsThenSends(t *testing.T) {
	h := newHarness(t, Options{})
	h.cache.Put("group:1", capability.Entry{Token: "EV", BoundID: "G1", ChatType: capability.ChatGroup})

	res, err := h.o.Deliver(context.Background(), Request{
		ConversationKey: "group:1",
		Content:         Content{Text: "caption", Media: &Media{Type: MediaImage, Data: pngBytes(t, 1600, 1600)}},
	})
	if err != nil || res.Tier != TierCached {
		t.Fatalf("Deliver = %+v, %v", res, err)
	}
	if len(h.api.uploads) != 1 {
		t.Fatalf("uploads = %d", len(h.api.uploads))
	}
	img, err := imaging.Decode(bytes.NewReader(h.api.uploads[0]))
	if err != nil || img.Bounds().Dx() > imageMaxSide {
		t.Errorf("uploaded image not shrunk: %v", err)
	}
	sends := h.api.sends()
	if len(sends) != 1 || sends[0].msg.FileInfo != "file-info" || sends[0].msg.Content != "caption" {
		t.Errorf("sends = %+v", sends)
	}
}
