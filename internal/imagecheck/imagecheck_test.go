package imagecheck

import (
	"bytes"
	"image"
	"image/jpeg"
	"image/png"
	"testing"
)

func encodePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h))); err != nil {
		t.Fatalf("encoding test png: %v", err)
	}
	return buf.Bytes()
}

func encodeJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h)), nil); err != nil {
		t.Fatalf("encoding test jpeg: %v", err)
	}
	return buf.Bytes()
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name     string
		data     []byte
		wantMIME string
		wantW    int
		wantH    int
	}{
		{"ref.png", encodePNG(t, 2, 3), "image/png", 2, 3},
		{"ref.jpg", encodeJPEG(t, 4, 2), "image/jpeg", 4, 2},
		{"ref.jpeg", encodeJPEG(t, 1, 1), "image/jpeg", 1, 1},
		{"REF.PNG", encodePNG(t, 1, 1), "image/png", 1, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info, err := Validate(tt.name, tt.data)
			if err != nil {
				t.Fatalf("Validate returned error: %v", err)
			}
			if info.MIMEType != tt.wantMIME {
				t.Errorf("MIMEType = %q, want %q", info.MIMEType, tt.wantMIME)
			}
			if info.Width != tt.wantW || info.Height != tt.wantH {
				t.Errorf("dimensions = %dx%d, want %dx%d", info.Width, info.Height, tt.wantW, tt.wantH)
			}
		})
	}
}

func TestValidate_UnknownExtension(t *testing.T) {
	if _, err := Validate("ref.txt", encodePNG(t, 1, 1)); err == nil {
		t.Error("expected error for unsupported extension")
	}
	if _, err := Validate("ref", encodePNG(t, 1, 1)); err == nil {
		t.Error("expected error for missing extension")
	}
}

func TestValidate_UndecodableData(t *testing.T) {
	if _, err := Validate("ref.webp", []byte("not an image")); err == nil {
		t.Error("expected error for undecodable data")
	}
}
