// Package imagecheck validates reference images before a generation call is
// spent on them.
//
// Validation is deliberately strict: the Veo API needs an explicit MIME type
// per reference image, so an extension outside the supported set is an error
// here even when earlier listing filters admitted the key by content type.
package imagecheck

import (
	"bytes"
	"fmt"
	"image"
	"path"
	"strings"
	"time"

	"github.com/evanoberholster/imagemeta"
	"github.com/rs/zerolog/log"

	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/webp"
)

// MIMEByExtension maps the accepted reference-image extensions to the MIME
// type sent to the video model.
var MIMEByExtension = map[string]string{
	".webp": "image/webp",
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
}

// Info describes a validated reference image.
type Info struct {
	MIMEType string
	Width    int
	Height   int

	// EXIF capture metadata, best effort. Absent on most studio renders.
	CameraMake  string
	CameraModel string
	Taken       time.Time
}

// Validate checks that data is a decodable image in an accepted format and
// returns its MIME type and dimensions. EXIF is read when present; EXIF
// errors are logged at debug and never fail validation.
func Validate(name string, data []byte) (Info, error) {
	ext := strings.ToLower(path.Ext(name))
	mimeType, ok := MIMEByExtension[ext]
	if !ok {
		return Info{}, fmt.Errorf("unsupported image extension %q for %s", ext, name)
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return Info{}, fmt.Errorf("decoding image header of %s: %w", name, err)
	}

	info := Info{MIMEType: mimeType, Width: cfg.Width, Height: cfg.Height}

	exif, err := imagemeta.Decode(bytes.NewReader(data))
	if err != nil {
		log.Debug().Str("name", name).Str("format", format).Msg("No EXIF metadata")
		return info, nil
	}
	info.CameraMake = strings.TrimSpace(exif.Make)
	info.CameraModel = strings.TrimSpace(exif.Model)
	info.Taken = exif.DateTimeOriginal()
	log.Debug().
		Str("name", name).
		Str("format", format).
		Str("camera_make", info.CameraMake).
		Str("camera_model", info.CameraModel).
		Msg("Reference image metadata")
	return info, nil
}
