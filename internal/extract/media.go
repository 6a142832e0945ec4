// File path: internal/extract/media.go
package extract

import (
	"context"
	"encoding/binary"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"strings"

	"github.com/excavator-project/excavator/internal/xerrors"
)

// ImageExtractor records dimensions and format as typed side-metadata.
// There is no OCR or EXIF parsing here: richer decoding belongs to the
// external adapter capabilities, and an image with no extractable text
// still gets a filename-derived stub chunk so it is searchable by name.
type ImageExtractor struct{}

func (e *ImageExtractor) Name() string { return "image" }

func (e *ImageExtractor) Extensions() []string {
	return []string{"png", "jpg", "jpeg", "gif", "bmp", "webp"}
}

func (e *ImageExtractor) Extract(ctx context.Context, path string) (*Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, xerrors.New(xerrors.TransientIO, "extract", err)
	}
	defer f.Close()

	meta := &ImageMeta{Format: strings.ToUpper(strings.TrimPrefix(filepath.Ext(path), "."))}
	if cfg, format, err := image.DecodeConfig(f); err == nil {
		meta.Width = cfg.Width
		meta.Height = cfg.Height
		meta.Format = strings.ToUpper(format)
	}

	content := fmt.Sprintf("Image file %s (%s, %dx%d)", filepath.Base(path), meta.Format, meta.Width, meta.Height)
	return &Result{
		Content:   content,
		WordCount: countWords(content),
		Image:     meta,
	}, nil
}

// AudioExtractor parses the WAV header directly. Other formats (MP3
// included) are not parsed: their codec is the file extension and their
// duration, bitrate, sample rate and channels stay zero. Transcription is a
// separate TRANSCRIBE job.
type AudioExtractor struct{}

func (e *AudioExtractor) Name() string { return "audio" }

func (e *AudioExtractor) Extensions() []string {
	return []string{"wav", "mp3", "m4a", "flac", "ogg"}
}

func (e *AudioExtractor) Extract(ctx context.Context, path string) (*Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, xerrors.New(xerrors.TransientIO, "extract", err)
	}
	meta := &AudioMeta{Codec: strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")}
	if len(data) >= 44 && string(data[:4]) == "RIFF" && string(data[8:12]) == "WAVE" {
		parseWAVHeader(data, meta)
	}
	content := fmt.Sprintf("Audio file %s (%s, %.0fs)", filepath.Base(path), meta.Codec, meta.DurationSeconds)
	return &Result{
		Content:   content,
		WordCount: countWords(content),
		Audio:     meta,
	}, nil
}

func parseWAVHeader(data []byte, meta *AudioMeta) {
	meta.Codec = "pcm"
	meta.Channels = int(binary.LittleEndian.Uint16(data[22:24]))
	meta.SampleRate = int(binary.LittleEndian.Uint32(data[24:28]))
	byteRate := binary.LittleEndian.Uint32(data[28:32])
	meta.Bitrate = int(byteRate * 8)
	// Find the data chunk for the payload length; the fmt chunk may not be
	// the last one before it.
	for off := 12; off+8 <= len(data); {
		id := string(data[off : off+4])
		size := int(binary.LittleEndian.Uint32(data[off+4 : off+8]))
		if id == "data" {
			if byteRate > 0 {
				meta.DurationSeconds = float64(size) / float64(byteRate)
			}
			return
		}
		off += 8 + size
		if size%2 == 1 {
			off++
		}
	}
}
