// Package transcode converts downloaded audio to MP3 and embeds metadata
// tags. Both operations are best-effort from the pipeline's point of view:
// a failed conversion degrades to keeping the original file.
package transcode

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	ffmpeg "github.com/u2takey/ffmpeg-go"
)

// Available checks whether ffmpeg is installed and accessible.
func Available() bool {
	_, err := exec.LookPath("ffmpeg")
	return err == nil
}

// ToMP3 re-encodes the file at path into an MP3 next to it and removes the
// source on success. Returns the new path.
func ToMP3(path string) (string, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".mp3" {
		return path, nil
	}

	outputPath := strings.TrimSuffix(path, filepath.Ext(path)) + ".mp3"
	err := ffmpeg.Input(path).
		Output(outputPath, ffmpeg.KwArgs{
			"vn":     "",
			"acodec": "libmp3lame",
			"q:a":    "2",
		}).
		OverWriteOutput().
		Silent(true).
		Run()
	if err != nil {
		os.Remove(outputPath)
		return "", fmt.Errorf("encoding %s to mp3: %w", filepath.Base(path), err)
	}

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		// Conversion succeeded; a leftover source file is not worth failing over.
		return outputPath, nil
	}
	return outputPath, nil
}
