package transcode

import (
	"path/filepath"
	"strings"

	id3v2 "github.com/bogem/id3v2/v2"
)

// EmbedTags writes title/artist ID3v2 frames into an MP3 file. Non-MP3
// files are silently skipped.
func EmbedTags(path, title, artist string) error {
	if strings.ToLower(filepath.Ext(path)) != ".mp3" {
		return nil
	}

	tag, err := id3v2.Open(path, id3v2.Options{Parse: true})
	if err != nil {
		return err
	}
	defer tag.Close()

	if title != "" {
		tag.SetTitle(title)
	}
	if artist != "" {
		tag.SetArtist(artist)
	}
	return tag.Save()
}
