package zip

import (
	"archive/zip"
	"bytes"
	"strings"
)

type Asset struct {
	Filename string
	MIME     string
	Data     []byte
}

// ArchiveAssets bundles assets into a zip in slice order. Image and video
// payloads are stored uncompressed since their codecs already did the work.
func ArchiveAssets(assets []Asset) []byte {
	buf := &bytes.Buffer{}
	zw := zip.NewWriter(buf)
	for _, asset := range assets {
		header := &zip.FileHeader{
			Name:   asset.Filename,
			Method: methodForMIME(asset.MIME),
		}
		w, err := zw.CreateHeader(header)
		if err != nil {
			continue
		}
		if _, err := w.Write(asset.Data); err != nil {
			return nil
		}
	}
	_ = zw.Close()
	return buf.Bytes()
}

func methodForMIME(mime string) uint16 {
	mime = strings.ToLower(strings.TrimSpace(mime))
	if strings.HasPrefix(mime, "image/") || strings.HasPrefix(mime, "video/") {
		return zip.Store
	}
	return zip.Deflate
}
