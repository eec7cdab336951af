// Package zip bundles rendered comic pages into a downloadable archive.
package zip

import (
	"archive/zip"
	"bytes"
	"path"
)

// Asset is one page destined for the archive. Filename may omit the
// extension; it is derived from MIME.
type Asset struct {
	Filename string
	MIME     string
	Data     []byte
}

func (a Asset) entryName() string {
	if path.Ext(a.Filename) != "" {
		return a.Filename
	}
	switch a.MIME {
	case "image/png":
		return a.Filename + ".png"
	case "image/jpeg", "image/jpg":
		return a.Filename + ".jpg"
	}
	return a.Filename
}

func ArchiveAssets(assets []Asset) []byte {
	buf := &bytes.Buffer{}
	zw := zip.NewWriter(buf)
	for _, asset := range assets {
		w, err := zw.Create(asset.entryName())
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
