package api

import (
	"errors"
	"io/fs"
	"mime"
	"net/http"
	"os"
	"path/filepath"

	"github.com/go-chi/chi/v5"
)

// handleOTADownload serves a firmware image from the OTA directory. Only the
// base name of the request is used, so paths cannot escape the directory.
func (s *Server) handleOTADownload(w http.ResponseWriter, r *http.Request) {
	if s.otaDir == "" {
		writeNotFound(w, "file does not exist")
		return
	}

	name := filepath.Base(filepath.Clean("/" + chi.URLParam(r, "filename")))
	if name == "/" || name == "." || name == ".." {
		writeNotFound(w, "file does not exist")
		return
	}

	root, err := os.OpenRoot(s.otaDir)
	if err != nil {
		s.logger.Error("OTA directory unavailable", "dir", s.otaDir, "error", err)
		writeNotFound(w, "file does not exist")
		return
	}
	defer root.Close()

	f, err := root.Open(name)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.logger.Warn("OTA open failed", "file", name, "error", err)
		}
		writeNotFound(w, "file does not exist")
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil || info.IsDir() {
		writeNotFound(w, "file does not exist")
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name}))
	http.ServeContent(w, r, name, info.ModTime(), f)
}
