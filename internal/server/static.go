// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Genesis Contributors

package server

import (
	"mime"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
)

// contentTypes is consulted before the system mime table so the dashboard
// gets the same types on every host.
var contentTypes = map[string]string{
	".html": "text/html",
	".js":   "application/javascript",
	".css":  "text/css",
	".png":  "image/png",
	".jpg":  "image/jpeg",
}

func contentType(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	if ct, ok := contentTypes[ext]; ok {
		return ct
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

func (s *Server) registerStaticRoutes() {
	s.router.Get("/", s.serveWeb("dashboard/index.html"))
	s.router.Get("/index.html", s.serveWeb("dashboard/index.html"))
	s.router.Get("/core.js", s.serveWeb("dashboard/core.js"))
	s.router.Get("/shared/media/*", func(w http.ResponseWriter, r *http.Request) {
		s.serveWeb("shared/media/"+cleanRel(chi.URLParam(r, "*")))(w, r)
	})
	s.router.Get("/plugins/{id}/frontend/*", s.handlePluginFrontend)
}

func (s *Server) serveWeb(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.webRoot == nil {
			http.NotFound(w, r)
			return
		}
		serveFile(w, r, s.webRoot, name)
	}
}

func (s *Server) handlePluginFrontend(w http.ResponseWriter, r *http.Request) {
	p, err := s.services.plugins.Get(chi.URLParam(r, "id"))
	if err != nil {
		http.NotFound(w, r)
		return
	}
	root, err := os.OpenRoot(filepath.Join(p.Dir, "frontend"))
	if err != nil {
		http.NotFound(w, r)
		return
	}
	defer root.Close()
	serveFile(w, r, root, chi.URLParam(r, "*"))
}

// cleanRel resolves dot segments without leaving the relative root.
func cleanRel(name string) string {
	return strings.TrimPrefix(path.Clean("/"+name), "/")
}

// serveFile serves name from root. Paths escaping root, directories and
// missing files are all 404.
func serveFile(w http.ResponseWriter, r *http.Request, root *os.Root, name string) {
	name = cleanRel(name)
	if name == "" {
		http.NotFound(w, r)
		return
	}

	f, err := root.Open(filepath.FromSlash(name))
	if err != nil {
		http.NotFound(w, r)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil || info.IsDir() {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", contentType(name))
	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
}
