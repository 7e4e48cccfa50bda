package server

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/dj-oyu/zonewatch/detection-server/internal/storage"
)

// handleResult serves /results/{filename} and /results/{directory}/{filename}.
func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	segments := []string{vars["filename"]}
	if dir, ok := vars["directory"]; ok {
		segments = []string{dir, vars["filename"]}
	}

	key, err := storage.Key(segments...)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	obj, info, err := s.store.Open(r.Context(), key)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	defer obj.Close()

	if info.ContentType != "" {
		w.Header().Set("Content-Type", info.ContentType)
	}
	http.ServeContent(w, r, vars["filename"], info.ModTime, obj)
}
