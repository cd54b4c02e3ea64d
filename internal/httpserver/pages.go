package httpserver

import (
	"log/slog"
	"net/http"
)

// renderError renders the error page. Successful flow steps answer with
// redirects, so the error page is the only HTML this server produces.
func (s *Server) renderError(w http.ResponseWriter, errMsg string) {
	data := map[string]string{
		"Error": errMsg,
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusBadRequest)

	if err := s.templates.ExecuteTemplate(w, "error.html", data); err != nil {
		slog.Error("failed to render error template", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}
