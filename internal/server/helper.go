package server

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
)

const (
	LogFieldRequestID   = "requestId"
	LogFieldHTTPRequest = "httpRequest"
)

func httpRequestField(r *http.Request, statusCode int) map[string]any {
	field := map[string]any{
		"requestMethod": r.Method,
		"requestUrl":    r.URL.EscapedPath(),
		"remoteIp":      r.RemoteAddr,
	}
	if statusCode != 0 {
		field["status"] = statusCode
	}
	return field
}

func (s *Server) requestLogger(r *http.Request) *logrus.Entry {
	return s.log.WithFields(logrus.Fields{
		LogFieldRequestID:   middleware.GetReqID(r.Context()),
		LogFieldHTTPRequest: httpRequestField(r, 0),
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, d any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	if err := json.NewEncoder(w).Encode(d); err != nil {
		s.log.Error(err)
	}
}

// writeJSONError logs err and answers with {"error": ...}. A public message
// replaces err in the response so internal details stay in the log.
func (s *Server) writeJSONError(w http.ResponseWriter, r *http.Request, statusCode int, err error, publicMessage ...string) {
	entry := s.log.WithFields(logrus.Fields{
		LogFieldRequestID:   middleware.GetReqID(r.Context()),
		LogFieldHTTPRequest: httpRequestField(r, statusCode),
	})
	if statusCode >= http.StatusInternalServerError {
		entry.Errorf("error: %v", err)
	} else {
		entry.Warnf("error: %v", err)
	}

	errMsg := err.Error()
	if len(publicMessage) > 0 {
		errMsg = strings.Join(publicMessage, " ")
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(statusCode)
	s.writeJSON(w, map[string]string{"error": errMsg})
}
