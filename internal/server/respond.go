package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/dj-oyu/zonewatch/detection-server/internal/apperror"
)

const (
	contentTypeProtobuf  = "application/protobuf"
	contentTypeXProtobuf = "application/x-protobuf"
)

// protobufType returns the protobuf media type the client accepts, or "".
func protobufType(r *http.Request) string {
	accept := r.Header.Get("Accept")
	switch {
	case strings.Contains(accept, contentTypeProtobuf):
		return contentTypeProtobuf
	case strings.Contains(accept, contentTypeXProtobuf):
		return contentTypeXProtobuf
	}
	return ""
}

// respond writes payload as JSON, or as a serialized google.protobuf.Struct
// when the client asks for protobuf.
func (s *Server) respond(w http.ResponseWriter, r *http.Request, status int, payload any) {
	if ct := protobufType(r); ct != "" {
		data, err := encodeStruct(payload)
		if err == nil {
			w.Header().Set("Content-Type", ct)
			w.WriteHeader(status)
			_, _ = w.Write(data)
			return
		}
		s.log.Warn("Protobuf encoding failed, falling back to JSON: %v", err)
	}
	writeJSONWithStatus(w, payload, status)
}

// encodeStruct converts payload through its JSON form into a Struct.
func encodeStruct(payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("payload is not an object: %w", err)
	}
	st, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, err
	}
	return proto.Marshal(st)
}

// fail maps err to a status code and writes {"error", "kind"}.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := apperror.HTTPStatus(err)
	kind := apperror.KindOf(err)

	message := err.Error()
	var appErr *apperror.Error
	if status < http.StatusInternalServerError && errors.As(err, &appErr) {
		message = appErr.Message
	}

	if status >= http.StatusInternalServerError {
		s.log.Error("%s %s: %v", r.Method, r.URL.Path, err)
	} else {
		s.log.Warn("%s %s: %v", r.Method, r.URL.Path, err)
	}
	s.respond(w, r, status, map[string]any{
		"error": message,
		"kind":  kind.String(),
	})
}

func writeJSONWithStatus(w http.ResponseWriter, payload any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		_, _ = fmt.Fprintf(w, `{"error":%q}`, err.Error())
	}
}
