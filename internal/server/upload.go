package server

import (
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cast"

	"github.com/dj-oyu/zonewatch/detection-server/internal/apperror"
	"github.com/dj-oyu/zonewatch/detection-server/internal/media"
	"github.com/dj-oyu/zonewatch/detection-server/internal/pipeline"
	"github.com/dj-oyu/zonewatch/detection-server/internal/zone"
	"github.com/dj-oyu/zonewatch/detection-server/pkg/types"
)

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	defer func() { s.metrics.UpdateRequestLatency(time.Since(start)) }()

	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	if err := r.ParseMultipartForm(s.cfg.MaxMemoryBytes); err != nil {
		s.reject(w, r, uploadFormError(err))
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, hdr, err := r.FormFile("file")
	if err != nil {
		s.reject(w, r, apperror.Validationf("no file part"))
		return
	}
	defer file.Close()

	kind, err := media.Classify(hdr.Filename)
	if err != nil {
		s.reject(w, r, err)
		return
	}
	session := r.FormValue("session")
	if session == "" {
		session = DefaultSession
	}

	switch kind {
	case media.KindZoneDefinition:
		s.handleZoneDefinition(w, r, file, session)
	case media.KindImage, media.KindVideo:
		s.handleMedia(w, r, kind, file, hdr, session)
	}
}

func uploadFormError(err error) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return apperror.Validationf("upload exceeds %d bytes", tooLarge.Limit)
	}
	return apperror.New(apperror.Validation, err, "invalid multipart form")
}

func (s *Server) reject(w http.ResponseWriter, r *http.Request, err error) {
	if apperror.Is(err, apperror.Validation) {
		s.metrics.RejectedUploads.Add(1)
	}
	s.fail(w, r, err)
}

// handleZoneDefinition extracts a polygon from a drawing document and caches
// it for the next media upload of the session.
func (s *Server) handleZoneDefinition(w http.ResponseWriter, r *http.Request, file multipart.File, session string) {
	doc, err := io.ReadAll(file)
	if err != nil {
		s.fail(w, r, apperror.Pipelinef(err, "read zone definition"))
		return
	}
	poly, err := zone.ExtractFromDrawing(doc)
	if err != nil {
		s.reject(w, r, err)
		return
	}

	s.zones.Put(session, poly)
	s.metrics.ZoneUploads.Add(1)
	s.log.Info("Zone with %d points cached for session %q", len(poly), session)

	s.respond(w, r, http.StatusOK, map[string]any{
		"message":     "Zone coordinates saved",
		"coordinates": poly,
	})
}

func (s *Server) handleMedia(w http.ResponseWriter, r *http.Request, kind media.Kind, file multipart.File, hdr *multipart.FileHeader, session string) {
	classes, err := parseClasses(r.FormValue("classes"))
	if err != nil {
		s.reject(w, r, err)
		return
	}
	inline, err := zone.ParseInline(r.FormValue("zone"))
	if err != nil {
		s.reject(w, r, err)
		return
	}

	asset, err := media.SaveAsset(s.cfg.UploadDir, hdr.Filename, file)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	defer func() {
		if err := asset.Remove(); err != nil {
			s.log.Warn("Failed to remove upload %s: %v", asset.StorageName, err)
		}
	}()

	seq, err := s.times.Reconstruct(r.Context(), asset.Path)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	z, cached := s.resolveZone(session, inline)
	params := pipeline.Params{
		Classes:    classes,
		Zone:       z,
		Timestamps: seq.Strings(),
	}
	s.log.Debug("%s upload %s: %d timestamps, %d classes, zone %d points",
		kind, asset.StorageName, len(params.Timestamps), len(classes), len(params.Zone))

	switch kind {
	case media.KindImage:
		s.metrics.ImageUploads.Add(1)
		res, err := s.pipe.ProcessImage(r.Context(), asset.Path, params)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		if cached {
			s.zones.Take(session)
		}
		s.respond(w, r, http.StatusOK, map[string]any{
			"result_path":     res.Path,
			"result_filename": res.Filename,
			"report":          res.Report,
		})
	case media.KindVideo:
		s.metrics.VideoUploads.Add(1)
		res, err := s.pipe.ProcessVideo(r.Context(), asset.Path, params)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		s.respond(w, r, http.StatusOK, map[string]any{
			"result_frame_filenames": res.Frames,
			"result_directory":       res.Directory,
			"report":                 res.Report,
		})
	}
}

// resolveZone picks the inline zone when one was sent, otherwise the
// session's cached zone. cached reports whether the cache supplied it. Image
// uploads consume that zone only after their result has been written; video
// uploads leave it in place.
func (s *Server) resolveZone(session string, inline zone.Polygon) (z zone.Polygon, cached bool) {
	if !inline.Empty() {
		return inline, false
	}
	if z, ok := s.zones.Peek(session); ok {
		s.metrics.ZoneCacheHits.Add(1)
		return z, true
	}
	s.metrics.ZoneCacheMisses.Add(1)
	return nil, false
}

// parseClasses decodes the "classes" field, a JSON list of labels. An empty
// field or an empty list admits every class.
func parseClasses(raw string) (types.ClassFilter, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "null" {
		return types.NewClassFilter(), nil
	}
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, apperror.New(apperror.Validation, err, "malformed classes list")
	}
	names, err := cast.ToStringSliceE(v)
	if err != nil {
		return nil, apperror.New(apperror.Validation, err, "classes must be a list of names")
	}
	return types.NewClassFilter(names...), nil
}
