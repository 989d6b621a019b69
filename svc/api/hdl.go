package api

import (
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"pastebin/cfg"
	"pastebin/pkg/domain"
	"pastebin/svc/pool"
	"pastebin/svc/svc"
	"pastebin/svc/util"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/hlog"
	"golang.org/x/text/unicode/norm"
)

// JSON escaping can grow the body well past the raw content size.
const bodyOverhead = 16 * 1024

type Hdl struct {
	paste *svc.Paste
	pool  *pool.Allocator
	cfg   *cfg.Cfg
}
type CreateReq struct {
	Content  string `json:"content"`
	TTL      string `json:"ttl,omitempty"`
	Language string `json:"language,omitempty"`
	Title    string `json:"title,omitempty"`
}
type PoolResp struct {
	Available int64 `json:"available"`
	LowWater  int   `json:"low_water"`
}

func (h *Hdl) CreatePaste(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)
	requestID := util.GetRequestID(r.Context())
	contentType := r.Header.Get("Content-Type")
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil || mediaType != "application/json" {
		log.Warn().
			Str("content_type", contentType).
			Str("request_id", requestID).
			Msg("invalid Content-Type header")
		w.WriteHeader(http.StatusUnsupportedMediaType)
		json.NewEncoder(w).Encode(map[string]string{
			"error":      "expected Content-Type: application/json",
			"request_id": requestID,
		})
		return
	}
	limit := h.cfg.MaxPasteSize*2 + bodyOverhead
	if r.ContentLength > limit {
		log.Warn().Int64("content_length", r.ContentLength).Msg("Content-Length exceeds maximum")
		writeErr(w, domain.ErrPasteTooLarge, requestID)
		return
	}
	if ce := r.Header.Get("Content-Encoding"); ce != "" {
		log.Warn().Str("content_encoding", ce).Msg("compressed content not allowed")
		writeErr(w, domain.ErrInvalidRequest, requestID)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	var req CreateReq
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		if err == io.EOF {
			log.Warn().Msg("empty request body")
		} else {
			log.Warn().Err(err).Msg("invalid request")
		}
		writeErr(w, domain.ErrInvalidRequest, requestID)
		return
	}
	var ttl time.Duration
	if req.TTL != "" {
		ttl, err = time.ParseDuration(req.TTL)
		if err != nil || ttl <= 0 {
			log.Warn().Str("ttl", req.TTL).Msg("invalid ttl")
			writeErr(w, domain.ErrInvalidTTL, requestID)
			return
		}
	}
	paste, err := h.paste.Create(r.Context(), domain.CreateParams{
		Content:  sanitizeContent(req.Content),
		TTL:      ttl,
		Language: req.Language,
		Title:    req.Title,
	})
	if err != nil {
		log.Warn().Err(err).Msg("failed to create paste")
		writeErr(w, err, requestID)
		return
	}
	w.Header().Set("Location", "/api/pastes/"+paste.Token)
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(h.paste.Result(paste))
}
func (h *Hdl) GetPaste(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)
	requestID := util.GetRequestID(r.Context())
	token := chi.URLParam(r, "token")
	if !util.ValidToken(token) {
		writeErr(w, domain.ErrPasteNotFound, requestID)
		return
	}
	view, err := h.paste.Get(r.Context(), token)
	if err != nil {
		log.Warn().Err(err).Str("token", token).Msg("get failed")
		writeErr(w, err, requestID)
		return
	}
	log.Info().
		Str("token", token).
		Int64("views", view.ViewCount).
		Msg("paste retrieved")
	json.NewEncoder(w).Encode(view)
}
func (h *Hdl) DeletePaste(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)
	requestID := util.GetRequestID(r.Context())
	token := chi.URLParam(r, "token")
	if !util.ValidToken(token) {
		writeErr(w, domain.ErrPasteNotFound, requestID)
		return
	}
	deleted, err := h.paste.Delete(r.Context(), token)
	if err != nil {
		log.Error().Err(err).Str("token", token).Msg("failed to delete paste")
		writeErr(w, err, requestID)
		return
	}
	if !deleted {
		writeErr(w, domain.ErrPasteNotFound, requestID)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
func (h *Hdl) PoolStatus(w http.ResponseWriter, r *http.Request) {
	requestID := util.GetRequestID(r.Context())
	n, err := h.pool.AvailableCount(r.Context())
	if err != nil {
		writeErr(w, err, requestID)
		return
	}
	json.NewEncoder(w).Encode(PoolResp{Available: n, LowWater: h.pool.LowWater()})
}

type errBody struct {
	Error     domain.ErrDetail `json:"error"`
	RequestID string           `json:"request_id"`
}

func writeErr(w http.ResponseWriter, err error, requestID string) {
	statusCode := domain.Status(err)
	detail := domain.ToResp(err).Error
	if statusCode == http.StatusInternalServerError {
		detail = domain.ErrDetail{Code: domain.ErrInternalServer.Code, Msg: "internal server error"}
		util.Error().
			Err(err).
			Str("request_id", requestID).
			Msg("internal error with detailed info")
	}
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(errBody{Error: detail, RequestID: requestID})
}

// sanitizeContent normalizes to NFC and drops control characters other than
// line breaks and tabs.
func sanitizeContent(s string) string {
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, "")
	}
	s = norm.NFC.String(s)
	return strings.Map(func(r rune) rune {
		if r == '\n' || r == '\r' || r == '\t' {
			return r
		}
		if r < 32 || r == 127 {
			return -1
		}
		return r
	}, s)
}
