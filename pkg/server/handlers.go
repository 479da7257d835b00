package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"aeo-audit/pkg/lifecycle"
	"aeo-audit/pkg/utils"
)

const (
	maxBodyBytes     = 64 << 10
	defaultPageLimit = 100
	maxPageLimit     = 500
)

// FailRequest is the body of the admin fail endpoint
type FailRequest struct {
	Reason string `json:"reason" validate:"required,max=256"`
}

// HTTPStatus maps lifecycle errors to status codes
func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, utils.ErrAuditNotFound), errors.Is(err, utils.ErrPageNotFound):
		return http.StatusNotFound
	case errors.Is(err, utils.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, utils.ErrAuditBusy):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := HTTPStatus(err)
	if status == http.StatusInternalServerError {
		s.log.WithField("path", r.URL.Path).WithField("category", utils.CategorizeError(err)).Errorf("Request error: %v", err)
		s.errorResponse(w, status, "internal error")
		return
	}
	s.errorResponse(w, status, err.Error())
}

// decode reads a JSON body into dst and validates it
func (s *Server) decode(r *http.Request, dst any) error {
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(dst); err != nil {
		return fmt.Errorf("%w: malformed JSON body: %v", utils.ErrInvalidRequest, err)
	}
	if err := s.validate.Struct(dst); err != nil {
		return fmt.Errorf("%w: %v", utils.ErrInvalidRequest, err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	body := map[string]any{"status": "ok"}
	if s.health != nil {
		for k, v := range s.health() {
			body[k] = v
		}
	}
	s.jsonResponse(w, http.StatusOK, body)
}

func (s *Server) handleCreateAudit(w http.ResponseWriter, r *http.Request) {
	var req lifecycle.CreateRequest
	if err := s.decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	resp, err := s.audits.Create(r.Context(), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.jsonResponse(w, http.StatusCreated, resp)
}

func (s *Server) handleGetAudit(w http.ResponseWriter, r *http.Request) {
	view, err := s.audits.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, view)
}

func (s *Server) handleListPages(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", defaultPageLimit, 1, maxPageLimit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	offset, err := queryInt(r, "offset", 0, 0, 1<<30)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	pages, err := s.audits.ListPages(r.Context(), r.PathValue("id"), limit, offset)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{
		"pages":  pages,
		"limit":  limit,
		"offset": offset,
	})
}

func (s *Server) handleGetPage(w http.ResponseWriter, r *http.Request) {
	page, err := s.audits.GetPage(r.Context(), r.PathValue("id"), r.PathValue("pageId"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, page)
}

func (s *Server) handleContinue(w http.ResponseWriter, r *http.Request) {
	res, err := s.audits.Continue(r.Context(), r.PathValue("id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, res)
}

func (s *Server) handleRecrawl(w http.ResponseWriter, r *http.Request) {
	view, err := s.audits.Recrawl(r.Context(), r.PathValue("id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.jsonResponse(w, http.StatusAccepted, view)
}

func (s *Server) handleFinalize(w http.ResponseWriter, r *http.Request) {
	audit, err := s.audits.Finalize(r.Context(), r.PathValue("id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, audit)
}

func (s *Server) handleFail(w http.ResponseWriter, r *http.Request) {
	var req FailRequest
	if err := s.decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	audit, err := s.audits.AdminFail(r.Context(), r.PathValue("id"), req.Reason)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, audit)
}

func queryInt(r *http.Request, name string, def, lo, hi int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < lo || n > hi {
		return 0, fmt.Errorf("%w: %s must be an integer in [%d, %d]", utils.ErrInvalidRequest, name, lo, hi)
	}
	return n, nil
}
