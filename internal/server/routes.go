package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"ticketwatch/internal/models"

	"github.com/go-chi/chi/v5"
)

type urlRequest struct {
	URL string `json:"url"`
}

func decodeURL(r *http.Request) (string, error) {
	var req urlRequest
	err := json.NewDecoder(r.Body).Decode(&req)
	if err != nil {
		return "", errors.New("request body must be a json object with a url")
	}
	if req.URL == "" {
		return "", errors.New("url is required")
	}
	return req.URL, nil
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type addResponse struct {
	Created  bool                    `json:"created"`
	Endpoint models.MonitoredEndpoint `json:"endpoint"`
}

func (s *Server) addEndpoint(w http.ResponseWriter, r *http.Request) {
	url, err := decodeURL(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	endpoint, created, err := s.monitor.Add(r.Context(), url)
	if err != nil {
		status := statusOf(err)
		if status == http.StatusInternalServerError {
			s.tel.ReportBroken("routes.add_endpoint", err, url)
		}
		writeError(w, status, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, addResponse{Created: created, Endpoint: endpoint})
}

func (s *Server) listEndpoints(w http.ResponseWriter, r *http.Request) {
	endpoints, err := s.monitor.List(r.Context())
	if err != nil {
		s.tel.ReportBroken("routes.list_endpoints", err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, endpoints)
}

func (s *Server) fetch(w http.ResponseWriter, r *http.Request) {
	url, err := decodeURL(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	res, err := s.monitor.Fetch(r.Context(), url)
	if err != nil {
		status := statusOf(err)
		if status == http.StatusInternalServerError {
			s.tel.ReportBroken("routes.fetch", err, url)
		} else {
			s.tel.ReportWarning("routes.fetch", err, url)
		}
		writeError(w, status, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) changes(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventId")
	changes, err := s.monitor.Changes(r.Context(), eventID)
	if err != nil {
		status := statusOf(err)
		if status == http.StatusInternalServerError {
			s.tel.ReportBroken("routes.changes", err, eventID)
		}
		writeError(w, status, err)
		return
	}
	writeJSON(w, http.StatusOK, changes)
}
