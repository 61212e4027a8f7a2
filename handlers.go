package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/paulmach/orb"

	"github.com/kwv/roadmesh/roadmap"
)

// newHTTPServer creates an HTTP server with all endpoints
func newHTTPServer(app *App) http.Handler {
	mux := http.NewServeMux()

	// Health check endpoint
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, struct {
			Status    string    `json:"status"`
			Timestamp time.Time `json:"timestamp"`
			Sessions  int       `json:"sessions"`
			Segments  int64     `json:"segments"`
		}{
			Status:    "ok",
			Timestamp: time.Now(),
			Sessions:  app.Sessions.Len(),
			Segments:  app.datasetSize.Load(),
		})
	})

	// Session lifecycle
	mux.HandleFunc("POST /sessions", func(w http.ResponseWriter, r *http.Request) {
		s, err := app.MountSession(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		log.Printf("[HTTP] Mounted session %s", s.ID)
		writeJSON(w, http.StatusCreated, sessionStatus(s))
	})

	mux.HandleFunc("GET /sessions/{id}", withSession(app, func(w http.ResponseWriter, r *http.Request, s *roadmap.MapSession) {
		writeJSON(w, http.StatusOK, sessionStatus(s))
	}))

	mux.HandleFunc("DELETE /sessions/{id}", func(w http.ResponseWriter, r *http.Request) {
		if err := app.UnmountSession(r.PathValue("id")); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	// Rendered output
	mux.HandleFunc("GET /sessions/{id}/map.svg", withSession(app, func(w http.ResponseWriter, r *http.Request, s *roadmap.MapSession) {
		w.Header().Set("Content-Type", "image/svg+xml")
		w.Header().Set("Cache-Control", "no-cache")
		if err := roadmap.NewVectorRenderer(s.SceneSnapshot()).RenderToSVG(w); err != nil {
			log.Printf("Error encoding map SVG: %v", err)
		}
	}))

	mux.HandleFunc("GET /sessions/{id}/map.png", withSession(app, func(w http.ResponseWriter, r *http.Request, s *roadmap.MapSession) {
		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "no-cache")
		if err := roadmap.NewVectorRenderer(s.SceneSnapshot()).RenderToPNG(w); err != nil {
			log.Printf("Error encoding map PNG: %v", err)
		}
	}))

	mux.HandleFunc("GET /sessions/{id}/features.geojson", withSession(app, func(w http.ResponseWriter, r *http.Request, s *roadmap.MapSession) {
		w.Header().Set("Cache-Control", "no-cache")
		data, err := json.Marshal(roadmap.ExportGeoJSON(s.SceneSnapshot()))
		if err != nil {
			writeError(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/geo+json")
		_, _ = w.Write(data)
	}))

	mux.HandleFunc("GET /sessions/{id}/tiles", withSession(app, func(w http.ResponseWriter, r *http.Request, s *roadmap.MapSession) {
		surface := s.SceneSnapshot()
		writeJSON(w, http.StatusOK, struct {
			Provider roadmap.TileProvider `json:"provider"`
			Tiles    []string             `json:"tiles"`
		}{
			Provider: surface.BaseLayer(),
			Tiles:    surface.VisibleTiles(),
		})
	}))

	// Interaction
	mux.HandleFunc("POST /sessions/{id}/view", withSession(app, func(w http.ResponseWriter, r *http.Request, s *roadmap.MapSession) {
		center, err := queryPoint(r)
		if err != nil {
			writeError(w, err)
			return
		}
		zoom := headless(s).Zoom()
		if v := r.URL.Query().Get("zoom"); v != "" {
			if zoom, err = strconv.Atoi(v); err != nil {
				writeError(w, fmt.Errorf("%w: zoom %q", errBadRequest, v))
				return
			}
		}

		if d := app.debouncer(s.ID); d != nil {
			d.Trigger(func() {
				if err := s.SetView(center, zoom); err != nil {
					log.Printf("[HTTP] Debounced view for %s failed: %v", s.ID, err)
				}
			})
			writeJSON(w, http.StatusAccepted, map[string]any{"scheduled": true})
			return
		}

		if err := s.SetView(center, zoom); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, s.LastRender())
	}))

	mux.HandleFunc("POST /sessions/{id}/click", withSession(app, func(w http.ResponseWriter, r *http.Request, s *roadmap.MapSession) {
		p, err := queryPoint(r)
		if err != nil {
			writeError(w, err)
			return
		}
		sel, err := s.Click(p)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, selectionBody(sel))
	}))

	mux.HandleFunc("GET /sessions/{id}/selection", withSession(app, func(w http.ResponseWriter, r *http.Request, s *roadmap.MapSession) {
		writeJSON(w, http.StatusOK, selectionBody(s.Selection()))
	}))

	mux.HandleFunc("DELETE /sessions/{id}/selection", withSession(app, func(w http.ResponseWriter, r *http.Request, s *roadmap.MapSession) {
		s.CloseDetail()
		w.WriteHeader(http.StatusNoContent)
	}))

	mux.HandleFunc("POST /sessions/{id}/mode", withSession(app, func(w http.ResponseWriter, r *http.Request, s *roadmap.MapSession) {
		q := r.URL.Query()
		if q.Get("mode") == "" && q.Get("holeView") == "" {
			writeError(w, fmt.Errorf("%w: mode or holeView is required", errBadRequest))
			return
		}
		var summary roadmap.RenderSummary
		if v := q.Get("holeView"); v != "" {
			view, err := roadmap.ParseHoleView(v)
			if err != nil {
				writeError(w, err)
				return
			}
			summary = s.SetHoleView(view)
		}
		if v := q.Get("mode"); v != "" {
			mode, err := roadmap.ParseMode(v)
			if err != nil {
				writeError(w, err)
				return
			}
			summary = s.SetMode(mode)
		}
		writeJSON(w, http.StatusOK, summary)
	}))

	mux.HandleFunc("POST /sessions/{id}/layer", withSession(app, func(w http.ResponseWriter, r *http.Request, s *roadmap.MapSession) {
		writeJSON(w, http.StatusOK, s.SelectTileProvider(r.URL.Query().Get("name")))
	}))

	mux.HandleFunc("POST /sessions/{id}/fullscreen", withSession(app, func(w http.ResponseWriter, r *http.Request, s *roadmap.MapSession) {
		writeJSON(w, http.StatusOK, map[string]bool{"fullscreen": s.ToggleFullscreen()})
	}))

	mux.HandleFunc("POST /sessions/{id}/key", withSession(app, func(w http.ResponseWriter, r *http.Request, s *roadmap.MapSession) {
		handled := s.HandleKey(r.URL.Query().Get("key"))
		writeJSON(w, http.StatusOK, map[string]any{"handled": handled, "view": s.View()})
	}))

	// Dataset
	mux.HandleFunc("GET /stats", func(w http.ResponseWriter, r *http.Request) {
		if err := app.setup(); err != nil {
			writeError(w, err)
			return
		}
		if r.URL.Query().Get("source") == "backend" {
			if app.API == nil {
				writeError(w, fmt.Errorf("%w: no backend configured", errBadRequest))
				return
			}
			stats, err := app.API.FetchStatistics(r.Context())
			if err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, stats)
			return
		}
		segments := app.Loader.LoadAll(r.Context())
		writeJSON(w, http.StatusOK, struct {
			Segments   int                      `json:"segments"`
			Statistics roadmap.GlobalStatistics `json:"statistics"`
		}{len(segments), roadmap.ComputeStatistics(segments)})
	})

	mux.HandleFunc("GET /report.html", func(w http.ResponseWriter, r *http.Request) {
		if err := app.setup(); err != nil {
			writeError(w, err)
			return
		}
		segments := app.Loader.LoadAll(r.Context())
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "no-cache")
		if err := roadmap.RenderReport(w, roadmap.ComputeStatistics(segments), segments); err != nil {
			log.Printf("Error rendering report: %v", err)
		}
	})

	mux.HandleFunc("POST /reload", func(w http.ResponseWriter, r *http.Request) {
		n := app.ReloadAll(context.WithoutCancel(r.Context()))
		writeJSON(w, http.StatusOK, map[string]int{"sessions": n})
	})

	// Wrap mux with logging middleware
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log.Printf("[HTTP] %s %s from %s", r.Method, r.URL.Path, r.RemoteAddr)
		mux.ServeHTTP(w, r)
	})
}

var errBadRequest = errors.New("bad request")

type sessionHandler func(w http.ResponseWriter, r *http.Request, s *roadmap.MapSession)

// withSession resolves the {id} path value to a mounted session.
func withSession(app *App, next sessionHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, err := app.Sessions.Get(r.PathValue("id"))
		if err != nil {
			writeError(w, err)
			return
		}
		next(w, r, s)
	}
}

type sessionBody struct {
	ID         string                   `json:"id"`
	State      roadmap.SessionState     `json:"state"`
	View       roadmap.ViewState        `json:"view"`
	Render     roadmap.RenderSummary    `json:"render"`
	Statistics roadmap.GlobalStatistics `json:"statistics"`
}

func sessionStatus(s *roadmap.MapSession) sessionBody {
	return sessionBody{
		ID:         s.ID,
		State:      s.State(),
		View:       s.View(),
		Render:     s.LastRender(),
		Statistics: s.Statistics(),
	}
}

func selectionBody(sel *roadmap.Selection) map[string]any {
	return map[string]any{"open": sel != nil, "selection": sel}
}

// queryPoint reads lat and lon query parameters.
func queryPoint(r *http.Request) (orb.Point, error) {
	q := r.URL.Query()
	lat, err := strconv.ParseFloat(q.Get("lat"), 64)
	if err != nil {
		return orb.Point{}, fmt.Errorf("%w: lat %q", errBadRequest, q.Get("lat"))
	}
	lon, err := strconv.ParseFloat(q.Get("lon"), 64)
	if err != nil {
		return orb.Point{}, fmt.Errorf("%w: lon %q", errBadRequest, q.Get("lon"))
	}
	return orb.Point{lon, lat}, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Error encoding response: %v", err)
	}
}

// writeError maps domain errors onto HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	var loadErr *roadmap.LoadError
	switch {
	case errors.Is(err, roadmap.ErrUnknownSession):
		status = http.StatusNotFound
	case errors.Is(err, roadmap.ErrInvalidMode), errors.Is(err, errBadRequest):
		status = http.StatusBadRequest
	case errors.Is(err, roadmap.ErrNotInteractive):
		status = http.StatusConflict
	case errors.As(err, &loadErr):
		status = http.StatusBadGateway
	}
	http.Error(w, err.Error(), status)
}
