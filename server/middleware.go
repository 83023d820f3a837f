package server

import (
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/urfave/negroni"

	"github.com/smallnest/docqa/log"
)

// recoveryLogger returns logger when it can back negroni's recovery middleware.
func recoveryLogger(logger log.Logger) negroni.ALogger {
	if a, ok := logger.(negroni.ALogger); ok {
		return a
	}
	return nil
}

func newRecovery(logger log.Logger) *negroni.Recovery {
	recovery := negroni.NewRecovery()
	if a := recoveryLogger(logger); a != nil {
		recovery.Logger = a
	}
	recovery.PrintStack = false
	return recovery
}

func requestLogger(logger log.Logger) negroni.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request, next http.HandlerFunc) {
		start := time.Now()
		next(rw, r)

		status := http.StatusOK
		if nrw, ok := rw.(negroni.ResponseWriter); ok {
			status = nrw.Status()
		}
		logger.Info("%s %s %d %v session=%s", r.Method, r.URL.Path, status, time.Since(start), sessionID(r))
	}
}

var corsHeaders = strings.Join([]string{"Content-Type", "Authorization", SessionHeader}, ", ")

// cors allows credentialed requests from the listed origins and answers preflights.
func cors(origins []string) negroni.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request, next http.HandlerFunc) {
		origin := r.Header.Get("Origin")
		allowed := origin != "" && (slices.Contains(origins, origin) || slices.Contains(origins, "*"))
		if allowed {
			h := rw.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Credentials", "true")
			h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			h.Set("Access-Control-Allow-Headers", corsHeaders)
			h.Add("Vary", "Origin")
		}
		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			if allowed {
				rw.WriteHeader(http.StatusNoContent)
			} else {
				rw.WriteHeader(http.StatusForbidden)
			}
			return
		}
		next(rw, r)
	}
}
