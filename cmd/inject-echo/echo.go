package main

import (
	"io"
	"strconv"

	"github.com/bytedance/sonic"

	"dqx0.com/go/inject/httpx"
	"dqx0.com/go/inject/internal/obs"
)

type echoReply struct {
	RequestID string              `json:"requestId"`
	Method    string              `json:"method"`
	URI       string              `json:"uri"`
	Host      string              `json:"host"`
	Headers   map[string][]string `json:"headers"`
	Body      string              `json:"body"`
}

// echoHandler replies with a JSON description of the request. A "status"
// query parameter selects the response code. The body size is sent as the
// X-Body-Bytes trailer.
func echoHandler() httpx.Handler {
	return httpx.HandlerFunc(func(w httpx.ResponseWriter, r *httpx.Request) {
		log := obs.Log(r.Context())
		body, err := io.ReadAll(r.Body)
		if err != nil {
			log.Warn().Err(err).Msg("reading request body")
			w.WriteHeader(400)
			return
		}
		status := 200
		if s := r.URL.Query().Get("status"); s != "" {
			if n, err := strconv.Atoi(s); err == nil && n >= 100 && n < 600 {
				status = n
			}
		}
		out, err := sonic.Marshal(echoReply{
			RequestID: r.RequestID,
			Method:    r.Method,
			URI:       r.RequestURI,
			Host:      r.Host,
			Headers:   r.Header,
			Body:      string(body),
		})
		if err != nil {
			log.Error().Err(err).Msg("encoding echo reply")
			w.WriteHeader(500)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		w.Write(out)
		if tw, ok := w.(httpx.TrailerWriter); ok {
			tw.AddTrailers(map[string]string{"X-Body-Bytes": strconv.Itoa(len(body))})
		}
		log.Debug().Int("status", status).Int("body", len(body)).Msg("echoed request")
	})
}
