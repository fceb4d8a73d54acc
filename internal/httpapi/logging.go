package httpapi

import (
	"bytes"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// requestLevel returns the effective verbosity for one request. Clients
// may override it per call through the "log" query parameter or the
// X-Log-Level header; anything unparseable falls back to the server
// logger's own level.
func (s *server) requestLevel(r *http.Request) zerolog.Level {
	for _, v := range []string{r.URL.Query().Get("log"), r.Header.Get("X-Log-Level")} {
		if v == "" {
			continue
		}
		if v == "1" {
			return zerolog.DebugLevel
		}
		if lvl, err := zerolog.ParseLevel(strings.ToLower(v)); err == nil {
			return lvl
		}
	}
	return s.log.GetLevel()
}

// streamEcho mirrors completed NDJSON lines onto the structured log,
// buffering partial writes until a newline arrives.
type streamEcho struct {
	log zerolog.Logger
	buf []byte
}

func (e *streamEcho) Write(p []byte) (int, error) {
	e.buf = append(e.buf, p...)
	for {
		i := bytes.IndexByte(e.buf, '\n')
		if i < 0 {
			return len(p), nil
		}
		if i > 0 {
			e.log.Debug().Str("chunk", string(e.buf[:i])).Msg("generate stream")
		}
		e.buf = e.buf[i+1:]
	}
}

// logGenerate records the start and end of a generation request with
// its request id, status and duration.
func (s *server) logGenerate(r *http.Request, msg string, status int, dur time.Duration, err error) {
	ev := s.log.Info().Str("path", r.URL.Path)
	if status != 0 {
		ev = ev.Int("status", status).Dur("dur", dur)
	}
	if rid := middleware.GetReqID(r.Context()); rid != "" {
		ev = ev.Str("request_id", rid)
	}
	if err != nil {
		ev = ev.Err(err)
	}
	ev.Msg(msg)
}
