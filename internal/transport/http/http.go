// Package http implements the HTTP/WebSocket job API for dialogcast.
//
// Clients submit a script, poll or stream the job status, download the
// finished audio and cancel running jobs. Swagger UI is served under
// /swagger/.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	httpSwagger "github.com/swaggo/http-swagger/v2"

	"github.com/nadzzz/dialogcast/internal/engine"
	"github.com/nadzzz/dialogcast/internal/job"
	"github.com/nadzzz/dialogcast/internal/message"
	"github.com/nadzzz/dialogcast/internal/transport"
	"github.com/nadzzz/dialogcast/internal/tts"

	_ "github.com/nadzzz/dialogcast/docs" // registers the OpenAPI document
)

// maxScriptBytes bounds a submitted script.
const maxScriptBytes = 1 << 20

// optionParams are the query parameters forwarded to backends on raw uploads.
var optionParams = []string{tts.OptLanguage, tts.OptSpeakerWAV, tts.OptVoice, tts.OptSpeed, tts.OptEmotion}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// Transport implements transport.Transport over HTTP and WebSocket.
type Transport struct {
	port   int
	server *http.Server
}

// New creates a new HTTP transport on the given port.
func New(port int) *Transport {
	return &Transport{port: port}
}

// Name returns the transport identifier.
func (t *Transport) Name() string { return "http" }

// Handler returns the API routes for svc.
func (t *Transport) Handler(svc transport.Service) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /jobs", func(w http.ResponseWriter, r *http.Request) {
		t.handleSubmit(w, r, svc)
	})
	mux.HandleFunc("GET /jobs/{id}", func(w http.ResponseWriter, r *http.Request) {
		t.handleStatus(w, r, svc)
	})
	mux.HandleFunc("GET /jobs/{id}/audio", func(w http.ResponseWriter, r *http.Request) {
		t.handleAudio(w, r, svc)
	})
	mux.HandleFunc("DELETE /jobs/{id}", func(w http.ResponseWriter, r *http.Request) {
		t.handleCancel(w, r, svc)
	})
	mux.HandleFunc("GET /jobs/{id}/ws", func(w http.ResponseWriter, r *http.Request) {
		t.handleStream(w, r, svc)
	})
	mux.HandleFunc("GET /engines", func(w http.ResponseWriter, r *http.Request) {
		t.handleEngines(w, r, svc)
	})

	// Swagger UI over the document registered by the docs package.
	mux.Handle("GET /swagger/", httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
	))
	return mux
}

// Listen starts the HTTP server. It blocks until the context is cancelled.
func (t *Transport) Listen(ctx context.Context, svc transport.Service) error {
	t.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", t.port),
		Handler:           t.Handler(svc),
		ReadHeaderTimeout: 10 * time.Second,
	}

	slog.Info("http transport listening", "port", t.port)

	go func() {
		<-ctx.Done()
		slog.Info("http transport shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = t.server.Shutdown(shutdownCtx)
	}()

	if err := t.server.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("http listen: %w", err)
	}
	return nil
}

// handleSubmit processes a POST /jobs request.
//
// @Summary     Submit a dialogue script
// @Description Accepts a JSON submission, a multipart upload (file field "script") or the raw script
// @Description text as the body. For raw and multipart uploads the engine and backend options are
// @Description read from query parameters. The job runs in the background.
// @Tags        jobs
// @Accept      json
// @Accept      plain
// @Accept      mpfd
// @Produce     json
// @Param       request      body      message.SubmitRequest  true   "Submission (JSON). For raw text, POST the script directly."
// @Param       engine       query     string                 false  "Preferred engine (raw and multipart uploads)"
// @Param       language     query     string                 false  "Backend language option"
// @Param       speaker_wav  query     string                 false  "Reference voice file for voice-cloning engines"
// @Success     202  {object}  message.SubmitResponse
// @Failure     400  {object}  message.ErrorResponse  "Invalid request or unknown engine"
// @Router      /jobs [post]
func (t *Transport) handleSubmit(w http.ResponseWriter, r *http.Request, svc transport.Service) {
	req, err := decodeSubmit(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if strings.TrimSpace(req.Script) == "" {
		writeError(w, http.StatusBadRequest, errors.New("script is empty"))
		return
	}

	id, err := svc.Submit(r.Context(), req.Script, req.Engine, tts.Options(req.Options))
	if errors.Is(err, engine.ErrUnknownEngine) {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err != nil {
		slog.Error("submit failed", "error", err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	statusURL := "/jobs/" + id
	w.Header().Set("Location", statusURL)
	writeJSON(w, http.StatusAccepted, message.SubmitResponse{
		JobID:     id,
		State:     string(job.Queued),
		StatusURL: statusURL,
		AudioURL:  statusURL + "/audio",
	})
}

func decodeSubmit(w http.ResponseWriter, r *http.Request) (message.SubmitRequest, error) {
	var req message.SubmitRequest
	body := http.MaxBytesReader(w, r.Body, maxScriptBytes)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "application/json":
		if err := json.NewDecoder(body).Decode(&req); err != nil {
			return req, fmt.Errorf("invalid json: %w", err)
		}
		return req, nil
	case "multipart/form-data":
		r.Body = body
		if err := r.ParseMultipartForm(maxScriptBytes); err != nil {
			return req, fmt.Errorf("invalid upload: %w", err)
		}
		f, _, err := r.FormFile("script")
		if err != nil {
			return req, fmt.Errorf("missing script file: %w", err)
		}
		defer f.Close()
		data, err := io.ReadAll(f)
		if err != nil {
			return req, fmt.Errorf("reading script file: %w", err)
		}
		req.Script = string(data)
	default:
		data, err := io.ReadAll(body)
		if err != nil {
			return req, fmt.Errorf("reading script: %w", err)
		}
		req.Script = string(data)
	}

	req.Engine = r.FormValue("engine")
	for _, key := range optionParams {
		if v := r.FormValue(key); v != "" {
			if req.Options == nil {
				req.Options = make(map[string]string)
			}
			req.Options[key] = v
		}
	}
	return req, nil
}

// handleStatus processes a GET /jobs/{id} request.
//
// @Summary     Get job status
// @Tags        jobs
// @Produce     json
// @Param       id   path      string  true  "Job ID"
// @Success     200  {object}  message.JobStatus
// @Failure     404  {object}  message.ErrorResponse  "Unknown or expired job"
// @Router      /jobs/{id} [get]
func (t *Transport) handleStatus(w http.ResponseWriter, r *http.Request, svc transport.Service) {
	j, err := svc.Status(r.Context(), r.PathValue("id"))
	if err != nil {
		writeJobError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toStatus(j))
}

// handleAudio processes a GET /jobs/{id}/audio request.
//
// @Summary     Download the assembled audio
// @Tags        jobs
// @Produce     audio/mpeg
// @Produce     audio/wav
// @Param       id   path      string  true  "Job ID"
// @Success     200  {file}    binary
// @Failure     404  {object}  message.ErrorResponse  "Unknown or expired job, or a job that failed or was cancelled"
// @Failure     409  {object}  message.ErrorResponse  "Job is still queued or processing"
// @Router      /jobs/{id}/audio [get]
func (t *Transport) handleAudio(w http.ResponseWriter, r *http.Request, svc transport.Service) {
	id := r.PathValue("id")
	j, err := svc.Status(r.Context(), id)
	if err != nil {
		writeJobError(w, err)
		return
	}
	switch {
	case j.State == job.Completed:
	case j.State.Terminal():
		// Failed and cancelled jobs never produce audio.
		writeError(w, http.StatusNotFound, fmt.Errorf("%w: job %s ended %s", job.ErrNotFound, id, j.State))
		return
	default:
		writeError(w, http.StatusConflict, fmt.Errorf("job %s is %s", id, j.State))
		return
	}

	art, err := svc.Artifact(r.Context(), id)
	if err != nil {
		writeJobError(w, err)
		return
	}
	w.Header().Set("Content-Type", art.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="podcast-%s.%s"`, id, art.Format))
	w.Header().Set("X-Audio-Duration", fmt.Sprintf("%.3f", art.Duration.Seconds()))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(art.Data)
}

// handleCancel processes a DELETE /jobs/{id} request.
//
// @Summary     Cancel a job
// @Tags        jobs
// @Produce     json
// @Param       id   path      string  true  "Job ID"
// @Success     200  {object}  message.JobStatus
// @Failure     404  {object}  message.ErrorResponse  "Unknown or expired job"
// @Failure     409  {object}  message.ErrorResponse  "Job already finished"
// @Router      /jobs/{id} [delete]
func (t *Transport) handleCancel(w http.ResponseWriter, r *http.Request, svc transport.Service) {
	id := r.PathValue("id")
	if err := svc.Cancel(id); err != nil {
		writeJobError(w, err)
		return
	}
	j, err := svc.Status(r.Context(), id)
	if err != nil {
		writeJobError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toStatus(j))
}

// handleStream processes a GET /jobs/{id}/ws request.
//
// @Summary     Stream job status
// @Description Upgrades to a WebSocket and sends a JobStatus JSON message on every change.
// @Description The server closes the connection after the final state.
// @Tags        jobs
// @Param       id   path      string  true  "Job ID"
// @Success     101  {object}  message.JobStatus
// @Failure     404  {object}  message.ErrorResponse  "Unknown or expired job"
// @Router      /jobs/{id}/ws [get]
func (t *Transport) handleStream(w http.ResponseWriter, r *http.Request, svc transport.Service) {
	id := r.PathValue("id")
	updates, stop, err := svc.Subscribe(id)
	if errors.Is(err, job.ErrNotFound) {
		// No longer tracked in memory: replay the persisted final snapshot.
		j, err := svc.Status(r.Context(), id)
		if err != nil {
			writeJobError(w, err)
			return
		}
		ch := make(chan job.Job, 1)
		ch <- j
		close(ch)
		updates, stop = ch, func() {}
	} else if err != nil {
		writeJobError(w, err)
		return
	}
	defer stop()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Debug("websocket upgrade failed", "job_id", id, "error", err)
		return
	}
	defer conn.Close()

	// Drain client frames so close requests are noticed.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-gone:
			return
		case snap, ok := <-updates:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "job finished"),
					time.Now().Add(time.Second))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(toStatus(snap)); err != nil {
				slog.Debug("websocket write failed", "job_id", id, "error", err)
				return
			}
		}
	}
}

// handleEngines processes a GET /engines request.
//
// @Summary     List synthesis engines
// @Tags        engines
// @Produce     json
// @Success     200  {object}  message.EnginesResponse
// @Router      /engines [get]
func (t *Transport) handleEngines(w http.ResponseWriter, _ *http.Request, svc transport.Service) {
	def := svc.DefaultEngine()
	var resp message.EnginesResponse
	for _, st := range svc.Engines() {
		es := message.EngineStatus{
			Name:      st.Name,
			Enabled:   st.Enabled,
			Available: st.Available,
			Default:   st.Name == def,
			Error:     st.Error,
		}
		if !st.CheckedAt.IsZero() {
			checked := st.CheckedAt
			es.CheckedAt = &checked
		}
		resp.Engines = append(resp.Engines, es)
	}
	writeJSON(w, http.StatusOK, resp)
}

// Close gracefully shuts down the HTTP server.
func (t *Transport) Close() error {
	if t.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return t.server.Shutdown(ctx)
	}
	return nil
}

func toStatus(j job.Job) message.JobStatus {
	s := message.JobStatus{
		JobID:           j.ID,
		State:           string(j.State),
		Progress:        j.Progress,
		Phase:           j.Phase,
		Message:         j.Message,
		EngineRequested: j.EngineRequested,
		EnginesUsed:     j.EnginesUsed,
		Warnings:        j.Warnings,
		CreatedAt:       j.CreatedAt,
		UpdatedAt:       j.UpdatedAt,
	}
	if j.Failure != nil {
		s.Failure = &message.Failure{Kind: string(j.Failure.Kind), Reason: j.Failure.Reason, SegmentIndex: j.Failure.SegmentIndex}
	}
	if j.State == job.Completed {
		s.AudioURL = "/jobs/" + j.ID + "/audio"
	}
	return s
}

func writeJobError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, job.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, job.ErrTerminal):
		writeError(w, http.StatusConflict, err)
	default:
		slog.Error("job request failed", "error", err)
		writeError(w, http.StatusInternalServerError, err)
	}
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, message.ErrorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
