package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nadzzz/dialogcast/internal/config"
	"github.com/nadzzz/dialogcast/internal/engine"
	"github.com/nadzzz/dialogcast/internal/message"
	"github.com/nadzzz/dialogcast/internal/podcast"
	"github.com/nadzzz/dialogcast/internal/store"
	httptransport "github.com/nadzzz/dialogcast/internal/transport/http"
	"github.com/nadzzz/dialogcast/internal/tts/ttstest"
)

const script = "HOST_FEMALE: Welcome back.\nGUEST_MALE: Glad to be here.\n"

func newServer(t *testing.T, piper *ttstest.Fake) *httptest.Server {
	t.Helper()
	cfg := &config.Config{
		Audio:       config.AudioConfig{Format: "wav", SampleRate: ttstest.SampleRate, Channels: 1, BitDepth: 16},
		Processing:  config.ProcessingConfig{FadeDuration: 0.01, InterSegmentPause: 0.05},
		Engines:     config.EnginesConfig{Default: "piper", FallbackOrder: []string{"piper"}, CallTimeout: 10 * time.Second},
		Speakers:    config.SpeakersConfig{Roles: []string{"HOST", "GUEST"}, Genders: []string{"MALE", "FEMALE"}},
		Limits:      config.LimitsConfig{MaxCharacters: 4, MaxTextLength: 500, MaxSegmentLength: 30, MaxTotalDuration: 600},
		Performance: config.PerformanceConfig{MaxWorkers: 2, PoolCapacity: 2, MaxConcurrentJobs: 2},
		Jobs:        config.JobsConfig{Retention: time.Hour, MaxRuntime: time.Minute},
	}
	reg := engine.NewRegistry("piper", []string{"piper"}, time.Second)
	reg.Register(piper, true)
	reg.Probe(context.Background())

	svc := podcast.New(cfg, reg, store.NewMemory())
	srv := httptest.NewServer(httptransport.New(0).Handler(svc))
	t.Cleanup(func() {
		srv.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = svc.Shutdown(ctx)
	})
	return srv
}

func submitJSON(t *testing.T, srv *httptest.Server, req message.SubmitRequest) *http.Response {
	t.Helper()
	body, err := json.Marshal(req)
	require.NoError(t, err)
	resp, err := http.Post(srv.URL+"/jobs", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func status(t *testing.T, srv *httptest.Server, id string) message.JobStatus {
	t.Helper()
	resp, err := http.Get(srv.URL + "/jobs/" + id)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	return decode[message.JobStatus](t, resp)
}

func waitFor(t *testing.T, srv *httptest.Server, id, state string) message.JobStatus {
	t.Helper()
	require.Eventually(t, func() bool {
		resp, err := http.Get(srv.URL + "/jobs/" + id)
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		var st message.JobStatus
		return json.NewDecoder(resp.Body).Decode(&st) == nil && st.State == state
	}, 5*time.Second, 10*time.Millisecond)
	return status(t, srv, id)
}

func TestSubmitAndDownload(t *testing.T) {
	srv := newServer(t, ttstest.New("piper"))

	resp := submitJSON(t, srv, message.SubmitRequest{Script: script, Options: map[string]string{"language": "en"}})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	sub := decode[message.SubmitResponse](t, resp)
	assert.NotEmpty(t, sub.JobID)
	assert.Equal(t, "queued", sub.State)
	assert.Equal(t, "/jobs/"+sub.JobID, resp.Header.Get("Location"))

	st := waitFor(t, srv, sub.JobID, "completed")
	assert.Equal(t, 100, st.Progress)
	assert.Equal(t, []string{"piper"}, st.EnginesUsed)
	assert.Equal(t, sub.AudioURL, st.AudioURL)

	audio, err := http.Get(srv.URL + st.AudioURL)
	require.NoError(t, err)
	defer audio.Body.Close()
	assert.Equal(t, http.StatusOK, audio.StatusCode)
	assert.Equal(t, "audio/wav", audio.Header.Get("Content-Type"))
	assert.Contains(t, audio.Header.Get("Content-Disposition"), sub.JobID+".wav")
	data, err := io.ReadAll(audio.Body)
	require.NoError(t, err)
	assert.Equal(t, "RIFF", string(data[:4]))
}

func TestSubmitRawText(t *testing.T) {
	piper := ttstest.New("piper")
	srv := newServer(t, piper)

	resp, err := http.Post(srv.URL+"/jobs?engine=piper&speed=1.1", "text/plain", strings.NewReader(script))
	require.NoError(t, err)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	sub := decode[message.SubmitResponse](t, resp)

	waitFor(t, srv, sub.JobID, "completed")
	calls := piper.Calls()
	require.NotEmpty(t, calls)
	assert.Equal(t, "1.1", calls[0].Options["speed"])
}

func TestSubmitMultipart(t *testing.T) {
	srv := newServer(t, ttstest.New("piper"))

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("script", "episode.txt")
	require.NoError(t, err)
	_, err = fw.Write([]byte(script))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	resp, err := http.Post(srv.URL+"/jobs", mw.FormDataContentType(), &body)
	require.NoError(t, err)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	sub := decode[message.SubmitResponse](t, resp)
	waitFor(t, srv, sub.JobID, "completed")
}

func TestSubmitRejected(t *testing.T) {
	srv := newServer(t, ttstest.New("piper"))

	resp := submitJSON(t, srv, message.SubmitRequest{Script: script, Engine: "polly"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	e := decode[message.ErrorResponse](t, resp)
	assert.Contains(t, e.Error, "unknown engine")

	resp = submitJSON(t, srv, message.SubmitRequest{Script: "   "})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	resp, err := http.Post(srv.URL+"/jobs", "application/json", strings.NewReader("{not json"))
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestFailedJobReportsReason(t *testing.T) {
	srv := newServer(t, ttstest.New("piper"))

	resp := submitJSON(t, srv, message.SubmitRequest{Script: "HOST_FEMALE: Hi.\nnobody said this\n"})
	sub := decode[message.SubmitResponse](t, resp)

	st := waitFor(t, srv, sub.JobID, "error")
	require.NotNil(t, st.Failure)
	assert.Equal(t, "parse", st.Failure.Kind)
	assert.Contains(t, st.Message, "line 2")
	assert.Empty(t, st.AudioURL)

	audio, err := http.Get(srv.URL + "/jobs/" + sub.JobID + "/audio")
	require.NoError(t, err)
	audio.Body.Close()
	assert.Equal(t, http.StatusNotFound, audio.StatusCode)
}

func TestUnknownJob(t *testing.T) {
	srv := newServer(t, ttstest.New("piper"))

	for _, path := range []string{"/jobs/nope", "/jobs/nope/audio"} {
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode, path)
	}

	req, _ := http.NewRequest(http.MethodDelete, srv.URL+"/jobs/nope", nil)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCancel(t *testing.T) {
	srv := newServer(t, ttstest.New("piper").WithDelay(5*time.Second))

	sub := decode[message.SubmitResponse](t, submitJSON(t, srv, message.SubmitRequest{Script: script}))
	waitFor(t, srv, sub.JobID, "processing")

	audio, err := http.Get(srv.URL + "/jobs/" + sub.JobID + "/audio")
	require.NoError(t, err)
	audio.Body.Close()
	assert.Equal(t, http.StatusConflict, audio.StatusCode)

	req, _ := http.NewRequest(http.MethodDelete, srv.URL+"/jobs/"+sub.JobID, nil)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	st := decode[message.JobStatus](t, resp)
	assert.Equal(t, "cancelled", st.State)

	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	audio, err = http.Get(srv.URL + "/jobs/" + sub.JobID + "/audio")
	require.NoError(t, err)
	audio.Body.Close()
	assert.Equal(t, http.StatusNotFound, audio.StatusCode)
}

func TestStatusStream(t *testing.T) {
	srv := newServer(t, ttstest.New("piper").WithDelay(20*time.Millisecond))

	sub := decode[message.SubmitResponse](t, submitJSON(t, srv, message.SubmitRequest{Script: script}))

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/jobs/" + sub.JobID + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	var last message.JobStatus
	progress := 0
	for {
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		var st message.JobStatus
		err := conn.ReadJSON(&st)
		var closeErr *websocket.CloseError
		if errors.As(err, &closeErr) {
			assert.Equal(t, websocket.CloseNormalClosure, closeErr.Code)
			break
		}
		require.NoError(t, err)
		assert.GreaterOrEqual(t, st.Progress, progress)
		progress = st.Progress
		last = st
	}
	assert.Equal(t, "completed", last.State)
	assert.Equal(t, 100, last.Progress)
}

func TestEngines(t *testing.T) {
	srv := newServer(t, ttstest.New("piper"))

	resp, err := http.Get(srv.URL + "/engines")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decode[message.EnginesResponse](t, resp)
	require.Len(t, got.Engines, 1)
	assert.Equal(t, "piper", got.Engines[0].Name)
	assert.True(t, got.Engines[0].Available)
	assert.True(t, got.Engines[0].Default)
	assert.NotNil(t, got.Engines[0].CheckedAt)
}

func TestSwaggerDoc(t *testing.T) {
	srv := newServer(t, ttstest.New("piper"))

	resp, err := http.Get(srv.URL + "/swagger/doc.json")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `"/jobs/{id}/audio"`)
}
