package ui

import (
	"context"
	"encoding/json"
	"html"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, p ChargePredictor) *httptest.Server {
	t.Helper()
	ws := NewWebServer(p, DefaultServerConfig())
	srv := httptest.NewServer(ws.Handler())
	t.Cleanup(srv.Close)
	return srv
}

func TestIndexPage(t *testing.T) {
	srv := newTestServer(t, &stubPredictor{value: 1})

	resp, err := http.Get(srv.URL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/html")
	page := string(body)
	assert.Contains(t, page, "<title>Medical Charges Prediction</title>")
	for _, label := range []string{"Age:", "BMI:", "Children:", "Smoker:"} {
		assert.Contains(t, page, label)
	}
	assert.Contains(t, page, `<option value="yes" selected>yes</option>`)
	assert.Contains(t, page, `<option value="no">no</option>`)
	assert.NotContains(t, page, "<dialog")
}

func postForm(t *testing.T, srv *httptest.Server, values url.Values) string {
	t.Helper()
	resp, err := http.PostForm(srv.URL+"/predict", values)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return html.UnescapeString(string(body))
}

func TestPredictForm(t *testing.T) {
	srv := newTestServer(t, &stubPredictor{value: 4321.5})

	page := postForm(t, srv, url.Values{
		"age": {"35"}, "bmi": {"28.5"}, "children": {"2"}, "smoker": {"no"},
	})
	assert.Contains(t, page, `<p id="output">Predicted medical charges: $4321.50</p>`)
	assert.Contains(t, page, `<option value="no" selected>no</option>`)
	assert.NotContains(t, page, "<dialog")
}

func TestPredictFormInvalidInputKeepsOutput(t *testing.T) {
	srv := newTestServer(t, &stubPredictor{value: 4321.5})

	page := postForm(t, srv, url.Values{
		"age": {"abc"}, "bmi": {"28.5"}, "children": {"2"}, "smoker": {"yes"},
		"output": {"Predicted medical charges: $10.00"},
	})
	assert.Contains(t, page, `<dialog id="error" open>`)
	assert.Contains(t, page, "<h3>Error</h3>")
	assert.Contains(t, page, InvalidInputMessage)
	assert.Contains(t, page, `<p id="output">Predicted medical charges: $10.00</p>`)
	// the raw input is echoed back for correction
	assert.Contains(t, page, `value="abc"`)
}

func TestAPIPredict(t *testing.T) {
	p := &stubPredictor{value: 9876.543}
	srv := newTestServer(t, p)

	resp, err := http.Post(srv.URL+"/api/predict", "application/json",
		strings.NewReader(`{"age":"35","bmi":28.5,"children":2,"smoker":"yes"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out predictResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, "Predicted medical charges: $9876.54", out.Output)
	assert.Equal(t, 9876.543, out.Charges)

	require.Len(t, p.calls, 1)
	assert.Equal(t, 28.5, p.calls[0].BMI)
	assert.Equal(t, 2, p.calls[0].Children)
	assert.Equal(t, 1.0, p.calls[0].Smoker)
}

func TestAPIPredictErrors(t *testing.T) {
	srv := newTestServer(t, &stubPredictor{value: 1})

	tests := []struct {
		name    string
		body    string
		message string
	}{
		{"fractional children", `{"age":"35","bmi":"28.5","children":"2.5","smoker":"yes"}`, InvalidInputMessage},
		{"missing age", `{"bmi":"28.5","children":"2","smoker":"yes"}`, InvalidInputMessage},
		{"malformed body", `{"age":`, "invalid JSON body"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Post(srv.URL+"/api/predict", "application/json", strings.NewReader(tt.body))
			require.NoError(t, err)
			defer resp.Body.Close()
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

			var out errorResponse
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
			assert.Equal(t, ErrorTitle, out.Title)
			assert.Equal(t, tt.message, out.Message)
		})
	}
}

func TestAPIPredictBodyTooLarge(t *testing.T) {
	p := &stubPredictor{value: 1}
	srv := newTestServer(t, p)

	body := `{"age":"35","bmi":"28.5","children":"2","smoker":"` + strings.Repeat("y", maxBodyBytes) + `"}`
	resp, err := http.Post(srv.URL+"/api/predict", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)

	var out errorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, ErrorTitle, out.Title)
	assert.Equal(t, "request body too large", out.Message)
	assert.Empty(t, p.calls)
}

func TestPredictFormBodyTooLarge(t *testing.T) {
	srv := newTestServer(t, &stubPredictor{value: 1})

	resp, err := http.PostForm(srv.URL+"/predict", url.Values{"age": {strings.Repeat("1", maxBodyBytes)}})
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t, &stubPredictor{})

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, "ok", out["status"])
}

func TestMethodNotAllowed(t *testing.T) {
	srv := newTestServer(t, &stubPredictor{})

	resp, err := http.Get(srv.URL + "/predict")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestServeShutdownOnCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ws := NewWebServer(&stubPredictor{}, DefaultServerConfig())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ws.Serve(ctx, ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/healthz")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
