package ui

import (
	"context"
	"encoding/json"
	"html/template"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/YuminosukeSato/medcharge/pkg/errors"
	"github.com/YuminosukeSato/medcharge/pkg/log"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
)

// maxBodyBytes caps request bodies on the prediction endpoints.
const maxBodyBytes = 64 << 10

// ServerConfig holds the web surface settings.
type ServerConfig struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// DefaultServerConfig returns a loopback-only configuration.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr:            "127.0.0.1:8080",
		ReadTimeout:     10 * time.Second,
		WriteTimeout:    10 * time.Second,
		IdleTimeout:     120 * time.Second,
		ShutdownTimeout: 5 * time.Second,
	}
}

// WebServer serves the form as an HTML page and a JSON endpoint.
type WebServer struct {
	server    *http.Server
	config    ServerConfig
	predictor ChargePredictor
	page      *template.Template
	logger    log.Logger
}

// NewWebServer creates a server for a trained predictor.
func NewWebServer(predictor ChargePredictor, config ServerConfig) *WebServer {
	s := &WebServer{
		config:    config,
		predictor: predictor,
		page:      template.Must(template.New("index").Parse(indexPage)),
		logger:    log.GetLoggerWithName("ui.web"),
	}
	s.server = &http.Server{
		Addr:         config.Addr,
		Handler:      s.Handler(),
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  config.IdleTimeout,
	}
	return s
}

// Handler returns the router wrapped in panic recovery and access logging.
func (s *WebServer) Handler() http.Handler {
	router := mux.NewRouter()
	router.HandleFunc("/", s.handleIndex).Methods(http.MethodGet)
	router.HandleFunc("/predict", s.handlePredict).Methods(http.MethodPost)
	router.HandleFunc("/api/predict", s.handleAPIPredict).Methods(http.MethodPost)
	router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)

	recovery := handlers.RecoveryHandler(
		handlers.RecoveryLogger(recoveryLogger{s.logger}),
		handlers.PrintRecoveryStack(true),
	)
	return handlers.CombinedLoggingHandler(accessLogWriter{s.logger}, recovery(router))
}

// Run listens on the configured address and serves until ctx is cancelled,
// then shuts down gracefully.
func (s *WebServer) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return errors.Wrapf(err, "listen on %s", s.config.Addr)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled.
func (s *WebServer) Serve(ctx context.Context, ln net.Listener) error {
	s.logger.Info("Starting HTTP server", log.AddrKey, ln.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return errors.Wrap(err, "server failed")
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "server forced to shutdown")
	}
	return <-errCh
}

type dialogView struct {
	Title   string
	Message string
}

type pageView struct {
	Title         string
	Age           string
	BMI           string
	Children      string
	Smoker        string
	SmokerChoices []string
	Output        string
	Dialog        *dialogView
}

func (s *WebServer) render(w http.ResponseWriter, form *Form, dialog *dialogView) {
	smoker := form.Smoker
	if smoker == "" {
		smoker = SmokerChoices[0]
	}
	view := pageView{
		Title:         WindowTitle,
		Age:           form.Age,
		BMI:           form.BMI,
		Children:      form.Children,
		Smoker:        smoker,
		SmokerChoices: SmokerChoices,
		Output:        form.Output,
		Dialog:        dialog,
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.page.Execute(w, view); err != nil {
		s.logger.Error("Failed to render page", err)
	}
}

func (s *WebServer) handleIndex(w http.ResponseWriter, _ *http.Request) {
	s.render(w, NewForm(s.predictor, nil), nil)
}

func (s *WebServer) handlePredict(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}

	var shown *dialogView
	form := NewForm(s.predictor, DialogFunc(func(title, message string) {
		shown = &dialogView{Title: title, Message: message}
	}))
	form.Age = r.PostFormValue("age")
	form.BMI = r.PostFormValue("bmi")
	form.Children = r.PostFormValue("children")
	form.Smoker = r.PostFormValue("smoker")
	form.Output = r.PostFormValue("output")

	_ = form.OnPredictClicked()
	s.render(w, form, shown)
}

// inputField accepts a JSON string or a bare JSON number and keeps its text.
type inputField string

func (f *inputField) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = inputField(s)
		return nil
	}
	if string(data) == "null" {
		*f = ""
		return nil
	}
	*f = inputField(strings.TrimSpace(string(data)))
	return nil
}

type predictRequest struct {
	Age      inputField `json:"age"`
	BMI      inputField `json:"bmi"`
	Children inputField `json:"children"`
	Smoker   inputField `json:"smoker"`
}

type predictResponse struct {
	Output  string  `json:"output"`
	Charges float64 `json:"charges"`
}

type errorResponse struct {
	Title   string `json:"title"`
	Message string `json:"message"`
}

func (s *WebServer) handleAPIPredict(w http.ResponseWriter, r *http.Request) {
	var req predictRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Title: ErrorTitle, Message: "request body too large"})
			return
		}
		writeJSON(w, http.StatusBadRequest, errorResponse{Title: ErrorTitle, Message: "invalid JSON body"})
		return
	}

	var shown *dialogView
	form := NewForm(s.predictor, DialogFunc(func(title, message string) {
		shown = &dialogView{Title: title, Message: message}
	}))
	form.Age = string(req.Age)
	form.BMI = string(req.BMI)
	form.Children = string(req.Children)
	form.Smoker = string(req.Smoker)

	if err := form.OnPredictClicked(); err != nil {
		status := http.StatusInternalServerError
		var parseErr *errors.InputParseError
		if errors.As(err, &parseErr) {
			status = http.StatusBadRequest
		}
		writeJSON(w, status, errorResponse{Title: shown.Title, Message: shown.Message})
		return
	}

	writeJSON(w, http.StatusOK, predictResponse{Output: form.Output, Charges: form.Charges()})
}

func (s *WebServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// accessLogWriter forwards gorilla/handlers access log lines to the logger.
type accessLogWriter struct {
	logger log.Logger
}

func (a accessLogWriter) Write(p []byte) (int, error) {
	a.logger.Info("HTTP request", "access", strings.TrimRight(string(p), "\n"))
	return len(p), nil
}

// recoveryLogger implements handlers.RecoveryHandlerLogger.
type recoveryLogger struct {
	logger log.Logger
}

func (r recoveryLogger) Println(args ...interface{}) {
	for _, arg := range args {
		if err, ok := arg.(error); ok {
			r.logger.Error("Recovered from panic in handler", err)
			return
		}
	}
	r.logger.Error("Recovered from panic in handler", "panic", args)
}

const indexPage = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<style>
body { font-family: sans-serif; margin: 40px; }
form { display: grid; grid-template-columns: max-content 200px; gap: 8px 12px; align-items: center; }
button { grid-column: 1 / span 2; }
#output { margin-top: 16px; }
</style>
</head>
<body>
<h2>{{.Title}}</h2>
<form method="post" action="/predict">
<label for="age">Age:</label><input id="age" name="age" value="{{.Age}}">
<label for="bmi">BMI:</label><input id="bmi" name="bmi" value="{{.BMI}}">
<label for="children">Children:</label><input id="children" name="children" value="{{.Children}}">
<label for="smoker">Smoker:</label>
<select id="smoker" name="smoker">
{{- range .SmokerChoices}}
<option value="{{.}}"{{if eq . $.Smoker}} selected{{end}}>{{.}}</option>
{{- end}}
</select>
<input type="hidden" name="output" value="{{.Output}}">
<button type="submit">Predict</button>
</form>
<p id="output">{{.Output}}</p>
{{- with .Dialog}}
<dialog id="error" open>
<h3>{{.Title}}</h3>
<p>{{.Message}}</p>
<form method="dialog"><button>OK</button></form>
</dialog>
{{- end}}
</body>
</html>
`
