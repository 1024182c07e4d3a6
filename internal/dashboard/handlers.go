package dashboard

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/churnops/internal/features"
	"github.com/sells-group/churnops/internal/predict"
)

type field struct {
	Name  string
	Label string
	Min   float64
	Step  float64
	Value string
}

type group struct {
	Name   string
	Fields []field
}

type modelInfo struct {
	Algorithm string
	TrainedAt time.Time
}

type pageData struct {
	Groups     []group
	Prediction *predict.Prediction
	Error      string
	Model      modelInfo
}

// formPage lays the schema out by group. Submitted values win over the
// schema defaults so a rejected form keeps what the user typed.
func (s *Server) formPage(submitted map[string]string) pageData {
	schema := s.pred.Schema()
	byGroup := map[string][]field{}
	for _, f := range schema.Features {
		v, ok := submitted[f.Name]
		if !ok {
			v = strconv.FormatFloat(f.Default, 'f', -1, 64)
		}
		byGroup[f.Group] = append(byGroup[f.Group], field{
			Name:  f.Name,
			Label: f.Label,
			Min:   f.Min,
			Step:  f.Step,
			Value: v,
		})
	}
	var groups []group
	for _, g := range schema.Groups() {
		groups = append(groups, group{Name: g, Fields: byGroup[g]})
	}
	h := s.pred.Header()
	return pageData{Groups: groups, Model: modelInfo{Algorithm: h.Algorithm, TrainedAt: h.TrainedAt}}
}

func (s *Server) render(w http.ResponseWriter, data pageData) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.page.Execute(w, data); err != nil {
		s.log.Error("render page", zap.Error(err))
	}
}

func (s *Server) handleIndex(w http.ResponseWriter, _ *http.Request) {
	s.render(w, s.formPage(nil))
}

// handleFormPredict renders the page again with either the prediction or
// the error inline. The status is always 200.
func (s *Server) handleFormPredict(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		s.metrics.errors.WithLabelValues("form_predict").Inc()
		data := s.formPage(nil)
		data.Error = "could not read form"
		s.render(w, data)
		return
	}

	submitted := make(map[string]string)
	for _, f := range s.pred.Schema().Features {
		if r.PostForm.Has(f.Name) {
			submitted[f.Name] = r.PostForm.Get(f.Name)
		}
	}
	data := s.formPage(submitted)

	values, err := parseForm(s.pred.Schema(), submitted)
	if err == nil {
		data.Prediction, err = s.predict(values)
	}
	if err != nil {
		s.metrics.errors.WithLabelValues("form_predict").Inc()
		data.Error = userMessage(err)
	}
	s.render(w, data)
}

func parseForm(schema *features.Schema, submitted map[string]string) (map[string]float64, error) {
	values := make(map[string]float64, schema.Len())
	for _, f := range schema.Features {
		raw := strings.TrimSpace(submitted[f.Name])
		if raw == "" {
			return nil, eris.Errorf("%s is required", f.Label)
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, eris.Errorf("%s must be a number", f.Label)
		}
		values[f.Name] = v
	}
	return values, nil
}

type predictRequest struct {
	Features map[string]float64 `json:"features"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleAPIPredict(w http.ResponseWriter, r *http.Request) {
	var req predictRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		s.metrics.errors.WithLabelValues("api_predict").Inc()
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: "invalid request body: " + err.Error()})
		return
	}
	p, err := s.predict(req.Features)
	if err != nil {
		s.metrics.errors.WithLabelValues("api_predict").Inc()
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: userMessage(err)})
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) predict(values map[string]float64) (*predict.Prediction, error) {
	p, err := s.pred.Predict(values)
	if err != nil {
		return nil, err
	}
	s.metrics.predictions.WithLabelValues(string(p.Tier)).Inc()
	return p, nil
}

type schemaResponse struct {
	Target    string             `json:"target"`
	Signature string             `json:"signature"`
	Features  []features.Feature `json:"features"`
	Model     modelResponse      `json:"model"`
}

type modelResponse struct {
	Algorithm string    `json:"algorithm"`
	TrainedAt time.Time `json:"trained_at"`
	Accuracy  *float64  `json:"accuracy,omitempty"`
}

func (s *Server) handleSchema(w http.ResponseWriter, _ *http.Request) {
	schema := s.pred.Schema()
	h := s.pred.Header()
	resp := schemaResponse{
		Target:    schema.Target,
		Signature: schema.Signature(),
		Features:  schema.Features,
		Model:     modelResponse{Algorithm: h.Algorithm, TrainedAt: h.TrainedAt},
	}
	if h.Evaluation != nil {
		acc := h.Evaluation.Accuracy
		resp.Model.Accuracy = &acc
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "ok",
		"algorithm": s.pred.Header().Algorithm,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

// userMessage strips the package prefix from validation errors.
func userMessage(err error) string {
	msg := err.Error()
	if i := strings.Index(msg, ": "); i >= 0 && !strings.Contains(msg[:i], " ") {
		return msg[i+2:]
	}
	return msg
}
