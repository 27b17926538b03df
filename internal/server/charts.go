package server

import (
	"net/http"

	"github.com/KaramelBytes/dataloom/internal/chart"
	"github.com/KaramelBytes/dataloom/internal/importance"
)

// topFeatures is the number of bars drawn by /feature_analysis.
const topFeatures = 20

func (s *Server) writeImage(w http.ResponseWriter, r *http.Request, png []byte, err error) {
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"image_data": chart.Base64(png)})
}

func (s *Server) handleScatter(w http.ResponseWriter, r *http.Request) {
	var req scatterRequest
	f, err := s.load(r, &req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	order := int(req.Order)
	if order <= 0 {
		order = 1
	}
	png, err := chart.Scatter(f, req.X, req.Y, req.Hue, chart.ScatterOptions{FitReg: bool(req.FitReg), Order: order})
	s.writeImage(w, r, png, err)
}

func (s *Server) handleHist(w http.ResponseWriter, r *http.Request) {
	var req histRequest
	f, err := s.load(r, &req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	png, err := chart.Histogram(f, req.Column, req.Hue)
	s.writeImage(w, r, png, err)
}

func (s *Server) handleBox(w http.ResponseWriter, r *http.Request) {
	var req boxRequest
	f, err := s.load(r, &req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	png, err := chart.Box(f, req.X, req.Y)
	s.writeImage(w, r, png, err)
}

func (s *Server) handlePie(w http.ResponseWriter, r *http.Request) {
	var req columnRequest
	f, err := s.load(r, &req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	png, err := chart.Pie(f, req.Column)
	s.writeImage(w, r, png, err)
}

type analysisResponse struct {
	ImageData   string               `json:"image_data"`
	Task        string               `json:"task"`
	Metrics     any                  `json:"metrics"`
	Importances []importance.Feature `json:"importances"`
}

func (s *Server) handleFeatureAnalysis(w http.ResponseWriter, r *http.Request) {
	var req analysisRequest
	f, err := s.load(r, &req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	res, err := importance.Analyze(r.Context(), f, req.Column, req.Exclude, s.cfg.Importance)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	top := res.Top(topFeatures)
	bars := make([]chart.Bar, len(top))
	for i, ft := range top {
		bars[i] = chart.Bar{Label: ft.Name, Value: ft.Importance}
	}
	png, err := chart.Importance(bars, topFeatures)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	out := analysisResponse{ImageData: chart.Base64(png), Task: res.Task, Importances: res.Importances}
	if res.Classification != nil {
		out.Metrics = res.Classification
	} else {
		out.Metrics = res.Regression
	}
	writeJSON(w, http.StatusOK, out)
}
