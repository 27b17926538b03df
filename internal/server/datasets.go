package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/KaramelBytes/dataloom/internal/analysis"
	"github.com/KaramelBytes/dataloom/internal/formula"
	"github.com/KaramelBytes/dataloom/internal/frame"
	"github.com/KaramelBytes/dataloom/internal/impute"
	"go.uber.org/zap"
)

// load decodes the body into req and loads the dataset it names.
func (s *Server) load(r *http.Request, req datasetRequest) (*frame.Frame, error) {
	if err := decode(r, req); err != nil {
		return nil, err
	}
	id := strings.TrimSpace(req.csvID())
	if id == "" {
		return nil, invalid("csv_id is required")
	}
	return s.datasets.Load(r.Context(), id)
}

// unnamedFile labels an update the storage service answered without a name.
const unnamedFile = "not name"

// save writes f back and answers with the stored file name.
func (s *Server) save(w http.ResponseWriter, r *http.Request, csvID string, f *frame.Frame) {
	name, err := s.datasets.Save(r.Context(), csvID, f)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if strings.TrimSpace(name) == "" {
		name = unnamedFile
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": fmt.Sprintf("File %s update successfully", name)})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(s.cfg.MaxUploadBytes); err != nil {
		var maxBytes *http.MaxBytesError
		if errors.As(err, &maxBytes) {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "No file part", Details: err.Error()})
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		msg := "No file part"
		if errors.Is(err, http.ErrMissingFile) && len(r.MultipartForm.Value["file"]) > 0 {
			msg = "No selected file"
		}
		writeJSON(w, http.StatusBadRequest, errorBody{Error: msg})
		return
	}
	defer file.Close()
	if header.Filename == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "No selected file"})
		return
	}

	var info uploadInfo
	if err := json.Unmarshal([]byte(r.FormValue("jsonData")), &info); err != nil {
		s.fail(w, r, invalid("jsonData: %v", err))
		return
	}
	if info.CSVID == "" || info.UserID == "" {
		s.fail(w, r, invalid("jsonData needs user_id and csv_id"))
		return
	}

	raw, err := io.ReadAll(file)
	if err != nil {
		s.fail(w, r, fmt.Errorf("read upload: %w", err))
		return
	}
	f, err := frame.ReadCSVBytes(raw)
	if err != nil {
		s.fail(w, r, invalid("parse %s: %v", header.Filename, err))
		return
	}
	meta := f.Meta(header.Filename, info.UserID, info.CSVID, len(raw))
	if err := s.datasets.Upload(r.Context(), meta, raw, f); err != nil {
		s.fail(w, r, err)
		return
	}
	s.logger.Info("dataset uploaded",
		zap.String("csv_id", meta.CSVID),
		zap.String("file_name", meta.FileName),
		zap.Int("rows", meta.Rows),
		zap.Int("columns", meta.Columns),
	)
	writeJSON(w, http.StatusOK, map[string]string{"message": fmt.Sprintf("File %s uploaded successfully", header.Filename)})
}

func (s *Server) handleQuantitative(w http.ResponseWriter, r *http.Request) {
	var req datasetRef
	f, err := s.load(r, &req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"quantitative_variables": analysis.Quantitative(f)})
}

func (s *Server) handleQualitative(w http.ResponseWriter, r *http.Request) {
	var req datasetRef
	f, err := s.load(r, &req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"qualitative_variables": analysis.Qualitative(f)})
}

func (s *Server) handleQualitativeValues(w http.ResponseWriter, r *http.Request) {
	var req datasetRef
	f, err := s.load(r, &req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"qualitative_variables": analysis.QualitativeValues(f)})
}

func (s *Server) handleDataInfo(w http.ResponseWriter, r *http.Request) {
	var req datasetRef
	f, err := s.load(r, &req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, analysis.DataInfo(f))
}

func (s *Server) handleMissing(w http.ResponseWriter, r *http.Request) {
	var req datasetRef
	f, err := s.load(r, &req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, analysis.Missing(f))
}

func (s *Server) handleToCategorical(w http.ResponseWriter, r *http.Request) {
	var req columnRequest
	f, err := s.load(r, &req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := analysis.ToCategorical(f, req.Column); err != nil {
		s.fail(w, r, err)
		return
	}
	s.save(w, r, req.CSVID, f)
}

func (s *Server) handleMakeFeature(w http.ResponseWriter, r *http.Request) {
	var req featureRequest
	f, err := s.load(r, &req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	tokens, err := formula.Tokens(req.Formula)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		s.fail(w, r, invalid("new_column_name is required"))
		return
	}
	if err := formula.Apply(f, tokens, name); err != nil {
		s.fail(w, r, err)
		return
	}
	s.save(w, r, req.CSVID, f)
}

func (s *Server) handleImputeNumeric(w http.ResponseWriter, r *http.Request) {
	s.impute(w, r, func(f *frame.Frame, req imputeRequest, m impute.Method) error {
		return impute.Numeric(r.Context(), f, req.Column, m, s.cfg.Impute)
	})
}

func (s *Server) handleImputeCategorical(w http.ResponseWriter, r *http.Request) {
	s.impute(w, r, func(f *frame.Frame, req imputeRequest, m impute.Method) error {
		return impute.Categorical(f, req.Column, m, s.cfg.Impute)
	})
}

func (s *Server) impute(w http.ResponseWriter, r *http.Request, fill func(*frame.Frame, imputeRequest, impute.Method) error) {
	var req imputeRequest
	f, err := s.load(r, &req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	m, err := impute.ParseMethod(req.Method)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := fill(f, req, m); err != nil {
		s.fail(w, r, err)
		return
	}
	s.save(w, r, req.CSVID, f)
}
