package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
)

// datasetRef is embedded by every request that targets a stored dataset.
type datasetRef struct {
	CSVID string `json:"csv_id"`
}

func (d *datasetRef) csvID() string { return d.CSVID }

type datasetRequest interface{ csvID() string }

type columnRequest struct {
	datasetRef
	Column string `json:"column_name"`
}

type scatterRequest struct {
	datasetRef
	X      string   `json:"variable1"`
	Y      string   `json:"variable2"`
	Hue    string   `json:"target"`
	FitReg flexBool `json:"fit_reg"`
	Order  flexInt  `json:"order"`
}

type histRequest struct {
	datasetRef
	Column string `json:"variable"`
	Hue    string `json:"target"`
}

type boxRequest struct {
	datasetRef
	X string `json:"variable1"`
	Y string `json:"variable2"`
}

type featureRequest struct {
	datasetRef
	Formula []any  `json:"formula"`
	Name    string `json:"new_column_name"`
}

type analysisRequest struct {
	datasetRef
	Column  string   `json:"column_name"`
	Exclude []string `json:"exclude_columns"`
}

type imputeRequest struct {
	datasetRef
	Column string `json:"column_name"`
	Method string `json:"complementary_methods"`
}

// chatRequest optionally names a dataset whose summary prefixes the prompt.
type chatRequest struct {
	UserID      string `json:"user_id"`
	Message     string `json:"message"`
	UserMessage string `json:"user_message"`
	RoomID      string `json:"room_id"`
	PostID      int    `json:"post_id"`
	CSVID       string `json:"csv_id"`
}

type imageRequest struct {
	UserID    string `json:"user_id"`
	ImageData string `json:"image_data"`
	RoomID    string `json:"room_id"`
}

type uploadInfo struct {
	UserID string `json:"user_id"`
	CSVID  string `json:"csv_id"`
}

func decode(r *http.Request, v any) error {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxBytes *http.MaxBytesError
		if errors.As(err, &maxBytes) {
			return err
		}
		return invalid("read body: %v", err)
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return invalid("request body is empty")
	}
	if err := json.Unmarshal(body, v); err != nil {
		return invalid("decode body: %v", err)
	}
	return nil
}

// flexBool accepts true/false, 0/1 and their string forms.
type flexBool bool

func (b *flexBool) UnmarshalJSON(data []byte) error {
	s := strings.Trim(strings.TrimSpace(string(data)), `"`)
	switch strings.ToLower(s) {
	case "", "null", "false", "0":
		*b = false
	case "true", "1":
		*b = true
	default:
		return invalid("not a boolean: %s", data)
	}
	return nil
}

// flexInt accepts a JSON number or a numeric string.
type flexInt int

func (n *flexInt) UnmarshalJSON(data []byte) error {
	s := strings.Trim(strings.TrimSpace(string(data)), `"`)
	if s == "" || s == "null" {
		*n = 0
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return invalid("not an integer: %s", data)
	}
	*n = flexInt(f)
	return nil
}
