package authapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
)

type apiError struct {
	Field string `json:"field,omitempty"`
	Msg   string `json:"msg"`
}

type errorResponse struct {
	Errors []apiError `json:"errors"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErrors(w http.ResponseWriter, status int, errs ...apiError) {
	if errs == nil {
		errs = []apiError{}
	}
	writeJSON(w, status, errorResponse{Errors: errs})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeErrors(w, status, apiError{Msg: msg})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, maxBytes int64, dst any) error {
	return decodeBody(w, r, maxBytes, dst, true)
}

// decodeJSONLenient ignores unknown keys. Registration clients send extra form fields.
func decodeJSONLenient(w http.ResponseWriter, r *http.Request, maxBytes int64, dst any) error {
	return decodeBody(w, r, maxBytes, dst, false)
}

func decodeBody(w http.ResponseWriter, r *http.Request, maxBytes int64, dst any, strict bool) error {
	if r.Body == nil {
		return errors.New("empty body")
	}
	defer func() { _ = r.Body.Close() }()

	body := http.MaxBytesReader(w, r.Body, maxBytes)
	dec := json.NewDecoder(body)
	if strict {
		dec.DisallowUnknownFields()
	}
	if err := dec.Decode(dst); err != nil {
		return err
	}
	// Ensure there is no extra data after the first JSON value.
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("extra data after JSON object")
	}
	return nil
}
