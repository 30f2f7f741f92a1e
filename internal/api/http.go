package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
)

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// WriteError writes a JSON error response with the given code and message.
func WriteError(w http.ResponseWriter, status int, code, message string) {
	WriteJSON(w, status, map[string]string{
		"error":   code,
		"message": message,
	})
}

// ParseIntParam parses an integer query parameter bounded to [lo, hi].
// An empty value yields def.
func ParseIntParam(value string, lo, hi, def int) (int, error) {
	if value == "" {
		return def, nil
	}
	v, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("must be a valid integer")
	}
	if v < lo || v > hi {
		return 0, fmt.Errorf("must be between %d and %d", lo, hi)
	}
	return v, nil
}

// ParseBoolParam parses a boolean query parameter. An empty value yields false.
func ParseBoolParam(value string) (bool, error) {
	if value == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("must be true or false")
	}
	return b, nil
}
