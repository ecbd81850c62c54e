package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/jamesprial/virtweb/internal/hypervisor"
	"github.com/jamesprial/virtweb/internal/safety"
)

// ErrorBody is the JSON body of every non-2xx API response.
type ErrorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

// StatusFor maps an operation error to its HTTP status and kind label.
func StatusFor(err error) (int, string) {
	if errors.Is(err, safety.ErrDenied) {
		return http.StatusForbidden, "denied"
	}

	kind := hypervisor.KindOf(err)
	switch kind {
	case hypervisor.KindConnect:
		return http.StatusServiceUnavailable, kind.String()
	case hypervisor.KindLookup:
		return http.StatusNotFound, kind.String()
	case hypervisor.KindTransition, hypervisor.KindBackend:
		return http.StatusBadGateway, kind.String()
	case hypervisor.KindTimeout:
		return http.StatusGatewayTimeout, kind.String()
	case hypervisor.KindInvalid:
		return http.StatusBadRequest, kind.String()
	}
	return http.StatusInternalServerError, kind.String()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		writeErrorBody(w, http.StatusInternalServerError, ErrorBody{
			Error: "encode response: " + err.Error(),
			Kind:  hypervisor.KindSerialization.String(),
		})
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(append(data, '\n'))
}

func writeErrorBody(w http.ResponseWriter, status int, body ErrorBody) {
	data, _ := json.Marshal(body)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(append(data, '\n'))
}
