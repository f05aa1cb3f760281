package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"net/http"
	"sort"
	"strings"

	"github.com/okian/stopodds/internal/domain/intake"
	"github.com/okian/stopodds/internal/domain/model"
)

// CodeMalformedBody is returned when the body is not a JSON object.
const CodeMalformedBody = "malformed_body"

const maxSubmitBytes = 4 << 10

// SubmitHandler handles submission requests.
type SubmitHandler struct {
	deps Submitter
}

// NewSubmitHandler creates a new submit handler.
func NewSubmitHandler(deps Submitter) *SubmitHandler {
	return &SubmitHandler{deps: deps}
}

type submitResponse struct {
	Status string `json:"status"`
	ID     string `json:"id"`
}

// HandleSubmit handles POST /api/submit requests. Derived fields such as
// anomaly flags are never echoed back.
func (h *SubmitHandler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	const op = "api.submit"
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}

	c, rej := decodeCandidate(http.MaxBytesReader(w, r.Body, maxSubmitBytes))
	if rej != nil {
		writeRejection(w, rej)
		return
	}

	sub, err := h.deps.Submit(r.Context(), c, metadata(r))
	if errors.As(err, &rej) {
		writeRejection(w, rej)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", WrapKind(op, ErrInternal, err))
		return
	}
	writeJSON(w, http.StatusCreated, submitResponse{Status: "accepted", ID: sub.ID})
}

func writeRejection(w http.ResponseWriter, rej *intake.Rejection) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Status: "rejected", Code: rej.Code, Message: rej.Message})
}

// decodeCandidate maps a JSON object onto a Candidate. Keys other than trips,
// stops and the known trait names are rejected. A null trait is unset.
func decodeCandidate(body io.Reader) (intake.Candidate, *intake.Rejection) {
	var raw map[string]json.RawMessage
	if err := json.NewDecoder(body).Decode(&raw); err != nil || raw == nil {
		msg := "body must be a JSON object"
		if err != nil {
			msg = fmt.Sprintf("%s: %v", msg, err)
		}
		return intake.Candidate{}, &intake.Rejection{Code: CodeMalformedBody, Message: msg}
	}

	var c intake.Candidate
	var rej *intake.Rejection
	if c.Trips, rej = integerField(raw, "trips", intake.CodeTripsOutOfRange); rej != nil {
		return intake.Candidate{}, rej
	}
	if c.Stops, rej = integerField(raw, "stops", intake.CodeStopsOutOfRange); rej != nil {
		return intake.Candidate{}, rej
	}

	names := make([]string, 0, len(raw))
	for name := range raw {
		if name != "trips" && name != "stops" {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	c.Traits = make(map[string]string, len(names))
	for _, name := range names {
		spec, ok := model.LookupTrait(model.Trait(name))
		if !ok {
			return intake.Candidate{}, &intake.Rejection{Code: intake.CodeUnknownTrait, Field: name,
				Message: fmt.Sprintf("unknown field %q", name)}
		}
		value, set, ok := traitValue(raw[name], spec.Binary)
		if !ok {
			want := "a string"
			if spec.Binary {
				want = "a boolean"
			}
			return intake.Candidate{}, &intake.Rejection{Code: intake.CodeInvalidTraitValue, Field: name,
				Message: fmt.Sprintf("%s must be %s", name, want)}
		}
		if set {
			c.Traits[name] = value
		}
	}
	return c, nil
}

// integerField reads an optional whole number. Absent and null both leave the
// pointer nil so the validator reports the missing field.
func integerField(raw map[string]json.RawMessage, name, code string) (*int, *intake.Rejection) {
	msg, ok := raw[name]
	if !ok || isNull(msg) {
		return nil, nil
	}
	var f float64
	if err := json.Unmarshal(msg, &f); err != nil || f != math.Trunc(f) || math.Abs(f) > math.MaxInt32 {
		return nil, &intake.Rejection{Code: code, Field: name, Message: name + " must be an integer"}
	}
	n := int(f)
	return &n, nil
}

func traitValue(msg json.RawMessage, binary bool) (value string, set, ok bool) {
	if isNull(msg) {
		return "", false, true
	}
	var s string
	if err := json.Unmarshal(msg, &s); err == nil {
		return s, true, true
	}
	var b bool
	if err := json.Unmarshal(msg, &b); err == nil && binary {
		return model.BoolValue(b), true, true
	}
	return "", false, false
}

func isNull(msg json.RawMessage) bool {
	return strings.TrimSpace(string(msg)) == "null"
}

// metadata extracts the client details the fraud token is derived from.
func metadata(r *http.Request) intake.Metadata {
	ip := r.RemoteAddr
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		ip = strings.TrimSpace(strings.Split(fwd, ",")[0])
	} else if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		ip = host
	}
	return intake.Metadata{UserAgent: r.UserAgent(), ClientIP: ip}
}
