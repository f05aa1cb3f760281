package api

import (
	"fmt"
	"net/http"
	"sort"

	"github.com/okian/stopodds/internal/domain/intake"
	"github.com/okian/stopodds/internal/domain/model"
)

// ReadHandler serves the published overview, predictions and methods.
type ReadHandler struct {
	deps Reader
}

// NewReadHandler creates a new read handler.
func NewReadHandler(deps Reader) *ReadHandler {
	return &ReadHandler{deps: deps}
}

// HandleOverview handles GET /api/overview requests.
func (h *ReadHandler) HandleOverview(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, h.deps.Overview(r.Context()))
}

// HandleMethods handles GET /api/methods requests.
func (h *ReadHandler) HandleMethods(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, h.deps.Methods(r.Context()))
}

// HandlePredict handles GET /api/predict?trait=value requests. An empty
// value leaves the trait unset.
func (h *ReadHandler) HandlePredict(w http.ResponseWriter, r *http.Request) {
	const op = "api.predict"
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	traits, code, err := queryTraits(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, code, WrapKind(op, ErrBadRequest, err))
		return
	}
	writeJSON(w, http.StatusOK, h.deps.Predict(r.Context(), traits))
}

func queryTraits(r *http.Request) (model.Traits, string, error) {
	query := r.URL.Query()
	names := make([]string, 0, len(query))
	for name := range query {
		names = append(names, name)
	}
	sort.Strings(names)

	traits := model.Traits{}
	for _, name := range names {
		values := query[name]
		spec, ok := model.LookupTrait(model.Trait(name))
		if !ok {
			return nil, intake.CodeUnknownTrait, fmt.Errorf("unknown trait %q", name)
		}
		if len(values) > 1 {
			return nil, intake.CodeInvalidTraitValue, fmt.Errorf("%s given more than once", name)
		}
		v := values[0]
		if v == "" {
			continue
		}
		if !spec.Valid(v) {
			return nil, intake.CodeInvalidTraitValue, fmt.Errorf("%q is not a valid %s", v, spec.Label)
		}
		traits[spec.Name] = v
	}
	return traits, "", nil
}
