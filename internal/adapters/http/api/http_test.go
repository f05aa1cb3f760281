package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/okian/stopodds/internal/adapters/http/api"
	"github.com/okian/stopodds/internal/domain/intake"
	"github.com/okian/stopodds/internal/domain/model"
	"github.com/okian/stopodds/internal/domain/types"
	"github.com/okian/stopodds/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func init() {
	if err := logger.Init(); err != nil {
		panic(err)
	}
}

// mockDependencies records what the handlers pass through.
type mockDependencies struct {
	submitted   []intake.Candidate
	meta        []intake.Metadata
	submitErr   error
	predicted   model.Traits
	enqueueOK   bool
	enqueued    []model.JobKind
	overview    types.Overview
	methods     types.Methods
	shouldPanic bool
}

func (m *mockDependencies) Submit(_ context.Context, c intake.Candidate, meta intake.Metadata) (model.Submission, error) {
	if m.shouldPanic {
		panic("boom")
	}
	m.submitted = append(m.submitted, c)
	m.meta = append(m.meta, meta)
	if m.submitErr != nil {
		return model.Submission{}, m.submitErr
	}
	return model.Submission{ID: "sub-1", Anomalies: []string{model.AnomalyHighTrips}}, nil
}

func (m *mockDependencies) Overview(context.Context) types.Overview { return m.overview }

func (m *mockDependencies) Predict(_ context.Context, traits model.Traits) types.Prediction {
	m.predicted = traits
	return types.Prediction{Probability: 5, IsBaseline: true, Explanation: []string{"baseline"}}
}

func (m *mockDependencies) Methods(context.Context) types.Methods { return m.methods }

func (m *mockDependencies) EnqueueJob(_ context.Context, kind model.JobKind, _ string) (model.Job, bool) {
	if !m.enqueueOK {
		return model.Job{}, false
	}
	m.enqueued = append(m.enqueued, kind)
	return model.Job{ID: "job-1", Kind: kind}, true
}

type mockStatsProvider struct {
	stats map[string]interface{}
}

func (m *mockStatsProvider) GetStats() map[string]interface{} {
	return m.stats
}

func newMux(deps *mockDependencies) *http.ServeMux {
	mux := http.NewServeMux()
	api.NewServer(deps, &mockStatsProvider{stats: map[string]interface{}{"started": true}}).Register(context.Background(), mux)
	return mux
}

func do(mux *http.ServeMux, method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.RemoteAddr = "192.0.2.10:5555"
	req.Header.Set("User-Agent", "test-agent")
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	return w
}

func decode(w *httptest.ResponseRecorder) map[string]any {
	var out map[string]any
	So(json.Unmarshal(w.Body.Bytes(), &out), ShouldBeNil)
	return out
}

func TestSubmitHandler(t *testing.T) {
	Convey("Given the submit endpoint", t, func() {
		deps := &mockDependencies{}
		mux := newMux(deps)

		Convey("When a valid row with a boolean trait is posted", func() {
			w := do(mux, http.MethodPost, "/api/submit",
				`{"trips": 20, "stops": 1, "gender": "Female", "concession": true, "skin_tone": null}`)

			Convey("Then it should be accepted without echoing derived fields", func() {
				So(w.Code, ShouldEqual, http.StatusCreated)
				body := decode(w)
				So(body, ShouldResemble, map[string]any{"status": "accepted", "id": "sub-1"})
			})

			Convey("Then the candidate should carry normalised traits", func() {
				So(deps.submitted, ShouldHaveLength, 1)
				c := deps.submitted[0]
				So(*c.Trips, ShouldEqual, 20)
				So(*c.Stops, ShouldEqual, 1)
				So(c.Traits, ShouldResemble, map[string]string{"gender": "Female", "concession": "true"})
				So(deps.meta[0], ShouldResemble, intake.Metadata{UserAgent: "test-agent", ClientIP: "192.0.2.10"})
			})
		})

		Convey("When trips is not an integer", func() {
			w := do(mux, http.MethodPost, "/api/submit", `{"trips": 2.5, "stops": 1}`)

			Convey("Then it should be rejected as out of range", func() {
				So(w.Code, ShouldEqual, http.StatusBadRequest)
				body := decode(w)
				So(body["status"], ShouldEqual, "rejected")
				So(body["code"], ShouldEqual, intake.CodeTripsOutOfRange)
				So(deps.submitted, ShouldBeEmpty)
			})
		})

		Convey("When trips is sent as a string", func() {
			w := do(mux, http.MethodPost, "/api/submit", `{"trips": "20", "stops": 1}`)
			So(w.Code, ShouldEqual, http.StatusBadRequest)
			So(decode(w)["code"], ShouldEqual, intake.CodeTripsOutOfRange)
		})

		Convey("When an unknown field is posted", func() {
			w := do(mux, http.MethodPost, "/api/submit", `{"trips": 20, "stops": 1, "postcode": "2000"}`)

			Convey("Then it should be rejected", func() {
				So(w.Code, ShouldEqual, http.StatusBadRequest)
				So(decode(w)["code"], ShouldEqual, intake.CodeUnknownTrait)
			})
		})

		Convey("When a categorical trait is sent as a boolean", func() {
			w := do(mux, http.MethodPost, "/api/submit", `{"trips": 20, "stops": 1, "gender": true}`)
			So(w.Code, ShouldEqual, http.StatusBadRequest)
			So(decode(w)["code"], ShouldEqual, intake.CodeInvalidTraitValue)
		})

		Convey("When the body is not a JSON object", func() {
			w := do(mux, http.MethodPost, "/api/submit", `[1,2]`)
			So(w.Code, ShouldEqual, http.StatusBadRequest)
			So(decode(w)["code"], ShouldEqual, api.CodeMalformedBody)
		})

		Convey("When the validator rejects the row", func() {
			deps.submitErr = &intake.Rejection{Code: intake.CodeStopsOutOfRange, Field: "stops", Message: "stops must be between 0 and trips"}
			w := do(mux, http.MethodPost, "/api/submit", `{"trips": 5, "stops": 6}`)

			Convey("Then the rejection code should be returned", func() {
				So(w.Code, ShouldEqual, http.StatusBadRequest)
				body := decode(w)
				So(body["code"], ShouldEqual, intake.CodeStopsOutOfRange)
				So(body["message"], ShouldContainSubstring, "stops must be")
			})
		})

		Convey("When storage fails", func() {
			deps.submitErr = errors.New("disk full")
			w := do(mux, http.MethodPost, "/api/submit", `{"trips": 5, "stops": 1}`)
			So(w.Code, ShouldEqual, http.StatusInternalServerError)
			So(decode(w)["code"], ShouldEqual, "internal_error")
		})

		Convey("When the handler panics", func() {
			deps.shouldPanic = true
			w := do(mux, http.MethodPost, "/api/submit", `{"trips": 5, "stops": 1}`)
			So(w.Code, ShouldEqual, http.StatusInternalServerError)
		})

		Convey("When the wrong method is used", func() {
			w := do(mux, http.MethodGet, "/api/submit", "")
			So(w.Code, ShouldEqual, http.StatusNotFound)
		})
	})
}

func TestReadHandlers(t *testing.T) {
	Convey("Given the read endpoints", t, func() {
		irr := 2.0
		deps := &mockDependencies{
			overview: types.Overview{
				TotalSubmissions: 600, TotalTrips: 12000, TotalStops: 900, RatePer100: 7.5, ModelRunID: "run-1",
				Groups: []types.GroupView{{GroupKey: "gender=Female", NPeople: 300, IRRVsRef: &irr, ConfidenceInterval: []float64{1.7, 2.3}}},
			},
			methods: types.Methods{ModelType: "baseline", Metrics: map[string]any{}, Note: "insufficient data"},
		}
		mux := newMux(deps)

		Convey("When the overview is requested", func() {
			w := do(mux, http.MethodGet, "/api/overview", "")

			Convey("Then it should render the published groups", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				body := decode(w)
				So(body["is_baseline"], ShouldEqual, false)
				So(body["model_run_id"], ShouldEqual, "run-1")
				group := body["groups"].([]any)[0].(map[string]any)
				So(group["group_key"], ShouldEqual, "gender=Female")
				So(group["irr_vs_ref"], ShouldEqual, 2.0)
			})
		})

		Convey("When methods are requested", func() {
			w := do(mux, http.MethodGet, "/api/methods", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			body := decode(w)
			So(body["model_type"], ShouldEqual, "baseline")
			So(body["last_trained"], ShouldBeNil)
		})

		Convey("When a prediction is requested with valid traits", func() {
			w := do(mux, http.MethodGet, "/api/predict?gender=Female&concession=true&skin_tone=", "")

			Convey("Then the traits should be passed through and empty values ignored", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				So(deps.predicted, ShouldResemble, model.Traits{model.TraitGender: "Female", model.TraitConcession: "true"})
				So(decode(w)["is_baseline"], ShouldEqual, true)
			})
		})

		Convey("When a prediction is requested with no traits", func() {
			w := do(mux, http.MethodGet, "/api/predict", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			So(deps.predicted, ShouldResemble, model.Traits{})
		})

		Convey("When a prediction names an unknown trait", func() {
			w := do(mux, http.MethodGet, "/api/predict?postcode=2000", "")
			So(w.Code, ShouldEqual, http.StatusBadRequest)
			So(decode(w)["code"], ShouldEqual, intake.CodeUnknownTrait)
		})

		Convey("When a prediction has an invalid value", func() {
			w := do(mux, http.MethodGet, "/api/predict?gender=Robot", "")
			So(w.Code, ShouldEqual, http.StatusBadRequest)
			So(decode(w)["code"], ShouldEqual, intake.CodeInvalidTraitValue)
		})

		Convey("When a trait is repeated", func() {
			w := do(mux, http.MethodGet, "/api/predict?gender=Male&gender=Female", "")
			So(w.Code, ShouldEqual, http.StatusBadRequest)
		})
	})
}

func TestTrainHandler(t *testing.T) {
	Convey("Given the train endpoint", t, func() {
		deps := &mockDependencies{enqueueOK: true}
		mux := newMux(deps)

		Convey("When the queue accepts the job", func() {
			w := do(mux, http.MethodPost, "/api/train", "")

			Convey("Then it should answer 202 with the job id", func() {
				So(w.Code, ShouldEqual, http.StatusAccepted)
				So(decode(w), ShouldResemble, map[string]any{"status": "enqueued", "job_id": "job-1"})
				So(deps.enqueued, ShouldResemble, []model.JobKind{model.JobTrain})
			})
		})

		Convey("When the queue is full", func() {
			deps.enqueueOK = false
			w := do(mux, http.MethodPost, "/api/train", "")
			So(w.Code, ShouldEqual, http.StatusTooManyRequests)
			So(decode(w)["code"], ShouldEqual, "backpressure")
		})
	})
}

func TestOperationalRoutes(t *testing.T) {
	Convey("Given the operational endpoints", t, func() {
		mux := newMux(&mockDependencies{})

		Convey("When /healthz is scraped", func() {
			w := do(mux, http.MethodGet, "/healthz", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			So(w.Body.String(), ShouldContainSubstring, "stopodds_engine_")
		})

		Convey("When /healthz is asked for JSON", func() {
			req := httptest.NewRequest(http.MethodGet, "/healthz", http.NoBody)
			req.Header.Set("Accept", "application/json")
			w := httptest.NewRecorder()
			mux.ServeHTTP(w, req)
			So(w.Code, ShouldEqual, http.StatusOK)
			So(decode(w)["status"], ShouldEqual, "ok")
		})

		Convey("When /stats is requested", func() {
			w := do(mux, http.MethodGet, "/stats", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			So(decode(w)["started"], ShouldEqual, true)
		})

		Convey("When an unknown route is requested", func() {
			w := do(mux, http.MethodGet, "/api/unknown", "")
			So(w.Code, ShouldEqual, http.StatusNotFound)
		})
	})
}

func TestErrorKinds(t *testing.T) {
	Convey("Given wrapped API errors", t, func() {
		cause := errors.New("eof")
		err := api.WrapKind("api.submit", api.ErrBadRequest, cause)

		Convey("Then both the kind and the cause should match", func() {
			So(errors.Is(err, api.ErrBadRequest), ShouldBeTrue)
			So(errors.Is(err, cause), ShouldBeTrue)
			So(err.Error(), ShouldEqual, "api.submit: bad request: eof")
			So(errors.Is(api.NewKind("api.train", api.ErrBackpressure), api.ErrBackpressure), ShouldBeTrue)
		})
	})
}
