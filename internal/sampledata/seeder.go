package sampledata

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/okian/stopodds/internal/domain/intake"
	"github.com/okian/stopodds/internal/domain/model"
	"github.com/okian/stopodds/pkg/logger"
)

// UserAgent identifies seeded rows in the fraud token.
const UserAgent = "stopodds-seed/1"

// Sink accepts candidates. The application service satisfies it directly.
type Sink interface {
	Submit(ctx context.Context, c intake.Candidate, meta intake.Metadata) (model.Submission, error)
}

// Stats counts seeding outcomes.
type Stats struct {
	Submitted int
	Accepted  int
	Rejected  int
	Failed    int
	Duration  time.Duration
}

// Seeder pushes candidates into a sink with a bounded worker pool.
type Seeder struct {
	sink     Sink
	workers  int
	progress func(Stats)
	interval time.Duration
	logger   logger.Logger
}

// NewSeeder creates a seeder with configuration options.
func NewSeeder(sink Sink, opts ...SeederOption) *Seeder {
	s := &Seeder{sink: sink, workers: 4, interval: time.Second}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run submits every candidate. Each row gets its own client address so the
// repeat-client heuristic does not fire. Rejections are counted; transport
// failures are counted and the first one is returned after all rows ran.
func (s *Seeder) Run(ctx context.Context, candidates []intake.Candidate) (Stats, error) {
	start := time.Now()
	var submitted, accepted, rejected, failed atomic.Int64
	var (
		firstErr error
		errOnce  sync.Once
		mu       sync.Mutex
		last     time.Time
	)
	snapshot := func() Stats {
		return Stats{
			Submitted: int(submitted.Load()),
			Accepted:  int(accepted.Load()),
			Rejected:  int(rejected.Load()),
			Failed:    int(failed.Load()),
			Duration:  time.Since(start),
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for i, c := range candidates {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			_, err := s.sink.Submit(gctx, c, ClientFor(i))
			submitted.Add(1)
			switch {
			case err == nil:
				accepted.Add(1)
			case errors.Is(err, intake.ErrRejected):
				rejected.Add(1)
			default:
				failed.Add(1)
				errOnce.Do(func() { firstErr = err })
			}
			if s.progress != nil {
				mu.Lock()
				if time.Since(last) >= s.interval {
					last = time.Now()
					s.progress(snapshot())
				}
				mu.Unlock()
			}
			return gctx.Err()
		})
	}
	waitErr := g.Wait()

	st := snapshot()
	log := s.logger
	if log == nil {
		log = logger.Get()
	}
	log.Info(ctx, "seeding finished",
		logger.Int("submitted", st.Submitted),
		logger.Int("accepted", st.Accepted),
		logger.Int("rejected", st.Rejected),
		logger.Int("failed", st.Failed),
		logger.Duration("took", st.Duration))
	if firstErr != nil {
		return st, firstErr
	}
	if waitErr != nil {
		return st, waitErr
	}
	return st, ctx.Err()
}

// ClientFor returns distinct client metadata for row i.
func ClientFor(i int) intake.Metadata {
	return intake.Metadata{
		UserAgent: UserAgent,
		ClientIP:  fmt.Sprintf("10.%d.%d.%d", (i>>16)&0xff, (i>>8)&0xff, i&0xff),
	}
}

// HTTPSink posts candidates to a running server's submit endpoint.
type HTTPSink struct {
	client *http.Client
	url    string
}

// NewHTTPSink creates a sink for the server at baseURL.
func NewHTTPSink(baseURL string, timeout time.Duration) *HTTPSink {
	return &HTTPSink{
		client: &http.Client{Timeout: timeout},
		url:    strings.TrimRight(baseURL, "/") + "/api/submit",
	}
}

type submitReply struct {
	Status  string `json:"status"`
	ID      string `json:"id"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Submit implements Sink. A 400 reply becomes an *intake.Rejection.
func (h *HTTPSink) Submit(ctx context.Context, c intake.Candidate, meta intake.Metadata) (model.Submission, error) {
	body := make(map[string]any, len(c.Traits)+2)
	for k, v := range c.Traits {
		body[k] = v
	}
	if c.Trips != nil {
		body["trips"] = *c.Trips
	}
	if c.Stops != nil {
		body["stops"] = *c.Stops
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return model.Submission{}, fmt.Errorf("marshal candidate: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(payload))
	if err != nil {
		return model.Submission{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", meta.UserAgent)
	req.Header.Set("X-Forwarded-For", meta.ClientIP)

	resp, err := h.client.Do(req)
	if err != nil {
		return model.Submission{}, fmt.Errorf("post submission: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return model.Submission{}, fmt.Errorf("read reply: %w", err)
	}
	var reply submitReply
	_ = json.Unmarshal(raw, &reply)

	switch resp.StatusCode {
	case http.StatusCreated:
		return model.Submission{ID: reply.ID}, nil
	case http.StatusBadRequest:
		return model.Submission{}, &intake.Rejection{Code: reply.Code, Message: reply.Message}
	default:
		return model.Submission{}, fmt.Errorf("submit returned status %d", resp.StatusCode)
	}
}
