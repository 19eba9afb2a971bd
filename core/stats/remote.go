package stats

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/codewandler/fanout/core/cluster"
)

// ServiceKey is the routing key under which nodes serve the stats service.
const ServiceKey = "service"

// Job is the wire form of ProcessText.
type Job struct {
	RequestID string `json:"request_id"`
	Text      string `json:"text"`
	TimeoutMs int64  `json:"timeout_ms,omitempty"`
}

// Handler serves Jobs sent by a Remote.
func (s *Service) Handler() cluster.ServerHandlerFunc {
	return func(ctx context.Context, env cluster.Envelope) ([]byte, error) {
		var job Job
		if err := json.Unmarshal(env.Data, &job); err != nil {
			return nil, fmt.Errorf("decode job: %w", err)
		}
		if job.RequestID == "" {
			job.RequestID = gonanoid.Must()
		}
		res, err := s.process(ctx, job.RequestID, job.Text, time.Duration(job.TimeoutMs)*time.Millisecond)
		if err != nil {
			return nil, err
		}
		return json.Marshal(res)
	}
}

// Remote reaches the stats service of whichever node owns ServiceKey.
type Remote struct {
	req     *cluster.Request[Job, Response]
	timeout time.Duration
}

// NewRemote returns a client for the service. A positive timeout is sent
// along as the per-request deadline.
func NewRemote(c *cluster.Client, timeout time.Duration) *Remote {
	return &Remote{
		req:     cluster.NewRequest[Job, Response](c.Key(ServiceKey)),
		timeout: timeout,
	}
}

func (r *Remote) Process(ctx context.Context, text string) (Response, error) {
	return r.ProcessRequest(ctx, gonanoid.Must(), text)
}

// ProcessRequest sends text under requestID, so the caller's logs and the
// service's logs share one id.
func (r *Remote) ProcessRequest(ctx context.Context, requestID, text string) (Response, error) {
	res, err := r.req.Request(ctx, Job{
		RequestID: requestID,
		Text:      text,
		TimeoutMs: r.timeout.Milliseconds(),
	})
	if err != nil {
		return Response{}, err
	}
	return *res, nil
}
