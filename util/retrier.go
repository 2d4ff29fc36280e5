package util

import (
	"context"
	"errors"
	"net/http"
	"syscall"
	"time"

	"github.com/olivere/elastic/v7"
)

// maxRetries bounds the number of attempts for a single cluster request.
const maxRetries = 5

// Retrier retries failed cluster requests with exponential backoff.
type Retrier struct {
	backoff elastic.Backoff
}

// NewRetrier returns a new retrier with exponential backoff strategy.
func NewRetrier() *Retrier {
	return &Retrier{
		elastic.NewExponentialBackoff(100*time.Millisecond, 8*time.Second),
	}
}

// Retry implements elastic.Retrier.
func (r *Retrier) Retry(ctx context.Context, retry int, req *http.Request, resp *http.Response, err error) (time.Duration, bool, error) {
	// Fail hard when the cluster refuses connections
	if errors.Is(err, syscall.ECONNREFUSED) {
		return 0, false, errors.New("elasticsearch or network down")
	}

	if retry >= maxRetries {
		return 0, false, nil
	}

	wait, stop := r.backoff.Next(retry)
	return wait, stop, nil
}
