package ratelimiter

import (
	"net/http"
	"strconv"

	log "github.com/sirupsen/logrus"
	"github.com/ulule/limiter"
	"github.com/ulule/limiter/drivers/store/memory"

	"github.com/appbaseio/upgrade-assistant/middleware"
	"github.com/appbaseio/upgrade-assistant/util"
	"github.com/appbaseio/upgrade-assistant/util/iplookup"
)

const logTag = "[ratelimiter]"

// Ratelimiter limits the number of requests made from each remote ip.
type Ratelimiter struct {
	limiter *limiter.Limiter
}

// New returns a rate limiter for a rate in the "<limit>-<period>" format,
// e.g. "100-S" or "1000-H".
func New(rate string) (*Ratelimiter, error) {
	r, err := limiter.NewRateFromFormatted(rate)
	if err != nil {
		return nil, err
	}
	return &Ratelimiter{limiter: limiter.New(memory.NewStore(), r)}, nil
}

// Limit returns the middleware rejecting requests once their ip has
// reached the rate.
func (rl *Ratelimiter) Limit() middleware.Middleware {
	return rl.rateLimit
}

func (rl *Ratelimiter) rateLimit(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := iplookup.FromRequest(r)
		c, err := rl.limiter.Get(r.Context(), key)
		if err != nil {
			// the request is served when the store fails
			log.Errorln(logTag, ": unable to read the limit of", key, ":", err)
			h(w, r)
			return
		}
		w.Header().Set("X-RateLimit-Limit", strconv.FormatInt(c.Limit, 10))
		w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(c.Remaining, 10))
		if c.Reached {
			util.WriteBackMessage(w, "Rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		h(w, r)
	}
}
