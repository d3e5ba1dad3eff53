package archive

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// requester is the request plumbing shared by IndexClient and ContentClient.
type requester struct {
	fetcher Fetcher
	limiter Limiter
	cfg     Config
	logger  *zap.Logger
}

func newRequester(fetcher Fetcher, limiter Limiter, cfg Config, logger *zap.Logger) requester {
	if logger == nil {
		logger = zap.NewNop()
	}
	return requester{
		fetcher: fetcher,
		limiter: limiter,
		cfg:     cfg.withDefaults(),
		logger:  logger,
	}
}

// get waits for the limiter, then fetches url under the per-request timeout.
func (r requester) get(ctx context.Context, url string) (Response, error) {
	if r.fetcher == nil {
		return Response{}, fmt.Errorf("archive fetcher is not configured")
	}
	if r.limiter != nil {
		if err := r.limiter.Wait(ctx, url); err != nil {
			return Response{}, fmt.Errorf("archive rate limit: %w", err)
		}
	}
	reqCtx := ctx
	if r.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, r.cfg.RequestTimeout)
		defer cancel()
	}
	resp, err := r.fetcher.Fetch(reqCtx, url)
	if err != nil {
		return Response{}, fmt.Errorf("archive fetch: %w", err)
	}
	return resp, nil
}
