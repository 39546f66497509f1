package mailer

import (
	"context"
	"time"
)

// IPLoad pairs an IP with its send count inside the rolling rate window.
type IPLoad struct {
	IP   IP
	Sent int
}

// DomainLoad is one verified assigned domain with the current load of its IPs.
type DomainLoad struct {
	Domain Domain
	IPs    []IPLoad
}

type RouterStore interface {
	// VerifiedDomainLoads returns the campaign's verified domains with
	// per-IP send counts since the given time. Empty result means no
	// assigned domain is verified.
	VerifiedDomainLoads(ctx context.Context, campaignID int64, since time.Time) ([]DomainLoad, error)
}

// Router picks an outbound identity (domain + IP) for a campaign, respecting
// per-IP rolling send limits.
type Router struct {
	Store  RouterStore
	Window time.Duration
}

func NewRouter(store RouterStore, window time.Duration) *Router {
	return &Router{Store: store, Window: window}
}

// ProperDomain returns the first verified domain holding an IP under its
// limit, and that IP. First-under-limit is the selection policy; callers must
// not rely on any fairer rotation.
//
// ErrNoVerifiedDomain is the hard failure (pause the campaign);
// ErrAllIPsRateLimited is the soft one (back off and retry later).
func (r *Router) ProperDomain(ctx context.Context, campaignID int64) (Domain, IP, error) {
	loads, err := r.Store.VerifiedDomainLoads(ctx, campaignID, time.Now().Add(-r.Window))
	if err != nil {
		return Domain{}, IP{}, err
	}
	if len(loads) == 0 {
		return Domain{}, IP{}, ErrNoVerifiedDomain
	}

	for _, dl := range loads {
		for _, il := range dl.IPs {
			if il.Sent < il.IP.SendLimit {
				return dl.Domain, il.IP, nil
			}
		}
	}
	return Domain{}, IP{}, ErrAllIPsRateLimited
}
