package server

import (
	"net"
	"strings"

	"github.com/coocood/freecache"
)

const (
	// cache successes for 2 hours, failures for 5 minutes
	cnameTTL        = 2 * 60 * 60
	cnameFailureTTL = 5 * 60
)

// cnameResolver caches CNAME lookups of custom domains
type cnameResolver struct {
	cache  *freecache.Cache
	lookup func(host string) (string, error)
}

func newCNAMEResolver() *cnameResolver {
	return &cnameResolver{
		cache:  freecache.NewCache(512 * 1024),
		lookup: net.LookupCNAME,
	}
}

// Resolve returns the CNAME of domain without the trailing dot, or "" when there is none
func (r *cnameResolver) Resolve(domain string) string {
	key := []byte(domain)
	if val, err := r.cache.Get(key); err == nil {
		return string(val)
	}

	cname, err := r.lookup(domain)
	if err != nil {
		_ = r.cache.Set(key, []byte{}, cnameFailureTTL)
		return ""
	}

	cname = strings.TrimSuffix(cname, ".")
	// Hosts without a CNAME resolve to themselves
	if cname == domain {
		cname = ""
	}
	_ = r.cache.Set(key, []byte(cname), cnameTTL)
	return cname
}
