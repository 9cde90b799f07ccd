// Package primo holds the Primo specific pieces of the tracker: target
// identity, parsing of Primo UI URLs, and construction of search requests.
package primo

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/y0f/primotiming/internal/storage"
)

// DefaultHostSuffix is the hosted Primo domain every registered UI URL must
// belong to.
const DefaultHostSuffix = "primo.exlibrisgroup.com"

var (
	ErrNotPrimo     = errors.New("not a valid Primo URL")
	ErrMissingParam = errors.New("parameter missing")
)

// TargetID derives the stable identifier of a target. Identical inputs always
// produce the same id, so registering the same endpoint twice is a no-op.
func TargetID(domainPrefix, inst, vid, scope, tab string) string {
	h := sha256.Sum256([]byte(domainPrefix + inst + vid + tab + scope))
	return hex.EncodeToString(h[:])
}

// uiParams are the query parameters a Primo UI URL must carry, mapped to the
// target field they populate.
var uiParams = []struct {
	query string
	field string
}{
	{"vid", "vid"},
	{"tab", "tab"},
	{"search_scope", "scope"},
}

// ParseUIURL extracts a target from a Primo UI URL such as
// https://gwu.primo.exlibrisgroup.com/discovery/search?vid=01WRLC_GWA:live&tab=WRLC&search_scope=MyInst.
// An empty hostSuffix means DefaultHostSuffix.
func ParseUIURL(raw, hostSuffix string) (*storage.Target, error) {
	if hostSuffix == "" {
		hostSuffix = DefaultHostSuffix
	}

	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotPrimo, err)
	}
	host := u.Hostname()
	if host == "" || !strings.Contains(host, hostSuffix) {
		return nil, fmt.Errorf("%w: wrong hostname %q", ErrNotPrimo, host)
	}

	q := u.Query()
	fields := make(map[string]string, len(uiParams))
	for _, p := range uiParams {
		v := strings.TrimSpace(q.Get(p.query))
		if v == "" {
			return nil, fmt.Errorf("%w: %s", ErrMissingParam, p.query)
		}
		fields[p.field] = v
	}

	vid := fields["vid"]
	inst, _, _ := strings.Cut(vid, ":")
	prefix, _, _ := strings.Cut(host, ".")

	t := &storage.Target{
		DomainPrefix: prefix,
		Inst:         inst,
		Vid:          vid,
		Scope:        fields["scope"],
		Tab:          fields["tab"],
	}
	t.ID = TargetID(t.DomainPrefix, t.Inst, t.Vid, t.Scope, t.Tab)
	return t, nil
}
