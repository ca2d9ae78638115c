package handshake

import "strings"

// OriginPolicy decides whether a requesting origin may start a ceremony.
type OriginPolicy interface {
	Allows(origin string) bool
}

// AllowList admits only the listed origins. Used by same-origin deployments
// where phishing resistance depends on knowing who is asking.
type AllowList struct {
	origins map[string]struct{}
}

func NewAllowList(origins []string) AllowList {
	set := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		o = strings.TrimRight(strings.TrimSpace(o), "/")
		if o != "" {
			set[o] = struct{}{}
		}
	}
	return AllowList{origins: set}
}

func (a AllowList) Allows(origin string) bool {
	origin = strings.TrimRight(origin, "/")
	if origin == "" {
		return false
	}
	_, ok := a.origins[origin]
	return ok
}

// AnyOrigin admits every origin. Used by cross-origin relays that only
// reject on algorithm mismatch.
type AnyOrigin struct{}

func (AnyOrigin) Allows(string) bool { return true }
