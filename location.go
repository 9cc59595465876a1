package feedcache

import (
	"encoding/base64"
	"fmt"
	"strings"
)

// LocationKey identifies the geographic scope of a feed. Empty fields are absent.
type LocationKey struct {
	Neighborhood string `json:"neighborhood,omitempty"`
	City         string `json:"city,omitempty"`
	State        string `json:"state,omitempty"`
}

// IsZero reports whether every component is absent.
func (l LocationKey) IsZero() bool {
	return l.normalized() == LocationKey{}
}

func (l LocationKey) String() string {
	parts := make([]string, 0, 3)
	for _, part := range []string{l.Neighborhood, l.City, l.State} {
		if part != "" {
			parts = append(parts, part)
		}
	}
	if len(parts) == 0 {
		return "<anywhere>"
	}
	return strings.Join(parts, ", ")
}

// Contains reports whether other falls inside l when read at scope.
// Neighborhood scope compares neighborhoods, city scope compares cities and
// state scope compares states. Absent components on l match anything.
func (l LocationKey) Contains(scope Scope, other LocationKey) bool {
	switch scope {
	case ScopeNeighborhood:
		return matchPart(l.Neighborhood, other.Neighborhood) &&
			matchPart(l.City, other.City) &&
			matchPart(l.State, other.State)
	case ScopeCity:
		return matchPart(l.City, other.City) && matchPart(l.State, other.State)
	case ScopeState:
		return matchPart(l.State, other.State)
	default:
		return false
	}
}

func matchPart(want, got string) bool {
	want = normalizePart(want)
	return want == "" || want == normalizePart(got)
}

// Same reports whether l and other name the same place, ignoring letter case
// and surrounding space.
func (l LocationKey) Same(other LocationKey) bool {
	return l.normalized() == other.normalized()
}

func (l LocationKey) normalized() LocationKey {
	return LocationKey{
		Neighborhood: normalizePart(l.Neighborhood),
		City:         normalizePart(l.City),
		State:        normalizePart(l.State),
	}
}

func normalizePart(part string) string {
	return strings.ToLower(strings.TrimSpace(part))
}

// Scope controls how broadly a feed reads relative to its LocationKey.
type Scope string

const (
	ScopeNeighborhood Scope = "neighborhood"
	ScopeCity         Scope = "city"
	ScopeState        Scope = "state"
)

// ParseScope validates a scope name.
func ParseScope(value string) (Scope, error) {
	switch scope := Scope(strings.ToLower(strings.TrimSpace(value))); scope {
	case ScopeNeighborhood, ScopeCity, ScopeState:
		return scope, nil
	default:
		return "", fmt.Errorf("unknown scope %q", value)
	}
}

// PostType filters a feed by post category.
type PostType string

const (
	PostTypeAll         PostType = "all"
	PostTypeGeneral     PostType = "general"
	PostTypeSafety      PostType = "safety"
	PostTypeMarketplace PostType = "marketplace"
	PostTypeHelp        PostType = "help"
	PostTypeEvent       PostType = "event"
)

// ParsePostType validates a post type filter name.
func ParsePostType(value string) (PostType, error) {
	switch postType := PostType(strings.ToLower(strings.TrimSpace(value))); postType {
	case PostTypeAll, PostTypeGeneral, PostTypeSafety, PostTypeMarketplace, PostTypeHelp, PostTypeEvent:
		return postType, nil
	default:
		return "", fmt.Errorf("unknown post type %q", value)
	}
}

// Matches reports whether a post of type got passes the filter.
func (t PostType) Matches(got PostType) bool {
	return t == PostTypeAll || t == got
}

// Query is a feed request and the cache key for its result.
type Query struct {
	Location LocationKey
	Scope    Scope
	Type     PostType
}

// Validate rejects queries that can never be served.
func (q Query) Validate() error {
	if _, err := ParseScope(string(q.Scope)); err != nil {
		return err
	}
	if _, err := ParsePostType(string(q.Type)); err != nil {
		return err
	}
	if q.Location.IsZero() {
		return fmt.Errorf("query location is required")
	}
	return nil
}

// Key returns the stable cache key for q. Location parts are compared without
// regard to case, so "Ikoyi" and "ikoyi" share a key.
func (q Query) Key() string {
	loc := q.Location.normalized()
	return "feed." + encodeKeyPart(loc.Neighborhood) +
		"." + encodeKeyPart(loc.City) +
		"." + encodeKeyPart(loc.State) +
		"." + string(q.Scope) +
		"." + string(q.Type)
}

func encodeKeyPart(part string) string {
	if part == "" {
		return "_"
	}
	return base64.RawURLEncoding.EncodeToString([]byte(part))
}
