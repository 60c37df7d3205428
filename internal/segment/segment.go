// Package segment resolves campaign audiences against a client roster.
package segment

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	appErrors "github.com/unclebandit/promopal-backend/internal/errors"
	"github.com/unclebandit/promopal-backend/internal/model"
)

type Kind string

const (
	KindAll       Kind = "all"
	KindInactive  Kind = "inactive"
	KindNew       Kind = "new-clients"
	KindLoyal     Kind = "loyal-clients"
	KindHighSpend Kind = "high-spend"
	KindAtRisk    Kind = "at-risk"
)

const (
	newClientWindow = 7 * 24 * time.Hour
	day             = 24 * time.Hour
)

var tagSets = map[Kind][]string{
	KindLoyal:     {"loyal", "regular"},
	KindHighSpend: {"high-spend", "vip"},
	KindAtRisk:    {"at-risk", "churning"},
}

// Selector is a parsed segment type. Days is only set for KindInactive.
type Selector struct {
	Kind Kind
	Days int
}

func (s Selector) String() string {
	if s.Kind == KindInactive {
		return fmt.Sprintf("inactive-%d", s.Days)
	}
	return string(s.Kind)
}

// ParseSelector accepts the closed selector vocabulary. An empty string is
// treated as "all".
func ParseSelector(raw string) (Selector, error) {
	v := strings.ToLower(strings.TrimSpace(raw))
	switch v {
	case "", string(KindAll):
		return Selector{Kind: KindAll}, nil
	case string(KindNew):
		return Selector{Kind: KindNew}, nil
	case string(KindLoyal):
		return Selector{Kind: KindLoyal}, nil
	case string(KindHighSpend), "high-value":
		return Selector{Kind: KindHighSpend}, nil
	case string(KindAtRisk):
		return Selector{Kind: KindAtRisk}, nil
	}
	if rest, ok := strings.CutPrefix(v, "inactive-"); ok {
		n, err := strconv.Atoi(rest)
		if err == nil && n > 0 {
			return Selector{Kind: KindInactive, Days: n}, nil
		}
	}
	return Selector{}, appErrors.NewValidation("segment_type", fmt.Sprintf("unknown audience segment %q", raw))
}

// Match reports whether c belongs to the segment at instant now.
func (s Selector) Match(c model.Client, now time.Time) bool {
	switch s.Kind {
	case KindAll:
		return true
	case KindInactive:
		if c.LastVisit == nil {
			return true
		}
		return c.LastVisit.Before(now.Add(-time.Duration(s.Days) * day))
	case KindNew:
		return c.CreatedAt.After(now.Add(-newClientWindow)) && !c.CreatedAt.After(now)
	default:
		return hasAnyTag(c.Tags, tagSets[s.Kind])
	}
}

// Describe is the human label used when prompting for content.
func Describe(s Selector) string {
	switch s.Kind {
	case KindInactive:
		return fmt.Sprintf("Clients who haven't visited in %d days", s.Days)
	case KindNew:
		return "New clients from the last 7 days"
	case KindLoyal:
		return "Loyal and regular clients"
	case KindHighSpend:
		return "High-spending VIP clients"
	case KindAtRisk:
		return "Clients at risk of churning"
	default:
		return "All clients"
	}
}

func hasAnyTag(tags []string, want []string) bool {
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		for _, w := range want {
			if t == w {
				return true
			}
		}
	}
	return false
}

// Engine resolves audiences. It has no side effects beyond logging.
type Engine struct {
	Log *zap.Logger
}

func NewEngine(log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{Log: log}
}

// Resolve returns the recipients for audience in roster order. A non-empty
// ClientIDs list is an allow-list and takes precedence over SegmentType.
// A selector outside the vocabulary resolves to the whole roster.
func (e *Engine) Resolve(audience model.Audience, clients []model.Client, now time.Time) []model.Client {
	if len(audience.ClientIDs) > 0 {
		allowed := make(map[string]struct{}, len(audience.ClientIDs))
		for _, id := range audience.ClientIDs {
			allowed[id] = struct{}{}
		}
		return filter(clients, func(c model.Client) bool {
			_, ok := allowed[c.ID]
			return ok
		})
	}

	sel, err := ParseSelector(audience.SegmentType)
	if err != nil {
		e.Log.Warn("unrecognized audience segment, falling back to all clients",
			zap.String("segment_type", audience.SegmentType),
			zap.Int("roster_size", len(clients)),
		)
		sel = Selector{Kind: KindAll}
	}
	return filter(clients, func(c model.Client) bool { return sel.Match(c, now) })
}

func filter(clients []model.Client, keep func(model.Client) bool) []model.Client {
	out := make([]model.Client, 0, len(clients))
	for _, c := range clients {
		if keep(c) {
			out = append(out, c)
		}
	}
	return out
}
