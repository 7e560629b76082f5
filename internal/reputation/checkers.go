package reputation

import (
	"context"
	"net/netip"
)

// Checker is one independent reputation source. A checker error degrades
// to a safe default verdict for that checker; it never aborts the others.
type Checker interface {
	Name() string
	Check(ctx context.Context, identity string) (Verdict, error)
}

// Verdict is one checker's contribution to a merged reputation entry.
type Verdict struct {
	IsMalicious bool
	ThreatTypes []string
	Confidence  int
}

// wellKnownInfra are infrastructure addresses that should never show up
// as client identities in request logs.
var wellKnownInfra = map[string]bool{
	"1.1.1.1": true,
	"8.8.8.8": true,
	"8.8.4.4": true,
	"9.9.9.9": true,
}

// PatternChecker flags private/reserved ranges and a small denylist of
// well-known infrastructure addresses.
type PatternChecker struct{}

func (PatternChecker) Name() string { return "pattern" }

func (PatternChecker) Check(_ context.Context, identity string) (Verdict, error) {
	addr, err := netip.ParseAddr(identity)
	if err != nil {
		// Non-address identities carry no range signal.
		return Verdict{}, nil
	}

	suspicious := addr.IsPrivate() || addr.IsLoopback() || addr.IsLinkLocalUnicast() ||
		addr.IsMulticast() || addr.IsUnspecified() || wellKnownInfra[identity]
	if !suspicious {
		return Verdict{}, nil
	}
	return Verdict{
		ThreatTypes: []string{"suspicious_range"},
		Confidence:  30,
	}, nil
}

// knownBadLiterals are reserved literals that are invalid as real client
// sources; seeing one means the identity field was forged or broken.
var knownBadLiterals = map[string]bool{
	"0.0.0.0":         true,
	"127.0.0.1":       true,
	"255.255.255.255": true,
}

// KnownBadChecker matches exact reserved literals.
type KnownBadChecker struct{}

func (KnownBadChecker) Name() string { return "known_bad" }

func (KnownBadChecker) Check(_ context.Context, identity string) (Verdict, error) {
	if !knownBadLiterals[identity] {
		return Verdict{}, nil
	}
	return Verdict{
		IsMalicious: true,
		ThreatTypes: []string{"invalid_source"},
		Confidence:  90,
	}, nil
}

// GeoChecker is a placeholder for a geolocation intelligence feed. It
// contributes a flat low baseline so merged entries always carry a
// nonzero confidence floor.
type GeoChecker struct{}

func (GeoChecker) Name() string { return "geo" }

func (GeoChecker) Check(_ context.Context, _ string) (Verdict, error) {
	return Verdict{Confidence: 10}, nil
}
