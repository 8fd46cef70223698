package party

import "math"

// MediaKind tells how precisely a player reports its clock.
type MediaKind int

const (
	// MediaDirect is a media element whose clock can be read and set precisely.
	MediaDirect MediaKind = iota
	// MediaEmbedded is a coarse third-party player.
	MediaEmbedded
)

// DriftThreshold is how far, in seconds, the player may lag before it is snapped.
func (k MediaKind) DriftThreshold() float64 {
	if k == MediaEmbedded {
		return 2.0
	}
	return 0.5
}

// MediaElement is the real player the reconciler keeps in step.
type MediaElement interface {
	Kind() MediaKind
	CurrentTime() float64
	Seek(t float64)
}

// drifted reports whether the element should be snapped to want.
func drifted(m MediaElement, want float64) bool {
	return math.Abs(m.CurrentTime()-want) > m.Kind().DriftThreshold()
}
