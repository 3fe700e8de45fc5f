package sessions

import "math/rand"

var nameAdjectives = []string{
	"amber", "brisk", "calm", "clever", "crimson", "daring", "eager",
	"fuzzy", "gentle", "golden", "keen", "lively", "mellow", "nimble",
	"quiet", "rapid", "silver", "sturdy", "swift", "vivid",
}

var nameNouns = []string{
	"falcon", "harbor", "kestrel", "lantern", "meadow", "orchard",
	"pebble", "quarry", "raven", "ridge", "sparrow", "summit",
	"thicket", "tide", "valley", "willow",
}

// GenerateName returns an adjective-noun project name like "swift-falcon".
func GenerateName() string {
	return nameAdjectives[rand.Intn(len(nameAdjectives))] + "-" + nameNouns[rand.Intn(len(nameNouns))]
}
