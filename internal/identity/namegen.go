package identity

import (
	"fmt"
	"math/rand"
)

const maxNameAttempts = 10

var nameAdjs = []string{
	"swift", "dark", "bright", "silent", "keen", "bold", "wild", "calm", "sharp", "pale",
	"deep", "cold", "warm", "void", "neon", "rust", "flux", "null", "gray", "blue",
}

var nameNouns = []string{
	"spark", "node", "echo", "flux", "pulse", "wire", "byte", "core", "drift", "arc",
	"beam", "link", "hash", "loop", "gate", "shard", "cell", "grid", "wave", "bit",
}

// GenerateName returns a random adjective-noun-number handle, e.g.
// "swift-node-472". Collisions are possible and resolved by the caller.
func GenerateName() string {
	adj := nameAdjs[rand.Intn(len(nameAdjs))]
	noun := nameNouns[rand.Intn(len(nameNouns))]
	return fmt.Sprintf("%s-%s-%d", adj, noun, rand.Intn(900)+100)
}
