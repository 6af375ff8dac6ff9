// Package roomname generates memorable room ids such as "sunny-otter-harbor".
package roomname

import (
	"crypto/rand"
	"math/big"
	"strings"
)

var moods = []string{
	"sunny", "brisk", "quiet", "lively", "gentle", "bright", "mellow", "steady", "clever", "daring",
	"humble", "nimble", "proud", "rapid", "shy", "swift", "tidy", "vivid", "witty", "zesty",
	"amber", "coral", "ivory", "olive", "indigo", "scarlet", "silver", "golden", "teal", "violet",
}

var creatures = []string{
	"otter", "heron", "badger", "falcon", "lynx", "marten", "osprey", "puffin", "salmon", "walrus",
	"beaver", "bison", "condor", "gecko", "ibis", "jackal", "koala", "lemur", "magpie", "newt",
	"orca", "panda", "quail", "raven", "sparrow", "tapir", "urchin", "viper", "wombat", "yak",
}

var places = []string{
	"harbor", "meadow", "summit", "canyon", "delta", "fjord", "grove", "island", "lagoon", "mesa",
	"orchard", "plaza", "quarry", "ridge", "valley", "atrium", "bazaar", "cellar", "dock", "forum",
	"garden", "hall", "lodge", "market", "pier", "studio", "terrace", "tower", "vault", "wharf",
}

// Generate returns a random mood-creature-place id.
func Generate() string {
	return strings.Join([]string{pick(moods), pick(creatures), pick(places)}, "-")
}

// GenerateUnique retries Generate until taken reports the id as free, giving
// up after attempts tries and returning the last candidate.
func GenerateUnique(taken func(string) bool, attempts int) string {
	id := Generate()
	for i := 1; i < attempts && taken(id); i++ {
		id = Generate()
	}
	return id
}

// Space is the number of distinct ids Generate can produce.
func Space() int {
	return len(moods) * len(creatures) * len(places)
}

func pick(words []string) string {
	return words[randomIndex(len(words))]
}

// randomIndex returns a cryptographically secure random index for a slice of
// the given length.
func randomIndex(max int) int {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(max)))
	if err != nil {
		panic("roomname: failed to read random bytes: " + err.Error())
	}
	return int(n.Int64())
}
