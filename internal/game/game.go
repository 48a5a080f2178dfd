// Package game holds the pluggable game contract and the generic session
// state machine that drives any game implementation through synchronized
// rounds.
package game

import (
	"fmt"
	"sort"
	"sync"

	"github.com/martius-lab/teamproject-competition-server/internal/models"
)

// Game is the contract a simulated environment must satisfy. The session
// calls Update with exactly one action per player and keeps doing so until
// Update reports the game is finished.
type Game interface {
	// Update advances the simulation by one round. Returns true when the
	// game is finished.
	Update(actions map[models.PlayerID][]float64) bool

	// Observation returns the observation to send to the given player for
	// the next round.
	Observation(playerID models.PlayerID) []float64

	// ValidateAction reports whether an action is acceptable. An invalid
	// action ends the game and disconnects the player that sent it.
	ValidateAction(action []float64) bool

	// PlayerWon reports whether the given player won.
	PlayerWon(playerID models.PlayerID) bool

	// PlayerScore returns the running score of the given player.
	PlayerScore(playerID models.PlayerID) float64
}

// Factory builds a game instance for an ordered list of at least two players.
type Factory func(playerIDs []models.PlayerID) (Game, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Factory)
)

// Register makes a game implementation available under a name. Games are
// registered at compile time and selected by configuration.
func Register(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()

	if _, exists := registry[name]; exists {
		panic(fmt.Sprintf("game %q registered twice", name))
	}
	registry[name] = factory
}

// New instantiates the named game for the given players.
func New(name string, playerIDs []models.PlayerID) (Game, error) {
	registryMu.RLock()
	factory, ok := registry[name]
	registryMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown game %q (registered: %v)", name, Names())
	}
	return factory(playerIDs)
}

// Names lists the registered games, sorted.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
