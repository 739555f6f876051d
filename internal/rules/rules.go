// Package rules holds the fixed board table and the pure functions that judge moves on it.
package rules

import (
	"math"
	"slices"

	"boardroom/internal/models"
)

// SlotCount is the number of board slots.
const SlotCount = models.BoardSlots

// SnapRadius is the maximum distance at which a requested point resolves to a slot.
const SnapRadius = 35.0

// PiecesPerPlayer is how many pieces each side places on initialization.
const PiecesPerPlayer = 3

// Positions maps each slot index to its board coordinate.
var Positions = [SlotCount]models.Point{
	{X: 20, Y: 10},
	{X: 50, Y: 10},
	{X: 80, Y: 10},
	{X: 50, Y: 30},
	{X: 20, Y: 30},
	{X: 80, Y: 50},
	{X: 50, Y: 50},
	{X: 50, Y: 70},
	{X: 20, Y: 70},
	{X: 80, Y: 70},
}

// adjacency is authoritative; it is not derived from symmetry.
var adjacency = [SlotCount][]int{
	0: {1},
	1: {0, 2, 3},
	2: {1},
	3: {1, 4, 6},
	4: {3},
	5: {6},
	6: {3, 5, 7},
	7: {6, 8, 9},
	8: {7},
	9: {7},
}

// WinningTriples lists the slot combinations that end the game, in evaluation order.
var WinningTriples = [][3]int{
	{0, 1, 2},
	{8, 7, 9},
	{1, 3, 6},
	{3, 6, 7},
}

// ValidSlot reports whether slot is on the board.
func ValidSlot(slot int) bool {
	return slot >= 0 && slot < SlotCount
}

// Adjacency returns the legal single-step destinations from slot.
func Adjacency(slot int) []int {
	if !ValidSlot(slot) {
		return nil
	}
	return slices.Clone(adjacency[slot])
}

// IsAdjacent reports whether to is a legal single step from from.
func IsAdjacent(from, to int) bool {
	if !ValidSlot(from) {
		return false
	}
	return slices.Contains(adjacency[from], to)
}

// Distance is the Euclidean distance between two points.
func Distance(a, b models.Point) float64 {
	return math.Hypot(a.X-b.X, a.Y-b.Y)
}

// NearestSlot returns the slot closest to p within maxRadius.
// Ties keep the first slot in table order.
func NearestSlot(p models.Point, maxRadius float64) (int, bool) {
	best := -1
	bestDistance := math.Inf(1)
	for slot, pos := range Positions {
		d := Distance(p, pos)
		if d <= maxRadius && d < bestDistance {
			best = slot
			bestDistance = d
		}
	}
	return best, best >= 0
}

// CheckWinner returns the owner of the first winning triple fully held by one player.
func CheckWinner(pieces []models.GamePiece) (models.PlayerNumber, bool) {
	owners := make(map[int]models.PlayerNumber, len(pieces))
	for _, p := range pieces {
		owners[p.Position] = p.Player
	}

	for _, triple := range WinningTriples {
		first, ok := owners[triple[0]]
		if !ok {
			continue
		}
		if owner, ok := owners[triple[1]]; !ok || owner != first {
			continue
		}
		if owner, ok := owners[triple[2]]; !ok || owner != first {
			continue
		}
		return first, true
	}
	return 0, false
}

// Permuter draws random permutations; *rand.Rand from math/rand/v2 satisfies it.
type Permuter interface {
	Perm(n int) []int
}

// InitialPieces places six pieces on distinct random slots.
// Pieces 1-3 belong to player one and 4-6 to player two.
func InitialPieces(rng Permuter) []models.GamePiece {
	slots := rng.Perm(SlotCount)[:2*PiecesPerPlayer]
	pieces := make([]models.GamePiece, 0, len(slots))
	for i, slot := range slots {
		owner := models.PlayerOne
		if i >= PiecesPerPlayer {
			owner = models.PlayerTwo
		}
		pieces = append(pieces, models.GamePiece{ID: i + 1, Player: owner, Position: slot})
	}
	return pieces
}
