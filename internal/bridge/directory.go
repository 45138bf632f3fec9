// Package bridge connects MPRIS media players to the notification engine:
// every player gets one notification, and button presses are sent back to
// the player they belong to.
package bridge

import "sync"

// Directory assigns notification ids to players. Ids are never reused
// within one process.
type Directory struct {
	mu      sync.Mutex
	next    int
	ids     map[string]int
	players map[int]string
}

// NewDirectory creates an empty directory
func NewDirectory() *Directory {
	return &Directory{
		next:    1,
		ids:     make(map[string]int),
		players: make(map[int]string),
	}
}

// ID returns the id of player, assigning one on first use
func (d *Directory) ID(player string) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	if id, ok := d.ids[player]; ok {
		return id
	}
	id := d.next
	d.next++
	d.ids[player] = id
	d.players[id] = player
	return id
}

// Lookup returns the id of player without assigning one
func (d *Directory) Lookup(player string) (int, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	id, ok := d.ids[player]
	return id, ok
}

// Player returns the player owning id
func (d *Directory) Player(id int) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	player, ok := d.players[id]
	return player, ok
}

// Release forgets player and returns the id it had
func (d *Directory) Release(player string) (int, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	id, ok := d.ids[player]
	if !ok {
		return 0, false
	}
	delete(d.ids, player)
	delete(d.players, id)
	return id, true
}
