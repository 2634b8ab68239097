package frametable

import "log"

// clock orders the frames for second-chance replacement. The ring holds arena
// indices in the order the frames entered the table. The hand survives across
// sweeps, so a sweep starts where the previous one stopped.
type clock struct {
	ring []int
	hand int
}

func (c *clock) add(index int) {
	c.ring = append(c.ring, index)
}

func (c *clock) remove(index int) {
	for pos, v := range c.ring {
		if v != index {
			continue
		}

		c.ring = append(c.ring[:pos], c.ring[pos+1:]...)

		if pos < c.hand {
			c.hand--
		}

		if c.hand >= len(c.ring) {
			c.hand = 0
		}

		return
	}

	log.Panicf("frame %d is not on the clock", index)
}

// sweep visits at most maxSteps frames starting at the hand and moves the hand
// past every frame it visits. It stops at the first frame pick accepts.
func (c *clock) sweep(maxSteps int, pick func(index int) bool) (int, bool) {
	for step := 0; step < maxSteps && len(c.ring) > 0; step++ {
		index := c.ring[c.hand]
		c.hand = (c.hand + 1) % len(c.ring)

		if pick(index) {
			return index, true
		}
	}

	return 0, false
}

func (c *clock) len() int {
	return len(c.ring)
}
