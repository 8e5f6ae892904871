// Package scroll decides when the timeline viewport follows new content.
package scroll

import "parley/internal/models"

// Controller tracks whether the user has scrolled away from the bottom.
// The zero value follows.
type Controller struct {
	detached bool
}

// Detached reports whether auto-follow is suspended.
func (c *Controller) Detached() bool {
	return c.detached
}

// OnUserScroll records a manual scroll. Returning to the bottom resumes
// auto-follow.
func (c *Controller) OnUserScroll(atBottom bool) {
	c.detached = !atBottom
}

// OnSend resumes auto-follow when the user starts a send.
func (c *Controller) OnSend() {
	c.detached = false
}

// OnReset resumes auto-follow for a new or freshly opened session.
func (c *Controller) OnReset() {
	c.detached = false
}

// ShouldFollow reports whether the view should jump to the bottom after msgs
// changed. It follows when the last message is the pending placeholder or
// has no durable id yet, unless the user scrolled away.
func (c *Controller) ShouldFollow(msgs []models.Message) bool {
	if c.detached || len(msgs) == 0 {
		return false
	}
	last := msgs[len(msgs)-1]
	return last.Status == models.StatusPending || !last.Durable()
}
