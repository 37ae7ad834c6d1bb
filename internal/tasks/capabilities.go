package tasks

import "teamsync/internal/models"

// Capability is a bit set of the relations a caller has to a task.
type Capability uint8

const (
	CapCreator Capability = 1 << iota
	CapAssignee
	CapAdmin
)

const (
	mutators = CapCreator | CapAssignee | CapAdmin
	deleters = CapCreator | CapAdmin
)

// Any reports whether c shares at least one capability with required.
func (c Capability) Any(required Capability) bool {
	return c&required != 0
}

func capabilitiesOf(user models.User, task models.Task) Capability {
	var c Capability
	if task.CreatorID == user.ID {
		c |= CapCreator
	}
	if task.HasAssignee(user.ID) {
		c |= CapAssignee
	}
	if user.IsAdmin() {
		c |= CapAdmin
	}
	return c
}
