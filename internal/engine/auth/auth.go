package auth

import (
	"fmt"

	"upkeep/internal/domain"
)

// ForbiddenError indicates missing permission.
type ForbiddenError struct {
	Permission string
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("permission %s required", e.Permission)
}

// CanViewBuilding reports whether a user may view a building and its tasks.
// Visibility is strictly per building, role does not widen it.
func CanViewBuilding(u domain.User, buildingID string) bool {
	return u.BuildingID == buildingID
}

// CanCreateTask reports whether a user may create a task in a building.
// Only owners create tasks, and only in their own building.
func CanCreateTask(u domain.User, buildingID string) bool {
	return u.BuildingID == buildingID && u.Role == domain.RoleOwner
}

// CanUpdateTask allows any authenticated user to update any task. Role and
// building membership are deliberately not consulted here.
func CanUpdateTask(u domain.User, t domain.Task) bool {
	return true
}

// CanDeleteTask mirrors CanUpdateTask.
func CanDeleteTask(u domain.User, t domain.Task) bool {
	return true
}

// CanComment mirrors CanUpdateTask: commenting is open to any
// authenticated user regardless of building.
func CanComment(u domain.User, t domain.Task) bool {
	return true
}
