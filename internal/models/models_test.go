package models

import "testing"

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to TaskStatus
		want     bool
	}{
		{StatusTodo, StatusInProgress, true},
		{StatusInProgress, StatusDone, true},
		{StatusInProgress, StatusTodo, true},
		{StatusDone, StatusInProgress, true},
		{StatusTodo, StatusDone, false},
		{StatusDone, StatusTodo, false},
		{StatusTodo, StatusTodo, false},
		{StatusDone, StatusDone, false},
		{TaskStatus("blocked"), StatusTodo, false},
	}
	for _, tt := range tests {
		if got := tt.from.CanTransition(tt.to); got != tt.want {
			t.Errorf("%s -> %s = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

// Every status reachable from todo stays within the enumerated set.
func TestTransitionGraphIsClosed(t *testing.T) {
	seen := map[TaskStatus]bool{StatusTodo: true}
	queue := []TaskStatus{StatusTodo}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for next := range ValidTaskStatuses {
			if cur.CanTransition(next) && !seen[next] {
				seen[next] = true
				queue = append(queue, next)
			}
		}
	}
	if len(seen) != len(ValidTaskStatuses) {
		t.Fatalf("expected all %d statuses reachable, got %v", len(ValidTaskStatuses), seen)
	}
}

func TestProjectApproval(t *testing.T) {
	pending := Project{Status: ProjectPending}
	if pending.Approved() {
		t.Fatalf("pending project must not be approved")
	}
	approved := Project{Status: ProjectApproved, IsApproved: true}
	if !approved.Approved() || approved.Archived() {
		t.Fatalf("expected approved, non-archived project")
	}
	archived := Project{Status: ProjectArchived, IsApproved: true}
	if !archived.Archived() {
		t.Fatalf("expected archived project")
	}
}
