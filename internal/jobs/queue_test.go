package jobs

import (
	"fmt"
	"testing"

	"github.com/hibiken/asynq"
)

func TestIsTaskConflict(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"duplicate sentinel", asynq.ErrDuplicateTask, true},
		{"id conflict sentinel", asynq.ErrTaskIDConflict, true},
		{"wrapped sentinel", fmt.Errorf("enqueue: %w", asynq.ErrTaskIDConflict), true},
		{"string only", fmt.Errorf("cannot enqueue: task ID conflicts with another task"), true},
		{"unrelated", fmt.Errorf("redis: connection refused"), false},
	}
	for _, tc := range cases {
		if got := isTaskConflict(tc.err); got != tc.want {
			t.Errorf("%s: isTaskConflict = %v, want %v", tc.name, got, tc.want)
		}
	}
}
