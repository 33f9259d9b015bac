package task

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInner_SetStatus(t *testing.T) {
	all := []Status{StatusUnInit, StatusReady, StatusRunning, StatusZombie}
	legal := map[[2]Status]bool{
		{StatusUnInit, StatusReady}:   true,
		{StatusReady, StatusRunning}:  true,
		{StatusRunning, StatusReady}:  true,
		{StatusRunning, StatusZombie}: true,
	}
	for _, from := range all {
		for _, to := range all {
			inner := &Inner{Status: from}
			name := from.String() + "->" + to.String()
			t.Run(name, func(t *testing.T) {
				if legal[[2]Status{from, to}] {
					inner.SetStatus(to)
					assert.Equal(t, to, inner.Status)
					return
				}
				assert.Panics(t, func() { inner.SetStatus(to) })
			})
		}
	}
}
