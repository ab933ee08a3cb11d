package indexer

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStateManagerStartsIdle(t *testing.T) {
	m := NewStateManager()
	s := m.Status()
	assert.Equal(t, StatusIdle, s.Status)
	assert.Zero(t, s.Progress)
}

func TestSetActiveStageMerges(t *testing.T) {
	m := NewStateManager()

	m.SetActiveStage(ActiveUpdate{Stage: "fast_text", Detail: "parsing", Progress: ptrFloat(10)})
	m.SetActiveStage(ActiveUpdate{Progress: ptrFloat(55)})

	s := m.Status()
	assert.Equal(t, "fast_text", s.ActiveStage)
	assert.Equal(t, "parsing", s.Detail)
	assert.Equal(t, 55.0, s.Progress)
}

func TestProgressClamped(t *testing.T) {
	m := NewStateManager()
	m.SetActiveStage(ActiveUpdate{Progress: ptrFloat(150)})
	assert.Equal(t, 100.0, m.Status().Progress)
	m.SetActiveStage(ActiveUpdate{Progress: ptrFloat(-5)})
	assert.Equal(t, 0.0, m.Status().Progress)
}

func TestResetActiveStateKeepsStatus(t *testing.T) {
	m := NewStateManager()
	m.SetStatus(StatusRunning, "")
	m.SetActiveStage(ActiveUpdate{Stage: "deep_vision", Progress: ptrFloat(30), StepCurrent: ptrInt(2), StepTotal: ptrInt(5)})

	m.ResetActiveState()

	s := m.Status()
	assert.Equal(t, StatusRunning, s.Status)
	assert.Empty(t, s.ActiveStage)
	assert.Zero(t, s.Progress)
	assert.Zero(t, s.StepCurrent)
	assert.Zero(t, s.StepTotal)
}

func TestSetErrorThenStatusClears(t *testing.T) {
	m := NewStateManager()
	m.SetError("boom")
	assert.Equal(t, StatusError, m.Status().Status)
	assert.Equal(t, "boom", m.Status().LastError)

	m.SetStatus(StatusIdle, "")
	assert.Empty(t, m.Status().LastError)
}

func TestStateManagerConcurrentWriters(t *testing.T) {
	m := NewStateManager()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				m.SetActiveStage(ActiveUpdate{Progress: ptrFloat(float64(j))})
				_ = m.Status()
			}
		}(i)
	}
	wg.Wait()

	p := m.Status().Progress
	assert.GreaterOrEqual(t, p, 0.0)
	assert.LessOrEqual(t, p, 100.0)
}
