package livelink

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeScene struct {
	mu      sync.RWMutex
	objects map[string]bool
}

func newFakeScene(names ...string) *fakeScene {
	s := &fakeScene{objects: make(map[string]bool)}
	for _, name := range names {
		s.objects[name] = true
	}
	return s
}

func (s *fakeScene) HasObject(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.objects[name]
}

func (s *fakeScene) remove(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, name)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestRegistry(names ...string) *Registry {
	return NewRegistry(testLogger(), newFakeScene(names...))
}

func TestRegistry_AddThenListContainsNameOnce(t *testing.T) {
	reg := newTestRegistry("MyCharacter")

	require.NoError(t, reg.AddStreamObject("MyCharacter"))
	assert.Equal(t, []string{"MyCharacter"}, reg.GetStreamObjects())
}

func TestRegistry_RemoveAfterAdd(t *testing.T) {
	reg := newTestRegistry("MyCharacter")

	require.NoError(t, reg.AddStreamObject("MyCharacter"))
	require.NoError(t, reg.RemoveStreamObject("MyCharacter"))
	assert.Empty(t, reg.GetStreamObjects())

	err := reg.RemoveStreamObject("MyCharacter")
	assert.ErrorIs(t, err, ErrNotStreaming)
}

func TestRegistry_DuplicateAdd(t *testing.T) {
	reg := newTestRegistry("X")

	require.NoError(t, reg.AddStreamObject("X"))
	err := reg.AddStreamObject("X")

	assert.ErrorIs(t, err, ErrAlreadyStreaming)
	assert.Equal(t, []string{"X"}, reg.GetStreamObjects())
}

func TestRegistry_EmptyName(t *testing.T) {
	reg := newTestRegistry("X")
	require.NoError(t, reg.AddStreamObject("X"))

	for _, name := range []string{"", "   "} {
		err := reg.AddStreamObject(name)
		assert.ErrorIs(t, err, ErrEmptyName, "name %q", name)
	}
	assert.Equal(t, []string{"X"}, reg.GetStreamObjects())
}

func TestRegistry_UnknownObject(t *testing.T) {
	reg := newTestRegistry("Camera001")

	err := reg.AddStreamObject("Ghost")
	assert.ErrorIs(t, err, ErrObjectNotFound)
	assert.Contains(t, err.Error(), "Ghost")
	assert.Empty(t, reg.GetStreamObjects())
}

func TestRegistry_OrderIgnoresFailedCalls(t *testing.T) {
	reg := newTestRegistry("A", "B", "C")

	require.NoError(t, reg.AddStreamObject("B"))
	assert.Error(t, reg.AddStreamObject("Ghost"))
	require.NoError(t, reg.AddStreamObject("A"))
	assert.Error(t, reg.AddStreamObject("B"))
	assert.Error(t, reg.RemoveStreamObject("C"))
	assert.Error(t, reg.AddStreamObject(""))
	require.NoError(t, reg.AddStreamObject("C"))

	assert.Equal(t, []string{"B", "A", "C"}, reg.GetStreamObjects())
}

func TestRegistry_Scenarios(t *testing.T) {
	t.Run("camera and light", func(t *testing.T) {
		reg := newTestRegistry("Camera001", "Light001")

		require.NoError(t, reg.AddStreamObject("Camera001"))
		require.NoError(t, reg.AddStreamObject("Light001"))
		require.NoError(t, reg.RemoveStreamObject("Camera001"))

		assert.Equal(t, []string{"Light001"}, reg.GetStreamObjects())
	})

	t.Run("double add", func(t *testing.T) {
		reg := newTestRegistry("X")

		require.NoError(t, reg.AddStreamObject("X"))
		assert.ErrorIs(t, reg.AddStreamObject("X"), ErrAlreadyStreaming)

		assert.Equal(t, []string{"X"}, reg.GetStreamObjects())
	})

	t.Run("remove ghost from empty set", func(t *testing.T) {
		reg := newTestRegistry()

		assert.ErrorIs(t, reg.RemoveStreamObject("Ghost"), ErrNotStreaming)
		assert.Equal(t, []string{}, reg.GetStreamObjects())
	})
}

func TestRegistry_ReAddAfterRemoveGoesToEnd(t *testing.T) {
	reg := newTestRegistry("A", "B")

	require.NoError(t, reg.AddStreamObject("A"))
	require.NoError(t, reg.AddStreamObject("B"))
	require.NoError(t, reg.RemoveStreamObject("A"))
	require.NoError(t, reg.AddStreamObject("A"))

	assert.Equal(t, []string{"B", "A"}, reg.GetStreamObjects())

	members := reg.Members()
	require.Len(t, members, 2)
	assert.Greater(t, members[1].UID, members[0].UID, "re-added object gets a fresh uid")
}

func TestRegistry_RemoveDoesNotRequireSceneObject(t *testing.T) {
	scene := newFakeScene("Character_Root")
	reg := NewRegistry(testLogger(), scene)

	require.NoError(t, reg.AddStreamObject("Character_Root"))
	scene.remove("Character_Root")

	require.NoError(t, reg.RemoveStreamObject("Character_Root"))
	assert.Empty(t, reg.GetStreamObjects())
}

func TestRegistry_ListIsSnapshot(t *testing.T) {
	reg := newTestRegistry("A", "B")
	require.NoError(t, reg.AddStreamObject("A"))

	snapshot := reg.GetStreamObjects()
	require.NoError(t, reg.AddStreamObject("B"))
	require.NoError(t, reg.RemoveStreamObject("A"))
	snapshot[0] = "mutated"

	assert.Equal(t, []string{"B"}, reg.GetStreamObjects())
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	const workers = 8
	const perWorker = 50

	names := make([]string, 0, workers*perWorker)
	for w := 0; w < workers; w++ {
		for i := 0; i < perWorker; i++ {
			names = append(names, fmt.Sprintf("obj_%d_%d", w, i))
		}
	}
	reg := newTestRegistry(names...)

	var wg sync.WaitGroup
	wg.Add(workers + 1)

	stop := make(chan struct{})
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			seen := make(map[string]bool)
			for _, name := range reg.GetStreamObjects() {
				if seen[name] {
					t.Errorf("duplicate %q in snapshot", name)
					return
				}
				seen[name] = true
			}
		}
	}()

	var workersWG sync.WaitGroup
	workersWG.Add(workers)
	for w := 0; w < workers; w++ {
		go func(w int) {
			defer wg.Done()
			defer workersWG.Done()
			for i := 0; i < perWorker; i++ {
				name := fmt.Sprintf("obj_%d_%d", w, i)
				assert.NoError(t, reg.AddStreamObject(name))
				// every object added twice, only one may win
				assert.ErrorIs(t, reg.AddStreamObject(name), ErrAlreadyStreaming)
				if i%2 == 0 {
					assert.NoError(t, reg.RemoveStreamObject(name))
				}
			}
		}(w)
	}

	workersWG.Wait()
	close(stop)
	wg.Wait()

	assert.Equal(t, workers*perWorker/2, reg.Len())
}

func TestErrorCode(t *testing.T) {
	tests := []struct {
		err  error
		code string
	}{
		{nil, ""},
		{ErrEmptyName, "empty"},
		{fmt.Errorf("%w: Ghost", ErrObjectNotFound), "not_found"},
		{fmt.Errorf("%w: X", ErrAlreadyStreaming), "already_present"},
		{fmt.Errorf("%w: X", ErrNotStreaming), "not_present"},
		{ErrDeviceNotInitialized, "device_not_initialized"},
		{io.EOF, "internal"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.code, ErrorCode(tt.err))
	}
}
