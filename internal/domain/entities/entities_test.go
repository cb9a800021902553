package entities

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func titles(tasks []Task) []string {
	out := make([]string, 0, len(tasks))
	for _, task := range tasks {
		out = append(out, task.Title)
	}
	return out
}

func TestOrderForDisplay(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	tasks := []Task{
		{ID: "a", Title: "A", CreatedAt: base},
		{ID: "b", Title: "B", CreatedAt: base.Add(time.Minute)},
		{ID: "c", Title: "C", CreatedAt: base.Add(2 * time.Minute)},
	}

	assert.Equal(t, []string{"C", "B", "A"}, titles(OrderForDisplay(tasks)))
	assert.Equal(t, []string{"A", "B", "C"}, titles(tasks), "input must not be reordered")

	tasks[2].IsCompleted = true
	assert.Equal(t, []string{"B", "A", "C"}, titles(OrderForDisplay(tasks)))

	assert.Empty(t, OrderForDisplay(nil))
}

func TestSortByCreation(t *testing.T) {
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	tasks := []Task{
		{ID: "z", Title: "late", CreatedAt: at.Add(time.Second)},
		{ID: "b", Title: "tie-b", CreatedAt: at},
		{ID: "a", Title: "tie-a", CreatedAt: at},
	}

	SortByCreation(tasks)
	assert.Equal(t, []string{"tie-a", "tie-b", "late"}, titles(tasks))
}

func TestTask_SubTaskEdits(t *testing.T) {
	task := Task{SubTasks: SubTasks{
		{ID: "1", Time: "9am", Details: "one"},
		{ID: "2", Time: "10am", Details: "two"},
		{ID: "3", Time: "11am", Details: "three"},
	}}

	require.NoError(t, task.ToggleSubTask("2"))
	done, total := task.SubTaskProgress()
	assert.Equal(t, 1, done)
	assert.Equal(t, 3, total)

	require.NoError(t, task.ToggleSubTask("2"))
	assert.False(t, task.SubTasks[1].IsCompleted)

	require.NoError(t, task.RemoveSubTask("2"))
	require.Len(t, task.SubTasks, 2)
	assert.Equal(t, "1", task.SubTasks[0].ID)
	assert.Equal(t, "3", task.SubTasks[1].ID)

	assert.ErrorIs(t, task.ToggleSubTask("missing"), ErrSubTaskNotFound)
	assert.ErrorIs(t, task.RemoveSubTask("missing"), ErrSubTaskNotFound)
	assert.True(t, IsNotFound(task.RemoveSubTask("missing")))
}

func TestTask_CloneIsDeep(t *testing.T) {
	task := Task{ID: "t", SubTasks: SubTasks{{ID: "1"}}}
	clone := task.Clone()
	clone.SubTasks[0].IsCompleted = true

	assert.False(t, task.SubTasks[0].IsCompleted)
}

func TestSubTasks_ScanAndValue(t *testing.T) {
	value, err := SubTasks(nil).Value()
	require.NoError(t, err)

	var empty SubTasks
	require.NoError(t, empty.Scan(value))
	assert.NotNil(t, empty)
	assert.Empty(t, empty)

	var fromNull SubTasks
	require.NoError(t, fromNull.Scan(nil))
	assert.Empty(t, fromNull)

	var parsed SubTasks
	require.NoError(t, parsed.Scan(`[{"id":"1","time":"9am","details":"x","isCompleted":true}]`))
	require.Len(t, parsed, 1)
	assert.True(t, parsed[0].IsCompleted)

	var bad SubTasks
	assert.Error(t, bad.Scan(42))
	assert.Error(t, bad.Scan([]byte("{")))
}

func TestIsBlank(t *testing.T) {
	assert.True(t, IsBlank(""))
	assert.True(t, IsBlank(" \t\n"))
	assert.False(t, IsBlank(" x "))
}

func TestErrorHelpers(t *testing.T) {
	assert.Nil(t, NewPersistenceError("op", nil))

	err := NewPersistenceError("add_task", ErrTaskNotFound)
	assert.True(t, IsPersistenceError(err))
	assert.ErrorIs(t, err, ErrTaskNotFound)
	assert.False(t, IsAuthError(err))

	assert.True(t, IsAuthError(NewAuthError("nope")))
}
