package commands

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskmaster/tasklist/internal/domain/entities"
	"github.com/taskmaster/tasklist/internal/ports"
)

func sampleView() ports.TaskListResponse {
	base := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	return ports.NewTaskListResponse([]entities.Task{
		{ID: "aaaa1111", Title: "Older", CreatedAt: base, SubTasks: entities.SubTasks{
			{ID: "s1", Time: "9am-10am", Details: "Homework", IsCompleted: true},
			{ID: "s2", Time: "10am-11am", Details: "Reading"},
		}},
		{ID: "aaab2222", Title: "Newer", Description: "with notes", CreatedAt: base.Add(time.Hour)},
		{ID: "cccc3333", Title: "Finished", IsCompleted: true, CreatedAt: base.Add(2 * time.Hour)},
	}, false)
}

func TestResolveTask(t *testing.T) {
	view := sampleView()

	task, err := resolveTask(view, "1")
	require.NoError(t, err)
	assert.Equal(t, "Newer", task.Title)

	task, err = resolveTask(view, "cccc")
	require.NoError(t, err)
	assert.Equal(t, "Finished", task.Title)

	task, err = resolveTask(view, "aaaa1111")
	require.NoError(t, err)
	assert.Equal(t, "Older", task.Title)

	_, err = resolveTask(view, "aaa")
	assert.ErrorContains(t, err, "ambiguous")

	_, err = resolveTask(view, "zzz")
	assert.ErrorContains(t, err, "no task matches")
}

func TestResolveSubTask(t *testing.T) {
	_, err := resolveTask(sampleView(), "Older")
	require.Error(t, err, "titles are not task references")

	task, err := resolveTask(sampleView(), "2")
	require.NoError(t, err)

	id, err := resolveSubTask(task, "2")
	require.NoError(t, err)
	assert.Equal(t, "s2", id)

	id, err = resolveSubTask(task, "s1")
	require.NoError(t, err)
	assert.Equal(t, "s1", id)

	_, err = resolveSubTask(task, "9")
	assert.Error(t, err)
}

func TestPrintView(t *testing.T) {
	var buf bytes.Buffer
	printView(&buf, sampleView())

	out := buf.String()
	assert.Contains(t, out, " 1. [ ] Newer  [aaab2222]")
	assert.Contains(t, out, "      with notes")
	assert.Contains(t, out, " 2. [ ] Older (1/2)  [aaaa1111]")
	assert.Contains(t, out, "      1. [x] 9am-10am Homework")
	assert.Contains(t, out, " 3. [x] Finished  [cccc3333]")

	buf.Reset()
	printView(&buf, ports.TaskListResponse{})
	assert.Equal(t, "No tasks yet\n", buf.String())
}
