//go:build integration

package integration_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"testing"
)

type taskJSON struct {
	Cell struct {
		Row int `json:"row"`
		Col int `json:"col"`
	} `json:"cell"`
	Prompt string `json:"prompt"`
}

type evaluateJSON struct {
	Status string `json:"status"`
	Text   string `json:"text"`
}

func postEvaluate(t *testing.T, row, col int, prompt string) evaluateJSON {
	t.Helper()
	body, _ := json.Marshal(map[string]any{
		"cell":   map[string]int{"row": row, "col": col},
		"prompt": prompt,
	})

	resp, err := http.Post(testServer.URL+"/v1/evaluate", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("evaluate (%d,%d): %v", row, col, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("evaluate (%d,%d): expected 200, got %d", row, col, resp.StatusCode)
	}

	var out evaluateJSON
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode evaluate response: %v", err)
	}
	return out
}

func listTasks(t *testing.T) []taskJSON {
	t.Helper()
	resp, err := http.Get(testServer.URL + "/v1/tasks")
	if err != nil {
		t.Fatalf("list tasks: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list tasks: expected 200, got %d", resp.StatusCode)
	}

	var tasks []taskJSON
	if err := json.NewDecoder(resp.Body).Decode(&tasks); err != nil {
		t.Fatalf("decode task list: %v", err)
	}
	return tasks
}

func deleteTask(t *testing.T, path string) int {
	t.Helper()
	req, err := http.NewRequest(http.MethodDelete, testServer.URL+path, http.NoBody)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE %s: %v", path, err)
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode
}

func TestTaskLifecycle(t *testing.T) {
	// Clean before this test
	cleanDB(testPool)

	// 1. List tasks: should be empty
	if tasks := listTasks(t); len(tasks) != 0 {
		t.Fatalf("expected 0 tasks, got %d", len(tasks))
	}

	// 2. Evaluate two cells with the scheduler stopped: both get the
	// advisory and a durable task, enqueued out of row order.
	out := postEvaluate(t, 9, 1, "ninth question")
	if out.Status != "not_started" {
		t.Fatalf("expected not_started, got %q", out.Status)
	}
	if out.Text != "Start the GenAI process from the add-on menu to compute this cell." {
		t.Fatalf("unexpected advisory text: %q", out.Text)
	}
	postEvaluate(t, 2, 1, "second question")

	// 3. The list comes back in row order regardless of arrival order
	tasks := listTasks(t)
	if len(tasks) != 2 {
		t.Fatalf("expected 2 tasks, got %d", len(tasks))
	}
	if tasks[0].Cell.Row != 2 || tasks[1].Cell.Row != 9 {
		t.Fatalf("expected rows [2 9], got [%d %d]", tasks[0].Cell.Row, tasks[1].Cell.Row)
	}

	// 4. Re-evaluating a queued cell replaces its task instead of adding one
	postEvaluate(t, 2, 1, "second question, reworded")
	tasks = listTasks(t)
	if len(tasks) != 2 {
		t.Fatalf("expected upsert to keep 2 tasks, got %d", len(tasks))
	}
	if tasks[0].Prompt != "second question, reworded" {
		t.Fatalf("expected replaced prompt, got %q", tasks[0].Prompt)
	}

	// 5. Delete one task
	if code := deleteTask(t, "/v1/tasks/9/1"); code != http.StatusNoContent {
		t.Fatalf("delete: expected 204, got %d", code)
	}
	if tasks := listTasks(t); len(tasks) != 1 {
		t.Fatalf("expected 1 task after delete, got %d", len(tasks))
	}

	// 6. Deleting it again is idempotent
	if code := deleteTask(t, "/v1/tasks/9/1"); code != http.StatusNoContent {
		t.Fatalf("repeat delete: expected 204, got %d", code)
	}
}

func TestEvaluateWhileRunningReturnsAnswer(t *testing.T) {
	cleanDB(testPool)
	markRunning(t)

	out := postEvaluate(t, 4, 2, "capital of France?")
	if out.Status != "ok" {
		t.Fatalf("expected ok, got %q (%q)", out.Status, out.Text)
	}
	if out.Text != "Paris" {
		t.Fatalf("expected Paris, got %q", out.Text)
	}

	// A successful answer removes the cell's task
	if tasks := listTasks(t); len(tasks) != 0 {
		t.Fatalf("expected no tasks after answer, got %d", len(tasks))
	}
}
