package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/fatih/color"
)

var (
	app  = kingpin.New("planpath", "Project planning task engine CLI")
	addr = app.Flag("addr", "Server base URL").Default("http://localhost:3200").String()

	createCmd     = app.Command("create", "Create a custom task")
	createProject = createCmd.Arg("project", "Project ID").Required().String()
	createText    = createCmd.Arg("text", "Task text").Required().String()
	createStage   = createCmd.Flag("stage", "Lifecycle stage").Default("identification").String()
	createOwner   = createCmd.Flag("owner", "Task owner").String()

	listCmd     = app.Command("list", "List project tasks")
	listProject = listCmd.Arg("project", "Project ID").Required().String()

	showCmd     = app.Command("show", "Resolve and show a task by any reference")
	showProject = showCmd.Arg("project", "Project ID").Required().String()
	showRef     = showCmd.Arg("ref", "Task reference").Required().String()

	updateCmd       = app.Command("update", "Update a task (optimistic)")
	updateProject   = updateCmd.Arg("project", "Project ID").Required().String()
	updateRef       = updateCmd.Arg("ref", "Task reference").Required().String()
	updateText      = updateCmd.Flag("text", "New task text").String()
	updateStage     = updateCmd.Flag("stage", "New lifecycle stage").String()
	updateNotes     = updateCmd.Flag("notes", "New notes").String()
	updateOwner     = updateCmd.Flag("owner", "New owner").String()
	updateCompleted = updateCmd.Flag("completed", "Completion flag").Bool()
	updateReopen    = updateCmd.Flag("reopen", "Clear the completion flag").Bool()

	statusCmd     = app.Command("status", "Show sync status of a task update")
	statusProject = statusCmd.Arg("project", "Project ID").Required().String()
	statusTaskID  = statusCmd.Arg("task-id", "Task ID").Required().String()

	seedCmd     = app.Command("seed", "Seed a project from the template catalog")
	seedProject = seedCmd.Arg("project", "Project ID").Required().String()
)

func main() {
	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	var err error
	switch command {
	case createCmd.FullCommand():
		err = runCreate()
	case listCmd.FullCommand():
		err = runList()
	case showCmd.FullCommand():
		err = runShow()
	case updateCmd.FullCommand():
		err = runUpdate()
	case statusCmd.FullCommand():
		err = runStatus()
	case seedCmd.FullCommand():
		err = runSeed()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

type taskView struct {
	ID         string `json:"id"`
	Text       string `json:"text"`
	Stage      string `json:"stage"`
	Origin     string `json:"origin"`
	SourceID   string `json:"sourceId"`
	Completed  bool   `json:"completed"`
	Owner      string `json:"owner"`
	SyncStatus string `json:"syncStatus"`
}

func runCreate() error {
	body := map[string]string{
		"text":  *createText,
		"stage": *createStage,
		"owner": *createOwner,
	}
	var created taskView
	if err := call(http.MethodPost, fmt.Sprintf("/api/projects/%s/tasks", *createProject), body, &created); err != nil {
		return err
	}
	fmt.Printf("created %s\n", created.ID)
	return nil
}

func runList() error {
	var resp struct {
		Tasks []taskView `json:"tasks"`
	}
	if err := call(http.MethodGet, fmt.Sprintf("/api/projects/%s/tasks", *listProject), nil, &resp); err != nil {
		return err
	}
	for _, t := range resp.Tasks {
		mark := " "
		if t.Completed {
			mark = "x"
		}
		fmt.Printf("[%s] %-26s %-14s %s\n", mark, t.ID, t.Stage, t.Text)
	}
	return nil
}

func runShow() error {
	var resp struct {
		Task     taskView `json:"task"`
		Strategy string   `json:"strategy"`
	}
	if err := call(http.MethodGet, fmt.Sprintf("/api/projects/%s/tasks/%s", *showProject, *showRef), nil, &resp); err != nil {
		return err
	}
	fmt.Printf("id:        %s\n", resp.Task.ID)
	fmt.Printf("text:      %s\n", resp.Task.Text)
	fmt.Printf("stage:     %s\n", resp.Task.Stage)
	fmt.Printf("origin:    %s\n", resp.Task.Origin)
	if resp.Task.SourceID != "" {
		fmt.Printf("source:    %s\n", resp.Task.SourceID)
	}
	fmt.Printf("completed: %v\n", resp.Task.Completed)
	fmt.Printf("matched:   %s\n", resp.Strategy)
	return nil
}

func runUpdate() error {
	patch := map[string]any{}
	if *updateText != "" {
		patch["text"] = *updateText
	}
	if *updateStage != "" {
		patch["stage"] = *updateStage
	}
	if *updateNotes != "" {
		patch["notes"] = *updateNotes
	}
	if *updateOwner != "" {
		patch["owner"] = *updateOwner
	}
	if *updateCompleted {
		patch["completed"] = true
	}
	if *updateReopen {
		patch["completed"] = false
	}
	if len(patch) == 0 {
		return fmt.Errorf("nothing to update")
	}

	var optimistic taskView
	if err := call(http.MethodPut, fmt.Sprintf("/api/projects/%s/tasks/%s", *updateProject, *updateRef), patch, &optimistic); err != nil {
		return err
	}
	fmt.Printf("%s %s\n", optimistic.ID, colorStatus(optimistic.SyncStatus))
	return nil
}

func runStatus() error {
	var resp struct {
		TaskID string `json:"taskId"`
		Status string `json:"status"`
	}
	if err := call(http.MethodGet, fmt.Sprintf("/api/projects/%s/tasks/%s/sync", *statusProject, *statusTaskID), nil, &resp); err != nil {
		return err
	}
	fmt.Printf("%s %s\n", resp.TaskID, colorStatus(resp.Status))
	return nil
}

func runSeed() error {
	var resp struct {
		Created []taskView `json:"created"`
	}
	if err := call(http.MethodPost, fmt.Sprintf("/api/projects/%s/seed", *seedProject), map[string]string{}, &resp); err != nil {
		return err
	}
	fmt.Printf("seeded %d tasks\n", len(resp.Created))
	return nil
}

func colorStatus(status string) string {
	switch status {
	case "synced":
		return color.GreenString(status)
	case "pending", "syncing":
		return color.YellowString(status)
	case "failed":
		return color.RedString(status)
	default:
		return status
	}
}

func call(method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, *addr+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil && apiErr.Message != "" {
			return fmt.Errorf("%s: %s", apiErr.Code, apiErr.Message)
		}
		return fmt.Errorf("server returned %s", resp.Status)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
