package verify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
)

// RunRequest is the body of POST /run on a verification agent.
type RunRequest struct {
	Name string `json:"name"`
	Flow string `json:"flow"`
}

// RunResponse is the agent's reply.
type RunResponse struct {
	Name    string `json:"name"`
	Success bool   `json:"success"`
	Output  string `json:"output"`
}

// Remote sends flows to an agent running next to a device.
type Remote struct {
	URL    string
	Client *http.Client
}

// Verify uploads the flow at path and waits for the agent's verdict.
func (r *Remote) Verify(ctx context.Context, path string) (string, error) {
	flow, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	body, _ := json.Marshal(RunRequest{Name: filepath.Base(path), Flow: string(flow)})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(r.URL, "/")+"/run", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	client := r.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Minute}
	}
	res, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("agent unreachable: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return "", fmt.Errorf("agent returned %s", res.Status)
	}
	var out RunResponse
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode agent response: %w", err)
	}
	if !out.Success {
		return out.Output, errors.New("flow failed on agent")
	}
	return out.Output, nil
}

// AgentHandler serves POST /run by writing the flow to workDir and running it
// through exec.
func AgentHandler(exec *Executor, workDir string, logger *zap.Logger) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/run", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var req RunRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		dir, err := os.MkdirTemp(workDir, "run-")
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		defer os.RemoveAll(dir)

		name := filepath.Base(req.Name)
		if name == "." || name == "/" || name == "" {
			name = "flow.yaml"
		}
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte(req.Flow), 0o644); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		logger.Info("agent running flow", zap.String("name", name))
		output, runErr := exec.Verify(r.Context(), path)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(RunResponse{Name: name, Success: runErr == nil, Output: output})
	})
	return mux
}
