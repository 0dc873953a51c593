// Command report_smoke drives the full report lifecycle against a running
// API instance: login, create a job, enqueue it, poll until it settles and
// fetch the export through its signed URL. Exits non-zero when the job fails
// or does not settle within the deadline.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"time"
)

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type loginData struct {
	AccessToken string `json:"access_token"`
}

type jobData struct {
	ID             string            `json:"id"`
	Status         string            `json:"status"`
	OutputLocation *string           `json:"output_location"`
	ErrorMessage   *string           `json:"error_message"`
	Filters        map[string]string `json:"filters"`
}

type client struct {
	base  string
	token string
	http  *http.Client
}

func main() {
	var (
		base       string
		email      string
		password   string
		reportType string
		format     string
		community  string
		programID  string
		startDate  string
		endDate    string
		timeout    time.Duration
		interval   time.Duration
	)

	flag.StringVar(&base, "base", "http://localhost:8080/api/v1", "API base URL including prefix")
	flag.StringVar(&email, "email", "", "login email")
	flag.StringVar(&password, "password", "", "login password")
	flag.StringVar(&reportType, "type", "financial_summary", "report type")
	flag.StringVar(&format, "format", "csv", "report format (csv or pdf)")
	flag.StringVar(&community, "community", "", "community_name filter")
	flag.StringVar(&programID, "program", "", "program_id filter")
	flag.StringVar(&startDate, "start", "", "start_date filter (YYYY-MM-DD)")
	flag.StringVar(&endDate, "end", "", "end_date filter (YYYY-MM-DD)")
	flag.DurationVar(&timeout, "timeout", 2*time.Minute, "deadline for the job to settle")
	flag.DurationVar(&interval, "interval", 2*time.Second, "polling interval")
	flag.Parse()

	if email == "" || password == "" {
		log.Fatal("both -email and -password are required")
	}

	c := &client{base: strings.TrimRight(base, "/"), http: &http.Client{Timeout: 15 * time.Second}}

	if err := c.login(email, password); err != nil {
		log.Fatalf("login failed: %v", err)
	}

	filters := map[string]string{}
	if community != "" {
		filters["community_name"] = community
	}
	if programID != "" {
		filters["program_id"] = programID
	}
	if startDate != "" {
		filters["start_date"] = startDate
	}
	if endDate != "" {
		filters["end_date"] = endDate
	}

	job, err := c.createJob(reportType, format, filters)
	if err != nil {
		log.Fatalf("create job failed: %v", err)
	}
	fmt.Printf("created job %s (%s/%s)\n", job.ID, reportType, format)

	if err := c.enqueue(job.ID); err != nil {
		log.Fatalf("enqueue failed: %v", err)
	}

	settled, err := c.waitForSettle(job.ID, timeout, interval)
	if err != nil {
		log.Fatalf("poll failed: %v", err)
	}

	switch settled.Status {
	case "completed":
		if settled.OutputLocation == nil {
			log.Fatal("job completed without an output location")
		}
		size, err := c.download(*settled.OutputLocation)
		if err != nil {
			log.Fatalf("download failed: %v", err)
		}
		fmt.Printf("job %s completed, export is %d bytes\n", settled.ID, size)
	case "failed":
		msg := "unknown"
		if settled.ErrorMessage != nil {
			msg = *settled.ErrorMessage
		}
		fmt.Printf("job %s failed: %s\n", settled.ID, msg)
		os.Exit(1)
	default:
		fmt.Printf("job %s did not settle within %s (status %s)\n", settled.ID, timeout, settled.Status)
		os.Exit(1)
	}
}

func (c *client) login(email, password string) error {
	payload := map[string]string{"email": email, "password": password}
	var data loginData
	if err := c.do(http.MethodPost, "/auth/login", payload, &data); err != nil {
		return err
	}
	if data.AccessToken == "" {
		return fmt.Errorf("login response carried no access token")
	}
	c.token = data.AccessToken
	return nil
}

func (c *client) createJob(reportType, format string, filters map[string]string) (*jobData, error) {
	payload := map[string]interface{}{
		"type":    reportType,
		"format":  format,
		"filters": filters,
	}
	var job jobData
	if err := c.do(http.MethodPost, "/reports", payload, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

func (c *client) enqueue(id string) error {
	return c.do(http.MethodPost, "/reports/"+id+"/enqueue", nil, nil)
}

func (c *client) getJob(id string) (*jobData, error) {
	var job jobData
	if err := c.do(http.MethodGet, "/reports/"+id, nil, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

func (c *client) waitForSettle(id string, timeout, interval time.Duration) (*jobData, error) {
	deadline := time.Now().Add(timeout)
	var last *jobData
	for time.Now().Before(deadline) {
		job, err := c.getJob(id)
		if err != nil {
			return nil, err
		}
		last = job
		if job.Status == "completed" || job.Status == "failed" {
			return job, nil
		}
		fmt.Printf("job %s is %s, waiting...\n", id, job.Status)
		time.Sleep(interval)
	}
	return last, nil
}

// download follows the signed URL returned on the completed job. The path is
// already token-authenticated, so no Authorization header is needed.
func (c *client) download(location string) (int64, error) {
	url := location
	if strings.HasPrefix(location, "/") {
		root := c.base
		if idx := strings.Index(root, "/api/"); idx > 0 {
			root = root[:idx]
		}
		url = root + location
	}
	resp, err := c.http.Get(url)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("unexpected download status %d", resp.StatusCode)
	}
	return io.Copy(io.Discard, resp.Body)
}

func (c *client) do(method, path string, payload interface{}, out interface{}) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, c.base+path, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	var env envelope
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &env); err != nil {
			return fmt.Errorf("decode response (%d): %w", resp.StatusCode, err)
		}
	}
	if resp.StatusCode >= 400 {
		if env.Error != nil {
			return fmt.Errorf("%s %s: %s (%s)", method, path, env.Error.Message, env.Error.Code)
		}
		return fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode)
	}
	if out != nil && env.Data != nil {
		return json.Unmarshal(env.Data, out)
	}
	return nil
}
