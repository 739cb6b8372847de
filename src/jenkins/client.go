// Package jenkins provides a client for interacting with a Jenkins server's
// remote API.
package jenkins

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a Jenkins API client for one configured server.
type Client struct {
	baseURL    string
	username   string
	password   string
	httpClient *http.Client
}

// JobInfo describes a job as reported by the Jenkins API.
type JobInfo struct {
	Name        string `json:"name"`
	URL         string `json:"url"`
	Color       string `json:"color"`
	Description string `json:"description"`
	Buildable   bool   `json:"buildable"`
}

// Plugin describes an installed Jenkins plugin.
type Plugin struct {
	ShortName string `json:"shortName"`
	LongName  string `json:"longName"`
	Version   string `json:"version"`
	Enabled   bool   `json:"enabled"`
}

// BuildDetails describes one run of a job as reported by the Jenkins API.
type BuildDetails struct {
	Number    int               `json:"number"`
	URL       string            `json:"url"`
	Result    string            `json:"result"`
	Duration  int64             `json:"duration"`
	Artifacts []ArtifactDetails `json:"artifacts"`
}

// ArtifactDetails describes one archived artifact of a build.
type ArtifactDetails struct {
	FileName     string `json:"fileName"`
	RelativePath string `json:"relativePath"`
}

// DownloadURL returns the absolute URL an artifact can be fetched from,
// given the build's own URL.
func (a ArtifactDetails) DownloadURL(buildURL string) string {
	return strings.TrimRight(buildURL, "/") + "/artifact/" + a.RelativePath
}

// NewClient creates a new Jenkins API client using basic authentication.
func NewClient(baseURL, username, password string) *Client {
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		username: username,
		password: password,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (c *Client) newRequest(ctx context.Context, method, url string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.SetBasicAuth(c.username, c.password)
	return req, nil
}

// TriggerBuild asks Jenkins to queue a run of the named job with the given
// parameters. Success means the run was accepted for queuing, not that it
// completed.
func (c *Client) TriggerBuild(ctx context.Context, jobName string, params map[string]string) error {
	endpoint := fmt.Sprintf("%s/job/%s/build", c.baseURL, url.PathEscape(jobName))
	var body io.Reader
	if len(params) > 0 {
		endpoint = fmt.Sprintf("%s/job/%s/buildWithParameters", c.baseURL, url.PathEscape(jobName))
		form := url.Values{}
		for key, value := range params {
			form.Set(key, value)
		}
		body = strings.NewReader(form.Encode())
	}

	req, err := c.newRequest(ctx, "POST", endpoint, body)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	// Jenkins answers 201 Created with a queue item location.
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("trigger failed with status %d: %s", resp.StatusCode, string(respBody))
	}

	return nil
}

// GetJob fetches a job's metadata from the Jenkins API.
func (c *Client) GetJob(ctx context.Context, jobName string) (*JobInfo, error) {
	endpoint := fmt.Sprintf("%s/job/%s/api/json", c.baseURL, url.PathEscape(jobName))

	req, err := c.newRequest(ctx, "GET", endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, string(respBody))
	}

	var info JobInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	return &info, nil
}

// ListPlugins fetches the plugins installed on the server.
func (c *Client) ListPlugins(ctx context.Context) ([]Plugin, error) {
	endpoint := fmt.Sprintf("%s/pluginManager/api/json?depth=1", c.baseURL)

	req, err := c.newRequest(ctx, "GET", endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, string(respBody))
	}

	var payload struct {
		Plugins []Plugin `json:"plugins"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	return payload.Plugins, nil
}

// CreateJob creates a new job from a config.xml document.
func (c *Client) CreateJob(ctx context.Context, jobName, configXML string) error {
	endpoint := fmt.Sprintf("%s/createItem?name=%s", c.baseURL, url.QueryEscape(jobName))

	req, err := c.newRequest(ctx, "POST", endpoint, strings.NewReader(configXML))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/xml")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("create job failed with status %d: %s", resp.StatusCode, string(respBody))
	}

	return nil
}

// UpdateJobConfig replaces an existing job's config.xml document.
func (c *Client) UpdateJobConfig(ctx context.Context, jobName, configXML string) error {
	endpoint := fmt.Sprintf("%s/job/%s/config.xml", c.baseURL, url.PathEscape(jobName))

	req, err := c.newRequest(ctx, "POST", endpoint, strings.NewReader(configXML))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/xml")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("update job config failed with status %d: %s", resp.StatusCode, string(respBody))
	}

	return nil
}

// GetBuildDetails fetches the details of one run of a job, including its
// duration and archived artifacts.
func (c *Client) GetBuildDetails(ctx context.Context, jobName string, number int) (*BuildDetails, error) {
	endpoint := fmt.Sprintf("%s/job/%s/%d/api/json", c.baseURL, url.PathEscape(jobName), number)

	req, err := c.newRequest(ctx, "GET", endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, string(respBody))
	}

	var details BuildDetails
	if err := json.NewDecoder(resp.Body).Decode(&details); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	return &details, nil
}

// GetBuildConsole fetches the console output of one run of a job.
func (c *Client) GetBuildConsole(ctx context.Context, jobName string, number int) (string, error) {
	endpoint := fmt.Sprintf("%s/job/%s/%d/consoleText", c.baseURL, url.PathEscape(jobName), number)

	req, err := c.newRequest(ctx, "GET", endpoint, nil)
	if err != nil {
		return "", err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, string(respBody))
	}

	console, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read console output: %w", err)
	}
	return string(console), nil
}

// OpenArtifact opens a stream to an artifact's content. The caller must
// close the returned reader.
func (c *Client) OpenArtifact(ctx context.Context, downloadURL string) (io.ReadCloser, error) {
	req, err := c.newRequest(ctx, "GET", downloadURL, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, fmt.Errorf("download failed with status %d: %s", resp.StatusCode, string(respBody))
	}

	return resp.Body, nil
}
