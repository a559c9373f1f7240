package socket

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"
)

// Client connects to the slnfix daemon over a Unix socket.
type Client struct {
	sockPath string
}

// NewClient creates a client that will connect to the given socket path.
func NewClient(sockPath string) *Client {
	return &Client{sockPath: sockPath}
}

// Fix asks the daemon for a full pass and waits for its summary.
func (c *Client) Fix() (*FixResult, error) {
	var result FixResult
	if err := c.do(MethodFix, nil, &result, 120*time.Second); err != nil {
		return nil, err
	}
	return &result, nil
}

// Status sends a status request.
func (c *Client) Status() (*StatusResult, error) {
	var result StatusResult
	if err := c.do(MethodStatus, nil, &result, 5*time.Second); err != nil {
		return nil, err
	}
	return &result, nil
}

// History returns up to limit journal records, newest first.
func (c *Client) History(limit int) (*HistoryResult, error) {
	var result HistoryResult
	if err := c.do(MethodHistory, HistoryParams{Limit: limit}, &result, 5*time.Second); err != nil {
		return nil, err
	}
	return &result, nil
}

// Reload asks the daemon to re-read its config and restart the watch.
func (c *Client) Reload() (*ReloadResult, error) {
	var result ReloadResult
	if err := c.do(MethodReload, nil, &result, 30*time.Second); err != nil {
		return nil, err
	}
	return &result, nil
}

// Shutdown sends a shutdown request to the daemon.
func (c *Client) Shutdown() error {
	_, err := c.call(Request{
		ID:     uuid.NewString(),
		Method: MethodShutdown,
	})
	return err
}

// Ping checks if the daemon is reachable.
func (c *Client) Ping() bool {
	conn, err := net.DialTimeout("unix", c.sockPath, 500*time.Millisecond)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// do sends method with params and decodes the result into out.
func (c *Client) do(method string, params interface{}, out interface{}, timeout time.Duration) error {
	resp, err := c.callWithTimeout(Request{
		ID:     uuid.NewString(),
		Method: method,
		Params: params,
	}, timeout)
	if err != nil {
		return err
	}

	resultJSON, err := json.Marshal(resp.Result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	if err := json.Unmarshal(resultJSON, out); err != nil {
		return fmt.Errorf("unmarshal result: %w", err)
	}
	return nil
}

func (c *Client) call(req Request) (*Response, error) {
	return c.callWithTimeout(req, 5*time.Second)
}

func (c *Client) callWithTimeout(req Request, timeout time.Duration) (*Response, error) {
	conn, err := net.DialTimeout("unix", c.sockPath, 2*time.Second)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	defer conn.Close()

	// Deadline covers the whole request/response
	conn.SetDeadline(time.Now().Add(timeout))

	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	data = append(data, '\n')
	if _, err := conn.Write(data); err != nil {
		return nil, fmt.Errorf("write: %w", err)
	}

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("read: %w", err)
		}
		return nil, fmt.Errorf("empty response")
	}

	var resp Response
	if err := json.Unmarshal(scanner.Bytes(), &resp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	if resp.ID != req.ID && resp.ID != "" {
		return nil, fmt.Errorf("response id %q does not match request %q", resp.ID, req.ID)
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("server error: %s", resp.Error)
	}
	return &resp, nil
}
