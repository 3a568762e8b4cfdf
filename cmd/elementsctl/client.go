package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

type client struct {
	base   string
	token  string
	http   *http.Client
	out    io.Writer
	errOut io.Writer
}

func newClient(cmd *cobra.Command) *client {
	addr, _ := cmd.Flags().GetString("addr")
	token, _ := cmd.Flags().GetString("token")
	return &client{
		base:  strings.TrimRight(addr, "/") + "/api/v1",
		token: token,
		// reveals wait for a receipt
		http:   &http.Client{Timeout: 3 * time.Minute},
		out:    cmd.OutOrStdout(),
		errOut: cmd.ErrOrStderr(),
	}
}

type apiError struct {
	Error string `json:"error"`
	Code  int    `json:"code"`
}

// do sends body as JSON and returns the raw response
func (c *client) do(method, path string, body any) ([]byte, error) {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, c.base+path, rd)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request elementsd: %w", err)
	}
	defer resp.Body.Close()

	out, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		var apiErr apiError
		if json.Unmarshal(out, &apiErr) == nil && apiErr.Error != "" {
			return nil, fmt.Errorf("%s (%d)", apiErr.Error, resp.StatusCode)
		}
		return nil, fmt.Errorf("elementsd returned %s", resp.Status)
	}
	if resp.StatusCode == http.StatusAccepted {
		fmt.Fprintln(c.errOut, "warning: the game was submitted but its secret was not stored; keep the secret below")
	}
	return out, nil
}

func (c *client) print(method, path string, body any) error {
	out, err := c.do(method, path, body)
	if err != nil {
		return err
	}
	return printJSON(c.out, out)
}

func printJSON(w io.Writer, raw []byte) error {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		_, err = w.Write(raw)
		return err
	}
	buf.WriteByte('\n')
	_, err := buf.WriteTo(w)
	return err
}
