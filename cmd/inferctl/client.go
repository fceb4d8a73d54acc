package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"inferd/pkg/types"
)

// client is a thin HTTP wrapper over the daemon API.
type client struct {
	base string
	http *http.Client
}

func newClient(base string) *client {
	return &client{base: strings.TrimRight(base, "/"), http: &http.Client{}}
}

func (c *client) do(method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, c.base+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return decodeAPIError(resp)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

// generate streams NDJSON token lines to stdout and returns the final
// summary line.
func (c *client) generate(id string, req types.GenerateRequest) (types.StreamChunk, error) {
	var final types.StreamChunk
	b, err := json.Marshal(req)
	if err != nil {
		return final, err
	}
	httpReq, err := http.NewRequest(http.MethodPost, c.base+"/sessions/"+id+"/generate", bytes.NewReader(b))
	if err != nil {
		return final, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return final, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return final, decodeAPIError(resp)
	}
	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		var chunk types.StreamChunk
		if err := json.Unmarshal(sc.Bytes(), &chunk); err != nil {
			return final, fmt.Errorf("bad stream line %q: %w", sc.Text(), err)
		}
		switch {
		case chunk.Error != "":
			return final, fmt.Errorf("stream error: %s", chunk.Error)
		case chunk.Done:
			final = chunk
		default:
			fmt.Fprint(os.Stdout, chunk.Token)
		}
	}
	fmt.Fprintln(os.Stdout)
	return final, sc.Err()
}

func decodeAPIError(resp *http.Response) error {
	var apiErr types.ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil && apiErr.Error != "" {
		return fmt.Errorf("%s (HTTP %d)", apiErr.Error, resp.StatusCode)
	}
	return fmt.Errorf("HTTP %d", resp.StatusCode)
}

func printJSON(v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(b))
	return nil
}
