package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/spf13/cobra"
)

func httpClient() *http.Client { return &http.Client{Timeout: 30 * time.Second} }

func doJSON(baseURL BaseURLFunc, token TokenFunc, method, path string, body any, out any) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, baseURL()+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if t := token(); t != "" {
		req.Header.Set("Authorization", "Bearer "+t)
	}
	resp, err := httpClient().Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s %s: %s: %s", method, path, resp.Status, bytes.TrimSpace(msg))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func newPublishCommand(baseURL BaseURLFunc, token TokenFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Publish one event to a stream",
		RunE: func(cmd *cobra.Command, _ []string) error {
			stream, _ := cmd.Flags().GetString("stream")
			seq, _ := cmd.Flags().GetUint64("seq")
			kind, _ := cmd.Flags().GetString("kind")
			payload, _ := cmd.Flags().GetString("payload")

			if seq == 0 {
				// Next sequence after the current head.
				var w struct {
					HeadSeq uint64 `json:"head_seq"`
				}
				if err := doJSON(baseURL, token, http.MethodGet, "/v1/streams/"+url.PathEscape(stream)+"/window", nil, &w); err != nil {
					return err
				}
				seq = w.HeadSeq + 1
			}
			body := map[string]any{
				"stream_id": stream,
				"seq":       seq,
				"kind":      kind,
				"payload":   json.RawMessage(payload),
			}
			var out map[string]any
			if err := doJSON(baseURL, token, http.MethodPost, "/v1/publish", body, &out); err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			return enc.Encode(out)
		},
	}
	cmd.Flags().String("stream", "", "stream id")
	cmd.Flags().Uint64("seq", 0, "sequence number (0 = head+1)")
	cmd.Flags().String("kind", "event", "event kind")
	cmd.Flags().String("payload", "{}", "JSON payload")
	_ = cmd.MarkFlagRequired("stream")
	return cmd
}

func newWindowCommand(baseURL BaseURLFunc, token TokenFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "window",
		Short: "Show a stream's retention window",
		RunE: func(cmd *cobra.Command, _ []string) error {
			stream, _ := cmd.Flags().GetString("stream")
			var out map[string]any
			if err := doJSON(baseURL, token, http.MethodGet, "/v1/streams/"+url.PathEscape(stream)+"/window", nil, &out); err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}
	cmd.Flags().String("stream", "", "stream id")
	_ = cmd.MarkFlagRequired("stream")
	return cmd
}

func newEventsCommand(baseURL BaseURLFunc, token TokenFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Read retained events from a stream",
		RunE: func(cmd *cobra.Command, _ []string) error {
			stream, _ := cmd.Flags().GetString("stream")
			after, _ := cmd.Flags().GetUint64("after-seq")
			limit, _ := cmd.Flags().GetInt("limit")
			path := "/v1/events?stream_id=" + url.QueryEscape(stream) +
				"&after_seq=" + strconv.FormatUint(after, 10) +
				"&limit=" + strconv.Itoa(limit)
			var out map[string]any
			if err := doJSON(baseURL, token, http.MethodGet, path, nil, &out); err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}
	cmd.Flags().String("stream", "", "stream id")
	cmd.Flags().Uint64("after-seq", 0, "deliver events after this sequence")
	cmd.Flags().Int("limit", 100, "maximum events to return")
	_ = cmd.MarkFlagRequired("stream")
	return cmd
}
