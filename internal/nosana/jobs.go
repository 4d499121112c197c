package nosana

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
)

// BenchmarkOperationID tags the opStates entry that carries LLM benchmark output.
const BenchmarkOperationID = "llm-benchmark"

// Job is one entry of the jobs-by-node list.
type Job struct {
	ID               Text            `json:"id"`
	Address          Text            `json:"address"`
	Market           Text            `json:"market"`
	State            Text            `json:"state"`
	TimeStart        Number          `json:"timeStart"`
	TimeEnd          Number          `json:"timeEnd"`
	UsdRewardPerHour Number          `json:"usdRewardPerHour"`
	JobResult        json.RawMessage `json:"jobResult"`
}

// JobID returns the job's identifier. The dashboard exposes the job account
// as "address"; "id" is used when present.
func (j Job) JobID() string {
	if p := j.ID.Ptr(); p != nil {
		return *p
	}
	if p := j.Address.Ptr(); p != nil {
		return *p
	}
	return ""
}

// StartUnix returns the start time in unix seconds, 0 when unknown.
func (j Job) StartUnix() int64 { return unixSeconds(j.TimeStart) }

// EndUnix returns the end time in unix seconds; 0 means still running.
func (j Job) EndUnix() int64 { return unixSeconds(j.TimeEnd) }

// Benchmark is the LLM benchmark reading found in a job result.
type Benchmark struct {
	TokensPerSecond float64
	ModelID         string
}

var (
	tokensKeys = []string{
		"tokens_per_second", "tokensPerSecond", "average_tokens_per_second",
		"avg_tokens_per_second", "mean_tokens_per_second", "tps",
	}
	modelKeys = []string{"model_id", "modelId", "model"}
)

// Benchmark searches jobResult.opStates for the llm-benchmark entry and
// returns its mean tokens/second. jobResult may be an object or a JSON
// string holding one. Returns false when no usable reading exists.
func (j Job) Benchmark() (Benchmark, bool) {
	result := unwrapJSONString(j.JobResult)
	if len(result) == 0 {
		return Benchmark{}, false
	}

	var envelope struct {
		OpStates []json.RawMessage `json:"opStates"`
	}
	if err := json.Unmarshal(result, &envelope); err != nil {
		return Benchmark{}, false
	}

	for _, raw := range envelope.OpStates {
		var op map[string]any
		if err := json.Unmarshal(raw, &op); err != nil {
			continue
		}
		if id, _ := op["operationId"].(string); id != BenchmarkOperationID {
			continue
		}

		tps, ok := findTokensPerSecond(op, 0)
		if !ok {
			continue
		}
		b := Benchmark{TokensPerSecond: tps}
		b.ModelID, _ = findString(op, modelKeys, 0)
		return b, true
	}
	return Benchmark{}, false
}

const maxSearchDepth = 6

// findTokensPerSecond walks v looking for a tokens/second key. Arrays of
// runs are averaged, including arrays of objects each holding the key.
func findTokensPerSecond(v any, depth int) (float64, bool) {
	if depth > maxSearchDepth {
		return 0, false
	}
	switch t := v.(type) {
	case map[string]any:
		for _, key := range tokensKeys {
			if raw, ok := t[key]; ok {
				if f, ok := meanOf(raw); ok {
					return f, true
				}
			}
		}
		for _, child := range t {
			if f, ok := findTokensPerSecond(child, depth+1); ok {
				return f, true
			}
		}
	case []any:
		var sum float64
		var n int
		for _, child := range t {
			if f, ok := findTokensPerSecond(child, depth+1); ok {
				sum += f
				n++
			}
		}
		if n > 0 {
			return sum / float64(n), true
		}
	case string:
		// results are sometimes logged as JSON text
		s := strings.TrimSpace(t)
		if strings.HasPrefix(s, "{") || strings.HasPrefix(s, "[") {
			var nested any
			if json.Unmarshal([]byte(s), &nested) == nil {
				return findTokensPerSecond(nested, depth+1)
			}
		}
	}
	return 0, false
}

func meanOf(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case string:
		var n Number
		_ = n.UnmarshalJSON([]byte(t))
		return n.Float()
	case []any:
		var sum float64
		var count int
		for _, item := range t {
			if f, ok := meanOf(item); ok {
				sum += f
				count++
			}
		}
		if count > 0 {
			return sum / float64(count), true
		}
	}
	return 0, false
}

func findString(v any, keys []string, depth int) (string, bool) {
	if depth > maxSearchDepth {
		return "", false
	}
	switch t := v.(type) {
	case map[string]any:
		for _, key := range keys {
			if s, ok := t[key].(string); ok && strings.TrimSpace(s) != "" {
				return s, true
			}
		}
		for _, child := range t {
			if s, ok := findString(child, keys, depth+1); ok {
				return s, true
			}
		}
	case []any:
		for _, child := range t {
			if s, ok := findString(child, keys, depth+1); ok {
				return s, true
			}
		}
	}
	return "", false
}

func unwrapJSONString(raw json.RawMessage) []byte {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}
	if trimmed[0] != '"' {
		return trimmed
	}
	var s string
	if err := json.Unmarshal(trimmed, &s); err != nil {
		return nil
	}
	return bytes.TrimSpace([]byte(s))
}

// JobsURL returns the jobs-by-node endpoint for address.
func (c *Client) JobsURL(address string) string {
	q := url.Values{}
	q.Set("limit", fmt.Sprint(c.jobsLimit))
	q.Set("offset", "0")
	q.Set("node", address)
	return c.dashboardURL + "/api/jobs?" + q.Encode()
}

// FetchJobs reads the most recent jobs run by the node. Entries that are not
// objects or carry no identifier are skipped.
func (c *Client) FetchJobs(ctx context.Context, address string) ([]Job, error) {
	if address == "" {
		return nil, &FetchError{Source: "jobs", Kind: KindUnreachable, Err: errEmptyAddress}
	}

	var jobs []Job
	err := c.get(ctx, "jobs", c.JobsURL(address), true, func(body []byte) error {
		items, err := decodeList(body, "jobs", "data")
		if err != nil {
			return err
		}
		jobs = make([]Job, 0, len(items))
		for _, item := range items {
			var j Job
			if err := decodeObject(item, &j); err != nil {
				continue
			}
			if j.JobID() == "" {
				continue
			}
			jobs = append(jobs, j)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return jobs, nil
}
