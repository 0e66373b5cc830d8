package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/juanpasaflipz/agentic-devops/pkg/types"
)

// Metrics evaluates threshold queries against a Prometheus HTTP API.
type Metrics struct {
	URL     string
	Queries map[string]string
	Client  *http.Client
}

type promResponse struct {
	Status string `json:"status"`
	Data   struct {
		Result []struct {
			Value []any `json:"value"`
		} `json:"result"`
	} `json:"data"`
}

// Check reports ok=false with the breaching threshold names when any query
// value exceeds its threshold. Thresholds without a query, and queries that
// fail, are skipped.
func (m *Metrics) Check(ctx context.Context, params types.Fields) (types.Fields, error) {
	if m.URL == "" || len(m.Queries) == 0 {
		return types.Fields{"ok": true}, nil
	}
	service := params.Str("service")
	window := params.Str("window_min")
	thresholds := params.Map("thresholds")

	keys := make([]string, 0, len(thresholds))
	for k := range thresholds {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	breaching := []string{}
	for _, key := range keys {
		limit, ok := thresholds.Float(key)
		if !ok {
			continue
		}
		tmpl, ok := m.Queries[key]
		if !ok {
			continue
		}
		query := strings.NewReplacer("{{service}}", service, "{{window_min}}", window).Replace(tmpl)
		value, ok, err := m.query(ctx, query)
		if err != nil {
			log.Debug().Err(err).Str("metric", key).Msg("metrics query skipped")
			continue
		}
		if ok && value > limit {
			breaching = append(breaching, key)
		}
	}
	if len(breaching) > 0 {
		return types.Fields{"ok": false, "breaching": breaching}, nil
	}
	return types.Fields{"ok": true}, nil
}

func (m *Metrics) query(ctx context.Context, query string) (float64, bool, error) {
	endpoint := strings.TrimRight(m.URL, "/") + "/api/v1/query?query=" + url.QueryEscape(query)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, false, err
	}
	resp, err := m.Client.Do(req)
	if err != nil {
		return 0, false, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, false, fmt.Errorf("prometheus: status %d", resp.StatusCode)
	}

	var body promResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, false, err
	}
	if body.Status != "success" || len(body.Data.Result) == 0 || len(body.Data.Result[0].Value) != 2 {
		return 0, false, nil
	}
	raw, ok := body.Data.Result[0].Value[1].(string)
	if !ok {
		return 0, false, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false, nil
	}
	return v, true, nil
}
