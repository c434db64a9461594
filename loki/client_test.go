package loki_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"slices"
	"testing"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gt"

	"github.com/m-mizutani/remedy"
	"github.com/m-mizutani/remedy/loki"
)

func lokiServer(t *testing.T, handler func(w http.ResponseWriter, r *http.Request)) *loki.Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(handler))
	t.Cleanup(srv.Close)

	client, err := loki.New(srv.URL)
	gt.NoError(t, err)
	return client
}

func TestQueryLogs(t *testing.T) {
	var gotQuery, gotDirection, gotLimit string
	client := lokiServer(t, func(w http.ResponseWriter, r *http.Request) {
		gt.Equal(t, r.URL.Path, "/loki/api/v1/query_range")
		gotQuery = r.URL.Query().Get("query")
		gotDirection = r.URL.Query().Get("direction")
		gotLimit = r.URL.Query().Get("limit")

		fmt.Fprintf(w, `{
			"status": "success",
			"data": {
				"resultType": "streams",
				"result": [{
					"stream": {"namespace": "default", "pod": "web-1"},
					"values": [
						["1700000002000000000", "second line"],
						["1700000001000000000", "first line"]
					]
				}]
			}
		}`)
	})

	entries, err := client.QueryLogs(context.Background(),
		loki.Selector{Namespace: "default", Pod: "web-1"}, time.Hour, 100)
	gt.NoError(t, err)

	gt.Equal(t, gotQuery, `{namespace="default", pod="web-1"}`)
	gt.Equal(t, gotDirection, "backward")
	gt.Equal(t, gotLimit, "100")

	// Entries come back oldest first regardless of response order.
	gt.A(t, entries).Length(2)
	gt.Equal(t, entries[0].Line, "first line")
	gt.Equal(t, entries[1].Line, "second line")
	gt.Equal(t, entries[0].Labels["pod"], "web-1")
}

func TestQueryLogsFilters(t *testing.T) {
	cases := map[string]struct {
		sel  loki.Selector
		want string
	}{
		"substring filter": {
			sel:  loki.Selector{Namespace: "default", Filter: "timeout"},
			want: `{namespace="default"} |= "timeout"`,
		},
		"raw logql filter": {
			sel:  loki.Selector{Namespace: "default", Filter: `|~ "5\\d\\d"`},
			want: `{namespace="default"} |~ "5\\d\\d"`,
		},
		"namespace only": {
			sel:  loki.Selector{Namespace: "payments"},
			want: `{namespace="payments"}`,
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			var got string
			client := lokiServer(t, func(w http.ResponseWriter, r *http.Request) {
				got = r.URL.Query().Get("query")
				fmt.Fprint(w, `{"status":"success","data":{"resultType":"streams","result":[]}}`)
			})

			_, err := client.QueryLogs(context.Background(), tc.sel, time.Hour, 10)
			gt.NoError(t, err)
			gt.Equal(t, got, tc.want)
		})
	}
}

func TestSearchErrorsQuery(t *testing.T) {
	var got string
	client := lokiServer(t, func(w http.ResponseWriter, r *http.Request) {
		got = r.URL.Query().Get("query")
		fmt.Fprint(w, `{"status":"success","data":{"resultType":"streams","result":[]}}`)
	})

	_, err := client.SearchErrors(context.Background(), "default", "web-1", time.Hour, 10)
	gt.NoError(t, err)
	gt.S(t, got).Contains(`|~ "(?i)(error|exception|fatal|panic)"`)
	gt.S(t, got).Contains(`namespace="default"`)
	gt.S(t, got).Contains(`pod="web-1"`)
}

func TestQueryStatusClassification(t *testing.T) {
	cases := map[string]struct {
		status int
		tag    fmt.Stringer
	}{
		"forbidden":    {status: http.StatusForbidden, tag: remedy.TagPermissionDenied},
		"unauthorized": {status: http.StatusUnauthorized, tag: remedy.TagPermissionDenied},
		"not found":    {status: http.StatusNotFound, tag: remedy.TagNotFound},
		"rate limited": {status: http.StatusTooManyRequests, tag: remedy.TagTransient},
		"server error": {status: http.StatusBadGateway, tag: remedy.TagTransient},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			client := lokiServer(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
			})

			_, err := client.QueryLogs(context.Background(),
				loki.Selector{Namespace: "default"}, time.Hour, 10)
			gt.Error(t, err)
			gt.True(t, slices.Contains(goerr.Tags(err), tc.tag.String()))
		})
	}
}

func TestQueryFailedStatus(t *testing.T) {
	client := lokiServer(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status":"error","data":{}}`)
	})

	_, err := client.QueryLogs(context.Background(),
		loki.Selector{Namespace: "default"}, time.Hour, 10)
	gt.Error(t, err)
}

func TestNewRequiresURL(t *testing.T) {
	_, err := loki.New("")
	gt.Error(t, err)
}

func TestRender(t *testing.T) {
	ts := time.Date(2026, 8, 29, 10, 30, 0, 0, time.UTC)
	out := loki.Render([]loki.Entry{
		{Timestamp: ts, Labels: map[string]string{"pod": "web-1"}, Line: "connection refused"},
		{Timestamp: ts.Add(time.Second), Line: "retrying"},
	})

	gt.S(t, out).Contains("2026-08-29T10:30:00Z [web-1] connection refused")
	gt.S(t, out).Contains("retrying")

	gt.Equal(t, loki.Render(nil), "No log entries found.")
}
