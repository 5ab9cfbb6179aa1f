package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestUpdate(t *testing.T) {
	type label struct {
		topic   string
		channel string
	}

	tests := []struct {
		name         string
		payload      string
		status       int
		wantErr      bool
		wantTopic    float64
		wantDepth    map[label]float64
		wantInflight map[label]float64
	}{
		{
			name: "rfc822 topic",
			payload: `{"topics": [
				{"topic_name": "rfc822", "depth": 7, "channels": [
					{"channel_name": "archive", "depth": 10, "in_flight_count": 4},
					{"channel_name": "audit", "depth": 3, "in_flight_count": 1}
				]},
				{"topic_name": "other", "depth": 99, "channels": [
					{"channel_name": "archive", "depth": 50, "in_flight_count": 50}
				]}
			]}`,
			wantTopic: 7,
			wantDepth: map[label]float64{
				{topic: "rfc822", channel: "archive"}: 10,
				{topic: "rfc822", channel: "audit"}:   3,
			},
			wantInflight: map[label]float64{
				{topic: "rfc822", channel: "archive"}: 4,
				{topic: "rfc822", channel: "audit"}:   1,
			},
		},
		{
			name:    "topic not created yet",
			payload: `{"topics": []}`,
		},
		{
			name:    "bad json",
			payload: `{"topics": [`,
			wantErr: true,
		},
		{
			name:    "nsqd error",
			status:  http.StatusInternalServerError,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/stats" || r.URL.Query().Get("format") != "json" {
					http.NotFound(w, r)
					return
				}
				if tt.status != 0 {
					w.WriteHeader(tt.status)
					return
				}
				_, _ = w.Write([]byte(tt.payload))
			}))
			defer srv.Close()

			reg := prometheus.NewRegistry()
			g := newGauges(reg)
			err := g.update(context.Background(), srv.Client(), strings.TrimPrefix(srv.URL, "http://"), "rfc822")
			if (err != nil) != tt.wantErr {
				t.Fatalf("update() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}

			if got := testutil.ToFloat64(g.topicDepth.WithLabelValues("rfc822")); got != tt.wantTopic {
				t.Errorf("topic depth = %v, want %v", got, tt.wantTopic)
			}
			for l, want := range tt.wantDepth {
				if got := testutil.ToFloat64(g.channelDepth.WithLabelValues(l.topic, l.channel)); got != want {
					t.Errorf("channel depth %v = %v, want %v", l, got, want)
				}
			}
			for l, want := range tt.wantInflight {
				if got := testutil.ToFloat64(g.channelInflight.WithLabelValues(l.topic, l.channel)); got != want {
					t.Errorf("channel inflight %v = %v, want %v", l, got, want)
				}
			}
			if n := testutil.CollectAndCount(g.channelDepth); n != len(tt.wantDepth) {
				t.Errorf("%d channel depth series, want %d", n, len(tt.wantDepth))
			}
		})
	}
}

func TestMux(t *testing.T) {
	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("OK"))
	}))
	defer up.Close()

	reg := prometheus.NewRegistry()
	g := newGauges(reg)
	g.topicDepth.WithLabelValues("rfc822").Set(2)

	tests := []struct {
		name     string
		nsqd     string
		path     string
		wantCode int
		wantBody string
	}{
		{name: "metrics", nsqd: strings.TrimPrefix(up.URL, "http://"), path: "/metrics", wantCode: http.StatusOK, wantBody: `grpc_deliver_nsq_topic_depth{topic="rfc822"} 2`},
		{name: "healthy", nsqd: strings.TrimPrefix(up.URL, "http://"), path: "/healthz", wantCode: http.StatusOK},
		{name: "nsqd down", nsqd: "127.0.0.1:1", path: "/healthz", wantCode: http.StatusServiceUnavailable, wantBody: "nsqd ping failed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mux := newMux(reg, up.Client(), tt.nsqd)
			rr := httptest.NewRecorder()
			mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, tt.path, nil))
			if rr.Code != tt.wantCode {
				t.Errorf("%s = %d, want %d", tt.path, rr.Code, tt.wantCode)
			}
			if !strings.Contains(rr.Body.String(), tt.wantBody) {
				t.Errorf("%s body missing %q:\n%s", tt.path, tt.wantBody, rr.Body.String())
			}
		})
	}
}
