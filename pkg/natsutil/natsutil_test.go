package natsutil

import (
	"sort"
	"testing"

	"github.com/nats-io/nats.go"
)

func TestHeaderCarrierRoundTrip(t *testing.T) {
	msg := &nats.Msg{Subject: "kai.rag.search"}
	c := (*natsHeaderCarrier)(msg)

	if got := c.Get("traceparent"); got != "" {
		t.Errorf("empty carrier returned %q", got)
	}
	if keys := c.Keys(); keys != nil {
		t.Errorf("empty carrier keys = %v", keys)
	}

	c.Set("traceparent", "00-abc-def-01")
	c.Set("tracestate", "vendor=1")

	if got := c.Get("traceparent"); got != "00-abc-def-01" {
		t.Errorf("Get = %q", got)
	}

	keys := c.Keys()
	sort.Strings(keys)
	if len(keys) != 2 || keys[0] != "Traceparent" && keys[0] != "traceparent" {
		t.Errorf("keys = %v", keys)
	}

	// The underlying message must carry the injected headers.
	if msg.Header.Get("traceparent") != "00-abc-def-01" {
		t.Error("header not visible on the message")
	}
}

func TestHeaderCarrierOverwrite(t *testing.T) {
	msg := &nats.Msg{}
	c := (*natsHeaderCarrier)(msg)
	c.Set("traceparent", "first")
	c.Set("traceparent", "second")
	if got := c.Get("traceparent"); got != "second" {
		t.Errorf("Get after overwrite = %q", got)
	}
}
