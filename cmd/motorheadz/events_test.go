package main

import (
	"strings"
	"testing"
)

func TestUnmarshalEvent(t *testing.T) {
	cases := []struct {
		in   string
		want Event
	}{
		{`{"type":"key_down","data":{"key":"tap"}}`, KeyDown{Key: "tap"}},
		{`{"type":"key_up","data":{"key":"aux"}}`, KeyUp{Key: "aux"}},
		{`{"type":"sensor_sample","data":{"value":200}}`, SensorSample{Value: 200}},
		{`{"type":"get_state"}`, GetState{}},
	}
	for _, c := range cases {
		got, err := UnmarshalEvent([]byte(c.in))
		if err != nil {
			t.Fatalf("UnmarshalEvent(%s) = %v", c.in, err)
		}
		if got != c.want {
			t.Fatalf("UnmarshalEvent(%s) = %#v, want %#v", c.in, got, c.want)
		}
	}
}

func TestUnmarshalEventErrors(t *testing.T) {
	for _, in := range []string{
		`not json`,
		`{"type":"fire"}`,
		`{"type":"sensor_sample","data":{"value":300}}`,
		`{"type":"key_down","data":"tap"}`,
	} {
		if _, err := UnmarshalEvent([]byte(in)); err == nil {
			t.Fatalf("UnmarshalEvent(%s) = nil error", in)
		}
	}
}

func TestMarshalEventEnvelope(t *testing.T) {
	data, err := MarshalEvent(KeyDown{Key: "tap"})
	if err != nil {
		t.Fatal(err)
	}
	if got := string(data); got != `{"type":"key_down","data":{"key":"tap"}}` {
		t.Fatalf("MarshalEvent() = %s", got)
	}

	data, err = MarshalEvent(GetState{})
	if err != nil {
		t.Fatal(err)
	}
	if got := string(data); got != `{"type":"get_state"}` {
		t.Fatalf("MarshalEvent(GetState) = %s", got)
	}

	// Snapshot requests carry a channel and never leave the process.
	if _, err := MarshalEvent(RequestStateSnapshot{}); err == nil || !strings.Contains(err.Error(), "unsupported") {
		t.Fatalf("MarshalEvent(RequestStateSnapshot) = %v, want unsupported", err)
	}
}
