package frame

import (
	"bytes"
	"testing"

	"github.com/danmuck/stompctl/internal/testutil/testlog"
	stompframe "github.com/go-stomp/stomp/v3/frame"
)

// The go-stomp codec is an independent implementation of the same wire
// format; frames must cross between the two unchanged.

func TestEncodedFramesReadByGoStomp(t *testing.T) {
	testlog.Start(t)
	frames := []Frame{
		New(CmdConnect, HdrAcceptVersion, "1.0,1.1,1.2", HdrHost, "pi-hoot", HdrHeartBeat, "0,0"),
		New(CmdSubscribe, HdrID, "sub-0", HdrDestination, "/topic/hoot", HdrAck, "auto"),
		{
			Command: CmdSend,
			Headers: Headers{{HdrDestination, "/queue/answers"}, {HdrContentLength, "7"}, {"x-note", "a:b\nc"}},
			Body:    []byte("bl\x00ue!!"),
		},
		New(CmdDisconnect, HdrReceipt, "disconnect-1"),
	}

	var wire bytes.Buffer
	for _, f := range frames {
		if err := WriteFrame(&wire, f, DefaultLimits()); err != nil {
			t.Fatalf("write %s: %v", f.Command, err)
		}
	}

	r := stompframe.NewReader(&wire)
	for _, want := range frames {
		got, err := r.Read()
		if err != nil {
			t.Fatalf("go-stomp read %s: %v", want.Command, err)
		}
		if got.Command != string(want.Command) {
			t.Fatalf("command: got=%s want=%s", got.Command, want.Command)
		}
		for _, kv := range want.Headers {
			if v := got.Header.Get(kv.Key); v != kv.Value {
				t.Fatalf("%s header %s: got=%q want=%q", want.Command, kv.Key, v, kv.Value)
			}
		}
		if !bytes.Equal(got.Body, want.Body) {
			t.Fatalf("%s body: got=%q want=%q", want.Command, got.Body, want.Body)
		}
	}
}

func TestGoStompFramesDecoded(t *testing.T) {
	testlog.Start(t)
	msg := stompframe.New(stompframe.MESSAGE,
		"destination", "/topic/hoot",
		"message-id", "m-1",
		"subscription", "sub-0",
		"x-note", "line\nbreak:colon",
		"content-length", "8",
	)
	msg.Body = []byte("question")
	receipt := stompframe.New(stompframe.RECEIPT, "receipt-id", "send-1")
	broken := stompframe.New(stompframe.ERROR, "message", "queue full")

	var wire bytes.Buffer
	w := stompframe.NewWriter(&wire)
	for _, f := range []*stompframe.Frame{msg, receipt, broken} {
		if err := w.Write(f); err != nil {
			t.Fatalf("go-stomp write %s: %v", f.Command, err)
		}
	}
	// A heart-beat between frames.
	wire.WriteString("\n")

	dec := NewDecoder(&wire, DefaultLimits())
	got, err := dec.Next()
	if err != nil {
		t.Fatalf("decode message: %v", err)
	}
	if got.Command != CmdMessage || string(got.Body) != "question" {
		t.Fatalf("unexpected message %s %q", got.Command, got.Body)
	}
	want := map[string]string{
		HdrDestination:   "/topic/hoot",
		HdrMessageID:     "m-1",
		HdrSubscription:  "sub-0",
		"x-note":         "line\nbreak:colon",
		HdrContentLength: "8",
	}
	for k, v := range want {
		if got.Headers.Get(k) != v {
			t.Fatalf("header %s: got=%q want=%q", k, got.Headers.Get(k), v)
		}
	}
	if got, err = dec.Next(); err != nil || got.Command != CmdReceipt || got.Headers.Get(HdrReceiptID) != "send-1" {
		t.Fatalf("unexpected receipt %v err=%v", got, err)
	}
	if got, err = dec.Next(); err != nil || got.Command != CmdError || got.Headers.Get(HdrMessage) != "queue full" {
		t.Fatalf("unexpected error frame %v err=%v", got, err)
	}
}
