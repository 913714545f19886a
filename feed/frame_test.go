package feed_test

import (
	"testing"
	"time"

	"github.com/opdacuont2563-hash/surgibot/feed"
)

func TestFrameRoundtrip(t *testing.T) {
	f, err := feed.NewFrame(feed.FrameUpdate, "room-3", feed.UpdateData{
		Action: "edit",
		Row:    map[string]any{"or": "3", "status": "in-surgery"},
	})
	if err != nil {
		t.Fatalf("NewFrame: %v", err)
	}
	f.Seq = 42

	wire, err := f.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := feed.DecodeFrame(wire)
	if err != nil {
		t.Fatalf("DecodeFrame: %v", err)
	}

	if got.Type != feed.FrameUpdate {
		t.Errorf("type = %q, want %q", got.Type, feed.FrameUpdate)
	}
	if got.Seq != 42 {
		t.Errorf("seq = %d, want 42", got.Seq)
	}
	if got.Subject != "room-3" {
		t.Errorf("subject = %q, want room-3", got.Subject)
	}
	if got.Timestamp.IsZero() {
		t.Error("timestamp not carried")
	}

	var update feed.UpdateData
	if err := got.DecodeData(&update); err != nil {
		t.Fatalf("DecodeData: %v", err)
	}
	if update.Action != "edit" {
		t.Errorf("action = %q, want edit", update.Action)
	}
	if update.Row["status"] != "in-surgery" {
		t.Errorf("row status = %v, want in-surgery", update.Row["status"])
	}
}

func TestAnnounceFrameCarriesLines(t *testing.T) {
	f, err := feed.NewFrame(feed.FrameAnnounce, "room-5", feed.AnnounceData{
		Subject: "room-5",
		Lines:   []string{"สถานะของผู้ป่วย", "The status of patient"},
	})
	if err != nil {
		t.Fatalf("NewFrame: %v", err)
	}

	wire, err := f.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := feed.DecodeFrame(wire)
	if err != nil {
		t.Fatalf("DecodeFrame: %v", err)
	}

	var ann feed.AnnounceData
	if err := got.DecodeData(&ann); err != nil {
		t.Fatalf("DecodeData: %v", err)
	}
	if len(ann.Lines) != 2 || ann.Lines[0] != "สถานะของผู้ป่วย" {
		t.Fatalf("lines = %v", ann.Lines)
	}
}

func TestHelloFrameWithoutSubject(t *testing.T) {
	f, err := feed.NewFrame(feed.FrameHello, "", feed.HelloData{
		Server: "surgibot",
		Time:   time.Date(2026, 2, 11, 9, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("NewFrame: %v", err)
	}

	wire, err := f.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := feed.DecodeFrame(wire)
	if err != nil {
		t.Fatalf("DecodeFrame: %v", err)
	}

	var hello feed.HelloData
	if err := got.DecodeData(&hello); err != nil {
		t.Fatalf("DecodeData: %v", err)
	}
	if hello.Server != "surgibot" {
		t.Errorf("server = %q, want surgibot", hello.Server)
	}
}

func TestDecodeFrameRejectsGarbage(t *testing.T) {
	if _, err := feed.DecodeFrame([]byte{0xc1, 0x00, 0xff}); err == nil {
		t.Fatal("expected error for garbage bytes")
	}
}

func TestDecodeDataRequiresPayload(t *testing.T) {
	f, err := feed.NewFrame(feed.FramePing, "", nil)
	if err != nil {
		t.Fatalf("NewFrame: %v", err)
	}
	var hello feed.HelloData
	if err := f.DecodeData(&hello); err == nil {
		t.Fatal("expected error for empty payload")
	}
}
