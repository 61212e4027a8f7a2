package roadmap

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestNewPublisher(t *testing.T) {
	publisher := NewPublisher(nil, "")
	if publisher == nil {
		t.Fatal("NewPublisher() returned nil")
	}

	if publisher.Prefix() != "roadmesh" {
		t.Errorf("Default prefix = %s, want roadmesh", publisher.Prefix())
	}

	if publisher.qos != 0 {
		t.Errorf("Default QoS = %d, want 0", publisher.qos)
	}

	if !publisher.retain {
		t.Error("Default retain should be true")
	}

	if p := NewPublisher(nil, "maps"); p.Prefix() != "maps" {
		t.Errorf("Prefix = %s, want maps", p.Prefix())
	}
}

func TestPublisher_SetQoS(t *testing.T) {
	publisher := NewPublisher(nil, "")

	publisher.SetQoS(1)
	if publisher.qos != 1 {
		t.Errorf("QoS = %d, want 1", publisher.qos)
	}

	publisher.SetQoS(2)
	if publisher.qos != 2 {
		t.Errorf("QoS = %d, want 2", publisher.qos)
	}

	// Invalid QoS is ignored
	publisher.SetQoS(3)
	if publisher.qos != 2 {
		t.Errorf("QoS = %d after invalid value, want 2", publisher.qos)
	}
}

func TestPublisher_SetRetain(t *testing.T) {
	publisher := NewPublisher(nil, "")
	publisher.SetRetain(false)
	if publisher.retain {
		t.Error("retain should be false")
	}
}

func TestPublisher_NotConnected(t *testing.T) {
	if err := NewPublisher(nil, "").PublishRender("s1", RenderSummary{}); err == nil {
		t.Error("PublishRender() with nil client should fail")
	}

	client := NewMockClient()
	err := NewPublisher(client, "").PublishSelection("s1", nil)
	if err == nil || !strings.Contains(err.Error(), "not connected") {
		t.Errorf("PublishSelection() error = %v, want not connected", err)
	}
	if n := len(client.GetPublishedMessages()); n != 0 {
		t.Errorf("published %d messages while disconnected", n)
	}
}

func TestPublisher_PublishSelection(t *testing.T) {
	client := NewMockClient()
	client.SetConnected(true)
	publisher := NewPublisher(client, "maps")
	publisher.SetQoS(1)

	sel := &Selection{Kind: SelectSegment, Detail: Detail{Title: "Av. Uno"}}
	if err := publisher.PublishSelection("abc", sel); err != nil {
		t.Fatalf("PublishSelection() error = %v", err)
	}
	if err := publisher.PublishSelection("abc", nil); err != nil {
		t.Fatalf("PublishSelection(nil) error = %v", err)
	}

	msgs := client.GetPublishedMessages()
	if len(msgs) != 2 {
		t.Fatalf("published %d messages, want 2", len(msgs))
	}
	if msgs[0].Topic != "maps/abc/selection" {
		t.Errorf("Topic = %s, want maps/abc/selection", msgs[0].Topic)
	}
	if msgs[0].QoS != 1 || !msgs[0].Retain {
		t.Errorf("QoS/Retain = %d/%v, want 1/true", msgs[0].QoS, msgs[0].Retain)
	}

	var opened map[string]any
	if err := json.Unmarshal(msgs[0].Payload, &opened); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	if opened["sessionId"] != "abc" || opened["open"] != true {
		t.Errorf("payload = %v", opened)
	}
	selection, ok := opened["selection"].(map[string]any)
	if !ok || selection["kind"] != "segment" {
		t.Errorf("selection = %v, want kind segment", opened["selection"])
	}
	if _, ok := opened["timestamp"].(float64); !ok {
		t.Error("payload has no timestamp")
	}

	var closed map[string]any
	if err := json.Unmarshal(msgs[1].Payload, &closed); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	if closed["open"] != false {
		t.Errorf("open = %v, want false", closed["open"])
	}
	if _, ok := closed["selection"]; ok {
		t.Error("closed selection should be omitted")
	}
}

func TestPublisher_PublishRender(t *testing.T) {
	client := NewMockClient()
	client.SetConnected(true)
	publisher := NewPublisher(client, "")

	summary := RenderSummary{Mode: ModeHoles, HoleView: HoleViewCircles, Zoom: 12, Drawn: 5, Clusters: 2, Labels: 2}
	if err := publisher.PublishRender("abc", summary); err != nil {
		t.Fatalf("PublishRender() error = %v", err)
	}

	msgs := client.MessagesWithSuffix("/render")
	if len(msgs) != 1 {
		t.Fatalf("render messages = %d, want 1", len(msgs))
	}
	if msgs[0].Topic != "roadmesh/abc/render" {
		t.Errorf("Topic = %s", msgs[0].Topic)
	}

	var got struct {
		SessionID string `json:"sessionId"`
		RenderSummary
	}
	if err := json.Unmarshal(msgs[0].Payload, &got); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	if got.SessionID != "abc" || got.RenderSummary != summary {
		t.Errorf("payload = %+v, want %+v", got, summary)
	}
}

func TestPublisher_PublishError(t *testing.T) {
	client := NewMockClient()
	client.SetConnected(true)
	client.SetPublishError(errors.New("broker full"))

	err := NewPublisher(client, "").PublishRender("abc", RenderSummary{})
	if err == nil || !strings.Contains(err.Error(), "broker full") {
		t.Errorf("PublishRender() error = %v, want broker full", err)
	}
}

func TestPublisher_ClearSession(t *testing.T) {
	client := NewMockClient()
	client.SetConnected(true)
	publisher := NewPublisher(client, "maps")
	publisher.SetRetain(false)

	if err := publisher.ClearSession("abc"); err != nil {
		t.Fatalf("ClearSession() error = %v", err)
	}

	msgs := client.GetPublishedMessages()
	if len(msgs) != 2 {
		t.Fatalf("published %d messages, want 2", len(msgs))
	}
	for i, want := range []string{"maps/abc/selection", "maps/abc/render"} {
		if msgs[i].Topic != want {
			t.Errorf("Topic = %s, want %s", msgs[i].Topic, want)
		}
		if !msgs[i].Retain || len(msgs[i].Payload) != 0 {
			t.Errorf("%s: retain=%v payload=%q, want an empty retained message", want, msgs[i].Retain, msgs[i].Payload)
		}
	}

	if err := NewPublisher(NewMockClient(), "").ClearSession("abc"); err == nil {
		t.Error("ClearSession() while disconnected should fail")
	}
}
