package alerting

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	xerrors "OpenACE-Chain/internal/errors"
)

type recordingNotifier struct {
	channel Channel
	events  []Event
	err     error
}

func (r *recordingNotifier) Channel() Channel { return r.channel }

func (r *recordingNotifier) Notify(_ context.Context, event Event) error {
	r.events = append(r.events, event)
	return r.err
}

func TestFanoutDispatcherJoinsErrors(t *testing.T) {
	ok := &recordingNotifier{channel: ChannelLog}
	failing := &recordingNotifier{channel: ChannelSlack, err: errors.New("boom")}
	dispatcher := NewFanout(ok, failing, nil)

	err := dispatcher.Notify(context.Background(), Event{Code: xerrors.CodeStorageFailure})
	if err == nil {
		t.Fatalf("expected aggregated error")
	}
	if len(ok.events) != 1 || len(failing.events) != 1 {
		t.Fatalf("every notifier should receive the event")
	}
	if got := dispatcher.Channels(); len(got) != 2 || got[0] != ChannelLog {
		t.Fatalf("unexpected channels %v", got)
	}

	var nilDispatcher *FanoutDispatcher
	if err := nilDispatcher.Notify(context.Background(), Event{}); err != nil {
		t.Fatalf("nil dispatcher must be a no-op: %v", err)
	}
}

func TestFromErrorCarriesMetadata(t *testing.T) {
	err := xerrors.New(xerrors.CodeStorageFailure, "commit failed", xerrors.WithMetadata("tx", "0x1"))
	event := FromError(err, "0xregistry", "0xproof")
	if event.Code != xerrors.CodeStorageFailure || event.Metadata["tx"] != "0x1" {
		t.Fatalf("unexpected event %+v", event)
	}
	if event.Registry != "0xregistry" || event.ProofHash != "0xproof" {
		t.Fatalf("unexpected identifiers %+v", event)
	}
}

func TestWebhookNotifierPostsJSON(t *testing.T) {
	var received Event
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&received)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	notifier := NewWebhookNotifier(srv.URL, time.Second)
	event := Event{Code: xerrors.CodeLedgerFailure, Message: "transfer reverted", Severity: xerrors.SeverityCritical}
	if err := notifier.Notify(context.Background(), event); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if received.Code != xerrors.CodeLedgerFailure || received.Message != "transfer reverted" {
		t.Fatalf("unexpected payload %+v", received)
	}
}

func TestWebhookNotifierReportsStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()
	if err := NewWebhookNotifier(srv.URL, 0).Notify(context.Background(), Event{}); err == nil {
		t.Fatalf("expected error for 502")
	}
}

func TestSlackNotifierUsesWebhookSender(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("decode: %v", err)
		}
	}))
	defer srv.Close()

	notifier := &SlackNotifier{Sender: &SlackWebhookSender{URL: srv.URL, Client: srv.Client()}, ChannelID: "#ace-alerts"}
	event := Event{Code: xerrors.CodeLedgerFailure, Severity: xerrors.SeverityCritical, Message: "payout failed", Registry: "0xabc", ProofHash: "0x01"}
	if err := notifier.Notify(context.Background(), event); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if got["channel"] != "#ace-alerts" {
		t.Fatalf("unexpected channel %q", got["channel"])
	}
	if want := "*[critical]* LEDGER_FAILURE - payout failed (注册表 0xabc, 证明 0x01)"; got["text"] != want {
		t.Fatalf("unexpected text %q", got["text"])
	}
}
